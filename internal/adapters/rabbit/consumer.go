package rabbit

import (
	"context"

	"github.com/cockroachdb/errors"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/robertarktes/seat-reservations/internal/observability"
)

type Handler func(ctx context.Context, d amqp.Delivery) error

type Consumer struct {
	ch     *amqp.Channel
	queue  string
	logger observability.Logger
}

// NewConsumer declares a durable queue bound to the events exchange with
// bindingKey ("#" for everything).
func NewConsumer(conn *amqp.Connection, queue, bindingKey string, logger observability.Logger) (*Consumer, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, errors.Wrap(err, "open channel")
	}
	if err := ch.ExchangeDeclare(Exchange, "topic", true, false, false, false, nil); err != nil {
		return nil, errors.Wrap(err, "declare exchange")
	}
	_, err = ch.QueueDeclare(queue, true, false, false, false, nil)
	if err != nil {
		return nil, errors.Wrap(err, "declare queue")
	}
	if err := ch.QueueBind(queue, bindingKey, Exchange, false, nil); err != nil {
		return nil, errors.Wrap(err, "bind queue")
	}
	if err := ch.Qos(32, 0, false); err != nil {
		return nil, errors.Wrap(err, "set qos")
	}
	return &Consumer{ch: ch, queue: queue, logger: logger}, nil
}

// Consume hands deliveries to h until ctx is done. A delivery is acked when
// h succeeds. A failed first delivery is requeued once, a failed redelivery
// is dropped.
func (c *Consumer) Consume(ctx context.Context, h Handler) error {
	deliveries, err := c.ch.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return errors.Wrap(err, "consume")
	}
	for {
		select {
		case <-ctx.Done():
			return c.ch.Close()
		case d, ok := <-deliveries:
			if !ok {
				return errors.New("delivery channel closed")
			}
			if err := h(ctx, d); err != nil {
				c.logger.WithError(err).WithField("message_id", d.MessageId).Warn("handler failed")
				_ = d.Nack(false, !d.Redelivered)
				continue
			}
			_ = d.Ack(false)
		}
	}
}
