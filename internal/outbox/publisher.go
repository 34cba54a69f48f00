package outbox

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/robertarktes/seat-reservations/internal/domain"
	"github.com/robertarktes/seat-reservations/internal/observability"
)

// Source is the outbox table. Both stores implement it.
type Source interface {
	FetchUnpublishedOutbox(ctx context.Context, limit int) ([]domain.OutboxRecord, error)
	MarkOutboxPublished(ctx context.Context, id uuid.UUID, publishedAt time.Time) error
}

type EventPublisher interface {
	Publish(ctx context.Context, key string, msg amqp.Publishing) error
}

// Publisher relays committed outbox rows to the broker. Delivery is at
// least once; consumers dedupe on the message id.
type Publisher struct {
	repo      Source
	rabbitPub EventPublisher
	logger    observability.Logger
	batch     int
	now       func() time.Time
}

func NewPublisher(repo Source, rabbitPub EventPublisher, logger observability.Logger, batch int) *Publisher {
	if batch <= 0 {
		batch = 50
	}
	return &Publisher{repo: repo, rabbitPub: rabbitPub, logger: logger, batch: batch, now: time.Now}
}

func (p *Publisher) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := p.Flush(ctx); err != nil && ctx.Err() == nil {
				p.logger.WithError(err).Error("outbox flush failed")
			}
		}
	}
}

// Flush publishes one batch and returns how many rows were published. It
// stops at the first publish failure so rows go out in order.
func (p *Publisher) Flush(ctx context.Context) (int, error) {
	records, err := p.repo.FetchUnpublishedOutbox(ctx, p.batch)
	if err != nil {
		return 0, errors.Wrap(err, "fetch outbox")
	}
	if len(records) == 0 {
		observability.OutboxLag.Set(0)
		return 0, nil
	}
	observability.OutboxLag.Set(p.now().Sub(records[0].CreatedAt).Seconds())

	published := 0
	for _, rec := range records {
		msg := amqp.Publishing{
			MessageId:   rec.DedupeKey,
			ContentType: "application/json",
			Type:        rec.EventType,
			Timestamp:   rec.CreatedAt,
			Body:        rec.Payload,
		}
		if err := p.rabbitPub.Publish(ctx, rec.EventType, msg); err != nil {
			observability.RabbitPublishFailures.Inc()
			return published, errors.Wrapf(err, "publish %s", rec.DedupeKey)
		}
		if err := p.repo.MarkOutboxPublished(ctx, rec.ID, p.now()); err != nil {
			return published, errors.Wrapf(err, "mark %s published", rec.ID)
		}
		published++
	}
	p.logger.WithField("published", published).Debug("outbox flushed")
	return published, nil
}
