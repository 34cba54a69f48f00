package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	amqp "github.com/rabbitmq/amqp091-go"
	mongoadapter "github.com/robertarktes/seat-reservations/internal/adapters/mongo"
	"github.com/robertarktes/seat-reservations/internal/adapters/rabbit"
	"github.com/robertarktes/seat-reservations/internal/app"
	"github.com/robertarktes/seat-reservations/internal/config"
	"github.com/robertarktes/seat-reservations/internal/observability"
)

const auditQueue = "seatres.audit"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	shutdownOtel, err := observability.SetupOTel(context.Background(), cfg, "seatres-audit-consumer")
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdownOtel()

	logger := observability.NewLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backends, err := app.Open(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("failed to connect: %v", err)
	}
	defer backends.Close()
	if backends.Mongo == nil || backends.Rabbit == nil {
		log.Fatal("MONGO_URI and RABBIT_URL are required")
	}

	audit := mongoadapter.NewAuditLogger(backends.Mongo, logger)
	consumer, err := rabbit.NewConsumer(backends.Rabbit, auditQueue, "#", logger)
	if err != nil {
		log.Fatalf("failed to create consumer: %v", err)
	}

	logger.WithField("queue", auditQueue).Info("audit consumer started")
	err = consumer.Consume(ctx, func(ctx context.Context, d amqp.Delivery) error {
		return audit.LogEvent(ctx, d.MessageId, d.RoutingKey, d.Timestamp, d.Body)
	})
	if err != nil && ctx.Err() == nil {
		logger.WithError(err).Error("audit consumer stopped")
	}
	logger.Info("Shutdown audit consumer")
}
