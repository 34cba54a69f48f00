package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/robertarktes/seat-reservations/internal/adapters/rabbit"
	"github.com/robertarktes/seat-reservations/internal/app"
	"github.com/robertarktes/seat-reservations/internal/config"
	"github.com/robertarktes/seat-reservations/internal/observability"
	"github.com/robertarktes/seat-reservations/internal/outbox"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if cfg.Storage == config.StorageMemory {
		log.Fatal("outbox-publisher needs shared storage; the api relays its own outbox with STORAGE=memory")
	}

	shutdownOtel, err := observability.SetupOTel(context.Background(), cfg, "seatres-outbox-publisher")
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdownOtel()

	logger := observability.NewLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	backends, err := app.Open(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("failed to open storage: %v", err)
	}
	defer backends.Close()
	if backends.Rabbit == nil {
		log.Fatal("RABBIT_URL is required")
	}

	rabbitPub, err := rabbit.NewPublisher(backends.Rabbit)
	if err != nil {
		log.Fatalf("failed to create publisher: %v", err)
	}
	defer rabbitPub.Close()

	publisher := outbox.NewPublisher(backends.Outbox, rabbitPub, logger, cfg.OutboxBatch)
	logger.Info("Outbox publisher started")
	publisher.Run(ctx, cfg.OutboxInterval)
	logger.Info("Shutdown outbox publisher")
}
