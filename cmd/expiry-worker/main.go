package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/robertarktes/seat-reservations/internal/app"
	"github.com/robertarktes/seat-reservations/internal/config"
	"github.com/robertarktes/seat-reservations/internal/observability"
	"github.com/robertarktes/seat-reservations/internal/reservation"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if cfg.Storage == config.StorageMemory {
		log.Fatal("expiry-worker needs shared storage; the api runs the reaper itself with STORAGE=memory")
	}

	shutdownOtel, err := observability.SetupOTel(context.Background(), cfg, "seatres-expiry-worker")
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

	reaper := reservation.NewExpiryReaper(backends.Store, logger, cfg.ReaperBatch)
	logger.WithField("interval", cfg.ReaperInterval.String()).Info("expiry worker started")
	if err := reaper.Run(ctx, cfg.ReaperInterval); err != nil {
		logger.WithError(err).Error("expiry worker stopped")
	}
	logger.Info("Shutdown expiry worker")
}
