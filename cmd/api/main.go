package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/seat-reservations/internal/adapters/rabbit"
	redisadapter "github.com/robertarktes/seat-reservations/internal/adapters/redis"
	"github.com/robertarktes/seat-reservations/internal/app"
	"github.com/robertarktes/seat-reservations/internal/config"
	httphandler "github.com/robertarktes/seat-reservations/internal/http"
	"github.com/robertarktes/seat-reservations/internal/idempotency"
	"github.com/robertarktes/seat-reservations/internal/inventory"
	"github.com/robertarktes/seat-reservations/internal/observability"
	"github.com/robertarktes/seat-reservations/internal/outbox"
	"github.com/robertarktes/seat-reservations/internal/rateLimit"
	"github.com/robertarktes/seat-reservations/internal/reservation"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	shutdown, err := observability.SetupOTel(context.Background(), cfg, "seatres-api")
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdown()

	logger := observability.NewLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.WithError(err).Error("api stopped")
		log.Fatal(err)
	}
	logger.Info("Server exiting")
}

func run(ctx context.Context, cfg *config.Config, logger observability.Logger) error {
	backends, err := app.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer backends.Close()

	holds := reservation.NewHoldManager(backends.Store, backends.Schedules, logger, cfg.MaxSeatsPerHold)
	reaper := reservation.NewExpiryReaper(backends.Store, logger, cfg.ReaperBatch)

	deps := httphandler.Deps{
		Holds:         holds,
		Bookings:      reservation.NewBookingFinalizer(backends.Store, logger),
		Cancellations: reservation.NewCancellationEngine(backends.Store, backends.Schedules, logger),
		Queries:       reservation.NewBookingReader(backends.Store, backends.Schedules),
		Seats:         inventory.New(backends.Store),
	}
	for name, ping := range backends.Pings() {
		deps.Checks = append(deps.Checks, httphandler.Check{Name: name, Ping: ping})
	}

	var (
		limiter httphandler.Limiter
		guard   httphandler.IdempotencyGuard
	)
	if backends.Redis != nil {
		cache := redisadapter.NewCache(backends.Redis, cfg.SeatCacheTTL)
		deps.Cache = cache
		limiter = rateLimit.NewRateLimiter(cache)
		guard = idempotency.NewIdempotency(redisadapter.NewIdempotency(backends.Redis), cfg.IdempotencyTTL)
	}

	auth, err := httphandler.NewAuthenticator(cfg.JWTPublicKey, cfg.JWTSecret)
	if err != nil {
		return err
	}
	r := httphandler.SetupRouter(httphandler.NewHandlers(deps), logger, auth, limiter,
		httphandler.RateLimits{PerUser: cfg.RateLimitUser, PerIP: cfg.RateLimitIP}, guard)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.WithField("addr", cfg.HTTPAddr).Info("listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "listen")
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		logger.Info("Shutdown Server ...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if cfg.ReaperEmbedded {
		g.Go(func() error {
			return reaper.Run(ctx, cfg.ReaperInterval)
		})
	}
	// A memory store is private to this process, so its outbox is relayed here.
	if cfg.Storage == config.StorageMemory && backends.Rabbit != nil {
		pub, err := rabbit.NewPublisher(backends.Rabbit)
		if err != nil {
			return err
		}
		defer pub.Close()
		relay := outbox.NewPublisher(backends.Outbox, pub, logger, cfg.OutboxBatch)
		g.Go(func() error {
			relay.Run(ctx, cfg.OutboxInterval)
			return nil
		})
	}
	return g.Wait()
}
