// Package app connects the configured backends. The commands share it so
// that every process opens storage the same way.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	amqp "github.com/rabbitmq/amqp091-go"
	redisclient "github.com/redis/go-redis/v9"
	"github.com/robertarktes/seat-reservations/internal/adapters/crdb"
	"github.com/robertarktes/seat-reservations/internal/adapters/memory"
	mongoadapter "github.com/robertarktes/seat-reservations/internal/adapters/mongo"
	"github.com/robertarktes/seat-reservations/internal/config"
	"github.com/robertarktes/seat-reservations/internal/domain"
	"github.com/robertarktes/seat-reservations/internal/observability"
	"github.com/robertarktes/seat-reservations/internal/outbox"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// Backends holds the open connections. Optional ones are nil when not
// configured.
type Backends struct {
	Store     domain.Store
	Outbox    outbox.Source
	Schedules domain.ScheduleDirectory
	Catalog   *mongoadapter.ScheduleCatalog
	Mongo     *mongo.Database
	Redis     *redisclient.Client
	Rabbit    *amqp.Connection

	pings   map[string]func(ctx context.Context) error
	closers []func()
}

func (b *Backends) Pings() map[string]func(ctx context.Context) error {
	return b.pings
}

func (b *Backends) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

// Open connects to storage and, when configured, to MongoDB, Redis and
// RabbitMQ.
func Open(ctx context.Context, cfg *config.Config, logger observability.Logger) (*Backends, error) {
	b := &Backends{pings: map[string]func(ctx context.Context) error{}}
	if err := b.open(ctx, cfg, logger); err != nil {
		b.Close()
		return nil, err
	}
	return b, nil
}

func (b *Backends) open(ctx context.Context, cfg *config.Config, logger observability.Logger) error {
	switch cfg.Storage {
	case config.StorageCRDB:
		pool, err := pgxpool.New(ctx, cfg.CRDBDSN)
		if err != nil {
			return errors.Wrap(err, "connect to crdb")
		}
		b.closers = append(b.closers, pool.Close)
		repo := crdb.NewRepository(pool)
		if err := repo.Migrate(ctx); err != nil {
			return errors.Wrap(err, "migrate")
		}
		b.Store, b.Outbox = repo, repo
		b.pings["crdb"] = repo.Ping
	default:
		store := memory.NewStore()
		b.Store, b.Outbox = store, store
		b.Schedules = seedMemory(store, time.Now())
		logger.Warn("using in-memory storage with demo data")
	}

	if cfg.MongoURI != "" {
		client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			return errors.Wrap(err, "connect to mongo")
		}
		b.closers = append(b.closers, func() { _ = client.Disconnect(context.Background()) })
		b.Mongo = client.Database(cfg.MongoDB)
		b.Catalog = mongoadapter.NewScheduleCatalog(b.Mongo, logger)
		if b.Schedules == nil {
			b.Schedules = b.Catalog
		}
		b.pings["mongo"] = func(ctx context.Context) error { return client.Ping(ctx, nil) }
	}
	if b.Schedules == nil {
		return errors.New("MONGO_URI is required for the schedule catalog when STORAGE=crdb")
	}

	if cfg.RedisAddr != "" {
		client := redisclient.NewClient(&redisclient.Options{Addr: cfg.RedisAddr})
		b.closers = append(b.closers, func() { _ = client.Close() })
		b.Redis = client
		b.pings["redis"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }
	}

	if cfg.RabbitURL != "" {
		conn, err := amqp.Dial(cfg.RabbitURL)
		if err != nil {
			return errors.Wrap(err, "connect to rabbitmq")
		}
		b.closers = append(b.closers, func() { _ = conn.Close() })
		b.Rabbit = conn
	}
	return nil
}

var demoScheduleID = uuid.MustParse("00000000-0000-4000-8000-000000000001")

// seedMemory provisions one open schedule three days out with a small
// hall of seats so a memory-backed instance is usable right away.
func seedMemory(store *memory.Store, now time.Time) *memory.Schedules {
	sched := domain.Schedule{
		ID:          demoScheduleID,
		TotalSeats:  40,
		BookingOpen: true,
		StartsAt:    now.Add(72 * time.Hour).Truncate(time.Hour),
	}
	var seats []domain.Seat
	for row := 0; row < 4; row++ {
		grade, price := "R", int64(90000)
		if row == 0 {
			grade, price = "VIP", 150000
		}
		for n := 1; n <= 10; n++ {
			seats = append(seats, domain.Seat{
				ID:         uuid.New(),
				ScheduleID: sched.ID,
				Number:     fmt.Sprintf("%c%d", 'A'+row, n),
				Grade:      grade,
				Price:      price,
			})
		}
	}
	store.AddSeats(seats...)
	return memory.NewSchedules(sched)
}
