package config

import (
	"os"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
)

const (
	StorageCRDB   = "crdb"
	StorageMemory = "memory"

	// MaxReaperInterval bounds how long seats of a lapsed hold may stay
	// held before the reaper returns them.
	MaxReaperInterval = time.Second
)

type Config struct {
	HTTPAddr     string
	Storage      string
	CRDBDSN      string
	MongoURI     string
	MongoDB      string
	RedisAddr    string
	RabbitURL    string
	JWTPublicKey string
	JWTSecret    string
	OTLPEndpoint string
	LogLevel     string

	MaxSeatsPerHold int
	ReaperInterval  time.Duration
	ReaperBatch     int
	ReaperEmbedded  bool
	OutboxInterval  time.Duration
	OutboxBatch     int
	SeatCacheTTL    time.Duration
	IdempotencyTTL  time.Duration
	RateLimitUser   int
	RateLimitIP     int
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		HTTPAddr:     envStr("HTTP_ADDR", ":8080"),
		Storage:      envStr("STORAGE", StorageCRDB),
		CRDBDSN:      os.Getenv("CRDB_DSN"),
		MongoURI:     os.Getenv("MONGO_URI"),
		MongoDB:      envStr("MONGO_DB", "seatres"),
		RedisAddr:    os.Getenv("REDIS_ADDR"),
		RabbitURL:    os.Getenv("RABBIT_URL"),
		JWTPublicKey: os.Getenv("JWT_PUBLIC_KEY"),
		JWTSecret:    os.Getenv("JWT_SECRET"),
		OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		LogLevel:     envStr("LOG_LEVEL", "info"),

		MaxSeatsPerHold: envInt("MAX_SEATS_PER_HOLD", 10),
		ReaperInterval:  envDur("REAPER_INTERVAL", MaxReaperInterval),
		ReaperBatch:     envInt("REAPER_BATCH", 100),
		ReaperEmbedded:  envBool("REAPER_EMBEDDED", false),
		OutboxInterval:  envDur("OUTBOX_INTERVAL", 2*time.Second),
		OutboxBatch:     envInt("OUTBOX_BATCH", 50),
		SeatCacheTTL:    envDur("SEAT_CACHE_TTL", 2*time.Second),
		IdempotencyTTL:  envDur("IDEMPOTENCY_TTL", time.Hour),
		RateLimitUser:   envInt("RATE_LIMIT_USER", 120),
		RateLimitIP:     envInt("RATE_LIMIT_IP", 600),
	}

	switch cfg.Storage {
	case StorageMemory:
		cfg.ReaperEmbedded = true
	case StorageCRDB:
		if cfg.CRDBDSN == "" {
			return nil, errors.New("CRDB_DSN is required when STORAGE=crdb")
		}
	default:
		return nil, errors.Newf("unknown STORAGE %q", cfg.Storage)
	}
	if cfg.MaxSeatsPerHold < 1 {
		cfg.MaxSeatsPerHold = 1
	}
	if cfg.ReaperInterval <= 0 || cfg.ReaperInterval > MaxReaperInterval {
		cfg.ReaperInterval = MaxReaperInterval
	}
	return cfg, nil
}

func envStr(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func envInt(k string, d int) int {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil {
		return n
	}
	return d
}

func envDur(k string, d time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	if dur, err := time.ParseDuration(v); err == nil {
		return dur
	}
	return d
}

func envBool(k string, d bool) bool {
	v, err := strconv.ParseBool(os.Getenv(k))
	if err != nil {
		return d
	}
	return v
}
