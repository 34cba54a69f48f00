package redis

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Cache keeps rendered seat listings for a short TTL. Entries may be stale;
// writers delete the key after a mutation and the TTL bounds everything
// else (expiry runs out of process).
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

func (c *Cache) Client() *redis.Client {
	return c.client
}

func seatsKey(scheduleID uuid.UUID) string {
	return "seats:" + scheduleID.String()
}

// GetSeats returns the cached listing, or ok=false on a miss.
func (c *Cache) GetSeats(ctx context.Context, scheduleID uuid.UUID) (data []byte, ok bool, err error) {
	data, err = c.client.Get(ctx, seatsKey(scheduleID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrap(err, "redis get seats")
	}
	return data, true, nil
}

func (c *Cache) SetSeats(ctx context.Context, scheduleID uuid.UUID, data []byte) error {
	return errors.Wrap(c.client.Set(ctx, seatsKey(scheduleID), data, c.ttl).Err(), "redis set seats")
}

func (c *Cache) InvalidateSeats(ctx context.Context, scheduleID uuid.UUID) error {
	return errors.Wrap(c.client.Del(ctx, seatsKey(scheduleID)).Err(), "redis del seats")
}
