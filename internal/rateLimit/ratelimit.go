package rateLimit

import (
	"context"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	redisadapter "github.com/robertarktes/seat-reservations/internal/adapters/redis"
)

// RateLimiter is a fixed-window counter per key. The window index is part of
// the key so each window expires on its own.
type RateLimiter struct {
	redis *redisadapter.Cache
	now   func() time.Time
}

func NewRateLimiter(redis *redisadapter.Cache) *RateLimiter {
	return &RateLimiter{redis: redis, now: time.Now}
}

func (rl *RateLimiter) Allow(ctx context.Context, key string, rate int, period time.Duration) (bool, error) {
	window := rl.now().UnixNano() / int64(period)
	fullKey := "rl:" + key + ":" + strconv.FormatInt(window, 10)

	pipe := rl.redis.Client().Pipeline()
	incr := pipe.Incr(ctx, fullKey)
	pipe.Expire(ctx, fullKey, period)

	_, err := pipe.Exec(ctx)
	if err != nil {
		return false, errors.Wrap(err, "rate limit pipeline")
	}

	return incr.Val() <= int64(rate), nil
}
