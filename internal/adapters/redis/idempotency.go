package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/redis/go-redis/v9"
)

const pendingMarker = "pending"

type Idempotency struct {
	client *redis.Client
}

func NewIdempotency(client *redis.Client) *Idempotency {
	return &Idempotency{client: client}
}

type IdempResponse struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type,omitempty"`
	Result      []byte `json:"result"`
	Fingerprint string `json:"fingerprint"`
}

// Get returns the stored response for key. A nil response with a nil error
// means nothing is stored or the first request is still in flight.
func (i *Idempotency) Get(ctx context.Context, key string) (*IdempResponse, error) {
	val, err := i.client.Get(ctx, "idemp:"+key).Bytes()
	if errors.Is(err, redis.Nil) || string(val) == pendingMarker {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "redis get idempotency")
	}
	var resp IdempResponse
	if err := json.Unmarshal(val, &resp); err != nil {
		return nil, errors.Wrap(err, "decode idempotency record")
	}
	return &resp, nil
}

// Claim marks key as in flight. It reports false when another request
// already holds or completed the key.
func (i *Idempotency) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := i.client.SetNX(ctx, "idemp:"+key, pendingMarker, ttl).Result()
	if err != nil {
		return false, errors.Wrap(err, "redis claim idempotency")
	}
	return ok, nil
}

func (i *Idempotency) Set(ctx context.Context, key string, resp IdempResponse, ttl time.Duration) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	return errors.Wrap(i.client.Set(ctx, "idemp:"+key, data, ttl).Err(), "redis set idempotency")
}

// Release drops an unfinished claim so the request can be retried.
func (i *Idempotency) Release(ctx context.Context, key string) error {
	return errors.Wrap(i.client.Del(ctx, "idemp:"+key).Err(), "redis release idempotency")
}
