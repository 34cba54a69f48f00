// Package idempotency replays the first response of a POST for the same
// owner and Idempotency-Key. A key is bound to the request that first used
// it; sending it with another route or body is rejected.
package idempotency

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/cockroachdb/errors"
	redisadapter "github.com/robertarktes/seat-reservations/internal/adapters/redis"
	"github.com/robertarktes/seat-reservations/internal/domain"
)

const (
	MinKeyLen = 16
	MaxKeyLen = 128
)

// Records is the backing store, implemented by the redis adapter.
type Records interface {
	Get(ctx context.Context, key string) (*redisadapter.IdempResponse, error)
	Claim(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Set(ctx context.Context, key string, resp redisadapter.IdempResponse, ttl time.Duration) error
	Release(ctx context.Context, key string) error
}

type Idempotency struct {
	records Records
	ttl     time.Duration
}

func NewIdempotency(records Records, ttl time.Duration) *Idempotency {
	return &Idempotency{records: records, ttl: ttl}
}

var ErrKeyReused = errors.New("idempotency key reused for a different request")

type Response struct {
	Status      int
	ContentType string
	Result      []byte
}

// Fingerprint identifies a request by method, route and body.
func Fingerprint(method, route string, body []byte) string {
	h := sha256.New()
	h.Write([]byte(method))
	h.Write([]byte{0})
	h.Write([]byte(route))
	h.Write([]byte{0})
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

func ValidateKey(key string) error {
	if len(key) < MinKeyLen || len(key) > MaxKeyLen {
		return domain.Invalid("Idempotency-Key must be %d to %d characters", MinKeyLen, MaxKeyLen)
	}
	return nil
}

func scoped(owner, key string) string {
	return owner + ":" + key
}

func replay(stored *redisadapter.IdempResponse, fingerprint string) (*Response, error) {
	if stored.Fingerprint != fingerprint {
		return nil, ErrKeyReused
	}
	return &Response{Status: stored.Status, ContentType: stored.ContentType, Result: stored.Result}, nil
}

// Begin looks up a stored response for the request with the given
// fingerprint. When there is none it claims the key and returns
// claimed=true; the caller must then Finish or Abort. claimed=false with a
// nil response means a request with the same key is still being processed.
// A stored response for a different fingerprint yields ErrKeyReused.
func (i *Idempotency) Begin(ctx context.Context, owner, key, fingerprint string) (resp *Response, claimed bool, err error) {
	stored, err := i.records.Get(ctx, scoped(owner, key))
	if err != nil {
		return nil, false, err
	}
	if stored != nil {
		resp, err := replay(stored, fingerprint)
		return resp, false, err
	}
	claimed, err = i.records.Claim(ctx, scoped(owner, key), i.ttl)
	if err != nil {
		return nil, false, err
	}
	if !claimed {
		// Completed between Get and Claim.
		stored, err = i.records.Get(ctx, scoped(owner, key))
		if err != nil || stored == nil {
			return nil, false, err
		}
		resp, err := replay(stored, fingerprint)
		return resp, false, err
	}
	return nil, true, nil
}

func (i *Idempotency) Finish(ctx context.Context, owner, key, fingerprint string, resp Response) error {
	return i.records.Set(ctx, scoped(owner, key), redisadapter.IdempResponse{
		Status:      resp.Status,
		ContentType: resp.ContentType,
		Result:      resp.Result,
		Fingerprint: fingerprint,
	}, i.ttl)
}

func (i *Idempotency) Abort(ctx context.Context, owner, key string) error {
	return i.records.Release(ctx, scoped(owner, key))
}
