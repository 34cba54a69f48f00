package idempotency

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	redisadapter "github.com/robertarktes/seat-reservations/internal/adapters/redis"
	"github.com/robertarktes/seat-reservations/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memRecords struct {
	mu      sync.Mutex
	pending map[string]bool
	done    map[string]redisadapter.IdempResponse
}

func newMemRecords() *memRecords {
	return &memRecords{pending: map[string]bool{}, done: map[string]redisadapter.IdempResponse{}}
}

func (m *memRecords) Get(_ context.Context, key string) (*redisadapter.IdempResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.done[key]; ok {
		return &r, nil
	}
	return nil, nil
}

func (m *memRecords) Claim(_ context.Context, key string, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.done[key]; ok || m.pending[key] {
		return false, nil
	}
	m.pending[key] = true
	return true, nil
}

func (m *memRecords) Set(_ context.Context, key string, resp redisadapter.IdempResponse, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pending, key)
	m.done[key] = resp
	return nil
}

func (m *memRecords) Release(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pending, key)
	return nil
}

func TestValidateKey(t *testing.T) {
	require.NoError(t, ValidateKey(strings.Repeat("k", 16)))
	require.NoError(t, ValidateKey(strings.Repeat("k", 128)))
	require.ErrorIs(t, ValidateKey("short"), domain.ErrValidation)
	require.ErrorIs(t, ValidateKey(strings.Repeat("k", 129)), domain.ErrValidation)
}

func TestIdempotency_Replay(t *testing.T) {
	idem := NewIdempotency(newMemRecords(), time.Hour)
	ctx := t.Context()
	key := "0123456789abcdef"
	fp := Fingerprint("POST", "/v1/holds", []byte(`{"seatIds":["a"]}`))

	resp, claimed, err := idem.Begin(ctx, "alice", key, fp)
	require.NoError(t, err)
	assert.True(t, claimed)
	assert.Nil(t, resp)

	// Concurrent duplicate while the first is in flight.
	resp, claimed, err = idem.Begin(ctx, "alice", key, fp)
	require.NoError(t, err)
	assert.False(t, claimed)
	assert.Nil(t, resp)

	// The same key from another owner is independent.
	_, claimed, err = idem.Begin(ctx, "bob", key, fp)
	require.NoError(t, err)
	assert.True(t, claimed)

	require.NoError(t, idem.Finish(ctx, "alice", key, fp, Response{Status: 201, Result: []byte("{}")}))
	resp, claimed, err = idem.Begin(ctx, "alice", key, fp)
	require.NoError(t, err)
	assert.False(t, claimed)
	require.NotNil(t, resp)
	assert.Equal(t, 201, resp.Status)
}

func TestIdempotency_Abort(t *testing.T) {
	idem := NewIdempotency(newMemRecords(), time.Hour)
	ctx := t.Context()
	key := "0123456789abcdef"
	fp := Fingerprint("POST", "/v1/holds", []byte(`{"seatIds":["a"]}`))

	_, claimed, err := idem.Begin(ctx, "alice", key, fp)
	require.NoError(t, err)
	require.True(t, claimed)
	require.NoError(t, idem.Abort(ctx, "alice", key))

	_, claimed, err = idem.Begin(ctx, "alice", key, fp)
	require.NoError(t, err)
	assert.True(t, claimed)
}

func TestIdempotency_KeyBoundToRequest(t *testing.T) {
	idem := NewIdempotency(newMemRecords(), time.Hour)
	ctx := t.Context()
	key := "0123456789abcdef"
	hold := Fingerprint("POST", "/v1/holds", []byte(`{"seatIds":["a"]}`))

	_, claimed, err := idem.Begin(ctx, "alice", key, hold)
	require.NoError(t, err)
	require.True(t, claimed)
	require.NoError(t, idem.Finish(ctx, "alice", key, hold, Response{Status: 201, Result: []byte(`{"holdId":"h"}`)}))

	for name, fp := range map[string]string{
		"other route": Fingerprint("POST", "/v1/bookings", []byte(`{"seatIds":["a"]}`)),
		"other body":  Fingerprint("POST", "/v1/holds", []byte(`{"seatIds":["b"]}`)),
	} {
		resp, claimed, err := idem.Begin(ctx, "alice", key, fp)
		require.ErrorIs(t, err, ErrKeyReused, name)
		assert.False(t, claimed, name)
		assert.Nil(t, resp, name)
	}

	resp, _, err := idem.Begin(ctx, "alice", key, hold)
	require.NoError(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, 201, resp.Status)
}

func TestFingerprint(t *testing.T) {
	a := Fingerprint("POST", "/v1/holds", []byte("{}"))
	assert.Equal(t, a, Fingerprint("POST", "/v1/holds", []byte("{}")))
	assert.NotEqual(t, a, Fingerprint("POST", "/v1/bookings", []byte("{}")))
	assert.NotEqual(t, a, Fingerprint("POST", "/v1/holds", []byte("{ }")))
	assert.Len(t, a, 64)
}
