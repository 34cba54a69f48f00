// Package reservation holds the concurrency-sensitive operations over
// seats: temporary holds, their expiry, finalization into bookings and
// cancellation. All state lives in a domain.Store; nothing here caches
// seat status.
package reservation

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/seat-reservations/internal/domain"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/robertarktes/seat-reservations/internal/reservation")

type settings struct {
	now          func() time.Time
	retries      uint64
	retryInitial time.Duration
}

type Option func(*settings)

// WithClock replaces time.Now. Tests use it to move across the hold TTL
// and the cancellation cutoff.
func WithClock(now func() time.Time) Option {
	return func(s *settings) { s.now = now }
}

// WithRetries bounds the automatic retries of transient storage failures.
func WithRetries(n uint64, initial time.Duration) Option {
	return func(s *settings) {
		s.retries = n
		s.retryInitial = initial
	}
}

func newSettings(opts []Option) settings {
	s := settings{now: time.Now, retries: 3, retryInitial: 25 * time.Millisecond}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func appendEvent(ctx context.Context, tx domain.Tx, aggregate string, id uuid.UUID, eventType string, payload interface{}, at time.Time) error {
	rec, err := domain.NewOutboxRecord(aggregate, id, eventType, payload, at)
	if err != nil {
		return errors.Wrapf(err, "encode %s", eventType)
	}
	return errors.Wrapf(tx.InsertOutbox(ctx, rec), "outbox %s", eventType)
}

// seatsStillHeld returns the transitions that move the hold's seats back to
// available, skipping seats that no longer reference the hold.
func seatsStillHeld(h *domain.Hold, seats []domain.Seat) []domain.SeatTransition {
	var ts []domain.SeatTransition
	for _, s := range seats {
		if s.Status != domain.SeatHeld || s.HoldID == nil || *s.HoldID != h.ID {
			continue
		}
		ts = append(ts, domain.SeatTransition{
			SeatID:          s.ID,
			From:            domain.SeatHeld,
			ExpectedVersion: s.Version,
			To:              domain.SeatAvailable,
		})
	}
	return ts
}
