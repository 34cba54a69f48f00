package reservation

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/robertarktes/seat-reservations/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func book(t *testing.T, f *fixture, owner string, idx ...int) *domain.Booking {
	t.Helper()
	h, err := f.holds.CreateHold(t.Context(), owner, f.seatIDs(idx...))
	require.NoError(t, err)
	b, err := f.finalizer.CreateBooking(t.Context(), owner, h.ID, domain.Contact{})
	require.NoError(t, err)
	return b
}

func TestCancellationEngine_Cutoff(t *testing.T) {
	tests := []struct {
		name      string
		untilShow time.Duration
		want      error
	}{
		{"25h before start", 25 * time.Hour, nil},
		{"23h before start", 23 * time.Hour, domain.ErrNotCancellable},
		{"exactly 24h before start", 24 * time.Hour, domain.ErrNotCancellable},
		{"after start", -time.Hour, domain.ErrNotCancellable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, 1)
			b := book(t, f, "alice", 0)

			f.clock.Advance(f.schedule.StartsAt.Sub(f.clock.Now()) - tt.untilShow)
			_, err := f.cancel.CancelBooking(t.Context(), b.ID, "alice", "CHANGE_OF_PLANS", "")
			if tt.want != nil {
				require.ErrorIs(t, err, tt.want)
				f.requireStatus(t, domain.SeatBooked, b.SeatIDs()...)
				return
			}
			require.NoError(t, err)
			f.requireStatus(t, domain.SeatAvailable, b.SeatIDs()...)
		})
	}
}

func TestCancellationEngine_FullLifecycle(t *testing.T) {
	f := newFixture(t, 3)
	ctx := t.Context()

	b := book(t, f, "alice", 0, 1)
	cancelled, err := f.cancel.CancelBooking(ctx, b.ID, "alice", "SCHEDULE_CONFLICT", "moved abroad")
	require.NoError(t, err)
	assert.Equal(t, domain.BookingCancelled, cancelled.Status)
	require.NotNil(t, cancelled.CancelledAt)
	assert.Equal(t, "SCHEDULE_CONFLICT", cancelled.CancellationReason)

	stored, err := f.store.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingCancelled, stored.Status)
	assert.Equal(t, "moved abroad", stored.CancellationDetail)

	for _, id := range b.SeatIDs() {
		s := f.seat(t, id)
		assert.Equal(t, domain.SeatAvailable, s.Status)
		assert.Nil(t, s.BookingID)
	}

	// The released seats are sold again to someone else.
	again := book(t, f, "bob", 0, 1)
	assert.NotEqual(t, b.ID, again.ID)

	_, err = f.cancel.CancelBooking(ctx, b.ID, "alice", "", "")
	require.ErrorIs(t, err, domain.ErrAlreadyCancelled)
	f.requireStatus(t, domain.SeatBooked, again.SeatIDs()...)

	events, err := f.store.FetchUnpublishedOutbox(ctx, 0)
	require.NoError(t, err)
	var types []string
	for _, e := range events {
		types = append(types, e.EventType)
	}
	assert.Equal(t, []string{
		domain.EventHoldCreated, domain.EventBookingConfirmed, domain.EventBookingCancelled,
		domain.EventHoldCreated, domain.EventBookingConfirmed,
	}, types)
	f.checkInvariants(t)
}

func TestCancellationEngine_Errors(t *testing.T) {
	f := newFixture(t, 1)
	ctx := t.Context()
	b := book(t, f, "alice", 0)

	_, err := f.cancel.CancelBooking(ctx, b.ID, "bob", "", "")
	require.ErrorIs(t, err, domain.ErrForbidden)

	_, err = f.cancel.CancelBooking(ctx, uuid.New(), "alice", "", "")
	require.ErrorIs(t, err, domain.ErrBookingNotFound)

	_, err = f.cancel.CancelBooking(ctx, b.ID, "alice", strings.Repeat("x", 65), "")
	require.ErrorIs(t, err, domain.ErrValidation)

	_, err = f.cancel.CancelBooking(ctx, b.ID, "alice", "", strings.Repeat("x", 501))
	require.ErrorIs(t, err, domain.ErrValidation)

	f.requireStatus(t, domain.SeatBooked, b.SeatIDs()...)
}

func TestCancellationEngine_ConcurrentCancelOnce(t *testing.T) {
	f := newFixture(t, 2)
	b := book(t, f, "alice", 0, 1)

	results := make(chan error, 6)
	for i := 0; i < cap(results); i++ {
		go func() {
			_, err := f.cancel.CancelBooking(t.Context(), b.ID, "alice", "", "")
			results <- err
		}()
	}
	var ok int
	for i := 0; i < cap(results); i++ {
		if err := <-results; err == nil {
			ok++
		} else {
			require.ErrorIs(t, err, domain.ErrAlreadyCancelled)
		}
	}
	assert.Equal(t, 1, ok)
	f.checkInvariants(t)
}

func TestCancellationEngine_InconsistentSeats(t *testing.T) {
	f := newFixture(t, 2)
	ctx := t.Context()
	b := book(t, f, "alice", 0, 1)

	// Someone freed one seat behind the booking's back.
	s := f.seat(t, f.seats[1].ID)
	_, err := f.holds.inv.TryTransition(ctx, domain.SeatTransition{
		SeatID: s.ID, From: domain.SeatBooked, ExpectedVersion: s.Version, To: domain.SeatAvailable,
	})
	require.NoError(t, err)

	_, err = f.cancel.CancelBooking(ctx, b.ID, "alice", "", "")
	require.ErrorIs(t, err, domain.ErrStorage)

	stored, err := f.store.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.BookingConfirmed, stored.Status)
	f.requireStatus(t, domain.SeatBooked, f.seats[0].ID)
}
