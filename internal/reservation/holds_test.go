package reservation

import (
	"math/rand"
	"sync/atomic"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/seat-reservations/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestHoldManager_CreateHold(t *testing.T) {
	f := newFixture(t, 5)
	ctx := t.Context()

	h, err := f.holds.CreateHold(ctx, "alice", f.seatIDs(2, 0))
	require.NoError(t, err)
	assert.Equal(t, domain.HoldActive, h.Status)
	assert.Equal(t, f.schedule.ID, h.ScheduleID)
	assert.Equal(t, f.clock.Now().Add(domain.HoldTTL), h.ExpiresAt)
	assert.ElementsMatch(t, f.seatIDs(0, 2), h.SeatIDs)

	for _, id := range h.SeatIDs {
		s := f.seat(t, id)
		assert.Equal(t, domain.SeatHeld, s.Status)
		require.NotNil(t, s.HoldID)
		assert.Equal(t, h.ID, *s.HoldID)
		assert.Equal(t, int64(2), s.Version)
	}
	f.requireStatus(t, domain.SeatAvailable, f.seatIDs(1, 3, 4)...)

	events, err := f.store.FetchUnpublishedOutbox(ctx, 0)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, domain.EventHoldCreated, events[0].EventType)
	assert.Equal(t, h.ID, events[0].AggregateID)
	f.checkInvariants(t)
}

func TestHoldManager_CreateHoldAllOrNothing(t *testing.T) {
	f := newFixture(t, 3)
	ctx := t.Context()

	_, err := f.holds.CreateHold(ctx, "alice", f.seatIDs(1))
	require.NoError(t, err)

	_, err = f.holds.CreateHold(ctx, "bob", f.seatIDs(0, 1, 2))
	require.ErrorIs(t, err, domain.ErrSeatUnavailable)
	f.requireStatus(t, domain.SeatAvailable, f.seatIDs(0, 2)...)
	f.checkInvariants(t)
}

func TestHoldManager_CreateHoldValidation(t *testing.T) {
	f := newFixture(t, 12)
	ctx := t.Context()

	tests := []struct {
		name  string
		owner string
		seats []uuid.UUID
		want  error
	}{
		{"no owner", "", f.seatIDs(0), domain.ErrValidation},
		{"no seats", "alice", nil, domain.ErrValidation},
		{"duplicate seat", "alice", f.seatIDs(0, 0), domain.ErrValidation},
		{"nil seat", "alice", []uuid.UUID{uuid.Nil}, domain.ErrValidation},
		{"unknown seat", "alice", []uuid.UUID{uuid.New()}, domain.ErrValidation},
		{"too many seats", "alice", f.seatIDs(0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10), domain.ErrValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.holds.CreateHold(ctx, tt.owner, tt.seats)
			require.ErrorIs(t, err, tt.want)
		})
	}
	f.requireStatus(t, domain.SeatAvailable, f.seatIDs(0, 1)...)
}

func TestHoldManager_CreateHoldMixedSchedules(t *testing.T) {
	f := newFixture(t, 1)
	other := domain.Schedule{ID: uuid.New(), TotalSeats: 1, BookingOpen: true, StartsAt: f.schedule.StartsAt}
	f.schedules.Put(other)
	foreign := domain.Seat{ID: uuid.New(), ScheduleID: other.ID, Number: "B1", Price: 500}
	f.store.AddSeats(foreign)

	_, err := f.holds.CreateHold(t.Context(), "alice", []uuid.UUID{f.seats[0].ID, foreign.ID})
	require.ErrorIs(t, err, domain.ErrValidation)
}

func TestHoldManager_CreateHoldBookingClosed(t *testing.T) {
	f := newFixture(t, 1)
	closed := f.schedule
	closed.BookingOpen = false
	f.schedules.Put(closed)

	_, err := f.holds.CreateHold(t.Context(), "alice", f.seatIDs(0))
	require.ErrorIs(t, err, domain.ErrBookingClosed)
	f.requireStatus(t, domain.SeatAvailable, f.seatIDs(0)...)
}

func TestHoldManager_OverlappingHoldsOneWinner(t *testing.T) {
	f := newFixture(t, 3)
	ctx := t.Context()

	const contenders = 16
	var wins, unavailable atomic.Int32
	var g errgroup.Group
	for i := 0; i < contenders; i++ {
		// Everyone wants seat 1, half also want seat 0 and the rest seat 2.
		ids := f.seatIDs(1, 0)
		if i%2 == 1 {
			ids = f.seatIDs(2, 1)
		}
		g.Go(func() error {
			_, err := f.holds.CreateHold(ctx, "owner", ids)
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, domain.ErrSeatUnavailable):
				unavailable.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, int32(contenders-1), unavailable.Load())
	f.requireStatus(t, domain.SeatHeld, f.seatIDs(1)...)
	f.checkInvariants(t)
}

func TestHoldManager_RandomConcurrentHolds(t *testing.T) {
	f := newFixture(t, 8)
	ctx := t.Context()
	rng := rand.New(rand.NewSource(42))

	requests := make([][]uuid.UUID, 64)
	for i := range requests {
		perm := rng.Perm(len(f.seats))[:1+rng.Intn(3)]
		requests[i] = f.seatIDs(perm...)
	}

	var g errgroup.Group
	holds := make([]*domain.Hold, len(requests))
	for i, ids := range requests {
		g.Go(func() error {
			h, err := f.holds.CreateHold(ctx, "owner", ids)
			if errors.Is(err, domain.ErrSeatUnavailable) {
				return nil
			}
			holds[i] = h
			return err
		})
	}
	require.NoError(t, g.Wait())

	claimed := map[uuid.UUID]uuid.UUID{}
	for _, h := range holds {
		if h == nil {
			continue
		}
		for _, id := range h.SeatIDs {
			prev, taken := claimed[id]
			require.False(t, taken, "seat %s granted to holds %s and %s", id, prev, h.ID)
			claimed[id] = h.ID
		}
	}
	require.NotEmpty(t, claimed)
	f.checkInvariants(t)
}

func TestHoldManager_ReleaseHold(t *testing.T) {
	f := newFixture(t, 2)
	ctx := t.Context()

	h, err := f.holds.CreateHold(ctx, "alice", f.seatIDs(0, 1))
	require.NoError(t, err)

	_, err = f.holds.ReleaseHold(ctx, "mallory", h.ID)
	require.ErrorIs(t, err, domain.ErrForbidden)
	f.requireStatus(t, domain.SeatHeld, h.SeatIDs...)

	released, err := f.holds.ReleaseHold(ctx, "alice", h.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.HoldReleased, released.Status)
	f.requireStatus(t, domain.SeatAvailable, h.SeatIDs...)

	stored, err := f.store.GetHold(ctx, h.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.HoldReleased, stored.Status)
	require.NotNil(t, stored.ClosedAt)

	_, err = f.holds.ReleaseHold(ctx, "alice", h.ID)
	require.ErrorIs(t, err, domain.ErrHoldNotFound)
	_, err = f.holds.ReleaseHold(ctx, "alice", uuid.New())
	require.ErrorIs(t, err, domain.ErrHoldNotFound)

	// Seats freed by the release can be held again.
	_, err = f.holds.CreateHold(ctx, "bob", f.seatIDs(0))
	require.NoError(t, err)
	f.checkInvariants(t)
}

func TestHoldManager_GetHold(t *testing.T) {
	f := newFixture(t, 1)
	ctx := t.Context()

	h, err := f.holds.CreateHold(ctx, "alice", f.seatIDs(0))
	require.NoError(t, err)

	got, err := f.holds.GetHold(ctx, "alice", h.ID)
	require.NoError(t, err)
	assert.Equal(t, h.ID, got.ID)

	_, err = f.holds.GetHold(ctx, "bob", h.ID)
	require.ErrorIs(t, err, domain.ErrForbidden)
	_, err = f.holds.GetHold(ctx, "alice", uuid.New())
	require.ErrorIs(t, err, domain.ErrHoldNotFound)
}
