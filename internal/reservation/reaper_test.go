package reservation

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/seat-reservations/internal/config"
	"github.com/robertarktes/seat-reservations/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestExpiryReaper_ConvergesAfterTTL(t *testing.T) {
	f := newFixture(t, 2)
	ctx := t.Context()

	h, err := f.holds.CreateHold(ctx, "alice", f.seatIDs(0, 1))
	require.NoError(t, err)

	f.clock.Advance(599 * time.Second)
	n, err := f.reaper.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	f.requireStatus(t, domain.SeatHeld, h.SeatIDs...)

	f.clock.Advance(2 * time.Second)
	n, err = f.reaper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	f.requireStatus(t, domain.SeatAvailable, h.SeatIDs...)

	stored, err := f.store.GetHold(ctx, h.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.HoldExpired, stored.Status)

	// A second pass finds nothing left to do.
	n, err = f.reaper.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
	f.checkInvariants(t)
}

func TestExpiryReaper_ExpiresAtExactDeadline(t *testing.T) {
	f := newFixture(t, 1)
	ctx := t.Context()

	_, err := f.holds.CreateHold(ctx, "alice", f.seatIDs(0))
	require.NoError(t, err)

	f.clock.Advance(domain.HoldTTL)
	n, err := f.reaper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestExpiryReaper_EmitsEvent(t *testing.T) {
	f := newFixture(t, 1)
	ctx := t.Context()

	h, err := f.holds.CreateHold(ctx, "alice", f.seatIDs(0))
	require.NoError(t, err)
	f.clock.Advance(domain.HoldTTL + time.Second)
	_, err = f.reaper.Sweep(ctx)
	require.NoError(t, err)

	events, err := f.store.FetchUnpublishedOutbox(ctx, 0)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, domain.EventHoldExpired, events[1].EventType)
	assert.Equal(t, h.ID, events[1].AggregateID)
}

func TestExpiryReaper_LapsedHoldCannotBeFinalized(t *testing.T) {
	f := newFixture(t, 1)
	ctx := t.Context()

	h, err := f.holds.CreateHold(ctx, "alice", f.seatIDs(0))
	require.NoError(t, err)

	f.clock.Advance(domain.HoldTTL + time.Second)
	// Before any sweep the hold is still active but already lapsed.
	_, err = f.finalizer.CreateBooking(ctx, "alice", h.ID, domain.Contact{})
	require.ErrorIs(t, err, domain.ErrHoldExpired)
	f.requireStatus(t, domain.SeatHeld, h.SeatIDs...)

	_, err = f.reaper.Sweep(ctx)
	require.NoError(t, err)
	_, err = f.finalizer.CreateBooking(ctx, "alice", h.ID, domain.Contact{})
	require.ErrorIs(t, err, domain.ErrHoldExpired)
	f.requireStatus(t, domain.SeatAvailable, h.SeatIDs...)
}

func TestExpiryReaper_ConcurrentReapers(t *testing.T) {
	f := newFixture(t, 6)
	ctx := t.Context()

	for i := 0; i < 3; i++ {
		_, err := f.holds.CreateHold(ctx, "alice", f.seatIDs(2*i, 2*i+1))
		require.NoError(t, err)
	}
	f.clock.Advance(domain.HoldTTL + time.Second)

	counts := make([]int, 4)
	var g errgroup.Group
	for i := range counts {
		r := NewExpiryReaper(f.store, f.reaper.logger, 10, WithClock(f.clock.Now))
		g.Go(func() error {
			n, err := r.Sweep(ctx)
			counts[i] = n
			return err
		})
	}
	require.NoError(t, g.Wait())

	total := 0
	for _, n := range counts {
		total += n
	}
	assert.Equal(t, 3, total, "each hold expired exactly once")
	f.requireStatus(t, domain.SeatAvailable, f.seatIDs(0, 1, 2, 3, 4, 5)...)
	f.checkInvariants(t)
}

func TestExpiryReaper_RacesFinalizer(t *testing.T) {
	for i := 0; i < 20; i++ {
		f := newFixture(t, 2)
		ctx := t.Context()

		h, err := f.holds.CreateHold(ctx, "alice", f.seatIDs(0, 1))
		require.NoError(t, err)
		// Expired for the reaper, still valid for the finalizer.
		reaper := NewExpiryReaper(f.store, f.reaper.logger, 10, WithClock(func() time.Time {
			return f.clock.Now().Add(domain.HoldTTL + time.Second)
		}))

		var (
			g          errgroup.Group
			booking    *domain.Booking
			bookingErr error
			expired    int
		)
		g.Go(func() error {
			booking, bookingErr = f.finalizer.CreateBooking(ctx, "alice", h.ID, domain.Contact{})
			return nil
		})
		g.Go(func() error {
			var err error
			expired, err = reaper.Sweep(ctx)
			return err
		})
		require.NoError(t, g.Wait())

		if bookingErr == nil {
			assert.Zero(t, expired)
			f.requireStatus(t, domain.SeatBooked, booking.SeatIDs()...)
		} else {
			require.True(t, errors.Is(bookingErr, domain.ErrHoldExpired), "unexpected error %v", bookingErr)
			assert.Equal(t, 1, expired)
			f.requireStatus(t, domain.SeatAvailable, h.SeatIDs...)
		}
		f.checkInvariants(t)
	}
}

func TestExpiryReaper_RunStopsOnCancel(t *testing.T) {
	f := newFixture(t, 1)
	ctx, cancel := context.WithCancel(t.Context())

	_, err := f.holds.CreateHold(ctx, "alice", f.seatIDs(0))
	require.NoError(t, err)
	f.clock.Advance(domain.HoldTTL + time.Second)

	done := make(chan error, 1)
	go func() { done <- f.reaper.Run(ctx, 5*time.Millisecond) }()

	require.Eventually(t, func() bool {
		seats, err := f.store.GetSeats(ctx, f.seatIDs(0))
		return err == nil && len(seats) == 1 && seats[0].Status == domain.SeatAvailable
	}, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}

func TestExpiryReaper_DefaultIntervalFreesSeatsWithinASecond(t *testing.T) {
	t.Setenv("STORAGE", config.StorageMemory)
	t.Setenv("REAPER_INTERVAL", "")
	cfg, err := config.Load()
	require.NoError(t, err)

	f := newFixture(t, 1)
	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	_, err = f.holds.CreateHold(ctx, "u1", f.seatIDs(0))
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- f.reaper.Run(ctx, cfg.ReaperInterval) }()

	// One second past the deadline; the next tick must reclaim the seat.
	f.clock.Advance(domain.HoldTTL + time.Second)
	require.Eventually(t, func() bool {
		seats, err := f.store.GetSeats(ctx, f.seatIDs(0))
		return err == nil && len(seats) == 1 && seats[0].Status == domain.SeatAvailable
	}, cfg.ReaperInterval+250*time.Millisecond, 10*time.Millisecond)

	_, err = f.holds.CreateHold(ctx, "u2", f.seatIDs(0))
	require.NoError(t, err)

	cancel()
	require.NoError(t, <-done)
}
