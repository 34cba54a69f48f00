package reservation

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/robertarktes/seat-reservations/internal/adapters/memory"
	"github.com/robertarktes/seat-reservations/internal/domain"
	"github.com/robertarktes/seat-reservations/internal/observability"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	clock     *fakeClock
	store     *memory.Store
	schedules *memory.Schedules
	schedule  domain.Schedule
	seats     []domain.Seat

	holds     *HoldManager
	reaper    *ExpiryReaper
	finalizer *BookingFinalizer
	cancel    *CancellationEngine
	reader    *BookingReader
}

// newFixture provisions one open schedule starting in three days with n
// seats priced 1000, 2000, ... so totals are easy to check.
func newFixture(t *testing.T, n int) *fixture {
	t.Helper()
	clock := newFakeClock()
	store := memory.NewStore()
	sched := domain.Schedule{
		ID:          uuid.New(),
		TotalSeats:  n,
		BookingOpen: true,
		StartsAt:    clock.Now().Add(72 * time.Hour),
	}
	schedules := memory.NewSchedules(sched)

	seats := make([]domain.Seat, n)
	for i := range seats {
		seats[i] = domain.Seat{
			ID:         uuid.New(),
			ScheduleID: sched.ID,
			Number:     fmt.Sprintf("A%d", i+1),
			Grade:      "R",
			Price:      int64(i+1) * 1000,
		}
	}
	store.AddSeats(seats...)

	logger := observability.NewNopLogger()
	opts := []Option{WithClock(clock.Now), WithRetries(3, time.Millisecond)}
	return &fixture{
		clock:     clock,
		store:     store,
		schedules: schedules,
		schedule:  sched,
		seats:     seats,
		holds:     NewHoldManager(store, schedules, logger, 10, opts...),
		reaper:    NewExpiryReaper(store, logger, 100, opts...),
		finalizer: NewBookingFinalizer(store, logger, opts...),
		cancel:    NewCancellationEngine(store, schedules, logger, opts...),
		reader:    NewBookingReader(store, schedules, opts...),
	}
}

func (f *fixture) seatIDs(idx ...int) []uuid.UUID {
	ids := make([]uuid.UUID, len(idx))
	for i, n := range idx {
		ids[i] = f.seats[n].ID
	}
	return ids
}

func (f *fixture) seat(t *testing.T, id uuid.UUID) domain.Seat {
	t.Helper()
	seats, err := f.store.GetSeats(t.Context(), []uuid.UUID{id})
	require.NoError(t, err)
	require.Len(t, seats, 1)
	return seats[0]
}

func (f *fixture) requireStatus(t *testing.T, status domain.SeatStatus, ids ...uuid.UUID) {
	t.Helper()
	for _, id := range ids {
		require.Equal(t, status, f.seat(t, id).Status, "seat %s", id)
	}
}

// checkInvariants verifies seat back-references against holds and
// bookings for the whole schedule.
func (f *fixture) checkInvariants(t *testing.T) {
	t.Helper()
	ctx := t.Context()
	seats, err := f.store.ListSeats(ctx, f.schedule.ID)
	require.NoError(t, err)
	for _, s := range seats {
		switch s.Status {
		case domain.SeatAvailable:
			require.Nil(t, s.HoldID, "available seat %s has hold", s.ID)
			require.Nil(t, s.BookingID, "available seat %s has booking", s.ID)
		case domain.SeatHeld:
			require.NotNil(t, s.HoldID)
			h, err := f.store.GetHold(ctx, *s.HoldID)
			require.NoError(t, err)
			require.Equal(t, domain.HoldActive, h.Status, "held seat %s points at %s hold", s.ID, h.Status)
			require.Contains(t, h.SeatIDs, s.ID)
		case domain.SeatBooked:
			require.NotNil(t, s.BookingID)
			b, err := f.store.GetBooking(ctx, *s.BookingID)
			require.NoError(t, err)
			require.Equal(t, domain.BookingConfirmed, b.Status)
			require.Contains(t, b.SeatIDs(), s.ID)
		}
	}
}
