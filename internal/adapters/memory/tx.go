package memory

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/seat-reservations/internal/domain"
)

// tx stages writes and applies them on commit. Every row it reads for
// update or writes is locked until release.
type tx struct {
	s      *Store
	locked []uuid.UUID
	held   map[uuid.UUID]struct{}

	seats    map[uuid.UUID]domain.Seat
	holds    map[uuid.UUID]domain.Hold
	bookings map[uuid.UUID]domain.Booking
	outbox   []domain.OutboxRecord
}

func newTx(s *Store) *tx {
	return &tx{
		s:        s,
		held:     make(map[uuid.UUID]struct{}),
		seats:    make(map[uuid.UUID]domain.Seat),
		holds:    make(map[uuid.UUID]domain.Hold),
		bookings: make(map[uuid.UUID]domain.Booking),
	}
}

func (t *tx) lock(ctx context.Context, id uuid.UUID) error {
	if _, ok := t.held[id]; ok {
		return nil
	}
	if err := t.s.locks.acquire(ctx, id); err != nil {
		return err
	}
	t.held[id] = struct{}{}
	t.locked = append(t.locked, id)
	return nil
}

func (t *tx) release() {
	for i := len(t.locked) - 1; i >= 0; i-- {
		t.s.locks.release(t.locked[i])
	}
	t.locked = nil
	t.held = map[uuid.UUID]struct{}{}
}

func (t *tx) commit() error {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	for id, b := range t.bookings {
		if owner, ok := t.s.bookingNumbers[b.Number]; ok && owner != id {
			return errors.Mark(errors.Newf("booking number %s taken", b.Number), domain.ErrDuplicateBookingNumber)
		}
	}
	for id, seat := range t.seats {
		t.s.seats[id] = seat
	}
	for id, h := range t.holds {
		t.s.holds[id] = h
	}
	for id, b := range t.bookings {
		t.s.bookings[id] = b
		t.s.bookingNumbers[b.Number] = id
	}
	t.s.outbox = append(t.s.outbox, t.outbox...)
	return nil
}

func (t *tx) seat(id uuid.UUID) (domain.Seat, bool) {
	if seat, ok := t.seats[id]; ok {
		return seat, true
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	seat, ok := t.s.seats[id]
	return seat, ok
}

func (t *tx) hold(id uuid.UUID) (domain.Hold, bool) {
	if h, ok := t.holds[id]; ok {
		return cloneHold(h), true
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	h, ok := t.s.holds[id]
	return cloneHold(h), ok
}

func (t *tx) booking(id uuid.UUID) (domain.Booking, bool) {
	if b, ok := t.bookings[id]; ok {
		return cloneBooking(b), true
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	b, ok := t.s.bookings[id]
	return cloneBooking(b), ok
}

func (t *tx) LockSeats(ctx context.Context, ids []uuid.UUID) ([]domain.Seat, error) {
	var out []domain.Seat
	for _, id := range domain.SortedIDs(ids) {
		if err := t.lock(ctx, id); err != nil {
			return nil, err
		}
		if seat, ok := t.seat(id); ok {
			out = append(out, seat)
		}
	}
	return out, nil
}

func (t *tx) UpdateSeat(ctx context.Context, st domain.SeatTransition) (int64, error) {
	if err := t.lock(ctx, st.SeatID); err != nil {
		return 0, err
	}
	seat, ok := t.seat(st.SeatID)
	if !ok || seat.Status != st.From || seat.Version != st.ExpectedVersion {
		return 0, domain.ErrConflict
	}
	seat.Status = st.To
	seat.Version++
	seat.HoldID = copyID(st.HoldID)
	seat.BookingID = copyID(st.BookingID)
	t.seats[seat.ID] = seat
	return seat.Version, nil
}

func (t *tx) InsertHold(ctx context.Context, h domain.Hold) error {
	if err := t.lock(ctx, h.ID); err != nil {
		return err
	}
	if _, exists := t.hold(h.ID); exists {
		return errors.Newf("hold %s already exists", h.ID)
	}
	t.holds[h.ID] = cloneHold(h)
	return nil
}

func (t *tx) LockHold(ctx context.Context, id uuid.UUID) (*domain.Hold, error) {
	if err := t.lock(ctx, id); err != nil {
		return nil, err
	}
	h, ok := t.hold(id)
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &h, nil
}

func (t *tx) CloseHold(ctx context.Context, id uuid.UUID, expectedVersion int64, status domain.HoldStatus, at time.Time) error {
	if err := t.lock(ctx, id); err != nil {
		return err
	}
	h, ok := t.hold(id)
	if !ok || h.Status != domain.HoldActive || h.Version != expectedVersion {
		return domain.ErrConflict
	}
	h.Status = status
	h.Version++
	h.ClosedAt = &at
	t.holds[id] = h
	return nil
}

func (t *tx) InsertBooking(ctx context.Context, b domain.Booking) error {
	if err := t.lock(ctx, b.ID); err != nil {
		return err
	}
	if _, exists := t.booking(b.ID); exists {
		return errors.Newf("booking %s already exists", b.ID)
	}
	t.s.mu.RLock()
	_, taken := t.s.bookingNumbers[b.Number]
	t.s.mu.RUnlock()
	if taken {
		return errors.Mark(errors.Newf("booking number %s taken", b.Number), domain.ErrDuplicateBookingNumber)
	}
	t.bookings[b.ID] = cloneBooking(b)
	return nil
}

func (t *tx) LockBooking(ctx context.Context, id uuid.UUID) (*domain.Booking, error) {
	if err := t.lock(ctx, id); err != nil {
		return nil, err
	}
	b, ok := t.booking(id)
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &b, nil
}

func (t *tx) CancelBooking(ctx context.Context, id uuid.UUID, expectedVersion int64, at time.Time, reason, detail string) error {
	if err := t.lock(ctx, id); err != nil {
		return err
	}
	b, ok := t.booking(id)
	if !ok || b.Status != domain.BookingConfirmed || b.Version != expectedVersion {
		return domain.ErrConflict
	}
	b.Status = domain.BookingCancelled
	b.Version++
	b.CancelledAt = &at
	b.CancellationReason = reason
	b.CancellationDetail = detail
	t.bookings[id] = b
	return nil
}

func (t *tx) InsertOutbox(ctx context.Context, rec domain.OutboxRecord) error {
	t.outbox = append(t.outbox, rec)
	return nil
}

func copyID(id *uuid.UUID) *uuid.UUID {
	if id == nil {
		return nil
	}
	v := *id
	return &v
}
