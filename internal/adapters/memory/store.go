package memory

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robertarktes/seat-reservations/internal/domain"
)

// Store is an in-process domain.Store. It is the source of truth when the
// service runs with STORAGE=memory and backs the unit tests.
type Store struct {
	mu             sync.RWMutex
	seats          map[uuid.UUID]domain.Seat
	holds          map[uuid.UUID]domain.Hold
	bookings       map[uuid.UUID]domain.Booking
	bookingNumbers map[string]uuid.UUID
	outbox         []domain.OutboxRecord

	locks *lockTable
}

func NewStore() *Store {
	return &Store{
		seats:          make(map[uuid.UUID]domain.Seat),
		holds:          make(map[uuid.UUID]domain.Hold),
		bookings:       make(map[uuid.UUID]domain.Booking),
		bookingNumbers: make(map[string]uuid.UUID),
		locks:          newLockTable(),
	}
}

// AddSeats provisions seats. Missing status defaults to available and
// version starts at 1.
func (s *Store) AddSeats(seats ...domain.Seat) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, seat := range seats {
		if seat.Status == "" {
			seat.Status = domain.SeatAvailable
		}
		if seat.Version == 0 {
			seat.Version = 1
		}
		s.seats[seat.ID] = seat
	}
}

func (s *Store) WithTx(ctx context.Context, fn func(tx domain.Tx) error) error {
	t := newTx(s)
	defer t.release()
	if err := fn(t); err != nil {
		return err
	}
	return t.commit()
}

func (s *Store) GetSeats(ctx context.Context, ids []uuid.UUID) ([]domain.Seat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Seat
	for _, id := range domain.SortedIDs(ids) {
		if seat, ok := s.seats[id]; ok {
			out = append(out, seat)
		}
	}
	return out, nil
}

func (s *Store) ListSeats(ctx context.Context, scheduleID uuid.UUID) ([]domain.Seat, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Seat
	for _, seat := range s.seats {
		if seat.ScheduleID == scheduleID {
			out = append(out, seat)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Number < out[j].Number })
	return out, nil
}

func (s *Store) GetHold(ctx context.Context, id uuid.UUID) (*domain.Hold, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.holds[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	h = cloneHold(h)
	return &h, nil
}

func (s *Store) ExpiredHolds(ctx context.Context, now time.Time, limit int) ([]domain.Hold, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Hold
	for _, h := range s.holds {
		if h.Status == domain.HoldActive && h.Lapsed(now) {
			out = append(out, cloneHold(h))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) GetBooking(ctx context.Context, id uuid.UUID) (*domain.Booking, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bookings[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	b = cloneBooking(b)
	return &b, nil
}

func (s *Store) GetBookingByNumber(ctx context.Context, number string) (*domain.Booking, error) {
	s.mu.RLock()
	id, ok := s.bookingNumbers[number]
	s.mu.RUnlock()
	if !ok {
		return nil, domain.ErrNotFound
	}
	return s.GetBooking(ctx, id)
}

func (s *Store) ListBookings(ctx context.Context, f domain.BookingFilter) ([]domain.Booking, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var matched []domain.Booking
	for _, b := range s.bookings {
		if b.OwnerID != f.OwnerID {
			continue
		}
		if f.Status != "" && b.Status != f.Status {
			continue
		}
		matched = append(matched, cloneBooking(b))
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return domain.CompareIDs(matched[i].ID, matched[j].ID) < 0
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	total := len(matched)
	if f.Offset >= total {
		return nil, total, nil
	}
	end := total
	if f.Limit > 0 && f.Offset+f.Limit < end {
		end = f.Offset + f.Limit
	}
	return matched[f.Offset:end], total, nil
}

func (s *Store) FetchUnpublishedOutbox(ctx context.Context, limit int) ([]domain.OutboxRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.OutboxRecord
	for _, rec := range s.outbox {
		if rec.Status != "NEW" {
			continue
		}
		out = append(out, rec)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *Store) MarkOutboxPublished(ctx context.Context, id uuid.UUID, publishedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.outbox {
		if s.outbox[i].ID == id && s.outbox[i].Status == "NEW" {
			at := publishedAt
			s.outbox[i].Status = "PUBLISHED"
			s.outbox[i].PublishedAt = &at
		}
	}
	return nil
}

func cloneHold(h domain.Hold) domain.Hold {
	h.SeatIDs = slices.Clone(h.SeatIDs)
	return h
}

func cloneBooking(b domain.Booking) domain.Booking {
	b.Seats = slices.Clone(b.Seats)
	return b
}
