package reservation

import (
	"context"
	"slices"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/seat-reservations/internal/domain"
)

const (
	DefaultPageLimit = 10
	MaxPageLimit     = 50
)

// BookingView is a booking as shown to its owner.
type BookingView struct {
	domain.Booking
	Cancellable bool
}

type BookingPage struct {
	Items   []BookingView
	Total   int
	Page    int
	Limit   int
	HasMore bool
	Counts  BookingCounts
}

// BookingReader serves owner-scoped reads of bookings. It never locks.
type BookingReader struct {
	store     domain.Store
	schedules domain.ScheduleDirectory
	settings
}

func NewBookingReader(store domain.Store, schedules domain.ScheduleDirectory, opts ...Option) *BookingReader {
	return &BookingReader{store: store, schedules: schedules, settings: newSettings(opts)}
}

func (r *BookingReader) view(ctx context.Context, b *domain.Booking, starts *startTimes) (BookingView, error) {
	v := BookingView{Booking: *b}
	if b.Status != domain.BookingConfirmed {
		return v, nil
	}
	at, err := starts.of(ctx, b.ScheduleID)
	if err != nil {
		return v, err
	}
	v.Cancellable = domain.Cancellable(b.Status, at, r.now())
	return v, nil
}

func (r *BookingReader) newStartTimes() *startTimes {
	return &startTimes{dir: r.schedules, seen: map[uuid.UUID]time.Time{}}
}

func (r *BookingReader) owned(ctx context.Context, b *domain.Booking, err error, ownerID string) (*BookingView, error) {
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.ErrBookingNotFound
	}
	if err != nil {
		return nil, err
	}
	if b.OwnerID != ownerID {
		return nil, domain.ErrForbidden
	}
	v, err := r.view(ctx, b, r.newStartTimes())
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func (r *BookingReader) Get(ctx context.Context, ownerID string, id uuid.UUID) (*BookingView, error) {
	b, err := r.store.GetBooking(ctx, id)
	return r.owned(ctx, b, err, ownerID)
}

func (r *BookingReader) GetByNumber(ctx context.Context, ownerID, number string) (*BookingView, error) {
	b, err := r.store.GetBookingByNumber(ctx, number)
	return r.owned(ctx, b, err, ownerID)
}

// ListFilter selects which of the owner's bookings List returns. Upcoming
// and past split confirmed bookings by whether the show has started.
type ListFilter string

const (
	ListAll       ListFilter = ""
	ListConfirmed ListFilter = "confirmed"
	ListCancelled ListFilter = "cancelled"
	ListUpcoming  ListFilter = "upcoming"
	ListPast      ListFilter = "past"
)

// BookingCounts is the size of each tab of the owner's booking list,
// independent of the filter and page requested.
type BookingCounts struct {
	Upcoming  int
	Past      int
	Cancelled int
}

// startTimes memoizes schedule start times for one request.
type startTimes struct {
	dir  domain.ScheduleDirectory
	seen map[uuid.UUID]time.Time
}

func (s *startTimes) of(ctx context.Context, scheduleID uuid.UUID) (time.Time, error) {
	if t, ok := s.seen[scheduleID]; ok {
		return t, nil
	}
	sched, err := s.dir.GetSchedule(ctx, scheduleID)
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "schedule %s", scheduleID)
	}
	s.seen[scheduleID] = sched.StartsAt
	return sched.StartsAt, nil
}

// List pages through the owner's bookings. page starts at 1. All, confirmed
// and cancelled are newest first; upcoming is soonest show first and past is
// latest show first.
func (r *BookingReader) List(ctx context.Context, ownerID string, filter ListFilter, page, limit int) (*BookingPage, error) {
	if ownerID == "" {
		return nil, domain.Invalid("owner id is required")
	}
	if page < 1 {
		page = 1
	}
	if limit == 0 {
		limit = DefaultPageLimit
	}
	if limit < 1 || limit > MaxPageLimit {
		return nil, domain.Invalid("limit must be between 1 and %d", MaxPageLimit)
	}
	switch filter {
	case ListAll, ListConfirmed, ListCancelled, ListUpcoming, ListPast:
	default:
		return nil, domain.Invalid("unknown booking filter %q", filter)
	}

	now := r.now()
	starts := r.newStartTimes()

	confirmed, _, err := r.store.ListBookings(ctx, domain.BookingFilter{OwnerID: ownerID, Status: domain.BookingConfirmed})
	if err != nil {
		return nil, err
	}
	var upcoming, past []domain.Booking
	for _, b := range confirmed {
		at, err := starts.of(ctx, b.ScheduleID)
		if err != nil {
			return nil, err
		}
		if at.After(now) {
			upcoming = append(upcoming, b)
		} else {
			past = append(past, b)
		}
	}
	_, cancelled, err := r.store.ListBookings(ctx, domain.BookingFilter{OwnerID: ownerID, Status: domain.BookingCancelled, Limit: 1})
	if err != nil {
		return nil, err
	}

	offset := (page - 1) * limit
	var (
		bookings []domain.Booking
		total    int
	)
	switch filter {
	case ListUpcoming, ListPast:
		matched := upcoming
		if filter == ListPast {
			matched = past
		}
		slices.SortStableFunc(matched, func(a, b domain.Booking) int {
			c := starts.seen[a.ScheduleID].Compare(starts.seen[b.ScheduleID])
			if filter == ListPast {
				return -c
			}
			return c
		})
		total = len(matched)
		if offset < total {
			bookings = matched[offset:min(offset+limit, total)]
		}
	default:
		bookings, total, err = r.store.ListBookings(ctx, domain.BookingFilter{
			OwnerID: ownerID,
			Status:  domain.BookingStatus(filter),
			Limit:   limit,
			Offset:  offset,
		})
		if err != nil {
			return nil, err
		}
	}

	out := &BookingPage{
		Total:   total,
		Page:    page,
		Limit:   limit,
		HasMore: offset+len(bookings) < total,
		Counts:  BookingCounts{Upcoming: len(upcoming), Past: len(past), Cancelled: cancelled},
	}
	for i := range bookings {
		v, err := r.view(ctx, &bookings[i], starts)
		if err != nil {
			return nil, err
		}
		out.Items = append(out.Items, v)
	}
	return out, nil
}
