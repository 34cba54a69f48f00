package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store is the single source of truth for seats, holds and bookings.
// Reads outside WithTx are not locked and may be stale by the time the
// caller acts on them.
type Store interface {
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	GetSeats(ctx context.Context, ids []uuid.UUID) ([]Seat, error)
	ListSeats(ctx context.Context, scheduleID uuid.UUID) ([]Seat, error)
	GetHold(ctx context.Context, id uuid.UUID) (*Hold, error)
	ExpiredHolds(ctx context.Context, now time.Time, limit int) ([]Hold, error)
	GetBooking(ctx context.Context, id uuid.UUID) (*Booking, error)
	GetBookingByNumber(ctx context.Context, number string) (*Booking, error)
	ListBookings(ctx context.Context, filter BookingFilter) ([]Booking, int, error)
}

// Tx is a unit of work. Rows returned by the Lock* methods stay locked
// until the transaction ends. Implementations lock the aggregate (hold or
// booking) before any seat, and seats in ascending id order.
type Tx interface {
	LockSeats(ctx context.Context, ids []uuid.UUID) ([]Seat, error)
	// UpdateSeat applies t and returns the new version, or ErrConflict when
	// the stored status or version no longer matches.
	UpdateSeat(ctx context.Context, t SeatTransition) (int64, error)

	InsertHold(ctx context.Context, h Hold) error
	LockHold(ctx context.Context, id uuid.UUID) (*Hold, error)
	CloseHold(ctx context.Context, id uuid.UUID, expectedVersion int64, status HoldStatus, at time.Time) error

	InsertBooking(ctx context.Context, b Booking) error
	LockBooking(ctx context.Context, id uuid.UUID) (*Booking, error)
	CancelBooking(ctx context.Context, id uuid.UUID, expectedVersion int64, at time.Time, reason, detail string) error

	InsertOutbox(ctx context.Context, rec OutboxRecord) error
}

type ScheduleDirectory interface {
	GetSchedule(ctx context.Context, id uuid.UUID) (*Schedule, error)
}

type BookingFilter struct {
	OwnerID string
	Status  BookingStatus
	Limit   int
	Offset  int
}
