package domain

import (
	"bytes"
	"slices"
	"time"

	"github.com/google/uuid"
)

type SeatStatus string

const (
	SeatAvailable SeatStatus = "available"
	SeatHeld      SeatStatus = "held"
	SeatBooked    SeatStatus = "booked"
	SeatBlocked   SeatStatus = "blocked"
)

// Seat is the authoritative row for one seat of a schedule. HoldID is set
// while the seat is held and BookingID while it is booked.
type Seat struct {
	ID         uuid.UUID
	ScheduleID uuid.UUID
	Number     string
	Grade      string
	Price      int64
	Status     SeatStatus
	Version    int64
	HoldID     *uuid.UUID
	BookingID  *uuid.UUID
}

type HoldStatus string

const (
	HoldActive   HoldStatus = "active"
	HoldConsumed HoldStatus = "consumed"
	HoldReleased HoldStatus = "released"
	HoldExpired  HoldStatus = "expired"
)

type Hold struct {
	ID         uuid.UUID
	OwnerID    string
	ScheduleID uuid.UUID
	SeatIDs    []uuid.UUID
	Status     HoldStatus
	Version    int64
	CreatedAt  time.Time
	ExpiresAt  time.Time
	ClosedAt   *time.Time
}

// Lapsed reports whether the hold's TTL has run out at now. A hold whose
// expiry equals now is already lapsed.
func (h Hold) Lapsed(now time.Time) bool {
	return !h.ExpiresAt.After(now)
}

type BookingStatus string

const (
	BookingConfirmed BookingStatus = "confirmed"
	BookingCancelled BookingStatus = "cancelled"
)

type BookingSeat struct {
	SeatID uuid.UUID
	Number string
	Grade  string
	Price  int64
}

type Booking struct {
	ID                 uuid.UUID
	Number             string
	OwnerID            string
	ScheduleID         uuid.UUID
	HoldID             uuid.UUID
	Seats              []BookingSeat
	TotalPrice         int64
	Status             BookingStatus
	Version            int64
	CreatedAt          time.Time
	CancelledAt        *time.Time
	CancellationReason string
	CancellationDetail string
	Contact            Contact
}

// Contact is how the venue reaches the booker. Both fields are optional.
type Contact struct {
	Name  string
	Phone string
}

func (b Booking) SeatIDs() []uuid.UUID {
	ids := make([]uuid.UUID, len(b.Seats))
	for i, s := range b.Seats {
		ids[i] = s.SeatID
	}
	return ids
}

// Schedule is owned by the catalog; the core only reads it.
type Schedule struct {
	ID          uuid.UUID
	TotalSeats  int
	BookingOpen bool
	StartsAt    time.Time
}

// SeatTransition describes one guarded status change. It applies only when
// the stored seat still has status From and version ExpectedVersion.
type SeatTransition struct {
	SeatID          uuid.UUID
	From            SeatStatus
	ExpectedVersion int64
	To              SeatStatus
	HoldID          *uuid.UUID
	BookingID       *uuid.UUID
}

type OutboxRecord struct {
	ID            uuid.UUID
	AggregateType string
	AggregateID   uuid.UUID
	EventType     string
	Payload       []byte
	CreatedAt     time.Time
	PublishedAt   *time.Time
	Status        string // NEW, PUBLISHED
	DedupeKey     string
}

// CompareIDs orders ids bytewise, the same order the SQL store uses for
// UUID primary keys. Every multi-seat lock is taken in this order.
func CompareIDs(a, b uuid.UUID) int {
	return bytes.Compare(a[:], b[:])
}

func SortedIDs(ids []uuid.UUID) []uuid.UUID {
	out := slices.Clone(ids)
	slices.SortFunc(out, CompareIDs)
	return out
}
