package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	EventHoldCreated      = "hold.created"
	EventHoldReleased     = "hold.released"
	EventHoldExpired      = "hold.expired"
	EventBookingConfirmed = "booking.confirmed"
	EventBookingCancelled = "booking.cancelled"
)

type HoldEvent struct {
	HoldID     uuid.UUID   `json:"hold_id"`
	OwnerID    string      `json:"owner_id"`
	ScheduleID uuid.UUID   `json:"schedule_id"`
	SeatIDs    []uuid.UUID `json:"seat_ids"`
	ExpiresAt  time.Time   `json:"expires_at"`
	OccurredAt time.Time   `json:"occurred_at"`
}

type BookingEvent struct {
	BookingID     uuid.UUID   `json:"booking_id"`
	BookingNumber string      `json:"booking_number"`
	OwnerID       string      `json:"owner_id"`
	ScheduleID    uuid.UUID   `json:"schedule_id"`
	SeatIDs       []uuid.UUID `json:"seat_ids"`
	TotalPrice    int64       `json:"total_price"`
	Reason        string      `json:"reason,omitempty"`
	OccurredAt    time.Time   `json:"occurred_at"`
}

func NewHoldEvent(h Hold, at time.Time) HoldEvent {
	return HoldEvent{
		HoldID:     h.ID,
		OwnerID:    h.OwnerID,
		ScheduleID: h.ScheduleID,
		SeatIDs:    h.SeatIDs,
		ExpiresAt:  h.ExpiresAt,
		OccurredAt: at,
	}
}

func NewBookingEvent(b Booking, at time.Time) BookingEvent {
	return BookingEvent{
		BookingID:     b.ID,
		BookingNumber: b.Number,
		OwnerID:       b.OwnerID,
		ScheduleID:    b.ScheduleID,
		SeatIDs:       b.SeatIDs(),
		TotalPrice:    b.TotalPrice,
		Reason:        b.CancellationReason,
		OccurredAt:    at,
	}
}

// NewOutboxRecord serializes payload for the transactional outbox. The
// dedupe key becomes the broker message id.
func NewOutboxRecord(aggregateType string, aggregateID uuid.UUID, eventType string, payload interface{}, at time.Time) (OutboxRecord, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return OutboxRecord{}, err
	}
	id := uuid.New()
	return OutboxRecord{
		ID:            id,
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       body,
		CreatedAt:     at,
		Status:        "NEW",
		DedupeKey:     eventType + ":" + aggregateID.String(),
	}, nil
}
