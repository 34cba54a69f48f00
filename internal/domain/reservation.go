package domain

import (
	"time"

	"github.com/google/uuid"
)

const (
	HoldTTL            = 10 * time.Minute
	CancellationCutoff = 24 * time.Hour
)

func NewHold(ownerID string, scheduleID uuid.UUID, seatIDs []uuid.UUID, now time.Time) Hold {
	return Hold{
		ID:         uuid.New(),
		OwnerID:    ownerID,
		ScheduleID: scheduleID,
		SeatIDs:    SortedIDs(seatIDs),
		Status:     HoldActive,
		Version:    1,
		CreatedAt:  now,
		ExpiresAt:  now.Add(HoldTTL),
	}
}

// Cancellable applies the cutoff rule: strictly more than
// CancellationCutoff must remain before the event starts.
func Cancellable(status BookingStatus, startsAt, now time.Time) bool {
	return status == BookingConfirmed && startsAt.Sub(now) > CancellationCutoff
}
