package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHoldLapsed(t *testing.T) {
	now := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	h := NewHold("guest_abc", uuid.New(), []uuid.UUID{uuid.New()}, now)

	assert.False(t, h.Lapsed(now.Add(599*time.Second)))
	assert.True(t, h.Lapsed(now.Add(600*time.Second)))
	assert.True(t, h.Lapsed(now.Add(601*time.Second)))
}

func TestNewHoldSortsSeats(t *testing.T) {
	ids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	h := NewHold("alice", uuid.New(), ids, time.Now())

	require.Len(t, h.SeatIDs, 3)
	for i := 1; i < len(h.SeatIDs); i++ {
		assert.Negative(t, CompareIDs(h.SeatIDs[i-1], h.SeatIDs[i]))
	}
	assert.Equal(t, HoldActive, h.Status)
	assert.Equal(t, int64(1), h.Version)
}

func TestCancellable(t *testing.T) {
	start := time.Date(2026, 6, 1, 20, 0, 0, 0, time.UTC)

	assert.True(t, Cancellable(BookingConfirmed, start, start.Add(-25*time.Hour)))
	assert.True(t, Cancellable(BookingConfirmed, start, start.Add(-24*time.Hour-time.Second)))
	assert.False(t, Cancellable(BookingConfirmed, start, start.Add(-24*time.Hour)))
	assert.False(t, Cancellable(BookingConfirmed, start, start.Add(-23*time.Hour)))
	assert.False(t, Cancellable(BookingCancelled, start, start.Add(-72*time.Hour)))
}

func TestNewBooking(t *testing.T) {
	now := time.Now()
	h := NewHold("alice", uuid.New(), nil, now)
	seats := []Seat{
		{ID: uuid.New(), Number: "A1", Grade: "VIP", Price: 15000},
		{ID: uuid.New(), Number: "A2", Grade: "R", Price: 9000},
	}

	b := NewBooking(h, seats, "BK20260101-ABCDEF", Contact{Name: "Kim Minji", Phone: "010-1234-5678"}, now)
	assert.Equal(t, int64(24000), b.TotalPrice)
	assert.Equal(t, h.ID, b.HoldID)
	assert.Equal(t, "alice", b.OwnerID)
	assert.Equal(t, BookingConfirmed, b.Status)
	assert.Equal(t, []uuid.UUID{seats[0].ID, seats[1].ID}, b.SeatIDs())
	assert.Equal(t, "010-1234-5678", b.Contact.Phone)
}

func TestContactNormalize(t *testing.T) {
	c, err := Contact{Name: "  Kim Minji ", Phone: " 01012345678"}.Normalize()
	require.NoError(t, err)
	assert.Equal(t, Contact{Name: "Kim Minji", Phone: "01012345678"}, c)

	_, err = Contact{}.Normalize()
	require.NoError(t, err)
	_, err = Contact{Phone: "+82-010-1234-5678"}.Normalize()
	require.NoError(t, err)

	for _, bad := range []Contact{
		{Name: "K"},
		{Phone: "call me"},
		{Phone: "010-1234-5678-9999-0000"},
	} {
		_, err := bad.Normalize()
		assert.ErrorIs(t, err, ErrValidation, "%+v", bad)
	}
}

func TestNewBookingNumber(t *testing.T) {
	now := time.Date(2026, 10, 19, 23, 0, 0, 0, time.UTC)
	n, err := NewBookingNumber(now)
	require.NoError(t, err)
	assert.Regexp(t, `^BK20261019-[ABCDEFGHJKLMNPQRSTUVWXYZ2-9]{6}$`, n)
}

func TestNewOutboxRecord(t *testing.T) {
	id := uuid.New()
	h := NewHold("alice", uuid.New(), []uuid.UUID{uuid.New()}, time.Now())
	rec, err := NewOutboxRecord("hold", id, EventHoldCreated, NewHoldEvent(h, h.CreatedAt), h.CreatedAt)
	require.NoError(t, err)

	assert.Equal(t, "NEW", rec.Status)
	assert.Equal(t, EventHoldCreated+":"+id.String(), rec.DedupeKey)

	var ev HoldEvent
	require.NoError(t, json.Unmarshal(rec.Payload, &ev))
	assert.Equal(t, h.ID, ev.HoldID)
	assert.Equal(t, h.SeatIDs, ev.SeatIDs)
}
