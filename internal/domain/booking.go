package domain

import (
	"crypto/rand"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

const bookingNumberAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// NewBooking prices a booking from the seats as they are stored at the
// moment of finalization.
func NewBooking(hold Hold, seats []Seat, number string, contact Contact, now time.Time) Booking {
	items := make([]BookingSeat, len(seats))
	var total int64
	for i, s := range seats {
		items[i] = BookingSeat{SeatID: s.ID, Number: s.Number, Grade: s.Grade, Price: s.Price}
		total += s.Price
	}
	return Booking{
		ID:         uuid.New(),
		Number:     number,
		OwnerID:    hold.OwnerID,
		ScheduleID: hold.ScheduleID,
		HoldID:     hold.ID,
		Seats:      items,
		TotalPrice: total,
		Status:     BookingConfirmed,
		Version:    1,
		CreatedAt:  now,
		Contact:    contact,
	}
}

// NewBookingNumber returns a presentable number such as BK20261019-7QX3KD.
func NewBookingNumber(now time.Time) (string, error) {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	for i, b := range buf {
		buf[i] = bookingNumberAlphabet[int(b)%len(bookingNumberAlphabet)]
	}
	return "BK" + now.UTC().Format("20060102") + "-" + string(buf), nil
}

const (
	MaxContactNameLen  = 50
	MinContactNameLen  = 2
	MaxContactPhoneLen = 20
)

var phonePattern = regexp.MustCompile(`^\+?[0-9]{2,4}(-?[0-9]{3,4}){1,3}$`)

// Normalize trims the contact and checks its shape. An empty contact is
// valid.
func (c Contact) Normalize() (Contact, error) {
	c.Name = strings.TrimSpace(c.Name)
	c.Phone = strings.TrimSpace(c.Phone)
	if n := utf8.RuneCountInString(c.Name); c.Name != "" && (n < MinContactNameLen || n > MaxContactNameLen) {
		return c, Invalid("name must be %d to %d characters", MinContactNameLen, MaxContactNameLen)
	}
	if c.Phone != "" && (len(c.Phone) > MaxContactPhoneLen || !phonePattern.MatchString(c.Phone)) {
		return c, Invalid("phone number %q is not valid", c.Phone)
	}
	return c, nil
}
