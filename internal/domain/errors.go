package domain

import "github.com/cockroachdb/errors"

var (
	ErrSeatUnavailable        = errors.New("seat unavailable")
	ErrHoldNotFound           = errors.New("hold not found")
	ErrHoldExpired            = errors.New("hold expired")
	ErrForbidden              = errors.New("forbidden")
	ErrBookingNotFound        = errors.New("booking not found")
	ErrNotCancellable         = errors.New("booking not cancellable")
	ErrAlreadyCancelled       = errors.New("booking already cancelled")
	ErrBookingClosed          = errors.New("booking closed for schedule")
	ErrScheduleNotFound       = errors.New("schedule not found")
	ErrValidation             = errors.New("invalid input")
	ErrTransient              = errors.New("transient storage failure")
	ErrStorage                = errors.New("storage inconsistency")
	ErrConflict               = errors.New("conflict")
	ErrNotFound               = errors.New("not found")
	ErrDuplicateBookingNumber = errors.New("duplicate booking number")
)

// Invalid marks a validation failure with a human readable detail.
func Invalid(format string, args ...interface{}) error {
	return errors.Mark(errors.Newf(format, args...), ErrValidation)
}
