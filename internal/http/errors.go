package http

import (
	"encoding/json"
	"net/http"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/seat-reservations/internal/domain"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorKind struct {
	target  error
	status  int
	code    string
	message string
}

// Order matters: a seat conflict during finalization is marked both
// ErrConflict and ErrHoldExpired and must surface as the latter. Assertion
// failures are checked before this table and always map to INTERNAL.
var errorKinds = []errorKind{
	{domain.ErrValidation, http.StatusBadRequest, "VALIDATION_ERROR", ""},
	{domain.ErrForbidden, http.StatusForbidden, "FORBIDDEN", "this hold or booking belongs to someone else"},
	{domain.ErrHoldExpired, http.StatusGone, "HOLD_EXPIRED", "your hold has expired, please select your seats again"},
	{domain.ErrHoldNotFound, http.StatusNotFound, "HOLD_NOT_FOUND", "hold not found or already used, please select your seats again"},
	{domain.ErrSeatUnavailable, http.StatusConflict, "SEAT_UNAVAILABLE", "seat no longer available, please reselect"},
	{domain.ErrBookingNotFound, http.StatusNotFound, "BOOKING_NOT_FOUND", "booking not found"},
	{domain.ErrAlreadyCancelled, http.StatusConflict, "ALREADY_CANCELLED", "this booking is already cancelled"},
	{domain.ErrNotCancellable, http.StatusUnprocessableEntity, "NOT_CANCELLABLE", "bookings can only be cancelled more than 24 hours before the show starts"},
	{domain.ErrBookingClosed, http.StatusConflict, "BOOKING_CLOSED", "booking is closed for this show"},
	{domain.ErrScheduleNotFound, http.StatusNotFound, "SCHEDULE_NOT_FOUND", "show not found"},
	{domain.ErrTransient, http.StatusServiceUnavailable, "TEMPORARILY_UNAVAILABLE", "the service is busy, please try again"},
	{domain.ErrStorage, http.StatusInternalServerError, "DATABASE_ERROR", "we could not update your booking, please contact support"},
}

func classifyError(err error) (int, errorDetail) {
	if !errors.HasAssertionFailure(err) {
		for _, k := range errorKinds {
			if !errors.Is(err, k.target) {
				continue
			}
			msg := k.message
			if msg == "" {
				msg = err.Error()
			}
			return k.status, errorDetail{Code: k.code, Message: msg}
		}
	}
	return http.StatusInternalServerError, errorDetail{Code: "INTERNAL", Message: "something went wrong on our side, please try again later"}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, detail := classifyError(err)
	logger := LoggerFrom(r.Context())
	if status >= http.StatusInternalServerError {
		logger.WithError(err).Error("request failed")
	} else {
		logger.WithError(err).WithField("code", detail.Code).Info("request rejected")
	}
	writeJSON(w, status, errorBody{Error: detail})
}

func writeErrorCode(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Error: errorDetail{Code: code, Message: message}})
}
