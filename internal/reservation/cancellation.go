package reservation

import (
	"context"
	"unicode/utf8"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/seat-reservations/internal/domain"
	"github.com/robertarktes/seat-reservations/internal/inventory"
	"github.com/robertarktes/seat-reservations/internal/observability"
)

const (
	maxReasonLen       = 64
	maxReasonDetailLen = 500
)

// CancellationEngine cancels confirmed bookings while the event is far
// enough away and returns their seats to sale.
type CancellationEngine struct {
	store     domain.Store
	inv       *inventory.Inventory
	schedules domain.ScheduleDirectory
	logger    observability.Logger
	settings
}

func NewCancellationEngine(store domain.Store, schedules domain.ScheduleDirectory, logger observability.Logger, opts ...Option) *CancellationEngine {
	return &CancellationEngine{
		store:     store,
		inv:       inventory.New(store),
		schedules: schedules,
		logger:    logger,
		settings:  newSettings(opts),
	}
}

func cancellationResult(err error) string {
	switch {
	case err == nil:
		return "cancelled"
	case errors.Is(err, domain.ErrNotCancellable):
		return "too_late"
	case errors.Is(err, domain.ErrAlreadyCancelled):
		return "already_cancelled"
	case errors.Is(err, domain.ErrForbidden):
		return "forbidden"
	case errors.Is(err, domain.ErrBookingNotFound):
		return "not_found"
	default:
		return "error"
	}
}

func checkBooking(b *domain.Booking, ownerID string) error {
	if b.OwnerID != ownerID {
		return domain.ErrForbidden
	}
	if b.Status == domain.BookingCancelled {
		return domain.ErrAlreadyCancelled
	}
	return nil
}

// CancelBooking cancels bookingID for ownerID. The cutoff is evaluated
// against the schedule start at the time of the call.
func (c *CancellationEngine) CancelBooking(ctx context.Context, bookingID uuid.UUID, ownerID, reason, detail string) (_ *domain.Booking, err error) {
	ctx, span := tracer.Start(ctx, "CancellationEngine.CancelBooking")
	defer func() {
		observability.Cancellations.WithLabelValues(cancellationResult(err)).Inc()
		endSpan(span, err)
	}()

	if ownerID == "" || bookingID == uuid.Nil {
		return nil, domain.Invalid("owner id and booking id are required")
	}
	if utf8.RuneCountInString(reason) > maxReasonLen {
		return nil, domain.Invalid("reason exceeds %d characters", maxReasonLen)
	}
	if utf8.RuneCountInString(detail) > maxReasonDetailLen {
		return nil, domain.Invalid("reason detail exceeds %d characters", maxReasonDetailLen)
	}

	current, err := c.store.GetBooking(ctx, bookingID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.ErrBookingNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := checkBooking(current, ownerID); err != nil {
		return nil, err
	}
	sched, err := c.schedules.GetSchedule(ctx, current.ScheduleID)
	if err != nil {
		return nil, errors.Wrapf(err, "schedule %s", current.ScheduleID)
	}

	var cancelled domain.Booking
	err = c.withRetry(ctx, "cancel_booking", c.logger, func() error {
		return c.store.WithTx(ctx, func(tx domain.Tx) error {
			b, err := tx.LockBooking(ctx, bookingID)
			if errors.Is(err, domain.ErrNotFound) {
				return domain.ErrBookingNotFound
			}
			if err != nil {
				return err
			}
			if err := checkBooking(b, ownerID); err != nil {
				return err
			}
			now := c.now()
			if !domain.Cancellable(b.Status, sched.StartsAt, now) {
				return errors.Wrapf(domain.ErrNotCancellable, "event starts at %s", sched.StartsAt.UTC().Format("2006-01-02T15:04:05Z"))
			}

			if err := c.releaseSeats(ctx, tx, b); err != nil {
				return err
			}
			if err := tx.CancelBooking(ctx, b.ID, b.Version, now, reason, detail); err != nil {
				if errors.Is(err, domain.ErrConflict) {
					return domain.ErrAlreadyCancelled
				}
				return err
			}
			b.Status = domain.BookingCancelled
			b.Version++
			b.CancelledAt = &now
			b.CancellationReason = reason
			b.CancellationDetail = detail
			cancelled = *b
			return appendEvent(ctx, tx, "booking", b.ID, domain.EventBookingCancelled, domain.NewBookingEvent(*b, now), now)
		})
	})
	if err != nil {
		if errors.Is(err, domain.ErrStorage) {
			c.logger.WithError(err).WithField("booking_id", bookingID).Error("booking seats inconsistent")
		}
		return nil, err
	}

	c.logger.WithFields(map[string]interface{}{
		"booking_id": bookingID,
		"seats":      len(cancelled.Seats),
		"reason":     reason,
	}).Info("booking cancelled")
	return &cancelled, nil
}

// releaseSeats moves every seat of b from booked back to available. A seat
// that is missing or booked under another booking means the store is
// inconsistent and nothing is changed.
func (c *CancellationEngine) releaseSeats(ctx context.Context, tx domain.Tx, b *domain.Booking) error {
	seats, missing, err := c.inv.Snapshot(ctx, tx, b.SeatIDs())
	if err != nil {
		return err
	}
	if len(missing) > 0 {
		return errors.Mark(errors.Newf("booking %s references missing seats %v", b.ID, missing), domain.ErrStorage)
	}
	ts := make([]domain.SeatTransition, len(seats))
	for i, s := range seats {
		if s.Status != domain.SeatBooked || s.BookingID == nil || *s.BookingID != b.ID {
			return errors.Mark(errors.Newf("seat %s is %s and not booked by %s", s.ID, s.Status, b.ID), domain.ErrStorage)
		}
		ts[i] = domain.SeatTransition{
			SeatID:          s.ID,
			From:            domain.SeatBooked,
			ExpectedVersion: s.Version,
			To:              domain.SeatAvailable,
		}
	}
	if _, err := c.inv.BatchTransitionTx(ctx, tx, ts); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return errors.Mark(err, domain.ErrStorage)
		}
		return err
	}
	return nil
}
