package reservation

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/seat-reservations/internal/domain"
	"github.com/robertarktes/seat-reservations/internal/inventory"
	"github.com/robertarktes/seat-reservations/internal/observability"
)

// BookingFinalizer turns an active hold into a confirmed booking.
type BookingFinalizer struct {
	store  domain.Store
	inv    *inventory.Inventory
	logger observability.Logger
	settings
}

func NewBookingFinalizer(store domain.Store, logger observability.Logger, opts ...Option) *BookingFinalizer {
	return &BookingFinalizer{
		store:    store,
		inv:      inventory.New(store),
		logger:   logger,
		settings: newSettings(opts),
	}
}

// CreateBooking consumes the hold and books all of its seats. It fails with
// ErrHoldExpired when the hold lapsed or lost any of its seats, and with
// ErrHoldNotFound when the hold is unknown or was already used or released.
// contact is stored on the booking as given, after trimming.
func (f *BookingFinalizer) CreateBooking(ctx context.Context, ownerID string, holdID uuid.UUID, contact domain.Contact) (_ *domain.Booking, err error) {
	ctx, span := tracer.Start(ctx, "BookingFinalizer.CreateBooking")
	defer func() { endSpan(span, err) }()

	if ownerID == "" || holdID == uuid.Nil {
		return nil, domain.Invalid("owner id and hold id are required")
	}
	if contact, err = contact.Normalize(); err != nil {
		return nil, err
	}

	var booking domain.Booking
	err = f.withRetry(ctx, "create_booking", f.logger, func() error {
		now := f.now()
		number, err := domain.NewBookingNumber(now)
		if err != nil {
			return errors.Wrap(err, "booking number")
		}
		return f.store.WithTx(ctx, func(tx domain.Tx) error {
			b, err := f.finalize(ctx, tx, ownerID, holdID, number, contact)
			if err != nil {
				return err
			}
			booking = b
			return nil
		})
	})
	if err != nil {
		if errors.HasAssertionFailure(err) {
			f.logger.WithError(err).WithField("hold_id", holdID).Error("hold invariant violated")
		}
		return nil, err
	}

	observability.BookingsConfirmed.Inc()
	observability.HoldsClosed.WithLabelValues(string(domain.HoldConsumed)).Inc()
	f.logger.WithFields(map[string]interface{}{
		"booking_id":     booking.ID,
		"booking_number": booking.Number,
		"hold_id":        holdID,
		"total_price":    booking.TotalPrice,
	}).Info("booking confirmed")
	return &booking, nil
}

func (f *BookingFinalizer) finalize(ctx context.Context, tx domain.Tx, ownerID string, holdID uuid.UUID, number string, contact domain.Contact) (domain.Booking, error) {
	h, err := tx.LockHold(ctx, holdID)
	if errors.Is(err, domain.ErrNotFound) {
		return domain.Booking{}, domain.ErrHoldNotFound
	}
	if err != nil {
		return domain.Booking{}, err
	}
	if h.OwnerID != ownerID {
		return domain.Booking{}, domain.ErrForbidden
	}
	switch h.Status {
	case domain.HoldActive:
	case domain.HoldExpired:
		return domain.Booking{}, domain.ErrHoldExpired
	default:
		return domain.Booking{}, errors.Wrapf(domain.ErrHoldNotFound, "hold is %s", h.Status)
	}

	now := f.now()
	if h.Lapsed(now) {
		return domain.Booking{}, domain.ErrHoldExpired
	}

	seats, missing, err := f.inv.Snapshot(ctx, tx, h.SeatIDs)
	if err != nil {
		return domain.Booking{}, err
	}
	if len(missing) > 0 {
		return domain.Booking{}, errors.AssertionFailedf("hold %s references missing seats %v", h.ID, missing)
	}
	for _, s := range seats {
		if s.Status != domain.SeatHeld || s.HoldID == nil || *s.HoldID != h.ID {
			return domain.Booking{}, errors.Wrapf(domain.ErrHoldExpired, "seat %s no longer held", s.ID)
		}
	}

	booking := domain.NewBooking(*h, seats, number, contact, now)
	bookingID := booking.ID
	ts := make([]domain.SeatTransition, len(seats))
	for i, s := range seats {
		ts[i] = domain.SeatTransition{
			SeatID:          s.ID,
			From:            domain.SeatHeld,
			ExpectedVersion: s.Version,
			To:              domain.SeatBooked,
			BookingID:       &bookingID,
		}
	}
	if _, err := f.inv.BatchTransitionTx(ctx, tx, ts); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return domain.Booking{}, errors.Mark(err, domain.ErrHoldExpired)
		}
		return domain.Booking{}, err
	}
	if err := tx.CloseHold(ctx, h.ID, h.Version, domain.HoldConsumed, now); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return domain.Booking{}, domain.ErrHoldExpired
		}
		return domain.Booking{}, err
	}
	if err := tx.InsertBooking(ctx, booking); err != nil {
		return domain.Booking{}, err
	}
	if err := appendEvent(ctx, tx, "booking", booking.ID, domain.EventBookingConfirmed, domain.NewBookingEvent(booking, now), now); err != nil {
		return domain.Booking{}, err
	}
	return booking, nil
}
