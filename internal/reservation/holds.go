package reservation

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/seat-reservations/internal/domain"
	"github.com/robertarktes/seat-reservations/internal/inventory"
	"github.com/robertarktes/seat-reservations/internal/observability"
	"go.opentelemetry.io/otel/attribute"
)

// HoldManager creates and releases holds. It is the only writer of the
// available->held and held->available seat transitions outside expiry.
type HoldManager struct {
	store     domain.Store
	inv       *inventory.Inventory
	schedules domain.ScheduleDirectory
	logger    observability.Logger
	maxSeats  int
	settings
}

func NewHoldManager(store domain.Store, schedules domain.ScheduleDirectory, logger observability.Logger, maxSeats int, opts ...Option) *HoldManager {
	return &HoldManager{
		store:     store,
		inv:       inventory.New(store),
		schedules: schedules,
		logger:    logger,
		maxSeats:  maxSeats,
		settings:  newSettings(opts),
	}
}

func seatUnavailable(ids []uuid.UUID) error {
	return errors.Mark(errors.Newf("seats not available: %v", ids), domain.ErrSeatUnavailable)
}

func (m *HoldManager) validate(ownerID string, seatIDs []uuid.UUID) error {
	if ownerID == "" {
		return domain.Invalid("owner id is required")
	}
	if len(seatIDs) == 0 {
		return domain.Invalid("at least one seat is required")
	}
	if m.maxSeats > 0 && len(seatIDs) > m.maxSeats {
		return domain.Invalid("at most %d seats per hold", m.maxSeats)
	}
	seen := make(map[uuid.UUID]struct{}, len(seatIDs))
	for _, id := range seatIDs {
		if id == uuid.Nil {
			return domain.Invalid("seat id is required")
		}
		if _, dup := seen[id]; dup {
			return domain.Invalid("seat %s requested twice", id)
		}
		seen[id] = struct{}{}
	}
	return nil
}

// resolveSchedule reads the requested seats without locking to find their
// schedule and check that booking is open. Seat status is not trusted here;
// it is re-read under lock when the hold is taken.
func (m *HoldManager) resolveSchedule(ctx context.Context, seatIDs []uuid.UUID) (uuid.UUID, error) {
	seats, err := m.inv.Lookup(ctx, seatIDs)
	if err != nil {
		return uuid.Nil, errors.Mark(errors.Wrap(err, "lookup seats"), domain.ErrTransient)
	}
	if len(seats) != len(seatIDs) {
		return uuid.Nil, domain.Invalid("unknown seat ids in request")
	}
	scheduleID := seats[0].ScheduleID
	for _, s := range seats[1:] {
		if s.ScheduleID != scheduleID {
			return uuid.Nil, domain.Invalid("seats belong to different schedules")
		}
	}
	sched, err := m.schedules.GetSchedule(ctx, scheduleID)
	if err != nil {
		return uuid.Nil, errors.Wrapf(err, "schedule %s", scheduleID)
	}
	if !sched.BookingOpen {
		return uuid.Nil, errors.Wrapf(domain.ErrBookingClosed, "schedule %s", scheduleID)
	}
	return scheduleID, nil
}

// CreateHold claims every requested seat for ownerID, or none of them.
func (m *HoldManager) CreateHold(ctx context.Context, ownerID string, seatIDs []uuid.UUID) (_ *domain.Hold, err error) {
	ctx, span := tracer.Start(ctx, "HoldManager.CreateHold")
	defer func() { endSpan(span, err) }()
	span.SetAttributes(attribute.Int("seats", len(seatIDs)))

	if err := m.validate(ownerID, seatIDs); err != nil {
		return nil, err
	}
	scheduleID, err := m.resolveSchedule(ctx, seatIDs)
	if err != nil {
		return nil, err
	}

	var hold domain.Hold
	err = m.withRetry(ctx, "create_hold", m.logger, func() error {
		now := m.now()
		hold = domain.NewHold(ownerID, scheduleID, seatIDs, now)
		return m.store.WithTx(ctx, func(tx domain.Tx) error {
			return m.createHoldTx(ctx, tx, hold)
		})
	})
	if errors.Is(err, domain.ErrSeatUnavailable) {
		observability.HoldConflicts.Inc()
		m.logger.WithField("owner_id", ownerID).WithError(err).Info("hold rejected")
		return nil, err
	}
	if err != nil {
		return nil, err
	}

	observability.HoldsCreated.Inc()
	m.logger.WithFields(map[string]interface{}{
		"hold_id":  hold.ID,
		"owner_id": ownerID,
		"seats":    len(hold.SeatIDs),
	}).Info("hold created")
	return &hold, nil
}

func (m *HoldManager) createHoldTx(ctx context.Context, tx domain.Tx, hold domain.Hold) error {
	seats, missing, err := m.inv.Snapshot(ctx, tx, hold.SeatIDs)
	if err != nil {
		return err
	}
	if len(missing) > 0 {
		return domain.Invalid("unknown seat ids: %v", missing)
	}

	holdID := hold.ID
	var unavailable []uuid.UUID
	ts := make([]domain.SeatTransition, 0, len(seats))
	for _, s := range seats {
		if s.ScheduleID != hold.ScheduleID {
			return domain.Invalid("seat %s belongs to another schedule", s.ID)
		}
		if s.Status != domain.SeatAvailable {
			unavailable = append(unavailable, s.ID)
			continue
		}
		ts = append(ts, domain.SeatTransition{
			SeatID:          s.ID,
			From:            domain.SeatAvailable,
			ExpectedVersion: s.Version,
			To:              domain.SeatHeld,
			HoldID:          &holdID,
		})
	}
	if len(unavailable) > 0 {
		return seatUnavailable(unavailable)
	}

	if _, err := m.inv.BatchTransitionTx(ctx, tx, ts); err != nil {
		var conflict *inventory.ConflictError
		if errors.As(err, &conflict) {
			return seatUnavailable([]uuid.UUID{conflict.SeatID})
		}
		return err
	}
	if err := tx.InsertHold(ctx, hold); err != nil {
		return err
	}
	return appendEvent(ctx, tx, "hold", hold.ID, domain.EventHoldCreated, domain.NewHoldEvent(hold, hold.CreatedAt), hold.CreatedAt)
}

// ReleaseHold ends an active hold on behalf of its owner and frees the
// seats that still reference it. Seats already moved elsewhere are skipped.
func (m *HoldManager) ReleaseHold(ctx context.Context, ownerID string, holdID uuid.UUID) (_ *domain.Hold, err error) {
	ctx, span := tracer.Start(ctx, "HoldManager.ReleaseHold")
	defer func() { endSpan(span, err) }()

	if ownerID == "" || holdID == uuid.Nil {
		return nil, domain.Invalid("owner id and hold id are required")
	}

	var (
		released domain.Hold
		freed    int
	)
	err = m.withRetry(ctx, "release_hold", m.logger, func() error {
		freed = 0
		return m.store.WithTx(ctx, func(tx domain.Tx) error {
			h, err := tx.LockHold(ctx, holdID)
			if errors.Is(err, domain.ErrNotFound) {
				return domain.ErrHoldNotFound
			}
			if err != nil {
				return err
			}
			if h.OwnerID != ownerID {
				return domain.ErrForbidden
			}
			if h.Status != domain.HoldActive {
				return errors.Wrapf(domain.ErrHoldNotFound, "hold is %s", h.Status)
			}

			now := m.now()
			if err := tx.CloseHold(ctx, h.ID, h.Version, domain.HoldReleased, now); err != nil {
				if errors.Is(err, domain.ErrConflict) {
					return domain.ErrHoldNotFound
				}
				return err
			}
			seats, missing, err := m.inv.Snapshot(ctx, tx, h.SeatIDs)
			if err != nil {
				return err
			}
			if len(missing) > 0 {
				return errors.AssertionFailedf("hold %s references missing seats %v", h.ID, missing)
			}
			if ts := seatsStillHeld(h, seats); len(ts) > 0 {
				if _, err := m.inv.BatchTransitionTx(ctx, tx, ts); err != nil {
					return err
				}
				freed = len(ts)
			}
			released = *h
			released.Status = domain.HoldReleased
			released.Version++
			released.ClosedAt = &now
			return appendEvent(ctx, tx, "hold", h.ID, domain.EventHoldReleased, domain.NewHoldEvent(*h, now), now)
		})
	})
	if err != nil {
		if errors.HasAssertionFailure(err) {
			m.logger.WithError(err).WithField("hold_id", holdID).Error("hold invariant violated")
		}
		return nil, err
	}

	observability.HoldsClosed.WithLabelValues(string(domain.HoldReleased)).Inc()
	m.logger.WithFields(map[string]interface{}{"hold_id": holdID, "freed": freed}).Info("hold released")
	return &released, nil
}

// GetHold returns the hold if ownerID owns it.
func (m *HoldManager) GetHold(ctx context.Context, ownerID string, holdID uuid.UUID) (*domain.Hold, error) {
	h, err := m.store.GetHold(ctx, holdID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, domain.ErrHoldNotFound
	}
	if err != nil {
		return nil, err
	}
	if h.OwnerID != ownerID {
		return nil, domain.ErrForbidden
	}
	return h, nil
}
