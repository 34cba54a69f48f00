package reservation

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robertarktes/seat-reservations/internal/domain"
	"github.com/robertarktes/seat-reservations/internal/inventory"
	"github.com/robertarktes/seat-reservations/internal/observability"
)

// ExpiryReaper returns seats of lapsed holds to available. Several reapers
// may run against the same store; each hold is closed by exactly one of
// them and the rest skip it.
type ExpiryReaper struct {
	store  domain.Store
	inv    *inventory.Inventory
	logger observability.Logger
	batch  int
	settings
}

func NewExpiryReaper(store domain.Store, logger observability.Logger, batch int, opts ...Option) *ExpiryReaper {
	if batch <= 0 {
		batch = 100
	}
	return &ExpiryReaper{
		store:    store,
		inv:      inventory.New(store),
		logger:   logger,
		batch:    batch,
		settings: newSettings(opts),
	}
}

// Run sweeps every interval until ctx is cancelled.
func (r *ExpiryReaper) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := r.Sweep(ctx); err != nil && ctx.Err() == nil {
				r.logger.WithError(err).Error("expiry sweep failed")
			}
		}
	}
}

// Sweep expires every hold that has lapsed at the reaper's current time
// and reports how many it closed. A failure on one hold does not stop the
// others; the first error is returned after the batch.
func (r *ExpiryReaper) Sweep(ctx context.Context) (int, error) {
	ctx, span := tracer.Start(ctx, "ExpiryReaper.Sweep")
	defer span.End()

	now := r.now()
	holds, err := r.store.ExpiredHolds(ctx, now, r.batch)
	if err != nil {
		return 0, errors.Wrap(err, "list expired holds")
	}

	var (
		expired  int
		firstErr error
	)
	for _, h := range holds {
		if ctx.Err() != nil {
			return expired, ctx.Err()
		}
		closed, err := r.expire(ctx, h)
		if err != nil {
			r.logger.WithError(err).WithField("hold_id", h.ID).Error("expire hold")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if closed {
			expired++
		}
	}
	if expired > 0 {
		r.logger.WithField("expired", expired).Info("holds expired")
	}
	return expired, firstErr
}

func (r *ExpiryReaper) expire(ctx context.Context, candidate domain.Hold) (bool, error) {
	var closed bool
	err := r.withRetry(ctx, "expire_hold", r.logger, func() error {
		closed = false
		return r.store.WithTx(ctx, func(tx domain.Tx) error {
			h, err := tx.LockHold(ctx, candidate.ID)
			if errors.Is(err, domain.ErrNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			now := r.now()
			// Finalized, released or not yet due: someone else got here first.
			if h.Status != domain.HoldActive || !h.Lapsed(now) {
				return nil
			}
			if err := tx.CloseHold(ctx, h.ID, h.Version, domain.HoldExpired, now); err != nil {
				if errors.Is(err, domain.ErrConflict) {
					return nil
				}
				return err
			}
			seats, missing, err := r.inv.Snapshot(ctx, tx, h.SeatIDs)
			if err != nil {
				return err
			}
			if len(missing) > 0 {
				return errors.AssertionFailedf("hold %s references missing seats %v", h.ID, missing)
			}
			if ts := seatsStillHeld(h, seats); len(ts) > 0 {
				if _, err := r.inv.BatchTransitionTx(ctx, tx, ts); err != nil {
					return err
				}
			}
			closed = true
			return appendEvent(ctx, tx, "hold", h.ID, domain.EventHoldExpired, domain.NewHoldEvent(*h, now), now)
		})
	})
	if err != nil {
		return false, err
	}
	if closed {
		observability.HoldsClosed.WithLabelValues(string(domain.HoldExpired)).Inc()
	}
	return closed, nil
}
