// Package inventory owns seat status. Every status change goes through
// TryTransition or BatchTransition, which apply only when the stored status
// and version still match what the caller observed.
package inventory

import (
	"context"
	"fmt"
	"slices"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/seat-reservations/internal/domain"
)

// ConflictError reports the first transition whose guard did not hold.
// Nothing in the batch was applied.
type ConflictError struct {
	SeatID     uuid.UUID
	Transition domain.SeatTransition
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("seat %s: expected %s@v%d", e.SeatID, e.Transition.From, e.Transition.ExpectedVersion)
}

func (e *ConflictError) Is(target error) bool {
	return target == domain.ErrConflict
}

type Inventory struct {
	store domain.Store
}

func New(store domain.Store) *Inventory {
	return &Inventory{store: store}
}

// TryTransition applies a single guarded transition in its own transaction
// and returns the seat's new version.
func (i *Inventory) TryTransition(ctx context.Context, t domain.SeatTransition) (int64, error) {
	var version int64
	err := i.store.WithTx(ctx, func(tx domain.Tx) error {
		var err error
		version, err = i.apply(ctx, tx, t)
		return err
	})
	return version, err
}

// BatchTransition applies all transitions in one transaction, or none.
func (i *Inventory) BatchTransition(ctx context.Context, ts []domain.SeatTransition) (map[uuid.UUID]int64, error) {
	var versions map[uuid.UUID]int64
	err := i.store.WithTx(ctx, func(tx domain.Tx) error {
		var err error
		versions, err = i.BatchTransitionTx(ctx, tx, ts)
		return err
	})
	return versions, err
}

// BatchTransitionTx is BatchTransition inside a caller-owned transaction.
// Transitions are applied in ascending seat id order so that overlapping
// batches always contend for seats in the same sequence. On error the
// caller must abandon the transaction.
func (i *Inventory) BatchTransitionTx(ctx context.Context, tx domain.Tx, ts []domain.SeatTransition) (map[uuid.UUID]int64, error) {
	if len(ts) == 0 {
		return nil, domain.Invalid("empty seat transition batch")
	}
	ordered := slices.Clone(ts)
	slices.SortFunc(ordered, func(a, b domain.SeatTransition) int {
		return domain.CompareIDs(a.SeatID, b.SeatID)
	})
	for n := 1; n < len(ordered); n++ {
		if ordered[n].SeatID == ordered[n-1].SeatID {
			return nil, domain.Invalid("seat %s appears twice in one batch", ordered[n].SeatID)
		}
	}

	versions := make(map[uuid.UUID]int64, len(ordered))
	for _, t := range ordered {
		v, err := i.apply(ctx, tx, t)
		if err != nil {
			return nil, err
		}
		versions[t.SeatID] = v
	}
	return versions, nil
}

func (i *Inventory) apply(ctx context.Context, tx domain.Tx, t domain.SeatTransition) (int64, error) {
	v, err := tx.UpdateSeat(ctx, t)
	if errors.Is(err, domain.ErrConflict) {
		return 0, &ConflictError{SeatID: t.SeatID, Transition: t}
	}
	if err != nil {
		return 0, errors.Wrapf(err, "transition seat %s", t.SeatID)
	}
	return v, nil
}

// Snapshot locks and returns the requested seats in ascending id order.
// Unknown ids are reported in missing.
func (i *Inventory) Snapshot(ctx context.Context, tx domain.Tx, ids []uuid.UUID) (seats []domain.Seat, missing []uuid.UUID, err error) {
	seats, err = tx.LockSeats(ctx, ids)
	if err != nil {
		return nil, nil, errors.Wrap(err, "lock seats")
	}
	found := make(map[uuid.UUID]struct{}, len(seats))
	for _, s := range seats {
		found[s.ID] = struct{}{}
	}
	for _, id := range domain.SortedIDs(ids) {
		if _, ok := found[id]; !ok {
			missing = append(missing, id)
		}
	}
	return seats, missing, nil
}

// Lookup is an unlocked read of the given seats.
func (i *Inventory) Lookup(ctx context.Context, ids []uuid.UUID) ([]domain.Seat, error) {
	return i.store.GetSeats(ctx, ids)
}

// List returns a schedule's seats for display. The result may be stale.
func (i *Inventory) List(ctx context.Context, scheduleID uuid.UUID) ([]domain.Seat, error) {
	return i.store.ListSeats(ctx, scheduleID)
}
