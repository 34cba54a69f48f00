package memory

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/robertarktes/seat-reservations/internal/domain"
)

// lockTable hands out one exclusive lock per row id. Locks are acquired
// during a transaction and released together when it ends (two-phase
// locking). Deadlock freedom relies on callers taking aggregate rows before
// seats and seats in ascending id order.
type lockTable struct {
	mu   sync.Mutex
	rows map[uuid.UUID]chan struct{}
}

func newLockTable() *lockTable {
	return &lockTable{rows: make(map[uuid.UUID]chan struct{})}
}

func (l *lockTable) slot(id uuid.UUID) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.rows[id]
	if !ok {
		ch = make(chan struct{}, 1)
		l.rows[id] = ch
	}
	return ch
}

func (l *lockTable) acquire(ctx context.Context, id uuid.UUID) error {
	select {
	case l.slot(id) <- struct{}{}:
		return nil
	case <-ctx.Done():
		return errors.Mark(errors.Wrapf(ctx.Err(), "waiting for row %s", id), domain.ErrTransient)
	}
}

func (l *lockTable) release(id uuid.UUID) {
	<-l.slot(id)
}
