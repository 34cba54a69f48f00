package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/robertarktes/seat-reservations/internal/domain"
)

// Schedules is a fixed ScheduleDirectory for development runs and tests.
type Schedules struct {
	mu        sync.RWMutex
	schedules map[uuid.UUID]domain.Schedule
}

func NewSchedules(schedules ...domain.Schedule) *Schedules {
	d := &Schedules{schedules: make(map[uuid.UUID]domain.Schedule)}
	for _, s := range schedules {
		d.schedules[s.ID] = s
	}
	return d
}

func (d *Schedules) Put(s domain.Schedule) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.schedules[s.ID] = s
}

func (d *Schedules) GetSchedule(ctx context.Context, id uuid.UUID) (*domain.Schedule, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	s, ok := d.schedules[id]
	if !ok {
		return nil, domain.ErrScheduleNotFound
	}
	return &s, nil
}
