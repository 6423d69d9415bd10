package regional

import (
	"context"
	"sync"
)

type MemoryRepository struct {
	mu      sync.RWMutex
	records []Record
	ids     map[string]struct{}
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{ids: make(map[string]struct{})}
}

func (m *MemoryRepository) Insert(_ context.Context, r *Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := r.ID.String()
	if _, ok := m.ids[key]; ok {
		return ErrRecordExists
	}
	m.ids[key] = struct{}{}
	m.records = append(m.records, *r)
	return nil
}

func (m *MemoryRepository) ListBySchedule(_ context.Context, scheduleID int64) ([]Record, error) {
	return m.filter(func(r Record) bool { return r.ScheduleID == scheduleID }), nil
}

func (m *MemoryRepository) ListByInsured(_ context.Context, insuredID string) ([]Record, error) {
	return m.filter(func(r Record) bool { return r.InsuredID == insuredID }), nil
}

func (m *MemoryRepository) Ping(context.Context) error { return nil }

// Len returns the number of stored records.
func (m *MemoryRepository) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

func (m *MemoryRepository) filter(keep func(Record) bool) []Record {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := []Record{}
	for _, r := range m.records {
		if keep(r) {
			out = append(out, r)
		}
	}
	return out
}
