package ledger

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/hydralab/warden/internal/models"
)

// MemoryStore is an in-memory Store used by tests across the governance
// packages. SetFailing simulates persistence loss.
type MemoryStore struct {
	mu      sync.Mutex
	records []models.ActivityRecord
	nextID  int64
	failing bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{nextID: 1}
}

// SetFailing makes every subsequent write and ping fail, simulating an
// unavailable backing store.
func (m *MemoryStore) SetFailing(failing bool) {
	m.mu.Lock()
	m.failing = failing
	m.mu.Unlock()
}

var errSimulatedOutage = errors.New("simulated store outage")

func (m *MemoryStore) Insert(rec *models.ActivityRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing {
		return errSimulatedOutage
	}
	rec.ID = m.nextID
	m.nextID++
	m.records = append(m.records, *rec)
	return nil
}

func (m *MemoryStore) Get(id int64) (*models.ActivityRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.records {
		if m.records[i].ID == id {
			rec := m.records[i]
			return &rec, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) List(f QueryFilter) ([]models.ActivityRecord, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var matched []models.ActivityRecord
	for _, rec := range m.records {
		if f.Source != "" && rec.Source != f.Source {
			continue
		}
		if f.ActionType != "" && rec.ActionType != f.ActionType {
			continue
		}
		if f.Target != "" && rec.Target != f.Target {
			continue
		}
		if f.Status != "" && rec.Status != f.Status {
			continue
		}
		if f.Since != nil && rec.Timestamp.Before(*f.Since) {
			continue
		}
		if f.Until != nil && rec.Timestamp.After(*f.Until) {
			continue
		}
		matched = append(matched, rec)
	}
	total := int64(len(matched))

	// Newest first, matching the Postgres implementation.
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID > matched[j].ID })

	if f.Offset > 0 {
		if f.Offset >= len(matched) {
			return nil, total, nil
		}
		matched = matched[f.Offset:]
	}
	if f.Limit > 0 && len(matched) > f.Limit {
		matched = matched[:f.Limit]
	}
	return matched, total, nil
}

func (m *MemoryStore) ResolvePending(id int64, newStatus, actor string, at time.Time) (*models.ActivityRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.records {
		if m.records[i].ID != id {
			continue
		}
		if m.records[i].Status != models.StatusPending {
			return nil, ErrNotPending
		}
		m.records[i].Status = newStatus
		m.records[i].ResolvedBy = actor
		m.records[i].ResolvedAt = &at
		rec := m.records[i]
		return &rec, nil
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) SetResult(id int64, result, detail string) (*models.ActivityRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.records {
		if m.records[i].ID == id {
			m.records[i].Result = result
			m.records[i].ResultDetail = detail
			rec := m.records[i]
			return &rec, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) Ping() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing {
		return errSimulatedOutage
	}
	return nil
}
