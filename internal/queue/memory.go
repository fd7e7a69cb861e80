package queue

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hydralab/warden/internal/models"
)

// MemoryStore is an in-memory Store used in tests.
type MemoryStore struct {
	mu    sync.Mutex
	items map[uuid.UUID]*models.WorkItem
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[uuid.UUID]*models.WorkItem)}
}

func (m *MemoryStore) InsertItem(item *models.WorkItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if item.ID == uuid.Nil {
		item.ID = uuid.New()
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now()
	}
	cp := *item
	m.items[item.ID] = &cp
	return nil
}

func (m *MemoryStore) GetItem(id uuid.UUID) (*models.WorkItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *item
	return &cp, nil
}

func (m *MemoryStore) ListItems(status string, limit int) ([]models.WorkItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.WorkItem
	for _, item := range m.items {
		if status != "" && item.Status != status {
			continue
		}
		out = append(out, *item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryStore) ClaimNext(now time.Time) (*models.WorkItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var best *models.WorkItem
	for _, item := range m.items {
		if item.Status != models.WorkQueued {
			continue
		}
		if item.ScheduledAfter != nil && item.ScheduledAfter.After(now) {
			continue
		}
		if best == nil || less(item, best) {
			best = item
		}
	}
	if best == nil {
		return nil, nil
	}
	best.Status = models.WorkProcessing
	best.UpdatedAt = now
	cp := *best
	return &cp, nil
}

// less orders by priority band, then FIFO within the band.
func less(a, b *models.WorkItem) bool {
	ra, rb := models.PriorityRank(a.Priority), models.PriorityRank(b.Priority)
	if ra != rb {
		return ra < rb
	}
	return a.CreatedAt.Before(b.CreatedAt)
}

func (m *MemoryStore) SetItemStatus(id uuid.UUID, status, detail string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[id]
	if !ok {
		return ErrNotFound
	}
	item.Status = status
	item.Detail = detail
	item.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) Requeue(id uuid.UUID, after *time.Time, activityID int64, detail string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[id]
	if !ok {
		return ErrNotFound
	}
	item.Status = models.WorkQueued
	item.ScheduledAfter = after
	if activityID != 0 {
		item.ActivityID = activityID
	}
	item.Detail = detail
	item.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryStore) CancelQueued(id uuid.UUID) (*models.WorkItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[id]
	if !ok {
		return nil, ErrNotFound
	}
	if item.Status != models.WorkQueued {
		return nil, ErrNotCancellable
	}
	item.Status = models.WorkCancelled
	item.UpdatedAt = time.Now()
	cp := *item
	return &cp, nil
}

func (m *MemoryStore) CountItems(status string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, item := range m.items {
		if status == "" || item.Status == status {
			n++
		}
	}
	return n, nil
}
