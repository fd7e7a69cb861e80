package advisor

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hydralab/warden/internal/models"
)

// MemoryEventStore is an in-memory EventStore used in tests.
type MemoryEventStore struct {
	mu     sync.Mutex
	events []models.FailureEvent
	byKey  map[string]uuid.UUID
}

func NewMemoryEventStore() *MemoryEventStore {
	return &MemoryEventStore{byKey: make(map[string]uuid.UUID)}
}

func (m *MemoryEventStore) InsertEvent(event *models.FailureEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.byKey[event.IdempotencyKey]; exists {
		return ErrDuplicate
	}
	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}
	m.events = append(m.events, *event)
	m.byKey[event.IdempotencyKey] = event.ID
	return nil
}

func (m *MemoryEventStore) GetEvent(id uuid.UUID) (*models.FailureEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.events {
		if m.events[i].ID == id {
			event := m.events[i]
			return &event, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryEventStore) GetEventByKey(idempotencyKey string) (*models.FailureEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byKey[idempotencyKey]
	if !ok {
		return nil, ErrNotFound
	}
	for i := range m.events {
		if m.events[i].ID == id {
			event := m.events[i]
			return &event, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryEventStore) ListEvents(target string, limit int) ([]models.FailureEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.FailureEvent
	for _, event := range m.events {
		if target != "" && event.Target != target {
			continue
		}
		out = append(out, event)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OccurredAt.After(out[j].OccurredAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryEventStore) CountSignature(pattern, target string, since time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for _, event := range m.events {
		if event.Pattern == pattern && event.Target == target && !event.OccurredAt.Before(since) {
			n++
		}
	}
	return n, nil
}
