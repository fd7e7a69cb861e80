package control

import (
	"sync"

	"github.com/hydralab/warden/internal/models"
)

// MemoryStore is an in-memory Store used in tests.
type MemoryStore struct {
	mu          sync.Mutex
	transitions []models.ModeTransition
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) SaveTransition(t models.ModeTransition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t.ID = int64(len(m.transitions) + 1)
	m.transitions = append(m.transitions, t)
	return nil
}

func (m *MemoryStore) LastMode() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.transitions) == 0 {
		return "", nil
	}
	return m.transitions[len(m.transitions)-1].ToMode, nil
}

func (m *MemoryStore) History(limit int) ([]models.ModeTransition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if limit <= 0 || limit > len(m.transitions) {
		limit = len(m.transitions)
	}
	out := make([]models.ModeTransition, 0, limit)
	for i := len(m.transitions) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, m.transitions[i])
	}
	return out, nil
}
