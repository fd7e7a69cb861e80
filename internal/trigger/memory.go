package trigger

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hydralab/warden/internal/models"
)

// MemoryRuleStore is an in-memory RuleStore used in tests.
type MemoryRuleStore struct {
	mu    sync.Mutex
	rules map[uuid.UUID]*models.TriggerRule
}

func NewMemoryRuleStore() *MemoryRuleStore {
	return &MemoryRuleStore{rules: make(map[uuid.UUID]*models.TriggerRule)}
}

func (m *MemoryRuleStore) UpsertRule(rule *models.TriggerRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rule.ID == uuid.Nil {
		rule.ID = uuid.New()
	}
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = time.Now()
	}
	cp := *rule
	m.rules[rule.ID] = &cp
	return nil
}

func (m *MemoryRuleStore) GetRule(id uuid.UUID) (*models.TriggerRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rule, ok := m.rules[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *rule
	return &cp, nil
}

func (m *MemoryRuleStore) GetRuleByName(name string) (*models.TriggerRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, rule := range m.rules {
		if rule.Name == name {
			cp := *rule
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryRuleStore) ListRules() ([]models.TriggerRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.TriggerRule, 0, len(m.rules))
	for _, rule := range m.rules {
		out = append(out, *rule)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MemoryRuleStore) SetRuleEnabled(id uuid.UUID, enabled bool) (*models.TriggerRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rule, ok := m.rules[id]
	if !ok {
		return nil, ErrNotFound
	}
	rule.Enabled = enabled
	rule.UpdatedAt = time.Now()
	cp := *rule
	return &cp, nil
}

func (m *MemoryRuleStore) TouchRuleFired(id uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rule, ok := m.rules[id]
	if !ok {
		return ErrNotFound
	}
	rule.LastFiredAt = &at
	rule.UpdatedAt = at
	return nil
}
