package database

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/hydralab/warden/internal/models"
	"github.com/hydralab/warden/internal/trigger"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RuleStore is the Postgres-backed trigger rule store.
type RuleStore struct {
	db *gorm.DB
}

func NewRuleStore(db *gorm.DB) *RuleStore {
	return &RuleStore{db: db}
}

func (s *RuleStore) UpsertRule(rule *models.TriggerRule) error {
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(rule).Error
}

func (s *RuleStore) GetRule(id uuid.UUID) (*models.TriggerRule, error) {
	var rule models.TriggerRule
	if err := s.db.First(&rule, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, trigger.ErrNotFound
		}
		return nil, err
	}
	return &rule, nil
}

func (s *RuleStore) GetRuleByName(name string) (*models.TriggerRule, error) {
	var rule models.TriggerRule
	if err := s.db.First(&rule, "name = ?", name).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, trigger.ErrNotFound
		}
		return nil, err
	}
	return &rule, nil
}

func (s *RuleStore) ListRules() ([]models.TriggerRule, error) {
	var rules []models.TriggerRule
	if err := s.db.Order("name ASC").Find(&rules).Error; err != nil {
		return nil, err
	}
	return rules, nil
}

func (s *RuleStore) SetRuleEnabled(id uuid.UUID, enabled bool) (*models.TriggerRule, error) {
	res := s.db.Model(&models.TriggerRule{}).Where("id = ?", id).Update("enabled", enabled)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, trigger.ErrNotFound
	}
	return s.GetRule(id)
}

func (s *RuleStore) TouchRuleFired(id uuid.UUID, at time.Time) error {
	return s.db.Model(&models.TriggerRule{}).Where("id = ?", id).Update("last_fired_at", at).Error
}
