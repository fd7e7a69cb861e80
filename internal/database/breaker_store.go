package database

import (
	"github.com/hydralab/warden/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// BreakerStore persists circuit breaker state.
type BreakerStore struct {
	db *gorm.DB
}

func NewBreakerStore(db *gorm.DB) *BreakerStore {
	return &BreakerStore{db: db}
}

func (s *BreakerStore) SaveBreaker(rec models.BreakerRecord) error {
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "target"}, {Name: "action_type"}},
		UpdateAll: true,
	}).Create(&rec).Error
}

func (s *BreakerStore) LoadBreakers() ([]models.BreakerRecord, error) {
	var recs []models.BreakerRecord
	if err := s.db.Find(&recs).Error; err != nil {
		return nil, err
	}
	return recs, nil
}

func (s *BreakerStore) DeleteBreaker(target, actionType string) error {
	return s.db.Delete(&models.BreakerRecord{}, "target = ? AND action_type = ?", target, actionType).Error
}
