package database

import (
	"errors"

	"github.com/hydralab/warden/internal/models"
	"gorm.io/gorm"
)

// ModeStore persists mode transition history.
type ModeStore struct {
	db *gorm.DB
}

func NewModeStore(db *gorm.DB) *ModeStore {
	return &ModeStore{db: db}
}

func (s *ModeStore) SaveTransition(t models.ModeTransition) error {
	return s.db.Create(&t).Error
}

func (s *ModeStore) LastMode() (string, error) {
	var t models.ModeTransition
	if err := s.db.Order("id DESC").First(&t).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", nil
		}
		return "", err
	}
	return t.ToMode, nil
}

func (s *ModeStore) History(limit int) ([]models.ModeTransition, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	var transitions []models.ModeTransition
	if err := s.db.Order("id DESC").Limit(limit).Find(&transitions).Error; err != nil {
		return nil, err
	}
	return transitions, nil
}
