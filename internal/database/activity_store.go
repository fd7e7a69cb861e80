package database

import (
	"errors"
	"time"

	"github.com/hydralab/warden/internal/ledger"
	"github.com/hydralab/warden/internal/models"
	"gorm.io/gorm"
)

// ActivityStore is the Postgres-backed ledger store.
type ActivityStore struct {
	db *gorm.DB
}

func NewActivityStore(db *gorm.DB) *ActivityStore {
	return &ActivityStore{db: db}
}

func (s *ActivityStore) Insert(rec *models.ActivityRecord) error {
	return s.db.Create(rec).Error
}

func (s *ActivityStore) Get(id int64) (*models.ActivityRecord, error) {
	var rec models.ActivityRecord
	if err := s.db.First(&rec, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ledger.ErrNotFound
		}
		return nil, err
	}
	return &rec, nil
}

func (s *ActivityStore) List(f ledger.QueryFilter) ([]models.ActivityRecord, int64, error) {
	query := s.db.Model(&models.ActivityRecord{})
	if f.Source != "" {
		query = query.Where("source = ?", f.Source)
	}
	if f.ActionType != "" {
		query = query.Where("action_type = ?", f.ActionType)
	}
	if f.Target != "" {
		query = query.Where("target = ?", f.Target)
	}
	if f.Status != "" {
		query = query.Where("status = ?", f.Status)
	}
	if f.Since != nil {
		query = query.Where("timestamp >= ?", *f.Since)
	}
	if f.Until != nil {
		query = query.Where("timestamp <= ?", *f.Until)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var recs []models.ActivityRecord
	if err := query.Order("id DESC").Offset(f.Offset).Limit(f.Limit).Find(&recs).Error; err != nil {
		return nil, 0, err
	}
	return recs, total, nil
}

// ResolvePending is a conditional update so two concurrent approvals cannot
// both succeed.
func (s *ActivityStore) ResolvePending(id int64, newStatus, actor string, at time.Time) (*models.ActivityRecord, error) {
	res := s.db.Model(&models.ActivityRecord{}).
		Where("id = ? AND status = ?", id, models.StatusPending).
		Updates(map[string]interface{}{
			"status":      newStatus,
			"resolved_by": actor,
			"resolved_at": at,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		// Distinguish missing from already resolved.
		if _, err := s.Get(id); err != nil {
			return nil, err
		}
		return nil, ledger.ErrNotPending
	}
	return s.Get(id)
}

func (s *ActivityStore) SetResult(id int64, result, detail string) (*models.ActivityRecord, error) {
	res := s.db.Model(&models.ActivityRecord{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"result":        result,
			"result_detail": detail,
		})
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		return nil, ledger.ErrNotFound
	}
	return s.Get(id)
}

func (s *ActivityStore) Ping() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Ping()
}
