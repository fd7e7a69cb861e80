package database

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/hydralab/warden/internal/models"
	"github.com/hydralab/warden/internal/queue"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// priorityOrder sorts queued items into their scheduling order.
const priorityOrder = "CASE priority WHEN 'critical' THEN 0 WHEN 'high' THEN 1 WHEN 'normal' THEN 2 WHEN 'low' THEN 3 ELSE 4 END, created_at ASC"

// QueueStore is the Postgres-backed work queue store.
type QueueStore struct {
	db *gorm.DB
}

func NewQueueStore(db *gorm.DB) *QueueStore {
	return &QueueStore{db: db}
}

func (s *QueueStore) InsertItem(item *models.WorkItem) error {
	return s.db.Create(item).Error
}

func (s *QueueStore) GetItem(id uuid.UUID) (*models.WorkItem, error) {
	var item models.WorkItem
	if err := s.db.First(&item, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, queue.ErrNotFound
		}
		return nil, err
	}
	return &item, nil
}

func (s *QueueStore) ListItems(status string, limit int) ([]models.WorkItem, error) {
	query := s.db.Order("created_at DESC").Limit(limit)
	if status != "" {
		query = query.Where("status = ?", status)
	}
	var items []models.WorkItem
	if err := query.Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// ClaimNext selects the highest-priority eligible item under a row lock
// with SKIP LOCKED, so concurrent workers never claim the same item.
func (s *QueueStore) ClaimNext(now time.Time) (*models.WorkItem, error) {
	var item models.WorkItem
	err := s.db.Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("status = ?", models.WorkQueued).
			Where("scheduled_after IS NULL OR scheduled_after <= ?", now).
			Order(priorityOrder).
			First(&item).Error
		if err != nil {
			return err
		}
		return tx.Model(&models.WorkItem{}).
			Where("id = ?", item.ID).
			Updates(map[string]interface{}{"status": models.WorkProcessing, "updated_at": now}).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	item.Status = models.WorkProcessing
	return &item, nil
}

func (s *QueueStore) SetItemStatus(id uuid.UUID, status, detail string) error {
	res := s.db.Model(&models.WorkItem{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"status": status, "detail": detail})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return queue.ErrNotFound
	}
	return nil
}

func (s *QueueStore) Requeue(id uuid.UUID, after *time.Time, activityID int64, detail string) error {
	updates := map[string]interface{}{
		"status":          models.WorkQueued,
		"scheduled_after": after,
		"detail":          detail,
	}
	if activityID != 0 {
		updates["activity_id"] = activityID
	}
	res := s.db.Model(&models.WorkItem{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return queue.ErrNotFound
	}
	return nil
}

// CancelQueued cancels only while the item is still queued; the conditional
// update loses the race against a worker claiming it.
func (s *QueueStore) CancelQueued(id uuid.UUID) (*models.WorkItem, error) {
	res := s.db.Model(&models.WorkItem{}).
		Where("id = ? AND status = ?", id, models.WorkQueued).
		Update("status", models.WorkCancelled)
	if res.Error != nil {
		return nil, res.Error
	}
	if res.RowsAffected == 0 {
		if _, err := s.GetItem(id); err != nil {
			return nil, err
		}
		return nil, queue.ErrNotCancellable
	}
	return s.GetItem(id)
}

func (s *QueueStore) CountItems(status string) (int64, error) {
	query := s.db.Model(&models.WorkItem{})
	if status != "" {
		query = query.Where("status = ?", status)
	}
	var n int64
	if err := query.Count(&n).Error; err != nil {
		return 0, err
	}
	return n, nil
}
