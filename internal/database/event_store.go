package database

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/hydralab/warden/internal/advisor"
	"github.com/hydralab/warden/internal/models"
	"gorm.io/gorm"
)

// EventStore is the Postgres-backed failure event store. The unique index
// on idempotency_key enforces at-least-once dedupe.
type EventStore struct {
	db *gorm.DB
}

func NewEventStore(db *gorm.DB) *EventStore {
	return &EventStore{db: db}
}

func (s *EventStore) InsertEvent(event *models.FailureEvent) error {
	if err := s.db.Create(event).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return advisor.ErrDuplicate
		}
		return err
	}
	return nil
}

func (s *EventStore) GetEvent(id uuid.UUID) (*models.FailureEvent, error) {
	var event models.FailureEvent
	if err := s.db.First(&event, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, advisor.ErrNotFound
		}
		return nil, err
	}
	return &event, nil
}

func (s *EventStore) GetEventByKey(idempotencyKey string) (*models.FailureEvent, error) {
	var event models.FailureEvent
	if err := s.db.First(&event, "idempotency_key = ?", idempotencyKey).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, advisor.ErrNotFound
		}
		return nil, err
	}
	return &event, nil
}

func (s *EventStore) ListEvents(target string, limit int) ([]models.FailureEvent, error) {
	query := s.db.Order("occurred_at DESC").Limit(limit)
	if target != "" {
		query = query.Where("target = ?", target)
	}
	var events []models.FailureEvent
	if err := query.Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}

func (s *EventStore) CountSignature(pattern, target string, since time.Time) (int64, error) {
	var n int64
	err := s.db.Model(&models.FailureEvent{}).
		Where("pattern = ? AND target = ? AND occurred_at >= ?", pattern, target, since).
		Count(&n).Error
	return n, err
}
