package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// FailureEvent is one failure delivered by the alerting pipeline (webhook)
// or reported by a worker. IdempotencyKey dedupes at-least-once delivery so
// a redelivered event never double-counts toward a breaker threshold.
type FailureEvent struct {
	ID             uuid.UUID      `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	IdempotencyKey string         `gorm:"not null;uniqueIndex" json:"idempotency_key"`
	Target         string         `gorm:"not null;index" json:"target"`
	ActionType     string         `json:"action_type"`
	ErrorText      string         `json:"error_text"`
	Pattern        string         `gorm:"index" json:"pattern"` // classified failure pattern
	Details        datatypes.JSON `gorm:"type:jsonb" json:"details,omitempty"`
	OccurredAt     time.Time      `gorm:"not null" json:"occurred_at"`
	CreatedAt      time.Time      `json:"created_at"`
}
