package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Trigger condition kinds. Conditions are a closed set so rule evaluation is
// exhaustively testable; there is no expression interpreter.
const (
	ConditionMetricThreshold = "metric_threshold"
	ConditionSchedule        = "schedule"
	ConditionEvent           = "event"
)

// TriggerRule pairs a condition with an action template. When the condition
// holds against a perceived system-state snapshot, the template is
// materialized into a WorkItem.
type TriggerRule struct {
	ID            uuid.UUID      `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	Name          string         `gorm:"not null;uniqueIndex" json:"name"`
	ConditionKind string         `gorm:"not null" json:"condition_kind"` // metric_threshold, schedule, event
	Condition     datatypes.JSON `gorm:"type:jsonb" json:"condition"`
	ActionType    string         `gorm:"not null" json:"action_type"`
	Target        string         `json:"target"`
	Priority      string         `gorm:"not null;default:'normal'" json:"priority"`
	Payload       datatypes.JSON `gorm:"type:jsonb" json:"payload,omitempty"`
	Enabled       bool           `gorm:"default:true" json:"enabled"`
	LastFiredAt   *time.Time     `json:"last_fired_at,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
	DeletedAt     gorm.DeletedAt `gorm:"index" json:"-"`
}
