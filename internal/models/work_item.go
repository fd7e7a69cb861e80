package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// Work item priorities, highest first.
const (
	PriorityCritical = "critical"
	PriorityHigh     = "high"
	PriorityNormal   = "normal"
	PriorityLow      = "low"
)

// Work item statuses.
const (
	WorkQueued     = "queued"
	WorkProcessing = "processing"
	WorkDone       = "done"
	WorkCancelled  = "cancelled"
	WorkFailed     = "failed"
)

// WorkItem is a unit of deferred work produced by a trigger rule or a direct
// API call, consumed by the worker pool in priority order (FIFO within a
// priority band, eligible once ScheduledAfter has passed).
type WorkItem struct {
	ID             uuid.UUID      `gorm:"type:uuid;default:gen_random_uuid();primaryKey" json:"id"`
	Kind           string         `gorm:"not null;index" json:"kind"`
	ActionType     string         `gorm:"not null" json:"action_type"`
	Target         string         `json:"target"`
	Source         string         `gorm:"not null" json:"source"`
	Priority       string         `gorm:"not null;default:'normal'" json:"priority"` // critical, high, normal, low
	Status         string         `gorm:"not null;default:'queued';index" json:"status"`
	Payload        datatypes.JSON `gorm:"type:jsonb" json:"payload,omitempty"`
	ScheduledAfter *time.Time     `json:"scheduled_after,omitempty"`
	ActivityID     int64          `json:"activity_id,omitempty"` // ledger record of the governing decision
	Detail         string         `json:"detail,omitempty"`      // failure or cancellation reason
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// PriorityRank maps a priority to its scheduling rank. Lower runs first;
// unknown priorities sort after low.
func PriorityRank(p string) int {
	switch p {
	case PriorityCritical:
		return 0
	case PriorityHigh:
		return 1
	case PriorityNormal:
		return 2
	case PriorityLow:
		return 3
	}
	return 4
}
