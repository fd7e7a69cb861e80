package models

import (
	"time"

	"gorm.io/datatypes"
)

// Activity record statuses.
const (
	StatusExecuted = "executed"
	StatusBlocked  = "blocked"
	StatusPending  = "pending"
	StatusApproved = "approved"
	StatusRejected = "rejected"
)

// Activity record outcomes, reported back by the caller after execution.
const (
	ResultOK      = "ok"
	ResultError   = "error"
	ResultTimeout = "timeout"
)

// ActivityRecord is one entry in the append-only activity ledger. The
// auto-incrementing ID doubles as the insertion order; Timestamp is set at
// insert and never altered. Only Result/ResultDetail and Status (through the
// approval workflow) change after creation.
type ActivityRecord struct {
	ID             int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	Timestamp      time.Time      `gorm:"not null;index" json:"timestamp"`
	Source         string         `gorm:"not null;index" json:"source"`
	ActionType     string         `gorm:"not null;index" json:"action_type"` // restart, maintenance, inference_batch, ...
	Target         string         `gorm:"index" json:"target"`
	Params         datatypes.JSON `gorm:"type:jsonb" json:"params,omitempty"`
	Status         string         `gorm:"not null;index" json:"status"` // executed, blocked, pending, approved, rejected
	Result         string         `json:"result,omitempty"`             // ok, error, timeout
	ResultDetail   string         `json:"result_detail,omitempty"`
	DecisionReason string         `json:"decision_reason,omitempty"`
	ResolvedBy     string         `json:"resolved_by,omitempty"` // actor who approved or rejected
	ResolvedAt     *time.Time     `json:"resolved_at,omitempty"`
}

// ModeTransition records one change of the operating mode. Transitions are
// also written to the activity ledger; this table keeps the compact history
// the mode endpoint serves.
type ModeTransition struct {
	ID       int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	FromMode string    `gorm:"not null" json:"from_mode"`
	ToMode   string    `gorm:"not null" json:"to_mode"`
	Actor    string    `gorm:"not null" json:"actor"`
	At       time.Time `gorm:"not null" json:"at"`
}
