package models

import "time"

// Circuit breaker states.
const (
	BreakerClosed   = "closed"
	BreakerOpen     = "open"
	BreakerHalfOpen = "half_open"
)

// BreakerRecord is the persisted state of one (target, action_type) circuit
// breaker. The in-memory registry is authoritative at runtime; rows exist so
// a restart of the governance core does not forget tripped breakers.
type BreakerRecord struct {
	Target       string     `gorm:"primaryKey" json:"target"`
	ActionType   string     `gorm:"primaryKey" json:"action_type"`
	State        string     `gorm:"not null;default:'closed'" json:"state"` // closed, open, half_open
	FailureCount int        `gorm:"default:0" json:"failure_count"`
	WindowStart  *time.Time `json:"window_start,omitempty"`
	OpenedAt     *time.Time `json:"opened_at,omitempty"`
	UpdatedAt    time.Time  `json:"updated_at"`
}
