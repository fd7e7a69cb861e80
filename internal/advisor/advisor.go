package advisor

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hydralab/warden/internal/models"
	"gorm.io/datatypes"
)

var (
	ErrNotFound = errors.New("failure event not found")
	// ErrDuplicate marks an event already recorded under the same
	// idempotency key. Redelivery is expected from at-least-once sources.
	ErrDuplicate = errors.New("duplicate failure event")
)

// Known failure patterns.
const (
	PatternRestartLoop       = "restart_loop"
	PatternOOM               = "oom"
	PatternConfigError       = "config_error"
	PatternConnectionRefused = "connection_refused"
	PatternDiskFull          = "disk_full"
	PatternUnknown           = "unknown"
)

// EventStore persists failure events. Insert must enforce idempotency-key
// uniqueness.
type EventStore interface {
	// InsertEvent stores a new event, returning ErrDuplicate when the
	// idempotency key is already present.
	InsertEvent(event *models.FailureEvent) error
	GetEvent(id uuid.UUID) (*models.FailureEvent, error)
	GetEventByKey(idempotencyKey string) (*models.FailureEvent, error)
	ListEvents(target string, limit int) ([]models.FailureEvent, error)
	// CountSignature counts events with the same (pattern, target) since
	// the given time.
	CountSignature(pattern, target string, since time.Time) (int64, error)
}

// OutcomeSink receives deduplicated failures; the breaker registry
// implements it.
type OutcomeSink interface {
	RecordOutcome(target, actionType string, success bool)
}

// PatternMatch is the classification result for one failure event.
type PatternMatch struct {
	EventID     uuid.UUID `json:"event_id"`
	Pattern     string    `json:"pattern"`
	Known       bool      `json:"known"`
	NeedsHuman  bool      `json:"needs_human"`
	RecentCount int64     `json:"recent_count"` // same signature in the last hour
	Duplicate   bool      `json:"duplicate"`
}

// Remediation is a proposed corrective action. It is never executed by the
// advisor itself; the caller submits it through the gate like any other
// proposal.
type Remediation struct {
	ActionType string         `json:"action_type"`
	Target     string         `json:"target"`
	Params     map[string]any `json:"params,omitempty"`
	// NeedsHuman escalates the proposal to require approval regardless of
	// mode: this pattern has previously required human intervention.
	NeedsHuman bool `json:"needs_human"`
}

// remedy describes how a known pattern is handled.
type remedy struct {
	actionType string
	needsHuman bool
}

// remedies maps patterns to remediations. Patterns with no entry have no
// safe automatic fix; restart_loop in particular must never be answered
// with another restart.
var remedies = map[string]remedy{
	PatternConnectionRefused: {actionType: "restart", needsHuman: false},
	PatternOOM:               {actionType: "restart", needsHuman: false},
	PatternDiskFull:          {actionType: "prune_storage", needsHuman: true},
	PatternConfigError:       {actionType: "rollback_config", needsHuman: true},
}

// Service classifies failure events and proposes remediations.
type Service struct {
	store    EventStore
	outcomes OutcomeSink
	onRecord func(pattern string)
}

func NewService(store EventStore, outcomes OutcomeSink) *Service {
	return &Service{store: store, outcomes: outcomes}
}

// OnRecord registers a callback for each newly recorded (non-duplicate)
// failure, keyed by pattern. The trigger engine uses it for event rules.
func (s *Service) OnRecord(fn func(pattern string)) { s.onRecord = fn }

// FailureReport is an incoming failure delivery.
type FailureReport struct {
	IdempotencyKey string         `json:"idempotency_key"`
	Target         string         `json:"target"`
	ActionType     string         `json:"action_type"`
	ErrorText      string         `json:"error_text"`
	Details        map[string]any `json:"details,omitempty"`
	OccurredAt     time.Time      `json:"occurred_at"`
}

// RecordFailure classifies and stores one failure event. Redelivery under
// the same idempotency key returns the original classification marked
// Duplicate and does not count again toward the breaker threshold.
func (s *Service) RecordFailure(report FailureReport) (PatternMatch, error) {
	if report.IdempotencyKey == "" {
		return PatternMatch{}, fmt.Errorf("idempotency_key is required")
	}
	if report.Target == "" {
		return PatternMatch{}, fmt.Errorf("target is required")
	}

	pattern := Classify(report.ErrorText)
	occurredAt := report.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now()
	}

	event := &models.FailureEvent{
		ID:             uuid.New(),
		IdempotencyKey: report.IdempotencyKey,
		Target:         report.Target,
		ActionType:     report.ActionType,
		ErrorText:      report.ErrorText,
		Pattern:        pattern,
		Details:        marshalDetails(report.Details),
		OccurredAt:     occurredAt,
	}

	if err := s.store.InsertEvent(event); err != nil {
		if errors.Is(err, ErrDuplicate) {
			existing, lookupErr := s.store.GetEventByKey(report.IdempotencyKey)
			if lookupErr != nil {
				return PatternMatch{}, lookupErr
			}
			match := s.match(existing)
			match.Duplicate = true
			return match, nil
		}
		return PatternMatch{}, fmt.Errorf("record failure: %w", err)
	}

	// Deduplicated failures feed the breaker: this is how repeated
	// identical failures trip it before a remediation loop runs away.
	if s.outcomes != nil && report.ActionType != "" {
		s.outcomes.RecordOutcome(report.Target, report.ActionType, false)
	}
	if s.onRecord != nil {
		s.onRecord(pattern)
	}

	match := s.match(event)
	slog.Info("Failure recorded",
		"target", report.Target,
		"pattern", pattern,
		"recent_count", match.RecentCount,
	)
	return match, nil
}

// SuggestRemediation proposes a corrective action for a recorded event, or
// nil when no safe remediation is known.
func (s *Service) SuggestRemediation(eventID uuid.UUID) (*Remediation, error) {
	event, err := s.store.GetEvent(eventID)
	if err != nil {
		return nil, err
	}
	rem, ok := remedies[event.Pattern]
	if !ok {
		return nil, nil
	}
	return &Remediation{
		ActionType: rem.actionType,
		Target:     event.Target,
		Params: map[string]any{
			"failure_event": event.ID.String(),
			"pattern":       event.Pattern,
		},
		NeedsHuman: rem.needsHuman,
	}, nil
}

// Events lists recorded failures, newest first.
func (s *Service) Events(target string, limit int) ([]models.FailureEvent, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.store.ListEvents(target, limit)
}

func (s *Service) match(event *models.FailureEvent) PatternMatch {
	count, err := s.store.CountSignature(event.Pattern, event.Target, time.Now().Add(-time.Hour))
	if err != nil {
		count = 0
	}
	_, known := remedies[event.Pattern]
	needsHuman := false
	if r, ok := remedies[event.Pattern]; ok {
		needsHuman = r.needsHuman
	}
	// A restart loop is known but has no remediation entry; it always
	// needs a human.
	if event.Pattern == PatternRestartLoop {
		known = true
		needsHuman = true
	}
	return PatternMatch{
		EventID:     event.ID,
		Pattern:     event.Pattern,
		Known:       known,
		NeedsHuman:  needsHuman,
		RecentCount: count,
	}
}

// Classify maps raw error text to a failure pattern.
func Classify(errorText string) string {
	text := strings.ToLower(errorText)
	switch {
	case containsAny(text, "restart loop", "restarting too quickly", "start request repeated too quickly", "crashloopbackoff"):
		return PatternRestartLoop
	case containsAny(text, "out of memory", "oom", "cannot allocate memory", "memory limit"):
		return PatternOOM
	case containsAny(text, "invalid config", "configuration error", "config parse", "unknown flag", "bad option", "unrecognized argument"):
		return PatternConfigError
	case containsAny(text, "connection refused", "no route to host", "dial tcp", "connection reset"):
		return PatternConnectionRefused
	case containsAny(text, "no space left on device", "disk full", "disk quota exceeded"):
		return PatternDiskFull
	}
	return PatternUnknown
}

func marshalDetails(details map[string]any) datatypes.JSON {
	if len(details) == 0 {
		return nil
	}
	b, err := json.Marshal(details)
	if err != nil {
		return nil
	}
	return datatypes.JSON(b)
}

func containsAny(text string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(text, n) {
			return true
		}
	}
	return false
}
