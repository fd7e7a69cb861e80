package trigger

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hydralab/warden/internal/models"
	"github.com/hydralab/warden/internal/policy"
	"github.com/hydralab/warden/internal/queue"
	"gorm.io/datatypes"
)

var ErrNotFound = errors.New("trigger rule not found")

// SystemState is one perceived snapshot of the systems under governance:
// a flat key/value sample produced by external collaborators.
type SystemState struct {
	SampledAt time.Time          `json:"sampled_at"`
	Metrics   map[string]float64 `json:"metrics"`
}

// StateSource contributes metrics to the perceived snapshot.
type StateSource interface {
	Name() string
	Sample() (map[string]float64, error)
}

// Condition is the decoded condition of a trigger rule. The kind on the
// rule selects which fields apply; the set of kinds is closed.
type Condition struct {
	Metric      string  `json:"metric,omitempty"`
	Operator    string  `json:"operator,omitempty"` // >, <, >=, <=, ==
	Threshold   float64 `json:"threshold,omitempty"`
	Consecutive int     `json:"consecutive,omitempty"`
	Every       string  `json:"every,omitempty"`   // schedule interval
	Pattern     string  `json:"pattern,omitempty"` // failure pattern name
}

// RuleStore persists trigger rules.
type RuleStore interface {
	UpsertRule(rule *models.TriggerRule) error
	GetRule(id uuid.UUID) (*models.TriggerRule, error)
	GetRuleByName(name string) (*models.TriggerRule, error)
	ListRules() ([]models.TriggerRule, error)
	SetRuleEnabled(id uuid.UUID, enabled bool) (*models.TriggerRule, error)
	TouchRuleFired(id uuid.UUID, at time.Time) error
}

// EvalResult is one row of a dry-run evaluation.
type EvalResult struct {
	Rule      models.TriggerRule `json:"rule"`
	WouldFire bool               `json:"would_fire"`
	Reason    string             `json:"reason"`
}

// ruleState is per-rule runtime bookkeeping the live loop maintains.
type ruleState struct {
	consecutive   int
	pendingEvents int
}

// Engine samples system state, evaluates enabled rules against it, and
// enqueues work items for rules that fire. Evaluation-and-enqueue for a
// rule is atomic with respect to the loop: a single goroutine runs it, so a
// rule cannot enqueue twice for one snapshot.
type Engine struct {
	store RuleStore
	queue *queue.Service

	mu      sync.Mutex
	sources []StateSource
	state   map[uuid.UUID]*ruleState

	interval time.Duration
	stop     chan struct{}
	done     chan struct{}
}

func NewEngine(store RuleStore, q *queue.Service, interval time.Duration) *Engine {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Engine{
		store:    store,
		queue:    q,
		state:    make(map[uuid.UUID]*ruleState),
		interval: interval,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// AddSource registers a state source consulted by Perceive.
func (e *Engine) AddSource(src StateSource) {
	e.mu.Lock()
	e.sources = append(e.sources, src)
	e.mu.Unlock()
}

// NotifyFailure feeds a classified failure event to event-kind rules.
func (e *Engine) NotifyFailure(pattern string) {
	rules, err := e.store.ListRules()
	if err != nil {
		slog.Error("Failed to list rules for failure notification", "error", err)
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, r := range rules {
		if r.ConditionKind != models.ConditionEvent || !r.Enabled {
			continue
		}
		cond, err := decodeCondition(r.Condition)
		if err != nil || cond.Pattern != pattern {
			continue
		}
		e.stateFor(r.ID).pendingEvents++
	}
}

// SyncRules upserts the declarative rules from the policy file, keyed by
// name. Rules created through the API are left untouched.
func (e *Engine) SyncRules(specs []policy.RuleSpec) error {
	for _, spec := range specs {
		rule, err := ruleFromSpec(spec)
		if err != nil {
			return fmt.Errorf("rule %q: %w", spec.Name, err)
		}
		if existing, err := e.store.GetRuleByName(spec.Name); err == nil {
			rule.ID = existing.ID
			rule.LastFiredAt = existing.LastFiredAt
		}
		if err := e.store.UpsertRule(rule); err != nil {
			return fmt.Errorf("sync rule %q: %w", spec.Name, err)
		}
	}
	return nil
}

// Perceive samples every registered source into one snapshot. Side-effect
// free; exposed so rules can be tested against synthetic states.
func (e *Engine) Perceive() SystemState {
	e.mu.Lock()
	sources := make([]StateSource, len(e.sources))
	copy(sources, e.sources)
	e.mu.Unlock()

	state := SystemState{SampledAt: time.Now(), Metrics: make(map[string]float64)}
	for _, src := range sources {
		sample, err := src.Sample()
		if err != nil {
			slog.Warn("State source failed", "source", src.Name(), "error", err)
			continue
		}
		for k, v := range sample {
			state.Metrics[k] = v
		}
	}
	return state
}

// Evaluate is the dry-run: it reports which enabled rules would fire
// against the given state without enqueuing anything or advancing rule
// bookkeeping.
func (e *Engine) Evaluate(state SystemState) ([]EvalResult, error) {
	rules, err := e.store.ListRules()
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	out := make([]EvalResult, 0, len(rules))
	for _, rule := range rules {
		if !rule.Enabled {
			out = append(out, EvalResult{Rule: rule, WouldFire: false, Reason: "disabled"})
			continue
		}
		fire, reason := e.wouldFireLocked(rule, state, false)
		out = append(out, EvalResult{Rule: rule, WouldFire: fire, Reason: reason})
	}
	return out, nil
}

// Rules lists all rules.
func (e *Engine) Rules() ([]models.TriggerRule, error) {
	return e.store.ListRules()
}

// SetEnabled toggles a rule.
func (e *Engine) SetEnabled(id uuid.UUID, enabled bool) (*models.TriggerRule, error) {
	rule, err := e.store.SetRuleEnabled(id, enabled)
	if err != nil {
		return nil, err
	}
	slog.Info("Trigger rule toggled", "rule", rule.Name, "enabled", enabled)
	return rule, nil
}

// Start launches the evaluation loop.
func (e *Engine) Start() {
	go e.loop()
	slog.Info("Trigger engine started", "interval", e.interval)
}

// Stop halts the loop and waits for the current pass to finish.
func (e *Engine) Stop() {
	close(e.stop)
	<-e.done
	slog.Info("Trigger engine stopped")
}

func (e *Engine) loop() {
	defer close(e.done)
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			e.tick()
		case <-e.stop:
			return
		}
	}
}

// tick runs one live evaluation pass.
func (e *Engine) tick() {
	state := e.Perceive()
	rules, err := e.store.ListRules()
	if err != nil {
		slog.Error("Failed to list trigger rules", "error", err)
		return
	}

	for _, rule := range rules {
		if !rule.Enabled {
			continue
		}
		e.mu.Lock()
		fire, _ := e.wouldFireLocked(rule, state, true)
		e.mu.Unlock()
		if !fire {
			continue
		}
		e.fire(rule, state)
	}
}

func (e *Engine) fire(rule models.TriggerRule, state SystemState) {
	payload := map[string]any{"rule": rule.Name, "sampled_at": state.SampledAt}
	var decoded map[string]any
	if len(rule.Payload) > 0 && json.Unmarshal(rule.Payload, &decoded) == nil {
		for k, v := range decoded {
			payload[k] = v
		}
	}

	item, err := e.queue.Enqueue(queue.EnqueueRequest{
		Kind:       rule.ActionType,
		ActionType: rule.ActionType,
		Target:     rule.Target,
		Source:     "trigger:" + rule.Name,
		Priority:   rule.Priority,
		Payload:    payload,
	})
	if err != nil {
		slog.Error("Trigger rule failed to enqueue", "rule", rule.Name, "error", err)
		return
	}
	if err := e.store.TouchRuleFired(rule.ID, time.Now()); err != nil {
		slog.Error("Failed to stamp rule fire time", "rule", rule.Name, "error", err)
	}
	slog.Info("Trigger rule fired", "rule", rule.Name, "work_item", item.ID)
}

// wouldFireLocked evaluates one rule. When advance is true the rule's
// runtime counters move (live loop); when false they are only read
// (dry-run).
func (e *Engine) wouldFireLocked(rule models.TriggerRule, state SystemState, advance bool) (bool, string) {
	cond, err := decodeCondition(rule.Condition)
	if err != nil {
		return false, fmt.Sprintf("invalid condition: %v", err)
	}
	rs := e.stateFor(rule.ID)

	switch rule.ConditionKind {
	case models.ConditionMetricThreshold:
		value, ok := state.Metrics[cond.Metric]
		if !ok {
			if advance {
				rs.consecutive = 0
			}
			return false, fmt.Sprintf("metric %q absent from snapshot", cond.Metric)
		}
		if !compare(value, cond.Operator, cond.Threshold) {
			if advance {
				rs.consecutive = 0
			}
			return false, fmt.Sprintf("%s=%g does not satisfy %s %g", cond.Metric, value, cond.Operator, cond.Threshold)
		}
		needed := cond.Consecutive
		if needed <= 0 {
			needed = 1
		}
		seen := rs.consecutive + 1
		if advance {
			if seen >= needed {
				rs.consecutive = 0
			} else {
				rs.consecutive = seen
			}
		}
		if seen >= needed {
			return true, fmt.Sprintf("%s=%g satisfied %s %g for %d consecutive samples", cond.Metric, value, cond.Operator, cond.Threshold, seen)
		}
		return false, fmt.Sprintf("condition held %d/%d consecutive samples", seen, needed)

	case models.ConditionSchedule:
		every, err := time.ParseDuration(cond.Every)
		if err != nil || every <= 0 {
			return false, fmt.Sprintf("invalid schedule interval %q", cond.Every)
		}
		if rule.LastFiredAt != nil && state.SampledAt.Sub(*rule.LastFiredAt) < every {
			return false, fmt.Sprintf("next due %s", rule.LastFiredAt.Add(every).Format(time.RFC3339))
		}
		return true, "schedule due"

	case models.ConditionEvent:
		if rs.pendingEvents == 0 {
			return false, fmt.Sprintf("no %q failure events since last fire", cond.Pattern)
		}
		n := rs.pendingEvents
		if advance {
			rs.pendingEvents = 0
		}
		return true, fmt.Sprintf("%d %q failure event(s) pending", n, cond.Pattern)
	}
	return false, fmt.Sprintf("unknown condition kind %q", rule.ConditionKind)
}

func (e *Engine) stateFor(id uuid.UUID) *ruleState {
	rs, ok := e.state[id]
	if !ok {
		rs = &ruleState{}
		e.state[id] = rs
	}
	return rs
}

func compare(value float64, op string, threshold float64) bool {
	switch op {
	case ">":
		return value > threshold
	case "<":
		return value < threshold
	case ">=":
		return value >= threshold
	case "<=":
		return value <= threshold
	case "==":
		return value == threshold
	}
	return false
}

func decodeCondition(raw datatypes.JSON) (Condition, error) {
	var cond Condition
	if len(raw) == 0 {
		return cond, fmt.Errorf("empty condition")
	}
	if err := json.Unmarshal(raw, &cond); err != nil {
		return cond, err
	}
	return cond, nil
}

func ruleFromSpec(spec policy.RuleSpec) (*models.TriggerRule, error) {
	switch spec.Kind {
	case models.ConditionMetricThreshold, models.ConditionSchedule, models.ConditionEvent:
	default:
		return nil, fmt.Errorf("unknown condition kind %q", spec.Kind)
	}
	if spec.Name == "" || spec.ActionType == "" {
		return nil, fmt.Errorf("name and action_type are required")
	}
	cond := Condition{
		Metric:      spec.Metric,
		Operator:    spec.Operator,
		Threshold:   spec.Threshold,
		Consecutive: spec.Consecutive,
		Every:       spec.Every,
		Pattern:     spec.Pattern,
	}
	b, err := json.Marshal(cond)
	if err != nil {
		return nil, err
	}
	priority := spec.Priority
	if priority == "" {
		priority = models.PriorityNormal
	}
	enabled := true
	if spec.Enabled != nil {
		enabled = *spec.Enabled
	}
	return &models.TriggerRule{
		ID:            uuid.New(),
		Name:          spec.Name,
		ConditionKind: spec.Kind,
		Condition:     datatypes.JSON(b),
		ActionType:    spec.ActionType,
		Target:        spec.Target,
		Priority:      priority,
		Enabled:       enabled,
	}, nil
}
