package breaker

import (
	"log/slog"
	"sync"
	"time"

	"github.com/hydralab/warden/internal/models"
)

// Store persists breaker state so tripped breakers survive a restart of the
// governance core. Writes happen outside the registry lock.
type Store interface {
	SaveBreaker(rec models.BreakerRecord) error
	LoadBreakers() ([]models.BreakerRecord, error)
	DeleteBreaker(target, actionType string) error
}

// Config tunes the breaker state machine. Zero values fall back to the
// documented defaults; thresholds are operator policy, not constants.
type Config struct {
	FailureThreshold int
	Window           time.Duration
	Cooldown         time.Duration
}

type key struct {
	target     string
	actionType string
}

type state struct {
	state        string
	failureCount int
	windowStart  time.Time
	openedAt     time.Time
}

// Registry tracks one three-state breaker per (target, action_type) pair.
// All transitions happen under a single mutex so two concurrent failures at
// the threshold cannot both read the same count and neither trip.
type Registry struct {
	mu       sync.Mutex
	breakers map[key]*state

	threshold int
	window    time.Duration
	cooldown  time.Duration

	store   Store
	onTrip  func(target, actionType string)
	onReset func(target, actionType string)
}

func NewRegistry(cfg Config, store Store) *Registry {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.Window <= 0 {
		cfg.Window = 10 * time.Minute
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 60 * time.Second
	}
	return &Registry{
		breakers:  make(map[key]*state),
		threshold: cfg.FailureThreshold,
		window:    cfg.Window,
		cooldown:  cfg.Cooldown,
		store:     store,
	}
}

// OnTrip registers a callback invoked (outside the lock) when a breaker
// opens.
func (r *Registry) OnTrip(fn func(target, actionType string)) { r.onTrip = fn }

// OnReset registers a callback invoked when a breaker closes again.
func (r *Registry) OnReset(fn func(target, actionType string)) { r.onReset = fn }

// Restore loads persisted breaker state. Called once at startup before the
// registry is shared.
func (r *Registry) Restore() error {
	if r.store == nil {
		return nil
	}
	recs, err := r.store.LoadBreakers()
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range recs {
		st := &state{state: rec.State, failureCount: rec.FailureCount}
		if rec.WindowStart != nil {
			st.windowStart = *rec.WindowStart
		}
		if rec.OpenedAt != nil {
			st.openedAt = *rec.OpenedAt
		}
		r.breakers[key{rec.Target, rec.ActionType}] = st
	}
	return nil
}

// RecordOutcome feeds one execution outcome into the breaker for the pair.
// A success closes a half-open breaker; a failure reopens it. Failures in
// the closed state count toward the threshold within the rolling window.
func (r *Registry) RecordOutcome(target, actionType string, success bool) {
	now := time.Now()
	k := key{target, actionType}

	r.mu.Lock()
	st, ok := r.breakers[k]
	if !ok {
		st = &state{state: models.BreakerClosed}
		r.breakers[k] = st
	}
	r.advanceLocked(st, now)

	tripped := false
	closed := false

	switch st.state {
	case models.BreakerClosed:
		if success {
			st.failureCount = 0
			st.windowStart = time.Time{}
		} else {
			if st.windowStart.IsZero() || now.Sub(st.windowStart) > r.window {
				st.failureCount = 1
				st.windowStart = now
			} else {
				st.failureCount++
			}
			if st.failureCount >= r.threshold {
				st.state = models.BreakerOpen
				st.openedAt = now
				tripped = true
			}
		}
	case models.BreakerHalfOpen:
		if success {
			st.state = models.BreakerClosed
			st.failureCount = 0
			st.windowStart = time.Time{}
			st.openedAt = time.Time{}
			closed = true
		} else {
			st.state = models.BreakerOpen
			st.openedAt = now
		}
	case models.BreakerOpen:
		// An in-flight execution reporting back after the trip. A failure
		// restarts the cooldown; a success is ignored until half-open.
		if !success {
			st.openedAt = now
		}
	}
	snapshot := r.snapshotLocked(k, st, now)
	r.mu.Unlock()

	if tripped {
		slog.Warn("Circuit breaker opened", "target", target, "action_type", actionType, "failures", snapshot.FailureCount)
		if r.onTrip != nil {
			r.onTrip(target, actionType)
		}
	}
	if closed {
		slog.Info("Circuit breaker closed", "target", target, "action_type", actionType)
		if r.onReset != nil {
			r.onReset(target, actionType)
		}
	}
	r.persist(snapshot)
}

// IsOpen reports whether proposals for the pair are currently blocked. An
// open breaker moves to half-open once the cooldown has elapsed, letting a
// single probe through the policy engine.
func (r *Registry) IsOpen(target, actionType string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.breakers[key{target, actionType}]
	if !ok {
		return false
	}
	r.advanceLocked(st, time.Now())
	return st.state == models.BreakerOpen
}

// State returns the current breaker state name for the pair.
func (r *Registry) State(target, actionType string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.breakers[key{target, actionType}]
	if !ok {
		return models.BreakerClosed
	}
	r.advanceLocked(st, time.Now())
	return st.state
}

// Reset force-closes the breaker for the pair. Used by the audited manual
// override after an operator has fixed the underlying fault.
func (r *Registry) Reset(target, actionType string) {
	k := key{target, actionType}
	r.mu.Lock()
	delete(r.breakers, k)
	r.mu.Unlock()

	if r.store != nil {
		if err := r.store.DeleteBreaker(target, actionType); err != nil {
			slog.Error("Failed to delete persisted breaker", "target", target, "action_type", actionType, "error", err)
		}
	}
	slog.Info("Circuit breaker reset", "target", target, "action_type", actionType)
}

// Snapshot returns the state of every tracked breaker.
func (r *Registry) Snapshot() []models.BreakerRecord {
	now := time.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.BreakerRecord, 0, len(r.breakers))
	for k, st := range r.breakers {
		r.advanceLocked(st, now)
		out = append(out, r.snapshotLocked(k, st, now))
	}
	return out
}

// OpenCount returns the number of currently open breakers.
func (r *Registry) OpenCount() int {
	now := time.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, st := range r.breakers {
		r.advanceLocked(st, now)
		if st.state == models.BreakerOpen {
			n++
		}
	}
	return n
}

// advanceLocked applies the time-based open -> half_open transition.
func (r *Registry) advanceLocked(st *state, now time.Time) {
	if st.state == models.BreakerOpen && now.Sub(st.openedAt) >= r.cooldown {
		st.state = models.BreakerHalfOpen
	}
}

func (r *Registry) snapshotLocked(k key, st *state, now time.Time) models.BreakerRecord {
	rec := models.BreakerRecord{
		Target:       k.target,
		ActionType:   k.actionType,
		State:        st.state,
		FailureCount: st.failureCount,
		UpdatedAt:    now,
	}
	if !st.windowStart.IsZero() {
		ws := st.windowStart
		rec.WindowStart = &ws
	}
	if !st.openedAt.IsZero() {
		oa := st.openedAt
		rec.OpenedAt = &oa
	}
	return rec
}

func (r *Registry) persist(rec models.BreakerRecord) {
	if r.store == nil {
		return
	}
	if err := r.store.SaveBreaker(rec); err != nil {
		slog.Error("Failed to persist breaker state", "target", rec.Target, "action_type", rec.ActionType, "error", err)
	}
}
