package policy

import (
	"fmt"
	"strings"

	"github.com/hydralab/warden/internal/control"
)

// Decision is the three-way outcome of a policy check.
type Decision string

const (
	Allow           Decision = "allow"
	Deny            Decision = "deny"
	RequireApproval Decision = "require_approval"
)

// Reason codes carried on verdicts. Callers branch on these; Message is for
// humans.
const (
	ReasonProtectedTarget    = "protected_target"
	ReasonCircuitOpen        = "circuit_open"
	ReasonPersistenceDown    = "persistence_unavailable"
	ReasonSafeMode           = "safe_mode"
	ReasonNotifyOnly         = "notify_only"
	ReasonApprovalRequired   = "approval_required"
	ReasonAllowed            = "allowed"
	ReasonEscalatedByAdvisor = "unrecoverable_pattern"
)

// Verdict is the result of CheckAction.
type Verdict struct {
	Decision Decision `json:"decision"`
	Reason   string   `json:"reason"`
	Message  string   `json:"message"`
}

// ModeSource reads the current operating mode. O(1), no I/O.
type ModeSource interface {
	Mode() string
}

// BreakerSource reports whether the breaker for a pair is open.
type BreakerSource interface {
	IsOpen(target, actionType string) bool
}

// LedgerHealth reports whether decisions can be durably recorded.
type LedgerHealth interface {
	Available() bool
}

// Engine evaluates proposed actions against the constraint set, the current
// mode, the breaker registry, and ledger health.
type Engine struct {
	mode    ModeSource
	breaker BreakerSource
	health  LedgerHealth

	protectedTargets map[string]bool
	approvalRequired []string
	readOnly         map[string]bool
}

func NewEngine(cfg Config, mode ModeSource, breaker BreakerSource, health LedgerHealth) *Engine {
	e := &Engine{
		mode:             mode,
		breaker:          breaker,
		health:           health,
		protectedTargets: make(map[string]bool),
		readOnly:         make(map[string]bool),
	}
	for _, t := range cfg.ProtectedTargets {
		if t = strings.TrimSpace(t); t != "" {
			e.protectedTargets[t] = true
		}
	}
	for _, p := range cfg.ApprovalRequiredFor {
		if p = strings.TrimSpace(p); p != "" {
			e.approvalRequired = append(e.approvalRequired, p)
		}
	}
	for _, a := range cfg.ReadOnlyActions {
		if a = strings.TrimSpace(a); a != "" {
			e.readOnly[a] = true
		}
	}
	return e
}

// CheckAction evaluates one proposal. The check order is a safety property:
// protected targets and open breakers are checked before any mode, so no
// mode, full_auto included, can bypass them.
func (e *Engine) CheckAction(actionType, target, source string) Verdict {
	if e.protectedTargets[target] {
		return Verdict{
			Decision: Deny,
			Reason:   ReasonProtectedTarget,
			Message:  fmt.Sprintf("%q is a protected target and can never be mutated", target),
		}
	}

	if e.breaker != nil && e.breaker.IsOpen(target, actionType) {
		return Verdict{
			Decision: Deny,
			Reason:   ReasonCircuitOpen,
			Message:  fmt.Sprintf("circuit breaker for (%s, %s) is open; repeated failures exceeded the threshold", target, actionType),
		}
	}

	// Fail closed: an unlogged allow is the one outcome this system must
	// never produce.
	if e.health != nil && !e.health.Available() {
		return Verdict{
			Decision: Deny,
			Reason:   ReasonPersistenceDown,
			Message:  "activity ledger is unavailable; all actions are denied until persistence recovers",
		}
	}

	switch e.mode.Mode() {
	case control.ModeSafe:
		return Verdict{
			Decision: Deny,
			Reason:   ReasonSafeMode,
			Message:  "safe mode is active; resume requires an explicit human mode change",
		}
	case control.ModeNotifyOnly:
		if !e.readOnly[actionType] {
			return Verdict{
				Decision: RequireApproval,
				Reason:   ReasonNotifyOnly,
				Message:  fmt.Sprintf("notify-only mode holds %q for approval; only read-only actions run unattended", actionType),
			}
		}
	case control.ModeSupervised:
		if e.requiresApproval(actionType) {
			return Verdict{
				Decision: RequireApproval,
				Reason:   ReasonApprovalRequired,
				Message:  fmt.Sprintf("%q requires human approval under supervised mode", actionType),
			}
		}
	}

	return Verdict{
		Decision: Allow,
		Reason:   ReasonAllowed,
		Message:  fmt.Sprintf("%q on %q permitted for %s", actionType, target, source),
	}
}

// IsReadOnly reports whether the action type is whitelisted as read-only.
func (e *Engine) IsReadOnly(actionType string) bool {
	return e.readOnly[actionType]
}

// Constraints describes the loaded constraint set for the API.
func (e *Engine) Constraints() map[string]any {
	protected := make([]string, 0, len(e.protectedTargets))
	for t := range e.protectedTargets {
		protected = append(protected, t)
	}
	readOnly := make([]string, 0, len(e.readOnly))
	for a := range e.readOnly {
		readOnly = append(readOnly, a)
	}
	return map[string]any{
		"protected_targets":     protected,
		"approval_required_for": e.approvalRequired,
		"read_only_actions":     readOnly,
	}
}

// requiresApproval matches actionType against the approval patterns. A
// trailing "*" matches any suffix ("deploy*" covers "deploy_staging").
func (e *Engine) requiresApproval(actionType string) bool {
	for _, p := range e.approvalRequired {
		if p == actionType {
			return true
		}
		if strings.HasSuffix(p, "*") && strings.HasPrefix(actionType, strings.TrimSuffix(p, "*")) {
			return true
		}
	}
	return false
}
