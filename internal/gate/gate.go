package gate

import (
	"encoding/json"
	"log/slog"

	"github.com/hydralab/warden/internal/ledger"
	"github.com/hydralab/warden/internal/models"
	"github.com/hydralab/warden/internal/policy"
	"gorm.io/datatypes"
)

// Proposal is a candidate action submitted by a producer: a scheduler tick,
// a webhook, an operator, or the remediation advisor.
type Proposal struct {
	Source     string         `json:"source"`
	ActionType string         `json:"action_type"`
	Target     string         `json:"target"`
	Params     map[string]any `json:"params,omitempty"`
	// Escalate forces an otherwise-allowed proposal to require approval.
	// Set for remediations of failure patterns known to need a human. It
	// never overrides a denial.
	Escalate bool `json:"-"`
}

// Outcome pairs the verdict with the ledger record that made it durable.
// Record is nil only when the ledger itself was down.
type Outcome struct {
	Verdict policy.Verdict         `json:"verdict"`
	Record  *models.ActivityRecord `json:"record,omitempty"`
}

// Gate is the single entry point through which every proposed action
// passes. The verdict is written to the ledger before it is returned, so a
// crash after Propose leaves a durable trace of the decision.
type Gate struct {
	engine *policy.Engine
	ledger *ledger.Service

	onPending func(models.ActivityRecord)
}

func New(engine *policy.Engine, led *ledger.Service) *Gate {
	return &Gate{engine: engine, ledger: led}
}

// OnPending registers a callback for newly created approval-pending
// records.
func (g *Gate) OnPending(fn func(models.ActivityRecord)) { g.onPending = fn }

// Engine exposes the policy engine for dry-run checks.
func (g *Gate) Engine() *policy.Engine { return g.engine }

// Propose evaluates and durably records one candidate action.
//
// allow            -> record appended as executed; the caller performs the
//                     side effect and reports back via the ledger.
// require_approval -> record appended as pending and surfaced.
// deny             -> record appended as blocked; the action never runs.
//
// A ledger failure turns any verdict into a deny: an allow that could not
// be logged must not escape.
func (g *Gate) Propose(p Proposal) (Outcome, error) {
	verdict := g.engine.CheckAction(p.ActionType, p.Target, p.Source)

	if p.Escalate && verdict.Decision == policy.Allow {
		verdict = policy.Verdict{
			Decision: policy.RequireApproval,
			Reason:   policy.ReasonEscalatedByAdvisor,
			Message:  "failure pattern previously required human intervention; auto-remediation is held for approval",
		}
	}

	rec := &models.ActivityRecord{
		Source:         p.Source,
		ActionType:     p.ActionType,
		Target:         p.Target,
		Params:         marshalParams(p.Params),
		Status:         statusFor(verdict.Decision),
		DecisionReason: verdict.Reason,
	}

	if _, err := g.ledger.Append(rec); err != nil {
		denied := policy.Verdict{
			Decision: policy.Deny,
			Reason:   policy.ReasonPersistenceDown,
			Message:  "decision could not be durably recorded; denying",
		}
		return Outcome{Verdict: denied}, err
	}

	slog.Info("Action proposed",
		"id", rec.ID,
		"source", p.Source,
		"action_type", p.ActionType,
		"target", p.Target,
		"decision", verdict.Decision,
		"reason", verdict.Reason,
	)

	if verdict.Decision == policy.RequireApproval && g.onPending != nil {
		g.onPending(*rec)
	}
	return Outcome{Verdict: verdict, Record: rec}, nil
}

// Pending lists every record awaiting approval.
func (g *Gate) Pending() ([]models.ActivityRecord, error) {
	return g.ledger.Pending()
}

// Approve moves a pending record to approved. The caller is then
// responsible for executing the action and reporting the outcome back.
func (g *Gate) Approve(id int64, actor string) (*models.ActivityRecord, error) {
	rec, err := g.ledger.Resolve(id, models.StatusApproved, actor)
	if err != nil {
		return nil, err
	}
	slog.Info("Action approved", "id", id, "actor", actor, "action_type", rec.ActionType, "target", rec.Target)
	return rec, nil
}

// Reject moves a pending record to rejected. Terminal; the action never
// executes.
func (g *Gate) Reject(id int64, actor string) (*models.ActivityRecord, error) {
	rec, err := g.ledger.Resolve(id, models.StatusRejected, actor)
	if err != nil {
		return nil, err
	}
	slog.Info("Action rejected", "id", id, "actor", actor, "action_type", rec.ActionType, "target", rec.Target)
	return rec, nil
}

func statusFor(d policy.Decision) string {
	switch d {
	case policy.Allow:
		return models.StatusExecuted
	case policy.RequireApproval:
		return models.StatusPending
	default:
		return models.StatusBlocked
	}
}

func marshalParams(params map[string]any) datatypes.JSON {
	if len(params) == 0 {
		return nil
	}
	b, err := json.Marshal(params)
	if err != nil {
		return nil
	}
	return datatypes.JSON(b)
}
