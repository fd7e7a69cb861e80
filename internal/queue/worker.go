package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hydralab/warden/internal/gate"
	"github.com/hydralab/warden/internal/ledger"
	"github.com/hydralab/warden/internal/models"
	"github.com/hydralab/warden/internal/policy"
)

// Executor performs the domain side effect for one work item kind. The core
// treats payloads as opaque; executors are registered by the embedding
// system. The returned detail is recorded on the ledger entry.
type Executor interface {
	Execute(ctx context.Context, item models.WorkItem) (detail string, err error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, item models.WorkItem) (string, error)

func (f ExecutorFunc) Execute(ctx context.Context, item models.WorkItem) (string, error) {
	return f(ctx, item)
}

// OutcomeSink receives execution outcomes; the breaker registry implements
// it.
type OutcomeSink interface {
	RecordOutcome(target, actionType string, success bool)
}

// PoolConfig tunes the worker pool.
type PoolConfig struct {
	Workers        int
	PollInterval   time.Duration
	ApprovalDelay  time.Duration // recheck interval for items awaiting approval
	RequeueBackoff time.Duration // retry delay when the ledger is unavailable
}

// Pool is the bounded worker pool draining the work queue. Every claimed
// item passes through the gate before execution; outcomes are reported back
// to the ledger and the breaker registry even if the pool is shutting down.
type Pool struct {
	queue     *Service
	gate      *gate.Gate
	ledger    *ledger.Service
	outcomes  OutcomeSink
	executors map[string]Executor
	fallback  Executor

	workers        int
	pollInterval   time.Duration
	approvalDelay  time.Duration
	requeueBackoff time.Duration

	cancel     context.CancelFunc
	wg         sync.WaitGroup
	onFinished func(success bool)
}

func NewPool(cfg PoolConfig, q *Service, g *gate.Gate, led *ledger.Service, outcomes OutcomeSink) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.ApprovalDelay <= 0 {
		cfg.ApprovalDelay = 30 * time.Second
	}
	if cfg.RequeueBackoff <= 0 {
		cfg.RequeueBackoff = 15 * time.Second
	}
	return &Pool{
		queue:          q,
		gate:           g,
		ledger:         led,
		outcomes:       outcomes,
		executors:      make(map[string]Executor),
		workers:        cfg.Workers,
		pollInterval:   cfg.PollInterval,
		approvalDelay:  cfg.ApprovalDelay,
		requeueBackoff: cfg.RequeueBackoff,
	}
}

// Register binds an executor to a work item kind.
func (p *Pool) Register(kind string, ex Executor) {
	p.executors[kind] = ex
}

// RegisterDefault binds the executor used for kinds with no specific
// registration, typically the external action runner.
func (p *Pool) RegisterDefault(ex Executor) {
	p.fallback = ex
}

// OnFinished registers a callback invoked when an item reaches done or
// failed. Used for metrics.
func (p *Pool) OnFinished(fn func(success bool)) { p.onFinished = fn }

// Start launches the workers.
func (p *Pool) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.run(ctx, i)
	}
	slog.Info("Worker pool started", "workers", p.workers)
}

// Stop cancels the workers and waits for in-flight executions to finish and
// report their outcomes.
func (p *Pool) Stop() {
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	slog.Info("Worker pool stopped")
}

func (p *Pool) run(ctx context.Context, id int) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for {
				item, err := p.queue.claimNext(time.Now())
				if err != nil {
					slog.Error("Claim failed", "worker", id, "error", err)
					break
				}
				if item == nil {
					break
				}
				p.process(ctx, *item)
				if ctx.Err() != nil {
					return
				}
			}
		}
	}
}

// process runs one claimed item through the gate and, on allow, through its
// executor. No lock is held during execution.
func (p *Pool) process(ctx context.Context, item models.WorkItem) {
	// Items parked for approval carry the activity id of their pending
	// record; the decision is re-read rather than re-proposed so approval
	// does not spawn duplicate pending records.
	if item.ActivityID != 0 {
		p.processResolved(ctx, item)
		return
	}

	out, err := p.gate.Propose(gate.Proposal{
		Source:     item.Source,
		ActionType: item.ActionType,
		Target:     item.Target,
		Params:     map[string]any{"work_item": item.ID.String(), "kind": item.Kind},
	})
	if err != nil {
		// Ledger down: the decision was not durable, try again later.
		after := time.Now().Add(p.requeueBackoff)
		p.requeue(item, &after, 0, "ledger unavailable")
		return
	}

	switch out.Verdict.Decision {
	case policy.Allow:
		p.execute(ctx, item, out.Record.ID)
	case policy.RequireApproval:
		after := time.Now().Add(p.approvalDelay)
		p.requeue(item, &after, out.Record.ID, "awaiting approval")
	default:
		p.fail(item, fmt.Sprintf("denied: %s", out.Verdict.Reason))
	}
}

func (p *Pool) processResolved(ctx context.Context, item models.WorkItem) {
	rec, err := p.ledger.Get(item.ActivityID)
	if err != nil {
		p.fail(item, fmt.Sprintf("decision record lookup failed: %v", err))
		return
	}
	switch rec.Status {
	case models.StatusApproved, models.StatusExecuted:
		p.execute(ctx, item, rec.ID)
	case models.StatusPending:
		after := time.Now().Add(p.approvalDelay)
		p.requeue(item, &after, rec.ID, "awaiting approval")
	case models.StatusRejected:
		p.fail(item, fmt.Sprintf("rejected by %s", rec.ResolvedBy))
	default:
		p.fail(item, fmt.Sprintf("denied: %s", rec.DecisionReason))
	}
}

func (p *Pool) execute(ctx context.Context, item models.WorkItem, activityID int64) {
	ex, ok := p.executors[item.Kind]
	if !ok {
		ex = p.fallback
	}
	if ex == nil {
		p.fail(item, fmt.Sprintf("no executor registered for kind %q", item.Kind))
		if _, err := p.ledger.UpdateResult(activityID, models.ResultError, "no executor for kind "+item.Kind); err != nil {
			slog.Error("Failed to record missing-executor result", "activity_id", activityID, "error", err)
		}
		return
	}

	detail, execErr := ex.Execute(ctx, item)

	result := models.ResultOK
	if execErr != nil {
		result = models.ResultError
		if ctx.Err() != nil && execErr == ctx.Err() {
			result = models.ResultTimeout
		}
		detail = execErr.Error()
	}

	// Outcomes are reported even during shutdown so the audit trail stays
	// complete for in-flight executions.
	if _, err := p.ledger.UpdateResult(activityID, result, detail); err != nil {
		slog.Error("Failed to record execution result", "activity_id", activityID, "error", err)
	}
	if p.outcomes != nil {
		p.outcomes.RecordOutcome(item.Target, item.ActionType, execErr == nil)
	}

	if execErr != nil {
		p.fail(item, detail)
		return
	}
	if err := p.queue.store.SetItemStatus(item.ID, models.WorkDone, detail); err != nil {
		slog.Error("Failed to mark work item done", "id", item.ID, "error", err)
	}
	if p.onFinished != nil {
		p.onFinished(true)
	}
}

func (p *Pool) requeue(item models.WorkItem, after *time.Time, activityID int64, detail string) {
	if err := p.queue.store.Requeue(item.ID, after, activityID, detail); err != nil {
		slog.Error("Failed to requeue work item", "id", item.ID, "error", err)
	}
}

func (p *Pool) fail(item models.WorkItem, detail string) {
	if err := p.queue.store.SetItemStatus(item.ID, models.WorkFailed, detail); err != nil {
		slog.Error("Failed to mark work item failed", "id", item.ID, "error", err)
	}
	if p.onFinished != nil {
		p.onFinished(false)
	}
}
