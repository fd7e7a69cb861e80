package trigger

import (
	"testing"
	"time"

	"github.com/hydralab/warden/internal/models"
	"github.com/hydralab/warden/internal/policy"
	"github.com/hydralab/warden/internal/queue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticSource struct {
	name    string
	metrics map[string]float64
}

func (s *staticSource) Name() string                        { return s.name }
func (s *staticSource) Sample() (map[string]float64, error) { return s.metrics, nil }

func newTestEngine(t *testing.T, specs ...policy.RuleSpec) (*Engine, *queue.Service) {
	t.Helper()
	q := queue.NewService(queue.NewMemoryStore())
	e := NewEngine(NewMemoryRuleStore(), q, time.Minute)
	require.NoError(t, e.SyncRules(specs))
	return e, q
}

func thresholdSpec(name string, consecutive int) policy.RuleSpec {
	return policy.RuleSpec{
		Name:        name,
		Kind:        models.ConditionMetricThreshold,
		Metric:      "tabbyapi.memory_percent",
		Operator:    ">",
		Threshold:   90,
		Consecutive: consecutive,
		ActionType:  "restart",
		Target:      "tabbyapi",
		Priority:    models.PriorityHigh,
	}
}

func TestSyncRulesUpsertsByName(t *testing.T) {
	e, _ := newTestEngine(t, thresholdSpec("memory-pressure", 1))

	rules, err := e.Rules()
	require.NoError(t, err)
	require.Len(t, rules, 1)
	id := rules[0].ID

	// Re-syncing the same name updates in place instead of duplicating.
	spec := thresholdSpec("memory-pressure", 3)
	require.NoError(t, e.SyncRules([]policy.RuleSpec{spec}))
	rules, err = e.Rules()
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.Equal(t, id, rules[0].ID)
}

func TestSyncRulesRejectsUnknownKind(t *testing.T) {
	e := NewEngine(NewMemoryRuleStore(), queue.NewService(queue.NewMemoryStore()), time.Minute)
	err := e.SyncRules([]policy.RuleSpec{{Name: "bad", Kind: "vibes", ActionType: "restart"}})
	assert.Error(t, err)
}

func TestThresholdRuleFiresAndEnqueues(t *testing.T) {
	e, q := newTestEngine(t, thresholdSpec("memory-pressure", 1))
	e.AddSource(&staticSource{name: "metrics", metrics: map[string]float64{"tabbyapi.memory_percent": 95}})

	e.tick()

	items, err := q.List(models.WorkQueued, 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "restart", items[0].ActionType)
	assert.Equal(t, "tabbyapi", items[0].Target)
	assert.Equal(t, models.PriorityHigh, items[0].Priority)
	assert.Equal(t, "trigger:memory-pressure", items[0].Source)
}

func TestThresholdRuleWaitsForConsecutiveSamples(t *testing.T) {
	e, q := newTestEngine(t, thresholdSpec("memory-pressure", 3))
	src := &staticSource{name: "metrics", metrics: map[string]float64{"tabbyapi.memory_percent": 95}}
	e.AddSource(src)

	e.tick()
	e.tick()
	items, err := q.List("", 10)
	require.NoError(t, err)
	assert.Empty(t, items, "two samples must not fire a three-consecutive rule")

	e.tick()
	items, err = q.List("", 10)
	require.NoError(t, err)
	assert.Len(t, items, 1)

	// The counter reset on fire; it takes three more samples to fire again.
	e.tick()
	e.tick()
	items, err = q.List("", 10)
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestThresholdRuleResetOnRecovery(t *testing.T) {
	e, q := newTestEngine(t, thresholdSpec("memory-pressure", 3))
	src := &staticSource{name: "metrics", metrics: map[string]float64{"tabbyapi.memory_percent": 95}}
	e.AddSource(src)

	e.tick()
	e.tick()
	src.metrics["tabbyapi.memory_percent"] = 50
	e.tick()
	src.metrics["tabbyapi.memory_percent"] = 95
	e.tick()
	e.tick()

	items, err := q.List("", 10)
	require.NoError(t, err)
	assert.Empty(t, items, "a passing sample must reset the consecutive counter")
}

func TestEvaluateIsSideEffectFree(t *testing.T) {
	e, q := newTestEngine(t, thresholdSpec("memory-pressure", 2))
	state := SystemState{SampledAt: time.Now(), Metrics: map[string]float64{"tabbyapi.memory_percent": 95}}

	// Dry-running many times neither enqueues nor advances the counter.
	for i := 0; i < 5; i++ {
		results, err := e.Evaluate(state)
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.False(t, results[0].WouldFire)
		assert.Contains(t, results[0].Reason, "1/2")
	}

	items, err := q.List("", 10)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestDisabledRuleNeverFires(t *testing.T) {
	disabled := false
	spec := thresholdSpec("memory-pressure", 1)
	spec.Enabled = &disabled
	e, q := newTestEngine(t, spec)
	e.AddSource(&staticSource{name: "metrics", metrics: map[string]float64{"tabbyapi.memory_percent": 95}})

	e.tick()
	items, err := q.List("", 10)
	require.NoError(t, err)
	assert.Empty(t, items)

	results, err := e.Evaluate(e.Perceive())
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "disabled", results[0].Reason)
}

func TestSetEnabledToggles(t *testing.T) {
	e, q := newTestEngine(t, thresholdSpec("memory-pressure", 1))
	e.AddSource(&staticSource{name: "metrics", metrics: map[string]float64{"tabbyapi.memory_percent": 95}})

	rules, err := e.Rules()
	require.NoError(t, err)
	rule, err := e.SetEnabled(rules[0].ID, false)
	require.NoError(t, err)
	assert.False(t, rule.Enabled)

	e.tick()
	items, err := q.List("", 10)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestScheduleRuleFiresOncePerInterval(t *testing.T) {
	e, q := newTestEngine(t, policy.RuleSpec{
		Name:       "nightly-prune",
		Kind:       models.ConditionSchedule,
		Every:      "1h",
		ActionType: "prune_cache",
		Target:     "tabbyapi",
	})

	e.tick()
	items, err := q.List("", 10)
	require.NoError(t, err)
	require.Len(t, items, 1)

	// Within the interval it stays quiet.
	e.tick()
	items, err = q.List("", 10)
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestEventRuleFiresOnNotifiedFailures(t *testing.T) {
	e, q := newTestEngine(t, policy.RuleSpec{
		Name:       "oom-remediation",
		Kind:       models.ConditionEvent,
		Pattern:    "oom",
		ActionType: "restart",
		Target:     "tabbyapi",
		Priority:   models.PriorityCritical,
	})

	// No events yet.
	e.tick()
	items, err := q.List("", 10)
	require.NoError(t, err)
	assert.Empty(t, items)

	e.NotifyFailure("oom")
	e.NotifyFailure("disk_full") // different pattern, ignored by this rule
	e.tick()

	items, err = q.List("", 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, models.PriorityCritical, items[0].Priority)

	// The pending event count was consumed by the fire.
	e.tick()
	items, err = q.List("", 10)
	require.NoError(t, err)
	assert.Len(t, items, 1)
}
