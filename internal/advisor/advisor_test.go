package advisor

import (
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingSink struct {
	mu    sync.Mutex
	calls []string
}

func (c *countingSink) RecordOutcome(target, actionType string, success bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls = append(c.calls, fmt.Sprintf("%s/%s/%v", target, actionType, success))
}

func (c *countingSink) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.calls)
}

func TestClassify(t *testing.T) {
	cases := []struct {
		text string
		want string
	}{
		{"tabbyapi.service: Start request repeated too quickly", PatternRestartLoop},
		{"back-off restarting failed container (CrashLoopBackOff)", PatternRestartLoop},
		{"CUDA out of memory. Tried to allocate 20.00 GiB", PatternOOM},
		{"fork: cannot allocate memory", PatternOOM},
		{"yaml: configuration error at line 12", PatternConfigError},
		{"unknown flag: --max-seq-len", PatternConfigError},
		{"dial tcp 10.0.0.5:5000: connect: connection refused", PatternConnectionRefused},
		{"write /var/lib/models: no space left on device", PatternDiskFull},
		{"segmentation fault (core dumped)", PatternUnknown},
		{"", PatternUnknown},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Classify(tc.text), "text: %q", tc.text)
	}
}

func TestRecordFailureClassifiesAndStores(t *testing.T) {
	sink := &countingSink{}
	svc := NewService(NewMemoryEventStore(), sink)

	match, err := svc.RecordFailure(FailureReport{
		IdempotencyKey: "alert-1",
		Target:         "tabbyapi",
		ActionType:     "restart",
		ErrorText:      "dial tcp 10.0.0.5:5000: connect: connection refused",
	})
	require.NoError(t, err)
	assert.Equal(t, PatternConnectionRefused, match.Pattern)
	assert.True(t, match.Known)
	assert.False(t, match.NeedsHuman)
	assert.False(t, match.Duplicate)
	assert.Equal(t, int64(1), match.RecentCount)
	assert.Equal(t, 1, sink.count())
}

func TestRecordFailureValidation(t *testing.T) {
	svc := NewService(NewMemoryEventStore(), nil)

	_, err := svc.RecordFailure(FailureReport{Target: "tabbyapi"})
	assert.Error(t, err)

	_, err = svc.RecordFailure(FailureReport{IdempotencyKey: "k"})
	assert.Error(t, err)
}

func TestRecordFailureDeduplicates(t *testing.T) {
	sink := &countingSink{}
	svc := NewService(NewMemoryEventStore(), sink)

	report := FailureReport{
		IdempotencyKey: "alert-1",
		Target:         "tabbyapi",
		ActionType:     "restart",
		ErrorText:      "out of memory",
	}

	first, err := svc.RecordFailure(report)
	require.NoError(t, err)
	require.False(t, first.Duplicate)

	// At-least-once redelivery: same classification back, no second count
	// toward the breaker.
	second, err := svc.RecordFailure(report)
	require.NoError(t, err)
	assert.True(t, second.Duplicate)
	assert.Equal(t, first.EventID, second.EventID)
	assert.Equal(t, first.Pattern, second.Pattern)
	assert.Equal(t, 1, sink.count())

	events, err := svc.Events("tabbyapi", 10)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestRecordFailureCountsSignature(t *testing.T) {
	svc := NewService(NewMemoryEventStore(), nil)

	for i := 0; i < 3; i++ {
		match, err := svc.RecordFailure(FailureReport{
			IdempotencyKey: fmt.Sprintf("alert-%d", i),
			Target:         "tabbyapi",
			ErrorText:      "out of memory",
		})
		require.NoError(t, err)
		assert.Equal(t, int64(i+1), match.RecentCount)
	}
}

func TestRecordFailureCallback(t *testing.T) {
	svc := NewService(NewMemoryEventStore(), nil)

	var patterns []string
	svc.OnRecord(func(pattern string) { patterns = append(patterns, pattern) })

	_, err := svc.RecordFailure(FailureReport{IdempotencyKey: "a", Target: "t", ErrorText: "disk full"})
	require.NoError(t, err)
	_, err = svc.RecordFailure(FailureReport{IdempotencyKey: "a", Target: "t", ErrorText: "disk full"})
	require.NoError(t, err)

	// Duplicates do not re-fire the callback.
	assert.Equal(t, []string{PatternDiskFull}, patterns)
}

func TestSuggestRemediation(t *testing.T) {
	svc := NewService(NewMemoryEventStore(), nil)

	cases := []struct {
		errorText  string
		actionType string
		needsHuman bool
	}{
		{"connection refused", "restart", false},
		{"out of memory", "restart", false},
		{"no space left on device", "prune_storage", true},
		{"invalid config key", "rollback_config", true},
	}
	for i, tc := range cases {
		match, err := svc.RecordFailure(FailureReport{
			IdempotencyKey: fmt.Sprintf("case-%d", i),
			Target:         "tabbyapi",
			ErrorText:      tc.errorText,
		})
		require.NoError(t, err)

		rem, err := svc.SuggestRemediation(match.EventID)
		require.NoError(t, err)
		require.NotNil(t, rem, "text: %q", tc.errorText)
		assert.Equal(t, tc.actionType, rem.ActionType)
		assert.Equal(t, "tabbyapi", rem.Target)
		assert.Equal(t, tc.needsHuman, rem.NeedsHuman)
	}
}

func TestRestartLoopHasNoAutomaticRemediation(t *testing.T) {
	svc := NewService(NewMemoryEventStore(), nil)

	match, err := svc.RecordFailure(FailureReport{
		IdempotencyKey: "loop-1",
		Target:         "tabbyapi",
		ErrorText:      "start request repeated too quickly",
	})
	require.NoError(t, err)
	assert.Equal(t, PatternRestartLoop, match.Pattern)
	assert.True(t, match.Known)
	assert.True(t, match.NeedsHuman)

	// Answering a restart loop with another restart is exactly the failure
	// mode this system exists to prevent.
	rem, err := svc.SuggestRemediation(match.EventID)
	require.NoError(t, err)
	assert.Nil(t, rem)
}

func TestUnknownPatternSuggestsNothing(t *testing.T) {
	svc := NewService(NewMemoryEventStore(), nil)

	match, err := svc.RecordFailure(FailureReport{
		IdempotencyKey: "mystery-1",
		Target:         "tabbyapi",
		ErrorText:      "segfault",
	})
	require.NoError(t, err)
	assert.Equal(t, PatternUnknown, match.Pattern)
	assert.False(t, match.Known)

	rem, err := svc.SuggestRemediation(match.EventID)
	require.NoError(t, err)
	assert.Nil(t, rem)
}

func TestSuggestRemediationUnknownEvent(t *testing.T) {
	svc := NewService(NewMemoryEventStore(), nil)
	_, err := svc.SuggestRemediation(uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}
