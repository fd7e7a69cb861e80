package breaker

import (
	"sync"
	"testing"
	"time"

	"github.com/hydralab/warden/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBreakerTripsAtThreshold(t *testing.T) {
	r := NewRegistry(Config{FailureThreshold: 3, Window: time.Minute, Cooldown: time.Minute}, nil)

	r.RecordOutcome("tabbyapi", "restart", false)
	r.RecordOutcome("tabbyapi", "restart", false)
	assert.False(t, r.IsOpen("tabbyapi", "restart"))

	r.RecordOutcome("tabbyapi", "restart", false)
	assert.True(t, r.IsOpen("tabbyapi", "restart"))
	assert.Equal(t, models.BreakerOpen, r.State("tabbyapi", "restart"))
}

func TestBreakerIsPerPair(t *testing.T) {
	r := NewRegistry(Config{FailureThreshold: 2, Window: time.Minute, Cooldown: time.Minute}, nil)

	r.RecordOutcome("tabbyapi", "restart", false)
	r.RecordOutcome("tabbyapi", "restart", false)

	assert.True(t, r.IsOpen("tabbyapi", "restart"))
	assert.False(t, r.IsOpen("tabbyapi", "prune_cache"))
	assert.False(t, r.IsOpen("grafana", "restart"))
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	r := NewRegistry(Config{FailureThreshold: 3, Window: time.Minute, Cooldown: time.Minute}, nil)

	r.RecordOutcome("tabbyapi", "restart", false)
	r.RecordOutcome("tabbyapi", "restart", false)
	r.RecordOutcome("tabbyapi", "restart", true)
	r.RecordOutcome("tabbyapi", "restart", false)
	r.RecordOutcome("tabbyapi", "restart", false)

	assert.False(t, r.IsOpen("tabbyapi", "restart"))
}

func TestBreakerWindowExpiryRestartsCount(t *testing.T) {
	r := NewRegistry(Config{FailureThreshold: 3, Window: 50 * time.Millisecond, Cooldown: time.Minute}, nil)

	r.RecordOutcome("tabbyapi", "restart", false)
	r.RecordOutcome("tabbyapi", "restart", false)
	time.Sleep(60 * time.Millisecond)
	r.RecordOutcome("tabbyapi", "restart", false)

	// The first two failures fell out of the window.
	assert.False(t, r.IsOpen("tabbyapi", "restart"))
}

func TestBreakerHalfOpenAfterCooldown(t *testing.T) {
	r := NewRegistry(Config{FailureThreshold: 1, Window: time.Minute, Cooldown: 30 * time.Millisecond}, nil)

	r.RecordOutcome("tabbyapi", "restart", false)
	assert.True(t, r.IsOpen("tabbyapi", "restart"))

	time.Sleep(40 * time.Millisecond)
	assert.False(t, r.IsOpen("tabbyapi", "restart"))
	assert.Equal(t, models.BreakerHalfOpen, r.State("tabbyapi", "restart"))
}

func TestBreakerHalfOpenSuccessCloses(t *testing.T) {
	r := NewRegistry(Config{FailureThreshold: 1, Window: time.Minute, Cooldown: 10 * time.Millisecond}, nil)

	var resetPairs []string
	r.OnReset(func(target, actionType string) {
		resetPairs = append(resetPairs, target+"/"+actionType)
	})

	r.RecordOutcome("tabbyapi", "restart", false)
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, models.BreakerHalfOpen, r.State("tabbyapi", "restart"))

	r.RecordOutcome("tabbyapi", "restart", true)
	assert.Equal(t, models.BreakerClosed, r.State("tabbyapi", "restart"))
	assert.Equal(t, []string{"tabbyapi/restart"}, resetPairs)
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	r := NewRegistry(Config{FailureThreshold: 1, Window: time.Minute, Cooldown: 10 * time.Millisecond}, nil)

	r.RecordOutcome("tabbyapi", "restart", false)
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, models.BreakerHalfOpen, r.State("tabbyapi", "restart"))

	r.RecordOutcome("tabbyapi", "restart", false)
	assert.True(t, r.IsOpen("tabbyapi", "restart"))
}

func TestBreakerOnTripFiresOnce(t *testing.T) {
	r := NewRegistry(Config{FailureThreshold: 2, Window: time.Minute, Cooldown: time.Minute}, nil)

	trips := 0
	r.OnTrip(func(target, actionType string) { trips++ })

	for i := 0; i < 5; i++ {
		r.RecordOutcome("tabbyapi", "restart", false)
	}
	assert.Equal(t, 1, trips)
}

func TestBreakerConcurrentFailuresTripExactlyOnce(t *testing.T) {
	r := NewRegistry(Config{FailureThreshold: 10, Window: time.Minute, Cooldown: time.Minute}, nil)

	var mu sync.Mutex
	trips := 0
	r.OnTrip(func(target, actionType string) {
		mu.Lock()
		trips++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.RecordOutcome("tabbyapi", "restart", false)
		}()
	}
	wg.Wait()

	assert.True(t, r.IsOpen("tabbyapi", "restart"))
	assert.Equal(t, 1, trips)
}

func TestBreakerReset(t *testing.T) {
	r := NewRegistry(Config{FailureThreshold: 1, Window: time.Minute, Cooldown: time.Minute}, nil)

	r.RecordOutcome("tabbyapi", "restart", false)
	require.True(t, r.IsOpen("tabbyapi", "restart"))

	r.Reset("tabbyapi", "restart")
	assert.False(t, r.IsOpen("tabbyapi", "restart"))
	assert.Equal(t, models.BreakerClosed, r.State("tabbyapi", "restart"))
}

func TestBreakerSnapshotAndOpenCount(t *testing.T) {
	r := NewRegistry(Config{FailureThreshold: 1, Window: time.Minute, Cooldown: time.Minute}, nil)

	r.RecordOutcome("tabbyapi", "restart", false)
	r.RecordOutcome("grafana", "restart", true)

	snap := r.Snapshot()
	assert.Len(t, snap, 2)
	assert.Equal(t, 1, r.OpenCount())
}

type memBreakerStore struct {
	mu   sync.Mutex
	recs map[string]models.BreakerRecord
}

func newMemBreakerStore() *memBreakerStore {
	return &memBreakerStore{recs: make(map[string]models.BreakerRecord)}
}

func (m *memBreakerStore) SaveBreaker(rec models.BreakerRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs[rec.Target+"/"+rec.ActionType] = rec
	return nil
}

func (m *memBreakerStore) LoadBreakers() ([]models.BreakerRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.BreakerRecord, 0, len(m.recs))
	for _, rec := range m.recs {
		out = append(out, rec)
	}
	return out, nil
}

func (m *memBreakerStore) DeleteBreaker(target, actionType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.recs, target+"/"+actionType)
	return nil
}

func TestBreakerSurvivesRestart(t *testing.T) {
	store := newMemBreakerStore()
	cfg := Config{FailureThreshold: 1, Window: time.Minute, Cooldown: time.Hour}

	r := NewRegistry(cfg, store)
	r.RecordOutcome("tabbyapi", "restart", false)
	require.True(t, r.IsOpen("tabbyapi", "restart"))

	// A fresh registry backed by the same store sees the open breaker.
	r2 := NewRegistry(cfg, store)
	require.NoError(t, r2.Restore())
	assert.True(t, r2.IsOpen("tabbyapi", "restart"))

	r2.Reset("tabbyapi", "restart")
	r3 := NewRegistry(cfg, store)
	require.NoError(t, r3.Restore())
	assert.False(t, r3.IsOpen("tabbyapi", "restart"))
}
