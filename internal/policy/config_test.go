package policy

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFileEmptyPathYieldsDefaults(t *testing.T) {
	cfg, err := LoadFile("")
	require.NoError(t, err)
	assert.Empty(t, cfg.ProtectedTargets)
	assert.Equal(t, DefaultFailureThreshold, cfg.Breaker.FailureThresholdOrDefault())
	assert.Equal(t, DefaultWindow, cfg.Breaker.WindowOrDefault())
	assert.Equal(t, DefaultCooldown, cfg.Breaker.CooldownOrDefault())
	assert.Equal(t, DefaultWorkerCount, cfg.Workers.CountOrDefault())
	assert.Equal(t, DefaultPollInterval, cfg.Workers.PollIntervalOrDefault())
}

func TestLoadFileParsesPolicy(t *testing.T) {
	path := filepath.Join(t.TempDir(), "warden.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
protected_targets:
  - hydra-postgres
approval_required_for:
  - delete_*
read_only_actions:
  - health_check
breaker:
  failure_threshold: 3
  window: 5m
  cooldown: 30s
workers:
  count: 2
  poll_interval: 500ms
rules:
  - name: memory-pressure
    kind: metric_threshold
    metric: tabbyapi.memory_percent
    operator: ">"
    threshold: 92
    consecutive: 3
    action_type: restart
    target: tabbyapi
    priority: high
`), 0o644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"hydra-postgres"}, cfg.ProtectedTargets)
	assert.Equal(t, 3, cfg.Breaker.FailureThresholdOrDefault())
	assert.Equal(t, 5*time.Minute, cfg.Breaker.WindowOrDefault())
	assert.Equal(t, 30*time.Second, cfg.Breaker.CooldownOrDefault())
	assert.Equal(t, 2, cfg.Workers.CountOrDefault())
	assert.Equal(t, 500*time.Millisecond, cfg.Workers.PollIntervalOrDefault())
	require.Len(t, cfg.Rules, 1)
	assert.Equal(t, "memory-pressure", cfg.Rules[0].Name)
	assert.Equal(t, 3, cfg.Rules[0].Consecutive)
}

func TestLoadFileMissingFile(t *testing.T) {
	_, err := LoadFile("/does/not/exist.yaml")
	assert.Error(t, err)
}

func TestLoadFileMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("rules: [not: closed"), 0o644))
	_, err := LoadFile(path)
	assert.Error(t, err)
}

func TestDurationFallbacks(t *testing.T) {
	b := BreakerConfig{Window: "nonsense", Cooldown: "-5s"}
	assert.Equal(t, DefaultWindow, b.WindowOrDefault())
	assert.Equal(t, DefaultCooldown, b.CooldownOrDefault())
}
