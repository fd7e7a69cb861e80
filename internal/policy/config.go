package policy

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// BreakerConfig tunes the per-resource circuit breakers. The numeric
// defaults are operator policy, not constants; override them in the policy
// file.
type BreakerConfig struct {
	FailureThreshold int    `yaml:"failure_threshold"`
	Window           string `yaml:"window"`
	Cooldown         string `yaml:"cooldown"`
}

type WorkerConfig struct {
	Count        int    `yaml:"count"`
	PollInterval string `yaml:"poll_interval"`
}

// RuleSpec declares a trigger rule in the policy file. Condition fields are
// a union across the closed set of condition kinds; only the fields for the
// declared kind are read.
type RuleSpec struct {
	Name        string  `yaml:"name"`
	Kind        string  `yaml:"kind"` // metric_threshold, schedule, event
	Metric      string  `yaml:"metric"`
	Operator    string  `yaml:"operator"` // >, <, >=, <=, ==
	Threshold   float64 `yaml:"threshold"`
	Consecutive int     `yaml:"consecutive"`
	Every       string  `yaml:"every"`   // schedule interval
	Pattern     string  `yaml:"pattern"` // failure pattern for event rules
	ActionType  string  `yaml:"action_type"`
	Target      string  `yaml:"target"`
	Priority    string  `yaml:"priority"`
	Enabled     *bool   `yaml:"enabled"`
}

// Config is the operator policy file: the constraint set, breaker tuning,
// worker pool sizing, and declarative trigger rules.
type Config struct {
	ProtectedTargets    []string      `yaml:"protected_targets"`
	ApprovalRequiredFor []string      `yaml:"approval_required_for"`
	ReadOnlyActions     []string      `yaml:"read_only_actions"`
	Breaker             BreakerConfig `yaml:"breaker"`
	Workers             WorkerConfig  `yaml:"workers"`
	Rules               []RuleSpec    `yaml:"rules"`
}

// Defaults applied where the policy file is silent.
const (
	DefaultFailureThreshold = 5
	DefaultWindow           = 10 * time.Minute
	DefaultCooldown         = 60 * time.Second
	DefaultWorkerCount      = 4
	DefaultPollInterval     = 2 * time.Second
)

// LoadFile reads and parses the policy file. An empty path yields the empty
// config: no protected targets, no approval requirements, default breaker
// tuning.
func LoadFile(path string) (Config, error) {
	var cfg Config
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read policy file: %w", err)
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("parse policy file: %w", err)
	}
	return cfg, nil
}

// FailureThreshold returns the configured breaker threshold or the default.
func (c BreakerConfig) FailureThresholdOrDefault() int {
	if c.FailureThreshold > 0 {
		return c.FailureThreshold
	}
	return DefaultFailureThreshold
}

// WindowOrDefault parses the breaker window duration.
func (c BreakerConfig) WindowOrDefault() time.Duration {
	return parseDuration(c.Window, DefaultWindow)
}

// CooldownOrDefault parses the breaker cooldown duration.
func (c BreakerConfig) CooldownOrDefault() time.Duration {
	return parseDuration(c.Cooldown, DefaultCooldown)
}

func (c WorkerConfig) CountOrDefault() int {
	if c.Count > 0 {
		return c.Count
	}
	return DefaultWorkerCount
}

func (c WorkerConfig) PollIntervalOrDefault() time.Duration {
	return parseDuration(c.PollInterval, DefaultPollInterval)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return fallback
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
