package config

import (
	"os"
	"strconv"
)

type Config struct {
	// Server
	Port string

	// Database
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Auth (single operator)
	AdminUsername    string
	AdminPassword    string // plaintext in env, bcrypt-hashed at startup
	AdminDisplayName string
	AdminRole        string
	JWTSecret        string

	// Operator policy (constraints, breaker tuning, trigger rules)
	PolicyFile string

	// Webhook ingest (Alertmanager etc. cannot log in)
	WebhookToken string

	// Notification channel (Discord-compatible webhook), optional
	NotifyWebhookURL string

	// External action runner that performs approved work items
	RunnerURL   string
	RunnerToken string

	// Trigger evaluation interval
	TriggerIntervalSeconds int

	// Ledger availability re-probe interval
	LedgerProbeSeconds int
}

func Load() *Config {
	triggerInterval, _ := strconv.Atoi(getEnv("TRIGGER_INTERVAL", "30"))
	probeInterval, _ := strconv.Atoi(getEnv("LEDGER_PROBE_INTERVAL", "10"))
	return &Config{
		Port:                   getEnv("PORT", "8098"),
		DBHost:                 getEnv("DB_HOST", "localhost"),
		DBPort:                 getEnv("DB_PORT", "5432"),
		DBUser:                 getEnv("DB_USER", "postgres"),
		DBPassword:             getEnv("DB_PASSWORD", ""),
		DBName:                 getEnv("DB_NAME", "warden_db"),
		DBSSLMode:              getEnv("DB_SSLMODE", "disable"),
		AdminUsername:          getEnv("ADMIN_USERNAME", "shaun"),
		AdminPassword:          getEnv("ADMIN_PASSWORD", ""),
		AdminDisplayName:       getEnv("ADMIN_DISPLAY_NAME", "Shaun"),
		AdminRole:              getEnv("ADMIN_ROLE", "admin"),
		JWTSecret:              getEnv("JWT_SECRET", ""),
		PolicyFile:             getEnv("POLICY_FILE", ""),
		WebhookToken:           getEnv("WEBHOOK_TOKEN", ""),
		NotifyWebhookURL:       getEnv("NOTIFY_WEBHOOK_URL", ""),
		RunnerURL:              getEnv("ACTION_RUNNER_URL", ""),
		RunnerToken:            getEnv("ACTION_RUNNER_TOKEN", ""),
		TriggerIntervalSeconds: triggerInterval,
		LedgerProbeSeconds:     probeInterval,
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
