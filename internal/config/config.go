// Package config loads the engine's environment-variable configuration,
// validated with the teacher's hand-rolled ValidationError convention
// (market_maker/internal/config/config.go) rather than a third-party
// struct-tag validator — see DESIGN.md.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config is the process-wide configuration sourced from the environment,
// per spec.md §6.
type Config struct {
	APIKey    string
	APISecret string
	BaseURL   string
	IsPaper   bool

	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string

	DryRunMode            bool
	TestingMode           bool
	IntegrationTestMode   bool
	OrderCooldownSeconds  int
	StaleOrderThresholdMin int

	LogLevel string

	AssetsFile      string
	WebhookURL      string
	MetricsAddr     string
	StorePath       string

	PIDFile      string
	MaintenanceFile string
}

// ValidationError names the offending field, matching the teacher's
// field/value/message triple.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s' (value: %v): %s", e.Field, e.Value, e.Message)
}

// Load reads the engine configuration from the environment and validates
// it. Unset integer toggles fall back to the defaults named in spec.md §4.E.
func Load() (*Config, error) {
	cfg := &Config{
		APIKey:                 os.Getenv("API_KEY"),
		APISecret:              os.Getenv("API_SECRET"),
		BaseURL:                os.Getenv("BASE_URL"),
		DBHost:                 getenvDefault("DB_HOST", "localhost"),
		DBPort:                 getenvIntDefault("DB_PORT", 5432),
		DBUser:                 os.Getenv("DB_USER"),
		DBPassword:             os.Getenv("DB_PASSWORD"),
		DBName:                 getenvDefault("DB_NAME", "dca_engine"),
		DryRunMode:             getenvBool("DRY_RUN_MODE"),
		TestingMode:            getenvBool("TESTING_MODE"),
		IntegrationTestMode:    getenvBool("INTEGRATION_TEST_MODE"),
		OrderCooldownSeconds:   getenvIntDefault("ORDER_COOLDOWN_SECONDS", 5),
		StaleOrderThresholdMin: getenvIntDefault("STALE_ORDER_THRESHOLD_MINUTES", 5),
		LogLevel:               getenvDefault("LOG_LEVEL", "INFO"),
		AssetsFile:             getenvDefault("ASSETS_FILE", "configs/assets.yaml"),
		WebhookURL:             os.Getenv("NOTIFY_WEBHOOK_URL"),
		MetricsAddr:            getenvDefault("METRICS_ADDR", ":9090"),
		StorePath:              getenvDefault("STORE_PATH", "dca_engine.db"),
		PIDFile:                getenvDefault("PID_FILE", "dca_engine.pid"),
		MaintenanceFile:        getenvDefault("MAINTENANCE_FILE", ".maintenance"),
	}
	cfg.IsPaper = strings.Contains(strings.ToLower(cfg.BaseURL), "paper") || cfg.DryRunMode

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the fields that are required for the engine to run at
// all; a missing broker credential is fatal, a missing DB password is not
// (local/dev SQLite deployments may not need one).
func (c *Config) Validate() error {
	if !c.TestingMode && !c.IntegrationTestMode {
		if c.APIKey == "" {
			return ValidationError{Field: "API_KEY", Message: "required outside testing mode"}
		}
		if c.APISecret == "" {
			return ValidationError{Field: "API_SECRET", Message: "required outside testing mode"}
		}
	}
	if c.OrderCooldownSeconds < 0 {
		return ValidationError{Field: "ORDER_COOLDOWN_SECONDS", Value: c.OrderCooldownSeconds, Message: "must be >= 0"}
	}
	if c.StaleOrderThresholdMin <= 0 {
		return ValidationError{Field: "STALE_ORDER_THRESHOLD_MINUTES", Value: c.StaleOrderThresholdMin, Message: "must be > 0"}
	}
	return nil
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvIntDefault(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getenvBool(key string) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	return v == "1" || v == "true" || v == "yes" || v == "on"
}
