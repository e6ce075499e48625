package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/platinummonkey/searchpulse/pkg/observability"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig `yaml:"server"`

	// Database configuration
	Database DatabaseConfig `yaml:"database"`

	// Collector configuration
	Collector CollectorConfig `yaml:"collector"`

	// Scheduler configuration
	Scheduler SchedulerConfig `yaml:"scheduler"`

	// Insights configuration
	Insights InsightsConfig `yaml:"insights"`

	// Observability configuration
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// Health/metrics server (separate port for k8s probes)
	HealthPort string `yaml:"health_port"`
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	// Driver is "postgres" or "sqlite3"
	Driver       string        `yaml:"driver"`
	URL          string        `yaml:"url"`
	MaxOpenConns int           `yaml:"max_open_conns"`
	MaxIdleConns int           `yaml:"max_idle_conns"`
	ConnLifetime time.Duration `yaml:"conn_lifetime"`
}

// CollectorConfig holds metric collection configuration
type CollectorConfig struct {
	// FetchTimeout bounds every call to the upstream analytics API
	FetchTimeout time.Duration `yaml:"fetch_timeout"`

	// ReportingLagDays is the upstream data availability lag: no collection
	// is attempted for dates newer than today minus this many days
	ReportingLagDays int `yaml:"reporting_lag_days"`

	// MaxParallelSites bounds per-date site fan-out during reconciliation
	MaxParallelSites int `yaml:"max_parallel_sites"`

	// DefaultWindowDays is the reconciliation lookback when none is given
	DefaultWindowDays int `yaml:"default_window_days"`

	// RowLimit caps per-page and per-query breakdown rows per fetch
	RowLimit int `yaml:"row_limit"`
}

// SchedulerConfig holds cron schedules for the worker binary
type SchedulerConfig struct {
	CollectionSchedule string `yaml:"collection_schedule"`
	ReportingSchedule  string `yaml:"reporting_schedule"`
}

// InsightsConfig holds insight synthesis configuration
type InsightsConfig struct {
	// TopN is the number of top pages/queries ranked into each report
	TopN int `yaml:"top_n"`

	// TaskCount is the exact number of follow-up tasks emitted per report
	TaskCount int `yaml:"task_count"`

	EnrichmentEnabled bool          `yaml:"enrichment_enabled"`
	EnrichmentURL     string        `yaml:"enrichment_url"`
	EnrichmentModel   string        `yaml:"enrichment_model"`
	EnrichmentAPIKey  string        `yaml:"enrichment_api_key"`
	EnrichmentTimeout time.Duration `yaml:"enrichment_timeout"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel       observability.LogLevel `yaml:"-"`
	LogLevelName   string                 `yaml:"log_level"`
	MetricsEnabled bool                   `yaml:"metrics_enabled"`

	OTelEnabled        bool   `yaml:"otel_enabled"`
	OTelEndpoint       string `yaml:"otel_endpoint"`
	OTelServiceName    string `yaml:"otel_service_name"`
	OTelServiceVersion string `yaml:"otel_service_version"`
	OTelInsecure       bool   `yaml:"otel_insecure"`
}

// LoadConfig loads configuration from environment variables, optionally
// merged over a YAML file named by SEARCHPULSE_CONFIG_FILE.
func LoadConfig() (*Config, error) {
	cfg := defaultConfig()

	if path := getEnv("SEARCHPULSE_CONFIG_FILE", ""); path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config file: %w", err)
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            "8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			HealthPort:      "9090",
		},
		Database: DatabaseConfig{
			Driver:       "postgres",
			URL:          "postgres://localhost/searchpulse?sslmode=disable",
			MaxOpenConns: 25,
			MaxIdleConns: 5,
			ConnLifetime: 5 * time.Minute,
		},
		Collector: CollectorConfig{
			FetchTimeout:      30 * time.Second,
			ReportingLagDays:  3,
			MaxParallelSites:  4,
			DefaultWindowDays: 14,
			RowLimit:          1000,
		},
		Scheduler: SchedulerConfig{
			CollectionSchedule: "0 6 * * *",
			ReportingSchedule:  "0 7 * * 1",
		},
		Insights: InsightsConfig{
			TopN:              10,
			TaskCount:         5,
			EnrichmentEnabled: false,
			EnrichmentTimeout: 20 * time.Second,
		},
		Observability: ObservabilityConfig{
			LogLevel:           observability.InfoLevel,
			LogLevelName:       "info",
			MetricsEnabled:     true,
			OTelEnabled:        false,
			OTelEndpoint:       "localhost:4317",
			OTelServiceName:    "searchpulse",
			OTelServiceVersion: "1.0.0",
			OTelInsecure:       true,
		},
	}
}

// applyEnv overrides config values from SEARCHPULSE_* environment variables
func applyEnv(cfg *Config) {
	cfg.Server.Host = getEnv("SEARCHPULSE_HOST", cfg.Server.Host)
	cfg.Server.Port = getEnv("SEARCHPULSE_PORT", cfg.Server.Port)
	cfg.Server.ReadTimeout = getEnvDuration("SEARCHPULSE_READ_TIMEOUT", cfg.Server.ReadTimeout)
	cfg.Server.WriteTimeout = getEnvDuration("SEARCHPULSE_WRITE_TIMEOUT", cfg.Server.WriteTimeout)
	cfg.Server.IdleTimeout = getEnvDuration("SEARCHPULSE_IDLE_TIMEOUT", cfg.Server.IdleTimeout)
	cfg.Server.ShutdownTimeout = getEnvDuration("SEARCHPULSE_SHUTDOWN_TIMEOUT", cfg.Server.ShutdownTimeout)
	cfg.Server.HealthPort = getEnv("SEARCHPULSE_HEALTH_PORT", cfg.Server.HealthPort)

	cfg.Database.Driver = getEnv("SEARCHPULSE_DB_DRIVER", cfg.Database.Driver)
	cfg.Database.URL = getEnv("SEARCHPULSE_DB_URL", cfg.Database.URL)
	cfg.Database.MaxOpenConns = getEnvInt("SEARCHPULSE_DB_MAX_OPEN_CONNS", cfg.Database.MaxOpenConns)
	cfg.Database.MaxIdleConns = getEnvInt("SEARCHPULSE_DB_MAX_IDLE_CONNS", cfg.Database.MaxIdleConns)
	cfg.Database.ConnLifetime = getEnvDuration("SEARCHPULSE_DB_CONN_LIFETIME", cfg.Database.ConnLifetime)

	cfg.Collector.FetchTimeout = getEnvDuration("SEARCHPULSE_FETCH_TIMEOUT", cfg.Collector.FetchTimeout)
	cfg.Collector.ReportingLagDays = getEnvInt("SEARCHPULSE_REPORTING_LAG_DAYS", cfg.Collector.ReportingLagDays)
	cfg.Collector.MaxParallelSites = getEnvInt("SEARCHPULSE_MAX_PARALLEL_SITES", cfg.Collector.MaxParallelSites)
	cfg.Collector.DefaultWindowDays = getEnvInt("SEARCHPULSE_DEFAULT_WINDOW_DAYS", cfg.Collector.DefaultWindowDays)
	cfg.Collector.RowLimit = getEnvInt("SEARCHPULSE_ROW_LIMIT", cfg.Collector.RowLimit)

	cfg.Scheduler.CollectionSchedule = getEnv("SEARCHPULSE_COLLECTION_SCHEDULE", cfg.Scheduler.CollectionSchedule)
	cfg.Scheduler.ReportingSchedule = getEnv("SEARCHPULSE_REPORTING_SCHEDULE", cfg.Scheduler.ReportingSchedule)

	cfg.Insights.TopN = getEnvInt("SEARCHPULSE_REPORT_TOP_N", cfg.Insights.TopN)
	cfg.Insights.TaskCount = getEnvInt("SEARCHPULSE_TASK_COUNT", cfg.Insights.TaskCount)
	cfg.Insights.EnrichmentEnabled = getEnvBool("SEARCHPULSE_ENRICHMENT_ENABLED", cfg.Insights.EnrichmentEnabled)
	cfg.Insights.EnrichmentURL = getEnv("SEARCHPULSE_ENRICHMENT_URL", cfg.Insights.EnrichmentURL)
	cfg.Insights.EnrichmentModel = getEnv("SEARCHPULSE_ENRICHMENT_MODEL", cfg.Insights.EnrichmentModel)
	cfg.Insights.EnrichmentAPIKey = getEnv("SEARCHPULSE_ENRICHMENT_API_KEY", cfg.Insights.EnrichmentAPIKey)
	cfg.Insights.EnrichmentTimeout = getEnvDuration("SEARCHPULSE_ENRICHMENT_TIMEOUT", cfg.Insights.EnrichmentTimeout)

	cfg.Observability.LogLevelName = getEnv("SEARCHPULSE_LOG_LEVEL", cfg.Observability.LogLevelName)
	cfg.Observability.LogLevel = ParseLogLevel(cfg.Observability.LogLevelName)
	cfg.Observability.MetricsEnabled = getEnvBool("SEARCHPULSE_METRICS_ENABLED", cfg.Observability.MetricsEnabled)
	cfg.Observability.OTelEnabled = getEnvBool("SEARCHPULSE_OTEL_ENABLED", cfg.Observability.OTelEnabled)
	cfg.Observability.OTelEndpoint = getEnv("SEARCHPULSE_OTEL_ENDPOINT", cfg.Observability.OTelEndpoint)
	cfg.Observability.OTelServiceName = getEnv("SEARCHPULSE_OTEL_SERVICE_NAME", cfg.Observability.OTelServiceName)
	cfg.Observability.OTelServiceVersion = getEnv("SEARCHPULSE_OTEL_SERVICE_VERSION", cfg.Observability.OTelServiceVersion)
	cfg.Observability.OTelInsecure = getEnvBool("SEARCHPULSE_OTEL_INSECURE", cfg.Observability.OTelInsecure)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	switch c.Database.Driver {
	case "postgres", "sqlite3":
	default:
		return fmt.Errorf("invalid database driver: %s (must be postgres or sqlite3)", c.Database.Driver)
	}
	if c.Database.URL == "" {
		return fmt.Errorf("database URL is required")
	}

	if c.Collector.ReportingLagDays < 0 {
		return fmt.Errorf("reporting lag days must not be negative")
	}
	if c.Collector.MaxParallelSites < 1 {
		return fmt.Errorf("max parallel sites must be at least 1")
	}
	if c.Insights.TaskCount < 1 {
		return fmt.Errorf("task count must be at least 1")
	}
	if c.Insights.TopN < 1 {
		return fmt.Errorf("report top N must be at least 1")
	}
	if c.Insights.EnrichmentEnabled && c.Insights.EnrichmentURL == "" {
		return fmt.Errorf("enrichment URL is required when enrichment is enabled")
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTelServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// ParseLogLevel parses a log level string
func ParseLogLevel(level string) observability.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return observability.DebugLevel
	case "info":
		return observability.InfoLevel
	case "warn", "warning":
		return observability.WarnLevel
	case "error":
		return observability.ErrorLevel
	default:
		return observability.InfoLevel
	}
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
