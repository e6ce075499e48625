package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/searchpulse/pkg/observability"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "9090", cfg.Server.HealthPort)
	assert.Equal(t, "postgres", cfg.Database.Driver)
	assert.Equal(t, 3, cfg.Collector.ReportingLagDays)
	assert.Equal(t, 14, cfg.Collector.DefaultWindowDays)
	assert.Equal(t, "0 6 * * *", cfg.Scheduler.CollectionSchedule)
	assert.Equal(t, 10, cfg.Insights.TopN)
	assert.Equal(t, 5, cfg.Insights.TaskCount)
	assert.False(t, cfg.Insights.EnrichmentEnabled)
	assert.Equal(t, observability.InfoLevel, cfg.Observability.LogLevel)
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("SEARCHPULSE_PORT", "8181")
	t.Setenv("SEARCHPULSE_DB_DRIVER", "sqlite3")
	t.Setenv("SEARCHPULSE_DB_URL", "file:searchpulse.db")
	t.Setenv("SEARCHPULSE_REPORTING_LAG_DAYS", "5")
	t.Setenv("SEARCHPULSE_FETCH_TIMEOUT", "45s")
	t.Setenv("SEARCHPULSE_LOG_LEVEL", "debug")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "8181", cfg.Server.Port)
	assert.Equal(t, "sqlite3", cfg.Database.Driver)
	assert.Equal(t, "file:searchpulse.db", cfg.Database.URL)
	assert.Equal(t, 5, cfg.Collector.ReportingLagDays)
	assert.Equal(t, 45*time.Second, cfg.Collector.FetchTimeout)
	assert.Equal(t, observability.DebugLevel, cfg.Observability.LogLevel)
}

func TestLoadConfigFromFileWithEnvWinning(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: "8282"
collector:
  reporting_lag_days: 4
observability:
  log_level: warn
`), 0644))

	t.Setenv("SEARCHPULSE_CONFIG_FILE", path)
	t.Setenv("SEARCHPULSE_PORT", "8383")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	// Env beats file, file beats defaults.
	assert.Equal(t, "8383", cfg.Server.Port)
	assert.Equal(t, 4, cfg.Collector.ReportingLagDays)
	assert.Equal(t, observability.WarnLevel, cfg.Observability.LogLevel)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty port", func(c *Config) { c.Server.Port = "" }},
		{"port collision", func(c *Config) { c.Server.HealthPort = c.Server.Port }},
		{"unknown driver", func(c *Config) { c.Database.Driver = "mysql" }},
		{"empty database url", func(c *Config) { c.Database.URL = "" }},
		{"negative lag", func(c *Config) { c.Collector.ReportingLagDays = -1 }},
		{"zero parallelism", func(c *Config) { c.Collector.MaxParallelSites = 0 }},
		{"zero task count", func(c *Config) { c.Insights.TaskCount = 0 }},
		{"enrichment without url", func(c *Config) {
			c.Insights.EnrichmentEnabled = true
			c.Insights.EnrichmentURL = ""
		}},
		{"otel without endpoint", func(c *Config) {
			c.Observability.OTelEnabled = true
			c.Observability.OTelEndpoint = ""
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, observability.DebugLevel, ParseLogLevel("debug"))
	assert.Equal(t, observability.WarnLevel, ParseLogLevel("WARNING"))
	assert.Equal(t, observability.ErrorLevel, ParseLogLevel("error"))
	assert.Equal(t, observability.InfoLevel, ParseLogLevel("nonsense"))
}

func TestWatcherReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: \"8080\"\n"), 0644))

	reloaded := make(chan *Config, 1)
	w, err := NewWatcher(path, func(cfg *Config) {
		select {
		case reloaded <- cfg:
		default:
		}
	})
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(path, []byte("server:\n  port: \"8484\"\n"), 0644))

	select {
	case cfg := <-reloaded:
		assert.Equal(t, "8484", cfg.Server.Port)
	case <-time.After(5 * time.Second):
		t.Fatal("watcher did not observe the config write")
	}
}
