package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) }) //nolint:errcheck
	return dir
}

func TestLoadDefaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DriverSQLite, cfg.Store.Driver)
	assert.Equal(t, "roster-cases.db", cfg.Store.Path)
	assert.Equal(t, int32(10), cfg.Store.Pool.MaxConns)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 10, cfg.Batch.Concurrency)

	assert.Equal(t, "claude-haiku-4-5-20251001", cfg.Classifier.Model)
	assert.Equal(t, 20*time.Second, cfg.Classifier.Timeout)
	assert.Equal(t, 30*time.Second, cfg.Classifier.Breaker.Cooldown)

	assert.InDelta(t, 0.70, cfg.Matcher.Threshold, 0.001)
	assert.NotEmpty(t, cfg.Matcher.IgnorePatterns)

	assert.InDelta(t, 2_060_740, cfg.Validation.MinWage, 0.1)
	assert.Equal(t, 65, cfg.Validation.HireAgeOutlier)
	assert.Equal(t, "사원번호", cfg.Validation.KeyField)

	assert.InDelta(t, 0.30, cfg.Confidence.Weights.DataQuality, 0.001)
	assert.InDelta(t, 0.25, cfg.Confidence.Weights.RuleMatchRate, 0.001)
	assert.InDelta(t, 0.20, cfg.Confidence.Weights.FixStability, 0.001)
	assert.InDelta(t, 0.15, cfg.Confidence.Weights.CaseSimilarity, 0.001)
	assert.InDelta(t, 0.10, cfg.Confidence.Weights.MappingConfidence, 0.001)
	assert.InDelta(t, 0.5, cfg.Confidence.FixPrior, 0.001)

	assert.Equal(t, 10, cfg.Agent.MaxSteps)
	assert.Equal(t, 500*time.Millisecond, cfg.Agent.Backoff.Initial)
	assert.InDelta(t, 0.95, cfg.Agent.Thresholds.AutoComplete, 0.001)
	assert.InDelta(t, 0.50, cfg.Agent.Thresholds.AskHuman, 0.001)
	assert.True(t, cfg.Agent.Learn)
	assert.True(t, cfg.Agent.ApplyFixes)

	require.NoError(t, cfg.Validate("validate"))
	require.NoError(t, cfg.Validate("batch"))
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: postgres
  database_url: postgres://localhost/roster
log:
  level: debug
  format: console
validate:
  min_wage: 2156880
  as_of: "2025-06-30"
agent:
  max_steps: 8
  thresholds:
    auto_complete: 0.97
batch:
  concurrency: 4
  metrics_addr: ":9102"
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DriverPostgres, cfg.Store.Driver)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.InDelta(t, 2_156_880, cfg.Validation.MinWage, 0.1)
	assert.Equal(t, 8, cfg.Agent.MaxSteps)
	assert.InDelta(t, 0.97, cfg.Agent.Thresholds.AutoComplete, 0.001)
	assert.Equal(t, 4, cfg.Batch.Concurrency)
	assert.Equal(t, ":9102", cfg.Batch.MetricsAddr)
	// Defaults still apply for unset values
	assert.InDelta(t, 0.80, cfg.Agent.Thresholds.AutoCorrect, 0.001)
	assert.Equal(t, 65, cfg.Validation.HireAgeOutlier)

	rules, err := cfg.Validation.Rules()
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 6, 30, 0, 0, 0, 0, time.UTC), rules.AsOf)
	assert.NoError(t, cfg.Validate("batch"))
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
store:
  driver: sqlite
log:
  level: debug
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0o644))

	t.Setenv("ROSTER_STORE_DRIVER", "memory")
	t.Setenv("ROSTER_LOG_LEVEL", "warn")
	t.Setenv("ROSTER_AGENT_MAX_STEPS", "6")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, DriverMemory, cfg.Store.Driver)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, 6, cfg.Agent.MaxSteps)
}

func TestLoadBadYAML(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("store: [unclosed"), 0o644))

	_, err := Load()
	assert.Error(t, err)
}

func TestInitLogger(t *testing.T) {
	require.NoError(t, InitLogger(LogConfig{Level: "debug", Format: "console"}))
	assert.NotNil(t, zap.L())
	require.NoError(t, InitLogger(LogConfig{Level: "info", Format: "json"}))
	assert.Error(t, InitLogger(LogConfig{Level: "invalid", Format: "json"}))
}

func validDefaults(t *testing.T) *Config {
	t.Helper()
	chdirTemp(t)
	cfg, err := Load()
	require.NoError(t, err)
	return cfg
}

func TestValidate_Store(t *testing.T) {
	cfg := validDefaults(t)

	cfg.Store.Driver = DriverPostgres
	err := cfg.Validate("validate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url is required")

	cfg.Store.DatabaseURL = "postgres://localhost/roster"
	assert.NoError(t, cfg.Validate("validate"))

	cfg.Store.Driver = "mysql"
	err = cfg.Validate("cases")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.driver")

	cfg.Store.Driver = DriverSQLite
	cfg.Store.Path = ""
	assert.Error(t, cfg.Validate("learn"))
}

func TestValidate_Bounds(t *testing.T) {
	cfg := validDefaults(t)

	cfg.Batch.Concurrency = 11
	err := cfg.Validate("batch")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "batch.concurrency must be between 1 and 10")
	assert.NoError(t, cfg.Validate("validate"), "concurrency only matters for batch")
	cfg.Batch.Concurrency = 10

	cfg.Agent.Thresholds.AutoCorrect = 0.99
	assert.Error(t, cfg.Validate("validate"))
	assert.NoError(t, cfg.Validate("cases"))
	cfg.Agent.Thresholds.AutoCorrect = 0.80

	cfg.Confidence.Weights.DataQuality = -0.1
	assert.Error(t, cfg.Validate("validate"))
	cfg.Confidence.Weights.DataQuality = 0.30

	cfg.Validation.AsOf = "30/06/2025"
	err = cfg.Validate("validate")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "as_of")
	cfg.Validation.AsOf = ""

	assert.NoError(t, cfg.Validate("validate"))
}

func TestValidate_UnknownMode(t *testing.T) {
	cfg := validDefaults(t)
	err := cfg.Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown mode")
}
