package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	origDir, _ := os.Getwd()
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { os.Chdir(origDir) })
	return dir
}

func TestLoadDefaults(t *testing.T) {
	// Change to temp dir so no config.yaml is found
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "json", cfg.Log.Format)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 5, cfg.Pipeline.SlotWidthMinutes)
	assert.Equal(t, DefaultStages, cfg.Pipeline.Stages)
	assert.Equal(t, 25, cfg.Pipeline.FilterBatch)
	assert.Equal(t, 3, cfg.Pipeline.MinClusterMembers)
	assert.InDelta(t, 0.6, cfg.Pipeline.MinFilterConfidence, 0.001)
	assert.Equal(t, "claude-haiku-4-5-20251001", cfg.Anthropic.HaikuModel)
	assert.Equal(t, "https://www.reddit.com", cfg.Acquire.BaseURL)
	assert.Equal(t, 24, cfg.Backval.CooldownHours)
	assert.Equal(t, 5, cfg.Backval.Threshold)
	assert.InDelta(t, 3.0, cfg.Alerts.SpikeMultiple, 0.001)
	assert.Equal(t, 30, cfg.Alerts.RetentionDays)
	assert.Equal(t, "US", cfg.Scoring.TargetRegion)
	assert.InDelta(t, 1.0, cfg.Scoring.WeightSum(), 0.001)
}

func TestLoadFromYAML(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
log:
  level: debug
  format: console
server:
  port: 9090
pipeline:
  slot_width_minutes: 10
  stages: [ingest, filter]
backval:
  threshold: 8
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "console", cfg.Log.Format)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 10, cfg.Pipeline.SlotWidthMinutes)
	assert.Equal(t, []string{"ingest", "filter"}, cfg.Pipeline.Stages)
	assert.Equal(t, 8, cfg.Backval.Threshold)
	// Defaults still apply for unset values
	assert.Equal(t, 24, cfg.Backval.CooldownHours)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	dir := chdirTemp(t)

	yaml := `
log:
  level: debug
backval:
  cooldown_hours: 12
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte(yaml), 0644))

	t.Setenv("PAINPOINT_LOG_LEVEL", "warn")
	t.Setenv("PAINPOINT_BACKVAL_COOLDOWN_HOURS", "48")

	cfg, err := Load()
	require.NoError(t, err)

	// Env overrides file
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, 48, cfg.Backval.CooldownHours)
}

func TestLoadEnvOverridesDefaults(t *testing.T) {
	chdirTemp(t)

	t.Setenv("PAINPOINT_SERVER_PORT", "3000")
	t.Setenv("PAINPOINT_STORE_DATABASE_URL", "postgres://localhost/pain")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, "postgres://localhost/pain", cfg.Store.DatabaseURL)
}

func TestLoadEnvOnly_PassesValidation(t *testing.T) {
	chdirTemp(t)

	t.Setenv("PAINPOINT_STORE_DATABASE_URL", "postgres://localhost/pain")
	t.Setenv("PAINPOINT_ANTHROPIC_KEY", "sk-env")
	t.Setenv("PAINPOINT_ALERTS_WEBHOOK_URL", "https://hooks.example.com/pain")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "sk-env", cfg.Anthropic.Key)
	assert.Equal(t, "https://hooks.example.com/pain", cfg.Alerts.WebhookURL)
	assert.NoError(t, cfg.Validate("pipeline"))
	assert.NoError(t, cfg.Validate("serve"))
}

func TestLoadEnv_ZeroSuppressionFailsValidation(t *testing.T) {
	chdirTemp(t)

	t.Setenv("PAINPOINT_STORE_DATABASE_URL", "postgres://localhost/pain")
	t.Setenv("PAINPOINT_ANTHROPIC_KEY", "sk-env")
	t.Setenv("PAINPOINT_ALERTS_SUPPRESSION_HOURS", "0")

	cfg, err := Load()
	require.NoError(t, err)
	err = cfg.Validate("pipeline")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "alerts.suppression_hours")
}

func TestAlertsConfig_LongestWindowHours(t *testing.T) {
	a := AlertsConfig{NewClusterWindowHours: 24, SpikeWindowHours: 6, GapWindowHours: 72, SeverityWindowHours: 24}
	assert.Equal(t, 72, a.LongestWindowHours())
}

func TestLoadInvalidYAML(t *testing.T) {
	dir := chdirTemp(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("log: [unclosed"), 0644))

	_, err := Load()
	assert.Error(t, err)
}

func TestInitLoggerConsole(t *testing.T) {
	err := InitLogger(LogConfig{Level: "debug", Format: "console"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerJSON(t *testing.T) {
	err := InitLogger(LogConfig{Level: "info", Format: "json"})
	require.NoError(t, err)
	assert.NotNil(t, zap.L())
}

func TestInitLoggerInvalidLevel(t *testing.T) {
	err := InitLogger(LogConfig{Level: "invalid", Format: "json"})
	assert.Error(t, err)
}

// validDefaults returns a Config with all defaults populated for validation tests.
func validDefaults() *Config {
	cfg := &Config{}
	cfg.Store.DatabaseURL = "postgres://localhost/pain"
	cfg.Anthropic.Key = "sk-test"
	cfg.Server.Port = 8080
	cfg.Pipeline.SlotWidthMinutes = 5
	cfg.Pipeline.Stages = DefaultStages
	cfg.Pipeline.MinClusterMembers = 3
	cfg.Pipeline.MinFilterConfidence = 0.6
	cfg.Scoring = ScoringConfig{
		FrequencyWeight:   0.20,
		SeverityWeight:    0.20,
		EconomicWeight:    0.20,
		SolvabilityWeight: 0.15,
		CompetitiveWeight: 0.15,
		RegionalWeight:    0.10,
	}
	cfg.Backval.CooldownHours = 24
	cfg.Alerts.SpikeMultiple = 3
	cfg.Alerts.SeverityRatio = 0.5
	cfg.Alerts.NewClusterWindowHours = 24
	cfg.Alerts.SpikeWindowHours = 6
	cfg.Alerts.GapWindowHours = 24
	cfg.Alerts.SeverityWindowHours = 24
	cfg.Alerts.SuppressionHours = 24
	return cfg
}

func TestValidate_Defaults(t *testing.T) {
	cfg := validDefaults()
	assert.NoError(t, cfg.Validate("pipeline"))
	assert.NoError(t, cfg.Validate("serve"))
	assert.NoError(t, cfg.Validate("admin"))
}

func TestValidate_UnknownMode(t *testing.T) {
	err := validDefaults().Validate("bogus")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown validation mode")
}

func TestValidate_MissingDatabaseURL(t *testing.T) {
	cfg := validDefaults()
	cfg.Store.DatabaseURL = ""
	err := cfg.Validate("admin")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store.database_url")
}

func TestValidate_AnthropicKeyPerMode(t *testing.T) {
	cfg := validDefaults()
	cfg.Anthropic.Key = ""

	assert.NoError(t, cfg.Validate("admin"))

	err := cfg.Validate("pipeline")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "anthropic.key")
}

func TestValidate_ServePort(t *testing.T) {
	cfg := validDefaults()
	cfg.Server.Port = 70000
	err := cfg.Validate("serve")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "server.port")

	// Port is irrelevant outside serve mode.
	assert.NoError(t, cfg.Validate("pipeline"))
}

func TestValidate_WeightSum(t *testing.T) {
	cfg := validDefaults()
	cfg.Scoring.RegionalWeight = 0.30
	err := cfg.Validate("pipeline")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must sum to 1.0")

	// Within tolerance.
	cfg.Scoring.RegionalWeight = 0.1005
	assert.NoError(t, cfg.Validate("pipeline"))
}

func TestValidate_NegativeWeight(t *testing.T) {
	cfg := validDefaults()
	cfg.Scoring.FrequencyWeight = -0.1
	cfg.Scoring.SeverityWeight = 0.5
	err := cfg.Validate("pipeline")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scoring.frequency_weight must be >= 0")
}

func TestValidate_Bounds(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"slot width", func(c *Config) { c.Pipeline.SlotWidthMinutes = 0 }, "slot_width_minutes"},
		{"no stages", func(c *Config) { c.Pipeline.Stages = nil }, "pipeline.stages"},
		{"min members", func(c *Config) { c.Pipeline.MinClusterMembers = 0 }, "min_cluster_members"},
		{"confidence", func(c *Config) { c.Pipeline.MinFilterConfidence = 1.5 }, "min_filter_confidence"},
		{"cooldown", func(c *Config) { c.Backval.CooldownHours = 0 }, "cooldown_hours"},
		{"spike", func(c *Config) { c.Alerts.SpikeMultiple = 1 }, "spike_multiple"},
		{"severity ratio", func(c *Config) { c.Alerts.SeverityRatio = 0 }, "severity_ratio"},
		{"no suppression", func(c *Config) { c.Alerts.SuppressionHours = 0 }, "alerts.suppression_hours"},
		{"suppression shorter than gap window", func(c *Config) { c.Alerts.GapWindowHours = 48 }, "longest rule window (48h)"},
		{"unknown stage", func(c *Config) { c.Pipeline.Stages = []string{"ingest", "filter", "nosuchstage"} }, `unknown stage "nosuchstage"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validDefaults()
			tt.mutate(cfg)
			err := cfg.Validate("pipeline")
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
