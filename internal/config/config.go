package config

import (
	"fmt"
	"math"
	"slices"
	"sort"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Oracle    OracleConfig    `yaml:"oracle" mapstructure:"oracle"`
	Acquire   AcquireConfig   `yaml:"acquire" mapstructure:"acquire"`
	Pipeline  PipelineConfig  `yaml:"pipeline" mapstructure:"pipeline"`
	Scoring   ScoringConfig   `yaml:"scoring" mapstructure:"scoring"`
	Backval   BackvalConfig   `yaml:"backval" mapstructure:"backval"`
	Alerts    AlertsConfig    `yaml:"alerts" mapstructure:"alerts"`
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StoreConfig configures the Postgres backend.
type StoreConfig struct {
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	MaxConns    int32  `yaml:"max_conns" mapstructure:"max_conns"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	Key         string `yaml:"key" mapstructure:"key"`
	HaikuModel  string `yaml:"haiku_model" mapstructure:"haiku_model"`
	SonnetModel string `yaml:"sonnet_model" mapstructure:"sonnet_model"`
}

// OracleConfig bounds every classify/generate call.
type OracleConfig struct {
	TimeoutSecs       int     `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RequestsPerSecond float64 `yaml:"requests_per_second" mapstructure:"requests_per_second"`
	MaxTokens         int64   `yaml:"max_tokens" mapstructure:"max_tokens"`
	FailureThreshold  int     `yaml:"failure_threshold" mapstructure:"failure_threshold"`
	ResetTimeoutSecs  int     `yaml:"reset_timeout_secs" mapstructure:"reset_timeout_secs"`
}

// AcquireConfig configures content acquisition.
type AcquireConfig struct {
	Sources           []string `yaml:"sources" mapstructure:"sources"`
	BaseURL           string   `yaml:"base_url" mapstructure:"base_url"`
	UserAgent         string   `yaml:"user_agent" mapstructure:"user_agent"`
	TimeoutSecs       int      `yaml:"timeout_secs" mapstructure:"timeout_secs"`
	RequestsPerSecond float64  `yaml:"requests_per_second" mapstructure:"requests_per_second"`
}

// PipelineConfig configures stage batch ceilings and rotation.
type PipelineConfig struct {
	SlotWidthMinutes    int      `yaml:"slot_width_minutes" mapstructure:"slot_width_minutes"`
	Stages              []string `yaml:"stages" mapstructure:"stages"`
	IngestBatch         int      `yaml:"ingest_batch" mapstructure:"ingest_batch"`
	FilterBatch         int      `yaml:"filter_batch" mapstructure:"filter_batch"`
	ExtractBatch        int      `yaml:"extract_batch" mapstructure:"extract_batch"`
	ClusterBatch        int      `yaml:"cluster_batch" mapstructure:"cluster_batch"`
	SynthesizeBatch     int      `yaml:"synthesize_batch" mapstructure:"synthesize_batch"`
	ScoreBatch          int      `yaml:"score_batch" mapstructure:"score_batch"`
	Concurrency         int      `yaml:"concurrency" mapstructure:"concurrency"`
	MinFilterConfidence float64  `yaml:"min_filter_confidence" mapstructure:"min_filter_confidence"`
	MinClusterMembers   int      `yaml:"min_cluster_members" mapstructure:"min_cluster_members"`
	ClusterSimilarity   float64  `yaml:"cluster_similarity" mapstructure:"cluster_similarity"`
}

// ScoringConfig holds the composite score weights. Weights sum to 1.0.
type ScoringConfig struct {
	FrequencyWeight   float64 `yaml:"frequency_weight" mapstructure:"frequency_weight"`
	SeverityWeight    float64 `yaml:"severity_weight" mapstructure:"severity_weight"`
	EconomicWeight    float64 `yaml:"economic_weight" mapstructure:"economic_weight"`
	SolvabilityWeight float64 `yaml:"solvability_weight" mapstructure:"solvability_weight"`
	CompetitiveWeight float64 `yaml:"competitive_weight" mapstructure:"competitive_weight"`
	RegionalWeight    float64 `yaml:"regional_weight" mapstructure:"regional_weight"`
	TargetRegion      string  `yaml:"target_region" mapstructure:"target_region"`
}

// BackvalConfig configures the back-validation feedback loop.
type BackvalConfig struct {
	Threshold       int `yaml:"threshold" mapstructure:"threshold"`
	CooldownHours   int `yaml:"cooldown_hours" mapstructure:"cooldown_hours"`
	Batch           int `yaml:"batch" mapstructure:"batch"`
	MaxDirectives   int `yaml:"max_directives" mapstructure:"max_directives"`
	ResultsPerQuery int `yaml:"results_per_query" mapstructure:"results_per_query"`
	MaxCandidates   int `yaml:"max_candidates" mapstructure:"max_candidates"`
}

// AlertsConfig configures the change-detection rules.
type AlertsConfig struct {
	NewClusterWindowHours int     `yaml:"new_cluster_window_hours" mapstructure:"new_cluster_window_hours"`
	SpikeWindowHours      int     `yaml:"spike_window_hours" mapstructure:"spike_window_hours"`
	SpikeBaselineWindows  int     `yaml:"spike_baseline_windows" mapstructure:"spike_baseline_windows"`
	SpikeMultiple         float64 `yaml:"spike_multiple" mapstructure:"spike_multiple"`
	SpikeMinVolume        int     `yaml:"spike_min_volume" mapstructure:"spike_min_volume"`
	GapWindowHours        int     `yaml:"gap_window_hours" mapstructure:"gap_window_hours"`
	GapMinOccurrences     int     `yaml:"gap_min_occurrences" mapstructure:"gap_min_occurrences"`
	SeverityRatio         float64 `yaml:"severity_ratio" mapstructure:"severity_ratio"`
	SeverityMinCount      int     `yaml:"severity_min_count" mapstructure:"severity_min_count"`
	SeverityWindowHours   int     `yaml:"severity_window_hours" mapstructure:"severity_window_hours"`
	SuppressionHours      int     `yaml:"suppression_hours" mapstructure:"suppression_hours"`
	RetentionDays         int     `yaml:"retention_days" mapstructure:"retention_days"`
	WebhookURL            string  `yaml:"webhook_url" mapstructure:"webhook_url"`
}

// LongestWindowHours returns the widest lookback of any alert rule. An
// alert suppressed for less than this would re-fire on the same evidence.
func (a AlertsConfig) LongestWindowHours() int {
	return max(a.NewClusterWindowHours, a.SpikeWindowHours, a.GapWindowHours, a.SeverityWindowHours)
}

// ServerConfig configures the HTTP trigger server.
type ServerConfig struct {
	Port           int      `yaml:"port" mapstructure:"port"`
	AllowedOrigins []string `yaml:"allowed_origins" mapstructure:"allowed_origins"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// DefaultStages is the time-slot rotation order.
var DefaultStages = []string{
	"ingest", "filter", "extract", "cluster", "synthesize", "score", "backvalidate", "alerts",
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("PAINPOINT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults. Every key needs one so AutomaticEnv values reach Unmarshal.
	v.SetDefault("store.database_url", "")
	v.SetDefault("store.max_conns", 4)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.allowed_origins", []string{"*"})
	v.SetDefault("anthropic.key", "")
	v.SetDefault("anthropic.haiku_model", "claude-haiku-4-5-20251001")
	v.SetDefault("anthropic.sonnet_model", "claude-sonnet-4-5-20250929")
	v.SetDefault("oracle.timeout_secs", 30)
	v.SetDefault("oracle.requests_per_second", 2.0)
	v.SetDefault("oracle.max_tokens", 1024)
	v.SetDefault("oracle.failure_threshold", 5)
	v.SetDefault("oracle.reset_timeout_secs", 60)
	v.SetDefault("acquire.sources", []string{"smallbusiness", "SaaS", "Entrepreneur", "freelance"})
	v.SetDefault("acquire.base_url", "https://www.reddit.com")
	v.SetDefault("acquire.user_agent", "painpoint-radar/1.0")
	v.SetDefault("acquire.timeout_secs", 15)
	v.SetDefault("acquire.requests_per_second", 1.0)
	v.SetDefault("pipeline.slot_width_minutes", 5)
	v.SetDefault("pipeline.stages", DefaultStages)
	v.SetDefault("pipeline.ingest_batch", 100)
	v.SetDefault("pipeline.filter_batch", 25)
	v.SetDefault("pipeline.extract_batch", 15)
	v.SetDefault("pipeline.cluster_batch", 50)
	v.SetDefault("pipeline.synthesize_batch", 5)
	v.SetDefault("pipeline.score_batch", 50)
	v.SetDefault("pipeline.concurrency", 4)
	v.SetDefault("pipeline.min_filter_confidence", 0.6)
	v.SetDefault("pipeline.min_cluster_members", 3)
	v.SetDefault("pipeline.cluster_similarity", 0.3)
	v.SetDefault("scoring.frequency_weight", 0.20)
	v.SetDefault("scoring.severity_weight", 0.20)
	v.SetDefault("scoring.economic_weight", 0.20)
	v.SetDefault("scoring.solvability_weight", 0.15)
	v.SetDefault("scoring.competitive_weight", 0.15)
	v.SetDefault("scoring.regional_weight", 0.10)
	v.SetDefault("scoring.target_region", "US")
	v.SetDefault("backval.threshold", 5)
	v.SetDefault("backval.cooldown_hours", 24)
	v.SetDefault("backval.batch", 2)
	v.SetDefault("backval.max_directives", 3)
	v.SetDefault("backval.results_per_query", 10)
	v.SetDefault("backval.max_candidates", 20)
	v.SetDefault("alerts.new_cluster_window_hours", 24)
	v.SetDefault("alerts.spike_window_hours", 6)
	v.SetDefault("alerts.spike_baseline_windows", 4)
	v.SetDefault("alerts.spike_multiple", 3.0)
	v.SetDefault("alerts.spike_min_volume", 5)
	v.SetDefault("alerts.gap_window_hours", 24)
	v.SetDefault("alerts.gap_min_occurrences", 3)
	v.SetDefault("alerts.severity_ratio", 0.5)
	v.SetDefault("alerts.severity_min_count", 3)
	v.SetDefault("alerts.severity_window_hours", 24)
	v.SetDefault("alerts.suppression_hours", 24)
	v.SetDefault("alerts.retention_days", 30)
	v.SetDefault("alerts.webhook_url", "")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// WeightSum returns the sum of all composite score weights.
func (s ScoringConfig) WeightSum() float64 {
	return s.FrequencyWeight + s.SeverityWeight + s.EconomicWeight +
		s.SolvabilityWeight + s.CompetitiveWeight + s.RegionalWeight
}

// Validate checks that the configuration is internally consistent and that
// the settings required by the given mode are present. Modes: "pipeline"
// (tick, stage), "serve", "admin" (migrate, alerts, clusters, status).
func (c *Config) Validate(mode string) error {
	var errs []string

	switch mode {
	case "pipeline", "serve", "admin":
	default:
		return eris.Errorf("config: unknown validation mode %q", mode)
	}

	if c.Store.DatabaseURL == "" {
		errs = append(errs, "store.database_url is required")
	}
	if mode == "pipeline" || mode == "serve" {
		if c.Anthropic.Key == "" {
			errs = append(errs, "anthropic.key is required")
		}
	}
	if mode == "serve" && (c.Server.Port <= 0 || c.Server.Port > 65535) {
		errs = append(errs, fmt.Sprintf("server.port must be 1-65535, got %d", c.Server.Port))
	}

	for name, w := range map[string]float64{
		"frequency_weight":   c.Scoring.FrequencyWeight,
		"severity_weight":    c.Scoring.SeverityWeight,
		"economic_weight":    c.Scoring.EconomicWeight,
		"solvability_weight": c.Scoring.SolvabilityWeight,
		"competitive_weight": c.Scoring.CompetitiveWeight,
		"regional_weight":    c.Scoring.RegionalWeight,
	} {
		if w < 0 {
			errs = append(errs, fmt.Sprintf("scoring.%s must be >= 0", name))
		}
	}
	if sum := c.Scoring.WeightSum(); math.Abs(sum-1) > 0.001 {
		errs = append(errs, fmt.Sprintf("scoring weights must sum to 1.0, got %.3f", sum))
	}

	if c.Pipeline.SlotWidthMinutes <= 0 {
		errs = append(errs, "pipeline.slot_width_minutes must be > 0")
	}
	if len(c.Pipeline.Stages) == 0 {
		errs = append(errs, "pipeline.stages must not be empty")
	}
	for _, name := range c.Pipeline.Stages {
		if !slices.Contains(DefaultStages, name) {
			errs = append(errs, fmt.Sprintf("pipeline.stages: unknown stage %q", name))
		}
	}
	if c.Pipeline.MinClusterMembers <= 0 {
		errs = append(errs, "pipeline.min_cluster_members must be > 0")
	}
	if c.Pipeline.MinFilterConfidence < 0 || c.Pipeline.MinFilterConfidence > 1 {
		errs = append(errs, "pipeline.min_filter_confidence must be 0-1")
	}
	if c.Backval.CooldownHours <= 0 {
		errs = append(errs, "backval.cooldown_hours must be > 0")
	}
	if c.Alerts.SpikeMultiple <= 1 {
		errs = append(errs, "alerts.spike_multiple must be > 1")
	}
	if c.Alerts.SeverityRatio <= 0 || c.Alerts.SeverityRatio > 1 {
		errs = append(errs, "alerts.severity_ratio must be in (0, 1]")
	}
	if window := c.Alerts.LongestWindowHours(); c.Alerts.SuppressionHours <= 0 || c.Alerts.SuppressionHours < window {
		errs = append(errs, fmt.Sprintf("alerts.suppression_hours must be > 0 and >= the longest rule window (%dh)", window))
	}

	if len(errs) > 0 {
		sort.Strings(errs)
		return eris.Errorf("config: %s", strings.Join(errs, "; "))
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
