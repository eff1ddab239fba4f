// Package config holds all econoclass configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all pipeline configuration.
type Config struct {
	// Workspace root: logs, default database location, seed files.
	Workspace string `yaml:"workspace"`

	// Database configuration
	Database DatabaseConfig `yaml:"database"`

	// Per-stage model selection
	Models ModelsConfig `yaml:"models"`

	// Per-stage batch sizes
	Batch BatchConfig `yaml:"batch"`

	// Per-stage concurrency limits
	Concurrency ConcurrencyConfig `yaml:"concurrency"`

	// Acceptance thresholds
	Thresholds ThresholdsConfig `yaml:"thresholds"`

	// Retry discipline
	Retry RetryConfig `yaml:"retry"`

	// Review stage behavior
	Review ReviewConfig `yaml:"review"`

	// Logging
	Logging LoggingConfig `yaml:"logging"`

	// Taxonomy override file (empty = embedded defaults)
	TaxonomyPath string `yaml:"taxonomy_path"`

	// DryRun skips LLM calls and returns mock classifications with token
	// estimates only.
	DryRun bool `yaml:"dry_run"`
}

// DatabaseConfig selects the storage backend.
type DatabaseConfig struct {
	Type        string `yaml:"type"` // local, remote
	Path        string `yaml:"path"` // local: sqlite file
	URL         string `yaml:"url"`  // remote: postgres URL
	WALMode     bool   `yaml:"wal_mode"`
	AutoMigrate bool   `yaml:"auto_migrate"`

	// Replace rows for an existing execution_id instead of requiring a
	// fresh one.
	ReplaceExecution bool `yaml:"replace_execution"`
}

// ModelsConfig names the model used by each LLM stage.
type ModelsConfig struct {
	Router      string `yaml:"router"`
	Specialist  string `yaml:"specialist"`
	Orientation string `yaml:"orientation"`
	Review      string `yaml:"review"`

	// ReviewProvider optionally routes Review to a different provider.
	ReviewProvider string `yaml:"review_provider"`
}

// BatchConfig sets per-stage batch sizes.
type BatchConfig struct {
	RouterBatchSize      int `yaml:"router_batch_size"`
	SpecialistBatchSize  int `yaml:"specialist_batch_size"`
	OrientationBatchSize int `yaml:"orientation_batch_size"`
	ReviewBatchSize      int `yaml:"review_batch_size"`
}

// ConcurrencyConfig sets per-stage worker limits.
type ConcurrencyConfig struct {
	Router      int `yaml:"router"`
	Specialist  int `yaml:"specialist"`
	Orientation int `yaml:"orientation"`
	Review      int `yaml:"review"`
}

// ThresholdsConfig sets confidence acceptance minimums.
type ThresholdsConfig struct {
	ConfidenceFamilyMin float64 `yaml:"confidence_family_min"`
	ConfidenceClsMin    float64 `yaml:"confidence_cls_min"`
	ConfidenceOrientMin float64 `yaml:"confidence_orient_min"`
}

// RetryConfig sets the retry discipline. Delay doubles each attempt.
type RetryConfig struct {
	MaxRetries   int `yaml:"max_retries"`
	RetryDelayMs int `yaml:"retry_delay_ms"`

	// RequestTimeout is the per-LLM-request timeout.
	RequestTimeout string `yaml:"request_timeout"`
}

// ReviewConfig controls the Review stage.
type ReviewConfig struct {
	// Mode: auto-fix applies fix decisions; flag-only records everything
	// as escalate (audit-only runs).
	Mode string `yaml:"mode"`

	// MinConfidence: review decisions below this escalate regardless of
	// the returned action.
	MinConfidence float64 `yaml:"min_confidence"`
}

// LoggingConfig configures the categorized file logger.
type LoggingConfig struct {
	DebugMode  bool            `yaml:"debug_mode"`
	Level      string          `yaml:"level"` // debug, info, warn, error
	Categories map[string]bool `yaml:"categories"`
}

// Review modes.
const (
	ReviewModeAutoFix  = "auto-fix"
	ReviewModeFlagOnly = "flag-only"
)

// Database types.
const (
	DatabaseLocal  = "local"
	DatabaseRemote = "remote"
)

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Workspace: ".",
		Database: DatabaseConfig{
			Type:        DatabaseLocal,
			Path:        "data/econoclass.db",
			WALMode:     true,
			AutoMigrate: true,
		},
		Models: ModelsConfig{
			Router:      "claude-3-5-haiku-latest",
			Specialist:  "claude-sonnet-4-20250514",
			Orientation: "claude-3-5-haiku-latest",
			Review:      "claude-sonnet-4-20250514",
		},
		Batch: BatchConfig{
			RouterBatchSize:      25,
			SpecialistBatchSize:  15,
			OrientationBatchSize: 25,
			ReviewBatchSize:      10,
		},
		Concurrency: ConcurrencyConfig{
			Router:      2,
			Specialist:  2,
			Orientation: 2,
			Review:      1,
		},
		Thresholds: ThresholdsConfig{
			ConfidenceFamilyMin: 0.6,
			ConfidenceClsMin:    0.6,
			ConfidenceOrientMin: 0.6,
		},
		Retry: RetryConfig{
			MaxRetries:     3,
			RetryDelayMs:   1000,
			RequestTimeout: "30s",
		},
		Review: ReviewConfig{
			Mode:          ReviewModeAutoFix,
			MinConfidence: 0.6,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads a YAML config file, overlays environment variables and
// validates the result. An empty path yields defaults plus env overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays recognized environment variables onto the config.
func (c *Config) applyEnv() {
	if db := os.Getenv("CLASSIFY_DB"); db != "" {
		if looksLikeURL(db) {
			c.Database.Type = DatabaseRemote
			c.Database.URL = db
		} else {
			c.Database.Type = DatabaseLocal
			c.Database.Path = db
		}
	}
	if p := os.Getenv("REVIEW_PROVIDER"); p != "" {
		c.Models.ReviewProvider = p
	}
	if m := os.Getenv("REVIEW_MODEL"); m != "" {
		c.Models.Review = m
	}
}

func looksLikeURL(s string) bool {
	for i := 0; i+2 < len(s); i++ {
		if s[i] == ':' && s[i+1] == '/' && s[i+2] == '/' {
			return true
		}
	}
	return false
}

// RequestTimeout parses the per-request timeout, defaulting to 30s.
func (c *Config) RequestTimeout() time.Duration {
	d, err := time.ParseDuration(c.Retry.RequestTimeout)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

// RetryDelay returns the initial backoff delay.
func (c *Config) RetryDelay() time.Duration {
	if c.Retry.RetryDelayMs <= 0 {
		return time.Second
	}
	return time.Duration(c.Retry.RetryDelayMs) * time.Millisecond
}

// Validate checks the configuration and fails fast on errors.
func (c *Config) Validate() error {
	switch c.Database.Type {
	case DatabaseLocal:
		if c.Database.Path == "" {
			return fmt.Errorf("database.path required for local database")
		}
	case DatabaseRemote:
		if c.Database.URL == "" {
			return fmt.Errorf("database.url required for remote database")
		}
	default:
		return fmt.Errorf("database.type must be %q or %q, got %q", DatabaseLocal, DatabaseRemote, c.Database.Type)
	}

	for name, v := range map[string]int{
		"batch.router_batch_size":      c.Batch.RouterBatchSize,
		"batch.specialist_batch_size":  c.Batch.SpecialistBatchSize,
		"batch.orientation_batch_size": c.Batch.OrientationBatchSize,
		"batch.review_batch_size":      c.Batch.ReviewBatchSize,
		"concurrency.router":           c.Concurrency.Router,
		"concurrency.specialist":       c.Concurrency.Specialist,
		"concurrency.orientation":      c.Concurrency.Orientation,
		"concurrency.review":           c.Concurrency.Review,
	} {
		if v < 1 {
			return fmt.Errorf("%s must be >= 1, got %d", name, v)
		}
	}

	for name, v := range map[string]float64{
		"thresholds.confidence_family_min": c.Thresholds.ConfidenceFamilyMin,
		"thresholds.confidence_cls_min":    c.Thresholds.ConfidenceClsMin,
		"thresholds.confidence_orient_min": c.Thresholds.ConfidenceOrientMin,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("%s must be in [0,1], got %.2f", name, v)
		}
	}

	if c.Retry.MaxRetries < 0 {
		return fmt.Errorf("retry.max_retries must be >= 0, got %d", c.Retry.MaxRetries)
	}
	if c.Retry.RetryDelayMs < 0 {
		return fmt.Errorf("retry.retry_delay_ms must be >= 0, got %d", c.Retry.RetryDelayMs)
	}
	if c.Retry.RequestTimeout != "" {
		if _, err := time.ParseDuration(c.Retry.RequestTimeout); err != nil {
			return fmt.Errorf("retry.request_timeout: %w", err)
		}
	}

	if c.Review.Mode != ReviewModeAutoFix && c.Review.Mode != ReviewModeFlagOnly {
		return fmt.Errorf("review.mode must be %q or %q, got %q", ReviewModeAutoFix, ReviewModeFlagOnly, c.Review.Mode)
	}
	if c.Review.MinConfidence < 0 || c.Review.MinConfidence > 1 {
		return fmt.Errorf("review.min_confidence must be in [0,1], got %.2f", c.Review.MinConfidence)
	}

	return nil
}
