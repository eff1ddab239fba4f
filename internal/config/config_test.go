package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestDefaultConfigValidates(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	require.Equal(t, DatabaseLocal, cfg.Database.Type)
	require.Equal(t, ReviewModeAutoFix, cfg.Review.Mode)
	require.Equal(t, 3, cfg.Retry.MaxRetries)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
database:
  type: local
  path: /tmp/test.db
batch:
  router_batch_size: 50
review:
  mode: flag-only
  min_confidence: 0.8
retry:
  retry_delay_ms: 250
`), 0644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "/tmp/test.db", cfg.Database.Path)
	require.Equal(t, 50, cfg.Batch.RouterBatchSize)
	// Unset fields keep their defaults.
	require.Equal(t, 15, cfg.Batch.SpecialistBatchSize)
	require.Equal(t, ReviewModeFlagOnly, cfg.Review.Mode)
	require.Equal(t, 0.8, cfg.Review.MinConfidence)
	require.Equal(t, 250*time.Millisecond, cfg.RetryDelay())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestEnvDatabasePathOverride(t *testing.T) {
	t.Setenv("CLASSIFY_DB", "/var/data/econ.db")
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, DatabaseLocal, cfg.Database.Type)
	require.Equal(t, "/var/data/econ.db", cfg.Database.Path)
}

func TestEnvDatabaseURLOverride(t *testing.T) {
	t.Setenv("CLASSIFY_DB", "postgres://user:pw@db.internal:5432/econ")
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, DatabaseRemote, cfg.Database.Type)
	require.Equal(t, "postgres://user:pw@db.internal:5432/econ", cfg.Database.URL)
}

func TestEnvReviewOverrides(t *testing.T) {
	t.Setenv("REVIEW_PROVIDER", "openai")
	t.Setenv("REVIEW_MODEL", "gpt-4o")
	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, "openai", cfg.Models.ReviewProvider)
	require.Equal(t, "gpt-4o", cfg.Models.Review)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := map[string]func(*Config){
		"unknown database type":    func(c *Config) { c.Database.Type = "etcd" },
		"local without path":       func(c *Config) { c.Database.Path = "" },
		"remote without url":       func(c *Config) { c.Database.Type = DatabaseRemote; c.Database.URL = "" },
		"zero batch size":          func(c *Config) { c.Batch.RouterBatchSize = 0 },
		"zero concurrency":         func(c *Config) { c.Concurrency.Specialist = 0 },
		"threshold above one":      func(c *Config) { c.Thresholds.ConfidenceClsMin = 1.2 },
		"negative threshold":       func(c *Config) { c.Thresholds.ConfidenceFamilyMin = -0.1 },
		"negative max retries":     func(c *Config) { c.Retry.MaxRetries = -1 },
		"negative retry delay":     func(c *Config) { c.Retry.RetryDelayMs = -5 },
		"unparseable timeout":      func(c *Config) { c.Retry.RequestTimeout = "soon" },
		"unknown review mode":      func(c *Config) { c.Review.Mode = "rubber-stamp" },
		"review confidence range":  func(c *Config) { c.Review.MinConfidence = 2 },
	}
	for name, mutate := range cases {
		cfg := DefaultConfig()
		mutate(cfg)
		require.Error(t, cfg.Validate(), name)
	}
}

func TestRequestTimeoutFallback(t *testing.T) {
	cfg := DefaultConfig()
	require.Equal(t, 30*time.Second, cfg.RequestTimeout())

	cfg.Retry.RequestTimeout = "2m"
	require.Equal(t, 2*time.Minute, cfg.RequestTimeout())

	cfg.Retry.RequestTimeout = ""
	require.Equal(t, 30*time.Second, cfg.RequestTimeout())
}

func TestRetryDelayFallback(t *testing.T) {
	cfg := DefaultConfig()
	require.Equal(t, time.Second, cfg.RetryDelay())

	cfg.Retry.RetryDelayMs = 0
	require.Equal(t, time.Second, cfg.RetryDelay())
}
