package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	yamlContent := []byte(`
storage:
  backend: "sqlite"
  data_dir: "/tmp/backtest/data"
  sqlite_path: "/tmp/backtest/ticks.db"
server:
  host: "0.0.0.0"
  port: 8080
logging:
  level: "info"
  format: "json"
backtest:
  symbol: "XAUUSD"
  cache_max_mb: 128
  max_concurrent_jobs: 4
  batch_days: 1
import:
  batch_size: 2000
`)

	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, yamlContent, 0o644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}

	// Clear any environment overrides that might interfere.
	for _, k := range []string{"DATA_DIR", "SQLITE_PATH", "TICK_BACKEND", "LOG_LEVEL", "PORT", "CACHE_MAX_MB", "MAX_CONCURRENT_JOBS"} {
		os.Unsetenv(k)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Storage.DataDir != "/tmp/backtest/data" {
		t.Errorf("DataDir = %q, want /tmp/backtest/data", cfg.Storage.DataDir)
	}
	if cfg.Backtest.CacheMaxMB != 128 {
		t.Errorf("CacheMaxMB = %d, want 128", cfg.Backtest.CacheMaxMB)
	}
	if cfg.Backtest.MaxConcurrentJobs != 4 {
		t.Errorf("MaxConcurrentJobs = %d, want 4", cfg.Backtest.MaxConcurrentJobs)
	}
	// Fields absent in YAML fall back to defaults.
	if cfg.Backtest.MaxCompletedJobs != 50 {
		t.Errorf("MaxCompletedJobs = %d, want default 50", cfg.Backtest.MaxCompletedJobs)
	}
	if cfg.Backtest.ResultCacheSize != 100 {
		t.Errorf("ResultCacheSize = %d, want default 100", cfg.Backtest.ResultCacheSize)
	}
}

func TestEnvOverrides(t *testing.T) {
	yamlContent := []byte(`
storage:
  data_dir: "/tmp/from-yaml"
`)
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, yamlContent, 0o644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}

	t.Setenv("DATA_DIR", "/tmp/from-env")
	t.Setenv("MAX_CONCURRENT_JOBS", "7")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Storage.DataDir != "/tmp/from-env" {
		t.Errorf("DataDir = %q, want env override /tmp/from-env", cfg.Storage.DataDir)
	}
	if cfg.Backtest.MaxConcurrentJobs != 7 {
		t.Errorf("MaxConcurrentJobs = %d, want env override 7", cfg.Backtest.MaxConcurrentJobs)
	}
}

func TestDefault(t *testing.T) {
	for _, k := range []string{"DATA_DIR", "SQLITE_PATH", "TICK_BACKEND", "LOG_LEVEL", "PORT", "CACHE_MAX_MB", "MAX_CONCURRENT_JOBS"} {
		os.Unsetenv(k)
	}

	cfg := Default()
	if cfg.Storage.Backend != "sqlite" {
		t.Errorf("Backend = %q, want sqlite", cfg.Storage.Backend)
	}
	if cfg.Backtest.MaxConcurrentJobs != 2 {
		t.Errorf("MaxConcurrentJobs = %d, want 2", cfg.Backtest.MaxConcurrentJobs)
	}
	if cfg.Backtest.BatchDays != 1 {
		t.Errorf("BatchDays = %d, want 1", cfg.Backtest.BatchDays)
	}
}
