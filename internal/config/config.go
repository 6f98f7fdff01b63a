package config

import (
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the backtest platform.
type Config struct {
	Storage  Storage        `yaml:"storage"`
	Server   Server         `yaml:"server"`
	Logging  Logging        `yaml:"logging"`
	Backtest BacktestConfig `yaml:"backtest"`
	Import   ImportConfig   `yaml:"import"`
}

// Storage holds paths and backend selection for tick persistence.
type Storage struct {
	// Backend selects the tick store implementation: "sqlite" or "parquet".
	Backend    string `yaml:"backend"`
	DataDir    string `yaml:"data_dir"`
	SQLitePath string `yaml:"sqlite_path"`
}

// Server holds network listener configuration.
type Server struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// BacktestConfig controls the tick cache, batch loader and job scheduler.
type BacktestConfig struct {
	Symbol            string `yaml:"symbol"`
	CacheMaxMB        int    `yaml:"cache_max_mb"`
	MaxConcurrentJobs int    `yaml:"max_concurrent_jobs"`
	MaxCompletedJobs  int    `yaml:"max_completed_jobs"`
	BatchDays         int    `yaml:"batch_days"`
	ResultCacheSize   int    `yaml:"result_cache_size"`
}

// ImportConfig holds parameters for bulk tick ingestion.
type ImportConfig struct {
	BatchSize int `yaml:"batch_size"`
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path, parses it into a
// Config struct, applies environment variable overrides, and fills in
// defaults for any fields left unset.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)
	applyDefaults(cfg)

	return cfg, nil
}

// Default returns a Config populated entirely from defaults and environment
// overrides, for binaries that run without a config file.
func Default() *Config {
	cfg := &Config{}
	applyEnvOverrides(cfg)
	applyDefaults(cfg)
	return cfg
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}

	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}

	if v := os.Getenv("TICK_BACKEND"); v != "" {
		cfg.Storage.Backend = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	if v := os.Getenv("PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = p
		}
	}

	if v := os.Getenv("CACHE_MAX_MB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Backtest.CacheMaxMB = n
		}
	}

	if v := os.Getenv("MAX_CONCURRENT_JOBS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Backtest.MaxConcurrentJobs = n
		}
	}
}

// applyDefaults fills in zero-valued fields with sensible defaults.
func applyDefaults(cfg *Config) {
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = "sqlite"
	}
	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = "data"
	}
	if cfg.Storage.SQLitePath == "" {
		cfg.Storage.SQLitePath = "data/ticks.db"
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Backtest.Symbol == "" {
		cfg.Backtest.Symbol = "XAUUSD"
	}
	if cfg.Backtest.CacheMaxMB == 0 {
		cfg.Backtest.CacheMaxMB = 256
	}
	if cfg.Backtest.MaxConcurrentJobs == 0 {
		cfg.Backtest.MaxConcurrentJobs = 2
	}
	if cfg.Backtest.MaxCompletedJobs == 0 {
		cfg.Backtest.MaxCompletedJobs = 50
	}
	if cfg.Backtest.BatchDays == 0 {
		cfg.Backtest.BatchDays = 1
	}
	if cfg.Backtest.ResultCacheSize == 0 {
		cfg.Backtest.ResultCacheSize = 100
	}
	if cfg.Import.BatchSize == 0 {
		cfg.Import.BatchSize = 5000
	}
}
