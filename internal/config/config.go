package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for the stratmon service.
type Config struct {
	Storage Storage       `yaml:"storage"`
	Server  Server        `yaml:"server"`
	Alpaca  Alpaca        `yaml:"alpaca"`
	Logging Logging       `yaml:"logging"`
	Monitor MonitorConfig `yaml:"monitor"`
	Poller  PollerConfig  `yaml:"poller"`
}

// Storage holds paths for data persistence.
type Storage struct {
	DataDir      string `yaml:"data_dir"`      // parquet bar cache root
	ArtifactPath string `yaml:"artifact_path"` // published monitor_results.json
	HistoryPath  string `yaml:"history_path"`  // sqlite cycle history db
}

// Server holds network listener configuration.
type Server struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Alpaca holds credentials and endpoints for the Alpaca market-data API.
type Alpaca struct {
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	BaseURL   string `yaml:"base_url"`
	DataURL   string `yaml:"data_url"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MonitorConfig controls the background refresh pipeline.
type MonitorConfig struct {
	// Enabled starts the background scheduler. Disable to run a
	// serving-only replica against a shared artifact.
	Enabled *bool `yaml:"enabled"`
	// IntervalMinutes is the refresh cadence. Default 15.
	IntervalMinutes int `yaml:"interval_minutes"`
	// RunOnce executes exactly one cycle and exits (refresh CLI mode).
	RunOnce bool `yaml:"run_once"`
	// StartDate is the first day of the monitored window (YYYY-MM-DD).
	StartDate string `yaml:"start_date"`
	// StrategiesDir holds the per-symbol strategy definition JSON files.
	StrategiesDir string `yaml:"strategies_dir"`
	// MaxWorkers bounds concurrent per-symbol refresh tasks. Default 4.
	MaxWorkers int `yaml:"max_workers"`
	// FetchTimeoutSecs is the per-symbol network timeout. Default 15.
	FetchTimeoutSecs int `yaml:"fetch_timeout_secs"`
	// RetryAttempts bounds transient-error retries per fetch. Default 3.
	RetryAttempts int `yaml:"retry_attempts"`
	// RateLimitPerMin caps provider calls per minute. Default 200.
	RateLimitPerMin int `yaml:"rate_limit_per_min"`
	// ShutdownGraceSecs bounds how long shutdown waits for an in-flight
	// cycle. Default 30.
	ShutdownGraceSecs int `yaml:"shutdown_grace_secs"`
}

// PollerConfig controls the consumer-side freshness poller.
type PollerConfig struct {
	// Enabled runs the artifact freshness poller in the serving process.
	Enabled *bool `yaml:"enabled"`
	// IntervalSecs is the poll cadence, independent of the refresh
	// interval. Default 5.
	IntervalSecs int `yaml:"interval_secs"`
	// LiveBoundSecs is the age under which the artifact counts as LIVE.
	// Default 2x the refresh interval.
	LiveBoundSecs int `yaml:"live_bound_secs"`
}

// ---------------------------------------------------------------------------
// Derived accessors
// ---------------------------------------------------------------------------

// SchedulerEnabled reports whether the background refresh role is on.
// Defaults to true when unset.
func (c *Config) SchedulerEnabled() bool {
	return c.Monitor.Enabled == nil || *c.Monitor.Enabled
}

// PollerEnabled reports whether the freshness poller is on. Defaults to
// true when unset.
func (c *Config) PollerEnabled() bool {
	return c.Poller.Enabled == nil || *c.Poller.Enabled
}

// RefreshInterval returns the refresh cadence as a duration.
func (c *Config) RefreshInterval() time.Duration {
	return time.Duration(c.Monitor.IntervalMinutes) * time.Minute
}

// LiveBound returns the freshness bound for the LIVE classification.
func (c *Config) LiveBound() time.Duration {
	if c.Poller.LiveBoundSecs > 0 {
		return time.Duration(c.Poller.LiveBoundSecs) * time.Second
	}
	return 2 * c.RefreshInterval()
}

// FetchTimeout returns the per-symbol network timeout.
func (c *Config) FetchTimeout() time.Duration {
	return time.Duration(c.Monitor.FetchTimeoutSecs) * time.Second
}

// ShutdownGrace returns the bounded wait applied during graceful shutdown.
func (c *Config) ShutdownGrace() time.Duration {
	return time.Duration(c.Monitor.ShutdownGraceSecs) * time.Second
}

// Validate checks that required fields are present and sane.
func (c *Config) Validate() error {
	if c.Storage.ArtifactPath == "" {
		return fmt.Errorf("storage.artifact_path is required")
	}
	if c.Monitor.StartDate != "" {
		if _, err := time.Parse("2006-01-02", c.Monitor.StartDate); err != nil {
			return fmt.Errorf("monitor.start_date %q: %w", c.Monitor.StartDate, err)
		}
	}
	if c.Monitor.IntervalMinutes < 1 {
		return fmt.Errorf("monitor.interval_minutes must be >= 1, got %d", c.Monitor.IntervalMinutes)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path, parses it into
// a Config struct, applies defaults, and then applies environment variable
// overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	applyDefaults(cfg)
	applyEnvOverrides(cfg)

	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Monitor.IntervalMinutes == 0 {
		cfg.Monitor.IntervalMinutes = 15
	}
	if cfg.Monitor.MaxWorkers == 0 {
		cfg.Monitor.MaxWorkers = 4
	}
	if cfg.Monitor.FetchTimeoutSecs == 0 {
		cfg.Monitor.FetchTimeoutSecs = 15
	}
	if cfg.Monitor.RetryAttempts == 0 {
		cfg.Monitor.RetryAttempts = 3
	}
	if cfg.Monitor.RateLimitPerMin == 0 {
		cfg.Monitor.RateLimitPerMin = 200
	}
	if cfg.Monitor.ShutdownGraceSecs == 0 {
		cfg.Monitor.ShutdownGraceSecs = 30
	}
	if cfg.Monitor.StrategiesDir == "" {
		cfg.Monitor.StrategiesDir = "strategies"
	}
	if cfg.Poller.IntervalSecs == 0 {
		cfg.Poller.IntervalSecs = 5
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

// applyEnvOverrides checks well-known environment variables and overrides
// the corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("ARTIFACT_PATH"); v != "" {
		cfg.Storage.ArtifactPath = v
	}
	if v := os.Getenv("HISTORY_PATH"); v != "" {
		cfg.Storage.HistoryPath = v
	}

	if v := os.Getenv("ALPACA_API_KEY"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("ALPACA_API_SECRET"); v != "" {
		cfg.Alpaca.APISecret = v
	}
	if v := os.Getenv("ALPACA_BASE_URL"); v != "" {
		cfg.Alpaca.BaseURL = v
	}
	if v := os.Getenv("ALPACA_DATA_URL"); v != "" {
		cfg.Alpaca.DataURL = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	if v := os.Getenv("MONITOR_INTERVAL_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Monitor.IntervalMinutes = n
		}
	}
	if v := os.Getenv("MONITOR_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Monitor.Enabled = &b
		}
	}
	if v := os.Getenv("MONITOR_RUN_ONCE"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Monitor.RunOnce = b
		}
	}
	if v := os.Getenv("MONITOR_START_DATE"); v != "" {
		cfg.Monitor.StartDate = v
	}
	if v := os.Getenv("STRATEGIES_DIR"); v != "" {
		cfg.Monitor.StrategiesDir = v
	}

	// Standard Alpaca env vars (highest priority — canonical names used by SDK).
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
}
