package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the daemon configuration, loaded from an optional YAML file with
// environment overrides on top.
type Config struct {
	DBPath string `yaml:"db_path"`

	Scheduler struct {
		Enabled         bool `yaml:"enabled"`
		TickSeconds     int  `yaml:"tick_seconds"`
		StaleRunMinutes int  `yaml:"stale_run_minutes"`
	} `yaml:"scheduler"`

	Queue struct {
		MaxConcurrent   int    `yaml:"max_concurrent"`
		DispatchMillis  int    `yaml:"dispatch_millis"`
		RetryDelayMs    int    `yaml:"retry_delay_ms"`
		SessionLinkBase string `yaml:"session_link_base"`
	} `yaml:"queue"`

	Execution struct {
		BaseURL string `yaml:"base_url"`
		APIKey  string `yaml:"api_key"`
	} `yaml:"execution"`

	Delivery struct {
		WebhookPerMinute int `yaml:"webhook_per_minute"`
	} `yaml:"delivery"`
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	cfg := &Config{DBPath: "agentcron.db"}
	cfg.Scheduler.Enabled = true
	cfg.Scheduler.TickSeconds = 60
	cfg.Scheduler.StaleRunMinutes = 60
	cfg.Queue.MaxConcurrent = 5
	cfg.Queue.DispatchMillis = 1000
	cfg.Queue.RetryDelayMs = 5000
	cfg.Delivery.WebhookPerMinute = 30
	return cfg
}

// Load reads the YAML file at path (missing file is fine) and applies
// environment overrides.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// defaults + env only
		case err != nil:
			return nil, fmt.Errorf("read config %q: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %q: %w", path, err)
			}
		}
	}

	applyEnv(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("AGENTCRON_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("AGENTCRON_EXECUTION_URL"); v != "" {
		cfg.Execution.BaseURL = v
	}
	if v := os.Getenv("AGENTCRON_EXECUTION_API_KEY"); v != "" {
		cfg.Execution.APIKey = v
	}
	if v := os.Getenv("AGENTCRON_DISABLED"); v != "" {
		if disabled, err := strconv.ParseBool(v); err == nil {
			cfg.Scheduler.Enabled = !disabled
		}
	}
	if v := os.Getenv("AGENTCRON_MAX_CONCURRENT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Queue.MaxConcurrent = n
		}
	}
}

// TickInterval returns the scheduler tick as a duration.
func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.Scheduler.TickSeconds) * time.Second
}

// StaleRunAge returns the startup reconciliation threshold.
func (c *Config) StaleRunAge() time.Duration {
	return time.Duration(c.Scheduler.StaleRunMinutes) * time.Minute
}

// DispatchInterval returns the queue dispatch period.
func (c *Config) DispatchInterval() time.Duration {
	return time.Duration(c.Queue.DispatchMillis) * time.Millisecond
}

// RetryDelay returns the base backoff delay.
func (c *Config) RetryDelay() time.Duration {
	return time.Duration(c.Queue.RetryDelayMs) * time.Millisecond
}
