// Package config handles configuration loading for websentry.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the complete engine configuration.
type Config struct {
	Monitoring MonitoringConfig `yaml:"monitoring"`
	Notify     NotifyConfig     `yaml:"notify"`
	Redis      RedisConfig      `yaml:"redis"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// MonitoringConfig holds the core engine settings.
type MonitoringConfig struct {
	Enabled              bool          `yaml:"enabled"`
	MaxEvents            int           `yaml:"max_events"`
	EventRetention       time.Duration `yaml:"event_retention"`
	CleanupInterval      time.Duration `yaml:"cleanup_interval"`
	BlockDuration        time.Duration `yaml:"block_duration"` // Default IP block
	LockDuration         time.Duration `yaml:"lock_duration"`  // Default user lock
	FailedLoginThreshold int           `yaml:"failed_login_threshold"`
	RateLimitWindow      time.Duration `yaml:"rate_limit_window"`
	RateLimitCount       int           `yaml:"rate_limit_count"`
	ContextEventLimit    int           `yaml:"context_event_limit"`
	ShardCount           int           `yaml:"shard_count"`
	// Score cutoffs for low/medium/high/critical alert severities.
	AlertScoreThresholds [4]int `yaml:"alert_score_thresholds"`
	// Geolocation policy lists (country codes).
	HighRiskCountries   []string `yaml:"high_risk_countries"`
	MediumRiskCountries []string `yaml:"medium_risk_countries"`
}

// NotifyConfig holds outbound alerting settings. Empty URLs disable
// the corresponding destination.
type NotifyConfig struct {
	WebhookURL     string            `yaml:"webhook_url"`
	WebhookHeaders map[string]string `yaml:"webhook_headers"`
	ChatWebhookURL string            `yaml:"chat_webhook_url"`
	ChatChannel    string            `yaml:"chat_channel"`
	ChatUsername   string            `yaml:"chat_username"`
	QueueSize      int               `yaml:"queue_size"`
	SendTimeout    time.Duration     `yaml:"send_timeout"`
	MaxAttempts    int               `yaml:"max_attempts"`
	RatePerSecond  float64           `yaml:"rate_per_second"`
	RateBurst      int               `yaml:"rate_burst"`
}

// RedisConfig holds block-persistence settings. Disabled means blocks
// live only in memory.
type RedisConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Addr         string        `yaml:"addr"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	DialTimeout  time.Duration `yaml:"dial_timeout"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	KeyPrefix    string        `yaml:"key_prefix"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Monitoring: MonitoringConfig{
			Enabled:              true,
			MaxEvents:            10000,
			EventRetention:       7 * 24 * time.Hour,
			CleanupInterval:      5 * time.Minute,
			BlockDuration:        time.Hour,
			LockDuration:         30 * time.Minute,
			FailedLoginThreshold: 5,
			RateLimitWindow:      60 * time.Second,
			RateLimitCount:       100,
			ContextEventLimit:    1000,
			ShardCount:           16,
			AlertScoreThresholds: [4]int{20, 40, 60, 80},
		},
		Notify: NotifyConfig{
			QueueSize:     1000,
			SendTimeout:   3 * time.Second,
			MaxAttempts:   2,
			RatePerSecond: 20,
			RateBurst:     40,
		},
		Redis: RedisConfig{
			Enabled:      false,
			Addr:         "localhost:6379",
			DialTimeout:  5 * time.Second,
			ReadTimeout:  3 * time.Second,
			WriteTimeout: 3 * time.Second,
			KeyPrefix:    "websentry:block:",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load loads configuration from a file or returns defaults.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	configPath := os.Getenv("WEBSENTRY_CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if enabled := os.Getenv("WEBSENTRY_ENABLED"); enabled == "false" {
		c.Monitoring.Enabled = false
	}

	if max := os.Getenv("WEBSENTRY_MAX_EVENTS"); max != "" {
		fmt.Sscanf(max, "%d", &c.Monitoring.MaxEvents)
	}

	if interval := os.Getenv("WEBSENTRY_CLEANUP_INTERVAL"); interval != "" {
		if d, err := time.ParseDuration(interval); err == nil {
			c.Monitoring.CleanupInterval = d
		}
	}

	if block := os.Getenv("WEBSENTRY_BLOCK_DURATION"); block != "" {
		if d, err := time.ParseDuration(block); err == nil {
			c.Monitoring.BlockDuration = d
		}
	}

	if lock := os.Getenv("WEBSENTRY_LOCK_DURATION"); lock != "" {
		if d, err := time.ParseDuration(lock); err == nil {
			c.Monitoring.LockDuration = d
		}
	}

	if threshold := os.Getenv("WEBSENTRY_FAILED_LOGIN_THRESHOLD"); threshold != "" {
		fmt.Sscanf(threshold, "%d", &c.Monitoring.FailedLoginThreshold)
	}

	if url := os.Getenv("WEBSENTRY_WEBHOOK_URL"); url != "" {
		c.Notify.WebhookURL = url
	}

	if url := os.Getenv("WEBSENTRY_CHAT_WEBHOOK_URL"); url != "" {
		c.Notify.ChatWebhookURL = url
	}

	if addr := os.Getenv("WEBSENTRY_REDIS_ADDR"); addr != "" {
		c.Redis.Addr = addr
		c.Redis.Enabled = true
	}

	if pass := os.Getenv("WEBSENTRY_REDIS_PASSWORD"); pass != "" {
		c.Redis.Password = pass
	}

	if level := os.Getenv("WEBSENTRY_LOG_LEVEL"); level != "" {
		c.Logging.Level = level
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Monitoring.MaxEvents <= 0 {
		return fmt.Errorf("max_events must be positive")
	}
	if c.Monitoring.CleanupInterval <= 0 {
		return fmt.Errorf("cleanup_interval must be positive")
	}
	if c.Monitoring.FailedLoginThreshold <= 0 {
		return fmt.Errorf("failed_login_threshold must be positive")
	}
	if c.Monitoring.RateLimitCount <= 0 {
		return fmt.Errorf("rate_limit_count must be positive")
	}

	prev := 0
	for i, threshold := range c.Monitoring.AlertScoreThresholds {
		if threshold <= prev {
			return fmt.Errorf("alert_score_thresholds must be strictly increasing at index %d", i)
		}
		prev = threshold
	}

	return nil
}
