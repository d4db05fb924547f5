package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfigValidates(t *testing.T) {
	if err := DefaultConfig().Validate(); err != nil {
		t.Errorf("DefaultConfig().Validate() error = %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults", func(*Config) {}, false},
		{"zero max events", func(c *Config) { c.Monitoring.MaxEvents = 0 }, true},
		{"zero cleanup interval", func(c *Config) { c.Monitoring.CleanupInterval = 0 }, true},
		{"zero failed login threshold", func(c *Config) { c.Monitoring.FailedLoginThreshold = 0 }, true},
		{"zero rate limit count", func(c *Config) { c.Monitoring.RateLimitCount = 0 }, true},
		{"non-increasing thresholds", func(c *Config) { c.Monitoring.AlertScoreThresholds = [4]int{20, 20, 60, 80} }, true},
		{"zero first threshold", func(c *Config) { c.Monitoring.AlertScoreThresholds = [4]int{0, 40, 60, 80} }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("WEBSENTRY_CONFIG_PATH", filepath.Join(t.TempDir(), "absent.yaml"))

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Monitoring.MaxEvents != 10000 {
		t.Errorf("MaxEvents = %d, want default 10000", cfg.Monitoring.MaxEvents)
	}
	if !cfg.Monitoring.Enabled {
		t.Error("monitoring should default to enabled")
	}
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	doc := []byte(`
monitoring:
  max_events: 500
  block_duration: 2h
notify:
  webhook_url: https://hooks.example.com/websentry
logging:
  level: debug
`)
	if err := os.WriteFile(path, doc, 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("WEBSENTRY_CONFIG_PATH", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Monitoring.MaxEvents != 500 {
		t.Errorf("MaxEvents = %d, want 500 from file", cfg.Monitoring.MaxEvents)
	}
	if cfg.Monitoring.BlockDuration != 2*time.Hour {
		t.Errorf("BlockDuration = %v, want 2h from file", cfg.Monitoring.BlockDuration)
	}
	if cfg.Notify.WebhookURL != "https://hooks.example.com/websentry" {
		t.Errorf("WebhookURL = %q, want value from file", cfg.Notify.WebhookURL)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Level = %q, want debug", cfg.Logging.Level)
	}
	// Unset fields keep their defaults.
	if cfg.Monitoring.FailedLoginThreshold != 5 {
		t.Errorf("FailedLoginThreshold = %d, want default 5", cfg.Monitoring.FailedLoginThreshold)
	}
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("monitoring: ["), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("WEBSENTRY_CONFIG_PATH", path)

	if _, err := Load(); err == nil {
		t.Error("Load should reject malformed yaml")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("WEBSENTRY_CONFIG_PATH", filepath.Join(t.TempDir(), "absent.yaml"))
	t.Setenv("WEBSENTRY_ENABLED", "false")
	t.Setenv("WEBSENTRY_MAX_EVENTS", "250")
	t.Setenv("WEBSENTRY_BLOCK_DURATION", "45m")
	t.Setenv("WEBSENTRY_FAILED_LOGIN_THRESHOLD", "8")
	t.Setenv("WEBSENTRY_WEBHOOK_URL", "https://hooks.example.com/env")
	t.Setenv("WEBSENTRY_REDIS_ADDR", "redis.internal:6379")
	t.Setenv("WEBSENTRY_LOG_LEVEL", "warn")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Monitoring.Enabled {
		t.Error("WEBSENTRY_ENABLED=false should disable monitoring")
	}
	if cfg.Monitoring.MaxEvents != 250 {
		t.Errorf("MaxEvents = %d, want 250 from env", cfg.Monitoring.MaxEvents)
	}
	if cfg.Monitoring.BlockDuration != 45*time.Minute {
		t.Errorf("BlockDuration = %v, want 45m from env", cfg.Monitoring.BlockDuration)
	}
	if cfg.Monitoring.FailedLoginThreshold != 8 {
		t.Errorf("FailedLoginThreshold = %d, want 8 from env", cfg.Monitoring.FailedLoginThreshold)
	}
	if cfg.Notify.WebhookURL != "https://hooks.example.com/env" {
		t.Errorf("WebhookURL = %q, want env value", cfg.Notify.WebhookURL)
	}
	if !cfg.Redis.Enabled || cfg.Redis.Addr != "redis.internal:6379" {
		t.Error("WEBSENTRY_REDIS_ADDR should set the address and enable redis")
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("Level = %q, want warn from env", cfg.Logging.Level)
	}
}
