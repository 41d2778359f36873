package config_test

import (
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/GabriWar/vigilant/config"
)

func TestDefaultConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	if cfg == nil {
		t.Fatal("DefaultConfig returned nil")
	}
	if cfg.HTTPTimeout != 30*time.Second {
		t.Errorf("HTTPTimeout = %v, want 30s", cfg.HTTPTimeout)
	}
	if cfg.HTTPMaxRedirects != 10 {
		t.Errorf("HTTPMaxRedirects = %d, want 10", cfg.HTTPMaxRedirects)
	}
	if cfg.SchedulerTick != time.Second {
		t.Errorf("SchedulerTick = %v, want 1s", cfg.SchedulerTick)
	}
	if cfg.PoolSize <= 0 {
		t.Errorf("PoolSize should be > 0, got %d", cfg.PoolSize)
	}
	if cfg.DatabasePath == "" {
		t.Error("DatabasePath should not be empty")
	}
	if cfg.CookieWarnHours != 24 || cfg.CookieNotifyHours != 48 {
		t.Errorf("cookie horizons = %d/%d, want 24/48", cfg.CookieWarnHours, cfg.CookieNotifyHours)
	}
}

func TestDefaultConfig_IndependentCopies(t *testing.T) {
	a := config.DefaultConfig()
	b := config.DefaultConfig()
	a.PoolSize = 99
	if b.PoolSize == 99 {
		t.Error("DefaultConfig copies share state")
	}
}

func TestLoadConfig_ValidFile(t *testing.T) {
	raw := map[string]interface{}{
		"database_path":          "/tmp/watch.db",
		"http_timeout":           int64(15 * time.Second),
		"http_max_redirects":     5,
		"user_agent":             "custom-agent",
		"pool_size":              3,
		"run_timeout_multiplier": 4,
	}
	f, err := os.CreateTemp(t.TempDir(), "config*.json")
	if err != nil {
		t.Fatal(err)
	}
	if err := json.NewEncoder(f).Encode(raw); err != nil {
		t.Fatal(err)
	}
	f.Close()

	cfg, err := config.LoadConfig(f.Name())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.DatabasePath != "/tmp/watch.db" {
		t.Errorf("DatabasePath = %q", cfg.DatabasePath)
	}
	if cfg.HTTPTimeout != 15*time.Second {
		t.Errorf("HTTPTimeout = %v, want 15s", cfg.HTTPTimeout)
	}
	if cfg.UserAgent != "custom-agent" {
		t.Errorf("UserAgent = %q", cfg.UserAgent)
	}
	if cfg.RunTimeout() != 60*time.Second {
		t.Errorf("RunTimeout = %v, want 60s", cfg.RunTimeout())
	}
}

func TestLoadConfig_UnknownField(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "config*.json")
	if err != nil {
		t.Fatal(err)
	}
	f.WriteString(`{"pool_sise": 3}`) //nolint:errcheck
	f.Close()

	if _, err := config.LoadConfig(f.Name()); err == nil {
		t.Error("expected error for unknown field")
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	if _, err := config.LoadConfig("/nonexistent/config.json"); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestRunTimeout_DefaultMultiplier(t *testing.T) {
	cfg := &config.Config{HTTPTimeout: 10 * time.Second}
	if got := cfg.RunTimeout(); got != 20*time.Second {
		t.Errorf("RunTimeout = %v, want 20s (default multiplier)", got)
	}
}
