// Package config provides configuration management for Vigilant.
// It supports JSON-based configuration loading with safe defaults for
// unattended long-running operation.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// Config holds all tunable parameters for the watcher engine.
// The struct is designed to be loaded once at startup and then shared across
// goroutines as a read-only value, making it inherently thread-safe after
// initialization.  Fields cover HTTP transport tuning, scheduler pacing, and
// cookie maintenance horizons.
type Config struct {
	// DatabasePath is the SQLite database file.  The file and its schema are
	// created on first start if missing.
	DatabasePath string `json:"database_path"`

	// HTTPTimeout is the end-to-end timeout for a single HTTP request,
	// including connection setup, TLS handshake, sending the request body,
	// and reading the full response.
	HTTPTimeout time.Duration `json:"http_timeout"`

	// HTTPConnectTimeout bounds TCP connection establishment.
	HTTPConnectTimeout time.Duration `json:"http_connect_timeout"`

	// HTTPReadTimeout bounds waiting for the server's response headers.
	HTTPReadTimeout time.Duration `json:"http_read_timeout"`

	// HTTPMaxRedirects caps how many redirects a single request may follow.
	HTTPMaxRedirects int `json:"http_max_redirects"`

	// UserAgent is sent on every outbound request unless the watcher's
	// header template overrides it.
	UserAgent string `json:"user_agent"`

	// SchedulerTick is the interval between scheduler eligibility scans.
	SchedulerTick time.Duration `json:"scheduler_tick"`

	// PoolSize is the number of concurrent watcher/workflow runs.
	PoolSize int `json:"pool_size"`

	// RunTimeoutMultiplier scales HTTPTimeout into the per-run wall-clock
	// limit enforced by the scheduler (limit = multiplier * HTTPTimeout).
	RunTimeoutMultiplier int `json:"run_timeout_multiplier"`

	// CookieWarnHours is the look-ahead horizon for the hourly
	// expiring-cookie warning scan.
	CookieWarnHours int `json:"cookie_warn_hours"`

	// CookieNotifyHours is the look-ahead horizon for the 6-hourly
	// expiring-cookie notification job.
	CookieNotifyHours int `json:"cookie_notify_hours"`

	// CookieCleanupHourUTC is the hour of day (UTC) at which expired cookies
	// are deleted.
	CookieCleanupHourUTC int `json:"cookie_cleanup_hour_utc"`

	// DashboardAddr is the listen address of the control-surface HTTP server.
	// Empty disables the server.
	DashboardAddr string `json:"dashboard_addr"`

	// NotifyWebhookURL receives notification events as JSON POSTs.  Empty
	// means events are only logged.
	NotifyWebhookURL string `json:"notify_webhook_url"`

	// ProxyFile is the path to a newline-delimited file containing proxy
	// addresses (host:port or scheme://host:port).  Leave empty to run
	// without proxies.
	ProxyFile string `json:"proxy_file"`

	// MaxIdleConns is the total maximum number of idle (keep-alive)
	// connections across all hosts in the HTTP transport pool.
	MaxIdleConns int `json:"max_idle_conns"`

	// MaxIdleConnsPerHost caps idle connections to a single host.
	MaxIdleConnsPerHost int `json:"max_idle_conns_per_host"`

	// MaxConnsPerHost limits the total number of connections (idle +
	// active) to a single host.  This prevents one misbehaving target from
	// exhausting all available file descriptors.
	MaxConnsPerHost int `json:"max_conns_per_host"`
}

// LoadConfig reads a JSON file at filename and deserialises it into a Config.
// It returns an error if the file cannot be opened or if the JSON is malformed.
// The returned *Config is ready to use; zero-value fields retain Go's zero
// values, so callers should validate required fields after loading.
func LoadConfig(filename string) (*Config, error) {
	f, err := os.Open(filename) // #nosec G304 – filename is caller-provided config path
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", filename, err)
	}
	defer f.Close()

	var cfg Config
	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields() // catch typos in config files early
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("config: decode %q: %w", filename, err)
	}
	return &cfg, nil
}

// DefaultConfig returns a *Config pre-filled with production-sensible
// defaults matching the documented behaviour of the engine: 30 s total HTTP
// timeout, 10 redirects, 1 s scheduler tick, a pool of 5 concurrent runs,
// and cookie maintenance at 24 h / 48 h / daily 03:00 UTC.
// Callers are free to mutate the returned struct before passing it to other
// components; each call returns a fresh independent copy.
func DefaultConfig() *Config {
	return &Config{
		DatabasePath:         "vigilant.db",
		HTTPTimeout:          30 * time.Second,
		HTTPConnectTimeout:   10 * time.Second,
		HTTPReadTimeout:      10 * time.Second,
		HTTPMaxRedirects:     10,
		UserAgent:            "Vigilant/2.0",
		SchedulerTick:        1 * time.Second,
		PoolSize:             5,
		RunTimeoutMultiplier: 2,
		CookieWarnHours:      24,
		CookieNotifyHours:    48,
		CookieCleanupHourUTC: 3,
		DashboardAddr:        ":8080",
		NotifyWebhookURL:     "",
		ProxyFile:            "",
		MaxIdleConns:         100,
		MaxIdleConnsPerHost:  30,
		MaxConnsPerHost:      100,
	}
}

// RunTimeout returns the per-run wall-clock limit enforced by the scheduler.
func (c *Config) RunTimeout() time.Duration {
	m := c.RunTimeoutMultiplier
	if m <= 0 {
		m = 2
	}
	return time.Duration(m) * c.HTTPTimeout
}
