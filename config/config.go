// Package config holds the timing and environment settings shared by the
// session and the command-line tools.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/user/papersync/logger"
	"github.com/user/papersync/util"
)

// Config carries every tunable of a session. Default returns the numbers the
// peripheral firmware is built around; change them only for tests.
type Config struct {
	PollInterval     time.Duration // write gate poll
	PollAttempts     int           // write gate attempts before ErrWriteTimeout
	AckTimeout       time.Duration // per tile or route
	InventoryTimeout time.Duration
	DownloadTimeout  time.Duration // recording download
	ScanWindow       time.Duration
	ScanPause        time.Duration
	ConnectTimeout   time.Duration // scan start to Ready
	BackoffMin       time.Duration
	BackoffMax       time.Duration
	EventBuffer      int

	MTU      int // requested ATT MTU for bridges that negotiate one
	Trace    bool
	DataDir  string
	LogLevel logger.LogLevel
}

// Default returns the production settings.
func Default() Config {
	return Config{
		PollInterval:     10 * time.Millisecond,
		PollAttempts:     100,
		AckTimeout:       3 * time.Second,
		InventoryTimeout: 20 * time.Second,
		DownloadTimeout:  60 * time.Second,
		ScanWindow:       4 * time.Second,
		ScanPause:        5 * time.Second,
		ConnectTimeout:   30 * time.Second,
		BackoffMin:       time.Second,
		BackoffMax:       30 * time.Second,
		EventBuffer:      64,
		MTU:              247,
		DataDir:          util.GetDataDir(),
		LogLevel:         logger.INFO,
	}
}

// FromEnv overlays PAPERSYNC_* variables on Default.
func FromEnv() (Config, error) {
	cfg := Default()

	durations := []struct {
		name string
		dst  *time.Duration
	}{
		{"PAPERSYNC_POLL_INTERVAL", &cfg.PollInterval},
		{"PAPERSYNC_ACK_TIMEOUT", &cfg.AckTimeout},
		{"PAPERSYNC_INVENTORY_TIMEOUT", &cfg.InventoryTimeout},
		{"PAPERSYNC_DOWNLOAD_TIMEOUT", &cfg.DownloadTimeout},
		{"PAPERSYNC_SCAN_WINDOW", &cfg.ScanWindow},
		{"PAPERSYNC_SCAN_PAUSE", &cfg.ScanPause},
		{"PAPERSYNC_CONNECT_TIMEOUT", &cfg.ConnectTimeout},
		{"PAPERSYNC_BACKOFF_MIN", &cfg.BackoffMin},
		{"PAPERSYNC_BACKOFF_MAX", &cfg.BackoffMax},
	}
	for _, d := range durations {
		v := os.Getenv(d.name)
		if v == "" {
			continue
		}
		parsed, err := time.ParseDuration(v)
		if err != nil {
			return cfg, fmt.Errorf("config: %s: %w", d.name, err)
		}
		*d.dst = parsed
	}

	ints := []struct {
		name string
		dst  *int
	}{
		{"PAPERSYNC_POLL_ATTEMPTS", &cfg.PollAttempts},
		{"PAPERSYNC_EVENT_BUFFER", &cfg.EventBuffer},
		{"PAPERSYNC_MTU", &cfg.MTU},
	}
	for _, i := range ints {
		v := os.Getenv(i.name)
		if v == "" {
			continue
		}
		parsed, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("config: %s: %w", i.name, err)
		}
		*i.dst = parsed
	}

	if v := os.Getenv("PAPERSYNC_TRACE"); v != "" {
		on, err := strconv.ParseBool(v)
		if err != nil {
			return cfg, fmt.Errorf("config: PAPERSYNC_TRACE: %w", err)
		}
		cfg.Trace = on
	}
	if v := os.Getenv("PAPERSYNC_LOG_LEVEL"); v != "" {
		cfg.LogLevel = logger.ParseLevel(v)
	}

	return cfg, cfg.Validate()
}

// Validate rejects settings the session cannot run with.
func (c Config) Validate() error {
	durations := map[string]time.Duration{
		"poll interval":     c.PollInterval,
		"ack timeout":       c.AckTimeout,
		"inventory timeout": c.InventoryTimeout,
		"download timeout":  c.DownloadTimeout,
		"scan window":       c.ScanWindow,
		"scan pause":        c.ScanPause,
		"connect timeout":   c.ConnectTimeout,
		"backoff min":       c.BackoffMin,
		"backoff max":       c.BackoffMax,
	}
	for name, d := range durations {
		if d <= 0 {
			return fmt.Errorf("config: %s must be positive, got %s", name, d)
		}
	}
	if c.PollAttempts <= 0 {
		return fmt.Errorf("config: poll attempts must be positive, got %d", c.PollAttempts)
	}
	if c.BackoffMax < c.BackoffMin {
		return fmt.Errorf("config: backoff max %s is below min %s", c.BackoffMax, c.BackoffMin)
	}
	if c.EventBuffer < 0 {
		return fmt.Errorf("config: event buffer must not be negative")
	}
	if c.MTU < 23 {
		return fmt.Errorf("config: MTU %d is below the ATT minimum 23", c.MTU)
	}
	return nil
}

// GateBudget is how long a write may wait for the previous one.
func (c Config) GateBudget() time.Duration {
	return c.PollInterval * time.Duration(c.PollAttempts)
}
