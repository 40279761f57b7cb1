package config

import (
	"strings"
	"testing"
	"time"

	"github.com/user/papersync/logger"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default config invalid: %v", err)
	}
	if cfg.GateBudget() != time.Second {
		t.Errorf("GateBudget = %s, want 1s", cfg.GateBudget())
	}
	if cfg.AckTimeout != 3*time.Second || cfg.InventoryTimeout != 20*time.Second {
		t.Errorf("Timeouts = %s / %s", cfg.AckTimeout, cfg.InventoryTimeout)
	}
	if cfg.ScanWindow != 4*time.Second || cfg.ScanPause != 5*time.Second || cfg.ConnectTimeout != 30*time.Second {
		t.Errorf("Reconnect timings = %s / %s / %s", cfg.ScanWindow, cfg.ScanPause, cfg.ConnectTimeout)
	}
}

func TestFromEnv(t *testing.T) {
	t.Setenv("PAPERSYNC_ACK_TIMEOUT", "250ms")
	t.Setenv("PAPERSYNC_POLL_ATTEMPTS", "7")
	t.Setenv("PAPERSYNC_TRACE", "true")
	t.Setenv("PAPERSYNC_LOG_LEVEL", "debug")
	t.Setenv("PAPERSYNC_DIR", "/tmp/papersync-test")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv failed: %v", err)
	}
	if cfg.AckTimeout != 250*time.Millisecond || cfg.PollAttempts != 7 || !cfg.Trace {
		t.Errorf("Config = %+v", cfg)
	}
	if cfg.LogLevel != logger.DEBUG {
		t.Errorf("LogLevel = %s", cfg.LogLevel)
	}
	if cfg.DataDir != "/tmp/papersync-test" {
		t.Errorf("DataDir = %q", cfg.DataDir)
	}
}

func TestFromEnv_Errors(t *testing.T) {
	tests := []struct {
		name, key, value, want string
	}{
		{"bad duration", "PAPERSYNC_SCAN_WINDOW", "soon", "PAPERSYNC_SCAN_WINDOW"},
		{"bad int", "PAPERSYNC_MTU", "big", "PAPERSYNC_MTU"},
		{"bad bool", "PAPERSYNC_TRACE", "maybe", "PAPERSYNC_TRACE"},
		{"negative", "PAPERSYNC_ACK_TIMEOUT", "-1s", "ack timeout"},
		{"small mtu", "PAPERSYNC_MTU", "20", "MTU"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := FromEnv()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Expected error mentioning %q, got %v", tt.want, err)
			}
		})
	}
}

func TestValidate_Backoff(t *testing.T) {
	cfg := Default()
	cfg.BackoffMax = cfg.BackoffMin / 2
	if err := cfg.Validate(); err == nil {
		t.Error("Expected error for inverted backoff bounds")
	}
}
