package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.Port != "8080" {
		t.Errorf("Port = %q, want 8080", cfg.Port)
	}
	if cfg.Env != "development" {
		t.Errorf("Env = %q, want development", cfg.Env)
	}
	if cfg.SessionIdleTimeout != 30*time.Minute {
		t.Errorf("SessionIdleTimeout = %v, want 30m", cfg.SessionIdleTimeout)
	}
	if cfg.AppointmentDuration != time.Hour {
		t.Errorf("AppointmentDuration = %v, want 1h", cfg.AppointmentDuration)
	}
	if cfg.DefaultTimezone != "America/Bogota" {
		t.Errorf("DefaultTimezone = %q", cfg.DefaultTimezone)
	}
	if !cfg.UseMemoryQueue {
		t.Error("UseMemoryQueue should default to true")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("SESSION_IDLE_TIMEOUT", "15m")
	t.Setenv("WORKER_COUNT", "4")
	t.Setenv("USE_MEMORY_QUEUE", "false")
	t.Setenv("HISTORY_LIMIT", "25")

	cfg := Load()

	if cfg.Port != "9090" {
		t.Errorf("Port = %q, want 9090", cfg.Port)
	}
	if cfg.SessionIdleTimeout != 15*time.Minute {
		t.Errorf("SessionIdleTimeout = %v, want 15m", cfg.SessionIdleTimeout)
	}
	if cfg.WorkerCount != 4 {
		t.Errorf("WorkerCount = %d, want 4", cfg.WorkerCount)
	}
	if cfg.UseMemoryQueue {
		t.Error("UseMemoryQueue should be false")
	}
	if cfg.HistoryLimit != 25 {
		t.Errorf("HistoryLimit = %d, want 25", cfg.HistoryLimit)
	}
}

func TestInvalidDurationFallsBack(t *testing.T) {
	t.Setenv("SESSION_IDLE_TIMEOUT", "not-a-duration")

	cfg := Load()
	if cfg.SessionIdleTimeout != 30*time.Minute {
		t.Errorf("SessionIdleTimeout = %v, want default 30m", cfg.SessionIdleTimeout)
	}
}
