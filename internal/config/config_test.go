package config

import (
	"testing"
	"time"
)

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	t.Setenv("CONFIG_ENV", "does-not-exist")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed without a config file: %v", err)
	}

	if cfg.Mode != "release" || cfg.Port != 8080 || cfg.Engine != "hertz" || cfg.Store != "memory" {
		t.Errorf("unexpected server defaults: %+v", cfg)
	}
	if cfg.Sync.HeartbeatInterval != 2*time.Second {
		t.Errorf("heartbeat default mismatch: %v", cfg.Sync.HeartbeatInterval)
	}
	if cfg.Sync.TickInterval != time.Second {
		t.Errorf("tick default mismatch: %v", cfg.Sync.TickInterval)
	}
	if cfg.Sync.MaxDrift != 0.8 {
		t.Errorf("max drift default mismatch: %v", cfg.Sync.MaxDrift)
	}
	if cfg.Sync.BufferingGraceTicks != 8 {
		t.Errorf("buffering grace default mismatch: %d", cfg.Sync.BufferingGraceTicks)
	}
}
