package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(t.TempDir(), nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.VM.ProviderBin != "fly" || cfg.Backend.Provider != "neon" {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.ReadyTimeout() != 120*time.Second {
		t.Fatalf("unexpected ready timeout: %v", cfg.ReadyTimeout())
	}
	if cfg.StartTimeout() != 240*time.Minute || cfg.WaitTimeout() != 60*time.Minute {
		t.Fatalf("unexpected spike timeouts: %+v", cfg.Spike)
	}
}

func TestLoadOverlaysFile(t *testing.T) {
	root := t.TempDir()
	doc := `
[vm]
provider_bin = "flyctl"
ready_timeout_sec = 60

[spike]
wait_timeout_min = 30
`
	if err := os.WriteFile(filepath.Join(root, "config.toml"), []byte(doc), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(root, nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.VM.ProviderBin != "flyctl" {
		t.Fatalf("overlay not applied: %+v", cfg.VM)
	}
	if cfg.ReadyTimeout() != 60*time.Second {
		t.Fatalf("unexpected ready timeout: %v", cfg.ReadyTimeout())
	}
	if cfg.WaitTimeout() != 30*time.Minute {
		t.Fatalf("unexpected wait timeout: %v", cfg.WaitTimeout())
	}
	// Untouched sections keep their defaults.
	if cfg.Remote.User != "dev" || cfg.Spike.PollIntervalSec != 30 {
		t.Fatalf("defaults lost: %+v", cfg)
	}
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	root := t.TempDir()
	if err := os.WriteFile(filepath.Join(root, "config.toml"), []byte("[vm\n"), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(root, nil); err == nil {
		t.Fatalf("expected decode error")
	}
}
