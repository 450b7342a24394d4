// Package config loads fox configuration: a TOML file under the state root
// plus an optional .env overlay for provider tokens.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Config is the fox configuration document.
type Config struct {
	StateRoot string `toml:"state_root"`

	VM      VMConfig      `toml:"vm"`
	Backend BackendConfig `toml:"backend"`
	Remote  RemoteConfig  `toml:"remote"`
	Spike   SpikeConfig   `toml:"spike"`
}

type VMConfig struct {
	ProviderBin     string `toml:"provider_bin"`
	Image           string `toml:"image"`
	Region          string `toml:"region"`
	ReadyTimeoutSec int    `toml:"ready_timeout_sec"`
	DevPort         int    `toml:"dev_port"`
}

type BackendConfig struct {
	Provider string `toml:"provider"`
	Bin      string `toml:"bin"`
}

type RemoteConfig struct {
	User              string `toml:"user"`
	InstallTimeoutMin int    `toml:"install_timeout_min"`
}

type SpikeConfig struct {
	PollIntervalSec int `toml:"poll_interval_sec"`
	StartTimeoutMin int `toml:"start_timeout_min"`
	WaitTimeoutMin  int `toml:"wait_timeout_min"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		VM: VMConfig{
			ProviderBin:     "fly",
			ReadyTimeoutSec: 120,
			DevPort:         3000,
		},
		Backend: BackendConfig{Provider: "neon", Bin: "neonctl"},
		Remote:  RemoteConfig{User: "dev", InstallTimeoutMin: 10},
		Spike: SpikeConfig{
			PollIntervalSec: 30,
			StartTimeoutMin: 240,
			WaitTimeoutMin:  60,
		},
	}
}

// Load reads config.toml from the state root when present and overlays it on
// the defaults. A missing file is not an error. A .env file in the working
// directory is loaded first so provider CLIs see their tokens.
func Load(stateRoot string, logger *slog.Logger) (Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		if logger != nil {
			logger.Warn("could not load .env", "error", err)
		}
	}

	cfg := Default()
	cfg.StateRoot = stateRoot

	path := filepath.Join(stateRoot, "config.toml")
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("stat config: %w", err)
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 && logger != nil {
		logger.Warn("config file has loose permissions", "path", path, "mode", fmt.Sprintf("%04o", perm))
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("decode config %s: %w", path, err)
	}
	return cfg, nil
}

func (c Config) ReadyTimeout() time.Duration {
	return time.Duration(c.VM.ReadyTimeoutSec) * time.Second
}

func (c Config) InstallTimeout() time.Duration {
	return time.Duration(c.Remote.InstallTimeoutMin) * time.Minute
}

func (c Config) PollInterval() time.Duration {
	return time.Duration(c.Spike.PollIntervalSec) * time.Second
}

func (c Config) StartTimeout() time.Duration {
	return time.Duration(c.Spike.StartTimeoutMin) * time.Minute
}

func (c Config) WaitTimeout() time.Duration {
	return time.Duration(c.Spike.WaitTimeoutMin) * time.Minute
}
