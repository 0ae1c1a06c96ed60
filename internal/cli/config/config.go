// Package config holds the pilotty configuration file and the socket,
// lock, and log path resolution shared by the CLI and the daemon.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config models the optional ~/.pilotty/config.yaml. Every field has a
// working default; the file exists to raise or lower limits.
type Config struct {
	// ScrollbackLines caps retired lines kept per session.
	ScrollbackLines int `yaml:"scrollbackLines"`
	// MaxSessions caps concurrent sessions.
	MaxSessions int `yaml:"maxSessions"`
	// MaxPendingWaits caps concurrently blocked wait requests.
	MaxPendingWaits int `yaml:"maxPendingWaits"`
	// IdleShutdownSeconds is how long the daemon lingers with zero
	// sessions before exiting.
	IdleShutdownSeconds int `yaml:"idleShutdownSeconds"`
	// ReadChunkBytes bounds one PTY read.
	ReadChunkBytes int `yaml:"readChunkBytes"`
	// LogMaxBytes rotates the daemon log when it grows past this size.
	LogMaxBytes int64 `yaml:"logMaxBytes"`
}

// Default returns the built-in limits.
func Default() *Config {
	return &Config{
		ScrollbackLines:     1000,
		MaxSessions:         100,
		MaxPendingWaits:     256,
		IdleShutdownSeconds: 300,
		ReadChunkBytes:      64 * 1024,
		LogMaxBytes:         8 * 1024 * 1024,
	}
}

// Load decodes the config file, filling unset fields with defaults.
// A missing file returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return cfg, nil
	}
	expanded, err := expandPath(trimmed)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(expanded)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	defaults := Default()
	if cfg.ScrollbackLines <= 0 {
		cfg.ScrollbackLines = defaults.ScrollbackLines
	}
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = defaults.MaxSessions
	}
	if cfg.MaxPendingWaits <= 0 {
		cfg.MaxPendingWaits = defaults.MaxPendingWaits
	}
	if cfg.IdleShutdownSeconds <= 0 {
		cfg.IdleShutdownSeconds = defaults.IdleShutdownSeconds
	}
	if cfg.ReadChunkBytes <= 0 {
		cfg.ReadChunkBytes = defaults.ReadChunkBytes
	}
	if cfg.LogMaxBytes <= 0 {
		cfg.LogMaxBytes = defaults.LogMaxBytes
	}
	return cfg, nil
}

// DefaultConfigPath is where Load looks unless PILOTTY_CONFIG overrides
// it.
func DefaultConfigPath() string {
	if v := os.Getenv("PILOTTY_CONFIG"); v != "" {
		return v
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".pilotty", "config.yaml")
}

func expandPath(path string) (string, error) {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		if path == "~" {
			return home, nil
		}
		return filepath.Join(home, path[2:]), nil
	}
	return path, nil
}
