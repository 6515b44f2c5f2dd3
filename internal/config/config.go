// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides unified configuration loading for guardrail.
//
// Supports both TOML and JSON configuration formats, with sensible defaults,
// environment variable overrides, and validation.
//
// Configuration file locations (in order of precedence):
//   - ~/.guardrail/config.toml
//   - ~/.guardrail/config.json
//   - Built-in defaults
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete guardrail configuration.
type Config struct {
	Version string `toml:"version" json:"version"`

	// Throttle configuration (login backoff and lockout)
	Throttle ThrottleConfig `toml:"throttle" json:"throttle"`

	// Ledger configuration (audit hash chain)
	Ledger LedgerConfig `toml:"ledger" json:"ledger"`

	// StepUp configuration (MFA gate)
	StepUp StepUpConfig `toml:"stepup" json:"stepup"`

	// Storage configuration
	Storage StorageConfig `toml:"storage" json:"storage"`
}

// ThrottleConfig tunes the login throttle guard.
type ThrottleConfig struct {
	// MaxAttempts is the failure count that triggers a lockout.
	MaxAttempts int `toml:"max_attempts" json:"max_attempts"`
	// LockoutMinutes is how long an identifier stays locked.
	LockoutMinutes int `toml:"lockout_minutes" json:"lockout_minutes"`
	// BurstLimitPerSec enables the optional token-bucket absorber when > 0.
	BurstLimitPerSec float64 `toml:"burst_limit_per_sec" json:"burst_limit_per_sec"`
	// BurstSize is the token bucket capacity when burst limiting is enabled.
	BurstSize int `toml:"burst_size" json:"burst_size"`
}

// LedgerConfig tunes the audit chain.
type LedgerConfig struct {
	// StoreKey is the durable-store key holding the chain document.
	StoreKey string `toml:"store_key" json:"store_key"`
	// WatchChanges enables the storage change watcher on file-backed stores
	// so externally written chain state is reloaded instead of going stale.
	WatchChanges bool `toml:"watch_changes" json:"watch_changes"`
}

// StepUpConfig tunes the MFA gate.
type StepUpConfig struct {
	// SessionMinutes is the step-up session lifetime.
	// Valid range is 1-30 minutes; values outside are clamped.
	SessionMinutes int `toml:"session_minutes" json:"session_minutes"`
	// TOTPIssuer is the issuer name used when provisioning TOTP secrets.
	TOTPIssuer string `toml:"totp_issuer" json:"totp_issuer"`
	// DeviceTolerance is the fingerprint comparison tolerance:
	// "strict", "moderate", or "lenient". Unrecognized values fail closed
	// to strict.
	DeviceTolerance string `toml:"device_tolerance" json:"device_tolerance"`
}

// StorageConfig selects and locates the durable backend.
type StorageConfig struct {
	// Backend is "file" or "sqlite".
	Backend string `toml:"backend" json:"backend"`
	// Dir is the state directory for the file backend (and the sqlite
	// database's parent). Empty means ~/.guardrail/state.
	Dir string `toml:"dir" json:"dir"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns a Config with sensible default values. The guard defaults
// mirror the guard packages' own constants.
func Default() *Config {
	return &Config{
		Version: "1.0.0",

		Throttle: ThrottleConfig{
			MaxAttempts:    5,
			LockoutMinutes: 15,
			BurstSize:      3,
		},

		Ledger: LedgerConfig{
			StoreKey:     "guardrail.audit_chain",
			WatchChanges: true,
		},

		StepUp: StepUpConfig{
			SessionMinutes:  15,
			TOTPIssuer:      "guardrail",
			DeviceTolerance: "moderate",
		},

		Storage: StorageConfig{
			Backend: "file",
		},
	}
}

// =============================================================================
// CONFIG PATH HELPERS
// =============================================================================

// ConfigDir returns the guardrail configuration directory path.
func ConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not determine home directory: %w", err)
	}
	return filepath.Join(home, ".guardrail"), nil
}

// StateDir returns the effective state directory for the storage backend.
func (c *Config) StateDir() (string, error) {
	if c.Storage.Dir != "" {
		return c.Storage.Dir, nil
	}
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "state"), nil
}

// SessionDuration returns the configured step-up session lifetime.
func (c *Config) SessionDuration() time.Duration {
	return time.Duration(c.StepUp.SessionMinutes) * time.Minute
}

// =============================================================================
// LOAD FUNCTIONS
// =============================================================================

// Load loads configuration from the config file(s).
// Tries TOML first, then JSON, and falls back to defaults.
// Environment overrides are applied last, then validation clamps.
func Load() (*Config, error) {
	cfg := Default()

	dir, err := ConfigDir()
	if err == nil {
		tomlPath := filepath.Join(dir, "config.toml")
		jsonPath := filepath.Join(dir, "config.json")
		if _, statErr := os.Stat(tomlPath); statErr == nil {
			if _, err := toml.DecodeFile(tomlPath, cfg); err != nil {
				return nil, fmt.Errorf("failed to load TOML config: %w", err)
			}
		} else if _, statErr := os.Stat(jsonPath); statErr == nil {
			data, err := os.ReadFile(jsonPath)
			if err != nil {
				return nil, fmt.Errorf("failed to read JSON config: %w", err)
			}
			if err := json.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to decode JSON config: %w", err)
			}
		}
	}

	cfg.ApplyEnvOverrides()
	cfg.Validate()
	return cfg, nil
}

// LoadFromPath loads configuration from a specific file path.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()

	if strings.HasSuffix(path, ".json") {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read JSON config from %s: %w", path, err)
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to decode JSON config from %s: %w", path, err)
		}
	} else {
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to load TOML config from %s: %w", path, err)
		}
	}

	cfg.ApplyEnvOverrides()
	cfg.Validate()
	return cfg, nil
}

// =============================================================================
// ENV OVERRIDES & VALIDATION
// =============================================================================

// ApplyEnvOverrides applies GUARDRAIL_* environment variables over the
// loaded configuration.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("GUARDRAIL_STORAGE_BACKEND"); v != "" {
		c.Storage.Backend = v
	}
	if v := os.Getenv("GUARDRAIL_STORAGE_DIR"); v != "" {
		c.Storage.Dir = v
	}
	if v := os.Getenv("GUARDRAIL_SESSION_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.StepUp.SessionMinutes = n
		}
	}
	if v := os.Getenv("GUARDRAIL_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Throttle.MaxAttempts = n
		}
	}
	if v := os.Getenv("GUARDRAIL_LOCKOUT_MINUTES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Throttle.LockoutMinutes = n
		}
	}
	if v := os.Getenv("GUARDRAIL_DEVICE_TOLERANCE"); v != "" {
		c.StepUp.DeviceTolerance = v
	}
}

// Validate clamps out-of-range values to their valid bounds rather than
// failing: a misconfigured guard engine should come up with safe settings,
// not refuse to protect anything.
func (c *Config) Validate() {
	if c.Throttle.MaxAttempts < 1 {
		c.Throttle.MaxAttempts = 1
	}
	if c.Throttle.MaxAttempts > 10 {
		c.Throttle.MaxAttempts = 10
	}
	if c.Throttle.LockoutMinutes < 1 {
		c.Throttle.LockoutMinutes = 1
	}
	if c.Throttle.BurstLimitPerSec < 0 {
		c.Throttle.BurstLimitPerSec = 0
	}
	if c.Throttle.BurstSize < 1 {
		c.Throttle.BurstSize = 1
	}

	// Step-up session clamped to 1-30 minutes.
	if c.StepUp.SessionMinutes < 1 {
		c.StepUp.SessionMinutes = 1
	}
	if c.StepUp.SessionMinutes > 30 {
		c.StepUp.SessionMinutes = 30
	}
	if c.StepUp.TOTPIssuer == "" {
		c.StepUp.TOTPIssuer = "guardrail"
	}
	switch strings.ToLower(c.StepUp.DeviceTolerance) {
	case "strict", "moderate", "lenient":
		c.StepUp.DeviceTolerance = strings.ToLower(c.StepUp.DeviceTolerance)
	default:
		// Fail closed on unrecognized tolerance names.
		c.StepUp.DeviceTolerance = "strict"
	}

	switch strings.ToLower(c.Storage.Backend) {
	case "file", "sqlite":
		c.Storage.Backend = strings.ToLower(c.Storage.Backend)
	default:
		c.Storage.Backend = "file"
	}

	if c.Ledger.StoreKey == "" {
		c.Ledger.StoreKey = "guardrail.audit_chain"
	}
}

// =============================================================================
// SAVE
// =============================================================================

// Save writes the configuration as TOML to the default location with 0600
// permissions.
func (c *Config) Save() error {
	dir, err := ConfigDir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	path := filepath.Join(dir, "config.toml")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(c); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return nil
}
