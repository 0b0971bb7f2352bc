package main

import (
	"fmt"
	"os"
	"path/filepath"
)

// Paths holds all resolved vivarium state file paths.
// Use ResolvePaths() to populate this struct with defaults + env overrides.
type Paths struct {
	Home         string // ~/.vivarium or VIVARIUM_HOME
	StatePath    string // pool_state.json or VIVARIUM_STATE_PATH
	AuditPath    string // audit.jsonl or VIVARIUM_AUDIT_PATH
	ConfigPath   string // config.toml or VIVARIUM_CONFIG_PATH
	SettingsPath string // settings.db or VIVARIUM_SETTINGS_DB
	PolicyPath   string // policy.yaml or VIVARIUM_POLICY_PATH
	WorkersDir   string // per-worker log directory (respects VIVARIUM_HOME)
}

// ResolvePaths returns all vivarium paths, respecting env var overrides.
// Environment variables:
//   - VIVARIUM_HOME: base directory for all vivarium state (default: ~/.vivarium)
//   - VIVARIUM_STATE_PATH: pool state snapshot (default: $VIVARIUM_HOME/pool_state.json)
//   - VIVARIUM_AUDIT_PATH: audit trail (default: $VIVARIUM_HOME/audit.jsonl)
//   - VIVARIUM_CONFIG_PATH: config file (default: $VIVARIUM_HOME/config.toml)
//   - VIVARIUM_SETTINGS_DB: settings database (default: $VIVARIUM_HOME/settings.db)
//   - VIVARIUM_POLICY_PATH: sandbox policy (default: $VIVARIUM_HOME/policy.yaml)
//
// If VIVARIUM_HOME is set, it becomes the base for all default paths.
// Specific env vars override both the default and the VIVARIUM_HOME base.
func ResolvePaths() (*Paths, error) {
	home, err := resolveHome()
	if err != nil {
		return nil, err
	}

	return &Paths{
		Home:         home,
		StatePath:    resolvePathWithEnv("VIVARIUM_STATE_PATH", home, "pool_state.json"),
		AuditPath:    resolvePathWithEnv("VIVARIUM_AUDIT_PATH", home, "audit.jsonl"),
		ConfigPath:   resolvePathWithEnv("VIVARIUM_CONFIG_PATH", home, "config.toml"),
		SettingsPath: resolvePathWithEnv("VIVARIUM_SETTINGS_DB", home, "settings.db"),
		PolicyPath:   resolvePathWithEnv("VIVARIUM_POLICY_PATH", home, "policy.yaml"),
		WorkersDir:   filepath.Join(home, "workers"),
	}, nil
}

// resolveHome returns the vivarium home directory from VIVARIUM_HOME or ~/.vivarium.
func resolveHome() (string, error) {
	if v := os.Getenv("VIVARIUM_HOME"); v != "" {
		return v, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, ".vivarium"), nil
}

// resolvePathWithEnv returns the path from envKey if set, otherwise joins base + suffix.
func resolvePathWithEnv(envKey, base, suffix string) string {
	if v := os.Getenv(envKey); v != "" {
		return v
	}
	return filepath.Join(base, suffix)
}
