// Package config loads the operator-edited config.toml from the vivarium
// home directory. Absent file or absent keys fall back to defaults, so a
// fresh install needs no config at all.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Defaults applied when config.toml is missing or leaves a key unset.
const (
	// DefaultGracePeriod is how long a stopping worker gets between
	// SIGTERM and SIGKILL.
	DefaultGracePeriod = 3 * time.Second

	// DefaultWorkerSignature is the command-line fragment used to find
	// pool workers in the host process table.
	DefaultWorkerSignature = "vivarium worker"

	// DefaultTargetCount is the worker count when neither a start
	// request nor the settings store names one.
	DefaultTargetCount = 1
)

// Config holds the operator-tunable knobs read from config.toml.
type Config struct {
	// WorkspaceRoot confines worker file access. Empty means the
	// current working directory at startup.
	WorkspaceRoot string `toml:"workspace_root"`

	// WorkerSignature matches pool workers in the process table.
	WorkerSignature string `toml:"worker_signature"`

	// TargetCount is the default pool size.
	TargetCount int `toml:"target_count"`

	// StopGracePeriodSeconds is the SIGTERM-to-SIGKILL window.
	StopGracePeriodSeconds int `toml:"stop_grace_period_seconds"`

	// StopUnmanaged includes signature-matching processes the
	// supervisor did not spawn when stopping the pool.
	StopUnmanaged *bool `toml:"stop_unmanaged"`
}

// Default returns the configuration used when no config.toml exists.
func Default() Config {
	stopUnmanaged := true
	return Config{
		WorkerSignature:        DefaultWorkerSignature,
		TargetCount:            DefaultTargetCount,
		StopGracePeriodSeconds: int(DefaultGracePeriod / time.Second),
		StopUnmanaged:          &stopUnmanaged,
	}
}

// Load reads config.toml from path. A missing file returns defaults; a
// present file overrides only the keys it sets.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path) //nolint:gosec // path comes from the home layout
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}

	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Default(), fmt.Errorf("parse config %s: %w", path, err)
	}

	// Nonsense values fall back rather than propagate.
	if cfg.WorkerSignature == "" {
		cfg.WorkerSignature = DefaultWorkerSignature
	}
	if cfg.TargetCount < 1 {
		cfg.TargetCount = DefaultTargetCount
	}
	if cfg.StopGracePeriodSeconds < 0 {
		cfg.StopGracePeriodSeconds = int(DefaultGracePeriod / time.Second)
	}
	if cfg.StopUnmanaged == nil {
		stopUnmanaged := true
		cfg.StopUnmanaged = &stopUnmanaged
	}

	return cfg, nil
}

// GracePeriod returns the SIGTERM-to-SIGKILL window as a duration.
func (c Config) GracePeriod() time.Duration {
	return time.Duration(c.StopGracePeriodSeconds) * time.Second
}
