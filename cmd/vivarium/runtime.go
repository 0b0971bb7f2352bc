package main

import (
	"fmt"
	"os"

	"vivarium/pkg/audit"
	"vivarium/pkg/config"
	"vivarium/pkg/pool"
	"vivarium/pkg/settings"
)

// runtime bundles the shared pieces every pool command needs: resolved
// paths, loaded config, the audit trail, the settings store, and a wired
// supervisor. Close releases the trail and the settings database.
type runtime struct {
	paths      *Paths
	cfg        config.Config
	trail      *audit.Trail
	settings   *settings.Store
	supervisor *pool.Supervisor
}

// openRuntime resolves paths, loads config, and wires a supervisor against
// the host process table.
func openRuntime() (*runtime, error) {
	paths, err := ResolvePaths()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(paths.Home, 0o700); err != nil {
		return nil, fmt.Errorf("create vivarium home: %w", err)
	}

	cfg, err := config.Load(paths.ConfigPath)
	if err != nil {
		return nil, err
	}

	trail, err := audit.Open(paths.AuditPath)
	if err != nil {
		return nil, err
	}

	store, err := settings.Open(paths.SettingsPath)
	if err != nil {
		trail.Close()
		return nil, err
	}

	target, err := store.ResidentCount()
	if err != nil {
		target = cfg.TargetCount
	}

	workspace, err := workspaceRoot(cfg)
	if err != nil {
		trail.Close()
		store.Close()
		return nil, err
	}

	sup := pool.New(
		pool.Options{
			StatePath:     paths.StatePath,
			DefaultTarget: target,
			GracePeriod:   cfg.GracePeriod(),
			StopUnmanaged: *cfg.StopUnmanaged,
		},
		pool.NewPgrepInspector(cfg.WorkerSignature),
		pool.NewWorkerSpawner(paths.Home, workspace),
		trail,
	)

	return &runtime{paths: paths, cfg: cfg, trail: trail, settings: store, supervisor: sup}, nil
}

func (r *runtime) Close() {
	_ = r.settings.Close()
	_ = r.trail.Close()
}

// workspaceRoot returns the configured workspace root, defaulting to the
// current working directory.
func workspaceRoot(cfg config.Config) (string, error) {
	if cfg.WorkspaceRoot != "" {
		return cfg.WorkspaceRoot, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get working directory: %w", err)
	}
	return wd, nil
}
