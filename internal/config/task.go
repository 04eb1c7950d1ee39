package config

import (
	"fmt"
	"io/fs"
	"slices"

	"github.com/BurntSushi/toml"

	"github.com/spachava753/simeval/internal/models"
)

// DefaultTaskConfig returns a TaskConfig with default values.
func DefaultTaskConfig() models.TaskConfig {
	return models.TaskConfig{
		Version:        "1.0",
		MaxSteps:       300,
		StabilizeSteps: 10,
	}
}

// LoadTaskConfig loads and parses a task.toml file from the given filesystem.
func LoadTaskConfig(fsys fs.FS) (models.TaskConfig, error) {
	cfg := DefaultTaskConfig()

	data, err := fs.ReadFile(fsys, "task.toml")
	if err != nil {
		return cfg, fmt.Errorf("reading task.toml: %w", err)
	}

	md, err := toml.Decode(string(data), &cfg)
	if err != nil {
		return cfg, fmt.Errorf("parsing task.toml: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return cfg, fmt.Errorf("parsing task.toml: unknown key %q", undecoded[0].String())
	}

	if cfg.MaxSteps <= 0 {
		return cfg, fmt.Errorf("task.toml: max_steps must be positive, got %d", cfg.MaxSteps)
	}
	if cfg.StabilizeSteps < 0 {
		return cfg, fmt.Errorf("task.toml: stabilize_steps must be non-negative, got %d", cfg.StabilizeSteps)
	}
	if cfg.ObjectNum < 0 {
		return cfg, fmt.Errorf("task.toml: object_num must be non-negative, got %d", cfg.ObjectNum)
	}
	if cfg.Target != "" && len(cfg.Objects) > 0 && !slices.Contains(cfg.Objects, cfg.Target) {
		return cfg, fmt.Errorf("task.toml: target %q is not among objects", cfg.Target)
	}

	return cfg, nil
}

// LoadObjectPool loads and parses objects.toml from the given filesystem.
func LoadObjectPool(fsys fs.FS) (models.ObjectPool, error) {
	var pool models.ObjectPool

	data, err := fs.ReadFile(fsys, "objects.toml")
	if err != nil {
		return pool, fmt.Errorf("reading objects.toml: %w", err)
	}

	if _, err := toml.Decode(string(data), &pool); err != nil {
		return pool, fmt.Errorf("parsing objects.toml: %w", err)
	}

	seen := make(map[string]bool, len(pool.Objects))
	for i, o := range pool.Objects {
		if o.ID == "" {
			return pool, fmt.Errorf("objects.toml: object[%d] has no id", i)
		}
		if seen[o.ID] {
			return pool, fmt.Errorf("objects.toml: duplicate object id %q", o.ID)
		}
		seen[o.ID] = true
	}

	return pool, nil
}
