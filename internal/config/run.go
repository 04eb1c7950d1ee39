package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/spachava753/simeval/internal/models"
)

// DefaultRunConfig returns a RunConfig with default values.
func DefaultRunConfig() models.RunConfig {
	return models.RunConfig{
		RunsDir:         "runs",
		LogLevel:        "info",
		Workers:         1,
		ObjectsPerTrial: 6,
		Seeds: models.SeedConfig{
			Count: 50,
		},
		Server: models.ServerConfig{
			Host:              "127.0.0.1",
			Port:              5555,
			TimeoutSec:        5.0,
			RequestTimeoutSec: 5.0,
			HealthAttempts:    1,
			HealthIntervalMs:  1000,
			Retry: models.RetryConfig{
				MaxAttempts:    1,
				InitialDelayMs: 500,
				MaxDelayMs:     5000,
				Multiplier:     2.0,
			},
		},
		Simulator: models.SimulatorConfig{
			Type: "kinematic",
		},
		Episode: models.EpisodeConfig{
			ActionMode:          models.ActionAbsolute,
			GripTransitionSteps: 4,
			ProprioHistory:      4,
		},
		Store: models.StoreConfig{
			Type:        "sqlite",
			Compression: "zstd",
		},
	}
}

// LoadRunConfig loads, parses and validates a run.yaml file. Unknown keys
// are rejected so typos surface before any trial runs.
func LoadRunConfig(path string) (models.RunConfig, error) {
	cfg := DefaultRunConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading run config: %w", err)
	}

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return cfg, models.NewError(models.ErrConfiguration, "parsing run config", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ApplyDefaults fills zero values left by a partial config file.
func ApplyDefaults(cfg *models.RunConfig) {
	def := DefaultRunConfig()
	if cfg.RunsDir == "" {
		cfg.RunsDir = def.RunsDir
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = def.LogLevel
	}
	if cfg.Workers == 0 {
		cfg.Workers = def.Workers
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = def.Server.Host
	}
	if cfg.Server.TimeoutSec == 0 {
		cfg.Server.TimeoutSec = def.Server.TimeoutSec
	}
	if cfg.Server.RequestTimeoutSec == 0 {
		cfg.Server.RequestTimeoutSec = def.Server.RequestTimeoutSec
	}
	if cfg.Server.HealthAttempts == 0 {
		cfg.Server.HealthAttempts = def.Server.HealthAttempts
	}
	if cfg.Server.Retry.MaxAttempts == 0 {
		cfg.Server.Retry.MaxAttempts = def.Server.Retry.MaxAttempts
	}
	if cfg.Server.Retry.Multiplier == 0 {
		cfg.Server.Retry.Multiplier = def.Server.Retry.Multiplier
	}
	if cfg.Simulator.Type == "" {
		cfg.Simulator.Type = def.Simulator.Type
	}
	if cfg.Episode.ActionMode == "" {
		cfg.Episode.ActionMode = def.Episode.ActionMode
	}
	if cfg.Episode.ProprioHistory == 0 {
		cfg.Episode.ProprioHistory = def.Episode.ProprioHistory
	}
	if cfg.Store.Type == "" {
		cfg.Store.Type = def.Store.Type
	}
	if cfg.Store.Compression == "" {
		cfg.Store.Compression = def.Store.Compression
	}
}

var validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

// Validate checks every field against its allowed range. The returned
// error has kind models.ErrConfiguration and names the offending field.
func Validate(cfg models.RunConfig) error {
	invalid := func(format string, args ...any) error {
		return models.Errorf(models.ErrConfiguration, "validating run config", format, args...)
	}

	if !validLogLevels[strings.ToLower(cfg.LogLevel)] {
		return invalid("log_level: unknown level %q; valid: debug, info, warn, error", cfg.LogLevel)
	}
	if cfg.Workers < 1 || cfg.Workers > 256 {
		return invalid("workers: must be in [1, 256], got %d", cfg.Workers)
	}
	if cfg.ObjectsPerTrial < 1 {
		return invalid("objects_per_trial: must be positive, got %d", cfg.ObjectsPerTrial)
	}

	s := cfg.Seeds
	if s.File == "" && len(s.List) == 0 && s.Count < 1 {
		return invalid("seeds: count must be positive when no list or file is given, got %d", s.Count)
	}
	if s.File != "" && len(s.List) > 0 {
		return invalid("seeds: cannot specify both 'file' and 'list'")
	}

	srv := cfg.Server
	if srv.Port < 1 || srv.Port > 65535 {
		return invalid("server.port: must be in [1, 65535], got %d", srv.Port)
	}
	if srv.TimeoutSec <= 0 {
		return invalid("server.timeout_sec: must be positive, got %g", srv.TimeoutSec)
	}
	if srv.RequestTimeoutSec <= 0 {
		return invalid("server.request_timeout_sec: must be positive, got %g", srv.RequestTimeoutSec)
	}
	if srv.MaxInflight < 0 {
		return invalid("server.max_inflight: must be non-negative, got %d", srv.MaxInflight)
	}
	if srv.HealthAttempts < 1 {
		return invalid("server.health_attempts: must be positive, got %d", srv.HealthAttempts)
	}
	if srv.HealthIntervalMs < 0 {
		return invalid("server.health_interval_ms: must be non-negative, got %d", srv.HealthIntervalMs)
	}
	r := srv.Retry
	if r.MaxAttempts < 1 || r.MaxAttempts > 10 {
		return invalid("server.retry.max_attempts: must be in [1, 10], got %d", r.MaxAttempts)
	}
	if r.InitialDelayMs < 0 || r.MaxDelayMs < 0 {
		return invalid("server.retry: delays must be non-negative")
	}
	if r.Multiplier < 1 {
		return invalid("server.retry.multiplier: must be >= 1, got %g", r.Multiplier)
	}

	switch cfg.Simulator.Type {
	case "kinematic":
	case "exec":
		if cfg.Simulator.Command == "" {
			return invalid("simulator.command: required for simulator type exec")
		}
	case "docker":
		if cfg.Simulator.Image == "" {
			return invalid("simulator.image: required for simulator type docker")
		}
	default:
		return invalid("simulator.type: unknown type %q; valid: kinematic, exec, docker", cfg.Simulator.Type)
	}

	ep := cfg.Episode
	if ep.ActionMode != models.ActionAbsolute && ep.ActionMode != models.ActionDelta {
		return invalid("episode.action_mode: unknown mode %q; valid: absolute, delta", ep.ActionMode)
	}
	if ep.GripTransitionSteps < 0 {
		return invalid("episode.grip_transition_steps: must be non-negative, got %d", ep.GripTransitionSteps)
	}
	if ep.ProprioHistory < 1 {
		return invalid("episode.proprio_history: must be positive, got %d", ep.ProprioHistory)
	}
	if ep.TrialTimeoutSec < 0 {
		return invalid("episode.trial_timeout_sec: must be non-negative, got %g", ep.TrialTimeoutSec)
	}

	if len(cfg.Benchmarks) == 0 {
		return invalid("benchmarks: at least one benchmark is required")
	}
	for i, b := range cfg.Benchmarks {
		switch {
		case b.Registry != "" && b.GitURL != "":
			return invalid("benchmarks[%d]: cannot specify both 'registry' and 'git_url'", i)
		case b.Registry != "":
			if b.Name == "" {
				return invalid("benchmarks[%d].name: required for registry benchmarks", i)
			}
		case b.GitURL != "":
		case b.Path == "":
			return invalid("benchmarks[%d].path: required", i)
		}
		if b.MaxTasks < 0 {
			return invalid("benchmarks[%d].max_tasks: must be non-negative, got %d", i, b.MaxTasks)
		}
	}

	switch cfg.Store.Type {
	case "memory":
	case "sqlite":
	default:
		return invalid("store.type: unknown type %q; valid: memory, sqlite", cfg.Store.Type)
	}
	switch cfg.Store.Compression {
	case "", "none", "lz4", "zstd":
	default:
		return invalid("store.compression: unknown algorithm %q; valid: none, lz4, zstd", cfg.Store.Compression)
	}
	return nil
}
