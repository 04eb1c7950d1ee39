// Package simulator defines the boundary to the physics and scene backend.
// An Instance is exclusive to one worker; it is never shared.
package simulator

import (
	"context"
	"fmt"

	"github.com/spachava753/simeval/internal/models"
)

// Instance is one simulation environment.
type Instance interface {
	// Reset builds the scene for spec. The same spec always yields the same
	// initial object placement and textures.
	Reset(ctx context.Context, spec models.TrialSpec) (models.Observation, error)

	// Step applies one action and advances the simulation.
	Step(ctx context.Context, action models.ActionCommand) (StepResult, error)

	// Close releases the instance. It is safe to call more than once.
	Close() error
}

// StepResult is the observation after a step plus the termination signals.
type StepResult struct {
	Observation models.Observation `cbor:"observation"`
	Success     bool               `cbor:"success"`
	Dropped     bool               `cbor:"dropped"`
}

// Provider is a factory for simulation instances.
type Provider interface {
	// Name returns the provider name (e.g., "kinematic", "exec", "docker").
	Name() string

	// NewInstance creates an instance owned by the given worker.
	NewInstance(ctx context.Context, workerID int) (Instance, error)
}

// NewProvider builds the provider selected by cfg.
func NewProvider(cfg models.SimulatorConfig) (Provider, error) {
	switch cfg.Type {
	case "kinematic":
		return KinematicProvider{}, nil
	case "exec":
		return NewExecProvider(cfg.Command, cfg.Args, cfg.Env), nil
	case "docker":
		return NewDockerProvider(cfg), nil
	default:
		return nil, fmt.Errorf("unsupported simulator type: %s", cfg.Type)
	}
}

func fault(op string, err error) error {
	return models.NewError(models.ErrSimulation, op, err)
}

func faultf(op, format string, args ...any) error {
	return models.Errorf(models.ErrSimulation, op, format, args...)
}
