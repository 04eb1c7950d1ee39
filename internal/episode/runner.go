// Package episode runs a single trial: it resets a simulation instance,
// settles the scene, and alternates policy queries with simulator steps
// until the trial succeeds, fails, or runs out of budget.
package episode

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/spachava753/simeval/internal/modelserver"
	"github.com/spachava753/simeval/internal/models"
	"github.com/spachava753/simeval/internal/simulator"
)

// Inferer queries a policy for action chunks.
type Inferer interface {
	Infer(ctx context.Context, req modelserver.InferRequest) (models.ActionChunk, error)
}

// Runner executes trials against one shared model server.
type Runner struct {
	client Inferer
	cfg    models.EpisodeConfig
	logger *slog.Logger
}

// NewRunner creates a runner. cfg is used as given; callers apply config
// defaults first.
func NewRunner(client Inferer, cfg models.EpisodeConfig, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Runner{client: client, cfg: cfg, logger: logger}
}

// Run executes spec on inst. It never returns an error: every failure is
// reported through the outcome's FailureReason.
func (r *Runner) Run(ctx context.Context, spec models.TrialSpec, inst simulator.Instance) models.TrialOutcome {
	start := time.Now()
	outcome := r.run(ctx, spec, inst)
	end := time.Now()

	outcome.Spec = spec
	outcome.StartedAt = start
	outcome.EndedAt = end
	outcome.DurationSec = end.Sub(start).Seconds()

	r.logger.Debug("trial finished",
		"trial_id", spec.ID,
		"task", spec.TaskID,
		"seed", spec.Seed,
		"success", outcome.Success,
		"reason", outcome.FailureReason,
		"steps", outcome.StepCount,
	)
	return outcome
}

func (r *Runner) run(ctx context.Context, spec models.TrialSpec, inst simulator.Instance) models.TrialOutcome {
	trialCtx := ctx
	if r.cfg.TrialTimeoutSec > 0 {
		var cancel context.CancelFunc
		trialCtx, cancel = context.WithTimeout(ctx, time.Duration(r.cfg.TrialTimeoutSec*float64(time.Second)))
		defer cancel()
	}

	fail := func(steps int, err error) models.TrialOutcome {
		outcome := models.Failed(spec, r.classify(ctx, trialCtx, err), err.Error())
		outcome.StepCount = steps
		return outcome
	}

	obs, err := inst.Reset(trialCtx, spec)
	if err != nil {
		return fail(0, fmt.Errorf("resetting scene: %w", err))
	}

	for range spec.StabilizeSteps {
		hold, err := holdPose(obs)
		if err != nil {
			return fail(0, err)
		}
		res, err := inst.Step(trialCtx, hold)
		if err != nil {
			return fail(0, fmt.Errorf("stabilizing scene: %w", err))
		}
		obs = res.Observation
	}

	history := newProprioHistory(r.cfg.ProprioHistory)
	queue := newActionQueue(r.cfg)

	steps := 0
	for steps < spec.MaxSteps {
		if len(obs.Proprio) < 6 {
			return fail(steps, models.Errorf(models.ErrSimulation, "observing", "proprio has %d values", len(obs.Proprio)))
		}
		history.push(append(append([]float64(nil), obs.Proprio[:6]...), queue.fingerState))

		if queue.empty() {
			chunk, err := r.client.Infer(trialCtx, modelserver.InferRequest{
				TrialID:        spec.ID,
				Step:           steps,
				Observation:    obs,
				ProprioHistory: history.snapshot(),
				Instruction:    spec.Instruction,
			})
			if err != nil {
				return fail(steps, fmt.Errorf("step %d: %w", steps, err))
			}
			if err := queue.push(chunk, history.newest()); err != nil {
				return fail(steps, models.NewError(models.ErrProtocol, "expanding action chunk", err))
			}
			r.logger.Debug("action chunk received",
				"trial_id", spec.ID,
				"step", steps,
				"actions", len(chunk.Actions),
				"queued", queue.len(),
			)
		}

		res, err := inst.Step(trialCtx, queue.pop())
		if err != nil {
			return fail(steps, fmt.Errorf("step %d: %w", steps, err))
		}
		steps++
		obs = res.Observation

		switch {
		case res.Success:
			return models.TrialOutcome{Success: true, StepCount: steps}
		case res.Dropped:
			outcome := models.Failed(spec, models.FailurePhysicalFailure, fmt.Sprintf("object dropped at step %d", steps))
			outcome.StepCount = steps
			return outcome
		}
	}

	outcome := models.Failed(spec, models.FailureTimeout, fmt.Sprintf("step budget of %d exhausted", spec.MaxSteps))
	outcome.StepCount = steps
	return outcome
}

// classify maps an episode error onto a failure reason. Cancellation of
// the run wins over everything; the trial deadline comes next.
func (r *Runner) classify(ctx, trialCtx context.Context, err error) models.FailureReason {
	switch {
	case ctx.Err() != nil:
		return models.FailureCancelled
	case trialCtx.Err() != nil && errors.Is(trialCtx.Err(), context.DeadlineExceeded):
		return models.FailureTimeout
	case models.IsKind(err, models.ErrConnectivity), models.IsKind(err, models.ErrProtocol):
		return models.FailureServerError
	default:
		return models.FailureWorkerCrash
	}
}

// holdPose keeps the current pose with the gripper open.
func holdPose(obs models.Observation) (models.ActionCommand, error) {
	if len(obs.Proprio) < 6 {
		return models.ActionCommand{}, models.Errorf(models.ErrSimulation, "stabilizing scene", "proprio has %d values", len(obs.Proprio))
	}
	pose := make([]float64, models.PoseWidth)
	copy(pose, obs.Proprio[:6])
	pose[6] = models.GripperOpen
	return models.ActionCommand{Pose: pose}, nil
}
