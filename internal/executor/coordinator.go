package executor

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"sync"
	"time"

	"github.com/spachava753/simeval/internal/models"
	"github.com/spachava753/simeval/internal/simulator"
)

// TrialRunner executes a single trial on an exclusive simulation instance.
// It reports every failure through the outcome.
type TrialRunner interface {
	Run(ctx context.Context, spec models.TrialSpec, inst simulator.Instance) models.TrialOutcome
}

// RunnerFactory creates the TrialRunner used by one worker.
type RunnerFactory func(workerID int) TrialRunner

// RunStats summarizes one coordinated run.
type RunStats struct {
	// Dispatched counts specs handed to a worker.
	Dispatched int
	// Completed counts outcomes delivered to the sink from workers.
	Completed int
	// Duplicates counts outcomes dropped because their spec already had one.
	Duplicates int
	// Synthesized counts dispatched specs that never produced an outcome
	// and were recorded as worker crashes.
	Synthesized int
}

// Coordinator fans trials out over a fixed pool of workers, each owning one
// simulation instance, and funnels their outcomes to a single collector.
type Coordinator struct {
	workers   int
	provider  simulator.Provider
	newRunner RunnerFactory
	logger    *slog.Logger
}

// NewCoordinator creates a coordinator with the given number of workers.
func NewCoordinator(workers int, provider simulator.Provider, runnerFactory RunnerFactory, logger *slog.Logger) *Coordinator {
	if workers < 1 {
		workers = 1
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Coordinator{
		workers:   workers,
		provider:  provider,
		newRunner: runnerFactory,
		logger:    logger,
	}
}

// Run dispatches trials until the sequence ends or ctx is cancelled, and
// calls sink exactly once per dispatched spec. sink is only ever called
// from the goroutine that called Run.
func (c *Coordinator) Run(ctx context.Context, trials iter.Seq[models.TrialSpec], sink func(models.TrialOutcome)) RunStats {
	specChan := make(chan models.TrialSpec) // unbuffered
	resultChan := make(chan models.TrialOutcome)

	var wg sync.WaitGroup
	for id := range c.workers {
		wg.Go(func() {
			c.worker(ctx, id, specChan, resultChan)
		})
	}

	workersDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(workersDone)
		close(resultChan)
	}()

	// Written only by the feeder and read only after feederDone closes.
	// The feeder also stops when every worker has exited, since nothing
	// would ever receive its next spec.
	var dispatched []models.TrialSpec
	feederDone := make(chan struct{})
	go func() {
		defer close(feederDone)
		defer close(specChan)
		for spec := range trials {
			if ctx.Err() != nil {
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-workersDone:
				return
			case specChan <- spec:
				dispatched = append(dispatched, spec)
			}
		}
	}()

	var stats RunStats
	recorded := make(map[string]bool)
	for outcome := range resultChan {
		key := specKey(outcome.Spec)
		if recorded[key] {
			stats.Duplicates++
			c.logger.Warn("dropping duplicate outcome", "trial_id", key, "worker", outcome.WorkerID)
			continue
		}
		recorded[key] = true
		stats.Completed++
		c.logOutcome(outcome)
		sink(outcome)
	}

	<-feederDone
	stats.Dispatched = len(dispatched)
	for _, spec := range dispatched {
		if recorded[specKey(spec)] {
			continue
		}
		recorded[specKey(spec)] = true
		stats.Synthesized++
		now := time.Now()
		outcome := models.Failed(spec, models.FailureWorkerCrash, "worker exited without reporting an outcome")
		outcome.WorkerID = -1
		outcome.StartedAt = now
		outcome.EndedAt = now
		c.logOutcome(outcome)
		sink(outcome)
	}
	return stats
}

func (c *Coordinator) worker(ctx context.Context, id int, specs <-chan models.TrialSpec, results chan<- models.TrialOutcome) {
	logger := c.logger.With("worker", id)
	runner := c.newRunner(id)

	var inst simulator.Instance
	release := func() {
		if inst == nil {
			return
		}
		if err := closeInstance(inst); err != nil {
			logger.Warn("closing simulation instance", "error", err)
		}
		inst = nil
	}
	defer release()

	for spec := range specs {
		if inst == nil {
			created, err := c.newInstance(ctx, id)
			if err != nil {
				reason := models.FailureWorkerCrash
				if ctx.Err() != nil {
					reason = models.FailureCancelled
				}
				outcome := models.Failed(spec, reason, fmt.Sprintf("creating simulation instance: %v", err))
				outcome.WorkerID = id
				outcome.StartedAt = time.Now()
				outcome.EndedAt = outcome.StartedAt
				results <- outcome
				continue
			}
			inst = created
			logger.Debug("simulation instance created", "provider", c.provider.Name())
		}

		outcome := supervise(ctx, runner, spec, inst)
		outcome.WorkerID = id
		if replaceInstance(outcome.FailureReason) {
			logger.Debug("replacing simulation instance", "reason", outcome.FailureReason)
			release()
		}
		results <- outcome
	}
}

// newInstance creates the worker's instance, reporting a panicking
// provider as an error.
func (c *Coordinator) newInstance(ctx context.Context, id int) (inst simulator.Instance, err error) {
	defer func() {
		if r := recover(); r != nil {
			inst, err = nil, fmt.Errorf("provider panicked: %v", r)
		}
	}()
	return c.provider.NewInstance(ctx, id)
}

// closeInstance closes inst, reporting a panic as an error.
func closeInstance(inst simulator.Instance) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("close panicked: %v", r)
		}
	}()
	return inst.Close()
}

// supervise runs one trial, converting a panic into a worker crash.
func supervise(ctx context.Context, runner TrialRunner, spec models.TrialSpec, inst simulator.Instance) (outcome models.TrialOutcome) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			outcome = models.Failed(spec, models.FailureWorkerCrash, fmt.Sprintf("trial panicked: %v", r))
			outcome.StartedAt = start
			outcome.EndedAt = time.Now()
			outcome.DurationSec = outcome.EndedAt.Sub(start).Seconds()
		}
	}()

	outcome = runner.Run(ctx, spec, inst)
	outcome.Spec = spec
	return outcome
}

// replaceInstance reports whether an instance may be left in an unknown
// state after a trial that ended for reason.
func replaceInstance(reason models.FailureReason) bool {
	switch reason {
	case models.FailureWorkerCrash, models.FailureCancelled, models.FailureTimeout:
		return true
	}
	return false
}

func (c *Coordinator) logOutcome(o models.TrialOutcome) {
	attrs := []any{
		"trial_id", o.Spec.ID,
		"task", o.Spec.TaskID,
		"seed", o.Spec.Seed,
		"target", o.Spec.Target,
		"worker", o.WorkerID,
	}
	switch {
	case o.Success:
		c.logger.Info("trial succeeded", append(attrs, "steps", o.StepCount)...)
	case o.FailureReason.IsError():
		c.logger.Warn("trial errored", append(attrs, "reason", o.FailureReason, "message", o.Message)...)
	default:
		c.logger.Info("trial failed", append(attrs, "reason", o.FailureReason, "steps", o.StepCount)...)
	}
}

func specKey(spec models.TrialSpec) string {
	if spec.ID != "" {
		return spec.ID
	}
	return spec.Fingerprint()
}
