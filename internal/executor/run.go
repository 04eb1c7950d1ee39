package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/spachava753/simeval/internal/aggregate"
	"github.com/spachava753/simeval/internal/config"
	"github.com/spachava753/simeval/internal/episode"
	"github.com/spachava753/simeval/internal/modelserver"
	"github.com/spachava753/simeval/internal/models"
	"github.com/spachava753/simeval/internal/registry"
	"github.com/spachava753/simeval/internal/scheduler"
	"github.com/spachava753/simeval/internal/simulator"
	"github.com/spachava753/simeval/internal/store"
	"github.com/spachava753/simeval/internal/suite"
)

// Files written to a run directory.
const (
	ConfigFile    = "config.json"
	ReportJSON    = "report.json"
	ReportCSV     = "report.csv"
	OutcomesDB    = "outcomes.db"
	TrialsDir     = "trials"
	TrialResult   = "result.json"
	TrialErrorLog = "error.txt"
)

// Options adjust a run loaded from a config file. Zero values keep the
// configured behavior.
type Options struct {
	Name    string
	RunsDir string
	Workers int
	// Seeds replaces the configured seed source.
	Seeds []int64
	// SkipHealthCheck dispatches without probing the model server first.
	SkipHealthCheck bool
	// Provider replaces the configured simulator backend.
	Provider simulator.Provider
	// NewRunner replaces the episode runner.
	NewRunner RunnerFactory
	// Stdout receives the report table. nil discards it.
	Stdout io.Writer
	Logger *slog.Logger
}

// Result describes a finished run.
type Result struct {
	RunID  string
	Dir    string
	Report models.AggregateReport
	Stats  RunStats
}

// ExitCode is 1 when the run was cancelled or any trial failed for an
// infrastructure reason, 0 otherwise.
func (r *Result) ExitCode() int {
	if r.Report.Cancelled || r.Report.Totals.ErrorsAsFailures > 0 {
		return 1
	}
	return 0
}

// RunFromConfig loads a run config file and evaluates every scheduled
// trial. Configuration errors and a failed health check are returned
// before anything is dispatched.
func RunFromConfig(ctx context.Context, configPath string, opts Options) (*Result, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	cfg, err := config.LoadRunConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("loading run config: %w", err)
	}
	applyOptions(&cfg, opts)
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}

	refs := cfg.Benchmarks
	if registry.NeedsResolve(refs) {
		resolver, err := registry.NewResolver("", logger)
		if err != nil {
			return nil, err
		}
		refs, err = resolver.Resolve(ctx, refs)
		if err != nil {
			return nil, fmt.Errorf("resolving benchmarks: %w", err)
		}
	}

	suites, err := suite.NewLoader().LoadAll(ctx, refs)
	if err != nil {
		return nil, models.NewError(models.ErrConfiguration, "loading benchmarks", err)
	}

	seeds, err := scheduler.ResolveSeeds(cfg.Seeds, filepath.Dir(configPath))
	if err != nil {
		return nil, err
	}

	sched, err := scheduler.New(scheduler.ConfigFromSuites(suites, seeds, cfg.ObjectsPerTrial))
	if err != nil {
		return nil, err
	}

	provider := opts.Provider
	if provider == nil {
		provider, err = simulator.NewProvider(cfg.Simulator)
		if err != nil {
			return nil, models.NewError(models.ErrConfiguration, "creating simulator", err)
		}
	}

	if !opts.SkipHealthCheck {
		if err := healthGate(ctx, cfg.Server, logger); err != nil {
			return nil, err
		}
	}

	runName := time.Now().Format("2006-01-02__15-04-05")
	if cfg.Name != nil && *cfg.Name != "" {
		runName = *cfg.Name
	}
	runDir := filepath.Join(cfg.RunsDir, runName)

	if _, err := os.Stat(runDir); err == nil {
		return nil, fmt.Errorf("run directory already exists: %s (will not overwrite existing results)", runDir)
	}
	if err := os.MkdirAll(runDir, 0755); err != nil {
		return nil, fmt.Errorf("creating run directory: %w", err)
	}

	cfgJSON, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding run config: %w", err)
	}
	if err := os.WriteFile(filepath.Join(runDir, ConfigFile), cfgJSON, 0644); err != nil {
		return nil, fmt.Errorf("writing run config: %w", err)
	}
	if err := scheduler.SaveSeedList(filepath.Join(runDir, scheduler.SeedListFile), seeds); err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	startedAt := time.Now()
	logger = logger.With("run_id", runID)

	st, err := store.New(cfg.Store, filepath.Join(runDir, OutcomesDB))
	if err != nil {
		return nil, fmt.Errorf("creating outcome store: %w", err)
	}
	if err := st.Init(ctx); err != nil {
		return nil, fmt.Errorf("initializing outcome store: %w", err)
	}
	defer st.Close()

	if err := st.SaveRun(ctx, store.Run{ID: runID, Name: runName, StartedAt: startedAt, Config: cfgJSON}); err != nil {
		return nil, fmt.Errorf("saving run: %w", err)
	}

	newRunner := opts.NewRunner
	if newRunner == nil {
		client := modelserver.NewClient(modelserver.ClientConfigFromServer(cfg.Server), logger)
		newRunner = func(workerID int) TrialRunner {
			return episode.NewRunner(client, cfg.Episode, logger.With("worker", workerID))
		}
	}

	agg := aggregate.New(runID, objectIDs(suites), taskIDs(suites))
	for _, s := range suites {
		agg.RegisterSuites(s.Name)
	}

	logger.Info("starting run",
		"name", runName,
		"dir", runDir,
		"trials", sched.Len(),
		"workers", cfg.Workers,
		"simulator", provider.Name(),
	)

	// Outcomes are persisted even after ctx is cancelled.
	persistCtx := context.WithoutCancel(ctx)
	var persistErr error
	sink := func(o models.TrialOutcome) {
		agg.Add(o)
		err := persistOutcome(persistCtx, st, runID, runDir, o)
		if err != nil {
			logger.Error("persisting outcome", "trial_id", o.Spec.ID, "error", err)
			if persistErr == nil {
				persistErr = err
			}
		}
	}

	coordinator := NewCoordinator(cfg.Workers, provider, newRunner, logger)
	stats := coordinator.Run(ctx, sched.Trials(), sink)

	cancelled := ctx.Err() != nil
	agg.Finalize(stats.Dispatched, sched.Len()-stats.Dispatched, cancelled)
	report := agg.Report()

	if err := writeReports(runDir, report); err != nil {
		return nil, err
	}
	if opts.Stdout != nil {
		if err := aggregate.WriteTable(opts.Stdout, report); err != nil {
			return nil, fmt.Errorf("printing report: %w", err)
		}
	}

	logger.Info("run finished",
		"dispatched", stats.Dispatched,
		"completed", stats.Completed,
		"synthesized", stats.Synthesized,
		"duplicates", stats.Duplicates,
		"cancelled", cancelled,
		"duration", time.Since(startedAt).Round(time.Millisecond),
	)

	result := &Result{RunID: runID, Dir: runDir, Report: report, Stats: stats}
	if persistErr != nil {
		return result, fmt.Errorf("persisting outcomes: %w", persistErr)
	}
	return result, nil
}

func applyOptions(cfg *models.RunConfig, opts Options) {
	if opts.Name != "" {
		cfg.Name = &opts.Name
	}
	if opts.RunsDir != "" {
		cfg.RunsDir = opts.RunsDir
	}
	if opts.Workers > 0 {
		cfg.Workers = opts.Workers
	}
	if len(opts.Seeds) > 0 {
		cfg.Seeds = models.SeedConfig{List: opts.Seeds}
	}
}

func healthGate(ctx context.Context, srv models.ServerConfig, logger *slog.Logger) error {
	endpoint := modelserver.EndpointFromConfig(srv)
	timeout := time.Duration(srv.TimeoutSec * float64(time.Second))
	interval := time.Duration(srv.HealthIntervalMs) * time.Millisecond

	r := modelserver.WaitReady(ctx, endpoint, timeout, srv.HealthAttempts, interval)
	if !r.Ready {
		logger.Error("model server not ready", "endpoint", endpoint, "reason", r.Reason, "detail", r.Detail)
		return models.Errorf(models.ErrConnectivity, "checking model server",
			"%s is not ready: %s: %s", endpoint, r.Reason, r.Detail)
	}
	logger.Info("model server ready", "endpoint", endpoint, "model", r.Model, "latency", r.Latency)
	return nil
}

func persistOutcome(ctx context.Context, st store.Store, runID, runDir string, o models.TrialOutcome) error {
	if _, err := st.SaveOutcome(ctx, runID, o); err != nil {
		return err
	}

	trialDir := filepath.Join(runDir, TrialsDir, o.Spec.ID)
	if err := os.MkdirAll(trialDir, 0755); err != nil {
		return fmt.Errorf("creating trial directory: %w", err)
	}
	data, err := json.MarshalIndent(o, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding outcome: %w", err)
	}
	if err := os.WriteFile(filepath.Join(trialDir, TrialResult), data, 0644); err != nil {
		return fmt.Errorf("writing outcome: %w", err)
	}
	if o.FailureReason.IsError() && o.Message != "" {
		if err := os.WriteFile(filepath.Join(trialDir, TrialErrorLog), []byte(o.Message), 0644); err != nil {
			return fmt.Errorf("writing error log: %w", err)
		}
	}
	return nil
}

func writeReports(runDir string, report models.AggregateReport) error {
	writers := []struct {
		name  string
		write func(io.Writer, models.AggregateReport) error
	}{
		{ReportJSON, aggregate.WriteJSON},
		{ReportCSV, aggregate.WriteCSV},
	}
	for _, w := range writers {
		f, err := os.Create(filepath.Join(runDir, w.name))
		if err != nil {
			return fmt.Errorf("creating %s: %w", w.name, err)
		}
		if err := w.write(f, report); err != nil {
			f.Close()
			return fmt.Errorf("writing %s: %w", w.name, err)
		}
		if err := f.Close(); err != nil {
			return fmt.Errorf("closing %s: %w", w.name, err)
		}
	}
	return nil
}

func objectIDs(suites []models.Suite) []string {
	seen := make(map[string]bool)
	var ids []string
	for _, s := range suites {
		for _, id := range s.Pool.IDs() {
			if !seen[id] {
				seen[id] = true
				ids = append(ids, id)
			}
		}
	}
	slices.Sort(ids)
	return ids
}

func taskIDs(suites []models.Suite) []string {
	var ids []string
	for _, s := range suites {
		for _, t := range s.Tasks {
			ids = append(ids, t.ID())
		}
	}
	return ids
}
