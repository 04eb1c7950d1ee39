package executor_test

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spachava753/simeval/internal/codec"
	"github.com/spachava753/simeval/internal/executor"
	"github.com/spachava753/simeval/internal/modelserver"
	"github.com/spachava753/simeval/internal/models"
	"github.com/spachava753/simeval/internal/scheduler"
	"github.com/spachava753/simeval/internal/store"
)

var testRunsDir = flag.String("test.runsdir", "", "directory to preserve test run outputs (default: temp dir)")

// getRunsDir returns the runs directory for tests.
// If -test.runsdir flag is set, uses that directory, otherwise creates a temp dir.
func getRunsDir(t *testing.T) string {
	if *testRunsDir != "" {
		absPath, err := filepath.Abs(*testRunsDir)
		require.NoError(t, err)
		require.NoError(t, os.MkdirAll(absPath, 0755))
		return absPath
	}
	return t.TempDir()
}

// writeConfig writes a run config for the playground suite and returns its
// path. The suite has two tasks, so each seed yields two trials.
func writeConfig(t *testing.T, port int, store string) string {
	t.Helper()
	suitePath, err := filepath.Abs("../../testdata/suites/playground")
	require.NoError(t, err)

	cfg := fmt.Sprintf(`workers: 2
objects_per_trial: 3
seeds:
  count: 2
server:
  host: 127.0.0.1
  port: %d
  timeout_sec: 1
  request_timeout_sec: 2
simulator:
  type: kinematic
benchmarks:
  - path: %s
store:
  type: %s
`, port, suitePath, store)

	path := filepath.Join(t.TempDir(), "run.yaml")
	require.NoError(t, os.WriteFile(path, []byte(cfg), 0644))
	return path
}

// startModelServer serves srv on a loopback port for the test's lifetime.
func startModelServer(t *testing.T, srv *modelserver.Server) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		srv.Serve(ctx, ln)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return ln.Addr().(*net.TCPAddr).Port
}

func closedPort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

type failingPolicy struct{}

func (failingPolicy) Act(ctx context.Context, req modelserver.Request) (models.ActionChunk, error) {
	return models.ActionChunk{}, fmt.Errorf("checkpoint not loaded")
}

func TestRunFromConfigEndToEnd(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	srv := modelserver.NewServer("scripted", nil)
	srv.HandleInfer(modelserver.NewScriptedPolicy())
	port := startModelServer(t, srv)

	runsDir := getRunsDir(t)
	result, err := executor.RunFromConfig(context.Background(), writeConfig(t, port, "sqlite"), executor.Options{
		Name:    "test-end-to-end",
		RunsDir: runsDir,
	})
	require.NoError(t, err)

	r := result.Report
	assert.Equal(t, 4, r.Totals.Attempts)
	assert.Equal(t, 0, r.Totals.ErrorsAsFailures)
	assert.Equal(t, 4, r.Dispatched)
	assert.Equal(t, 0, r.Skipped)
	assert.False(t, r.Cancelled)
	assert.Equal(t, 0, result.ExitCode())
	assert.Equal(t, 4, r.BySuite["playground"].Attempts)
	assert.Equal(t, 2, r.ByTask["playground/pick_fixed"].Attempts)
	assert.Equal(t, 2, r.ByTask["playground/pick_sampled"].Attempts)
	assert.GreaterOrEqual(t, r.ByObject["cup"].Attempts, 2)
	byObject := 0
	for _, g := range r.ByObject {
		byObject += g.Attempts
	}
	assert.Equal(t, 4, byObject)

	dir := filepath.Join(runsDir, "test-end-to-end")
	assert.Equal(t, dir, result.Dir)
	for _, name := range []string{executor.ConfigFile, scheduler.SeedListFile, executor.ReportJSON, executor.ReportCSV, executor.OutcomesDB} {
		assert.FileExists(t, filepath.Join(dir, name))
	}

	seeds, err := scheduler.LoadSeedList(filepath.Join(dir, scheduler.SeedListFile))
	require.NoError(t, err)
	assert.Equal(t, []int64{0, 1}, seeds)

	var written models.AggregateReport
	data, err := os.ReadFile(filepath.Join(dir, executor.ReportJSON))
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &written))
	assert.Equal(t, result.RunID, written.RunID)
	assert.Equal(t, 4, written.Totals.Attempts)

	trials, err := os.ReadDir(filepath.Join(dir, executor.TrialsDir))
	require.NoError(t, err)
	assert.Len(t, trials, 4)

	st := store.NewSQLiteStore(filepath.Join(dir, executor.OutcomesDB), codec.CompressionNone)
	require.NoError(t, st.Init(context.Background()))
	defer st.Close()

	run, ok, err := st.GetRun(context.Background(), result.RunID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "test-end-to-end", run.Name)

	outcomes, err := st.ListOutcomes(context.Background(), result.RunID)
	require.NoError(t, err)
	assert.Len(t, outcomes, 4)
}

func TestRunFromConfigServerErrorsFailTrials(t *testing.T) {
	srv := modelserver.NewServer("broken", nil)
	srv.HandleInfer(failingPolicy{})
	port := startModelServer(t, srv)

	result, err := executor.RunFromConfig(context.Background(), writeConfig(t, port, "memory"), executor.Options{
		RunsDir: getRunsDir(t),
		Name:    "test-server-errors",
	})
	require.NoError(t, err)

	r := result.Report
	assert.Equal(t, 4, r.Totals.Attempts)
	assert.Equal(t, 0, r.Totals.Successes)
	assert.Equal(t, 4, r.Totals.ErrorsAsFailures)
	assert.Equal(t, 4, r.ByReason[models.FailureServerError])
	assert.Equal(t, 1, result.ExitCode())

	data, err := os.ReadDir(filepath.Join(result.Dir, executor.TrialsDir))
	require.NoError(t, err)
	require.Len(t, data, 4)
	msg, err := os.ReadFile(filepath.Join(result.Dir, executor.TrialsDir, data[0].Name(), executor.TrialErrorLog))
	require.NoError(t, err)
	assert.Contains(t, string(msg), "checkpoint not loaded")
}

func TestRunFromConfigHealthGate(t *testing.T) {
	runsDir := getRunsDir(t)

	_, err := executor.RunFromConfig(context.Background(), writeConfig(t, closedPort(t), "memory"), executor.Options{
		RunsDir: runsDir,
		Name:    "test-health-gate",
	})
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.ErrConnectivity), err.Error())
	assert.NoDirExists(t, filepath.Join(runsDir, "test-health-gate"))
}

func TestRunFromConfigRejectsInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.yaml")
	require.NoError(t, os.WriteFile(path, []byte("workers: 500\nbenchmarks:\n  - path: x\n"), 0644))

	_, err := executor.RunFromConfig(context.Background(), path, executor.Options{SkipHealthCheck: true})
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.ErrConfiguration), err.Error())
	assert.Contains(t, err.Error(), "workers")
}

func TestRunFromConfigSeedOverride(t *testing.T) {
	result, err := executor.RunFromConfig(context.Background(), writeConfig(t, closedPort(t), "memory"), executor.Options{
		RunsDir:         getRunsDir(t),
		Name:            "test-seed-override",
		Seeds:           []int64{7, 8, 9},
		Workers:         3,
		SkipHealthCheck: true,
		NewRunner:       factory(succeed),
	})
	require.NoError(t, err)

	assert.Equal(t, 6, result.Report.Totals.Attempts)
	assert.Equal(t, 6, result.Report.Totals.Successes)
	assert.Equal(t, 0, result.ExitCode())

	seeds, err := scheduler.LoadSeedList(filepath.Join(result.Dir, scheduler.SeedListFile))
	require.NoError(t, err)
	assert.Equal(t, []int64{7, 8, 9}, seeds)
}

func TestRunFromConfigCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := executor.RunFromConfig(ctx, writeConfig(t, closedPort(t), "memory"), executor.Options{
		RunsDir:         getRunsDir(t),
		Name:            "test-cancelled",
		SkipHealthCheck: true,
		NewRunner:       factory(succeed),
	})
	require.NoError(t, err)

	assert.True(t, result.Report.Cancelled)
	assert.Equal(t, 0, result.Report.Dispatched)
	assert.Equal(t, 4, result.Report.Skipped)
	assert.Equal(t, 1, result.ExitCode())
	assert.FileExists(t, filepath.Join(result.Dir, executor.ReportJSON))
}

func TestRunDirectoryOverwriteProtection(t *testing.T) {
	path := writeConfig(t, closedPort(t), "memory")
	opts := executor.Options{
		RunsDir:         getRunsDir(t),
		Name:            "test-overwrite-protection",
		SkipHealthCheck: true,
		NewRunner:       factory(succeed),
	}

	result, err := executor.RunFromConfig(context.Background(), path, opts)
	require.NoError(t, err)
	assert.Equal(t, 4, result.Report.Totals.Attempts)

	result2, err := executor.RunFromConfig(context.Background(), path, opts)
	require.Error(t, err)
	assert.Nil(t, result2)
	assert.Contains(t, err.Error(), "already exists")
}
