package simulator

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spachava753/simeval/internal/codec"
	"github.com/spachava753/simeval/internal/models"
)

const helperModeEnv = "SIMEVAL_SIM_HELPER_MODE"

// TestMain lets the test binary double as the simulator process.
func TestMain(m *testing.M) {
	switch os.Getenv(helperModeEnv) {
	case "serve":
		if err := ServeStdio(context.Background(), NewKinematic(), os.Stdin, os.Stdout); err != nil {
			os.Exit(2)
		}
		os.Exit(0)
	case "crash":
		var req stdioRequest
		codec.NewDecoder(os.Stdin).Decode(&req)
		os.Exit(3)
	case "hang":
		time.Sleep(time.Hour)
		os.Exit(0)
	case "docker":
		os.Exit(fakeDocker(os.Args[1:]))
	}
	os.Exit(m.Run())
}

func helperProvider(t *testing.T, mode string) *ExecProvider {
	t.Helper()
	exe, err := os.Executable()
	require.NoError(t, err)
	return NewExecProvider(exe, nil, map[string]string{helperModeEnv: mode})
}

func TestExecInstanceMatchesKinematic(t *testing.T) {
	ctx := context.Background()

	inst, err := helperProvider(t, "serve").NewInstance(ctx, 0)
	require.NoError(t, err)
	defer inst.Close()

	spec := testSpec(5)
	got, err := inst.Reset(ctx, spec)
	require.NoError(t, err)
	want, err := NewKinematic().Reset(ctx, spec)
	require.NoError(t, err)
	assert.Equal(t, want.State, got.State)
	assert.Equal(t, want.Images[CameraFront].Pixels, got.Images[CameraFront].Pixels)

	res, err := inst.Step(ctx, pose(0.4, 0, 0.3, models.GripperOpen))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Observation.Step)

	_, err = inst.Step(ctx, models.ActionCommand{Pose: []float64{1}})
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.ErrSimulation))

	// a rejected step leaves the process usable
	res, err = inst.Step(ctx, pose(0.4, 0, 0.3, models.GripperOpen))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Observation.Step)

	require.NoError(t, inst.Close())
	require.NoError(t, inst.Close())
}

func TestExecInstanceProcessDeath(t *testing.T) {
	ctx := context.Background()

	inst, err := helperProvider(t, "crash").NewInstance(ctx, 1)
	require.NoError(t, err)

	_, err = inst.Reset(ctx, testSpec(1))
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.ErrSimulation))

	_, err = inst.Step(ctx, pose(0.3, 0, 0.3, 0))
	assert.True(t, models.IsKind(err, models.ErrSimulation))

	assert.NoError(t, inst.Close())
}

func TestExecProviderMissingCommand(t *testing.T) {
	_, err := NewExecProvider("/nonexistent/simulator", nil, nil).NewInstance(context.Background(), 0)
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.ErrSimulation))
}

func TestExecInstanceCloseKillsUnresponsiveProcess(t *testing.T) {
	inst, err := helperProvider(t, "hang").NewInstance(context.Background(), 0)
	require.NoError(t, err)
	ei := inst.(*ExecInstance)
	ei.closeGrace = 100 * time.Millisecond

	start := time.Now()
	err = ei.Close()
	require.Error(t, err)
	assert.True(t, models.IsKind(err, models.ErrSimulation))
	assert.Contains(t, err.Error(), "did not exit within 100ms")
	assert.Less(t, time.Since(start), 5*time.Second)
}
