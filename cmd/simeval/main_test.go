package main

import (
	"bytes"
	"context"
	"errors"
	"net"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spachava753/simeval/internal/codec"
	"github.com/spachava753/simeval/internal/models"
	"github.com/spachava753/simeval/internal/store"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestNewLogger(t *testing.T) {
	for _, level := range []string{"debug", "info", "WARN", "error"} {
		_, err := newLogger(level)
		assert.NoError(t, err, level)
	}
	_, err := newLogger("verbose")
	assert.Error(t, err)
}

func TestReportCommand(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "outcomes.db")

	st := store.NewSQLiteStore(path, codec.CompressionZstd)
	require.NoError(t, st.Init(ctx))
	require.NoError(t, st.SaveRun(ctx, store.Run{ID: "run-1", Name: "smoke", StartedAt: time.Now()}))
	for i, success := range []bool{true, false, true} {
		spec := models.TrialSpec{TaskID: "playground/pick", Seed: int64(i), Target: "cup"}.WithID()
		o := models.TrialOutcome{Spec: spec, Success: success}
		if !success {
			o.FailureReason = models.FailureTimeout
		}
		_, err := st.SaveOutcome(ctx, "run-1", o)
		require.NoError(t, err)
	}
	require.NoError(t, st.Close())

	out, err := execute(t, "report", "--store", "sqlite", "--path", path, "--run", "run-1", "--format", "table")
	require.NoError(t, err)
	assert.Contains(t, out, "total: 3 attempts, 2 successes, rate 0.667")
	assert.Contains(t, out, "cup")

	out, err = execute(t, "report", "--store", "sqlite", "--path", path, "--run", "run-1", "--format", "csv")
	require.NoError(t, err)
	assert.Contains(t, out, "group,key,attempts,successes,rate")

	_, err = execute(t, "report", "--store", "sqlite", "--path", path, "--run", "missing", "--format", "table")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestHealthCommandNotReady(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())

	out, err := execute(t, "health", "--host", "127.0.0.1", "--port", strconv.Itoa(port),
		"--timeout", "1s", "--attempts", "1", "--json=false")
	var exit *exitError
	require.True(t, errors.As(err, &exit))
	assert.Equal(t, 1, exit.code)
	assert.Contains(t, out, "not ready")
}
