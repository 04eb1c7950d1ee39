package aggregate

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spachava753/simeval/internal/models"
)

func outcome(task, target string, seed int64, success bool, reason models.FailureReason) models.TrialOutcome {
	spec := models.TrialSpec{
		Suite:   "playground",
		TaskID:  task,
		Seed:    seed,
		Objects: []string{target, "bowl"},
		Target:  target,
	}.WithID()
	if success {
		return models.TrialOutcome{Spec: spec, Success: true, StepCount: 20}
	}
	return models.Failed(spec, reason, string(reason))
}

func TestObjectSuccessRate(t *testing.T) {
	a := New("run-1", []string{"cup", "sponge"}, []string{"playground/pick"})

	assert.True(t, a.Add(outcome("playground/pick", "cup", 0, true, "")))
	assert.True(t, a.Add(outcome("playground/pick", "cup", 1, false, models.FailureTimeout)))
	assert.True(t, a.Add(outcome("playground/pick", "cup", 2, true, "")))

	r := a.Report()
	cup := r.ByObject["cup"]
	assert.Equal(t, 3, cup.Attempts)
	assert.Equal(t, 2, cup.Successes)
	assert.InDelta(t, 0.667, cup.Rate, 0.001)

	assert.Equal(t, 0, r.ByObject["sponge"].Attempts)
	assert.True(t, math.IsNaN(r.ByObject["sponge"].Rate))

	assert.Equal(t, 3, r.ByTask["playground/pick"].Attempts)
	assert.Equal(t, 3, r.BySuite["playground"].Attempts)
	assert.Equal(t, 1, r.ByReason[models.FailureTimeout])
	assert.Equal(t, 0, r.Totals.ErrorsAsFailures)
}

func TestAddRejectsDuplicates(t *testing.T) {
	a := New("run-1", nil, nil)
	o := outcome("playground/pick", "cup", 0, true, "")

	assert.True(t, a.Add(o))
	assert.False(t, a.Add(o))

	o.Success = false
	o.FailureReason = models.FailureWorkerCrash
	assert.False(t, a.Add(o))

	r := a.Report()
	assert.Equal(t, 1, r.Totals.Attempts)
	assert.Equal(t, 1, r.Totals.Successes)
}

func TestErrorsCountedAsFailures(t *testing.T) {
	a := New("run-1", nil, nil)
	a.Add(outcome("t", "cup", 0, false, models.FailureServerError))
	a.Add(outcome("t", "cup", 1, false, models.FailureWorkerCrash))
	a.Add(outcome("t", "cup", 2, false, models.FailurePhysicalFailure))
	a.Add(outcome("t", "cup", 3, false, models.FailureCancelled))
	a.Add(outcome("t", "cup", 4, true, ""))

	r := a.Report()
	assert.Equal(t, 5, r.Totals.Attempts)
	assert.Equal(t, 4, r.Totals.Failures)
	assert.Equal(t, 3, r.Totals.ErrorsAsFailures)
	assert.InDelta(t, 0.2, r.Totals.Rate, 1e-9)
}

func TestReportIsSnapshot(t *testing.T) {
	a := New("run-1", []string{"cup"}, nil)
	before := a.Report()
	a.Add(outcome("t", "cup", 0, true, ""))
	a.Finalize(1, 2, true)
	after := a.Report()

	assert.Equal(t, 0, before.ByObject["cup"].Attempts)
	assert.Equal(t, 1, after.ByObject["cup"].Attempts)
	assert.Equal(t, 1, after.Dispatched)
	assert.Equal(t, 2, after.Skipped)
	assert.True(t, after.Cancelled)
}

func TestTimeWindow(t *testing.T) {
	a := New("run-1", nil, nil)
	t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	o := outcome("t", "cup", 0, true, "")
	o.StartedAt, o.EndedAt = t0.Add(time.Second), t0.Add(3*time.Second)
	a.Add(o)
	o = outcome("t", "cup", 1, true, "")
	o.StartedAt, o.EndedAt = t0, t0.Add(2*time.Second)
	a.Add(o)

	r := a.Report()
	assert.Equal(t, t0, r.StartedAt)
	assert.Equal(t, t0.Add(3*time.Second), r.EndedAt)
}

func TestFromOutcomes(t *testing.T) {
	r := FromOutcomes("run-2", []models.TrialOutcome{
		outcome("t", "cup", 0, true, ""),
		outcome("t", "cup", 1, false, models.FailureCancelled),
	})
	assert.Equal(t, "run-2", r.RunID)
	assert.Equal(t, 2, r.Dispatched)
	assert.True(t, r.Cancelled)
	assert.InDelta(t, 0.5, r.ByObject["cup"].Rate, 1e-9)
}

func TestWriteJSONUsesNullForUndefinedRate(t *testing.T) {
	a := New("run-1", []string{"cup", "sponge"}, nil)
	a.Add(outcome("t", "cup", 0, true, ""))

	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, a.Report()))

	var decoded struct {
		Totals struct {
			Rate *float64 `json:"rate"`
		} `json:"totals"`
		ByObject map[string]struct {
			Attempts int      `json:"attempts"`
			Rate     *float64 `json:"rate"`
		} `json:"by_object"`
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	require.NotNil(t, decoded.ByObject["cup"].Rate)
	assert.Equal(t, 1.0, *decoded.ByObject["cup"].Rate)
	assert.Nil(t, decoded.ByObject["sponge"].Rate)
	require.NotNil(t, decoded.Totals.Rate)

	var empty bytes.Buffer
	require.NoError(t, WriteJSON(&empty, New("run-0", nil, nil).Report()))
	assert.Contains(t, empty.String(), `"rate": null`)
}

func TestWriteCSV(t *testing.T) {
	a := New("run-1", []string{"cup", "sponge"}, []string{"t"})
	a.Add(outcome("t", "cup", 0, true, ""))
	a.Add(outcome("t", "cup", 1, false, models.FailureTimeout))

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, a.Report()))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	assert.Equal(t, []string{"group", "key", "attempts", "successes", "rate"}, rows[0])
	assert.Contains(t, rows, []string{"total", "all", "2", "1", "0.500000"})
	assert.Contains(t, rows, []string{"object", "cup", "2", "1", "0.500000"})
	assert.Contains(t, rows, []string{"object", "sponge", "0", "0", ""})
	assert.Contains(t, rows, []string{"task", "t", "2", "1", "0.500000"})
}

func TestWriteTable(t *testing.T) {
	a := New("run-1", []string{"cup", "sponge"}, []string{"playground/pick"})
	a.Add(outcome("playground/pick", "cup", 0, true, ""))
	a.Add(outcome("playground/pick", "cup", 1, false, models.FailureServerError))
	a.Finalize(2, 3, true)

	var buf bytes.Buffer
	require.NoError(t, WriteTable(&buf, a.Report()))
	out := buf.String()

	for _, want := range []string{"cup", "sponge", "n/a", "0.500", "server_error", "playground/pick", "never dispatched"} {
		assert.Contains(t, out, want)
	}
	assert.True(t, strings.Contains(out, "errors counted as failures: 1"))
}

func TestFormatRate(t *testing.T) {
	assert.Equal(t, "n/a", FormatRate(math.NaN()))
	assert.Equal(t, "0.667", FormatRate(2.0/3.0))
}
