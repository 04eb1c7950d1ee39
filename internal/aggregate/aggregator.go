// Package aggregate folds trial outcomes into success-rate statistics.
package aggregate

import (
	"time"

	"github.com/spachava753/simeval/internal/models"
)

type tally struct {
	attempts  int
	successes int
}

func (t *tally) add(success bool) {
	t.attempts++
	if success {
		t.successes++
	}
}

func (t tally) stats() models.GroupStats {
	return models.GroupStats{
		Attempts:  t.attempts,
		Successes: t.successes,
		Rate:      models.Rate(t.successes, t.attempts),
	}
}

// Aggregator accumulates outcomes for one run. It is owned by a single
// goroutine and is not safe for concurrent use.
type Aggregator struct {
	runID    string
	seen     map[string]bool
	total    tally
	errors   int
	byObject map[string]*tally
	byTask   map[string]*tally
	bySuite  map[string]*tally
	byReason map[models.FailureReason]int

	dispatched int
	skipped    int
	cancelled  bool
	startedAt  time.Time
	endedAt    time.Time
}

// New creates an aggregator. The listed objects and tasks appear in the
// report even if no outcome names them, with an undefined rate.
func New(runID string, objects, tasks []string) *Aggregator {
	a := &Aggregator{
		runID:    runID,
		seen:     make(map[string]bool),
		byObject: make(map[string]*tally),
		byTask:   make(map[string]*tally),
		bySuite:  make(map[string]*tally),
		byReason: make(map[models.FailureReason]int),
	}
	for _, o := range objects {
		a.byObject[o] = &tally{}
	}
	for _, t := range tasks {
		a.byTask[t] = &tally{}
	}
	for _, r := range models.FailureReasons {
		a.byReason[r] = 0
	}
	return a
}

// RegisterSuites pre-registers suite groups.
func (a *Aggregator) RegisterSuites(suites ...string) {
	for _, s := range suites {
		if _, ok := a.bySuite[s]; !ok {
			a.bySuite[s] = &tally{}
		}
	}
}

// Add records an outcome. It returns false, and records nothing, when an
// outcome with the same spec ID was already added.
func (a *Aggregator) Add(o models.TrialOutcome) bool {
	id := o.Spec.ID
	if id == "" {
		id = o.Spec.Fingerprint()
	}
	if a.seen[id] {
		return false
	}
	a.seen[id] = true

	a.total.add(o.Success)
	group(a.byObject, o.Spec.Target).add(o.Success)
	group(a.byTask, o.Spec.TaskID).add(o.Success)
	if o.Spec.Suite != "" {
		group(a.bySuite, o.Spec.Suite).add(o.Success)
	}
	if !o.Success {
		a.byReason[o.FailureReason]++
		if o.FailureReason.IsError() {
			a.errors++
		}
	}

	if !o.StartedAt.IsZero() && (a.startedAt.IsZero() || o.StartedAt.Before(a.startedAt)) {
		a.startedAt = o.StartedAt
	}
	if o.EndedAt.After(a.endedAt) {
		a.endedAt = o.EndedAt
	}
	return true
}

func group(m map[string]*tally, key string) *tally {
	t, ok := m[key]
	if !ok {
		t = &tally{}
		m[key] = t
	}
	return t
}

// Len returns the number of recorded outcomes.
func (a *Aggregator) Len() int {
	return a.total.attempts
}

// Finalize records how the run ended: how many specs were dispatched, how
// many were never dispatched, and whether the run was cancelled.
func (a *Aggregator) Finalize(dispatched, skipped int, cancelled bool) {
	a.dispatched = dispatched
	a.skipped = skipped
	a.cancelled = cancelled
}

// SetWindow overrides the run's time window.
func (a *Aggregator) SetWindow(start, end time.Time) {
	a.startedAt = start
	a.endedAt = end
}

// Report returns a snapshot. It can be called any number of times.
func (a *Aggregator) Report() models.AggregateReport {
	r := models.AggregateReport{
		RunID: a.runID,
		Totals: models.Totals{
			Attempts:         a.total.attempts,
			Successes:        a.total.successes,
			Failures:         a.total.attempts - a.total.successes,
			ErrorsAsFailures: a.errors,
			Rate:             models.Rate(a.total.successes, a.total.attempts),
		},
		ByObject:   snapshot(a.byObject),
		ByTask:     snapshot(a.byTask),
		BySuite:    snapshot(a.bySuite),
		ByReason:   make(map[models.FailureReason]int, len(a.byReason)),
		Dispatched: a.dispatched,
		Skipped:    a.skipped,
		Cancelled:  a.cancelled,
		StartedAt:  a.startedAt,
		EndedAt:    a.endedAt,
	}
	for k, v := range a.byReason {
		r.ByReason[k] = v
	}
	return r
}

func snapshot(m map[string]*tally) map[string]models.GroupStats {
	out := make(map[string]models.GroupStats, len(m))
	for k, t := range m {
		out[k] = t.stats()
	}
	return out
}

// FromOutcomes rebuilds a report from stored outcomes.
func FromOutcomes(runID string, outcomes []models.TrialOutcome) models.AggregateReport {
	a := New(runID, nil, nil)
	for _, o := range outcomes {
		a.Add(o)
	}
	a.Finalize(a.Len(), 0, a.byReason[models.FailureCancelled] > 0)
	return a.Report()
}
