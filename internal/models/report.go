package models

import (
	"encoding/json"
	"math"
	"time"
)

// GroupStats is the success tally for one grouping key.
type GroupStats struct {
	Attempts  int     `json:"attempts"`
	Successes int     `json:"successes"`
	Rate      float64 `json:"rate"`
}

// MarshalJSON writes an undefined rate as null.
func (g GroupStats) MarshalJSON() ([]byte, error) {
	type wire struct {
		Attempts  int      `json:"attempts"`
		Successes int      `json:"successes"`
		Rate      *float64 `json:"rate"`
	}
	w := wire{Attempts: g.Attempts, Successes: g.Successes}
	if !math.IsNaN(g.Rate) {
		w.Rate = &g.Rate
	}
	return json.Marshal(w)
}

// Totals summarizes a whole run.
type Totals struct {
	Attempts         int     `json:"attempts"`
	Successes        int     `json:"successes"`
	Failures         int     `json:"failures"`
	ErrorsAsFailures int     `json:"errors_as_failures"`
	Rate             float64 `json:"rate"`
}

// AggregateReport holds success rates grouped by target object and by task.
type AggregateReport struct {
	RunID      string                `json:"run_id"`
	Totals     Totals                `json:"totals"`
	ByObject   map[string]GroupStats `json:"by_object"`
	ByTask     map[string]GroupStats `json:"by_task"`
	BySuite    map[string]GroupStats `json:"by_suite"`
	ByReason   map[FailureReason]int `json:"by_reason"`
	Dispatched int                   `json:"dispatched"`
	Skipped    int                   `json:"skipped"`
	Cancelled  bool                  `json:"cancelled"`
	StartedAt  time.Time             `json:"started_at"`
	EndedAt    time.Time             `json:"ended_at"`
}

// MarshalJSON writes an undefined total rate as null.
func (t Totals) MarshalJSON() ([]byte, error) {
	type plain Totals
	type wire struct {
		plain
		Rate *float64 `json:"rate"`
	}
	w := wire{plain: plain(t)}
	if !math.IsNaN(t.Rate) {
		w.Rate = &t.Rate
	}
	return json.Marshal(w)
}

// Rate divides successes by attempts, returning NaN for zero attempts.
func Rate(successes, attempts int) float64 {
	if attempts == 0 {
		return math.NaN()
	}
	return float64(successes) / float64(attempts)
}
