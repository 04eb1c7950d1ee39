// Package store persists runs and their trial outcomes.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/spachava753/simeval/internal/models"
)

// ErrNotInitialized is returned by stores used before Init.
var ErrNotInitialized = errors.New("store is not initialized")

// Run is the stored header of an evaluation run.
type Run struct {
	ID        string    `cbor:"id"`
	Name      string    `cbor:"name"`
	StartedAt time.Time `cbor:"started_at"`
	// Config is the resolved run configuration as JSON.
	Config []byte `cbor:"config,omitempty"`
}

// Store records outcomes. An outcome is unique per (run ID, trial ID);
// saving it twice keeps the first.
type Store interface {
	Init(ctx context.Context) error
	SaveRun(ctx context.Context, run Run) error
	GetRun(ctx context.Context, id string) (Run, bool, error)
	// SaveOutcome reports whether the outcome was inserted.
	SaveOutcome(ctx context.Context, runID string, outcome models.TrialOutcome) (bool, error)
	// ListOutcomes returns outcomes in insertion order.
	ListOutcomes(ctx context.Context, runID string) ([]models.TrialOutcome, error)
	Close() error
}
