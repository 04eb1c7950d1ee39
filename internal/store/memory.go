package store

import (
	"context"
	"sync"

	"github.com/spachava753/simeval/internal/models"
)

// MemoryStore keeps everything in process memory.
type MemoryStore struct {
	mu          sync.RWMutex
	initialized bool
	runs        map[string]Run
	outcomes    map[string][]models.TrialOutcome
	seen        map[string]map[string]bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Init(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.initialized = true
	s.runs = make(map[string]Run)
	s.outcomes = make(map[string][]models.TrialOutcome)
	s.seen = make(map[string]map[string]bool)
	return nil
}

func (s *MemoryStore) SaveRun(_ context.Context, run Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return ErrNotInitialized
	}
	s.runs[run.ID] = run
	return nil
}

func (s *MemoryStore) GetRun(_ context.Context, id string) (Run, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.initialized {
		return Run{}, false, ErrNotInitialized
	}
	run, ok := s.runs[id]
	return run, ok, nil
}

func (s *MemoryStore) SaveOutcome(_ context.Context, runID string, outcome models.TrialOutcome) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return false, ErrNotInitialized
	}
	seen := s.seen[runID]
	if seen == nil {
		seen = make(map[string]bool)
		s.seen[runID] = seen
	}
	if seen[outcome.Spec.ID] {
		return false, nil
	}
	seen[outcome.Spec.ID] = true
	s.outcomes[runID] = append(s.outcomes[runID], outcome)
	return true, nil
}

func (s *MemoryStore) ListOutcomes(_ context.Context, runID string) ([]models.TrialOutcome, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.initialized {
		return nil, ErrNotInitialized
	}
	return append([]models.TrialOutcome(nil), s.outcomes[runID]...), nil
}

func (s *MemoryStore) Close() error {
	return nil
}
