package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/spachava753/simeval/internal/codec"
	"github.com/spachava753/simeval/internal/models"

	_ "modernc.org/sqlite"
)

// SQLiteStore persists to a single SQLite file through the pure-Go
// modernc.org/sqlite driver.
type SQLiteStore struct {
	path        string
	compression codec.Compression

	mu sync.RWMutex
	db *sql.DB
}

func NewSQLiteStore(path string, compression codec.Compression) *SQLiteStore {
	return &SQLiteStore{path: path, compression: compression}
}

func (s *SQLiteStore) Init(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		return errors.New("sqlite path is required")
	}
	if s.db != nil {
		return nil
	}

	db, err := sql.Open("sqlite", s.path)
	if err != nil {
		return err
	}
	// A single connection serializes writers and avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return err
	}

	if err := createTables(ctx, db); err != nil {
		_ = db.Close()
		return err
	}

	s.db = db
	return nil
}

func (s *SQLiteStore) SaveRun(ctx context.Context, run Run) error {
	db, err := s.getDB()
	if err != nil {
		return err
	}

	_, err = db.ExecContext(ctx, `
		INSERT INTO runs (id, name, started_at, config)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			started_at = excluded.started_at,
			config = excluded.config
	`, run.ID, run.Name, run.StartedAt.UTC().Format(time.RFC3339Nano), run.Config)
	return err
}

func (s *SQLiteStore) GetRun(ctx context.Context, id string) (Run, bool, error) {
	db, err := s.getDB()
	if err != nil {
		return Run{}, false, err
	}

	var run Run
	var started string
	err = db.QueryRowContext(ctx, `SELECT id, name, started_at, config FROM runs WHERE id = ?`, id).
		Scan(&run.ID, &run.Name, &started, &run.Config)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Run{}, false, nil
		}
		return Run{}, false, err
	}
	run.StartedAt, err = time.Parse(time.RFC3339Nano, started)
	if err != nil {
		return Run{}, false, fmt.Errorf("parse run %s start time: %w", id, err)
	}
	return run, true, nil
}

func (s *SQLiteStore) SaveOutcome(ctx context.Context, runID string, outcome models.TrialOutcome) (bool, error) {
	db, err := s.getDB()
	if err != nil {
		return false, err
	}

	payload, err := EncodeOutcome(outcome, s.compression)
	if err != nil {
		return false, err
	}

	res, err := db.ExecContext(ctx, `
		INSERT INTO outcomes (run_id, trial_id, task_id, target, success, failure_reason, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, trial_id) DO NOTHING
	`, runID, outcome.Spec.ID, outcome.Spec.TaskID, outcome.Spec.Target, outcome.Success, string(outcome.FailureReason), payload)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *SQLiteStore) ListOutcomes(ctx context.Context, runID string) ([]models.TrialOutcome, error) {
	db, err := s.getDB()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `SELECT trial_id, payload FROM outcomes WHERE run_id = ? ORDER BY seq`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var outcomes []models.TrialOutcome
	for rows.Next() {
		var id string
		var payload []byte
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, err
		}
		outcome, err := DecodeOutcome(payload)
		if err != nil {
			return nil, fmt.Errorf("decode outcome %s: %w", id, err)
		}
		outcomes = append(outcomes, outcome)
	}
	return outcomes, rows.Err()
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *SQLiteStore) getDB() (*sql.DB, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.db == nil {
		return nil, ErrNotInitialized
	}
	return s.db, nil
}

func createTables(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			started_at TEXT NOT NULL,
			config BLOB
		);
		CREATE TABLE IF NOT EXISTS outcomes (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			trial_id TEXT NOT NULL,
			task_id TEXT NOT NULL,
			target TEXT NOT NULL,
			success INTEGER NOT NULL,
			failure_reason TEXT NOT NULL,
			payload BLOB NOT NULL,
			UNIQUE (run_id, trial_id)
		);
	`)
	return err
}
