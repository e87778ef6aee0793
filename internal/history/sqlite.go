// Package history persists pipeline run outcomes so operators can answer
// "what did last night's run build, and what failed" without digging through
// CI logs.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Store records runs and their per-asset task outcomes in SQLite.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// RunRecord is one pipeline run.
type RunRecord struct {
	ID         string
	Stage      string
	Arch       string
	Status     string
	StartedAt  time.Time
	FinishedAt time.Time
	DurationMS int64
}

// TaskRecord is one asset build outcome within a run.
type TaskRecord struct {
	RunID      string
	Asset      string
	Status     string
	Error      string
	DurationMS int64
}

// NewStore opens (and initializes) a history database.
// Use ":memory:" for an in-memory database, or a file path for persistence.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	s := &Store{db: db}
	if err := s.initialize(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *Store) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		stage TEXT NOT NULL,
		arch TEXT NOT NULL,
		status TEXT NOT NULL,
		started_at INTEGER NOT NULL,
		finished_at INTEGER,
		duration_ms INTEGER
	);
	CREATE TABLE IF NOT EXISTS tasks (
		run_id TEXT NOT NULL REFERENCES runs(id),
		asset TEXT NOT NULL,
		status TEXT NOT NULL,
		error TEXT,
		duration_ms INTEGER NOT NULL,
		PRIMARY KEY (run_id, asset)
	);
	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// RunStarted records a new run in "running" state.
func (s *Store) RunStarted(ctx context.Context, id, stage, arch string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO runs (id, stage, arch, status, started_at) VALUES (?, ?, ?, 'running', ?)",
		id, stage, arch, time.Now().Unix())
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// RunFinished marks a run terminal with its final status.
func (s *Store) RunFinished(ctx context.Context, id, status string, duration time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		"UPDATE runs SET status = ?, finished_at = ?, duration_ms = ? WHERE id = ?",
		status, time.Now().Unix(), duration.Milliseconds(), id)
	if err != nil {
		return fmt.Errorf("finish run: %w", err)
	}
	return nil
}

// TaskFinished records one asset's terminal task outcome. Recording the same
// (run, asset) pair again overwrites, keeping the call idempotent.
func (s *Store) TaskFinished(ctx context.Context, runID, asset, status, errMsg string, duration time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tasks (run_id, asset, status, error, duration_ms) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(run_id, asset) DO UPDATE SET status=excluded.status, error=excluded.error, duration_ms=excluded.duration_ms`,
		runID, asset, status, errMsg, duration.Milliseconds())
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// Run fetches one run by ID.
func (s *Store) Run(ctx context.Context, id string) (RunRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row := s.db.QueryRowContext(ctx,
		"SELECT id, stage, arch, status, started_at, COALESCE(finished_at, 0), COALESCE(duration_ms, 0) FROM runs WHERE id = ?", id)
	return scanRun(row)
}

// RecentRuns returns up to limit runs, newest first.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, stage, arch, status, started_at, COALESCE(finished_at, 0), COALESCE(duration_ms, 0) FROM runs ORDER BY started_at DESC, id DESC LIMIT ?", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []RunRecord
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Tasks returns every task outcome of a run, ordered by asset name.
func (s *Store) Tasks(ctx context.Context, runID string) ([]TaskRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rows, err := s.db.QueryContext(ctx,
		"SELECT run_id, asset, status, COALESCE(error, ''), duration_ms FROM tasks WHERE run_id = ? ORDER BY asset", runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TaskRecord
	for rows.Next() {
		var t TaskRecord
		if err := rows.Scan(&t.RunID, &t.Asset, &t.Status, &t.Error, &t.DurationMS); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (RunRecord, error) {
	var r RunRecord
	var started, finished int64
	if err := row.Scan(&r.ID, &r.Stage, &r.Arch, &r.Status, &started, &finished, &r.DurationMS); err != nil {
		return RunRecord{}, err
	}
	r.StartedAt = time.Unix(started, 0)
	if finished > 0 {
		r.FinishedAt = time.Unix(finished, 0)
	}
	return r, nil
}
