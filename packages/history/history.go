// Package history persists scenario run outcomes to a SQLite database so
// past runs can be listed and compared.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/abdul-hamid-achik/chainspec/packages/core/runner"

	// SQLite driver
	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	file        TEXT NOT NULL,
	started_at  TIMESTAMP NOT NULL,
	passed      INTEGER NOT NULL,
	failed      INTEGER NOT NULL,
	skipped     INTEGER NOT NULL,
	duration_ms INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS stage_results (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id      INTEGER NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
	stage       TEXT NOT NULL,
	iteration   TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL,
	error       TEXT NOT NULL DEFAULT '',
	duration_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_file ON runs(file, started_at);
`

// Store is a run-history database.
type Store struct {
	db *sql.DB
}

// Open opens (and initializes) the history database at path, creating
// parent directories as needed.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("opening history database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connecting to history database: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initializing history schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordRun appends one scenario result with its stage rows.
func (s *Store) RecordRun(result *runner.ScenarioResult, started time.Time) (int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.Exec(
		`INSERT INTO runs (file, started_at, passed, failed, skipped, duration_ms) VALUES (?, ?, ?, ?, ?, ?)`,
		result.File, started.UTC(), result.Passed(), result.FailedCount(), result.SkippedCount(),
		result.Duration.Milliseconds(),
	)
	if err != nil {
		return 0, err
	}
	runID, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	stmt, err := tx.Prepare(
		`INSERT INTO stage_results (run_id, stage, iteration, status, error, duration_ms) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	for _, sr := range result.Stages {
		status := "passed"
		errText := ""
		switch {
		case sr.Skipped:
			status = "skipped"
		case sr.Err != nil:
			status = "failed"
			errText = sr.Err.Error()
		}
		if _, err := stmt.Exec(runID, sr.Stage, sr.Iteration, status, errText, sr.Duration.Milliseconds()); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return runID, nil
}

// Run is one recorded scenario execution.
type Run struct {
	ID        int64
	File      string
	StartedAt time.Time
	Passed    int
	Failed    int
	Skipped   int
	Duration  time.Duration
}

// RecentRuns returns the latest runs, newest first.
func (s *Store) RecentRuns(limit int) ([]Run, error) {
	if limit < 1 {
		limit = 20
	}
	rows, err := s.db.Query(
		`SELECT id, file, started_at, passed, failed, skipped, duration_ms
		 FROM runs ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var durationMs int64
		if err := rows.Scan(&r.ID, &r.File, &r.StartedAt, &r.Passed, &r.Failed, &r.Skipped, &durationMs); err != nil {
			return nil, err
		}
		r.Duration = time.Duration(durationMs) * time.Millisecond
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// StageRow is one recorded stage iteration.
type StageRow struct {
	Stage     string
	Iteration string
	Status    string
	Error     string
	Duration  time.Duration
}

// RunStages returns the stage rows of one run, in insertion order.
func (s *Store) RunStages(runID int64) ([]StageRow, error) {
	rows, err := s.db.Query(
		`SELECT stage, iteration, status, error, duration_ms
		 FROM stage_results WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []StageRow
	for rows.Next() {
		var sr StageRow
		var durationMs int64
		if err := rows.Scan(&sr.Stage, &sr.Iteration, &sr.Status, &sr.Error, &durationMs); err != nil {
			return nil, err
		}
		sr.Duration = time.Duration(durationMs) * time.Millisecond
		out = append(out, sr)
	}
	return out, rows.Err()
}
