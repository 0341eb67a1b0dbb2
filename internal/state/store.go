// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package state keeps the run catalogue: a SQLite index of every run
// under the runs directory with its phase, outcome and counts, plus a
// full-text index of extracted quotes across runs.
package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/pdiddy/academic-agent/internal/failure"
)

// DBFile is the catalogue file inside the runs directory.
const DBFile = "index.db"

// Run statuses.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusHalted    = "halted"
	StatusCancelled = "cancelled"
)

// ErrNotFound is returned when a run id is not in the catalogue.
var ErrNotFound = errors.New("run not found")

// Run is one catalogue row.
type Run struct {
	ID         string     `json:"run_id"`
	Question   string     `json:"question"`
	Phase      int        `json:"phase"`
	PhaseName  string     `json:"phase_name"`
	Status     string     `json:"status"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Candidates int        `json:"candidates"`
	Sources    int        `json:"sources"`
	PDFs       int        `json:"pdfs"`
	Quotes     int        `json:"quotes"`
	Error      string     `json:"error,omitempty"`
}

// Store manages the catalogue database.
type Store struct {
	db  *sql.DB
	fts bool
}

// Open opens or creates runsDir/index.db and its schema.
func Open(runsDir string) (*Store, error) {
	if err := os.MkdirAll(runsDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating runs directory: %w", err)
	}
	dbPath := filepath.Join(runsDir, DBFile)
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, failure.New(failure.KindFatalConfig, "state.Open", err)
	}
	s := &Store{db: db}
	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	return s, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			question TEXT NOT NULL,
			phase INTEGER NOT NULL DEFAULT 0,
			phase_name TEXT,
			status TEXT NOT NULL,
			started_at TEXT NOT NULL,
			finished_at TEXT,
			candidates INTEGER NOT NULL DEFAULT 0,
			sources INTEGER NOT NULL DEFAULT 0,
			pdfs INTEGER NOT NULL DEFAULT 0,
			quotes INTEGER NOT NULL DEFAULT 0,
			error TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at)`,
		`CREATE TABLE IF NOT EXISTS quotes (
			rowid INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL REFERENCES runs(run_id) ON DELETE CASCADE,
			quote_id TEXT NOT NULL,
			source_id TEXT,
			text TEXT NOT NULL,
			page TEXT,
			filename TEXT,
			UNIQUE(run_id, quote_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_quotes_run ON quotes(run_id)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}

	var ftsExists int
	if err := s.db.QueryRow(
		`SELECT count(*) FROM sqlite_master WHERE type='table' AND name='quotes_fts'`,
	).Scan(&ftsExists); err != nil {
		return fmt.Errorf("checking FTS table: %w", err)
	}
	if ftsExists == 1 {
		s.fts = true
		return nil
	}

	// Full-text search needs SQLite built with FTS5 (-tags sqlite_fts5).
	// Without it quote search falls back to LIKE.
	ftsStatements := []string{
		`CREATE VIRTUAL TABLE quotes_fts USING fts5(text, content=quotes, content_rowid=rowid)`,
		`CREATE TRIGGER quotes_ai AFTER INSERT ON quotes BEGIN
			INSERT INTO quotes_fts(rowid, text) VALUES (new.rowid, new.text);
		END`,
		`CREATE TRIGGER quotes_ad AFTER DELETE ON quotes BEGIN
			INSERT INTO quotes_fts(quotes_fts, rowid, text) VALUES('delete', old.rowid, old.text);
		END`,
	}
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	for _, stmt := range ftsStatements {
		if _, err := tx.Exec(stmt); err != nil {
			tx.Rollback()
			return nil
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("creating FTS infrastructure: %w", err)
	}
	s.fts = true
	return nil
}

// Save inserts run or updates the row with the same id.
func (s *Store) Save(ctx context.Context, run Run) error {
	if run.ID == "" {
		return fmt.Errorf("saving run: empty run id")
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	var finished sql.NullString
	if run.FinishedAt != nil {
		finished = sql.NullString{String: run.FinishedAt.UTC().Format(time.RFC3339Nano), Valid: true}
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (run_id, question, phase, phase_name, status, started_at, finished_at,
			candidates, sources, pdfs, quotes, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			question = excluded.question,
			phase = excluded.phase,
			phase_name = excluded.phase_name,
			status = excluded.status,
			finished_at = excluded.finished_at,
			candidates = excluded.candidates,
			sources = excluded.sources,
			pdfs = excluded.pdfs,
			quotes = excluded.quotes,
			error = excluded.error`,
		run.ID, run.Question, run.Phase, run.PhaseName, run.Status,
		run.StartedAt.UTC().Format(time.RFC3339Nano), finished,
		run.Candidates, run.Sources, run.PDFs, run.Quotes, run.Error,
	)
	if err != nil {
		return fmt.Errorf("saving run %s: %w", run.ID, err)
	}
	return nil
}

const runColumns = `run_id, question, phase, phase_name, status, started_at, finished_at,
	candidates, sources, pdfs, quotes, error`

// Get returns the run with the given id or ErrNotFound.
func (s *Store) Get(ctx context.Context, runID string) (Run, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE run_id = ?`, runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, fmt.Errorf("%w: %s", ErrNotFound, runID)
	}
	return run, err
}

// ListOptions filters List.
type ListOptions struct {
	// Status keeps only runs in this status when set.
	Status string

	// Limit caps the result count; zero means no cap.
	Limit int
}

// List returns runs, newest first.
func (s *Store) List(ctx context.Context, opts ListOptions) ([]Run, error) {
	query := `SELECT ` + runColumns + ` FROM runs`
	var args []any
	if opts.Status != "" {
		query += ` WHERE status = ?`
		args = append(args, opts.Status)
	}
	query += ` ORDER BY started_at DESC, run_id DESC`
	if opts.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, opts.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (Run, error) {
	var (
		run       Run
		phaseName sql.NullString
		started   string
		finished  sql.NullString
		runErr    sql.NullString
	)
	if err := sc.Scan(&run.ID, &run.Question, &run.Phase, &phaseName, &run.Status, &started, &finished,
		&run.Candidates, &run.Sources, &run.PDFs, &run.Quotes, &runErr); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Run{}, err
		}
		return Run{}, fmt.Errorf("scanning run: %w", err)
	}
	run.PhaseName = phaseName.String
	run.Error = runErr.String
	t, err := time.Parse(time.RFC3339Nano, started)
	if err != nil {
		return Run{}, fmt.Errorf("run %s: bad started_at %q: %w", run.ID, started, err)
	}
	run.StartedAt = t
	if finished.Valid {
		t, err := time.Parse(time.RFC3339Nano, finished.String)
		if err != nil {
			return Run{}, fmt.Errorf("run %s: bad finished_at %q: %w", run.ID, finished.String, err)
		}
		run.FinishedAt = &t
	}
	return run, nil
}
