// Package runstore keeps finished execution results in a local SQLite
// database.
package runstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/mj1618/portal-pilot/internal/agent"
	"github.com/mj1618/portal-pilot/internal/model"
)

// ErrNotFound is returned by Get for an unknown execution id.
var ErrNotFound = errors.New("run not found")

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id           TEXT PRIMARY KEY,
	goal         TEXT NOT NULL,
	tag          TEXT NOT NULL DEFAULT '',
	status       TEXT NOT NULL,
	output       TEXT NOT NULL DEFAULT '',
	error        TEXT NOT NULL DEFAULT '',
	steps        INTEGER NOT NULL DEFAULT 0,
	history      TEXT NOT NULL DEFAULT '[]',
	started_at   TEXT NOT NULL,
	completed_at TEXT
);
CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
`

// fixed width so started_at sorts lexically
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store is a SQLite-backed agent.ResultSink.
type Store struct {
	db *sql.DB
}

// New opens or creates the database at path.
func New(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// one writer at a time; the loop saves a single result per run
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveResult inserts r, replacing an earlier result with the same id.
func (s *Store) SaveResult(ctx context.Context, r agent.Result) error {
	history, err := json.Marshal(r.History)
	if err != nil {
		return err
	}
	var completed *string
	if r.CompletedAt != nil {
		c := r.CompletedAt.UTC().Format(timeLayout)
		completed = &c
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (id, goal, tag, status, output, error, steps, history, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			output = excluded.output,
			error = excluded.error,
			steps = excluded.steps,
			history = excluded.history,
			completed_at = excluded.completed_at
	`,
		r.ExecutionID,
		r.Goal,
		r.Tag,
		string(r.Status),
		r.Output,
		r.Error,
		r.Steps,
		string(history),
		r.StartedAt.UTC().Format(timeLayout),
		completed,
	)
	if err != nil {
		return fmt.Errorf("saving run %s: %w", r.ExecutionID, err)
	}
	return nil
}

const selectRun = `SELECT id, goal, tag, status, output, error, steps, history, started_at, completed_at FROM runs`

// Get returns the run with the given execution id.
func (s *Store) Get(ctx context.Context, id string) (agent.Result, error) {
	row := s.db.QueryRowContext(ctx, selectRun+` WHERE id = ?`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return agent.Result{}, ErrNotFound
	}
	return r, err
}

// Recent returns up to limit runs, newest first. History is omitted.
func (s *Store) Recent(ctx context.Context, limit int) ([]agent.Result, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, selectRun+` ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []agent.Result
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		r.History = nil
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (agent.Result, error) {
	var (
		r         agent.Result
		status    string
		history   string
		started   string
		completed sql.NullString
	)
	if err := sc.Scan(&r.ExecutionID, &r.Goal, &r.Tag, &status, &r.Output, &r.Error, &r.Steps, &history, &started, &completed); err != nil {
		return agent.Result{}, err
	}
	r.Status = model.RunStatus(status)
	if err := json.Unmarshal([]byte(history), &r.History); err != nil {
		return agent.Result{}, fmt.Errorf("decoding history of %s: %w", r.ExecutionID, err)
	}
	t, err := time.Parse(timeLayout, started)
	if err != nil {
		return agent.Result{}, err
	}
	r.StartedAt = t
	if completed.Valid {
		c, err := time.Parse(timeLayout, completed.String)
		if err != nil {
			return agent.Result{}, err
		}
		r.CompletedAt = &c
	}
	return r, nil
}
