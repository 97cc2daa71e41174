// Package history keeps a local SQLite log of cycle outcomes.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"viewcheck/cycle"
)

// Entry is one recorded cycle.
type Entry struct {
	RunID      string
	Tag        string
	AccountID  int64
	StartedAt  time.Time
	FinishedAt time.Time
	Passed     bool
	Attempts   int
	Converged  bool
	Error      string
	Report     cycle.Report
}

// Store is a cycle.Sink backed by a SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and ensures the schema.
// ":memory:" keeps everything in process.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open history %s: %w", path, err)
	}
	// one connection so ":memory:" is shared by every query
	db.SetMaxOpenConns(1)
	s := &Store{db: db}
	if err := s.createRunsTable(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) createRunsTable() error {
	query := `CREATE TABLE IF NOT EXISTS runs (
		run_id TEXT PRIMARY KEY,
		tag TEXT NOT NULL,
		account_id INTEGER NOT NULL,
		started_at DATETIME NOT NULL,
		finished_at DATETIME NOT NULL,
		passed INTEGER NOT NULL,
		attempts INTEGER NOT NULL,
		converged INTEGER NOT NULL,
		error TEXT,
		report TEXT NOT NULL
	)`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create runs table: %w", err)
	}
	return nil
}

func (s *Store) Close() error { return s.db.Close() }

// Deliver records rep, replacing an earlier row with the same run id.
func (s *Store) Deliver(ctx context.Context, rep cycle.Report) error {
	body, err := json.Marshal(rep)
	if err != nil {
		return fmt.Errorf("marshal report %s: %w", rep.RunID, err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO runs
		(run_id, tag, account_id, started_at, finished_at, passed, attempts, converged, error, report)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rep.RunID, rep.Tag, rep.AccountID, rep.StartedAt.UTC(), rep.FinishedAt.UTC(),
		rep.Passed(), rep.Settle.Attempts, rep.Settle.Converged, rep.Error, string(body))
	if err != nil {
		return fmt.Errorf("insert run %s: %w", rep.RunID, err)
	}
	return nil
}

// List returns the most recent entries first, at most limit of them.
func (s *Store) List(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, tag, account_id, started_at, finished_at, passed, attempts, converged, error, report
		FROM runs ORDER BY finished_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e      Entry
			errMsg sql.NullString
			body   string
		)
		if err := rows.Scan(&e.RunID, &e.Tag, &e.AccountID, &e.StartedAt, &e.FinishedAt,
			&e.Passed, &e.Attempts, &e.Converged, &errMsg, &body); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		e.Error = errMsg.String
		if err := json.Unmarshal([]byte(body), &e.Report); err != nil {
			return nil, fmt.Errorf("decode report %s: %w", e.RunID, err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Latest returns the most recent entry, or false when none is recorded.
func (s *Store) Latest(ctx context.Context) (Entry, bool, error) {
	list, err := s.List(ctx, 1)
	if err != nil || len(list) == 0 {
		return Entry{}, false, err
	}
	return list[0], true, nil
}
