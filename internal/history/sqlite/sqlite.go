package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"tibbercal/internal/history"
)

// Fixed-width so that text ordering matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

type Store struct {
	db *sql.DB
}

func New(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlite: path is required")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Record(ctx context.Context, run history.Run) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_runs (
			id, started_at, finished_at, dry_run,
			samples, deleted, delete_failures, periods, created, create_failures,
			window_start, window_end, error
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			finished_at = excluded.finished_at,
			deleted = excluded.deleted,
			delete_failures = excluded.delete_failures,
			periods = excluded.periods,
			created = excluded.created,
			create_failures = excluded.create_failures,
			error = excluded.error
	`,
		run.ID,
		formatTime(run.StartedAt),
		formatTime(run.FinishedAt),
		run.DryRun,
		run.Samples,
		run.Deleted,
		run.DeleteFailures,
		run.Periods,
		run.Created,
		run.CreateFailures,
		formatTime(run.WindowStart),
		formatTime(run.WindowEnd),
		run.Error,
	)
	return err
}

func (s *Store) Recent(ctx context.Context, limit int) ([]history.Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, started_at, finished_at, dry_run,
			samples, deleted, delete_failures, periods, created, create_failures,
			window_start, window_end, error
		FROM sync_runs
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []history.Run
	for rows.Next() {
		var (
			run                                 history.Run
			started, finished, winStart, winEnd string
		)
		if err := rows.Scan(
			&run.ID, &started, &finished, &run.DryRun,
			&run.Samples, &run.Deleted, &run.DeleteFailures, &run.Periods, &run.Created, &run.CreateFailures,
			&winStart, &winEnd, &run.Error,
		); err != nil {
			return nil, err
		}
		run.StartedAt = parseTime(started)
		run.FinishedAt = parseTime(finished)
		run.WindowStart = parseTime(winStart)
		run.WindowEnd = parseTime(winEnd)
		out = append(out, run)
	}
	return out, rows.Err()
}

func (s *Store) migrate() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS sync_runs (
			id TEXT PRIMARY KEY,
			started_at TEXT NOT NULL,
			finished_at TEXT NOT NULL,
			dry_run INTEGER NOT NULL DEFAULT 0,
			samples INTEGER NOT NULL DEFAULT 0,
			deleted INTEGER NOT NULL DEFAULT 0,
			delete_failures INTEGER NOT NULL DEFAULT 0,
			periods INTEGER NOT NULL DEFAULT 0,
			created INTEGER NOT NULL DEFAULT 0,
			create_failures INTEGER NOT NULL DEFAULT 0,
			window_start TEXT NOT NULL DEFAULT '',
			window_end TEXT NOT NULL DEFAULT '',
			error TEXT NOT NULL DEFAULT ''
		);`,
		`CREATE INDEX IF NOT EXISTS sync_runs_started_at ON sync_runs (started_at);`,
	}

	for _, statement := range statements {
		if _, err := s.db.Exec(statement); err != nil {
			return err
		}
	}

	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
