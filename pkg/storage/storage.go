// Package storage keeps a local ledger of batch runs in sqlite. The
// ledger is bookkeeping for humans (the runs/stats commands); sync
// decisions never consult it.
package storage

import (
	"context"
	"database/sql"
	"time"

	_ "modernc.org/sqlite"

	"github.com/boxsync/boxsync/pkg/batch"
)

type DB struct {
	sql *sql.DB
}

func Open(path string) (*DB, error) {
	dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	// Ensure schema exists for convenience.
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS runs (
  id            INTEGER PRIMARY KEY,
  started_at    DATETIME NOT NULL,
  finished_at   DATETIME NOT NULL,
  total_targets INTEGER NOT NULL,
  failed        INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS run_targets (
  id        INTEGER PRIMARY KEY,
  run_id    INTEGER NOT NULL REFERENCES runs(id),
  gender    TEXT NOT NULL,
  division  TEXT NOT NULL,
  game_date TEXT NOT NULL,
  outcome   TEXT NOT NULL,
  rows      INTEGER NOT NULL DEFAULT 0,
  error     TEXT
);
CREATE INDEX IF NOT EXISTS idx_run_targets_run ON run_targets(run_id);
CREATE INDEX IF NOT EXISTS idx_run_targets_date ON run_targets(game_date);
    `); err != nil {
		return nil, err
	}
	return &DB{sql: db}, nil
}

func (d *DB) Close() error {
	if d == nil || d.sql == nil {
		return nil
	}
	return d.sql.Close()
}

// Run is one ledger row from the runs table.
type Run struct {
	ID           int64
	StartedAt    time.Time
	FinishedAt   time.Time
	TotalTargets int
	Failed       int
}

// RunTarget is one per-target line of a recorded run.
type RunTarget struct {
	RunID    int64
	Gender   string
	Division string
	GameDate string
	Outcome  string
	Rows     int
	Error    string
}

// RecordRun persists a finished report and returns the run id.
func (d *DB) RecordRun(ctx context.Context, report *batch.Report) (int64, error) {
	tx, err := d.sql.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return 0, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx,
		"INSERT INTO runs (started_at, finished_at, total_targets, failed) VALUES (?, ?, ?, ?)",
		report.StartedAt.UTC(), report.FinishedAt.UTC(), len(report.Results), len(report.Failures()))
	if err != nil {
		return 0, err
	}
	runID, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	for _, r := range report.Results {
		var errText sql.NullString
		if r.Err != nil {
			errText = sql.NullString{String: r.Err.Error(), Valid: true}
		}
		if _, err = tx.ExecContext(ctx,
			"INSERT INTO run_targets (run_id, gender, division, game_date, outcome, rows, error) VALUES (?, ?, ?, ?, ?, ?, ?)",
			runID, string(r.Target.Gender), string(r.Target.Division), r.Target.Date.String(), r.Outcome.String(), r.Rows, errText); err != nil {
			return 0, err
		}
	}

	if err = tx.Commit(); err != nil {
		return 0, err
	}
	return runID, nil
}

// ListRuns returns the most recent runs, newest first.
func (d *DB) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := d.sql.QueryContext(ctx,
		"SELECT id, started_at, finished_at, total_targets, failed FROM runs ORDER BY id DESC LIMIT ?", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.StartedAt, &r.FinishedAt, &r.TotalTargets, &r.Failed); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// ListRunTargets returns the per-target lines of one run.
func (d *DB) ListRunTargets(ctx context.Context, runID int64) ([]RunTarget, error) {
	rows, err := d.sql.QueryContext(ctx,
		"SELECT run_id, gender, division, game_date, outcome, rows, error FROM run_targets WHERE run_id = ? ORDER BY id", runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var targets []RunTarget
	for rows.Next() {
		var t RunTarget
		var errText sql.NullString
		if err := rows.Scan(&t.RunID, &t.Gender, &t.Division, &t.GameDate, &t.Outcome, &t.Rows, &errText); err != nil {
			return nil, err
		}
		t.Error = errText.String
		targets = append(targets, t)
	}
	return targets, rows.Err()
}
