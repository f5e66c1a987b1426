// Package ledger keeps a SQLite history of staged runs and their stages, so
// that `xmd history` can answer which trials ran, when, and how far they got.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/alexisiddiqui/xMD-HOIP/experiment"
	"github.com/alexisiddiqui/xMD-HOIP/experiment/trace"
	"github.com/google/uuid"

	_ "modernc.org/sqlite"
)

const schemaVersion = 1

const schema = `
CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL);
CREATE TABLE IF NOT EXISTS runs (
	id         TEXT PRIMARY KEY,
	parent     TEXT NOT NULL,
	code       TEXT NOT NULL,
	trial      TEXT NOT NULL,
	replicate  INTEGER NOT NULL,
	state      TEXT NOT NULL,
	archive    TEXT NOT NULL DEFAULT '',
	error      TEXT NOT NULL DEFAULT '',
	started_at TEXT NOT NULL,
	finished_at TEXT
);
CREATE TABLE IF NOT EXISTS stages (
	run_id      TEXT NOT NULL REFERENCES runs(id),
	idx         INTEGER NOT NULL,
	config      TEXT NOT NULL,
	coordinates TEXT NOT NULL,
	archive     TEXT NOT NULL,
	started_at  TEXT NOT NULL,
	finished_at TEXT,
	completed   INTEGER NOT NULL,
	PRIMARY KEY (run_id, idx)
);
CREATE INDEX IF NOT EXISTS runs_code_trial ON runs(code, trial);
`

// Run is one row of the run history.
type Run struct {
	ID        string
	Parent    string
	Code      string
	Trial     string
	Replicate int
	State     string
	Archive   string
	Error     string
	Started   time.Time
	Finished  time.Time // zero while running
}

// Stage is one recorded stage of a run.
type Stage struct {
	RunID       string
	Index       int
	Config      string
	Coordinates string
	Archive     string
	Started     time.Time
	Finished    time.Time
	Completed   bool
}

// Filter narrows Runs. Empty fields match everything.
type Filter struct {
	Code  string
	Trial string
	Limit int // <= 0 = no limit
}

// Ledger is a SQLite-backed run history.
type Ledger struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens or creates the ledger at path, creating its parent directory.
func Open(path string) (*Ledger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create ledger dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	l := &Ledger{db: db, now: time.Now}
	if err := l.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return l, nil
}

// SetClock replaces the time source used for run start and finish times.
func (l *Ledger) SetClock(now func() time.Time) { l.now = now }

// Close closes the database.
func (l *Ledger) Close() error { return l.db.Close() }

func (l *Ledger) migrate() error {
	if _, err := l.db.Exec(schema); err != nil {
		return fmt.Errorf("create ledger schema: %w", err)
	}
	var v int
	err := l.db.QueryRow("SELECT version FROM schema_version LIMIT 1").Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		if _, err := l.db.Exec("INSERT INTO schema_version(version) VALUES(?)", schemaVersion); err != nil {
			return fmt.Errorf("set schema version: %w", err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if v != schemaVersion {
		return fmt.Errorf("unknown ledger schema version %d", v)
	}
	return nil
}

// StartRun inserts a running entry for id and returns its new run ID.
func (l *Ledger) StartRun(ctx context.Context, parent string, id experiment.Identity) (string, error) {
	runID := uuid.NewString()
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO runs(id, parent, code, trial, replicate, state, started_at) VALUES(?, ?, ?, ?, ?, ?, ?)`,
		runID, parent, id.Code, id.Trial, id.Replicate, string(experiment.StateInit), formatTime(l.now()))
	if err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}
	return runID, nil
}

// RecordTrace stores the stages of rt under runID, replacing earlier rows.
func (l *Ledger) RecordTrace(ctx context.Context, runID string, rt *trace.RunTrace) error {
	if rt == nil {
		return nil
	}
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	for _, st := range rt.Stages {
		_, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO stages(run_id, idx, config, coordinates, archive, started_at, finished_at, completed)
			 VALUES(?, ?, ?, ?, ?, ?, ?, ?)`,
			runID, st.Index, st.Config, st.Coordinates, st.Archive,
			formatTime(st.Started), nullTime(st.Finished), st.Completed)
		if err != nil {
			return fmt.Errorf("insert stage %d: %w", st.Index, err)
		}
	}
	if _, err := tx.ExecContext(ctx, `UPDATE runs SET state = ? WHERE id = ?`, rt.State, runID); err != nil {
		return fmt.Errorf("update run state: %w", err)
	}
	return tx.Commit()
}

// FinishRun records the final state of a run. runErr may be nil.
func (l *Ledger) FinishRun(ctx context.Context, runID string, state experiment.RunState, archive string, runErr error) error {
	msg := ""
	if runErr != nil {
		msg = runErr.Error()
	}
	res, err := l.db.ExecContext(ctx,
		`UPDATE runs SET state = ?, archive = ?, error = ?, finished_at = ? WHERE id = ?`,
		string(state), archive, msg, formatTime(l.now()), runID)
	if err != nil {
		return fmt.Errorf("update run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("run %s not in ledger", runID)
	}
	return nil
}

// Runs lists runs matching f, newest first.
func (l *Ledger) Runs(ctx context.Context, f Filter) ([]Run, error) {
	var where []string
	var args []any
	if f.Code != "" {
		where = append(where, "code = ?")
		args = append(args, f.Code)
	}
	if f.Trial != "" {
		where = append(where, "trial = ?")
		args = append(args, f.Trial)
	}
	q := `SELECT id, parent, code, trial, replicate, state, archive, error, started_at, finished_at FROM runs`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY started_at DESC, id"
	if f.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := l.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("select runs: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []Run
	for rows.Next() {
		var r Run
		var started string
		var finished sql.NullString
		if err := rows.Scan(&r.ID, &r.Parent, &r.Code, &r.Trial, &r.Replicate, &r.State, &r.Archive, &r.Error, &started, &finished); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if r.Started, err = parseTime(started); err != nil {
			return nil, err
		}
		if finished.Valid {
			if r.Finished, err = parseTime(finished.String); err != nil {
				return nil, err
			}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Stages lists the recorded stages of a run in index order.
func (l *Ledger) Stages(ctx context.Context, runID string) ([]Stage, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT run_id, idx, config, coordinates, archive, started_at, finished_at, completed
		 FROM stages WHERE run_id = ? ORDER BY idx`, runID)
	if err != nil {
		return nil, fmt.Errorf("select stages: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []Stage
	for rows.Next() {
		var s Stage
		var started string
		var finished sql.NullString
		if err := rows.Scan(&s.RunID, &s.Index, &s.Config, &s.Coordinates, &s.Archive, &started, &finished, &s.Completed); err != nil {
			return nil, fmt.Errorf("scan stage: %w", err)
		}
		if s.Started, err = parseTime(started); err != nil {
			return nil, err
		}
		if finished.Valid {
			if s.Finished, err = parseTime(finished.String); err != nil {
				return nil, err
			}
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// timeLayout is fixed-width so that TEXT ordering matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func nullTime(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(t), Valid: true}
}

// parseTime also accepts variable-width RFC3339 fractions.
func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse ledger time %q: %w", s, err)
	}
	return t, nil
}
