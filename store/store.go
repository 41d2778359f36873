// Package store implements the persistence layer of the watcher engine on
// SQLite.  It owns the schema, all entity queries, and the transactional
// write paths (change detection, workflow step extraction, workflow
// completion) so that entity invariants are enforced in one place.
//
// The driver is modernc.org/sqlite (pure Go, no cgo).  The database is opened
// in WAL mode so scheduler reads never block executor writes, with
// foreign_keys on so deleting a watcher cascades to its cookies, snapshot
// and change logs.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/GabriWar/vigilant/model"
)

// Store wraps the SQLite handle.  Safe for concurrent use: database/sql
// pools connections, and WAL permits one writer alongside many readers.
type Store struct {
	db *sql.DB
}

// Open opens (and if necessary creates) the database at path and ensures the
// schema exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("store: open %q: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping %q: %w", path, err)
	}
	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the raw handle for ad-hoc queries (used by tests).
func (s *Store) DB() *sql.DB { return s.db }

const schema = `
CREATE TABLE IF NOT EXISTS watchers (
	id                  INTEGER PRIMARY KEY AUTOINCREMENT,
	name                TEXT    NOT NULL UNIQUE,
	url                 TEXT    NOT NULL,
	method              TEXT    NOT NULL DEFAULT 'GET',
	headers             TEXT    NOT NULL DEFAULT '[]',
	body                BLOB,
	execution_mode      TEXT    NOT NULL DEFAULT 'both',
	watch_interval      INTEGER NOT NULL DEFAULT 0,
	is_active           INTEGER NOT NULL DEFAULT 1,
	save_cookies        INTEGER NOT NULL DEFAULT 0,
	use_cookies         INTEGER NOT NULL DEFAULT 0,
	cookie_watcher_id   INTEGER REFERENCES watchers(id) ON DELETE SET NULL,
	comparison_mode     TEXT    NOT NULL DEFAULT 'hash',
	impersonate_browser INTEGER NOT NULL DEFAULT 0,
	solve_challenges    INTEGER NOT NULL DEFAULT 0,
	status              TEXT    NOT NULL DEFAULT 'pending',
	error_message       TEXT    NOT NULL DEFAULT '',
	check_count         INTEGER NOT NULL DEFAULT 0,
	change_count        INTEGER NOT NULL DEFAULT 0,
	last_checked_at     TEXT,
	last_changed_at     TEXT,
	created_at          TEXT    NOT NULL,
	updated_at          TEXT    NOT NULL
);

CREATE TABLE IF NOT EXISTS snapshots (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	watcher_id   INTEGER NOT NULL UNIQUE REFERENCES watchers(id) ON DELETE CASCADE,
	content      BLOB    NOT NULL,
	content_hash TEXT    NOT NULL,
	content_size INTEGER NOT NULL,
	content_type TEXT    NOT NULL DEFAULT '',
	updated_at   TEXT    NOT NULL
);

CREATE TABLE IF NOT EXISTS change_logs (
	id                 INTEGER PRIMARY KEY AUTOINCREMENT,
	watcher_id         INTEGER NOT NULL REFERENCES watchers(id) ON DELETE CASCADE,
	change_type        TEXT    NOT NULL,
	old_hash           TEXT    NOT NULL DEFAULT '',
	new_hash           TEXT    NOT NULL DEFAULT '',
	old_size           INTEGER,
	new_size           INTEGER,
	old_content        BLOB,
	new_content        BLOB,
	diff               BLOB,
	structural_summary TEXT    NOT NULL DEFAULT '',
	detected_at        TEXT    NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_change_logs_watcher_detected
	ON change_logs(watcher_id, detected_at);

CREATE TABLE IF NOT EXISTS cookies (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	watcher_id INTEGER NOT NULL REFERENCES watchers(id) ON DELETE CASCADE,
	name       TEXT    NOT NULL,
	value      TEXT    NOT NULL,
	domain     TEXT    NOT NULL DEFAULT '',
	path       TEXT    NOT NULL DEFAULT '',
	expires    TEXT
);
CREATE INDEX IF NOT EXISTS idx_cookies_watcher ON cookies(watcher_id);

CREATE TABLE IF NOT EXISTS workflows (
	id                    INTEGER PRIMARY KEY AUTOINCREMENT,
	name                  TEXT    NOT NULL UNIQUE,
	steps                 TEXT    NOT NULL DEFAULT '[]',
	schedule_enabled      INTEGER NOT NULL DEFAULT 0,
	schedule_interval     INTEGER NOT NULL DEFAULT 0,
	execution_count       INTEGER NOT NULL DEFAULT 0,
	success_count         INTEGER NOT NULL DEFAULT 0,
	failure_count         INTEGER NOT NULL DEFAULT 0,
	last_executed_at      TEXT,
	last_execution_status TEXT    NOT NULL DEFAULT '',
	last_execution_error  TEXT    NOT NULL DEFAULT '',
	created_at            TEXT    NOT NULL,
	updated_at            TEXT    NOT NULL
);

CREATE TABLE IF NOT EXISTS variables (
	id                INTEGER PRIMARY KEY AUTOINCREMENT,
	workflow_id       INTEGER NOT NULL REFERENCES workflows(id) ON DELETE CASCADE,
	name              TEXT    NOT NULL,
	source            TEXT    NOT NULL,
	extract_method    TEXT    NOT NULL,
	extract_pattern   TEXT    NOT NULL DEFAULT '',
	random_length     INTEGER NOT NULL DEFAULT 0,
	random_format     TEXT    NOT NULL DEFAULT '',
	static_value      TEXT    NOT NULL DEFAULT '',
	current_value     TEXT    NOT NULL DEFAULT '',
	last_extracted_at TEXT,
	UNIQUE(workflow_id, name)
);

CREATE TABLE IF NOT EXISTS workflow_executions (
	id                  INTEGER PRIMARY KEY AUTOINCREMENT,
	workflow_id         INTEGER NOT NULL REFERENCES workflows(id) ON DELETE CASCADE,
	status              TEXT    NOT NULL,
	started_at          TEXT    NOT NULL,
	completed_at        TEXT,
	duration_seconds    REAL    NOT NULL DEFAULT 0,
	steps_completed     INTEGER NOT NULL DEFAULT 0,
	steps_total         INTEGER NOT NULL DEFAULT 0,
	step_results        TEXT    NOT NULL DEFAULT '[]',
	variables_extracted TEXT    NOT NULL DEFAULT '{}',
	error_message       TEXT    NOT NULL DEFAULT '',
	error_step          INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_executions_workflow_started
	ON workflow_executions(workflow_id, started_at);
`

func (s *Store) initSchema() error {
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("store: init schema: %w", err)
	}
	return nil
}

// withTx runs fn inside a transaction, committing on nil and rolling back on
// error.  Every multi-row write path in this package goes through withTx so a
// mid-write failure leaves the database at the previous consistent state.
func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin: %w (%v)", model.ErrStorage, err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("store: rollback after %v: %w (%v)", err, model.ErrStorage, rbErr)
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w (%v)", model.ErrStorage, err)
	}
	return nil
}

// ── time helpers ──
//
// Timestamps are stored as RFC 3339 text in UTC, with a fixed-width
// nanosecond fraction: RFC3339Nano trims trailing zeros, which would break
// the lexicographic ordering SQL comparisons rely on ("...05Z" sorts after
// "...05.5Z").  SQLite's strftime functions understand this format, which
// the statistics bucketing relies on.

const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

func parseTimePtr(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t := parseTime(ns.String)
	return &t
}

// marshalJSON serialises embedded JSON columns (steps, step results,
// variable contexts).  A marshal failure here means a programming error, so
// it is surfaced rather than swallowed.
func marshalJSON(v interface{}) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("store: marshal: %w", err)
	}
	return string(b), nil
}
