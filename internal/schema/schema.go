// Package schema owns the physical SQLite layout: table definitions,
// indexes, and the forward-only column backfills. EnsureSchema is
// idempotent and runs at every store open.
package schema

import (
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

// OpenDB opens a SQLite database connection with the PRAGMAs the store
// relies on: foreign keys for the cascade rules, WAL for concurrent
// readers, a busy timeout so racing workers queue instead of failing,
// and a WAL autocheckpoint to bound file growth.
func OpenDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA wal_autocheckpoint = 1000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w", strings.ToLower(pragma), err)
		}
	}

	return db, nil
}

// StateNames enumerates the legal notification states. The CHECK
// constraint below enforces the set at the storage level regardless of
// what code writes the row.
var StateNames = []string{
	"queued",
	"delivering",
	"delivered",
	"seen",
	"accepted",
	"in_progress",
	"completed",
	"declined",
	"deferred_busy",
	"failed",
	"timeout",
	"dead_letter",
	"reassigned",
}

// stateCheckList renders the state names as a quoted SQL list.
func stateCheckList() string {
	quoted := make([]string, len(StateNames))
	for i, s := range StateNames {
		quoted[i] = "'" + s + "'"
	}
	return strings.Join(quoted, ", ")
}

// EnsureSchema creates all tables and indexes and applies the backfill
// steps. It is idempotent and safe to invoke at every open. Any fatal
// schema error aborts; backfill errors on already-present objects are
// swallowed.
func EnsureSchema(db *sql.DB) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := createTables(tx); err != nil {
		return fmt.Errorf("create tables: %w", err)
	}
	if err := createIndexes(tx); err != nil {
		return fmt.Errorf("create indexes: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	if err := applyBackfills(db); err != nil {
		return fmt.Errorf("apply backfills: %w", err)
	}

	return nil
}

// createTables creates all tables. Timestamps are epoch milliseconds.
func createTables(tx *sql.Tx) error {
	tables := []string{
		// Task messages: one row per author utterance in a task thread.
		// content is stored verbatim; mentions is the JSON array of alias
		// tokens parsed once at insert time.
		`CREATE TABLE IF NOT EXISTS task_messages (
			id                 TEXT PRIMARY KEY,
			task_id            TEXT NOT NULL,
			author_session_key TEXT NOT NULL,
			content            TEXT NOT NULL,
			mentions           TEXT NOT NULL DEFAULT '[]',
			created_at         INTEGER NOT NULL
		)`,

		// Agent aliases: human handle -> canonical session key.
		`CREATE TABLE IF NOT EXISTS agent_aliases (
			alias       TEXT PRIMARY KEY,
			session_key TEXT NOT NULL,
			created_at  INTEGER NOT NULL,
			updated_at  INTEGER NOT NULL
		)`,

		// Notifications: one delivery obligation per (message, target).
		// Per-state *_at columns record first entry into that state and
		// are never overwritten.
		`CREATE TABLE IF NOT EXISTS notifications (
			id                 TEXT PRIMARY KEY,
			message_id         TEXT NOT NULL,
			task_id            TEXT NOT NULL,
			mention_alias      TEXT NOT NULL,
			target_session_key TEXT NOT NULL,
			state              TEXT NOT NULL DEFAULT 'queued'
			                   CHECK (state IN (` + stateCheckList() + `)),
			attempts           INTEGER NOT NULL DEFAULT 0,
			retry_at           INTEGER,
			next_check_at      INTEGER,
			sla_due_at         INTEGER,
			actor_session_key  TEXT,
			busy_reason        TEXT,
			eta_at             INTEGER,
			error              TEXT,
			created_at         INTEGER NOT NULL,
			updated_at         INTEGER NOT NULL,
			queued_at          INTEGER,
			delivering_at      INTEGER,
			delivered_at       INTEGER,
			seen_at            INTEGER,
			accepted_at        INTEGER,
			in_progress_at     INTEGER,
			completed_at       INTEGER,
			declined_at        INTEGER,
			deferred_busy_at   INTEGER,
			failed_at          INTEGER,
			timeout_at         INTEGER,
			dead_letter_at     INTEGER,
			reassigned_at      INTEGER,
			UNIQUE (message_id, target_session_key),
			FOREIGN KEY (message_id) REFERENCES task_messages(id) ON DELETE CASCADE
		)`,

		// Thread read state: per-(task, viewer) unread cursor.
		`CREATE TABLE IF NOT EXISTS thread_read_state (
			task_id              TEXT NOT NULL,
			session_key          TEXT NOT NULL,
			last_read_message_id TEXT,
			last_read_at         INTEGER,
			updated_at           INTEGER NOT NULL,
			PRIMARY KEY (task_id, session_key),
			FOREIGN KEY (last_read_message_id) REFERENCES task_messages(id) ON DELETE SET NULL
		)`,
	}

	for _, stmt := range tables {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}

	return nil
}

// createIndexes creates all indexes.
func createIndexes(tx *sql.Tx) error {
	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_task_messages_task_time ON task_messages(task_id, created_at)",
		"CREATE INDEX IF NOT EXISTS idx_notifications_task_time ON notifications(task_id, created_at)",
		"CREATE INDEX IF NOT EXISTS idx_notifications_state_retry ON notifications(state, retry_at, created_at)",
		"CREATE INDEX IF NOT EXISTS idx_notifications_target ON notifications(target_session_key, state, created_at)",
		"CREATE INDEX IF NOT EXISTS idx_thread_read_state_task ON thread_read_state(task_id, session_key, updated_at)",
	}

	for _, stmt := range indexes {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("create index: %w", err)
		}
	}

	return nil
}

// backfillSteps is the fixed ordered list of forward-only schema
// amendments. Fresh databases already carry these objects (the CREATE
// TABLE statements above are current), so on a fresh open every ADD
// COLUMN fails with "duplicate column name" and is swallowed. Databases
// created before a step gain the object. No step ever drops or renames.
var backfillSteps = []string{
	// Busy-deferral bookkeeping arrived after the initial notifications
	// table shipped.
	"ALTER TABLE notifications ADD COLUMN busy_reason TEXT",
	"ALTER TABLE notifications ADD COLUMN eta_at INTEGER",
	"ALTER TABLE notifications ADD COLUMN next_check_at INTEGER",
	// SLA deadlines and the escalation timestamps came with the
	// timeout/reassign cascade.
	"ALTER TABLE notifications ADD COLUMN sla_due_at INTEGER",
	"ALTER TABLE notifications ADD COLUMN timeout_at INTEGER",
	"ALTER TABLE notifications ADD COLUMN reassigned_at INTEGER",
	// Claim-query covering index superseded idx_notifications_state_retry
	// for the worker path (the older index stays for state-filtered reads).
	"CREATE INDEX IF NOT EXISTS idx_notifications_claim ON notifications(state, retry_at, next_check_at, created_at)",
}

// applyBackfills runs the backfill steps one at a time, swallowing
// failures caused by already-present columns or indexes.
func applyBackfills(db *sql.DB) error {
	for _, stmt := range backfillSteps {
		if _, err := db.Exec(stmt); err != nil {
			if isAlreadyPresent(err) {
				continue
			}
			return fmt.Errorf("backfill %q: %w", stmt, err)
		}
	}
	return nil
}

// isAlreadyPresent reports whether err is SQLite telling us the column or
// index a backfill step adds is already there.
func isAlreadyPresent(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "duplicate column name") ||
		strings.Contains(msg, "already exists")
}
