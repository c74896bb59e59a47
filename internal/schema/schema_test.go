package schema

import (
	"path/filepath"
	"testing"
)

func TestOpenDB(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test.db")

	db, err := OpenDB(dbPath)
	if err != nil {
		t.Fatalf("OpenDB() failed: %v", err)
	}
	defer func() { _ = db.Close() }()

	if err := db.Ping(); err != nil {
		t.Errorf("Ping() failed: %v", err)
	}

	// Verify WAL mode is enabled
	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&journalMode); err != nil {
		t.Fatalf("Query journal_mode failed: %v", err)
	}
	if journalMode != "wal" {
		t.Errorf("Expected journal_mode='wal', got '%s'", journalMode)
	}

	// Verify busy_timeout is set (prevents SQLITE_BUSY cascading into deadlocks)
	var busyTimeout int
	if err := db.QueryRow("PRAGMA busy_timeout").Scan(&busyTimeout); err != nil {
		t.Fatalf("Query busy_timeout failed: %v", err)
	}
	if busyTimeout != 5000 {
		t.Errorf("Expected busy_timeout=5000, got %d", busyTimeout)
	}

	// Verify foreign keys are on (cascade delete depends on it)
	var fk int
	if err := db.QueryRow("PRAGMA foreign_keys").Scan(&fk); err != nil {
		t.Fatalf("Query foreign_keys failed: %v", err)
	}
	if fk != 1 {
		t.Errorf("Expected foreign_keys=1, got %d", fk)
	}
}

func TestEnsureSchemaCreatesTables(t *testing.T) {
	db, err := OpenDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("OpenDB() failed: %v", err)
	}
	defer func() { _ = db.Close() }()

	if err := EnsureSchema(db); err != nil {
		t.Fatalf("EnsureSchema() failed: %v", err)
	}

	for _, table := range []string{"task_messages", "agent_aliases", "notifications", "thread_read_state"} {
		var name string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
		if err != nil {
			t.Errorf("table %s not created: %v", table, err)
		}
	}

	for _, index := range []string{
		"idx_task_messages_task_time",
		"idx_notifications_task_time",
		"idx_notifications_state_retry",
		"idx_notifications_target",
		"idx_notifications_claim",
		"idx_thread_read_state_task",
	} {
		var name string
		err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='index' AND name=?", index).Scan(&name)
		if err != nil {
			t.Errorf("index %s not created: %v", index, err)
		}
	}
}

func TestEnsureSchemaIsIdempotent(t *testing.T) {
	db, err := OpenDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("OpenDB() failed: %v", err)
	}
	defer func() { _ = db.Close() }()

	// Three opens in a row must all succeed; every backfill ADD COLUMN
	// fails with "duplicate column name" after the first and is swallowed.
	for i := range 3 {
		if err := EnsureSchema(db); err != nil {
			t.Fatalf("EnsureSchema() run %d failed: %v", i+1, err)
		}
	}
}

func TestBackfillAddsMissingObjects(t *testing.T) {
	db, err := OpenDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("OpenDB() failed: %v", err)
	}
	defer func() { _ = db.Close() }()

	// Simulate a pre-backfill database: notifications without the
	// busy-deferral and SLA columns.
	_, err = db.Exec(`CREATE TABLE notifications (
		id                 TEXT PRIMARY KEY,
		message_id         TEXT NOT NULL,
		task_id            TEXT NOT NULL,
		mention_alias      TEXT NOT NULL,
		target_session_key TEXT NOT NULL,
		state              TEXT NOT NULL DEFAULT 'queued',
		attempts           INTEGER NOT NULL DEFAULT 0,
		retry_at           INTEGER,
		actor_session_key  TEXT,
		error              TEXT,
		created_at         INTEGER NOT NULL,
		updated_at         INTEGER NOT NULL
	)`)
	if err != nil {
		t.Fatalf("create legacy table: %v", err)
	}

	if err := EnsureSchema(db); err != nil {
		t.Fatalf("EnsureSchema() on legacy DB failed: %v", err)
	}

	// The backfilled columns must now be queryable.
	rows, err := db.Query("SELECT busy_reason, eta_at, next_check_at, sla_due_at, timeout_at, reassigned_at FROM notifications")
	if err != nil {
		t.Fatalf("backfilled columns missing: %v", err)
	}
	_ = rows.Close()

	var name string
	if err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='index' AND name='idx_notifications_claim'").Scan(&name); err != nil {
		t.Errorf("claim index not backfilled: %v", err)
	}
}

func TestStateCheckConstraint(t *testing.T) {
	db, err := OpenDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("OpenDB() failed: %v", err)
	}
	defer func() { _ = db.Close() }()

	if err := EnsureSchema(db); err != nil {
		t.Fatalf("EnsureSchema() failed: %v", err)
	}

	_, err = db.Exec(`INSERT INTO task_messages (id, task_id, author_session_key, content, created_at)
		VALUES ('msg_1', 'task-1', 'agent:dev:main', 'hi', 1)`)
	if err != nil {
		t.Fatalf("insert message: %v", err)
	}

	_, err = db.Exec(`INSERT INTO notifications (id, message_id, task_id, mention_alias, target_session_key, state, created_at, updated_at)
		VALUES ('ntf_1', 'msg_1', 'task-1', 'Vision', 'agent:vision:main', 'exploded', 1, 1)`)
	if err == nil {
		t.Error("expected CHECK constraint violation for invalid state, got nil")
	}
}

func TestCascadeDelete(t *testing.T) {
	db, err := OpenDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("OpenDB() failed: %v", err)
	}
	defer func() { _ = db.Close() }()

	if err := EnsureSchema(db); err != nil {
		t.Fatalf("EnsureSchema() failed: %v", err)
	}

	mustExec := func(q string, args ...any) {
		t.Helper()
		if _, err := db.Exec(q, args...); err != nil {
			t.Fatalf("exec %s: %v", q, err)
		}
	}

	mustExec(`INSERT INTO task_messages (id, task_id, author_session_key, content, created_at)
		VALUES ('msg_1', 'task-1', 'agent:dev:main', 'hi @Vision', 1)`)
	mustExec(`INSERT INTO notifications (id, message_id, task_id, mention_alias, target_session_key, created_at, updated_at)
		VALUES ('ntf_1', 'msg_1', 'task-1', 'Vision', 'agent:vision:main', 1, 1)`)
	mustExec(`INSERT INTO thread_read_state (task_id, session_key, last_read_message_id, last_read_at, updated_at)
		VALUES ('task-1', 'agent:vision:main', 'msg_1', 1, 1)`)

	// Deleting the message cascades to its notifications and nulls the
	// read-state pointer.
	mustExec(`DELETE FROM task_messages WHERE id = 'msg_1'`)

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM notifications").Scan(&count); err != nil {
		t.Fatalf("count notifications: %v", err)
	}
	if count != 0 {
		t.Errorf("expected notifications cascade-deleted, got %d rows", count)
	}

	var lastRead any
	if err := db.QueryRow("SELECT last_read_message_id FROM thread_read_state WHERE task_id='task-1'").Scan(&lastRead); err != nil {
		t.Fatalf("read thread_read_state: %v", err)
	}
	if lastRead != nil {
		t.Errorf("expected last_read_message_id SET NULL, got %v", lastRead)
	}
}

func TestUniqueMessageTarget(t *testing.T) {
	db, err := OpenDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("OpenDB() failed: %v", err)
	}
	defer func() { _ = db.Close() }()

	if err := EnsureSchema(db); err != nil {
		t.Fatalf("EnsureSchema() failed: %v", err)
	}

	if _, err := db.Exec(`INSERT INTO task_messages (id, task_id, author_session_key, content, created_at)
		VALUES ('msg_1', 'task-1', 'agent:dev:main', 'hi', 1)`); err != nil {
		t.Fatalf("insert message: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO notifications (id, message_id, task_id, mention_alias, target_session_key, created_at, updated_at)
		VALUES ('ntf_1', 'msg_1', 'task-1', 'Vision', 'agent:vision:main', 1, 1)`); err != nil {
		t.Fatalf("insert first notification: %v", err)
	}

	_, err = db.Exec(`INSERT INTO notifications (id, message_id, task_id, mention_alias, target_session_key, created_at, updated_at)
		VALUES ('ntf_2', 'msg_1', 'task-1', 'vision', 'agent:vision:main', 1, 1)`)
	if err == nil {
		t.Error("expected unique constraint violation on (message_id, target_session_key), got nil")
	}
}
