// Package store provides the durable relational persistence layer for
// elements, dependencies, the blocked cache, messages, sessions and
// worktrees, backed by SQLite via modernc.org/sqlite
// (pure Go, no cgo) and jmoiron/sqlx.
package store

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/elemental/daemon/internal/elemerr"
)

// Store is the single source of truth for persisted daemon state. All
// mutations of a single element are serialized (row-level) and atomic
// with their cache updates.
type Store struct {
	db   *sqlx.DB
	path string
}

const schema = `
CREATE TABLE IF NOT EXISTS elements (
	id         TEXT PRIMARY KEY,
	kind       TEXT NOT NULL,
	title      TEXT NOT NULL,
	tags       TEXT NOT NULL DEFAULT '[]',
	metadata   TEXT NOT NULL DEFAULT '{}',
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	created_by TEXT NOT NULL DEFAULT '',
	deleted_at TEXT,
	version    INTEGER NOT NULL DEFAULT 1
);
CREATE INDEX IF NOT EXISTS idx_elements_kind ON elements(kind);
CREATE INDEX IF NOT EXISTS idx_elements_deleted_at ON elements(deleted_at);

CREATE TABLE IF NOT EXISTS task_fields (
	element_id    TEXT PRIMARY KEY REFERENCES elements(id) ON DELETE CASCADE,
	status        TEXT NOT NULL,
	priority      INTEGER NOT NULL DEFAULT 3,
	complexity    INTEGER NOT NULL DEFAULT 3,
	task_type     TEXT NOT NULL DEFAULT 'task',
	assignee      TEXT,
	owner         TEXT,
	scheduled_for TEXT,
	deadline      TEXT,
	close_reason  TEXT NOT NULL DEFAULT '',
	ephemeral     INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_task_fields_status ON task_fields(status);
CREATE INDEX IF NOT EXISTS idx_task_fields_assignee ON task_fields(assignee);
CREATE INDEX IF NOT EXISTS idx_task_fields_scheduled_for ON task_fields(scheduled_for);

CREATE TABLE IF NOT EXISTS workflow_fields (
	element_id     TEXT PRIMARY KEY REFERENCES elements(id) ON DELETE CASCADE,
	status         TEXT NOT NULL,
	ephemeral      INTEGER NOT NULL DEFAULT 0,
	playbook_id    TEXT,
	variables      TEXT NOT NULL DEFAULT '{}',
	started_at     TEXT,
	finished_at    TEXT,
	failure_reason TEXT NOT NULL DEFAULT '',
	cancel_reason  TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_workflow_fields_status ON workflow_fields(status);
CREATE INDEX IF NOT EXISTS idx_workflow_fields_ephemeral ON workflow_fields(ephemeral);

CREATE TABLE IF NOT EXISTS playbook_fields (
	element_id TEXT PRIMARY KEY REFERENCES elements(id) ON DELETE CASCADE,
	name       TEXT NOT NULL,
	steps      TEXT NOT NULL DEFAULT '[]',
	variables  TEXT NOT NULL DEFAULT '[]'
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_playbook_fields_name ON playbook_fields(name);

CREATE TABLE IF NOT EXISTS dependencies (
	source_id  TEXT NOT NULL,
	target_id  TEXT NOT NULL,
	type       TEXT NOT NULL,
	metadata   TEXT NOT NULL DEFAULT '{}',
	created_by TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL,
	PRIMARY KEY (source_id, target_id, type)
);
CREATE INDEX IF NOT EXISTS idx_dependencies_target ON dependencies(target_id, type);
CREATE INDEX IF NOT EXISTS idx_dependencies_source ON dependencies(source_id, type);

CREATE TABLE IF NOT EXISTS blocked_cache (
	element_id TEXT PRIMARY KEY,
	blocked_by TEXT NOT NULL,
	reason     TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	id          TEXT PRIMARY KEY,
	session_id  TEXT NOT NULL,
	type        TEXT NOT NULL,
	content     TEXT NOT NULL DEFAULT '',
	tool_name   TEXT NOT NULL DEFAULT '',
	tool_input  TEXT NOT NULL DEFAULT '',
	tool_output TEXT NOT NULL DEFAULT '',
	created_at  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, created_at);

CREATE TABLE IF NOT EXISTS sessions (
	id                TEXT PRIMARY KEY,
	agent_id          TEXT NOT NULL,
	mode              TEXT NOT NULL,
	status            TEXT NOT NULL,
	claude_session_id TEXT NOT NULL DEFAULT '',
	started_at        TEXT NOT NULL,
	terminated_at     TEXT,
	working_directory TEXT NOT NULL DEFAULT '',
	worktree_path     TEXT NOT NULL DEFAULT '',
	pid               INTEGER,
	exit_code         INTEGER,
	exit_signal       INTEGER,
	initial_prompt    TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_sessions_agent ON sessions(agent_id, started_at);
CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status);

CREATE TABLE IF NOT EXISTS worktrees (
	path          TEXT PRIMARY KEY,
	relative_path TEXT NOT NULL,
	branch        TEXT NOT NULL,
	head          TEXT NOT NULL DEFAULT '',
	is_main       INTEGER NOT NULL DEFAULT 0,
	state         TEXT NOT NULL,
	agent_name    TEXT NOT NULL DEFAULT '',
	task_id       TEXT NOT NULL DEFAULT '',
	created_at    TEXT NOT NULL
);
`

// Open creates or opens the SQLite-backed store at path. A path of
// ":memory:" opens a private in-memory database, used by tests.
func Open(path string) (*Store, error) {
	connStr := path
	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, elemerr.Internal(err, "create store directory %s", dir)
		}
		connStr = fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=foreign_keys(ON)", path)
	} else {
		connStr = "file::memory:?cache=shared&_pragma=foreign_keys(ON)"
	}

	db, err := sqlx.Open("sqlite", connStr)
	if err != nil {
		return nil, elemerr.Internal(err, "open sqlite database")
	}

	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if path != ":memory:" {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, elemerr.Internal(err, "enable WAL mode")
		}
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, elemerr.Internal(err, "initialize schema")
	}

	return &Store{db: db, path: path}, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error { return s.db.Close() }

// Path returns the filesystem path the store was opened with.
func (s *Store) Path() string { return s.path }

func nowRFC3339() string { return time.Now().UTC().Format(time.RFC3339Nano) }
