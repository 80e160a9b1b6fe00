// Package sqlite backs every store interface with a single SQLite database.
// Aggregate records live as JSON documents beside the columns the queries
// filter and sort on; hot-path fields (usage metering, memory entries,
// secrets) get full column layouts.
package sqlite

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// DB wraps the SQLite handle shared by all stores.
type DB struct {
	db *sql.DB
}

// Open opens (and migrates) the database at path. Use ":memory:" for an
// ephemeral database.
func Open(path string) (*DB, error) {
	if path == "" {
		path = ":memory:"
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %q: %w", path, err)
	}
	// The driver is single-writer; serializing access avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA foreign_keys=ON;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: pragma: %w", err)
	}
	s := &DB{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying handle.
func (s *DB) Close() error { return s.db.Close() }

func (s *DB) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS projects (
			id         TEXT PRIMARY KEY,
			created_at INTEGER NOT NULL,
			data       TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS prompt_layers (
			id         TEXT PRIMARY KEY,
			project_id TEXT NOT NULL,
			kind       TEXT NOT NULL,
			version    INTEGER NOT NULL,
			active     INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL,
			data       TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_layers_project_kind ON prompt_layers(project_id, kind)`,
		`CREATE TABLE IF NOT EXISTS sessions (
			id         TEXT PRIMARY KEY,
			project_id TEXT NOT NULL,
			contact_id TEXT NOT NULL DEFAULT '',
			status     TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			data       TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_project ON sessions(project_id, status)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id         TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			data       TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS execution_traces (
			id         TEXT PRIMARY KEY,
			project_id TEXT NOT NULL,
			session_id TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			data       TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_traces_session ON execution_traces(session_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_traces_project ON execution_traces(project_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS scheduled_tasks (
			id          TEXT PRIMARY KEY,
			project_id  TEXT NOT NULL,
			status      TEXT NOT NULL,
			next_run_at INTEGER,
			created_at  INTEGER NOT NULL,
			data        TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tasks_due ON scheduled_tasks(status, next_run_at)`,
		`CREATE TABLE IF NOT EXISTS scheduled_task_runs (
			id         TEXT PRIMARY KEY,
			task_id    TEXT NOT NULL,
			started_at INTEGER,
			data       TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_task ON scheduled_task_runs(task_id)`,
		`CREATE TABLE IF NOT EXISTS approval_requests (
			id           TEXT PRIMARY KEY,
			project_id   TEXT NOT NULL,
			status       TEXT NOT NULL,
			requested_at INTEGER NOT NULL,
			data         TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_approvals_project ON approval_requests(project_id, status)`,
		`CREATE TABLE IF NOT EXISTS usage_records (
			project_id    TEXT NOT NULL,
			ts            INTEGER NOT NULL,
			provider      TEXT NOT NULL,
			model         TEXT NOT NULL,
			input_tokens  INTEGER NOT NULL,
			output_tokens INTEGER NOT NULL,
			cost_usd      REAL NOT NULL,
			turn_key      TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_usage_project_ts ON usage_records(project_id, ts)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_usage_turn_key
			ON usage_records(project_id, turn_key) WHERE turn_key != ''`,
		`CREATE TABLE IF NOT EXISTS contacts (
			id          TEXT PRIMARY KEY,
			project_id  TEXT NOT NULL,
			telegram_id TEXT NOT NULL DEFAULT '',
			slack_id    TEXT NOT NULL DEFAULT '',
			phone       TEXT NOT NULL DEFAULT '',
			email       TEXT NOT NULL DEFAULT '',
			created_at  INTEGER NOT NULL,
			data        TEXT NOT NULL
		)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_contacts_telegram
			ON contacts(project_id, telegram_id) WHERE telegram_id != ''`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_contacts_slack
			ON contacts(project_id, slack_id) WHERE slack_id != ''`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_contacts_phone
			ON contacts(project_id, phone) WHERE phone != ''`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_contacts_email
			ON contacts(project_id, email) WHERE email != ''`,
		`CREATE TABLE IF NOT EXISTS channel_integrations (
			project_id TEXT NOT NULL,
			provider   TEXT NOT NULL,
			updated_at INTEGER NOT NULL,
			data       TEXT NOT NULL,
			PRIMARY KEY (project_id, provider)
		)`,
		`CREATE TABLE IF NOT EXISTS secrets (
			project_id  TEXT NOT NULL,
			key         TEXT NOT NULL,
			ciphertext  BLOB NOT NULL,
			iv          BLOB NOT NULL,
			auth_tag    BLOB NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			created_at  INTEGER NOT NULL,
			updated_at  INTEGER NOT NULL,
			PRIMARY KEY (project_id, key)
		)`,
		`CREATE TABLE IF NOT EXISTS memory_entries (
			id               TEXT PRIMARY KEY,
			project_id       TEXT NOT NULL,
			session_id       TEXT NOT NULL DEFAULT '',
			category         TEXT NOT NULL,
			content          TEXT NOT NULL,
			importance       REAL NOT NULL,
			access_count     INTEGER NOT NULL DEFAULT 0,
			last_accessed_at INTEGER NOT NULL,
			created_at       INTEGER NOT NULL,
			expires_at       INTEGER,
			metadata         TEXT NOT NULL DEFAULT '{}',
			embedding        TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_memory_project ON memory_entries(project_id)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("sqlite: migrate: %w", err)
		}
	}
	return nil
}

// Stores bundles one implementation per store interface, all sharing the
// same database.
type Stores struct {
	Projects     *ProjectStore
	Layers       *LayerStore
	Sessions     *SessionStore
	Traces       *TraceStore
	Tasks        *TaskStore
	Runs         *RunStore
	Approvals    *ApprovalStore
	Usage        *UsageStore
	Contacts     *ContactStore
	Integrations *IntegrationStore
	Secrets      *SecretStore
	Memory       *MemoryEntryStore
}

// NewStores creates the full store bundle over db.
func NewStores(db *DB) *Stores {
	return &Stores{
		Projects:     &ProjectStore{db: db.db},
		Layers:       &LayerStore{db: db.db},
		Sessions:     &SessionStore{db: db.db},
		Traces:       &TraceStore{db: db.db},
		Tasks:        &TaskStore{db: db.db},
		Runs:         &RunStore{db: db.db},
		Approvals:    &ApprovalStore{db: db.db},
		Usage:        &UsageStore{db: db.db},
		Contacts:     &ContactStore{db: db.db},
		Integrations: &IntegrationStore{db: db.db},
		Secrets:      &SecretStore{db: db.db},
		Memory:       &MemoryEntryStore{db: db.db},
	}
}

func encode(v any) (string, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("sqlite: encode record: %w", err)
	}
	return string(body), nil
}

func decode[T any](body string) (*T, error) {
	var v T
	if err := json.Unmarshal([]byte(body), &v); err != nil {
		return nil, fmt.Errorf("sqlite: decode record: %w", err)
	}
	return &v, nil
}

func millis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func nullableMillis(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
