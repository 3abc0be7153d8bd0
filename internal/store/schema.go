// Package store implements grit's LocalStore: a SQLite-backed projection
// of the event log plus the raw event index itself, with transactional
// versioned migrations and a context-only query wrapper so every
// caller's deadline propagates to SQLite.
package store

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// CurrentVersion is the schema_version this build creates/migrates to.
const CurrentVersion = 1

// OpenDB opens (creating if necessary) the SQLite database at path and
// enables WAL journal mode, so the single writer goroutine never blocks
// concurrent readers.
func OpenDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode = WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA synchronous = FULL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable synchronous=FULL: %w", err)
	}
	if _, err := db.Exec(`PRAGMA foreign_keys = ON`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	return db, nil
}

// InitDB creates the schema_version table (if absent) and all data
// tables inside a single transaction, so a half-created schema never
// survives a crash.
func InitDB(db *sql.DB) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin schema init: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := createVersionTable(tx); err != nil {
		return err
	}
	version, err := getSchemaVersionTx(tx)
	if err != nil {
		return err
	}
	if version == 0 {
		if err := createTables(tx); err != nil {
			return err
		}
		if err := setSchemaVersion(tx, CurrentVersion); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func createVersionTable(tx *sql.Tx) error {
	_, err := tx.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`)
	if err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}
	return nil
}

func getSchemaVersionTx(tx *sql.Tx) (int, error) {
	var version int
	err := tx.QueryRow(`SELECT version FROM schema_version LIMIT 1`).Scan(&version)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return version, nil
}

func setSchemaVersion(tx *sql.Tx, version int) error {
	if _, err := tx.Exec(`DELETE FROM schema_version`); err != nil {
		return fmt.Errorf("clear schema_version: %w", err)
	}
	if _, err := tx.Exec(`INSERT INTO schema_version (version) VALUES (?)`, version); err != nil {
		return fmt.Errorf("set schema_version: %w", err)
	}
	return nil
}

// GetSchemaVersion reports the schema version currently stored in db.
func GetSchemaVersion(ctx context.Context, db *sql.DB) (int, error) {
	var version int
	err := db.QueryRowContext(ctx, `SELECT version FROM schema_version LIMIT 1`).Scan(&version)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return version, nil
}

func createTables(tx *sql.Tx) error {
	stmts := []string{
		`CREATE TABLE events (
			actor_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			event_id TEXT NOT NULL UNIQUE,
			kind TEXT NOT NULL,
			blob BLOB NOT NULL,
			PRIMARY KEY (actor_id, seq)
		)`,
		`CREATE INDEX idx_events_event_id ON events(event_id)`,

		`CREATE TABLE issues (
			issue_id TEXT PRIMARY KEY,
			created_by TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			created_lamport INTEGER NOT NULL DEFAULT 0,
			created_actor TEXT NOT NULL DEFAULT '',
			title TEXT NOT NULL DEFAULT '',
			title_lamport INTEGER NOT NULL DEFAULT 0,
			title_actor TEXT NOT NULL DEFAULT '',
			body TEXT NOT NULL DEFAULT '',
			body_lamport INTEGER NOT NULL DEFAULT 0,
			body_actor TEXT NOT NULL DEFAULT '',
			state TEXT NOT NULL DEFAULT 'open',
			state_lamport INTEGER NOT NULL DEFAULT 0,
			state_actor TEXT NOT NULL DEFAULT '',
			priority TEXT NOT NULL DEFAULT '',
			priority_lamport INTEGER NOT NULL DEFAULT 0,
			priority_actor TEXT NOT NULL DEFAULT '',
			issue_type TEXT NOT NULL DEFAULT '',
			issue_type_lamport INTEGER NOT NULL DEFAULT 0,
			issue_type_actor TEXT NOT NULL DEFAULT '',
			assignee TEXT NOT NULL DEFAULT '',
			assignee_lamport INTEGER NOT NULL DEFAULT 0,
			assignee_actor TEXT NOT NULL DEFAULT '',
			closed_at INTEGER
		)`,
		`CREATE INDEX idx_issues_state ON issues(state)`,

		`CREATE TABLE issue_labels_add (
			issue_id TEXT NOT NULL,
			label TEXT NOT NULL,
			tag_event_id TEXT NOT NULL,
			PRIMARY KEY (issue_id, label, tag_event_id)
		)`,
		`CREATE INDEX idx_labels_add_issue ON issue_labels_add(issue_id)`,
		`CREATE INDEX idx_labels_add_label ON issue_labels_add(label)`,

		`CREATE TABLE issue_labels_tombstone (
			tag_event_id TEXT PRIMARY KEY
		)`,

		`CREATE TABLE issue_comments (
			issue_id TEXT NOT NULL,
			comment_id TEXT PRIMARY KEY,
			body TEXT NOT NULL,
			body_lamport INTEGER NOT NULL,
			body_actor TEXT NOT NULL,
			lamport INTEGER NOT NULL,
			actor_id TEXT NOT NULL,
			event_id TEXT NOT NULL
		)`,
		`CREATE INDEX idx_comments_issue ON issue_comments(issue_id, lamport, actor_id, event_id)`,

		`CREATE TABLE context_file (
			path TEXT PRIMARY KEY,
			language TEXT NOT NULL DEFAULT '',
			symbols_json TEXT NOT NULL DEFAULT '[]',
			summary TEXT NOT NULL DEFAULT '',
			content_hash BLOB,
			version_lamport INTEGER NOT NULL DEFAULT 0,
			version_actor TEXT NOT NULL DEFAULT ''
		)`,

		`CREATE TABLE context_project (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			version_lamport INTEGER NOT NULL DEFAULT 0,
			version_actor TEXT NOT NULL DEFAULT ''
		)`,

		`CREATE TABLE meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,

		`CREATE TABLE sync_checkpoints (
			actor_id TEXT PRIMARY KEY,
			last_merged_sha TEXT NOT NULL,
			last_synced_at INTEGER NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("create tables: %w", err)
		}
	}
	return nil
}
