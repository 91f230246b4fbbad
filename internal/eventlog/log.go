// Package eventlog provides the durable, locally-owned event log. It
// exposes the create/query/status-mutation surface the sync engine
// needs, backed by SQLite. The log is append-only: payloads are never
// edited in place, only the sync-status envelope of an event changes
// (and, for explicit conflict resolution, the sanctioned supersede
// path in Supersede).
package eventlog

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Log is the SQLite-backed event log. Safe for concurrent use; SQLite
// is configured with a single writer connection so batch status
// updates are atomic.
type Log struct {
	db   *sql.DB
	subs *notifier
}

// Open creates or opens the log database at path. WAL mode keeps reads
// concurrent with the single writer; a busy timeout absorbs lock
// contention from external readers. Idempotent.
func Open(path string) (*Log, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open event log: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("open event log: %w", err)
	}

	// SQLite allows one writer at a time; a single pooled connection
	// avoids SQLITE_BUSY on concurrent status updates.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("event log %q: %w", pragma, err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("event log schema: %w", err)
	}

	return &Log{db: db, subs: newNotifier()}, nil
}

// Close closes the underlying database.
func (l *Log) Close() error {
	if l.db == nil {
		return nil
	}
	return l.db.Close()
}

// withTx runs fn inside a transaction, committing on nil error.
func (l *Log) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("event log: begin tx: %w", err)
	}
	defer tx.Rollback() // no-op after commit
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("event log: commit: %w", err)
	}
	return nil
}
