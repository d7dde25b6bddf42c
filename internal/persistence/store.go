// Package persistence provides SQLite-backed implementations of the task
// and project stores plus the progress-log journal. All compare-and-set
// transitions are conditional UPDATEs keyed on the expected status (and
// lease token), so several orchestrator replicas can share one database
// without double-dispatching work.
package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"

	_ "modernc.org/sqlite"
)

// DB wraps the SQLite handle shared by the store implementations.
type DB struct {
	db *sql.DB
}

// Open creates a SQLite database at the given path, creating parent
// directories if needed. Enables WAL mode and a busy timeout.
func Open(ctx context.Context, dbPath string) (*DB, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create parent directories: %w", err)
	}

	connStr := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", dbPath)
	return open(ctx, connStr)
}

// OpenMemory creates an in-memory database for testing. A shared cache
// lets both pooled connections see the same data; the unique name keeps
// separate OpenMemory calls isolated from each other.
func OpenMemory(ctx context.Context) (*DB, error) {
	name := fmt.Sprintf("mem_%d", memSeq.Add(1))
	return open(ctx, fmt.Sprintf("file:%s?mode=memory&cache=shared", name))
}

var memSeq atomic.Int64

func open(ctx context.Context, connStr string) (*DB, error) {
	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// modernc.org/sqlite needs foreign keys enabled via PRAGMA.
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	// One connection for primary queries, one for subqueries.
	db.SetMaxOpenConns(2)

	d := &DB{db: db}
	if err := d.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return d, nil
}

// Close closes the underlying database.
func (d *DB) Close() error {
	return d.db.Close()
}

// TaskStore returns the SQLite TaskStore over this database.
func (d *DB) TaskStore() *SQLiteTaskStore {
	return &SQLiteTaskStore{db: d.db}
}

// ProjectStore returns the SQLite ProjectStore over this database.
func (d *DB) ProjectStore() *SQLiteProjectStore {
	return &SQLiteProjectStore{db: d.db}
}

// Journal returns the progress-log sink over this database.
func (d *DB) Journal() *Journal {
	return &Journal{db: d.db}
}
