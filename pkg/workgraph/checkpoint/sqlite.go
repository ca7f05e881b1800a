package checkpoint

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite" // Pure Go SQLite driver
)

var sqliteDialect = dialect{
	name: "sqlite",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS checkpoints (
			thread_id TEXT NOT NULL,
			sequence INTEGER NOT NULL,
			node_id TEXT NOT NULL,
			cursor TEXT NOT NULL,
			status TEXT NOT NULL,
			created_at TEXT NOT NULL,
			data BLOB NOT NULL,
			PRIMARY KEY (thread_id, sequence)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_checkpoints_status
		ON checkpoints(status)`,
		`CREATE TABLE IF NOT EXISTS interrupts (
			thread_id TEXT PRIMARY KEY,
			interrupt_id TEXT NOT NULL,
			data BLOB NOT NULL
		)`,
	},
	upsertInterrupt: `
		INSERT INTO interrupts (thread_id, interrupt_id, data)
		VALUES (?, ?, ?)
		ON CONFLICT(thread_id) DO UPDATE SET
			interrupt_id = excluded.interrupt_id,
			data = excluded.data
	`,
}

// SQLiteStore persists checkpoints to SQLite.
// It is suitable for single-process production use.
type SQLiteStore struct {
	*sqlStore
}

// NewSQLiteStore creates a new SQLite checkpoint store.
// The path should be a file path (e.g., "./checkpoints.db") or ":memory:" for testing.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// A single connection keeps ":memory:" databases coherent and
	// serializes writers on the file lock.
	db.SetMaxOpenConns(1)

	ctx := context.Background()

	// WAL lets readers proceed while a step is being written.
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	store, err := newSQLStore(ctx, db, sqliteDialect)
	if err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteStore{sqlStore: store}, nil
}
