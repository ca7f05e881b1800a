package checkpoint

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql" // MySQL driver
)

// CURSOR is a reserved word in MySQL, so the column is backquoted.
var mysqlDialect = dialect{
	name: "mysql",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS checkpoints (
			thread_id VARCHAR(255) NOT NULL,
			sequence INT NOT NULL,
			node_id VARCHAR(255) NOT NULL,` + "\n\t\t\t`cursor` VARCHAR(255) NOT NULL," + `
			status VARCHAR(32) NOT NULL,
			created_at VARCHAR(64) NOT NULL,
			data LONGBLOB NOT NULL,
			PRIMARY KEY (thread_id, sequence),
			INDEX idx_checkpoints_status (status)
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
		`CREATE TABLE IF NOT EXISTS interrupts (
			thread_id VARCHAR(255) NOT NULL PRIMARY KEY,
			interrupt_id VARCHAR(64) NOT NULL,
			data LONGBLOB NOT NULL
		) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4 COLLATE=utf8mb4_unicode_ci`,
	},
	upsertInterrupt: `
		INSERT INTO interrupts (thread_id, interrupt_id, data)
		VALUES (?, ?, ?)
		ON DUPLICATE KEY UPDATE
			interrupt_id = VALUES(interrupt_id),
			data = VALUES(data)
	`,
}

// MySQLStore persists checkpoints to MySQL. Unlike SQLiteStore it can be
// shared by several processes; pair it with a distributed lock so that only
// one process advances a thread at a time.
type MySQLStore struct {
	*sqlStore
}

// NewMySQLStore connects to MySQL and ensures the schema exists.
// The DSN uses go-sql-driver format, e.g. "user:pass@tcp(localhost:3306)/workgraph".
func NewMySQLStore(ctx context.Context, dsn string) (*MySQLStore, error) {
	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("open mysql: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(10 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping mysql: %w", err)
	}

	store, err := newSQLStore(ctx, db, mysqlDialect)
	if err != nil {
		db.Close()
		return nil, err
	}
	return &MySQLStore{sqlStore: store}, nil
}
