package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// DriverName is the database/sql driver used for every connection.
const DriverName = "sqlite3"

// BusyTimeout is how long SQLite itself waits on a locked database before
// reporting SQLITE_BUSY.
const BusyTimeout = 5 * time.Second

// DSN builds the connection string for path. Transactions begin EXCLUSIVE so
// that a read-then-write sequence cannot interleave with another writer.
func DSN(path string) string {
	return fmt.Sprintf(
		"file:%s?_txlock=exclusive&_busy_timeout=%d&_foreign_keys=on&_journal_mode=WAL&_synchronous=FULL",
		path, BusyTimeout.Milliseconds(),
	)
}

// Open opens (creating if needed) the database at path and verifies the
// connection. The pool is limited to one connection: SQLite serializes
// writers anyway, and a single connection keeps exclusive transactions from
// deadlocking against each other inside one process.
func Open(ctx context.Context, path string, logger *slog.Logger) (*sql.DB, error) {
	if path == "" {
		return nil, errors.New("database path is empty")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open(DriverName, DSN(path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database %s: %w", path, err)
	}

	logger.Debug("database connection established", "path", path)
	return db, nil
}
