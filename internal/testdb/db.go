package testdb

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/phrazzld/coldstore/internal/platform/logger"
	"github.com/phrazzld/coldstore/internal/platform/sqlite"
	"github.com/stretchr/testify/require"
)

// FileName is the database file created inside the test's temp directory.
const FileName = "queue.db"

// Open creates a migrated database in a fresh temporary directory and
// returns the handle together with its path. The handle is closed when the
// test finishes.
func Open(t *testing.T) (*sql.DB, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), FileName)
	db := OpenAt(t, path)
	Migrate(t, db)
	return db, path
}

// OpenAt opens a handle on the database at path without migrating it.
func OpenAt(t *testing.T, path string) *sql.DB {
	t.Helper()

	log, _ := logger.GetTestLogger(t)
	db, err := sqlite.Open(context.Background(), path, log)
	require.NoError(t, err, "failed to open test database at %s", path)
	t.Cleanup(func() { CleanupDB(t, db) })
	return db
}

// Migrate applies all schema migrations to db.
func Migrate(t *testing.T, db *sql.DB) {
	t.Helper()

	log, _ := logger.GetTestLogger(t)
	require.NoError(t, sqlite.Migrate(context.Background(), db, log), "failed to migrate test database")
}

// CleanupDB closes db, logging rather than failing on error.
func CleanupDB(t *testing.T, db *sql.DB) {
	t.Helper()

	if db == nil {
		return
	}
	if err := db.Close(); err != nil {
		t.Logf("Warning: failed to close database connection: %v", err)
	}
}
