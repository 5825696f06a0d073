package testdb

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/phrazzld/coldstore/internal/store"
)

// WithTx runs fn within a transaction that is rolled back afterwards, even
// when fn panics.
func WithTx(t *testing.T, db *sql.DB, fn func(t *testing.T, tx *sql.Tx)) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("Failed to begin transaction: %v", err)
	}

	defer func() {
		if r := recover(); r != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				t.Logf("Warning: failed to rollback transaction after panic: %v", rbErr)
			}
			// ALLOW-PANIC
			panic(r)
		}

		// sql.ErrTxDone means fn already committed or rolled back.
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			t.Logf("Warning: failed to rollback transaction: %v", err)
		}
	}()

	fn(t, tx)
}

// CountRows returns the number of rows in table.
func CountRows(t *testing.T, q store.DBTX, table string) int {
	t.Helper()

	var n int
	// table names come from test code only
	err := q.QueryRowContext(context.Background(), "SELECT COUNT(*) FROM "+table).Scan(&n)
	if err != nil {
		t.Fatalf("Failed to count rows in %s: %v", table, err)
	}
	return n
}
