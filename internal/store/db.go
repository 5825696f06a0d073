package store

import (
	"context"
	"database/sql"
)

// DBTX is satisfied by *sql.DB, *sql.Conn and *sql.Tx, so read helpers can
// run either standalone or inside a transaction opened by RunInTransaction.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	PrepareContext(ctx context.Context, query string) (*sql.Stmt, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}
