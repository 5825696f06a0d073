package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/coldstore/internal/platform/sqlite/migrations"
	"github.com/pressly/goose/v3"
)

// goose keeps its dialect, base FS and logger in package globals.
var gooseMu sync.Mutex

// slogGooseLogger adapts goose logging to slog.
type slogGooseLogger struct {
	logger *slog.Logger
}

// Printf implements the goose.Logger Printf method by forwarding messages to slog.Info
func (l *slogGooseLogger) Printf(format string, v ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, v...))
}

// Fatalf implements the goose.Logger Fatalf method by forwarding error messages to slog.Error
// Note: Unlike the standard Fatalf behavior, this does NOT call os.Exit;
// goose returns the error to the caller as well.
func (l *slogGooseLogger) Fatalf(format string, v ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, v...))
}

// Migrate applies every pending migration.
func Migrate(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	return RunMigrations(ctx, db, logger, "up")
}

// RunMigrations executes a goose command ("up", "down", "status", "version",
// "redo", "reset", ...) against the embedded migrations.
func RunMigrations(ctx context.Context, db *sql.DB, logger *slog.Logger, command string, args ...string) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	// Use a correlation ID for all migration logs to allow tracing the entire operation
	migrationLogger := logger.With(
		"correlation_id", uuid.New().String(),
		"component", "migrations",
		"command", command,
	)

	startTime := time.Now()

	goose.SetBaseFS(migrations.FS)
	goose.SetLogger(&slogGooseLogger{logger: migrationLogger})

	if err := goose.SetDialect("sqlite3"); err != nil {
		return fmt.Errorf("failed to set migration dialect: %w", err)
	}

	if err := goose.RunContext(ctx, command, db, ".", args...); err != nil {
		migrationLogger.Error("migration failed", "error", err)
		return fmt.Errorf("failed to run migration command %q: %w", command, err)
	}

	migrationLogger.Debug("migration operation completed",
		"duration_ms", time.Since(startTime).Milliseconds())
	return nil
}
