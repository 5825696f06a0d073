package main

import (
	"context"
	"fmt"
	"io"

	"github.com/phrazzld/coldstore/internal/platform/sqlite"
)

// migrateCommand runs a goose command against the embedded migrations,
// "up" when none is given.
func migrateCommand(ctx context.Context, args []string, _ io.Reader, _, stderr io.Writer) int {
	fs, configPath := newFlagSet("migrate", stderr)
	if err := fs.Parse(args); err != nil {
		return 2
	}

	command := "up"
	var extra []string
	if fs.NArg() > 0 {
		command = fs.Arg(0)
		extra = fs.Args()[1:]
	}

	app, err := newApplication(ctx, *configPath, stderr, "")
	if err != nil {
		fmt.Fprintf(stderr, "coldstore migrate: %v\n", err)
		return 1
	}
	defer func() {
		if err := app.cleanup(); err != nil {
			app.logger.Warn("cleanup failed", "error", err)
		}
	}()

	app.logger.Info("executing migrations", "command", command, "database", app.config.Database.Path)
	if err := sqlite.RunMigrations(ctx, app.db, app.logger, command, extra...); err != nil {
		fmt.Fprintf(stderr, "coldstore migrate: %v\n", err)
		return 1
	}
	return 0
}
