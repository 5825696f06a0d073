package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/phrazzld/coldstore/internal/domain"
	"github.com/phrazzld/coldstore/internal/executor"
	"github.com/phrazzld/coldstore/internal/ipc"
	"github.com/phrazzld/coldstore/internal/platform/sqlite"
	"github.com/phrazzld/coldstore/internal/redact"
	"github.com/phrazzld/coldstore/internal/task"
)

// runTaskCommand executes the task written to stdin. Stdout carries ipc
// messages only, so logs go to stderr. Once the task is read, every failure
// is reported as an ERROR event for it.
func runTaskCommand(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs, configPath := newFlagSet("run-task", stderr)
	if err := fs.Parse(args); err != nil {
		return task.ExitFailure
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	t, err := ipc.ReadTask(stdin)
	if err != nil {
		fmt.Fprintf(stderr, "coldstore run-task: failed to read task: %v\n", err)
		return task.ExitFailure
	}

	enc := ipc.NewEncoder(stdout)
	startupFailed := func(what string, err error) int {
		msg := fmt.Sprintf("%s: %s", what, redact.Error(err))
		if werr := enc.WriteEvent(domain.NewOutputEvent(t, domain.StatusError, 0, msg)); werr != nil {
			fmt.Fprintf(stderr, "coldstore run-task: failed to report error: %v\n", werr)
		}
		return task.ExitFailure
	}

	app, err := newApplication(ctx, *configPath, stderr, "task")
	if err != nil {
		fmt.Fprintf(stderr, "coldstore run-task: %v\n", err)
		return startupFailed("failed to start task process", err)
	}
	defer func() {
		if err := app.cleanup(); err != nil {
			app.logger.Warn("cleanup failed", "error", err)
		}
	}()

	vault, err := app.vault()
	if err != nil {
		app.logger.Error("failed to create vault client", "error", err, "task_id", t.ID)
		return startupFailed("failed to create vault client", err)
	}

	env := &executor.Env{
		Vault:     vault,
		Inventory: sqlite.NewInventoryStore(app.db),
		Uploads:   sqlite.NewUploadStore(app.db),
		Settings:  app.executorSettings(),
		Logger:    app.logger,
	}

	return executor.Dispatch(ctx, executor.NewRegistry(), t, env, enc)
}
