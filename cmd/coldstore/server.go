package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/phrazzld/coldstore/internal/api"
	"github.com/phrazzld/coldstore/internal/domain"
	"github.com/phrazzld/coldstore/internal/events"
	"github.com/phrazzld/coldstore/internal/platform/sqlite"
	"github.com/phrazzld/coldstore/internal/task"
	"golang.org/x/sync/errgroup"
)

const (
	eventBuffer     = 256
	shutdownTimeout = 10 * time.Second
)

func serveCommand(ctx context.Context, args []string, _ io.Reader, stdout, stderr io.Writer) int {
	fs, configPath := newFlagSet("serve", stderr)
	if err := fs.Parse(args); err != nil {
		return 2
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := newApplication(ctx, *configPath, stdout, "server")
	if err != nil {
		fmt.Fprintf(stderr, "coldstore serve: %v\n", err)
		return 1
	}

	if err := app.serve(ctx); err != nil {
		app.logger.Error("server stopped with error", "error", err)
		return 1
	}
	return 0
}

// serve runs the task runner and the control API until ctx is done or one
// of them fails, then shuts both down.
func (app *application) serve(ctx context.Context) (err error) {
	defer func() {
		if cerr := app.cleanup(); cerr != nil {
			err = multierror.Append(err, cerr).ErrorOrNil()
		}
		app.logger.Info("application shutdown completed")
	}()

	if err := sqlite.Migrate(ctx, app.db, app.logger); err != nil {
		return err
	}

	vault, err := app.vault()
	if err != nil {
		return err
	}

	bus := events.NewForwarder(eventBuffer, app.logger)
	bus.RegisterHandler(eventLogger(app.logger))

	launcher, err := app.newLauncher(bus)
	if err != nil {
		return err
	}

	runner := task.NewTaskRunner(
		sqlite.NewTaskStore(app.db),
		launcher,
		bus,
		app.runnerConfig(),
		app.logger,
	)

	fatal := make(chan error, 1)
	runner.SetFatalHandler(func(err error) {
		select {
		case fatal <- err:
		default:
		}
	})

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		bus.Run(context.Background())
		return nil
	})

	if err := runner.Start(gctx); err != nil {
		bus.Stop()
		return multierror.Append(err, g.Wait()).ErrorOrNil()
	}

	srv := &http.Server{
		Addr: fmt.Sprintf(":%d", app.config.Server.Port),
		Handler: api.NewRouter(api.RouterDeps{
			Tasks:     runner,
			Vaults:    vault,
			Inventory: sqlite.NewInventoryStore(app.db),
			Logger:    app.logger,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		app.logger.Info("starting control API", "port", app.config.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("control API failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		var result *multierror.Error

		select {
		case <-gctx.Done():
			app.logger.Info("shutting down")
		case err := <-fatal:
			app.logger.Error("task runner failed, shutting down", "error", err)
			result = multierror.Append(result, fmt.Errorf("task runner failed: %w", err))
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			result = multierror.Append(result, fmt.Errorf("control API shutdown failed: %w", err))
		}
		runner.Stop()
		bus.Stop()

		return result.ErrorOrNil()
	})

	return g.Wait()
}

// newLauncher starts task processes from the configured executable, or
// from this binary when none is set.
func (app *application) newLauncher(emitter events.Emitter) (*task.ProcessLauncher, error) {
	path := app.config.Worker.Executable
	if path == "" {
		self, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("failed to locate executable: %w", err)
		}
		path = self
	}

	args := []string{"run-task"}
	if app.configPath != "" {
		args = append(args, "-config", app.configPath)
	}
	return task.NewProcessLauncher(path, args, emitter, app.logger), nil
}

func (app *application) runnerConfig() task.TaskRunnerConfig {
	cfg := task.DefaultTaskRunnerConfig()
	cfg.WorkerCount = app.config.Worker.Count
	cfg.PollInterval = app.config.Worker.PollInterval
	cfg.CancelRetention = app.config.Worker.CancelRetention
	cfg.RecheckInterval = app.config.Worker.RecheckInterval
	cfg.TimerSlack = app.config.Worker.TimerSlack
	return cfg
}

// eventLogger logs the terminal event of every task.
func eventLogger(log *slog.Logger) events.EventHandler {
	log = log.With("component", "task_events")
	return events.HandlerFunc(func(ctx context.Context, ev domain.OutputEvent) error {
		if !ev.Status.Terminal() || ev.Status == domain.StatusRemovedSilently {
			return nil
		}

		level := slog.LevelInfo
		if ev.Status == domain.StatusError {
			level = slog.LevelWarn
		}
		log.Log(ctx, level, "task finished",
			"task_id", ev.Task.ID,
			"name", ev.Task.Name,
			"kind", string(ev.Task.Kind),
			"status", string(ev.Status),
			"message", ev.Message)
		return nil
	})
}
