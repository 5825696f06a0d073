package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"

	"github.com/phrazzld/coldstore/internal/config"
	"github.com/phrazzld/coldstore/internal/executor"
	"github.com/phrazzld/coldstore/internal/platform/glacier"
	"github.com/phrazzld/coldstore/internal/platform/logger"
	"github.com/phrazzld/coldstore/internal/platform/sqlite"
)

// application holds the dependencies shared by the commands and ensures
// they are released on cleanup.
type application struct {
	config     *config.Config
	configPath string
	logger     *slog.Logger
	db         *sql.DB
}

// newApplication loads the configuration, sets up logging to logOut and
// opens the database.
func newApplication(ctx context.Context, configPath string, logOut io.Writer, role string) (*application, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	log, err := logger.Setup(logger.LoggerConfig{
		Level:  cfg.Server.LogLevel,
		Output: logOut,
		Role:   role,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to set up logger: %w", err)
	}

	db, err := sqlite.Open(ctx, cfg.Database.Path, log)
	if err != nil {
		return nil, err
	}

	return &application{
		config:     cfg,
		configPath: configPath,
		logger:     log,
		db:         db,
	}, nil
}

// vault builds the remote client.
func (app *application) vault() (*glacier.Client, error) {
	client, err := glacier.New(app.config.Glacier)
	if err != nil {
		return nil, fmt.Errorf("failed to create vault client: %w", err)
	}
	return client, nil
}

// executorSettings translates the configuration into executor settings.
func (app *application) executorSettings() executor.Settings {
	s := executor.DefaultSettings()
	s.ChunkSizeMiB = app.config.Glacier.ChunkSizeMB
	s.ClientID = app.config.Glacier.ClientID
	s.FastGlacierNaming = app.config.Glacier.FastGlacierNaming
	s.CheckDuplicates = app.config.Glacier.CheckDuplicates
	return s
}

// cleanup closes the database.
func (app *application) cleanup() error {
	if app.db == nil {
		return nil
	}
	if err := app.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}
