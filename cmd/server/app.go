package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/phrazzld/scry-pipeline/internal/bootstrap"
	"github.com/phrazzld/scry-pipeline/internal/config"
)

// application holds the shared application dependencies to simplify
// management and ensure proper cleanup on shutdown.
type application struct {
	config *config.Config
	logger *slog.Logger
	deps   *bootstrap.App
}

// newApplication wires every dependency and starts the export runner.
func newApplication(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*application, error) {
	deps, err := bootstrap.Build(ctx, cfg, logger, bootstrap.Options{Exports: true, Migrate: true})
	if err != nil {
		return nil, err
	}

	if err := deps.Runner.Start(); err != nil {
		deps.Close()
		return nil, fmt.Errorf("failed to start task runner: %w", err)
	}

	return &application{
		config: cfg,
		logger: logger,
		deps:   deps,
	}, nil
}

// Run serves HTTP until ctx is cancelled or a shutdown signal arrives.
func (app *application) Run(ctx context.Context) error {
	router := app.setupRouter()

	if err := app.startHTTPServer(ctx, router); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// cleanup waits for in-flight pipeline work and releases resources. The
// HTTP server must already be shut down.
func (app *application) cleanup(ctx context.Context) {
	if err := app.deps.Pipeline.Wait(ctx); err != nil {
		app.logger.Warn("pipeline runs still active at shutdown",
			"active", app.deps.Pipeline.Active(),
			"error", err)
	}

	app.deps.Close()
	app.logger.Info("application shutdown completed")
}
