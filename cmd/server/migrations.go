package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/phrazzld/scry-pipeline/internal/bootstrap"
	"github.com/phrazzld/scry-pipeline/internal/config"
	"github.com/phrazzld/scry-pipeline/internal/platform/postgres"
)

// errNoDatabase is returned when a migration command runs without a
// configured database.
var errNoDatabase = errors.New("database.url is not configured")

// handleMigrations runs a single goose command against the configured
// database and exits.
func handleMigrations(ctx context.Context, cfg *config.Config, command string, logger *slog.Logger) error {
	if cfg.Database.URL == "" {
		return errNoDatabase
	}

	db, err := bootstrap.OpenDatabase(ctx, cfg.Database.URL, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Error("error closing database connection", "error", err)
		}
	}()

	logger.Info("executing migrations", "command", command)
	if err := postgres.Migrate(ctx, db, command, logger); err != nil {
		return fmt.Errorf("migration %s failed: %w", command, err)
	}
	logger.Info("migrations finished", "command", command)
	return nil
}
