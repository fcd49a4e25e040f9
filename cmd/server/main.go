// Package main implements the entry point for the Scry pipeline server,
// which streams flashcard generation runs to editor clients over HTTP and
// queues accepted cards for export.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/phrazzld/scry-pipeline/internal/config"
	"github.com/phrazzld/scry-pipeline/internal/platform/logger"
)

func main() {
	configPath := flag.String("config", "", "Path to a YAML config file")
	migrateCmd := flag.String("migrate", "", "Run a migration command (up|down|reset|status|version) and exit")
	flag.Parse()

	if err := run(context.Background(), *configPath, *migrateCmd); err != nil {
		log.Fatalf("scry-pipeline: %v", err)
	}
}

// run loads configuration and either executes a migration command or
// serves until a shutdown signal arrives.
func run(ctx context.Context, configPath, migrateCmd string) error {
	cfg, l, err := initializeApp(configPath)
	if err != nil {
		return err
	}

	if migrateCmd != "" {
		return handleMigrations(ctx, cfg, migrateCmd, l)
	}

	shutdownTracing, err := setupTracing(ctx, cfg.Tracing, os.Stderr, l)
	if err != nil {
		return fmt.Errorf("failed to set up tracing: %w", err)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			l.Error("tracer shutdown failed", "error", err)
		}
	}()

	app, err := newApplication(ctx, cfg, l)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	return app.Run(ctx)
}

// initializeApp loads configuration and sets up structured logging.
func initializeApp(configPath string) (*config.Config, *slog.Logger, error) {
	cfg, err := config.LoadFile(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	l, err := logger.Setup(cfg.Server)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to set up logger: %w", err)
	}

	l.Info("server configuration loaded",
		"port", cfg.Server.Port,
		"log_level", cfg.Server.LogLevel,
		"database_configured", cfg.Database.URL != "",
		"auth_enabled", cfg.Auth.JWTSecret != "",
		"tracing_enabled", cfg.Tracing.Enabled)
	return cfg, l, nil
}
