package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
)

// startHTTPServer serves router until ctx is cancelled, a SIGINT or SIGTERM
// arrives or the listener fails. Shutdown first drains open streams for up
// to the configured timeout, then cancels whatever runs remain, then waits
// for pipeline work and closes the application.
func (app *application) startHTTPServer(ctx context.Context, router http.Handler) error {
	// Request contexts derive from baseCtx so that streams still open when
	// the drain timeout expires can be cancelled.
	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()

	server := &http.Server{
		Addr:        fmt.Sprintf(":%d", app.config.Server.Port),
		Handler:     router,
		BaseContext: func(net.Listener) context.Context { return baseCtx },
	}

	serverCtx, cancelServer := context.WithCancel(ctx)
	defer cancelServer()

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(shutdownCh)

	serveErr := make(chan error, 1)
	go func() {
		app.logger.Info("starting server", "port", app.config.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.logger.Error("server failed", "error", err)
			serveErr <- err
			cancelServer()
		}
	}()

	select {
	case sig := <-shutdownCh:
		app.logger.Info("shutting down server", "signal", sig.String())
	case <-serverCtx.Done():
		app.logger.Info("server context canceled, shutting down")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), app.config.Server.ShutdownTimeout)
	defer shutdownCancel()

	var shutdownErr error
	if err := server.Shutdown(shutdownCtx); err != nil {
		app.logger.Warn("graceful shutdown timed out, cancelling open streams", "error", err)
		cancelBase()
		if cerr := server.Close(); cerr != nil {
			app.logger.Error("server close failed", "error", cerr)
		}
		shutdownErr = fmt.Errorf("server shutdown failed: %w", err)
	}

	cleanupCtx, cleanupCancel := context.WithTimeout(context.Background(), app.config.Server.ShutdownTimeout)
	defer cleanupCancel()
	app.cleanup(cleanupCtx)

	select {
	case err := <-serveErr:
		return err
	default:
	}
	if shutdownErr != nil {
		return shutdownErr
	}
	app.logger.Info("server shutdown completed")
	return nil
}
