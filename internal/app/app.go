// Package app provides application lifecycle management for recordsync.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/stacklok/recordsync/internal/config"
	pkgsync "github.com/stacklok/recordsync/internal/sync"
)

// serverDrainTimeout bounds the HTTP shutdown when a background component fails
const serverDrainTimeout = 10 * time.Second

// RecordSyncApp encapsulates all components needed to run the sync service.
// It provides lifecycle management and graceful shutdown capabilities.
type RecordSyncApp struct {
	configs    config.ConfigManager
	components *AppComponents
	httpServer *http.Server

	// Lifecycle management
	ctx        context.Context
	cancelFunc context.CancelFunc
	cleanup    func()
}

// Start runs the HTTP server, the sync coordinator and the config watcher.
// It blocks until Stop is called or one of them fails, in which case the
// others are shut down as well.
func (app *RecordSyncApp) Start() error {
	g, gctx := errgroup.WithContext(app.ctx)

	g.Go(func() error {
		if err := app.components.SyncCoordinator.Start(gctx); err != nil {
			return fmt.Errorf("sync coordinator failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		if err := app.configs.WatchConfig(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("config watcher failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		slog.Info("Server listening", "address", app.httpServer.Addr)
		if err := app.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), serverDrainTimeout)
		defer cancel()
		if err := app.httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Warn("HTTP server did not shut down cleanly", "error", err)
		}
		return nil
	})

	return g.Wait()
}

// SyncOnce runs a single manual cycle of job without starting the scheduler
func (app *RecordSyncApp) SyncOnce(ctx context.Context, job string, query pkgsync.Query) (*pkgsync.BatchResult, error) {
	return app.components.SyncCoordinator.Trigger(ctx, job, query)
}

// Stop gracefully stops the application with the given timeout.
// It stops the sync coordinator, shuts down the HTTP server and releases
// the database, config watcher and telemetry.
func (app *RecordSyncApp) Stop(timeout time.Duration) error {
	slog.Info("Shutting down server...")

	if err := app.components.SyncCoordinator.Stop(); err != nil {
		slog.Error("Failed to stop sync coordinator", "error", err)
	}

	if app.cancelFunc != nil {
		app.cancelFunc()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var shutdownErr error
	if err := app.httpServer.Shutdown(shutdownCtx); err != nil {
		shutdownErr = fmt.Errorf("server forced to shutdown: %w", err)
	}

	if err := app.configs.Close(); err != nil {
		slog.Error("Failed to close config watcher", "error", err)
	}
	if app.cleanup != nil {
		app.cleanup()
	}

	slog.Info("Server shutdown complete")
	return shutdownErr
}

// GetComponents returns the wired application components
func (app *RecordSyncApp) GetComponents() *AppComponents {
	return app.components
}

// GetHTTPServer returns the HTTP server (useful for testing to get the handler)
func (app *RecordSyncApp) GetHTTPServer() *http.Server {
	return app.httpServer
}
