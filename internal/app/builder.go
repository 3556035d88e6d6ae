package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/stacklok/recordsync/internal/api"
	"github.com/stacklok/recordsync/internal/config"
	"github.com/stacklok/recordsync/internal/db"
	"github.com/stacklok/recordsync/internal/mapping"
	"github.com/stacklok/recordsync/internal/sources"
	"github.com/stacklok/recordsync/internal/status"
	pkgsync "github.com/stacklok/recordsync/internal/sync"
	"github.com/stacklok/recordsync/internal/sync/coordinator"
	"github.com/stacklok/recordsync/internal/sync/writer"
	"github.com/stacklok/recordsync/internal/telemetry"
)

const (
	defaultRequestTimeout = 5 * time.Minute
	defaultReadTimeout    = 10 * time.Second
	defaultWriteTimeout   = defaultRequestTimeout + 15*time.Second
	defaultIdleTimeout    = 60 * time.Second

	instrumentationName = "github.com/stacklok/recordsync"
)

// RecordSyncAppOption configures the app builder
type RecordSyncAppOption func(*appConfig) error

// appConfig collects what NewRecordSyncApp needs. Components left nil are
// built from the configuration.
type appConfig struct {
	configs config.ConfigManager

	// Optional component overrides (primarily for testing)
	sourceFactory     sources.SourceFactory
	syncManagers      map[string]pkgsync.Manager
	statusPersistence status.StatusPersistence
	telemetry         *telemetry.Telemetry
	coordinatorOpts   []coordinator.Option

	// HTTP server options
	address        string
	middlewares    []func(http.Handler) http.Handler
	requestTimeout time.Duration
	readTimeout    time.Duration
	writeTimeout   time.Duration
	idleTimeout    time.Duration
}

func baseConfig(opts ...RecordSyncAppOption) (*appConfig, error) {
	cfg := &appConfig{
		requestTimeout: defaultRequestTimeout,
		readTimeout:    defaultReadTimeout,
		writeTimeout:   defaultWriteTimeout,
		idleTimeout:    defaultIdleTimeout,
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	if cfg.configs == nil {
		return nil, fmt.Errorf("config manager is required")
	}
	if cfg.address == "" {
		cfg.address = cfg.configs.GetConfig().GetServerAddress()
	}
	return cfg, nil
}

// WithConfigManager sets the source of the live configuration
func WithConfigManager(cm config.ConfigManager) RecordSyncAppOption {
	return func(cfg *appConfig) error {
		cfg.configs = cm
		return nil
	}
}

// WithAddress sets the HTTP server address, overriding server.address
func WithAddress(addr string) RecordSyncAppOption {
	return func(cfg *appConfig) error {
		if addr == "" {
			return fmt.Errorf("address cannot be empty")
		}

		host, port, found := strings.Cut(addr, ":")
		if !found || port == "" {
			return fmt.Errorf("address is not a valid port: %s", addr)
		}
		switch host {
		case "localhost":
			host = "127.0.0.1"
		case "":
			host = "0.0.0.0"
		}
		if _, err := netip.ParseAddrPort(host + ":" + port); err != nil {
			return fmt.Errorf("address is not a valid port: %w", err)
		}

		cfg.address = addr
		return nil
	}
}

// WithMiddlewares replaces the default HTTP middlewares
func WithMiddlewares(mw ...func(http.Handler) http.Handler) RecordSyncAppOption {
	return func(cfg *appConfig) error {
		cfg.middlewares = mw
		return nil
	}
}

// WithRequestTimeout bounds every HTTP request, manual syncs included
func WithRequestTimeout(d time.Duration) RecordSyncAppOption {
	return func(cfg *appConfig) error {
		if d <= 0 {
			return fmt.Errorf("request timeout must be positive")
		}
		cfg.requestTimeout = d
		cfg.writeTimeout = d + 15*time.Second
		return nil
	}
}

// WithTelemetry injects already initialised telemetry
func WithTelemetry(t *telemetry.Telemetry) RecordSyncAppOption {
	return func(cfg *appConfig) error {
		cfg.telemetry = t
		return nil
	}
}

// WithSourceFactory allows injecting a custom source factory (for testing)
func WithSourceFactory(f sources.SourceFactory) RecordSyncAppOption {
	return func(cfg *appConfig) error {
		cfg.sourceFactory = f
		return nil
	}
}

// WithSyncManagers allows injecting one sync manager per job (for testing)
func WithSyncManagers(managers map[string]pkgsync.Manager) RecordSyncAppOption {
	return func(cfg *appConfig) error {
		cfg.syncManagers = managers
		return nil
	}
}

// WithStatusPersistence allows injecting a custom status store (for testing)
func WithStatusPersistence(p status.StatusPersistence) RecordSyncAppOption {
	return func(cfg *appConfig) error {
		cfg.statusPersistence = p
		return nil
	}
}

// WithCoordinatorOptions adds options passed to the coordinator
func WithCoordinatorOptions(opts ...coordinator.Option) RecordSyncAppOption {
	return func(cfg *appConfig) error {
		cfg.coordinatorOpts = append(cfg.coordinatorOpts, opts...)
		return nil
	}
}

// NewRecordSyncApp builds every component from the current configuration
func NewRecordSyncApp(ctx context.Context, opts ...RecordSyncAppOption) (*RecordSyncApp, error) {
	b, err := baseConfig(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to build base configuration: %w", err)
	}
	cfg := b.configs.GetConfig()

	components := &AppComponents{Telemetry: b.telemetry}
	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}
	cleanupNeeded := true
	defer func() {
		if cleanupNeeded {
			cleanup()
		}
	}()

	if components.Telemetry == nil {
		components.Telemetry, err = telemetry.New(ctx, telemetry.WithTelemetryConfig(cfg.Telemetry))
		if err != nil {
			return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
		}
		tel := components.Telemetry
		cleanups = append(cleanups, func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tel.Shutdown(shutdownCtx); err != nil {
				slog.Error("Failed to shut down telemetry", "error", err)
			}
		})
	}

	var sqlDB *sql.DB
	if cfg.GetStorageType() == config.StorageTypePostgres && (b.syncManagers == nil || b.statusPersistence == nil) {
		components.Database, err = db.NewConnection(ctx, cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		conn := components.Database
		cleanups = append(cleanups, func() {
			if err := conn.Close(); err != nil {
				slog.Error("Failed to close database connection", "error", err)
			}
		})
		sqlDB = conn.DB
	}

	components.StatusPersistence = b.statusPersistence
	if components.StatusPersistence == nil {
		components.StatusPersistence, err = status.NewStatusPersistence(cfg, sqlDB)
		if err != nil {
			return nil, fmt.Errorf("failed to create status persistence: %w", err)
		}
	}

	components.SyncCoordinator, err = buildSyncComponents(b, cfg, sqlDB, components)
	if err != nil {
		return nil, fmt.Errorf("failed to build sync components: %w", err)
	}

	httpServer, err := buildHTTPServer(b, components)
	if err != nil {
		return nil, fmt.Errorf("failed to build HTTP server: %w", err)
	}

	cleanupNeeded = false
	appCtx, cancel := context.WithCancel(ctx)

	return &RecordSyncApp{
		configs:    b.configs,
		components: components,
		httpServer: httpServer,
		ctx:        appCtx,
		cancelFunc: cancel,
		cleanup:    cleanup,
	}, nil
}

// buildSyncComponents wires a sync manager per job and the coordinator over them
func buildSyncComponents(
	b *appConfig,
	cfg *config.Config,
	sqlDB *sql.DB,
	components *AppComponents,
) (coordinator.Coordinator, error) {
	slog.Info("Initializing sync components", "job_count", len(cfg.Jobs))

	tracer := components.Telemetry.Tracer(instrumentationName)

	managers := b.syncManagers
	if managers == nil {
		if b.sourceFactory == nil {
			b.sourceFactory = sources.NewSourceFactory(sources.WithTracer(tracer))
		}

		managers = make(map[string]pkgsync.Manager, len(cfg.Jobs))
		for _, job := range cfg.Jobs {
			manager, err := buildSyncManager(b.sourceFactory, cfg, sqlDB, &job, pkgsync.WithTracer(tracer))
			if err != nil {
				return nil, fmt.Errorf("job %s: %w", job.Name, err)
			}
			managers[job.Name] = manager
		}
	}

	syncMetrics, err := telemetry.NewSyncMetrics(components.Telemetry.MeterProvider())
	if err != nil {
		return nil, fmt.Errorf("failed to create sync metrics: %w", err)
	}

	opts := []coordinator.Option{
		coordinator.WithSyncMetrics(syncMetrics),
		coordinator.WithStatusPersistence(components.StatusPersistence),
	}
	opts = append(opts, b.coordinatorOpts...)

	coord, err := coordinator.New(b.configs, managers, opts...)
	if err != nil {
		return nil, err
	}

	slog.Info("Sync components initialized successfully")
	return coord, nil
}

// buildSyncManager assembles the source, sink and mapper of one job
func buildSyncManager(
	factory sources.SourceFactory,
	cfg *config.Config,
	sqlDB *sql.DB,
	job *config.JobConfig,
	opts ...pkgsync.ManagerOption,
) (pkgsync.Manager, error) {
	source, err := factory.CreateSource(job)
	if err != nil {
		return nil, fmt.Errorf("failed to create source: %w", err)
	}

	sink, err := writer.NewSink(cfg, sqlDB, job.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to create sink: %w", err)
	}

	mapper, err := mapping.New(mapping.Rules{
		Fields:   job.Mapping.Fields,
		Required: job.Mapping.Required,
		Golden:   job.Mapping.Golden,
	})
	if err != nil {
		return nil, fmt.Errorf("invalid mapping: %w", err)
	}

	return pkgsync.NewDefaultSyncManager(job.Name, source, sink, mapper, opts...), nil
}

// buildHTTPServer builds the HTTP server with router and middleware
func buildHTTPServer(b *appConfig, components *AppComponents) (*http.Server, error) {
	slog.Info("Initializing HTTP server")

	middlewares := b.middlewares
	if middlewares == nil {
		middlewares = api.DefaultMiddlewares(b.requestTimeout)
	}

	// tracing and correlation go first so rejected requests are observed too
	metricsMiddleware, err := telemetry.MetricsMiddleware(components.Telemetry.MeterProvider())
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics middleware: %w", err)
	}
	middlewares = append([]func(http.Handler) http.Handler{
		telemetry.TracingMiddleware(components.Telemetry.TracerProvider()),
		telemetry.CorrelationMiddleware,
		metricsMiddleware,
	}, middlewares...)

	serverOpts := []api.ServerOption{api.WithMiddlewares(middlewares...)}
	if h := components.Telemetry.MetricsHandler(); h != nil {
		serverOpts = append(serverOpts, api.WithMetricsHandler(h))
		slog.Info("Prometheus metrics endpoint enabled", "path", "/metrics")
	}

	server := &http.Server{
		Addr:         b.address,
		Handler:      api.NewServer(components.SyncCoordinator, serverOpts...),
		ReadTimeout:  b.readTimeout,
		WriteTimeout: b.writeTimeout,
		IdleTimeout:  b.idleTimeout,
	}

	slog.Info("HTTP server configured", "address", b.address)
	return server, nil
}
