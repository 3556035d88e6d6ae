package app

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	syncapp "github.com/stacklok/recordsync/internal/app"
	"github.com/stacklok/recordsync/internal/config"
)

const defaultGracefulTimeout = 30 * time.Second

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduled sync jobs and the HTTP API",
		Long: `Start one runner per configured job and serve the job API.

The configuration file is watched: schedule changes are picked up at the
next cycle boundary and invalid updates keep the last good configuration.`,
		RunE: runServe,
	}

	cmd.Flags().String("address", "", "Address to listen on (overrides server.address)")
	cmd.Flags().Duration("request-timeout", 0, "Timeout of a single API request, manual syncs included")
	if err := viper.BindPFlag("address", cmd.Flags().Lookup("address")); err != nil {
		slog.Error("Error binding address flag", "error", err)
	}
	if err := viper.BindPFlag("request-timeout", cmd.Flags().Lookup("request-timeout")); err != nil {
		slog.Error("Error binding request-timeout flag", "error", err)
	}
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	path := viper.GetString("config")
	if path == "" {
		return fmt.Errorf("a configuration file is required: set --config or %s_CONFIG", config.EnvPrefix)
	}

	configs, err := config.NewConfigManager(path)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	opts := []syncapp.RecordSyncAppOption{syncapp.WithConfigManager(configs)}
	if addr := viper.GetString("address"); addr != "" {
		opts = append(opts, syncapp.WithAddress(addr))
	}
	if timeout := viper.GetDuration("request-timeout"); timeout > 0 {
		opts = append(opts, syncapp.WithRequestTimeout(timeout))
	}

	ctx, stop := signal.NotifyContext(contextOrBackground(cmd), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := syncapp.NewRecordSyncApp(ctx, opts...)
	if err != nil {
		_ = configs.Close()
		return fmt.Errorf("failed to build application: %w", err)
	}

	slog.Info("Starting recordsync", "config", path, "jobs", len(configs.GetConfig().Jobs))

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Start()
	}()

	select {
	case <-ctx.Done():
		slog.Info("Received shutdown signal")
	case err := <-errCh:
		if stopErr := app.Stop(defaultGracefulTimeout); stopErr != nil {
			slog.Error("Shutdown failed", "error", stopErr)
		}
		return err
	}

	if err := app.Stop(defaultGracefulTimeout); err != nil {
		return err
	}
	return waitForStart(errCh, defaultGracefulTimeout)
}

func waitForStart(errCh <-chan error, timeout time.Duration) error {
	select {
	case err := <-errCh:
		return err
	case <-time.After(timeout):
		return fmt.Errorf("application did not stop within %s", timeout)
	}
}

// contextOrBackground guards against commands executed without a context
func contextOrBackground(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
