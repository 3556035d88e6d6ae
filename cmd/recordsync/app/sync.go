package app

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	syncapp "github.com/stacklok/recordsync/internal/app"
	"github.com/stacklok/recordsync/internal/config"
	pkgsync "github.com/stacklok/recordsync/internal/sync"
)

func newSyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync JOB",
		Short: "Run one sync cycle of a job and print its result",
		Long: `Run a single manual cycle of JOB and print the batch result as JSON.

Without --since the window starts lookbackDays before today (UTC), the same
window a scheduled cycle would use.

Examples:
  recordsync sync products --config config.yaml
  recordsync sync products --config config.yaml --since 2024-05-01 --until 2024-05-07`,
		Args: cobra.ExactArgs(1),
		RunE: runSync,
	}
	cmd.Flags().String("since", "", "First day of the change window (YYYY-MM-DD)")
	cmd.Flags().String("until", "", "Last day of the change window (YYYY-MM-DD)")
	return cmd
}

func runSync(cmd *cobra.Command, args []string) error {
	ctx := contextOrBackground(cmd)
	name := args[0]

	_, cfg, err := loadConfig()
	if err != nil {
		return err
	}
	job, ok := cfg.Job(name)
	if !ok {
		return fmt.Errorf("job %q is not configured", name)
	}

	query, err := queryFromFlags(cmd, job, time.Now())
	if err != nil {
		return err
	}

	app, err := syncapp.NewRecordSyncApp(ctx, syncapp.WithConfigManager(config.NewStaticConfigManager(cfg)))
	if err != nil {
		return fmt.Errorf("failed to build application: %w", err)
	}
	defer func() { _ = app.Stop(5 * time.Second) }()

	result, syncErr := app.SyncOnce(ctx, name, query)
	if result != nil {
		output, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to format result: %w", err)
		}
		if _, err := fmt.Fprintln(cmd.OutOrStdout(), string(output)); err != nil {
			return err
		}
	}
	if syncErr != nil {
		return fmt.Errorf("sync of %s failed: %w", name, syncErr)
	}
	if !result.Success {
		return fmt.Errorf("sync of %s did not succeed: %s", name, result.Message)
	}
	return nil
}

// queryFromFlags builds the change window, defaulting to the job's lookback
func queryFromFlags(cmd *cobra.Command, job *config.JobConfig, now time.Time) (pkgsync.Query, error) {
	since, err := cmd.Flags().GetString("since")
	if err != nil {
		return pkgsync.Query{}, fmt.Errorf("failed to get since flag: %w", err)
	}
	until, err := cmd.Flags().GetString("until")
	if err != nil {
		return pkgsync.Query{}, fmt.Errorf("failed to get until flag: %w", err)
	}

	query := pkgsync.QuerySince(now, job.GetLookbackDays())
	if since != "" {
		query.Since = since
	}
	query.Until = until

	if err := query.Validate(); err != nil {
		return pkgsync.Query{}, err
	}
	return query, nil
}
