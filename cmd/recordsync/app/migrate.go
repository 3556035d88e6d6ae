package app

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/stacklok/recordsync/database"
)

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Database migration tool",
		Long:  `Database migration tool for managing schema versions. Use with 'up' or 'down' subcommands.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Usage()
		},
	}

	cmd.PersistentFlags().BoolP("yes", "y", false, "Answer yes to all questions")
	cmd.AddCommand(newMigrateUpCmd())
	cmd.AddCommand(newMigrateDownCmd())
	return cmd
}

func newMigrateUpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply pending database migrations",
		Long: `Apply all pending database migrations to bring the schema up to date.
The connection parameters are read from the database section of the config file.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, target, err := setupMigration()
			if err != nil {
				return err
			}
			defer closeMigrator(m)

			if ok, err := confirm(cmd, fmt.Sprintf("About to apply migrations to %s.", target)); err != nil || !ok {
				return err
			}

			slog.Info("Applying database migrations", "target", target)
			return database.MigrateUp(m)
		},
	}
}

func newMigrateDownCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "down",
		Short: "Migrate the database down",
		Long: `Migrate the database schema down by reverting migrations.
WARNING: This operation can result in data loss. Use with caution.

Examples:
  # Migrate down by 1 step
  recordsync migrate down --config config.yaml --num-steps 1 --yes

  # Migrate down all the way (WARNING: destroys all data)
  recordsync migrate down --config config.yaml --yes`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			numSteps, err := cmd.Flags().GetUint("num-steps")
			if err != nil {
				return fmt.Errorf("failed to get num-steps flag: %w", err)
			}

			m, target, err := setupMigration()
			if err != nil {
				return err
			}
			defer closeMigrator(m)

			prompt := fmt.Sprintf("About to revert %d migration(s) on %s.", numSteps, target)
			if numSteps == 0 {
				prompt = fmt.Sprintf("About to revert ALL migrations on %s. All synced data will be lost.", target)
			}
			if ok, err := confirm(cmd, prompt); err != nil || !ok {
				return err
			}

			return database.MigrateDown(m, int(numSteps))
		},
	}
	cmd.Flags().UintP("num-steps", "n", 0, "Number of steps to migrate down (0 = all)")
	return cmd
}

// setupMigration builds a migrator for the configured database
func setupMigration() (database.Migrator, string, error) {
	_, cfg, err := loadConfig()
	if err != nil {
		return nil, "", err
	}
	if cfg.Database == nil {
		return nil, "", fmt.Errorf("database configuration is required")
	}

	connString, err := cfg.Database.GetConnectionString()
	if err != nil {
		return nil, "", fmt.Errorf("failed to build connection string: %w", err)
	}

	m, err := database.NewMigrator(connString)
	if err != nil {
		return nil, "", err
	}
	target := fmt.Sprintf("%s@%s:%d/%s", cfg.Database.User, cfg.Database.Host, cfg.Database.Port, cfg.Database.Database)
	return m, target, nil
}

func closeMigrator(m database.Migrator) {
	srcErr, dbErr := m.Close()
	if srcErr != nil {
		slog.Error("Error closing migration source", "error", srcErr)
	}
	if dbErr != nil {
		slog.Error("Error closing database connection", "error", dbErr)
	}
}

// confirm asks for confirmation unless --yes was given
func confirm(cmd *cobra.Command, prompt string) (bool, error) {
	yes, err := cmd.Flags().GetBool("yes")
	if err != nil {
		return false, fmt.Errorf("failed to get yes flag: %w", err)
	}
	if yes {
		return true, nil
	}

	if _, err := fmt.Fprintf(cmd.OutOrStdout(), "%s Continue? (yes/no): ", prompt); err != nil {
		return false, err
	}
	var response string
	if _, err := fmt.Fscanln(cmd.InOrStdin(), &response); err != nil {
		return false, fmt.Errorf("failed to read user input: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(response)) {
	case "yes", "y":
		return true, nil
	default:
		slog.Info("Migration cancelled by user")
		return false, nil
	}
}
