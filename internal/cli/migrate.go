package cli

import (
	"fmt"

	"procurement_followup/platform/config"
	"procurement_followup/platform/db"

	"github.com/spf13/cobra"
)

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:       "migrate [up|status]",
		Short:     "Run database migrations",
		Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"up", "status"},
		RunE: func(cmd *cobra.Command, args []string) error {
			action := "up"
			if len(args) > 0 {
				action = args[0]
			}

			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			switch action {
			case "status":
				return db.MigrationStatus(cmd.Context(), cfg, cfg.MigrationsDir)
			default:
				if err := db.RunMigrations(cmd.Context(), cfg, cfg.MigrationsDir); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "migrations applied")
				return nil
			}
		},
	}

	return cmd
}
