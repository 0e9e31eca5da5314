package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/AshkanYarmoradi/orderstream/cli/config"
	"github.com/AshkanYarmoradi/orderstream/cli/ui"
)

// NewMigrateCommand creates the migrate command
func NewMigrateCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the event and projection tables",
		Long: `Create the event table, its indexes and the projection table.

Migrations are idempotent; running them against an initialized database is a no-op.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			return ui.RunWithSpinner(out, "Connecting to database...", func() (string, error) {
				var driver string
				err := withApp(cmd, opts, func(ctx context.Context, a *app) error {
					driver = a.cfg.Database.Driver
					return a.store.Ping(ctx)
				})
				if err != nil {
					return "Migration failed", err
				}
				if driver == config.DriverMemory {
					return "Memory driver doesn't require migrations", nil
				}
				return fmt.Sprintf("Database is up to date (%s)", driver), nil
			})
		},
	}
}
