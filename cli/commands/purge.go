package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/AshkanYarmoradi/orderstream/cli/styles"
	"github.com/AshkanYarmoradi/orderstream/cli/ui"
)

// NewPurgeCommand creates the purge command
func NewPurgeCommand(opts *globalOptions) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "purge",
		Short: "Delete the history of finished orders",
		Long: `Delete the events and read-model entry of every delivered, cancelled or
refunded order that has not changed for the given duration.

This removes history permanently.

Examples:
  orderstream purge --older-than 720h`,
		Args: cobra.NoArgs,
		RunE: func(c *cobra.Command, args []string) error {
			return withApp(c, opts, func(ctx context.Context, a *app) error {
				out := c.OutOrStdout()

				report, err := a.maintenance.PurgeTerminal(ctx, olderThan)
				if err != nil {
					return err
				}

				if len(report.Orders) == 0 {
					fmt.Fprintln(out, styles.FormatInfo("No orders to purge"))
					return nil
				}

				fmt.Fprintln(out, styles.FormatSuccess(fmt.Sprintf("Purged %d order(s), %d event(s)", len(report.Orders), report.EventsDeleted)))
				fmt.Fprintln(out, ui.ListItems(report.Orders))
				return nil
			})
		},
	}

	cmd.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "Only purge orders unchanged for at least this long")

	return cmd
}
