package commands

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/AshkanYarmoradi/orderstream"
	"github.com/AshkanYarmoradi/orderstream/cli/styles"
	"github.com/AshkanYarmoradi/orderstream/cli/ui"
	"github.com/AshkanYarmoradi/orderstream/order"
)

// NewProjectionCommand creates the projection command
func NewProjectionCommand(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "projection",
		Short: "Manage the order read model",
		Long: `Inspect and rebuild the order read model.

Examples:
  orderstream projection status        # Compare the read model with the event store
  orderstream projection rebuild       # Rebuild every order from its events
  orderstream projection rebuild ord-1 # Rebuild a single order`,
		Aliases: []string{"proj"},
	}

	cmd.AddCommand(newProjectionStatusCommand(opts))
	cmd.AddCommand(newProjectionRebuildCommand(opts))

	return cmd
}

func newProjectionStatusCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show read model counts per status",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, args []string) error {
			return withApp(c, opts, func(ctx context.Context, a *app) error {
				ids, err := a.store.AggregateIDs(ctx)
				if err != nil {
					return err
				}

				table := ui.NewTable("Status", "Orders")
				projected := 0
				for _, status := range order.Statuses() {
					views, err := a.projection.List(ctx, orderstream.ListFilter{Status: status})
					if err != nil {
						return err
					}
					projected += len(views)
					table.AddRow(ui.StatusBadge(status), fmt.Sprintf("%d", len(views)))
				}

				out := c.OutOrStdout()
				fmt.Fprintln(out, styles.Title.Render(styles.IconDatabase+" Projection"))
				fmt.Fprintln(out, table.Render())
				fmt.Fprintln(out, styles.FormatKeyValue("Orders in event store", fmt.Sprintf("%d", len(ids))))
				fmt.Fprintln(out, styles.FormatKeyValue("Orders in read model", fmt.Sprintf("%d", projected)))

				if projected != len(ids) {
					fmt.Fprintln(out, styles.FormatWarning("Read model is out of sync; run 'orderstream projection rebuild'"))
				} else {
					fmt.Fprintln(out, styles.FormatSuccess("Read model is in sync"))
				}
				return nil
			})
		},
	}
}

func newProjectionRebuildCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rebuild [order-id]",
		Short: "Rebuild the read model from the event store",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			out := c.OutOrStdout()

			if len(args) == 1 {
				return ui.RunWithSpinner(out, fmt.Sprintf("Rebuilding %s...", args[0]), func() (string, error) {
					err := withApp(c, opts, func(ctx context.Context, a *app) error {
						return a.projection.Rebuild(ctx, args[0])
					})
					if err != nil {
						return "Rebuild failed", err
					}
					return fmt.Sprintf("Rebuilt %s", args[0]), nil
				})
			}

			var report orderstream.RebuildReport
			err := ui.RunWithSpinner(out, "Rebuilding projection...", func() (string, error) {
				err := withApp(c, opts, func(ctx context.Context, a *app) error {
					var err error
					report, err = a.projection.RebuildAll(ctx)
					return err
				})
				if err != nil {
					return "Rebuild finished with failures", err
				}
				return fmt.Sprintf("Rebuilt %d order(s) in %s", report.Orders, report.Duration.Round(time.Millisecond)), nil
			})

			if len(report.Failed) > 0 {
				fmt.Fprintln(out, styles.BoxError.Render("Failed orders:\n"+strings.Join(report.Failed, "\n")))
			}
			return err
		},
	}
}
