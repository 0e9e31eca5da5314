package commands

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/AshkanYarmoradi/orderstream"
	"github.com/AshkanYarmoradi/orderstream/cli/styles"
	"github.com/AshkanYarmoradi/orderstream/cli/ui"
	"github.com/AshkanYarmoradi/orderstream/order"
)

// NewEventsCommand creates the events command
func NewEventsCommand(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Query the event store",
		Long: `Query the event store by order, event type or recording time.

Examples:
  orderstream events list ord-1
  orderstream events list --type OrderPaid
  orderstream events list --from 2024-01-01T00:00:00Z --to 2024-02-01T00:00:00Z`,
	}

	cmd.AddCommand(newEventsListCommand(opts))

	return cmd
}

func newEventsListCommand(opts *globalOptions) *cobra.Command {
	var (
		eventType string
		from      string
		to        string
	)

	cmd := &cobra.Command{
		Use:     "list [order-id]",
		Short:   "List stored events",
		Aliases: []string{"ls"},
		Args:    cobra.MaximumNArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			query, err := newEventQuery(args, eventType, from, to)
			if err != nil {
				return err
			}

			return withApp(c, opts, func(ctx context.Context, a *app) error {
				events, err := query.run(ctx, a.store)
				if err != nil {
					return err
				}

				out := c.OutOrStdout()
				if len(events) == 0 {
					fmt.Fprintln(out, styles.FormatInfo("No events found"))
					return nil
				}

				fmt.Fprintln(out, styles.Title.Render(styles.IconStream+" Events"))
				table := ui.NewTable("Position", "Order", "Seq", "Type", "Occurred", "Correlation")
				for _, e := range events {
					table.AddRow(
						strconv.FormatUint(e.GlobalPosition, 10),
						e.AggregateID,
						strconv.FormatInt(e.Sequence, 10),
						string(e.Type),
						e.OccurredAt.UTC().Format(time.RFC3339),
						e.Metadata.CorrelationID,
					)
				}
				fmt.Fprintln(out, table.Render())
				fmt.Fprintln(out, styles.Muted.Render(fmt.Sprintf("%d event(s)", len(events))))
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&eventType, "type", "t", "", "Only events of this type (e.g. OrderPaid)")
	cmd.Flags().StringVar(&from, "from", "", "Only events recorded at or after this RFC3339 time")
	cmd.Flags().StringVar(&to, "to", "", "Only events recorded at or before this RFC3339 time")

	return cmd
}

// eventQuery selects one of the store's read paths. Exactly one selector is set.
type eventQuery struct {
	orderID   string
	eventType order.EventType
	from, to  time.Time
	byRange   bool
}

func newEventQuery(args []string, eventType, from, to string) (eventQuery, error) {
	var q eventQuery
	selectors := 0

	if len(args) > 0 {
		q.orderID = args[0]
		selectors++
	}
	if eventType != "" {
		t, err := order.ParseEventType(eventType)
		if err != nil {
			return q, err
		}
		q.eventType = t
		selectors++
	}
	if from != "" || to != "" {
		if from == "" || to == "" {
			return q, fmt.Errorf("--from and --to must be used together")
		}
		var err error
		if q.from, err = time.Parse(time.RFC3339, from); err != nil {
			return q, fmt.Errorf("invalid --from: %w", err)
		}
		if q.to, err = time.Parse(time.RFC3339, to); err != nil {
			return q, fmt.Errorf("invalid --to: %w", err)
		}
		q.byRange = true
		selectors++
	}

	switch selectors {
	case 0:
		return q, fmt.Errorf("specify an order ID, --type, or --from/--to")
	case 1:
		return q, nil
	default:
		return q, fmt.Errorf("order ID, --type and --from/--to are mutually exclusive")
	}
}

func (q eventQuery) run(ctx context.Context, store *orderstream.EventStore) ([]orderstream.Event, error) {
	switch {
	case q.orderID != "":
		return store.GetEvents(ctx, q.orderID)
	case q.eventType != "":
		return store.GetEventsByType(ctx, q.eventType)
	default:
		return store.GetEventsInDateRange(ctx, q.from, q.to)
	}
}

// NewReplayCommand creates the replay command
func NewReplayCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "replay <order-id>",
		Short: "Fold an order's history without writing anything",
		Long: `Fold an order's history from the event store and print the resulting state.

Neither the event store nor the projection is modified.`,
		Args: cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			return withApp(c, opts, func(ctx context.Context, a *app) error {
				out := c.OutOrStdout()

				result, err := a.store.ReplayEvents(ctx, args[0])
				if err != nil {
					fmt.Fprintln(out, styles.FormatError(fmt.Sprintf("Replay failed after %d event(s)", result.EventsReplayed)))
					return err
				}
				if result.EventsReplayed == 0 {
					fmt.Fprintln(out, styles.FormatWarning(fmt.Sprintf("No events for %s", args[0])))
					return nil
				}

				fmt.Fprintln(out, styles.FormatSuccess(fmt.Sprintf("Replayed %d event(s)", result.EventsReplayed)))
				printState(out, result.State)
				return nil
			})
		},
	}
}
