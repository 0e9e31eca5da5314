package commands

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/AshkanYarmoradi/orderstream"
	"github.com/AshkanYarmoradi/orderstream/cli/styles"
	"github.com/AshkanYarmoradi/orderstream/cli/ui"
	"github.com/AshkanYarmoradi/orderstream/order"
)

// NewOrderCommand creates the order command and its subcommands
func NewOrderCommand(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "order",
		Short: "Run order commands and inspect orders",
		Long: `Run commands against an order and inspect the read model.

Examples:
  orderstream order create ord-1 --customer c1 --item A:2:20.00 --address "Via Roma 1"
  orderstream order pay ord-1 --method card --transaction tx-123
  orderstream order ship ord-1 --tracking TRK1 --carrier DHL
  orderstream order show ord-1
  orderstream order list --status paid`,
	}

	cmd.AddCommand(newOrderCreateCommand(opts))
	cmd.AddCommand(newOrderPayCommand(opts))
	cmd.AddCommand(newOrderShipCommand(opts))
	cmd.AddCommand(newOrderDeliverCommand(opts))
	cmd.AddCommand(newOrderCancelCommand(opts))
	cmd.AddCommand(newOrderRefundCommand(opts))
	cmd.AddCommand(newOrderShowCommand(opts))
	cmd.AddCommand(newOrderListCommand(opts))

	return cmd
}

// runOrderCommand executes cmd against the order named by the first argument
// and prints the resulting state.
func runOrderCommand(c *cobra.Command, opts *globalOptions, orderID string, cmd orderstream.Command) error {
	return withApp(c, opts, func(ctx context.Context, a *app) error {
		state, err := a.service.Execute(ctx, orderID, cmd)
		if err != nil {
			return err
		}
		out := c.OutOrStdout()
		fmt.Fprintln(out, styles.FormatSuccess(fmt.Sprintf("%s applied to %s (version %d)", cmd.CommandType(), orderID, state.Version)))
		printState(out, state)
		return nil
	})
}

func newOrderCreateCommand(opts *globalOptions) *cobra.Command {
	var (
		customerID string
		items      []string
		total      string
		address    string
	)

	cmd := &cobra.Command{
		Use:   "create <order-id>",
		Short: "Place a new order",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			lineItems := make([]order.LineItem, 0, len(items))
			for _, raw := range items {
				item, err := parseLineItem(raw)
				if err != nil {
					return err
				}
				lineItems = append(lineItems, item)
			}

			amount := lineItemsTotal(lineItems)
			if total != "" {
				var err error
				amount, err = decimal.NewFromString(total)
				if err != nil {
					return fmt.Errorf("invalid --total %q: %w", total, err)
				}
			}

			return runOrderCommand(c, opts, args[0], orderstream.CreateOrder{
				CustomerID:      customerID,
				Items:           lineItems,
				TotalAmount:     amount,
				ShippingAddress: address,
			})
		},
	}

	cmd.Flags().StringVar(&customerID, "customer", "", "Customer ID")
	cmd.Flags().StringArrayVar(&items, "item", nil, "Line item as SKU:QUANTITY:UNIT_PRICE (repeatable)")
	cmd.Flags().StringVar(&total, "total", "", "Total amount (default: sum of line items)")
	cmd.Flags().StringVar(&address, "address", "", "Shipping address")

	return cmd
}

func newOrderPayCommand(opts *globalOptions) *cobra.Command {
	var method, transactionID string

	cmd := &cobra.Command{
		Use:   "pay <order-id>",
		Short: "Record the payment of an order",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			return runOrderCommand(c, opts, args[0], orderstream.PayOrder{
				PaymentMethod: method,
				TransactionID: transactionID,
			})
		},
	}

	cmd.Flags().StringVar(&method, "method", "", "Payment method")
	cmd.Flags().StringVar(&transactionID, "transaction", "", "Payment transaction ID")

	return cmd
}

func newOrderShipCommand(opts *globalOptions) *cobra.Command {
	var tracking, carrier string

	cmd := &cobra.Command{
		Use:   "ship <order-id>",
		Short: "Ship a paid order",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			return runOrderCommand(c, opts, args[0], orderstream.ShipOrder{
				TrackingNumber: tracking,
				Carrier:        carrier,
			})
		},
	}

	cmd.Flags().StringVar(&tracking, "tracking", "", "Tracking number")
	cmd.Flags().StringVar(&carrier, "carrier", "", "Carrier")

	return cmd
}

func newOrderDeliverCommand(opts *globalOptions) *cobra.Command {
	var confirmation string

	cmd := &cobra.Command{
		Use:   "deliver <order-id>",
		Short: "Confirm the delivery of a shipped order",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			return runOrderCommand(c, opts, args[0], orderstream.DeliverOrder{
				DeliveryConfirmation: confirmation,
			})
		},
	}

	cmd.Flags().StringVar(&confirmation, "confirmation", "", "Delivery confirmation")

	return cmd
}

func newOrderCancelCommand(opts *globalOptions) *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "cancel <order-id>",
		Short: "Cancel an order that has not shipped",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			return runOrderCommand(c, opts, args[0], orderstream.CancelOrder{Reason: reason})
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "", "Cancellation reason")

	return cmd
}

func newOrderRefundCommand(opts *globalOptions) *cobra.Command {
	var amount, reason string

	cmd := &cobra.Command{
		Use:   "refund <order-id>",
		Short: "Refund a delivered or cancelled order",
		Args:  cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			value, err := decimal.NewFromString(amount)
			if err != nil {
				return fmt.Errorf("invalid --amount %q: %w", amount, err)
			}
			return runOrderCommand(c, opts, args[0], orderstream.RefundOrder{
				Amount: value,
				Reason: reason,
			})
		},
	}

	cmd.Flags().StringVar(&amount, "amount", "", "Refund amount")
	cmd.Flags().StringVar(&reason, "reason", "", "Refund reason")
	_ = cmd.MarkFlagRequired("amount")

	return cmd
}

func newOrderShowCommand(opts *globalOptions) *cobra.Command {
	var fromEvents bool

	cmd := &cobra.Command{
		Use:   "show <order-id>",
		Short: "Show the current state of an order",
		Long: `Show the current state of an order from the read model.

With --from-events the state is folded from the event history instead.`,
		Args: cobra.ExactArgs(1),
		RunE: func(c *cobra.Command, args []string) error {
			return withApp(c, opts, func(ctx context.Context, a *app) error {
				out := c.OutOrStdout()
				if fromEvents {
					o, err := a.store.LoadOrder(ctx, args[0])
					if err != nil {
						return err
					}
					if o.State().Version == 0 {
						return orderstream.NewAggregateNotFoundError(args[0], "show")
					}
					printState(out, o.State())
					return nil
				}

				view, err := a.service.Get(ctx, args[0])
				if err != nil {
					return err
				}
				printView(out, view)
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&fromEvents, "from-events", false, "Fold the event history instead of reading the projection")

	return cmd
}

func newOrderListCommand(opts *globalOptions) *cobra.Command {
	var (
		status     string
		customerID string
		limit      int
		offset     int
	)

	cmd := &cobra.Command{
		Use:     "list",
		Short:   "List orders from the read model",
		Aliases: []string{"ls"},
		Args:    cobra.NoArgs,
		RunE: func(c *cobra.Command, args []string) error {
			filter := orderstream.ListFilter{
				Status:     order.Status(status),
				CustomerID: customerID,
				Limit:      limit,
				Offset:     offset,
			}
			if status != "" && !filter.Status.Valid() {
				return fmt.Errorf("unknown status %q", status)
			}

			return withApp(c, opts, func(ctx context.Context, a *app) error {
				views, err := a.service.List(ctx, filter)
				if err != nil {
					return err
				}

				out := c.OutOrStdout()
				if len(views) == 0 {
					fmt.Fprintln(out, styles.FormatInfo("No orders found"))
					return nil
				}

				fmt.Fprintln(out, styles.Title.Render(styles.IconList+" Orders"))
				table := ui.NewTable("Order", "Customer", "Status", "Total", "Version", "Updated")
				for _, v := range views {
					table.AddRow(v.OrderID, v.CustomerID, ui.StatusBadge(v.Status),
						v.TotalAmount.StringFixed(2), strconv.FormatInt(v.Version, 10),
						v.UpdatedAt.UTC().Format("2006-01-02 15:04:05"))
				}
				fmt.Fprintln(out, table.Render())
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "Filter by status")
	cmd.Flags().StringVar(&customerID, "customer", "", "Filter by customer ID")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum number of orders")
	cmd.Flags().IntVar(&offset, "offset", 0, "Number of orders to skip")

	return cmd
}

// parseLineItem parses SKU:QUANTITY:UNIT_PRICE.
func parseLineItem(raw string) (order.LineItem, error) {
	parts := strings.Split(raw, ":")
	if len(parts) != 3 {
		return order.LineItem{}, fmt.Errorf("invalid --item %q: want SKU:QUANTITY:UNIT_PRICE", raw)
	}
	qty, err := strconv.Atoi(parts[1])
	if err != nil {
		return order.LineItem{}, fmt.Errorf("invalid quantity in --item %q: %w", raw, err)
	}
	price, err := decimal.NewFromString(parts[2])
	if err != nil {
		return order.LineItem{}, fmt.Errorf("invalid unit price in --item %q: %w", raw, err)
	}
	return order.LineItem{SKU: parts[0], Quantity: qty, UnitPrice: price}, nil
}

func lineItemsTotal(items []order.LineItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.UnitPrice.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	return total
}

func printState(out io.Writer, s order.State) {
	printView(out, orderstream.ViewFromState(s))
}

func printView(out io.Writer, v *orderstream.OrderView) {
	fmt.Fprintln(out)
	fmt.Fprintln(out, styles.FormatKeyValue("Order", v.OrderID))
	fmt.Fprintln(out, styles.FormatKeyValue("Status", styles.FormatStatus(v.Status)))
	fmt.Fprintln(out, styles.FormatKeyValue("Customer", v.CustomerID))
	fmt.Fprintln(out, styles.FormatKeyValue("Total", v.TotalAmount.StringFixed(2)))
	fmt.Fprintln(out, styles.FormatKeyValue("Shipping address", v.ShippingAddress))
	fmt.Fprintln(out, styles.FormatKeyValue("Version", strconv.FormatInt(v.Version, 10)))

	optional := []struct{ key, value string }{
		{"Payment method", v.PaymentMethod},
		{"Transaction", v.TransactionID},
		{"Tracking number", v.TrackingNumber},
		{"Carrier", v.Carrier},
		{"Delivery confirmation", v.DeliveryConfirmation},
		{"Cancellation reason", v.CancellationReason},
		{"Refund reason", v.RefundReason},
	}
	for _, kv := range optional {
		if kv.value != "" {
			fmt.Fprintln(out, styles.FormatKeyValue(kv.key, kv.value))
		}
	}
	if v.RefundAmount.Valid {
		fmt.Fprintln(out, styles.FormatKeyValue("Refund amount", v.RefundAmount.Decimal.StringFixed(2)))
	}

	if len(v.Items) > 0 {
		table := ui.NewTable("SKU", "Quantity", "Unit price")
		for _, item := range v.Items {
			table.AddRow(item.SKU, strconv.Itoa(item.Quantity), item.UnitPrice.StringFixed(2))
		}
		fmt.Fprintln(out, table.Render())
	}
}
