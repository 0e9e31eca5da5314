package order_test

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AshkanYarmoradi/orderstream/order"
	"github.com/AshkanYarmoradi/orderstream/testing/bdd"
)

var (
	created = order.OrderCreated{
		OrderID:         "ord-1",
		CustomerID:      "c1",
		Items:           []order.LineItem{{SKU: "A", Quantity: 2}},
		TotalAmount:     decimal.RequireFromString("40.00"),
		ShippingAddress: "Via Roma 1",
	}
	paid      = order.OrderPaid{PaymentMethod: "card", TransactionID: "tx-123"}
	shipped   = order.OrderShipped{TrackingNumber: "TRK1", Carrier: "DHL"}
	delivered = order.OrderDelivered{DeliveryConfirmation: "signed"}
	cancelled = order.OrderCancelled{Reason: "customer request"}
	refunded  = order.OrderRefunded{Amount: decimal.RequireFromString("10.00"), Reason: "defect"}
)

func TestOrder_Create(t *testing.T) {
	t.Run("creates order", func(t *testing.T) {
		f := bdd.Given(t, "ord-1").
			When(func(o *order.Order) error {
				return o.Create("c1", []order.LineItem{{SKU: "A", Quantity: 2}}, decimal.RequireFromString("40.00"), "Via Roma 1")
			}).
			Then(created)

		f.ThenState(order.StatusCreated, 1)
	})

	t.Run("rejects second create", func(t *testing.T) {
		bdd.Given(t, "ord-1", created).
			When(func(o *order.Order) error {
				return o.Create("c1", created.Items, created.TotalAmount, created.ShippingAddress)
			}).
			ThenError(order.ErrInvalidStateTransition)
	})

	invalid := []struct {
		name     string
		customer string
		items    []order.LineItem
		total    decimal.Decimal
	}{
		{"empty customer", "", created.Items, created.TotalAmount},
		{"no items", "c1", nil, created.TotalAmount},
		{"empty sku", "c1", []order.LineItem{{Quantity: 1}}, created.TotalAmount},
		{"zero quantity", "c1", []order.LineItem{{SKU: "A"}}, created.TotalAmount},
		{"negative quantity", "c1", []order.LineItem{{SKU: "A", Quantity: -1}}, created.TotalAmount},
		{"negative unit price", "c1", []order.LineItem{{SKU: "A", Quantity: 1, UnitPrice: decimal.NewFromInt(-1)}}, created.TotalAmount},
		{"negative total", "c1", created.Items, decimal.NewFromInt(-1)},
	}
	for _, tc := range invalid {
		t.Run(tc.name, func(t *testing.T) {
			bdd.Given(t, "ord-1").
				When(func(o *order.Order) error {
					return o.Create(tc.customer, tc.items, tc.total, "Via Roma 1")
				}).
				ThenError(order.ErrInvalidArgument)
		})
	}

	t.Run("copies items", func(t *testing.T) {
		items := []order.LineItem{{SKU: "A", Quantity: 2}}
		o := order.New("ord-1")
		require.NoError(t, o.Create("c1", items, decimal.NewFromInt(40), "Via Roma 1"))

		items[0].SKU = "mutated"

		assert.Equal(t, "A", o.State().Items[0].SKU)
	})
}

func TestOrder_Pay(t *testing.T) {
	t.Run("pays created order", func(t *testing.T) {
		bdd.Given(t, "ord-1", created).
			When(func(o *order.Order) error { return o.Pay("card", "tx-123") }).
			Then(paid).
			ThenState(order.StatusPaid, 2)
	})

	t.Run("requires payment method", func(t *testing.T) {
		bdd.Given(t, "ord-1", created).
			When(func(o *order.Order) error { return o.Pay("", "tx-123") }).
			ThenError(order.ErrInvalidArgument)
	})

	t.Run("requires transaction id", func(t *testing.T) {
		bdd.Given(t, "ord-1", created).
			When(func(o *order.Order) error { return o.Pay("card", "") }).
			ThenError(order.ErrInvalidArgument)
	})

	t.Run("state is checked before arguments", func(t *testing.T) {
		bdd.Given(t, "ord-1", created, paid).
			When(func(o *order.Order) error { return o.Pay("", "") }).
			ThenError(order.ErrInvalidStateTransition)
	})
}

func TestOrder_Ship(t *testing.T) {
	t.Run("ships paid order", func(t *testing.T) {
		bdd.Given(t, "ord-1", created, paid).
			When(func(o *order.Order) error { return o.Ship("TRK1", "DHL") }).
			Then(shipped).
			ThenState(order.StatusShipped, 3)
	})

	t.Run("cannot ship before payment", func(t *testing.T) {
		f := bdd.Given(t, "ord-1", created).
			When(func(o *order.Order) error { return o.Ship("TRK1", "DHL") })

		f.ThenError(order.ErrInvalidStateTransition)
		f.ThenState(order.StatusCreated, 1)
	})

	t.Run("requires tracking and carrier", func(t *testing.T) {
		bdd.Given(t, "ord-1", created, paid).
			When(func(o *order.Order) error { return o.Ship("", "DHL") }).
			ThenError(order.ErrInvalidArgument)
		bdd.Given(t, "ord-1", created, paid).
			When(func(o *order.Order) error { return o.Ship("TRK1", "") }).
			ThenError(order.ErrInvalidArgument)
	})
}

func TestOrder_Deliver(t *testing.T) {
	bdd.Given(t, "ord-1", created, paid, shipped).
		When(func(o *order.Order) error { return o.Deliver("signed") }).
		Then(delivered).
		ThenState(order.StatusDelivered, 4)

	bdd.Given(t, "ord-1", created, paid).
		When(func(o *order.Order) error { return o.Deliver("signed") }).
		ThenError(order.ErrInvalidStateTransition)
}

func TestOrder_Cancel(t *testing.T) {
	allowed := map[string][]order.Event{
		"created": {created},
		"paid":    {created, paid},
		"shipped": {created, paid, shipped},
	}
	for name, history := range allowed {
		t.Run("cancels "+name, func(t *testing.T) {
			bdd.Given(t, "ord-1", history...).
				When(func(o *order.Order) error { return o.Cancel("customer request") }).
				Then(cancelled).
				ThenState(order.StatusCancelled, int64(len(history)+1))
		})
	}

	rejected := map[string][]order.Event{
		"none":      nil,
		"delivered": {created, paid, shipped, delivered},
		"cancelled": {created, cancelled},
		"refunded":  {created, paid, shipped, delivered, refunded},
	}
	for name, history := range rejected {
		t.Run("rejects "+name, func(t *testing.T) {
			bdd.Given(t, "ord-1", history...).
				When(func(o *order.Order) error { return o.Cancel("customer request") }).
				ThenError(order.ErrInvalidStateTransition)
		})
	}
}

func TestOrder_Refund(t *testing.T) {
	t.Run("refunds delivered order", func(t *testing.T) {
		bdd.Given(t, "ord-1", created, paid, shipped, delivered).
			When(func(o *order.Order) error { return o.Refund(decimal.RequireFromString("10.00"), "defect") }).
			Then(refunded).
			ThenState(order.StatusRefunded, 5)
	})

	t.Run("refunds cancelled order", func(t *testing.T) {
		bdd.Given(t, "ord-1", created, cancelled).
			When(func(o *order.Order) error { return o.Refund(decimal.NewFromInt(10), "defect") }).
			Then(refunded)
	})

	t.Run("full refund is allowed", func(t *testing.T) {
		bdd.Given(t, "ord-1", created, paid, shipped, delivered).
			When(func(o *order.Order) error { return o.Refund(decimal.NewFromInt(40), "defect") }).
			Then(order.OrderRefunded{Amount: decimal.NewFromInt(40), Reason: "defect"})
	})

	t.Run("refund exceeding total", func(t *testing.T) {
		f := bdd.Given(t, "ord-1", created, paid, shipped, delivered).
			When(func(o *order.Order) error { return o.Refund(decimal.RequireFromString("50.00"), "defect") })

		f.ThenError(order.ErrInvalidArgument)
		f.ThenErrorContains("exceeds total amount 40.00")

		var argErr *order.ArgumentError
		require.True(t, errors.As(f.Order().Refund(decimal.NewFromInt(50), "defect"), &argErr))
		assert.Equal(t, "amount", argErr.Field)
	})

	t.Run("non-positive amount", func(t *testing.T) {
		bdd.Given(t, "ord-1", created, paid, shipped, delivered).
			When(func(o *order.Order) error { return o.Refund(decimal.Zero, "defect") }).
			ThenError(order.ErrInvalidArgument)
	})

	t.Run("not refundable from paid", func(t *testing.T) {
		bdd.Given(t, "ord-1", created, paid).
			When(func(o *order.Order) error { return o.Refund(decimal.NewFromInt(1), "defect") }).
			ThenError(order.ErrInvalidStateTransition)
	})
}

func TestOrder_TransitionTable(t *testing.T) {
	histories := map[order.Status][]order.Event{
		order.StatusNone:      nil,
		order.StatusCreated:   {created},
		order.StatusPaid:      {created, paid},
		order.StatusShipped:   {created, paid, shipped},
		order.StatusDelivered: {created, paid, shipped, delivered},
		order.StatusCancelled: {created, cancelled},
		order.StatusRefunded:  {created, paid, shipped, delivered, refunded},
	}

	commands := []struct {
		name  string
		valid []order.Status
		run   func(o *order.Order) error
	}{
		{order.CommandCreate, []order.Status{order.StatusNone}, func(o *order.Order) error {
			return o.Create("c1", created.Items, created.TotalAmount, "Via Roma 1")
		}},
		{order.CommandPay, []order.Status{order.StatusCreated}, func(o *order.Order) error {
			return o.Pay("card", "tx-1")
		}},
		{order.CommandShip, []order.Status{order.StatusPaid}, func(o *order.Order) error {
			return o.Ship("TRK1", "DHL")
		}},
		{order.CommandDeliver, []order.Status{order.StatusShipped}, func(o *order.Order) error {
			return o.Deliver("signed")
		}},
		{order.CommandCancel, []order.Status{order.StatusCreated, order.StatusPaid, order.StatusShipped}, func(o *order.Order) error {
			return o.Cancel("reason")
		}},
		{order.CommandRefund, []order.Status{order.StatusDelivered, order.StatusCancelled}, func(o *order.Order) error {
			return o.Refund(decimal.NewFromInt(1), "reason")
		}},
	}

	for _, cmd := range commands {
		for from, history := range histories {
			t.Run(cmd.name+" from "+from.String(), func(t *testing.T) {
				o, err := order.Rehydrate("ord-1", bdd.History("ord-1", history...))
				require.NoError(t, err)
				before := o.State()

				err = cmd.run(o)

				if contains(cmd.valid, from) {
					require.NoError(t, err)
					assert.Len(t, o.UncommittedEvents(), 1)
					assert.Equal(t, before.Version+1, o.Version())
					return
				}
				var transitionErr *order.TransitionError
				require.ErrorAs(t, err, &transitionErr)
				assert.Equal(t, cmd.name, transitionErr.Command)
				assert.Equal(t, from, transitionErr.From)
				assert.Empty(t, o.UncommittedEvents())
				assert.Equal(t, before, o.State())
			})
		}
	}
}

func TestOrder_HappyPath(t *testing.T) {
	o := order.New("ord-1")

	require.NoError(t, o.Create("c1", []order.LineItem{{SKU: "A", Quantity: 2}}, decimal.RequireFromString("40.00"), "Via Roma 1"))
	require.NoError(t, o.Pay("card", "tx-123"))
	require.NoError(t, o.Ship("TRK1", "DHL"))
	require.NoError(t, o.Deliver("signed"))
	require.NoError(t, o.Refund(decimal.RequireFromString("40.00"), "defect"))

	assert.Equal(t, order.StatusRefunded, o.Status())
	assert.Equal(t, int64(5), o.Version())

	events := o.UncommittedEvents()
	require.Len(t, events, 5)
	for i, env := range events {
		assert.Equal(t, "ord-1", env.AggregateID)
		assert.Equal(t, int64(i+1), env.Sequence)
	}

	o.ClearUncommittedEvents()
	assert.False(t, o.HasUncommittedEvents())
	assert.Equal(t, int64(5), o.Version())
}

func TestOrder_Clock(t *testing.T) {
	at := time.Date(2024, 3, 1, 10, 30, 0, 123456789, time.FixedZone("CET", 3600))
	o := order.New("ord-1", order.WithClock(func() time.Time { return at }))

	require.NoError(t, o.Create("c1", created.Items, created.TotalAmount, "Via Roma 1"))

	env := o.UncommittedEvents()[0]
	assert.Equal(t, time.UTC, env.OccurredAt.Location())
	assert.True(t, env.OccurredAt.Equal(at.Truncate(time.Microsecond)))
	assert.True(t, o.State().CreatedAt.Equal(env.OccurredAt))
	assert.True(t, o.State().UpdatedAt.Equal(env.OccurredAt))
}

func TestRehydrate(t *testing.T) {
	t.Run("replays history", func(t *testing.T) {
		o, err := order.Rehydrate("ord-1", bdd.History("ord-1", created, paid))
		require.NoError(t, err)

		assert.Equal(t, order.StatusPaid, o.Status())
		assert.Equal(t, int64(2), o.Version())
		assert.False(t, o.HasUncommittedEvents())
	})

	t.Run("rejects foreign events", func(t *testing.T) {
		history := bdd.History("ord-1", created, paid)
		history[1].AggregateID = "ord-2"

		_, err := order.Rehydrate("ord-1", history)
		assert.ErrorIs(t, err, order.ErrCorruptHistory)
	})

	t.Run("rejects gaps", func(t *testing.T) {
		history := bdd.History("ord-1", created, paid, shipped)
		history = append(history[:1], history[2:]...)

		_, err := order.Rehydrate("ord-1", history)
		assert.ErrorIs(t, err, order.ErrCorruptHistory)
	})

	t.Run("rejects history not starting with creation", func(t *testing.T) {
		_, err := order.Rehydrate("ord-1", bdd.History("ord-1", paid))
		assert.ErrorIs(t, err, order.ErrCorruptHistory)
	})
}

func contains(statuses []order.Status, s order.Status) bool {
	for _, v := range statuses {
		if v == s {
			return true
		}
	}
	return false
}
