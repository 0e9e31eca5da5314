package orderstream_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AshkanYarmoradi/orderstream"
	"github.com/AshkanYarmoradi/orderstream/adapters/memory"
	"github.com/AshkanYarmoradi/orderstream/order"
	"github.com/AshkanYarmoradi/orderstream/testing/bdd"
	"github.com/AshkanYarmoradi/orderstream/testing/testutil"
)

type harness struct {
	adapter    *testutil.MockAdapter
	views      *testutil.MockProjectionStore
	store      *orderstream.EventStore
	projection *orderstream.Projection
	service    *orderstream.OrderService
}

func newHarness(opts ...orderstream.ServiceOption) *harness {
	h := &harness{
		adapter: testutil.NewMockAdapter(),
		views:   testutil.NewMockProjectionStore(),
	}
	h.store = orderstream.New(h.adapter)
	h.projection = orderstream.NewProjection(h.views, h.store)
	h.service = orderstream.NewOrderService(h.store, h.projection, opts...)
	return h
}

func items() []order.LineItem {
	return []order.LineItem{{SKU: "A", Quantity: 2, UnitPrice: decimal.RequireFromString("20.00")}}
}

func forty() decimal.Decimal {
	return decimal.RequireFromString("40.00")
}

func createOrder(t *testing.T, s *orderstream.OrderService, orderID string) {
	t.Helper()
	_, err := s.CreateOrder(context.Background(), orderID, "c1", items(), forty(), "Via Roma 1")
	require.NoError(t, err)
}

func TestOrderService_Scenarios(t *testing.T) {
	ctx := context.Background()

	t.Run("create order", func(t *testing.T) {
		h := newHarness()

		state, err := h.service.CreateOrder(ctx, "ord-1", "c1", items(), forty(), "Via Roma 1")

		require.NoError(t, err)
		assert.Equal(t, order.StatusCreated, state.Status)
		assert.Equal(t, int64(1), state.Version)
		assert.Equal(t, "c1", state.CustomerID)
	})

	t.Run("pay order", func(t *testing.T) {
		h := newHarness()
		createOrder(t, h.service, "ord-1")

		state, err := h.service.PayOrder(ctx, "ord-1", "card", "tx-123")

		require.NoError(t, err)
		assert.Equal(t, order.StatusPaid, state.Status)
		assert.Equal(t, int64(2), state.Version)
	})

	t.Run("ship before pay", func(t *testing.T) {
		h := newHarness()
		createOrder(t, h.service, "ord-1")

		_, err := h.service.ShipOrder(ctx, "ord-1", "TRK1", "DHL")

		assert.ErrorIs(t, err, orderstream.ErrInvalidStateTransition)
		version, err := h.store.CurrentVersion(ctx, "ord-1")
		require.NoError(t, err)
		assert.Equal(t, int64(1), version)
	})

	t.Run("refund exceeding total", func(t *testing.T) {
		h := newHarness()
		bdd.GivenCommand(t, h.service, "ord-1").
			WithExistingEvents(testutil.Lifecycle("ord-1")...).
			When(orderstream.RefundOrder{Amount: decimal.RequireFromString("50.00"), Reason: "defect"}).
			ThenFails(orderstream.ErrInvalidArgument)
	})

	t.Run("cancel delivered order", func(t *testing.T) {
		h := newHarness()
		bdd.GivenCommand(t, h.service, "ord-1").
			WithExistingEvents(testutil.Lifecycle("ord-1")...).
			When(orderstream.CancelOrder{Reason: "customer request"}).
			ThenFails(orderstream.ErrInvalidStateTransition)
	})

	t.Run("full happy path", func(t *testing.T) {
		h := newHarness()
		createOrder(t, h.service, "ord-1")

		_, err := h.service.PayOrder(ctx, "ord-1", "card", "tx-123")
		require.NoError(t, err)
		_, err = h.service.ShipOrder(ctx, "ord-1", "TRK1", "DHL")
		require.NoError(t, err)
		_, err = h.service.DeliverOrder(ctx, "ord-1", "signed")
		require.NoError(t, err)
		state, err := h.service.RefundOrder(ctx, "ord-1", decimal.RequireFromString("15.50"), "defect")
		require.NoError(t, err)

		assert.Equal(t, order.StatusRefunded, state.Status)
		assert.Equal(t, int64(5), state.Version)
		require.True(t, state.RefundAmount.Valid)
		assert.True(t, decimal.RequireFromString("15.50").Equal(state.RefundAmount.Decimal))

		history, err := h.service.History(ctx, "ord-1")
		require.NoError(t, err)
		require.Len(t, history, 5)
		for i, e := range history {
			assert.Equal(t, int64(i+1), e.Sequence)
		}
	})
}

func TestOrderService_Execute(t *testing.T) {
	ctx := context.Background()

	t.Run("rejected commands write nothing", func(t *testing.T) {
		h := newHarness()
		createOrder(t, h.service, "ord-1")
		calls := h.adapter.AppendCalls

		commands := []orderstream.Command{
			orderstream.CreateOrder{CustomerID: "c1", Items: items(), TotalAmount: forty()},
			orderstream.DeliverOrder{},
			orderstream.RefundOrder{Amount: decimal.NewFromInt(1)},
			orderstream.PayOrder{PaymentMethod: "", TransactionID: "tx"},
		}
		for _, cmd := range commands {
			_, err := h.service.Execute(ctx, "ord-1", cmd)
			assert.Error(t, err, cmd.CommandType())
		}

		assert.Equal(t, calls, h.adapter.AppendCalls)
		version, err := h.store.CurrentVersion(ctx, "ord-1")
		require.NoError(t, err)
		assert.Equal(t, int64(1), version)
	})

	t.Run("command on unknown order is aggregate not found", func(t *testing.T) {
		h := newHarness()

		_, err := h.service.PayOrder(ctx, "ghost", "card", "tx-1")

		assert.ErrorIs(t, err, orderstream.ErrAggregateNotFound)
		var notFound *orderstream.AggregateNotFoundError
		require.ErrorAs(t, err, &notFound)
		assert.Equal(t, "ghost", notFound.AggregateID)
		assert.Equal(t, order.CommandPay, notFound.CommandType)
		assert.Equal(t, 0, h.adapter.AppendCalls)
	})

	t.Run("nil command and empty id", func(t *testing.T) {
		h := newHarness()

		_, err := h.service.Execute(ctx, "ord-1", nil)
		assert.ErrorIs(t, err, orderstream.ErrNilCommand)

		_, err = h.service.Execute(ctx, "", orderstream.CancelOrder{})
		assert.ErrorIs(t, err, orderstream.ErrEmptyAggregateID)
	})

	t.Run("store failure is surfaced and nothing is projected", func(t *testing.T) {
		h := newHarness()
		h.adapter.SetAppendErr(errors.New("connection refused"))

		_, err := h.service.CreateOrder(ctx, "ord-1", "c1", items(), forty(), "Via Roma 1")

		assert.ErrorIs(t, err, orderstream.ErrStoreUnavailable)
		assert.Equal(t, 0, h.views.Upserts)
	})

	t.Run("load failure is surfaced", func(t *testing.T) {
		h := newHarness()
		h.adapter.LoadErr = errors.New("timeout")

		_, err := h.service.CreateOrder(ctx, "ord-1", "c1", items(), forty(), "Via Roma 1")

		assert.ErrorIs(t, err, orderstream.ErrStoreUnavailable)
	})

	t.Run("events carry the service clock", func(t *testing.T) {
		at := time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)
		h := newHarness(orderstream.WithServiceClock(func() time.Time { return at }))
		createOrder(t, h.service, "ord-1")

		history, err := h.service.History(ctx, "ord-1")
		require.NoError(t, err)
		assert.True(t, at.Equal(history[0].OccurredAt))
	})
}

func TestOrderService_Concurrency(t *testing.T) {
	ctx := context.Background()

	t.Run("interleaved commands yield one conflict", func(t *testing.T) {
		h := newHarness()
		createOrder(t, h.service, "ord-1")

		var fired bool
		var innerErr error
		h.adapter.BeforeAppend = func(aggregateID string, expectedVersion int64) {
			if fired {
				return
			}
			fired = true
			_, innerErr = h.service.CancelOrder(ctx, "ord-1", "customer request")
		}

		_, outerErr := h.service.PayOrder(ctx, "ord-1", "card", "tx-123")

		require.NoError(t, innerErr)
		assert.ErrorIs(t, outerErr, orderstream.ErrConcurrencyConflict)
		assert.True(t, orderstream.IsRetryable(outerErr))

		history, err := h.service.History(ctx, "ord-1")
		require.NoError(t, err)
		require.Len(t, history, 2)
		assert.Equal(t, order.TypeOrderCancelled, history[1].Type)
	})

	t.Run("parallel commands from the same version", func(t *testing.T) {
		h := newHarness()
		createOrder(t, h.service, "ord-1")

		// Both commands load version 1 before either appends.
		var loaded sync.WaitGroup
		loaded.Add(2)
		h.adapter.BeforeAppend = func(string, int64) {
			loaded.Done()
			loaded.Wait()
		}

		errs := make([]error, 2)
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, errs[0] = h.service.PayOrder(ctx, "ord-1", "card", "tx-123")
		}()
		go func() {
			defer wg.Done()
			_, errs[1] = h.service.CancelOrder(ctx, "ord-1", "changed mind")
		}()
		wg.Wait()

		succeeded, conflicted := 0, 0
		for _, err := range errs {
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, orderstream.ErrConcurrencyConflict):
				conflicted++
			default:
				t.Fatalf("unexpected error: %v", err)
			}
		}
		assert.Equal(t, 1, succeeded)
		assert.Equal(t, 1, conflicted)

		version, err := h.store.CurrentVersion(ctx, "ord-1")
		require.NoError(t, err)
		assert.Equal(t, int64(2), version)
	})

	t.Run("retry after conflict succeeds", func(t *testing.T) {
		h := newHarness()
		createOrder(t, h.service, "ord-1")

		var fired bool
		h.adapter.BeforeAppend = func(string, int64) {
			if fired {
				return
			}
			fired = true
			_, err := h.service.PayOrder(ctx, "ord-1", "card", "tx-1")
			require.NoError(t, err)
		}
		_, err := h.service.CancelOrder(ctx, "ord-1", "first try")
		require.ErrorIs(t, err, orderstream.ErrConcurrencyConflict)

		state, err := h.service.CancelOrder(ctx, "ord-1", "second try")
		require.NoError(t, err)
		assert.Equal(t, order.StatusCancelled, state.Status)
		assert.Equal(t, int64(3), state.Version)
	})
}

func TestOrderService_Projection(t *testing.T) {
	ctx := context.Background()

	t.Run("read model follows commands", func(t *testing.T) {
		h := newHarness()
		createOrder(t, h.service, "ord-1")
		_, err := h.service.PayOrder(ctx, "ord-1", "card", "tx-123")
		require.NoError(t, err)

		view, err := h.service.Get(ctx, "ord-1")
		require.NoError(t, err)
		assert.Equal(t, order.StatusPaid, view.Status)
		assert.Equal(t, int64(2), view.Version)
		assert.Equal(t, "tx-123", view.TransactionID)
	})

	t.Run("projection failure does not fail the command", func(t *testing.T) {
		h := newHarness()
		h.views.FailUpserts(errors.New("read model down"))

		state, err := h.service.CreateOrder(ctx, "ord-1", "c1", items(), forty(), "Via Roma 1")
		require.NoError(t, err)
		assert.Equal(t, int64(1), state.Version)

		_, err = h.service.Get(ctx, "ord-1")
		assert.ErrorIs(t, err, orderstream.ErrProjectionNotFound)

		h.views.FailUpserts(nil)
		report, err := h.projection.RebuildAll(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, report.Orders)

		view, err := h.service.Get(ctx, "ord-1")
		require.NoError(t, err)
		assert.Equal(t, order.StatusCreated, view.Status)
	})

	t.Run("list filters by status", func(t *testing.T) {
		h := newHarness()
		createOrder(t, h.service, "ord-1")
		createOrder(t, h.service, "ord-2")
		_, err := h.service.CancelOrder(ctx, "ord-2", "duplicate")
		require.NoError(t, err)

		views, err := h.service.List(ctx, orderstream.ListFilter{Status: order.StatusCancelled})
		require.NoError(t, err)
		require.Len(t, views, 1)
		assert.Equal(t, "ord-2", views[0].OrderID)
	})

	t.Run("without a projection reads replay the history", func(t *testing.T) {
		store := orderstream.New(memory.NewAdapter())
		service := orderstream.NewOrderService(store, nil)
		createOrder(t, service, "ord-1")

		view, err := service.Get(ctx, "ord-1")
		require.NoError(t, err)
		assert.Equal(t, order.StatusCreated, view.Status)

		_, err = service.Get(ctx, "ord-2")
		assert.ErrorIs(t, err, orderstream.ErrAggregateNotFound)

		_, err = service.List(ctx, orderstream.ListFilter{})
		assert.ErrorIs(t, err, orderstream.ErrProjectionNotFound)
	})
}

type recordingPorts struct {
	mu            sync.Mutex
	notifications []order.EventType
	stock         map[string]int
	failSend      error
}

func (p *recordingPorts) Send(ctx context.Context, customerID string, eventType order.EventType, details map[string]string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.notifications = append(p.notifications, eventType)
	return p.failSend
}

func (p *recordingPorts) DecreaseStock(ctx context.Context, sku string, quantity int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stock[sku] -= quantity
	return nil
}

func (p *recordingPorts) IncreaseStock(ctx context.Context, sku string, quantity int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stock[sku] += quantity
	return nil
}

func TestOrderService_Listeners(t *testing.T) {
	ctx := context.Background()

	t.Run("notifies and adjusts stock after commit", func(t *testing.T) {
		ports := &recordingPorts{stock: map[string]int{}}
		h := newHarness(orderstream.WithListeners(
			orderstream.NewNotificationListener(ports),
			orderstream.NewInventoryListener(ports),
		))

		createOrder(t, h.service, "ord-1")
		assert.Equal(t, -2, ports.stock["A"])

		_, err := h.service.CancelOrder(ctx, "ord-1", "customer request")
		require.NoError(t, err)

		assert.Equal(t, 0, ports.stock["A"])
		assert.Equal(t, []order.EventType{order.TypeOrderCreated, order.TypeOrderCancelled}, ports.notifications)
	})

	t.Run("rejected commands notify nobody", func(t *testing.T) {
		ports := &recordingPorts{stock: map[string]int{}}
		h := newHarness(orderstream.WithListeners(orderstream.NewNotificationListener(ports)))
		createOrder(t, h.service, "ord-1")

		_, err := h.service.DeliverOrder(ctx, "ord-1", "signed")
		require.Error(t, err)

		assert.Len(t, ports.notifications, 1)
	})

	t.Run("listener errors and panics are contained", func(t *testing.T) {
		ports := &recordingPorts{stock: map[string]int{}, failSend: errors.New("smtp down")}
		var after int
		h := newHarness(orderstream.WithListeners(
			orderstream.NewNotificationListener(ports),
			orderstream.EventListenerFunc(func(context.Context, orderstream.Event, order.State) error {
				panic("boom")
			}),
			orderstream.EventListenerFunc(func(context.Context, orderstream.Event, order.State) error {
				after++
				return nil
			}),
		))

		state, err := h.service.CreateOrder(ctx, "ord-1", "c1", items(), forty(), "Via Roma 1")

		require.NoError(t, err)
		assert.Equal(t, int64(1), state.Version)
		assert.Equal(t, 1, after)
	})

	t.Run("listeners see committed positions", func(t *testing.T) {
		var seen []orderstream.Event
		h := newHarness(orderstream.WithListeners(orderstream.EventListenerFunc(
			func(_ context.Context, e orderstream.Event, _ order.State) error {
				seen = append(seen, e)
				return nil
			})))
		createOrder(t, h.service, "ord-1")

		require.Len(t, seen, 1)
		assert.NotEmpty(t, seen[0].ID)
		assert.Equal(t, int64(1), seen[0].Sequence)
		assert.Positive(t, seen[0].GlobalPosition)
	})
}

func TestOrderService_Middleware(t *testing.T) {
	ctx := context.Background()

	t.Run("applies middleware in order", func(t *testing.T) {
		var trace []string
		tag := func(name string) orderstream.Middleware {
			return func(next orderstream.MiddlewareFunc) orderstream.MiddlewareFunc {
				return func(ctx context.Context, orderID string, cmd orderstream.Command) (order.State, error) {
					trace = append(trace, name)
					return next(ctx, orderID, cmd)
				}
			}
		}
		h := newHarness(orderstream.WithMiddleware(tag("first")))
		h.service.Use(tag("second"))

		createOrder(t, h.service, "ord-1")

		assert.Equal(t, []string{"first", "second"}, trace)
	})

	t.Run("correlation id reaches stored metadata", func(t *testing.T) {
		h := newHarness(orderstream.WithMiddleware(
			orderstream.CorrelationIDMiddleware(func() string { return "corr-42" }),
		))
		createOrder(t, h.service, "ord-1")

		history, err := h.service.History(ctx, "ord-1")
		require.NoError(t, err)
		assert.Equal(t, "corr-42", history[0].Metadata.CorrelationID)
	})
}
