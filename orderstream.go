// Package orderstream provides an event-sourced order lifecycle: an append-only
// event store with optimistic concurrency, a projection (read model) and the
// application service that ties them together.
//
// # Quick Start
//
// Create an event store and a projection with the in-memory adapters:
//
//	import (
//	    "github.com/AshkanYarmoradi/orderstream"
//	    "github.com/AshkanYarmoradi/orderstream/adapters/memory"
//	)
//
//	store := orderstream.New(memory.NewAdapter())
//	projection := orderstream.NewProjection(memory.NewProjectionStore(), store)
//	service := orderstream.NewOrderService(store, projection)
//
// For production, use the PostgreSQL or SQLite adapters:
//
//	adapter, err := postgres.NewAdapter(connStr)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := adapter.Initialize(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	store := orderstream.New(adapter)
//
// # Executing Commands
//
// Every command loads the order's history, folds it, runs the command and
// appends the resulting event with the version that was loaded:
//
//	state, err := service.Execute(ctx, "ord-1", orderstream.CreateOrder{
//	    CustomerID:      "c1",
//	    Items:           []order.LineItem{{SKU: "A", Quantity: 2}},
//	    TotalAmount:     decimal.RequireFromString("40.00"),
//	    ShippingAddress: "Via Roma 1",
//	})
//	// state.Status == order.StatusCreated, state.Version == 1
//
//	state, err = service.PayOrder(ctx, "ord-1", "card", "tx-123")
//
// # Optimistic Concurrency
//
// Two commands racing on the same order both load version N; the store admits
// exactly one append at N+1 and the other fails with ErrConcurrencyConflict.
// The service never retries on its own:
//
//	if orderstream.IsRetryable(err) {
//	    // reload happens automatically on the next Execute
//	    state, err = service.Execute(ctx, id, cmd)
//	}
//
// # Read Model
//
// The projection is updated after every successful append. It is a disposable
// cache and can always be rebuilt from the event store:
//
//	view, err := projection.Get(ctx, "ord-1")
//	report, err := projection.RebuildAll(ctx)
//
// # Post-commit Listeners
//
// Listeners run after the append and the projection update. Their failures are
// logged and never fail the command:
//
//	service := orderstream.NewOrderService(store, projection,
//	    orderstream.WithListeners(
//	        orderstream.NewNotificationListener(notifier),
//	        orderstream.NewInventoryListener(inventory),
//	    ),
//	)
package orderstream

// Version returns the library version string.
func Version() string {
	return "0.3.0"
}
