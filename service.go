package orderstream

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/AshkanYarmoradi/orderstream/order"
)

// OrderService runs commands against orders: load, fold, decide, append,
// project, notify. It keeps no aggregate between calls.
type OrderService struct {
	store      *EventStore
	projection *Projection
	listeners  []EventListener
	logger     Logger
	clock      func() time.Time

	mu         sync.RWMutex
	middleware []Middleware
	handler    MiddlewareFunc
}

// ServiceOption configures an OrderService.
type ServiceOption func(*OrderService)

// WithServiceLogger sets the logger for the service.
func WithServiceLogger(l Logger) ServiceOption {
	return func(s *OrderService) {
		s.logger = l
	}
}

// WithListeners registers post-commit listeners, called in order.
func WithListeners(listeners ...EventListener) ServiceOption {
	return func(s *OrderService) {
		s.listeners = append(s.listeners, listeners...)
	}
}

// WithServiceClock sets the clock stamped on newly raised events.
func WithServiceClock(clock func() time.Time) ServiceOption {
	return func(s *OrderService) {
		s.clock = clock
	}
}

// WithMiddleware adds command middleware, outermost first.
func WithMiddleware(middleware ...Middleware) ServiceOption {
	return func(s *OrderService) {
		s.middleware = append(s.middleware, middleware...)
	}
}

// NewOrderService creates a service over store. projection may be nil, in
// which case no read model is maintained.
func NewOrderService(store *EventStore, projection *Projection, opts ...ServiceOption) *OrderService {
	s := &OrderService{
		store:      store,
		projection: projection,
		logger:     &noopLogger{},
		clock:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.handler = s.buildChain()
	return s
}

// Use adds middleware to the chain. Middleware is applied in the order added.
func (s *OrderService) Use(middleware ...Middleware) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.middleware = append(s.middleware, middleware...)
	s.handler = s.buildChain()
}

func (s *OrderService) buildChain() MiddlewareFunc {
	var handler MiddlewareFunc = s.execute
	for i := len(s.middleware) - 1; i >= 0; i-- {
		handler = s.middleware[i](handler)
	}
	return handler
}

// Store returns the service's event store.
func (s *OrderService) Store() *EventStore {
	return s.store
}

// Projection returns the service's projection, or nil.
func (s *OrderService) Projection() *Projection {
	return s.projection
}

// Execute runs cmd against the order and returns the resulting state.
//
// Domain errors (ErrInvalidStateTransition, ErrInvalidArgument) and store
// errors (ErrConcurrencyConflict, ErrStoreUnavailable) are returned unchanged
// and nothing is written. Projection and listener failures are logged only.
func (s *OrderService) Execute(ctx context.Context, orderID string, cmd Command) (order.State, error) {
	s.mu.RLock()
	handler := s.handler
	s.mu.RUnlock()
	return handler(ctx, orderID, cmd)
}

func (s *OrderService) execute(ctx context.Context, orderID string, cmd Command) (order.State, error) {
	if cmd == nil {
		return order.State{}, ErrNilCommand
	}
	if orderID == "" {
		return order.State{}, ErrEmptyAggregateID
	}

	events, err := s.store.GetEvents(ctx, orderID)
	if err != nil {
		return order.State{}, err
	}
	expected := int64(len(events))

	if expected == 0 && cmd.CommandType() != order.CommandCreate {
		return order.State{}, NewAggregateNotFoundError(orderID, cmd.CommandType())
	}

	o, err := order.Rehydrate(orderID, Envelopes(events), order.WithClock(s.clock))
	if err != nil {
		return order.State{}, err
	}

	if err := cmd.apply(o); err != nil {
		return order.State{}, err
	}

	committed, err := s.store.AppendAll(ctx, orderID, o.UncommittedEvents(), expected)
	o.ClearUncommittedEvents()
	if err != nil {
		return order.State{}, err
	}

	state := o.State()

	if s.projection != nil {
		if err := s.projection.Update(ctx, orderID, state); err != nil {
			s.logger.Warn("Projection update failed", "orderId", orderID, "version", state.Version, "error", err)
		}
	}

	s.notify(ctx, committed, state)

	return state, nil
}

func (s *OrderService) notify(ctx context.Context, committed []Event, state order.State) {
	for _, event := range committed {
		for _, listener := range s.listeners {
			s.callListener(ctx, listener, event, state)
		}
	}
}

func (s *OrderService) callListener(ctx context.Context, listener EventListener, event Event, state order.State) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Listener panicked", "orderId", event.AggregateID, "eventType", event.Type, "panic", r)
		}
	}()
	if err := listener.OnCommitted(ctx, event, state); err != nil {
		s.logger.Warn("Listener failed", "orderId", event.AggregateID, "eventType", event.Type, "error", err)
	}
}

// CreateOrder runs a CreateOrder command.
func (s *OrderService) CreateOrder(ctx context.Context, orderID, customerID string, items []order.LineItem, total decimal.Decimal, shippingAddress string) (order.State, error) {
	return s.Execute(ctx, orderID, CreateOrder{
		CustomerID:      customerID,
		Items:           items,
		TotalAmount:     total,
		ShippingAddress: shippingAddress,
	})
}

// PayOrder runs a PayOrder command.
func (s *OrderService) PayOrder(ctx context.Context, orderID, paymentMethod, transactionID string) (order.State, error) {
	return s.Execute(ctx, orderID, PayOrder{PaymentMethod: paymentMethod, TransactionID: transactionID})
}

// ShipOrder runs a ShipOrder command.
func (s *OrderService) ShipOrder(ctx context.Context, orderID, trackingNumber, carrier string) (order.State, error) {
	return s.Execute(ctx, orderID, ShipOrder{TrackingNumber: trackingNumber, Carrier: carrier})
}

// DeliverOrder runs a DeliverOrder command.
func (s *OrderService) DeliverOrder(ctx context.Context, orderID, confirmation string) (order.State, error) {
	return s.Execute(ctx, orderID, DeliverOrder{DeliveryConfirmation: confirmation})
}

// CancelOrder runs a CancelOrder command.
func (s *OrderService) CancelOrder(ctx context.Context, orderID, reason string) (order.State, error) {
	return s.Execute(ctx, orderID, CancelOrder{Reason: reason})
}

// RefundOrder runs a RefundOrder command.
func (s *OrderService) RefundOrder(ctx context.Context, orderID string, amount decimal.Decimal, reason string) (order.State, error) {
	return s.Execute(ctx, orderID, RefundOrder{Amount: amount, Reason: reason})
}

// Get returns the read-model entry of the order. Without a projection the
// entry is computed by replaying the history.
func (s *OrderService) Get(ctx context.Context, orderID string) (*OrderView, error) {
	if s.projection != nil {
		return s.projection.Get(ctx, orderID)
	}
	result, err := s.store.ReplayEvents(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if result.EventsReplayed == 0 {
		return nil, NewAggregateNotFoundError(orderID, "get")
	}
	return ViewFromState(result.State), nil
}

// List returns the read-model entries matching filter.
func (s *OrderService) List(ctx context.Context, filter ListFilter) ([]*OrderView, error) {
	if s.projection == nil {
		return nil, ErrProjectionNotFound
	}
	return s.projection.List(ctx, filter)
}

// History returns the order's events in sequence order.
func (s *OrderService) History(ctx context.Context, orderID string) ([]Event, error) {
	return s.store.GetEvents(ctx, orderID)
}
