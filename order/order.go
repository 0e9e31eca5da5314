package order

import (
	"time"

	"github.com/shopspring/decimal"
)

// Command names used in transition errors.
const (
	CommandCreate  = "CreateOrder"
	CommandPay     = "PayOrder"
	CommandShip    = "ShipOrder"
	CommandDeliver = "DeliverOrder"
	CommandCancel  = "CancelOrder"
	CommandRefund  = "RefundOrder"
)

// Order is the event-sourced order aggregate.
// An Order is not safe for concurrent use; build a fresh one per command.
type Order struct {
	id          string
	state       State
	uncommitted []Envelope
	clock       func() time.Time
}

// Option configures an Order.
type Option func(*Order)

// WithClock sets the clock used to stamp newly raised events.
// It is never consulted while folding history.
func WithClock(clock func() time.Time) Option {
	return func(o *Order) {
		if clock != nil {
			o.clock = clock
		}
	}
}

// New creates an order with no history.
func New(id string, opts ...Option) *Order {
	o := &Order{
		id:    id,
		clock: time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Rehydrate rebuilds an order from its stored history.
// Every envelope must belong to id and sequences must be contiguous from 1.
func Rehydrate(id string, history []Envelope, opts ...Option) (*Order, error) {
	o := New(id, opts...)
	for i, env := range history {
		if err := checkEnvelope(id, int64(i+1), env); err != nil {
			return nil, err
		}
		o.state = Apply(o.state, env)
	}
	return o, nil
}

// ID returns the order id.
func (o *Order) ID() string {
	return o.id
}

// Version returns the number of events applied, including uncommitted ones.
func (o *Order) Version() int64 {
	return o.state.Version
}

// Status returns the current status.
func (o *Order) Status() Status {
	return o.state.Status
}

// State returns a snapshot of the current state.
func (o *Order) State() State {
	return o.state.Clone()
}

// UncommittedEvents returns the events raised since the last clear.
func (o *Order) UncommittedEvents() []Envelope {
	return append([]Envelope(nil), o.uncommitted...)
}

// ClearUncommittedEvents drops the uncommitted buffer after persistence.
func (o *Order) ClearUncommittedEvents() {
	o.uncommitted = nil
}

// HasUncommittedEvents reports whether events are waiting to be persisted.
func (o *Order) HasUncommittedEvents() bool {
	return len(o.uncommitted) > 0
}

// Create starts the order.
func (o *Order) Create(customerID string, items []LineItem, total decimal.Decimal, shippingAddress string) error {
	if o.state.Exists() {
		return invalidTransition(CommandCreate, o.state.Status)
	}
	if customerID == "" {
		return invalidArgument("customer_id", "must not be empty")
	}
	if len(items) == 0 {
		return invalidArgument("items", "must contain at least one line item")
	}
	for _, item := range items {
		if item.SKU == "" {
			return invalidArgument("items", "sku must not be empty")
		}
		if item.Quantity <= 0 {
			return invalidArgument("items", "quantity of "+item.SKU+" must be positive")
		}
		if item.UnitPrice.IsNegative() {
			return invalidArgument("items", "unit price of "+item.SKU+" must not be negative")
		}
	}
	if total.IsNegative() {
		return invalidArgument("total_amount", "must not be negative")
	}
	o.raise(OrderCreated{
		OrderID:         o.id,
		CustomerID:      customerID,
		Items:           append([]LineItem(nil), items...),
		TotalAmount:     total,
		ShippingAddress: shippingAddress,
	})
	return nil
}

// Pay records the payment of a created order.
func (o *Order) Pay(paymentMethod, transactionID string) error {
	if o.state.Status != StatusCreated {
		return invalidTransition(CommandPay, o.state.Status)
	}
	if paymentMethod == "" {
		return invalidArgument("payment_method", "must not be empty")
	}
	if transactionID == "" {
		return invalidArgument("transaction_id", "must not be empty")
	}
	o.raise(OrderPaid{PaymentMethod: paymentMethod, TransactionID: transactionID})
	return nil
}

// Ship records the shipment of a paid order.
func (o *Order) Ship(trackingNumber, carrier string) error {
	if o.state.Status != StatusPaid {
		return invalidTransition(CommandShip, o.state.Status)
	}
	if trackingNumber == "" {
		return invalidArgument("tracking_number", "must not be empty")
	}
	if carrier == "" {
		return invalidArgument("carrier", "must not be empty")
	}
	o.raise(OrderShipped{TrackingNumber: trackingNumber, Carrier: carrier})
	return nil
}

// Deliver records the delivery of a shipped order.
func (o *Order) Deliver(confirmation string) error {
	if o.state.Status != StatusShipped {
		return invalidTransition(CommandDeliver, o.state.Status)
	}
	o.raise(OrderDelivered{DeliveryConfirmation: confirmation})
	return nil
}

// Cancel cancels an order that is not in a terminal status.
func (o *Order) Cancel(reason string) error {
	switch o.state.Status {
	case StatusCreated, StatusPaid, StatusShipped:
	default:
		return invalidTransition(CommandCancel, o.state.Status)
	}
	o.raise(OrderCancelled{Reason: reason})
	return nil
}

// Refund refunds a delivered or cancelled order.
// A cancelled order can be refunded even when it was never paid.
func (o *Order) Refund(amount decimal.Decimal, reason string) error {
	switch o.state.Status {
	case StatusDelivered, StatusCancelled:
	default:
		return invalidTransition(CommandRefund, o.state.Status)
	}
	if !amount.IsPositive() {
		return invalidArgument("amount", "must be positive")
	}
	if amount.GreaterThan(o.state.TotalAmount) {
		return invalidArgument("amount", "refund of "+amount.StringFixed(2)+" exceeds total amount "+o.state.TotalAmount.StringFixed(2))
	}
	o.raise(OrderRefunded{Amount: amount, Reason: reason})
	return nil
}

// raise applies a new event and buffers it for persistence.
func (o *Order) raise(e Event) {
	env := Envelope{
		AggregateID: o.id,
		Sequence:    o.state.Version + 1,
		OccurredAt:  o.clock().UTC().Truncate(time.Microsecond),
		Payload:     e,
	}
	o.state = Apply(o.state, env)
	o.uncommitted = append(o.uncommitted, env)
}
