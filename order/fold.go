package order

import (
	"time"

	"github.com/shopspring/decimal"
)

// State is the derived state of one order.
type State struct {
	OrderID         string          `json:"orderId"`
	CustomerID      string          `json:"customerId"`
	Items           []LineItem      `json:"items"`
	TotalAmount     decimal.Decimal `json:"totalAmount"`
	ShippingAddress string          `json:"shippingAddress"`
	Status          Status          `json:"status"`

	PaymentMethod        string              `json:"paymentMethod,omitempty"`
	TransactionID        string              `json:"transactionId,omitempty"`
	TrackingNumber       string              `json:"trackingNumber,omitempty"`
	Carrier              string              `json:"carrier,omitempty"`
	DeliveryConfirmation string              `json:"deliveryConfirmation,omitempty"`
	CancellationReason   string              `json:"cancellationReason,omitempty"`
	RefundAmount         decimal.NullDecimal `json:"refundAmount"`
	RefundReason         string              `json:"refundReason,omitempty"`

	// Version is the number of events applied.
	Version   int64     `json:"version"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Clone returns a copy that shares no slices with s.
func (s State) Clone() State {
	if s.Items != nil {
		s.Items = append([]LineItem(nil), s.Items...)
	}
	return s
}

// Exists reports whether an OrderCreated has been applied.
func (s State) Exists() bool {
	return s.Version > 0
}

// Apply returns the state that results from applying env to s.
// It is pure: s is not modified and nothing outside the envelope is consulted.
func Apply(s State, env Envelope) State {
	next := s.Clone()
	if env.Payload == nil {
		return next
	}
	env.Payload.Accept(&applier{state: &next, at: env.OccurredAt})
	next.Version = env.Sequence
	next.UpdatedAt = env.OccurredAt
	return next
}

// Fold derives the state of an order from its complete history.
// The history must be contiguous from sequence 1 and belong to a single aggregate.
func Fold(history []Envelope) (State, error) {
	var s State
	if len(history) == 0 {
		return s, nil
	}
	id := history[0].AggregateID
	for i, env := range history {
		if err := checkEnvelope(id, int64(i+1), env); err != nil {
			return State{}, err
		}
		s = Apply(s, env)
	}
	return s, nil
}

func checkEnvelope(aggregateID string, want int64, env Envelope) error {
	if env.AggregateID != aggregateID {
		return corruptHistory("event %d belongs to %q, not %q", env.Sequence, env.AggregateID, aggregateID)
	}
	if env.Sequence != want {
		return corruptHistory("aggregate %q: expected sequence %d, got %d", aggregateID, want, env.Sequence)
	}
	if env.Payload == nil {
		return corruptHistory("aggregate %q: event %d has no payload", aggregateID, env.Sequence)
	}
	if want == 1 && env.Type() != TypeOrderCreated {
		return corruptHistory("aggregate %q: history starts with %s", aggregateID, env.Type())
	}
	if want > 1 && env.Type() == TypeOrderCreated {
		return corruptHistory("aggregate %q: OrderCreated at sequence %d", aggregateID, env.Sequence)
	}
	return nil
}

// applier is the fold's Visitor. It is the only code that writes State fields.
type applier struct {
	state *State
	at    time.Time
}

var _ Visitor = (*applier)(nil)

func (a *applier) VisitOrderCreated(e OrderCreated) {
	a.state.OrderID = e.OrderID
	a.state.CustomerID = e.CustomerID
	a.state.Items = append([]LineItem(nil), e.Items...)
	a.state.TotalAmount = e.TotalAmount
	a.state.ShippingAddress = e.ShippingAddress
	a.state.Status = StatusCreated
	a.state.CreatedAt = a.at
}

func (a *applier) VisitOrderPaid(e OrderPaid) {
	a.state.PaymentMethod = e.PaymentMethod
	a.state.TransactionID = e.TransactionID
	a.state.Status = StatusPaid
}

func (a *applier) VisitOrderShipped(e OrderShipped) {
	a.state.TrackingNumber = e.TrackingNumber
	a.state.Carrier = e.Carrier
	a.state.Status = StatusShipped
}

func (a *applier) VisitOrderDelivered(e OrderDelivered) {
	a.state.DeliveryConfirmation = e.DeliveryConfirmation
	a.state.Status = StatusDelivered
}

func (a *applier) VisitOrderCancelled(e OrderCancelled) {
	a.state.CancellationReason = e.Reason
	a.state.Status = StatusCancelled
}

func (a *applier) VisitOrderRefunded(e OrderRefunded) {
	a.state.RefundAmount = decimal.NewNullDecimal(e.Amount)
	a.state.RefundReason = e.Reason
	a.state.Status = StatusRefunded
}
