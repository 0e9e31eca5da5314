// Package order contains the event-sourced Order aggregate.
//
// An Order never stores its current state directly. State is derived by folding
// the ordered history of events recorded for one order id:
//
//	o, err := order.Rehydrate("ord-1", history)
//	if err != nil {
//		return err
//	}
//	if err := o.Pay("card", "tx-123"); err != nil {
//		return err // no event produced
//	}
//	pending := o.UncommittedEvents()
//
// The set of events is closed. Every consumer dispatches through Visitor, so
// adding an event type fails to compile until every visitor handles it.
package order

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ErrUnknownEventType is returned when a stored type name does not belong to the order event set.
var ErrUnknownEventType = errors.New("orderstream: unknown event type")

// EventType names a fact recorded for an order.
type EventType string

// Order event types.
const (
	TypeOrderCreated   EventType = "OrderCreated"
	TypeOrderPaid      EventType = "OrderPaid"
	TypeOrderShipped   EventType = "OrderShipped"
	TypeOrderDelivered EventType = "OrderDelivered"
	TypeOrderCancelled EventType = "OrderCancelled"
	TypeOrderRefunded  EventType = "OrderRefunded"
)

// EventTypes lists every order event type in lifecycle order.
func EventTypes() []EventType {
	return []EventType{
		TypeOrderCreated,
		TypeOrderPaid,
		TypeOrderShipped,
		TypeOrderDelivered,
		TypeOrderCancelled,
		TypeOrderRefunded,
	}
}

// String returns the type name.
func (t EventType) String() string {
	return string(t)
}

// ParseEventType validates a stored type name.
func ParseEventType(s string) (EventType, error) {
	for _, t := range EventTypes() {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownEventType, s)
}

// Event is the closed set of order event payloads.
// Only types declared in this package satisfy it.
type Event interface {
	EventType() EventType
	Accept(v Visitor)
	isOrderEvent()
}

// Visitor handles each order event type.
type Visitor interface {
	VisitOrderCreated(e OrderCreated)
	VisitOrderPaid(e OrderPaid)
	VisitOrderShipped(e OrderShipped)
	VisitOrderDelivered(e OrderDelivered)
	VisitOrderCancelled(e OrderCancelled)
	VisitOrderRefunded(e OrderRefunded)
}

// LineItem is one ordered product.
type LineItem struct {
	SKU       string          `json:"sku" msgpack:"sku"`
	Quantity  int             `json:"quantity" msgpack:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice" msgpack:"unitPrice"`
}

// OrderCreated starts an order.
type OrderCreated struct {
	OrderID         string          `json:"orderId" msgpack:"orderId"`
	CustomerID      string          `json:"customerId" msgpack:"customerId"`
	Items           []LineItem      `json:"items" msgpack:"items"`
	TotalAmount     decimal.Decimal `json:"totalAmount" msgpack:"totalAmount"`
	ShippingAddress string          `json:"shippingAddress" msgpack:"shippingAddress"`
}

// OrderPaid records a successful payment.
type OrderPaid struct {
	PaymentMethod string `json:"paymentMethod" msgpack:"paymentMethod"`
	TransactionID string `json:"transactionId" msgpack:"transactionId"`
}

// OrderShipped records the hand-over to a carrier.
type OrderShipped struct {
	TrackingNumber string `json:"trackingNumber" msgpack:"trackingNumber"`
	Carrier        string `json:"carrier" msgpack:"carrier"`
}

// OrderDelivered records the delivery to the customer.
type OrderDelivered struct {
	DeliveryConfirmation string `json:"deliveryConfirmation" msgpack:"deliveryConfirmation"`
}

// OrderCancelled records a cancellation.
type OrderCancelled struct {
	Reason string `json:"reason" msgpack:"reason"`
}

// OrderRefunded records a refund.
type OrderRefunded struct {
	Amount decimal.Decimal `json:"amount" msgpack:"amount"`
	Reason string          `json:"reason" msgpack:"reason"`
}

func (OrderCreated) EventType() EventType   { return TypeOrderCreated }
func (OrderPaid) EventType() EventType      { return TypeOrderPaid }
func (OrderShipped) EventType() EventType   { return TypeOrderShipped }
func (OrderDelivered) EventType() EventType { return TypeOrderDelivered }
func (OrderCancelled) EventType() EventType { return TypeOrderCancelled }
func (OrderRefunded) EventType() EventType  { return TypeOrderRefunded }

func (e OrderCreated) Accept(v Visitor)   { v.VisitOrderCreated(e) }
func (e OrderPaid) Accept(v Visitor)      { v.VisitOrderPaid(e) }
func (e OrderShipped) Accept(v Visitor)   { v.VisitOrderShipped(e) }
func (e OrderDelivered) Accept(v Visitor) { v.VisitOrderDelivered(e) }
func (e OrderCancelled) Accept(v Visitor) { v.VisitOrderCancelled(e) }
func (e OrderRefunded) Accept(v Visitor)  { v.VisitOrderRefunded(e) }

func (OrderCreated) isOrderEvent()   {}
func (OrderPaid) isOrderEvent()      {}
func (OrderShipped) isOrderEvent()   {}
func (OrderDelivered) isOrderEvent() {}
func (OrderCancelled) isOrderEvent() {}
func (OrderRefunded) isOrderEvent()  {}

// Envelope is one event in the history of an order.
type Envelope struct {
	AggregateID string
	// Sequence is the 1-based position within the order's history.
	Sequence   int64
	OccurredAt time.Time
	Payload    Event
}

// Type returns the payload's event type.
func (e Envelope) Type() EventType {
	if e.Payload == nil {
		return ""
	}
	return e.Payload.EventType()
}

// UnmarshalFunc decodes data into v. Both encoding/json.Unmarshal and
// msgpack.Unmarshal satisfy it.
type UnmarshalFunc func(data []byte, v interface{}) error

// NewEvent returns the zero payload for a type name.
func NewEvent(eventType string) (Event, error) {
	switch EventType(eventType) {
	case TypeOrderCreated:
		return OrderCreated{}, nil
	case TypeOrderPaid:
		return OrderPaid{}, nil
	case TypeOrderShipped:
		return OrderShipped{}, nil
	case TypeOrderDelivered:
		return OrderDelivered{}, nil
	case TypeOrderCancelled:
		return OrderCancelled{}, nil
	case TypeOrderRefunded:
		return OrderRefunded{}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, eventType)
}

// Decode builds the payload for eventType from data.
// The returned event is always a value, never a pointer.
func Decode(eventType string, data []byte, unmarshal UnmarshalFunc) (Event, error) {
	switch EventType(eventType) {
	case TypeOrderCreated:
		return decodeAs[OrderCreated](data, unmarshal)
	case TypeOrderPaid:
		return decodeAs[OrderPaid](data, unmarshal)
	case TypeOrderShipped:
		return decodeAs[OrderShipped](data, unmarshal)
	case TypeOrderDelivered:
		return decodeAs[OrderDelivered](data, unmarshal)
	case TypeOrderCancelled:
		return decodeAs[OrderCancelled](data, unmarshal)
	case TypeOrderRefunded:
		return decodeAs[OrderRefunded](data, unmarshal)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, eventType)
}

func decodeAs[T Event](data []byte, unmarshal UnmarshalFunc) (Event, error) {
	var e T
	if err := unmarshal(data, &e); err != nil {
		return nil, err
	}
	return e, nil
}
