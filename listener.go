package orderstream

import (
	"context"
	"fmt"

	"github.com/AshkanYarmoradi/orderstream/order"
)

// EventListener reacts to events after they are durably committed.
// Listener errors are logged by the service and never fail the command.
type EventListener interface {
	OnCommitted(ctx context.Context, event Event, state order.State) error
}

// EventListenerFunc adapts a function to EventListener.
type EventListenerFunc func(ctx context.Context, event Event, state order.State) error

// OnCommitted calls f.
func (f EventListenerFunc) OnCommitted(ctx context.Context, event Event, state order.State) error {
	return f(ctx, event, state)
}

// NotificationPort delivers customer notifications.
type NotificationPort interface {
	Send(ctx context.Context, customerID string, eventType order.EventType, details map[string]string) error
}

// InventoryPort adjusts stock levels.
type InventoryPort interface {
	DecreaseStock(ctx context.Context, sku string, quantity int) error
	IncreaseStock(ctx context.Context, sku string, quantity int) error
}

// NotificationListener notifies the customer of every committed order event.
type NotificationListener struct {
	port NotificationPort
}

// NewNotificationListener creates a listener sending through port.
func NewNotificationListener(port NotificationPort) *NotificationListener {
	return &NotificationListener{port: port}
}

// OnCommitted sends one notification for the event.
func (l *NotificationListener) OnCommitted(ctx context.Context, event Event, state order.State) error {
	if state.CustomerID == "" {
		return nil
	}
	return l.port.Send(ctx, state.CustomerID, event.Type, NotificationDetails(event, state))
}

// NotificationDetails returns the human-facing fields of a committed event.
func NotificationDetails(event Event, state order.State) map[string]string {
	details := map[string]string{
		"order_id": event.AggregateID,
		"status":   state.Status.String(),
		"version":  fmt.Sprint(event.Sequence),
	}
	switch e := event.Payload.(type) {
	case order.OrderCreated:
		details["total_amount"] = e.TotalAmount.StringFixed(2)
		details["shipping_address"] = e.ShippingAddress
	case order.OrderPaid:
		details["payment_method"] = e.PaymentMethod
	case order.OrderShipped:
		details["tracking_number"] = e.TrackingNumber
		details["carrier"] = e.Carrier
	case order.OrderDelivered:
		details["delivery_confirmation"] = e.DeliveryConfirmation
	case order.OrderCancelled:
		details["reason"] = e.Reason
	case order.OrderRefunded:
		details["amount"] = e.Amount.StringFixed(2)
		details["reason"] = e.Reason
	}
	return details
}

// InventoryListener reserves stock when an order is created and releases it
// when the order is cancelled.
type InventoryListener struct {
	port InventoryPort
}

// NewInventoryListener creates a listener adjusting stock through port.
func NewInventoryListener(port InventoryPort) *InventoryListener {
	return &InventoryListener{port: port}
}

// OnCommitted adjusts the stock of every line item of the order.
func (l *InventoryListener) OnCommitted(ctx context.Context, event Event, state order.State) error {
	var adjust func(context.Context, string, int) error
	switch event.Type {
	case order.TypeOrderCreated:
		adjust = l.port.DecreaseStock
	case order.TypeOrderCancelled:
		adjust = l.port.IncreaseStock
	default:
		return nil
	}

	for _, item := range state.Items {
		if err := adjust(ctx, item.SKU, item.Quantity); err != nil {
			return fmt.Errorf("orderstream: adjust stock of %s: %w", item.SKU, err)
		}
	}
	return nil
}

var (
	_ EventListener = (*NotificationListener)(nil)
	_ EventListener = (*InventoryListener)(nil)
	_ EventListener = EventListenerFunc(nil)
)
