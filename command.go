package orderstream

import (
	"github.com/shopspring/decimal"

	"github.com/AshkanYarmoradi/orderstream/order"
)

// Command represents an intent to change one order.
// The set of commands is closed: only the types in this package implement it.
type Command interface {
	// CommandType returns the type identifier for this command (e.g., "CreateOrder").
	CommandType() string

	apply(o *order.Order) error
}

// CreateOrder starts a new order. It is the only command accepted for an
// order without history.
type CreateOrder struct {
	CustomerID      string           `json:"customerId"`
	Items           []order.LineItem `json:"items"`
	TotalAmount     decimal.Decimal  `json:"totalAmount"`
	ShippingAddress string           `json:"shippingAddress"`
}

// PayOrder records the payment of a created order.
type PayOrder struct {
	PaymentMethod string `json:"paymentMethod"`
	TransactionID string `json:"transactionId"`
}

// ShipOrder records the shipment of a paid order.
type ShipOrder struct {
	TrackingNumber string `json:"trackingNumber"`
	Carrier        string `json:"carrier"`
}

// DeliverOrder records the delivery of a shipped order.
type DeliverOrder struct {
	DeliveryConfirmation string `json:"deliveryConfirmation"`
}

// CancelOrder cancels an order that is not yet in a terminal status.
type CancelOrder struct {
	Reason string `json:"reason"`
}

// RefundOrder refunds a delivered or cancelled order.
type RefundOrder struct {
	Amount decimal.Decimal `json:"amount"`
	Reason string          `json:"reason"`
}

func (CreateOrder) CommandType() string  { return order.CommandCreate }
func (PayOrder) CommandType() string     { return order.CommandPay }
func (ShipOrder) CommandType() string    { return order.CommandShip }
func (DeliverOrder) CommandType() string { return order.CommandDeliver }
func (CancelOrder) CommandType() string  { return order.CommandCancel }
func (RefundOrder) CommandType() string  { return order.CommandRefund }

func (c CreateOrder) apply(o *order.Order) error {
	return o.Create(c.CustomerID, c.Items, c.TotalAmount, c.ShippingAddress)
}

func (c PayOrder) apply(o *order.Order) error {
	return o.Pay(c.PaymentMethod, c.TransactionID)
}

func (c ShipOrder) apply(o *order.Order) error {
	return o.Ship(c.TrackingNumber, c.Carrier)
}

func (c DeliverOrder) apply(o *order.Order) error {
	return o.Deliver(c.DeliveryConfirmation)
}

func (c CancelOrder) apply(o *order.Order) error {
	return o.Cancel(c.Reason)
}

func (c RefundOrder) apply(o *order.Order) error {
	return o.Refund(c.Amount, c.Reason)
}

var (
	_ Command = CreateOrder{}
	_ Command = PayOrder{}
	_ Command = ShipOrder{}
	_ Command = DeliverOrder{}
	_ Command = CancelOrder{}
	_ Command = RefundOrder{}
)
