package order

// Status is the lifecycle position of an order.
type Status string

// Order statuses. StatusNone is the state before any event was applied.
const (
	StatusNone      Status = ""
	StatusCreated   Status = "created"
	StatusPaid      Status = "paid"
	StatusShipped   Status = "shipped"
	StatusDelivered Status = "delivered"
	StatusCancelled Status = "cancelled"
	StatusRefunded  Status = "refunded"
)

// Statuses lists every reachable status.
func Statuses() []Status {
	return []Status{StatusCreated, StatusPaid, StatusShipped, StatusDelivered, StatusCancelled, StatusRefunded}
}

// String returns the status name, or "none" before creation.
func (s Status) String() string {
	if s == StatusNone {
		return "none"
	}
	return string(s)
}

// IsTerminal reports whether no forward transition other than a refund leaves the status.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusDelivered, StatusCancelled, StatusRefunded:
		return true
	}
	return false
}

// Valid reports whether s is a known, reachable status.
func (s Status) Valid() bool {
	for _, v := range Statuses() {
		if v == s {
			return true
		}
	}
	return false
}
