package domain

import "fmt"

// OrderStatus is the business status of an order. Immutable once terminal.
type OrderStatus string

const (
	OrderPending   OrderStatus = "PENDING"
	OrderCompleted OrderStatus = "COMPLETED"
	OrderFailed    OrderStatus = "FAILED"
	OrderCancelled OrderStatus = "CANCELLED"
)

// ParseOrderStatus validates an incoming status string.
func ParseOrderStatus(s string) (OrderStatus, error) {
	switch OrderStatus(s) {
	case OrderPending, OrderCompleted, OrderFailed, OrderCancelled:
		return OrderStatus(s), nil
	}
	return "", fmt.Errorf("%w: invalid order status %q", ErrValidation, s)
}

// ActorType identifies who (or what) triggered a lifecycle transition.
type ActorType string

const (
	ActorCustomer     ActorType = "CUSTOMER"
	ActorPOSTerminal  ActorType = "POS_TERMINAL"
	ActorFiscalDevice ActorType = "FISCAL_DEVICE"
	ActorPrinter      ActorType = "PRINTER"
	ActorKitchen      ActorType = "KITCHEN"
	ActorSystem       ActorType = "SYSTEM"
)
