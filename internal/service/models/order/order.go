package order

import (
	"errors"
	"time"

	"github.com/corray333/backend-labs/foodorder/internal/service/models/currency"
	"github.com/corray333/backend-labs/foodorder/internal/service/models/orderitem"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of an order.
type Status string

const (
	StatusPending        Status = "pending"
	StatusPaymentPending Status = "payment_pending"
	StatusConfirmed      Status = "confirmed"

	// Downstream states owned by fulfilment. This service never sets them.
	StatusPreparing      Status = "preparing"
	StatusReady          Status = "ready"
	StatusOutForDelivery Status = "out_for_delivery"
	StatusDelivered      Status = "delivered"
	StatusCancelled      Status = "cancelled"
)

var ErrInvalidStateTransition = errors.New("invalid order state transition")

func (s Status) String() string {
	return string(s)
}

// CanTransitionTo reports whether s -> next is an edge of the
// payment state machine.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusPaymentPending
	case StatusPaymentPending:
		return next == StatusConfirmed || next == StatusPending
	default:
		return false
	}
}

// Type is the fulfilment type requested by the customer.
type Type string

const (
	TypeDelivery Type = "delivery"
	TypePickup   Type = "pickup"
	TypeDineIn   Type = "dine_in"
)

var ErrInvalidType = errors.New("invalid order type")

func (t Type) String() string {
	return string(t)
}

// ParseType parses an order type, defaulting to delivery when empty.
func ParseType(s string) (Type, error) {
	switch Type(s) {
	case "":
		return TypeDelivery, nil
	case TypeDelivery, TypePickup, TypeDineIn:
		return Type(s), nil
	default:
		return "", ErrInvalidType
	}
}

// Order represents a customer order.
type Order struct {
	ID                  uuid.UUID             `json:"id"`
	TenantID            uuid.UUID             `json:"tenantId"`
	UserID              uuid.UUID             `json:"userId"`
	RestaurantID        uuid.UUID             `json:"restaurantId"`
	OrderNumber         string                `json:"orderNumber"`
	Status              Status                `json:"status"`
	OrderType           Type                  `json:"orderType"`
	TotalAmount         decimal.Decimal       `json:"totalAmount"`
	Currency            currency.Currency     `json:"currency"`
	DeliveryAddress     string                `json:"deliveryAddress,omitempty"`
	SpecialInstructions string                `json:"specialInstructions,omitempty"`
	MpesaReceiptNumber  string                `json:"mpesaReceiptNumber,omitempty"`
	CreatedAt           time.Time             `json:"createdAt"`
	UpdatedAt           time.Time             `json:"updatedAt"`
	Items               []orderitem.OrderItem `json:"items"`
}

// ItemsTotal sums the line totals of the order's items.
func (o *Order) ItemsTotal() decimal.Decimal {
	total := decimal.Zero
	for _, item := range o.Items {
		total = total.Add(item.ItemTotal)
	}

	return total
}

// StatusUpdate moves an order from one status to another.
type StatusUpdate struct {
	ID            uuid.UUID
	From          Status
	To            Status
	ReceiptNumber string
	UpdatedAt     time.Time
}
