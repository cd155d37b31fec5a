package order

import "github.com/google/uuid"

// QueryOrdersModel represents filter parameters for querying orders.
type QueryOrdersModel struct {
	TenantID uuid.UUID   `json:"tenantId"`
	UserID   uuid.UUID   `json:"userId"`
	Ids      []uuid.UUID `json:"ids,omitempty"`
	Limit    int         `json:"limit,omitempty"`
	Offset   int         `json:"offset,omitempty"`
}

// CreateOrderModel is the validated input of order creation.
type CreateOrderModel struct {
	RestaurantID        uuid.UUID
	OrderType           Type
	DeliveryAddress     string
	SpecialInstructions string
	Items               []CreateItemModel
}

// CreateItemModel is one requested line of a new order.
type CreateItemModel struct {
	MenuItemID uuid.UUID
	Quantity   int
	Notes      string
}
