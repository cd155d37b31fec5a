package menuitem

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MenuItem is a sellable item together with its inventory counter.
// InventoryCount never drops below zero.
type MenuItem struct {
	ID             uuid.UUID       `json:"id"`
	TenantID       uuid.UUID       `json:"tenantId"`
	RestaurantID   uuid.UUID       `json:"restaurantId"`
	Name           string          `json:"name"`
	Price          decimal.Decimal `json:"price"`
	IsAvailable    bool            `json:"isAvailable"`
	InventoryCount int             `json:"inventoryCount"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}
