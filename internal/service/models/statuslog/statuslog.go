package statuslog

import (
	"time"

	"github.com/corray333/backend-labs/foodorder/internal/service/models/order"
	"github.com/google/uuid"
)

// SystemActor is recorded as ChangedBy for transitions not made by a user.
const SystemActor = "system"

// Entry is one append-only record of an order status transition.
// An empty OldStatus marks the creation of the order.
type Entry struct {
	ID        int64        `json:"id"`
	OrderID   uuid.UUID    `json:"orderId"`
	OldStatus order.Status `json:"oldStatus,omitempty"`
	NewStatus order.Status `json:"newStatus"`
	ChangedBy string       `json:"changedBy"`
	Notes     string       `json:"notes,omitempty"`
	CreatedAt time.Time    `json:"createdAt"`
}

// New builds an entry for the transition old -> next.
func New(orderID uuid.UUID, old, next order.Status, changedBy, notes string) Entry {
	if changedBy == "" {
		changedBy = SystemActor
	}

	return Entry{
		OrderID:   orderID,
		OldStatus: old,
		NewStatus: next,
		ChangedBy: changedBy,
		Notes:     notes,
	}
}
