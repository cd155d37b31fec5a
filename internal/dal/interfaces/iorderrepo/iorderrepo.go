package iorder

import (
	"context"
	"time"

	"github.com/corray333/backend-labs/foodorder/internal/service/models/order"
	"github.com/google/uuid"
)

// IOrderRepository is an interface for order repository.
type IOrderRepository interface {
	Insert(ctx context.Context, o order.Order) (order.Order, error)
	GetByID(ctx context.Context, tenantID, id uuid.UUID) (order.Order, error)
	// GetByIDForUpdate reads the order and locks its row until the transaction ends.
	GetByIDForUpdate(ctx context.Context, tenantID, id uuid.UUID) (order.Order, error)
	// UpdateStatus applies the update only if the order is still in update.From.
	UpdateStatus(ctx context.Context, update order.StatusUpdate) error
	Query(ctx context.Context, filter *order.QueryOrdersModel) ([]order.Order, error)
	// NextSequence atomically increments and returns the tenant's order counter for day.
	NextSequence(ctx context.Context, tenantID uuid.UUID, day time.Time) (int64, error)
}
