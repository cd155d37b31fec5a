package imenuitemrepo

import (
	"context"

	"github.com/corray333/backend-labs/foodorder/internal/service/models/menuitem"
	"github.com/google/uuid"
)

// IMenuItemRepository gives access to the inventory ledger.
type IMenuItemRepository interface {
	// GetForUpdate reads a tenant's menu item and locks its row until the transaction ends.
	GetForUpdate(ctx context.Context, tenantID, id uuid.UUID) (menuitem.MenuItem, error)
	// DecrementInventory subtracts quantity, failing with dalerr.ErrStaleWrite
	// if that would make the counter negative.
	DecrementInventory(ctx context.Context, id uuid.UUID, quantity int) error
}
