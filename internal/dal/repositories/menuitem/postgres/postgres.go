package postgresrepo

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/corray333/backend-labs/foodorder/internal/dal/dalerr"
	"github.com/corray333/backend-labs/foodorder/internal/dal/postgres"
	"github.com/corray333/backend-labs/foodorder/internal/service/models/menuitem"
	"github.com/google/uuid"
)

// PostgresMenuItemRepository represents a Postgres menu item repository.
type PostgresMenuItemRepository struct {
	conn postgres.GenericConn
	sb   sq.StatementBuilderType
}

// NewPostgresMenuItemRepository creates a new Postgres menu item repository.
func NewPostgresMenuItemRepository(conn postgres.GenericConn) *PostgresMenuItemRepository {
	return &PostgresMenuItemRepository{
		conn: conn,
		sb:   sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

// GetForUpdate reads a tenant's menu item and locks the row.
func (r *PostgresMenuItemRepository) GetForUpdate(
	ctx context.Context,
	tenantID, id uuid.UUID,
) (menuitem.MenuItem, error) {
	query, args, err := r.sb.
		Select(
			"id",
			"tenant_id",
			"restaurant_id",
			"name",
			"price",
			"is_available",
			"inventory_count",
			"updated_at",
		).
		From("menu_items").
		Where(sq.Eq{"id": id.String(), "tenant_id": tenantID.String()}).
		Suffix("FOR UPDATE").
		ToSql()
	if err != nil {
		return menuitem.MenuItem{}, fmt.Errorf("failed to build select query: %w", err)
	}

	var item menuitem.MenuItem
	err = r.conn.QueryRow(ctx, query, args...).Scan(
		&item.ID,
		&item.TenantID,
		&item.RestaurantID,
		&item.Name,
		&item.Price,
		&item.IsAvailable,
		&item.InventoryCount,
		&item.UpdatedAt,
	)
	if err != nil {
		return menuitem.MenuItem{}, fmt.Errorf("failed to get menu item %s: %w", id, dalerr.Translate(err))
	}

	return item, nil
}

// DecrementInventory subtracts quantity from the counter. The guard in the
// WHERE clause keeps the counter from going negative.
func (r *PostgresMenuItemRepository) DecrementInventory(
	ctx context.Context,
	id uuid.UUID,
	quantity int,
) error {
	query, args, err := r.sb.Update("menu_items").
		Set("inventory_count", sq.Expr("inventory_count - ?", quantity)).
		Set("updated_at", time.Now().UTC()).
		Where(sq.Eq{"id": id.String()}).
		Where(sq.GtOrEq{"inventory_count": quantity}).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build update query: %w", err)
	}

	tag, err := r.conn.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to decrement inventory: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("menu item %s has less than %d left: %w", id, quantity, dalerr.ErrStaleWrite)
	}

	return nil
}
