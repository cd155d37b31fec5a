package postgresrepo

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/corray333/backend-labs/foodorder/internal/dal/dalerr"
	"github.com/corray333/backend-labs/foodorder/internal/dal/postgres"
	"github.com/corray333/backend-labs/foodorder/internal/service/models/orderitem"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

// OrderItemDal represents order item data access layer model.
type OrderItemDal struct {
	Id           uuid.UUID       `db:"id"`
	OrderId      uuid.UUID       `db:"order_id"`
	MenuItemId   uuid.UUID       `db:"menu_item_id"`
	MenuItemName string          `db:"menu_item_name"`
	Quantity     int             `db:"quantity"`
	UnitPrice    decimal.Decimal `db:"unit_price"`
	ItemTotal    decimal.Decimal `db:"item_total"`
	Notes        string          `db:"notes"`
	CreatedAt    time.Time       `db:"created_at"`
}

// ToModel converts OrderItemDal to service layer OrderItem model.
func (oi *OrderItemDal) ToModel() orderitem.OrderItem {
	return orderitem.OrderItem{
		ID:           oi.Id,
		OrderID:      oi.OrderId,
		MenuItemID:   oi.MenuItemId,
		MenuItemName: oi.MenuItemName,
		Quantity:     oi.Quantity,
		UnitPrice:    oi.UnitPrice,
		ItemTotal:    oi.ItemTotal,
		Notes:        oi.Notes,
		CreatedAt:    oi.CreatedAt,
	}
}

// PostgresOrderItemRepository represents a Postgres order item repository.
type PostgresOrderItemRepository struct {
	conn postgres.GenericConn
	sb   sq.StatementBuilderType
}

// NewPostgresOrderItemRepository creates a new Postgres order item repository.
func NewPostgresOrderItemRepository(conn postgres.GenericConn) *PostgresOrderItemRepository {
	return &PostgresOrderItemRepository{
		conn: conn,
		sb:   sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

// BulkInsert inserts multiple order items in one round trip and returns them as stored.
// Columns are shipped as parallel arrays and zipped back together with unnest.
func (r *PostgresOrderItemRepository) BulkInsert(
	ctx context.Context,
	orderItems []orderitem.OrderItem,
) ([]orderitem.OrderItem, error) {
	if len(orderItems) == 0 {
		return []orderitem.OrderItem{}, nil
	}

	var (
		ids        = make([]string, len(orderItems))
		orderIds   = make([]string, len(orderItems))
		menuIds    = make([]string, len(orderItems))
		names      = make([]string, len(orderItems))
		quantities = make([]int32, len(orderItems))
		unitPrices = make([]string, len(orderItems))
		totals     = make([]string, len(orderItems))
		notes      = make([]string, len(orderItems))
		createdAts = make([]pgtype.Timestamptz, len(orderItems))
	)
	for i, oi := range orderItems {
		id := oi.ID
		if id == uuid.Nil {
			id = uuid.New()
		}
		ids[i] = id.String()
		orderIds[i] = oi.OrderID.String()
		menuIds[i] = oi.MenuItemID.String()
		names[i] = oi.MenuItemName
		quantities[i] = int32(oi.Quantity)
		unitPrices[i] = oi.UnitPrice.String()
		totals[i] = oi.ItemTotal.String()
		notes[i] = oi.Notes
		createdAts[i] = pgtype.Timestamptz{Time: oi.CreatedAt, Valid: true}
	}

	sql := `
		INSERT INTO order_items (id, order_id, menu_item_id, menu_item_name, quantity, unit_price, item_total, notes, created_at)
		SELECT * FROM unnest(
			$1::uuid[], $2::uuid[], $3::uuid[], $4::text[], $5::int[],
			$6::numeric[], $7::numeric[], $8::text[], $9::timestamptz[]
		)
		RETURNING id, order_id, menu_item_id, menu_item_name, quantity, unit_price, item_total, notes, created_at
	`

	rows, err := r.conn.Query(
		ctx, sql,
		ids, orderIds, menuIds, names, quantities, unitPrices, totals, notes, createdAts,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to bulk insert order items: %w", dalerr.Translate(err))
	}
	defer rows.Close()

	result, err := scanOrderItems(rows)
	if err != nil {
		return nil, fmt.Errorf("failed to bulk insert order items: %w", dalerr.Translate(err))
	}

	return result, nil
}

// Query retrieves order items based on filter criteria.
func (r *PostgresOrderItemRepository) Query(
	ctx context.Context,
	filter *orderitem.QueryOrderItemsModel,
) ([]orderitem.OrderItem, error) {
	query := r.sb.
		Select(
			"id",
			"order_id",
			"menu_item_id",
			"menu_item_name",
			"quantity",
			"unit_price",
			"item_total",
			"notes",
			"created_at",
		).
		From("order_items").
		OrderBy("created_at ASC", "id ASC")

	if len(filter.Ids) > 0 {
		query = query.Where(sq.Eq{"id": toStrings(filter.Ids)})
	}

	if len(filter.OrderIds) > 0 {
		query = query.Where(sq.Eq{"order_id": toStrings(filter.OrderIds)})
	}

	if len(filter.MenuItemIds) > 0 {
		query = query.Where(sq.Eq{"menu_item_id": toStrings(filter.MenuItemIds)})
	}

	sql, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	rows, err := r.conn.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query order items: %w", err)
	}
	defer rows.Close()

	return scanOrderItems(rows)
}

func scanOrderItems(rows pgx.Rows) ([]orderitem.OrderItem, error) {
	result := make([]orderitem.OrderItem, 0)
	for rows.Next() {
		var dal OrderItemDal
		var createdAt pgtype.Timestamptz

		err := rows.Scan(
			&dal.Id,
			&dal.OrderId,
			&dal.MenuItemId,
			&dal.MenuItemName,
			&dal.Quantity,
			&dal.UnitPrice,
			&dal.ItemTotal,
			&dal.Notes,
			&createdAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order item: %w", err)
		}

		dal.CreatedAt = createdAt.Time

		result = append(result, dal.ToModel())
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return result, nil
}

func toStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}

	return out
}
