package postgresrepo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/corray333/backend-labs/foodorder/internal/dal/dalerr"
	"github.com/corray333/backend-labs/foodorder/internal/dal/postgres"
	"github.com/corray333/backend-labs/foodorder/internal/service/models/currency"
	"github.com/corray333/backend-labs/foodorder/internal/service/models/order"
	"github.com/corray333/backend-labs/foodorder/internal/service/models/orderitem"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

var orderColumns = []string{
	"id",
	"tenant_id",
	"user_id",
	"restaurant_id",
	"order_number",
	"status",
	"order_type",
	"total_amount",
	"currency",
	"delivery_address",
	"special_instructions",
	"mpesa_receipt_number",
	"created_at",
	"updated_at",
}

// OrderDal represents order data access layer model
type OrderDal struct {
	Id                  uuid.UUID       `db:"id"`
	TenantId            uuid.UUID       `db:"tenant_id"`
	UserId              uuid.UUID       `db:"user_id"`
	RestaurantId        uuid.UUID       `db:"restaurant_id"`
	OrderNumber         string          `db:"order_number"`
	Status              string          `db:"status"`
	OrderType           string          `db:"order_type"`
	TotalAmount         decimal.Decimal `db:"total_amount"`
	Currency            string          `db:"currency"`
	DeliveryAddress     string          `db:"delivery_address"`
	SpecialInstructions string          `db:"special_instructions"`
	MpesaReceiptNumber  string          `db:"mpesa_receipt_number"`
	CreatedAt           time.Time       `db:"created_at"`
	UpdatedAt           time.Time       `db:"updated_at"`
}

// ToModel converts OrderDal to service layer Order model
func (o *OrderDal) ToModel() (*order.Order, error) {
	cur, err := currency.ParseCurrency(o.Currency)
	if err != nil {
		return nil, err
	}
	orderType, err := order.ParseType(o.OrderType)
	if err != nil {
		return nil, err
	}

	return &order.Order{
		ID:                  o.Id,
		TenantID:            o.TenantId,
		UserID:              o.UserId,
		RestaurantID:        o.RestaurantId,
		OrderNumber:         o.OrderNumber,
		Status:              order.Status(o.Status),
		OrderType:           orderType,
		TotalAmount:         o.TotalAmount,
		Currency:            cur,
		DeliveryAddress:     o.DeliveryAddress,
		SpecialInstructions: o.SpecialInstructions,
		MpesaReceiptNumber:  o.MpesaReceiptNumber,
		CreatedAt:           o.CreatedAt,
		UpdatedAt:           o.UpdatedAt,
		Items:               []orderitem.OrderItem{}, // Will be populated separately
	}, nil
}

// OrderDalFromModel converts service layer Order model to OrderDal
func OrderDalFromModel(o *order.Order) *OrderDal {
	return &OrderDal{
		Id:                  o.ID,
		TenantId:            o.TenantID,
		UserId:              o.UserID,
		RestaurantId:        o.RestaurantID,
		OrderNumber:         o.OrderNumber,
		Status:              o.Status.String(),
		OrderType:           o.OrderType.String(),
		TotalAmount:         o.TotalAmount,
		Currency:            o.Currency.String(),
		DeliveryAddress:     o.DeliveryAddress,
		SpecialInstructions: o.SpecialInstructions,
		MpesaReceiptNumber:  o.MpesaReceiptNumber,
		CreatedAt:           o.CreatedAt,
		UpdatedAt:           o.UpdatedAt,
	}
}

func (o *OrderDal) scanTargets() []any {
	return []any{
		&o.Id,
		&o.TenantId,
		&o.UserId,
		&o.RestaurantId,
		&o.OrderNumber,
		&o.Status,
		&o.OrderType,
		&o.TotalAmount,
		&o.Currency,
		&o.DeliveryAddress,
		&o.SpecialInstructions,
		&o.MpesaReceiptNumber,
		&o.CreatedAt,
		&o.UpdatedAt,
	}
}

// PostgresOrderRepository represents a Postgres order repository.
type PostgresOrderRepository struct {
	conn postgres.GenericConn
	sb   sq.StatementBuilderType
}

// NewPostgresOrderRepository creates a new Postgres order repository.
func NewPostgresOrderRepository(conn postgres.GenericConn) *PostgresOrderRepository {
	return &PostgresOrderRepository{
		conn: conn,
		sb:   sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

// Insert inserts an order without its items.
func (r *PostgresOrderRepository) Insert(ctx context.Context, o order.Order) (order.Order, error) {
	dal := OrderDalFromModel(&o)

	query, args, err := r.sb.Insert("orders").
		Columns(orderColumns...).
		Values(
			dal.Id,
			dal.TenantId,
			dal.UserId,
			dal.RestaurantId,
			dal.OrderNumber,
			dal.Status,
			dal.OrderType,
			dal.TotalAmount,
			dal.Currency,
			dal.DeliveryAddress,
			dal.SpecialInstructions,
			dal.MpesaReceiptNumber,
			dal.CreatedAt,
			dal.UpdatedAt,
		).
		Suffix("RETURNING " + strings.Join(orderColumns, ", ")).
		ToSql()
	if err != nil {
		return order.Order{}, fmt.Errorf("failed to build insert query: %w", err)
	}

	var inserted OrderDal
	if err := r.conn.QueryRow(ctx, query, args...).Scan(inserted.scanTargets()...); err != nil {
		return order.Order{}, fmt.Errorf("failed to insert order: %w", dalerr.Translate(err))
	}

	model, err := inserted.ToModel()
	if err != nil {
		return order.Order{}, fmt.Errorf("failed to convert order dal to model: %w", err)
	}

	return *model, nil
}

// GetByID retrieves a tenant's order.
func (r *PostgresOrderRepository) GetByID(ctx context.Context, tenantID, id uuid.UUID) (order.Order, error) {
	return r.get(ctx, tenantID, id, false)
}

// GetByIDForUpdate retrieves a tenant's order and locks it.
func (r *PostgresOrderRepository) GetByIDForUpdate(
	ctx context.Context,
	tenantID, id uuid.UUID,
) (order.Order, error) {
	return r.get(ctx, tenantID, id, true)
}

func (r *PostgresOrderRepository) get(
	ctx context.Context,
	tenantID, id uuid.UUID,
	forUpdate bool,
) (order.Order, error) {
	builder := r.sb.Select(orderColumns...).
		From("orders").
		Where(sq.Eq{"id": id.String(), "tenant_id": tenantID.String()})
	if forUpdate {
		builder = builder.Suffix("FOR UPDATE")
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return order.Order{}, fmt.Errorf("failed to build select query: %w", err)
	}

	var dal OrderDal
	if err := r.conn.QueryRow(ctx, query, args...).Scan(dal.scanTargets()...); err != nil {
		return order.Order{}, fmt.Errorf("failed to get order %s: %w", id, dalerr.Translate(err))
	}

	model, err := dal.ToModel()
	if err != nil {
		return order.Order{}, fmt.Errorf("failed to convert order dal to model: %w", err)
	}

	return *model, nil
}

// UpdateStatus moves the order to update.To if it is still in update.From.
func (r *PostgresOrderRepository) UpdateStatus(ctx context.Context, update order.StatusUpdate) error {
	builder := r.sb.Update("orders").
		Set("status", update.To.String()).
		Set("updated_at", update.UpdatedAt).
		Where(sq.Eq{"id": update.ID.String(), "status": update.From.String()})
	if update.ReceiptNumber != "" {
		builder = builder.Set("mpesa_receipt_number", update.ReceiptNumber)
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return fmt.Errorf("failed to build update query: %w", err)
	}

	tag, err := r.conn.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update order status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("order %s is no longer %s: %w", update.ID, update.From, dalerr.ErrStaleWrite)
	}

	return nil
}

// Query retrieves orders based on filter criteria, newest first.
func (r *PostgresOrderRepository) Query(ctx context.Context, filter *order.QueryOrdersModel) ([]order.Order, error) {
	builder := r.sb.Select(orderColumns...).
		From("orders").
		Where(sq.Eq{"tenant_id": filter.TenantID.String()}).
		OrderBy("created_at DESC")

	if filter.UserID != uuid.Nil {
		builder = builder.Where(sq.Eq{"user_id": filter.UserID.String()})
	}

	if len(filter.Ids) > 0 {
		builder = builder.Where(sq.Eq{"id": uuidStrings(filter.Ids)})
	}

	if filter.Limit > 0 {
		builder = builder.Limit(uint64(filter.Limit))
	}

	if filter.Offset > 0 {
		builder = builder.Offset(uint64(filter.Offset))
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build query: %w", err)
	}

	rows, err := r.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	defer rows.Close()

	result := make([]order.Order, 0)
	for rows.Next() {
		var dal OrderDal
		if err := rows.Scan(dal.scanTargets()...); err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		model, err := dal.ToModel()
		if err != nil {
			return nil, fmt.Errorf("failed to convert order dal to model: %w", err)
		}
		result = append(result, *model)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return result, nil
}

// NextSequence increments the tenant's counter for day with an upsert, so
// concurrent transactions never observe the same value.
func (r *PostgresOrderRepository) NextSequence(
	ctx context.Context,
	tenantID uuid.UUID,
	day time.Time,
) (int64, error) {
	query, args, err := r.sb.Insert("order_number_counters").
		Columns("tenant_id", "day", "last_value").
		Values(tenantID, day, 1).
		Suffix("ON CONFLICT (tenant_id, day) DO UPDATE " +
			"SET last_value = order_number_counters.last_value + 1 RETURNING last_value").
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("failed to build counter upsert: %w", err)
	}

	var value int64
	if err := r.conn.QueryRow(ctx, query, args...).Scan(&value); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("order counter upsert returned no row: %w", err)
		}

		return 0, fmt.Errorf("failed to increment order counter: %w", err)
	}

	return value, nil
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}

	return out
}
