package postgresrepo

import (
	"context"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/corray333/backend-labs/foodorder/internal/dal/dalerr"
	"github.com/corray333/backend-labs/foodorder/internal/dal/postgres"
	"github.com/corray333/backend-labs/foodorder/internal/service/models/currency"
	"github.com/corray333/backend-labs/foodorder/internal/service/models/payment"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

var paymentColumns = []string{
	"id",
	"tenant_id",
	"order_id",
	"user_id",
	"amount",
	"currency",
	"payment_method",
	"phone_number",
	"checkout_request_id",
	"merchant_request_id",
	"status",
	"mpesa_receipt_number",
	"transaction_date",
	"confirming_phone",
	"failure_kind",
	"failure_reason",
	"raw_payload",
	"created_at",
	"updated_at",
	"completed_at",
}

// PaymentDal represents payment data access layer model.
type PaymentDal struct {
	Id                uuid.UUID          `db:"id"`
	TenantId          uuid.UUID          `db:"tenant_id"`
	OrderId           uuid.UUID          `db:"order_id"`
	UserId            uuid.UUID          `db:"user_id"`
	Amount            decimal.Decimal    `db:"amount"`
	Currency          string             `db:"currency"`
	PaymentMethod     string             `db:"payment_method"`
	PhoneNumber       string             `db:"phone_number"`
	CheckoutRequestId string             `db:"checkout_request_id"`
	MerchantRequestId string             `db:"merchant_request_id"`
	Status            string             `db:"status"`
	ReceiptNumber     string             `db:"mpesa_receipt_number"`
	TransactionDate   pgtype.Timestamptz `db:"transaction_date"`
	ConfirmingPhone   string             `db:"confirming_phone"`
	FailureKind       string             `db:"failure_kind"`
	FailureReason     string             `db:"failure_reason"`
	RawPayload        []byte             `db:"raw_payload"`
	CreatedAt         time.Time          `db:"created_at"`
	UpdatedAt         time.Time          `db:"updated_at"`
	CompletedAt       pgtype.Timestamptz `db:"completed_at"`
}

// ToModel converts PaymentDal to service layer Payment model.
func (p *PaymentDal) ToModel() (payment.Payment, error) {
	cur, err := currency.ParseCurrency(p.Currency)
	if err != nil {
		return payment.Payment{}, err
	}

	return payment.Payment{
		ID:                p.Id,
		TenantID:          p.TenantId,
		OrderID:           p.OrderId,
		UserID:            p.UserId,
		Amount:            p.Amount,
		Currency:          cur,
		Method:            p.PaymentMethod,
		PhoneNumber:       p.PhoneNumber,
		CheckoutRequestID: p.CheckoutRequestId,
		MerchantRequestID: p.MerchantRequestId,
		Status:            payment.Status(p.Status),
		ReceiptNumber:     p.ReceiptNumber,
		TransactionDate:   timePtr(p.TransactionDate),
		ConfirmingPhone:   p.ConfirmingPhone,
		FailureKind:       p.FailureKind,
		FailureReason:     p.FailureReason,
		RawPayload:        p.RawPayload,
		CreatedAt:         p.CreatedAt,
		UpdatedAt:         p.UpdatedAt,
		CompletedAt:       timePtr(p.CompletedAt),
	}, nil
}

func (p *PaymentDal) scanTargets() []any {
	return []any{
		&p.Id,
		&p.TenantId,
		&p.OrderId,
		&p.UserId,
		&p.Amount,
		&p.Currency,
		&p.PaymentMethod,
		&p.PhoneNumber,
		&p.CheckoutRequestId,
		&p.MerchantRequestId,
		&p.Status,
		&p.ReceiptNumber,
		&p.TransactionDate,
		&p.ConfirmingPhone,
		&p.FailureKind,
		&p.FailureReason,
		&p.RawPayload,
		&p.CreatedAt,
		&p.UpdatedAt,
		&p.CompletedAt,
	}
}

// PostgresPaymentRepository represents a Postgres payment repository.
type PostgresPaymentRepository struct {
	conn postgres.GenericConn
	sb   sq.StatementBuilderType
}

// NewPostgresPaymentRepository creates a new Postgres payment repository.
func NewPostgresPaymentRepository(conn postgres.GenericConn) *PostgresPaymentRepository {
	return &PostgresPaymentRepository{
		conn: conn,
		sb:   sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

// Insert stores a new payment attempt.
func (r *PostgresPaymentRepository) Insert(ctx context.Context, p payment.Payment) (payment.Payment, error) {
	query, args, err := r.sb.Insert("payments").
		Columns(paymentColumns...).
		Values(
			p.ID,
			p.TenantID,
			p.OrderID,
			p.UserID,
			p.Amount,
			p.Currency.String(),
			p.Method,
			p.PhoneNumber,
			p.CheckoutRequestID,
			p.MerchantRequestID,
			p.Status.String(),
			p.ReceiptNumber,
			timestamptz(p.TransactionDate),
			p.ConfirmingPhone,
			p.FailureKind,
			p.FailureReason,
			p.RawPayload,
			p.CreatedAt,
			p.UpdatedAt,
			timestamptz(p.CompletedAt),
		).
		Suffix("RETURNING " + strings.Join(paymentColumns, ", ")).
		ToSql()
	if err != nil {
		return payment.Payment{}, fmt.Errorf("failed to build insert query: %w", err)
	}

	var dal PaymentDal
	if err := r.conn.QueryRow(ctx, query, args...).Scan(dal.scanTargets()...); err != nil {
		return payment.Payment{}, fmt.Errorf("failed to insert payment: %w", dalerr.Translate(err))
	}

	return dal.ToModel()
}

// GetByCheckoutRequestID retrieves a payment by the provider's checkout request id.
func (r *PostgresPaymentRepository) GetByCheckoutRequestID(
	ctx context.Context,
	checkoutRequestID string,
) (payment.Payment, error) {
	return r.getOne(ctx, r.sb.Select(paymentColumns...).
		From("payments").
		Where(sq.Eq{"checkout_request_id": checkoutRequestID}))
}

// GetByCheckoutRequestIDForUpdate retrieves and locks a payment by checkout request id.
func (r *PostgresPaymentRepository) GetByCheckoutRequestIDForUpdate(
	ctx context.Context,
	checkoutRequestID string,
) (payment.Payment, error) {
	return r.getOne(ctx, r.sb.Select(paymentColumns...).
		From("payments").
		Where(sq.Eq{"checkout_request_id": checkoutRequestID}).
		Suffix("FOR UPDATE"))
}

// LatestForOrder retrieves the most recent payment attempt of an order.
func (r *PostgresPaymentRepository) LatestForOrder(
	ctx context.Context,
	tenantID, orderID uuid.UUID,
) (payment.Payment, error) {
	return r.getOne(ctx, r.sb.Select(paymentColumns...).
		From("payments").
		Where(sq.Eq{"order_id": orderID.String(), "tenant_id": tenantID.String()}).
		OrderBy("created_at DESC").
		Limit(1))
}

// HasCompleted reports whether the order already has a completed payment.
func (r *PostgresPaymentRepository) HasCompleted(ctx context.Context, orderID uuid.UUID) (bool, error) {
	query, args, err := r.sb.Select("1").
		Prefix("SELECT EXISTS (").
		From("payments").
		Where(sq.Eq{"order_id": orderID.String(), "status": payment.StatusCompleted.String()}).
		Suffix(")").
		ToSql()
	if err != nil {
		return false, fmt.Errorf("failed to build exists query: %w", err)
	}

	var exists bool
	if err := r.conn.QueryRow(ctx, query, args...).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check completed payments: %w", err)
	}

	return exists, nil
}

// MarkCompleted records a successful payment. Only pending payments are touched.
func (r *PostgresPaymentRepository) MarkCompleted(ctx context.Context, c payment.Completion) error {
	query, args, err := r.sb.Update("payments").
		Set("status", payment.StatusCompleted.String()).
		Set("mpesa_receipt_number", c.ReceiptNumber).
		Set("transaction_date", timestamptz(c.TransactionDate)).
		Set("confirming_phone", c.ConfirmingPhone).
		Set("raw_payload", c.RawPayload).
		Set("completed_at", c.CompletedAt).
		Set("updated_at", c.CompletedAt).
		Where(sq.Eq{"id": c.ID.String(), "status": payment.StatusPending.String()}).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build update query: %w", err)
	}

	return r.execGuarded(ctx, c.ID, query, args)
}

// MarkFailed records a failed payment. Only pending payments are touched.
func (r *PostgresPaymentRepository) MarkFailed(ctx context.Context, f payment.Failure) error {
	query, args, err := r.sb.Update("payments").
		Set("status", payment.StatusFailed.String()).
		Set("failure_kind", f.FailureKind).
		Set("failure_reason", f.FailureReason).
		Set("raw_payload", f.RawPayload).
		Set("completed_at", f.CompletedAt).
		Set("updated_at", f.CompletedAt).
		Where(sq.Eq{"id": f.ID.String(), "status": payment.StatusPending.String()}).
		ToSql()
	if err != nil {
		return fmt.Errorf("failed to build update query: %w", err)
	}

	return r.execGuarded(ctx, f.ID, query, args)
}

func (r *PostgresPaymentRepository) execGuarded(ctx context.Context, id uuid.UUID, query string, args []any) error {
	tag, err := r.conn.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update payment: %w", dalerr.Translate(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("payment %s is no longer pending: %w", id, dalerr.ErrStaleWrite)
	}

	return nil
}

func (r *PostgresPaymentRepository) getOne(ctx context.Context, builder sq.SelectBuilder) (payment.Payment, error) {
	query, args, err := builder.ToSql()
	if err != nil {
		return payment.Payment{}, fmt.Errorf("failed to build select query: %w", err)
	}

	var dal PaymentDal
	if err := r.conn.QueryRow(ctx, query, args...).Scan(dal.scanTargets()...); err != nil {
		return payment.Payment{}, fmt.Errorf("failed to get payment: %w", dalerr.Translate(err))
	}

	return dal.ToModel()
}

func timePtr(ts pgtype.Timestamptz) *time.Time {
	if !ts.Valid {
		return nil
	}
	t := ts.Time

	return &t
}

func timestamptz(t *time.Time) pgtype.Timestamptz {
	if t == nil {
		return pgtype.Timestamptz{}
	}

	return pgtype.Timestamptz{Time: *t, Valid: true}
}
