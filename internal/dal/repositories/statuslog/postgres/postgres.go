package postgresrepo

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/corray333/backend-labs/foodorder/internal/dal/postgres"
	"github.com/corray333/backend-labs/foodorder/internal/service/models/order"
	"github.com/corray333/backend-labs/foodorder/internal/service/models/statuslog"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

// PostgresStatusLogRepository represents a Postgres order status log repository.
type PostgresStatusLogRepository struct {
	conn postgres.GenericConn
	sb   sq.StatementBuilderType
}

// NewPostgresStatusLogRepository creates a new Postgres order status log repository.
func NewPostgresStatusLogRepository(conn postgres.GenericConn) *PostgresStatusLogRepository {
	return &PostgresStatusLogRepository{
		conn: conn,
		sb:   sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

// Append writes one transition record. An empty OldStatus is stored as NULL.
func (r *PostgresStatusLogRepository) Append(ctx context.Context, entry statuslog.Entry) (statuslog.Entry, error) {
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	oldStatus := pgtype.Text{String: entry.OldStatus.String(), Valid: entry.OldStatus != ""}

	query, args, err := r.sb.Insert("order_status_log").
		Columns("order_id", "old_status", "new_status", "changed_by", "notes", "created_at").
		Values(entry.OrderID, oldStatus, entry.NewStatus.String(), entry.ChangedBy, entry.Notes, entry.CreatedAt).
		Suffix("RETURNING id").
		ToSql()
	if err != nil {
		return statuslog.Entry{}, fmt.Errorf("failed to build insert query: %w", err)
	}

	if err := r.conn.QueryRow(ctx, query, args...).Scan(&entry.ID); err != nil {
		return statuslog.Entry{}, fmt.Errorf("failed to append status log entry: %w", err)
	}

	return entry, nil
}

// ListByOrder returns the order's transitions, oldest first.
func (r *PostgresStatusLogRepository) ListByOrder(ctx context.Context, orderID uuid.UUID) ([]statuslog.Entry, error) {
	query, args, err := r.sb.
		Select("id", "order_id", "old_status", "new_status", "changed_by", "notes", "created_at").
		From("order_status_log").
		Where(sq.Eq{"order_id": orderID.String()}).
		OrderBy("id ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build select query: %w", err)
	}

	rows, err := r.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query status log: %w", err)
	}
	defer rows.Close()

	entries := make([]statuslog.Entry, 0)
	for rows.Next() {
		var (
			entry     statuslog.Entry
			oldStatus pgtype.Text
			newStatus string
		)
		if err := rows.Scan(
			&entry.ID,
			&entry.OrderID,
			&oldStatus,
			&newStatus,
			&entry.ChangedBy,
			&entry.Notes,
			&entry.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan status log entry: %w", err)
		}
		if oldStatus.Valid {
			entry.OldStatus = order.Status(oldStatus.String)
		}
		entry.NewStatus = order.Status(newStatus)
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return entries, nil
}
