package postgresrepo

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/corray333/backend-labs/foodorder/internal/dal/dalerr"
	"github.com/corray333/backend-labs/foodorder/internal/dal/postgres"
	"github.com/corray333/backend-labs/foodorder/internal/service/models/restaurant"
	"github.com/google/uuid"
)

// PostgresRestaurantRepository represents a Postgres restaurant repository.
type PostgresRestaurantRepository struct {
	conn postgres.GenericConn
	sb   sq.StatementBuilderType
}

// NewPostgresRestaurantRepository creates a new Postgres restaurant repository.
func NewPostgresRestaurantRepository(conn postgres.GenericConn) *PostgresRestaurantRepository {
	return &PostgresRestaurantRepository{
		conn: conn,
		sb:   sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

// GetByID retrieves a tenant's restaurant.
func (r *PostgresRestaurantRepository) GetByID(
	ctx context.Context,
	tenantID, id uuid.UUID,
) (restaurant.Restaurant, error) {
	query, args, err := r.sb.Select("id", "tenant_id", "name").
		From("restaurants").
		Where(sq.Eq{"id": id.String(), "tenant_id": tenantID.String()}).
		ToSql()
	if err != nil {
		return restaurant.Restaurant{}, fmt.Errorf("failed to build select query: %w", err)
	}

	var rest restaurant.Restaurant
	if err := r.conn.QueryRow(ctx, query, args...).Scan(&rest.ID, &rest.TenantID, &rest.Name); err != nil {
		return restaurant.Restaurant{}, fmt.Errorf("failed to get restaurant %s: %w", id, dalerr.Translate(err))
	}

	return rest, nil
}
