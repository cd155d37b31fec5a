package istatuslogrepo

import (
	"context"

	"github.com/corray333/backend-labs/foodorder/internal/service/models/statuslog"
	"github.com/google/uuid"
)

// IStatusLogRepository is the append-only order status audit trail.
type IStatusLogRepository interface {
	Append(ctx context.Context, entry statuslog.Entry) (statuslog.Entry, error)
	ListByOrder(ctx context.Context, orderID uuid.UUID) ([]statuslog.Entry, error)
}
