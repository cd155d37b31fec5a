package irestaurantrepo

import (
	"context"

	"github.com/corray333/backend-labs/foodorder/internal/service/models/restaurant"
	"github.com/google/uuid"
)

// IRestaurantRepository is a read-only view of restaurants.
type IRestaurantRepository interface {
	GetByID(ctx context.Context, tenantID, id uuid.UUID) (restaurant.Restaurant, error)
}
