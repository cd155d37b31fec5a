package getorder

import (
	"context"
	"net/http"

	"github.com/corray333/backend-labs/foodorder/internal/service/models/order"
	"github.com/corray333/backend-labs/foodorder/internal/service/models/principal"
	"github.com/corray333/backend-labs/foodorder/internal/transport/http/response"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type service interface {
	GetOrder(ctx context.Context, p principal.Principal, id uuid.UUID) (order.Order, error)
}

// GetOrder returns one of the caller's orders with its items.
func GetOrder(w http.ResponseWriter, r *http.Request, service service) {
	p, ok := principal.FromContext(r.Context())
	if !ok {
		response.Fail(w, r, http.StatusUnauthorized, "unauthenticated")

		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		response.Fail(w, r, http.StatusBadRequest, "invalid order id")

		return
	}

	o, err := service.GetOrder(r.Context(), p, id)
	if err != nil {
		response.Error(w, r, err)

		return
	}

	response.JSON(w, r, http.StatusOK, "", o)
}
