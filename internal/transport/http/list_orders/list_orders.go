package listorders

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/corray333/backend-labs/foodorder/internal/service/models/order"
	"github.com/corray333/backend-labs/foodorder/internal/service/models/principal"
	"github.com/corray333/backend-labs/foodorder/internal/transport/http/response"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/schema"
)

type service interface {
	ListOrders(ctx context.Context, p principal.Principal, model order.QueryOrdersModel) ([]order.Order, error)
}

type queryOrdersRequest struct {
	Ids    []string `schema:"ids"    validate:"omitempty,max=100,dive,uuid"`
	Limit  int      `schema:"limit"  validate:"gte=0,lte=100"`
	Offset int      `schema:"offset" validate:"gte=0"`
}

// ToModel converts the validated query into the service filter.
func (q *queryOrdersRequest) ToModel() order.QueryOrdersModel {
	ids := make([]uuid.UUID, 0, len(q.Ids))
	for _, id := range q.Ids {
		ids = append(ids, uuid.MustParse(id))
	}

	return order.QueryOrdersModel{
		Ids:    ids,
		Limit:  q.Limit,
		Offset: q.Offset,
	}
}

func ListOrders(w http.ResponseWriter, r *http.Request, service service) {
	p, ok := principal.FromContext(r.Context())
	if !ok {
		response.Fail(w, r, http.StatusUnauthorized, "unauthenticated")

		return
	}

	decoder := schema.NewDecoder()
	decoder.IgnoreUnknownKeys(true)
	query := &queryOrdersRequest{}
	if err := decoder.Decode(query, r.URL.Query()); err != nil {
		slog.InfoContext(r.Context(), "Error decoding request", "error", err)
		response.Fail(w, r, http.StatusBadRequest, "invalid query parameters")

		return
	}

	if err := validator.New().Struct(query); err != nil {
		response.Fail(w, r, http.StatusBadRequest, err.Error())

		return
	}

	orders, err := service.ListOrders(r.Context(), p, query.ToModel())
	if err != nil {
		response.Error(w, r, err)

		return
	}

	response.JSON(w, r, http.StatusOK, "", orders)
}
