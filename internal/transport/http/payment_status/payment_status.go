package paymentstatus

import (
	"context"
	"net/http"

	"github.com/corray333/backend-labs/foodorder/internal/service/models/payment"
	"github.com/corray333/backend-labs/foodorder/internal/service/models/principal"
	"github.com/corray333/backend-labs/foodorder/internal/transport/http/response"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type service interface {
	GetPaymentStatus(ctx context.Context, p principal.Principal, orderID uuid.UUID) (payment.Payment, error)
}

// PaymentStatus reports the latest payment of one of the caller's orders.
func PaymentStatus(w http.ResponseWriter, r *http.Request, service service) {
	p, ok := principal.FromContext(r.Context())
	if !ok {
		response.Fail(w, r, http.StatusUnauthorized, "unauthenticated")

		return
	}

	orderID, err := uuid.Parse(chi.URLParam(r, "orderId"))
	if err != nil {
		response.Fail(w, r, http.StatusBadRequest, "invalid order id")

		return
	}

	pay, err := service.GetPaymentStatus(r.Context(), p, orderID)
	if err != nil {
		response.Error(w, r, err)

		return
	}

	response.JSON(w, r, http.StatusOK, "", pay)
}
