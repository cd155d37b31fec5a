package createorder

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/corray333/backend-labs/foodorder/internal/service/models/order"
	"github.com/corray333/backend-labs/foodorder/internal/service/models/principal"
	"github.com/corray333/backend-labs/foodorder/internal/transport/http/response"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

const maxBodyBytes = 1 << 20

// service is an interface for the service layer.
type service interface {
	CreateOrder(ctx context.Context, p principal.Principal, model order.CreateOrderModel) (order.Order, error)
}

// itemInCreateOrderRequest represents an item in a create order request.
type itemInCreateOrderRequest struct {
	MenuItemID string `json:"menu_item_id" validate:"required,uuid"`
	Quantity   int    `json:"quantity"     validate:"gt=0,lte=1000"`
	Notes      string `json:"notes"        validate:"max=500"`
}

// createOrderRequest represents a create order request.
type createOrderRequest struct {
	RestaurantID        string                     `json:"restaurant_id"        validate:"required,uuid"`
	OrderType           string                     `json:"order_type"           validate:"omitempty,oneof=delivery pickup dine_in"`
	DeliveryAddress     string                     `json:"delivery_address"     validate:"max=500"`
	SpecialInstructions string                     `json:"special_instructions" validate:"max=1000"`
	OrderItems          []itemInCreateOrderRequest `json:"order_items"          validate:"required,min=1,max=100,dive"`
}

// Validate validates the create order request.
func (r *createOrderRequest) Validate() error {
	return validator.New().Struct(r)
}

// toModel converts createOrderRequest to order.CreateOrderModel. It expects
// a validated request.
func (r *createOrderRequest) toModel() order.CreateOrderModel {
	items := make([]order.CreateItemModel, len(r.OrderItems))
	for i, item := range r.OrderItems {
		items[i] = order.CreateItemModel{
			MenuItemID: uuid.MustParse(item.MenuItemID),
			Quantity:   item.Quantity,
			Notes:      item.Notes,
		}
	}

	return order.CreateOrderModel{
		RestaurantID:        uuid.MustParse(r.RestaurantID),
		OrderType:           order.Type(r.OrderType),
		DeliveryAddress:     r.DeliveryAddress,
		SpecialInstructions: r.SpecialInstructions,
		Items:               items,
	}
}

// CreateOrder handles the create order request.
func CreateOrder(w http.ResponseWriter, r *http.Request, service service) {
	p, ok := principal.FromContext(r.Context())
	if !ok {
		response.Fail(w, r, http.StatusUnauthorized, "unauthenticated")

		return
	}

	req := createOrderRequest{}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		slog.InfoContext(r.Context(), "Error decoding request body for create order", "error", err)
		response.Fail(w, r, http.StatusBadRequest, "invalid request body")

		return
	}

	if err := req.Validate(); err != nil {
		slog.InfoContext(r.Context(), "Error validating request body for create order", "error", err)
		response.Fail(w, r, http.StatusBadRequest, err.Error())

		return
	}

	created, err := service.CreateOrder(r.Context(), p, req.toModel())
	if err != nil {
		response.Error(w, r, err)

		return
	}

	response.JSON(w, r, http.StatusCreated, "Order created successfully", created)
}
