package stkpush

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/corray333/backend-labs/foodorder/internal/service/models/payment"
	"github.com/corray333/backend-labs/foodorder/internal/service/models/principal"
	"github.com/corray333/backend-labs/foodorder/internal/service/services/paymentsvc"
	"github.com/corray333/backend-labs/foodorder/internal/transport/http/response"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

const maxBodyBytes = 64 << 10

type service interface {
	InitiatePayment(
		ctx context.Context,
		p principal.Principal,
		orderID uuid.UUID,
		phoneNumber string,
	) (paymentsvc.InitiateResult, error)
}

type stkPushRequest struct {
	OrderID     string `json:"order_id"     validate:"required,uuid"`
	PhoneNumber string `json:"phone_number" validate:"required,min=9,max=20"`
}

type stkPushData struct {
	Payment           *payment.Payment `json:"payment,omitempty"`
	CheckoutRequestID string           `json:"checkout_request_id,omitempty"`
	MerchantRequestID string           `json:"merchant_request_id,omitempty"`
	CustomerMessage   string           `json:"customer_message,omitempty"`
	ErrorKind         string           `json:"error_kind,omitempty"`
	Indeterminate     bool             `json:"indeterminate,omitempty"`
	Message           string           `json:"message,omitempty"`
}

// STKPush starts an M-Pesa payment for one of the caller's orders.
func STKPush(w http.ResponseWriter, r *http.Request, service service) {
	p, ok := principal.FromContext(r.Context())
	if !ok {
		response.Fail(w, r, http.StatusUnauthorized, "unauthenticated")

		return
	}

	req := stkPushRequest{}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		slog.InfoContext(r.Context(), "Error decoding request body for STK push", "error", err)
		response.Fail(w, r, http.StatusBadRequest, "invalid request body")

		return
	}
	if err := validator.New().Struct(req); err != nil {
		response.Fail(w, r, http.StatusBadRequest, err.Error())

		return
	}

	res, err := service.InitiatePayment(r.Context(), p, uuid.MustParse(req.OrderID), req.PhoneNumber)
	if err != nil {
		response.Error(w, r, err)

		return
	}

	if !res.Success {
		status := http.StatusBadGateway
		message := res.Message
		if res.Indeterminate {
			// The prompt may still reach the phone, so the client should poll.
			status = http.StatusAccepted
			message = "Payment request is being processed. Check the payment status shortly."
		}

		response.Write(w, r, status, response.Envelope{
			Success: false,
			Message: message,
			Data: stkPushData{
				Payment:           res.Payment,
				CheckoutRequestID: res.CheckoutRequestID,
				ErrorKind:         res.ErrorKind,
				Indeterminate:     res.Indeterminate,
			},
		})

		return
	}

	response.JSON(w, r, http.StatusOK, "M-Pesa payment initiated successfully", stkPushData{
		Payment:           res.Payment,
		CheckoutRequestID: res.CheckoutRequestID,
		MerchantRequestID: res.MerchantRequestID,
		CustomerMessage:   res.CustomerMessage,
		Message:           "Enter your M-Pesa PIN to complete payment",
	})
}
