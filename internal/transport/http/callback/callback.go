package callback

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/corray333/backend-labs/foodorder/internal/service/models/payment"
	"github.com/corray333/backend-labs/foodorder/internal/transport/http/response"
)

const maxBodyBytes = 1 << 20

// Acknowledgement bodies expected by the provider.
var (
	Accepted = Ack{ResultCode: 0, ResultDesc: "Callback processed successfully"}
	Rejected = Ack{ResultCode: 1, ResultDesc: "Callback rejected"}
)

// dispatcher takes results for background application.
type dispatcher interface {
	Submit(ctx context.Context, result payment.ProviderResult) error
}

// Ack is the fixed answer to the provider.
type Ack struct {
	ResultCode int    `json:"ResultCode"`
	ResultDesc string `json:"ResultDesc"`
}

type callbackEnvelope struct {
	Body struct {
		StkCallback *stkCallback `json:"stkCallback"`
	} `json:"Body"`
}

type stkCallback struct {
	MerchantRequestID string `json:"MerchantRequestID"`
	CheckoutRequestID string `json:"CheckoutRequestID"`
	ResultCode        *int   `json:"ResultCode"`
	ResultDesc        string `json:"ResultDesc"`
	CallbackMetadata  *struct {
		Item []payment.MetadataItem `json:"Item"`
	} `json:"CallbackMetadata"`
}

func decode(raw []byte) (payment.ProviderResult, error) {
	var env callbackEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return payment.ProviderResult{}, err
	}

	cb := env.Body.StkCallback
	switch {
	case cb == nil:
		return payment.ProviderResult{}, errors.New("missing Body.stkCallback")
	case cb.CheckoutRequestID == "":
		return payment.ProviderResult{}, errors.New("missing CheckoutRequestID")
	case cb.ResultCode == nil:
		return payment.ProviderResult{}, errors.New("missing ResultCode")
	}

	result := payment.ProviderResult{
		CheckoutRequestID: cb.CheckoutRequestID,
		MerchantRequestID: cb.MerchantRequestID,
		ResultCode:        *cb.ResultCode,
		ResultDesc:        cb.ResultDesc,
		Source:            payment.SourceCallback,
		Raw:               json.RawMessage(raw),
	}
	if cb.CallbackMetadata != nil {
		result.Metadata = cb.CallbackMetadata.Item
	}

	return result, nil
}

// Callback acknowledges a provider callback and only then hands the result
// to the dispatcher. What happens to the result never changes the answer.
func Callback(w http.ResponseWriter, r *http.Request, dispatcher dispatcher) {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		slog.WarnContext(r.Context(), "Error reading M-Pesa callback", "error", err)
		response.Write(w, r, http.StatusBadRequest, Rejected)

		return
	}

	result, err := decode(raw)
	if err != nil {
		slog.WarnContext(r.Context(), "Malformed M-Pesa callback rejected", "error", err, "body", string(raw))
		response.Write(w, r, http.StatusBadRequest, Rejected)

		return
	}

	slog.InfoContext(r.Context(), "M-Pesa callback received",
		"checkout_request_id", result.CheckoutRequestID,
		"result_code", result.ResultCode,
	)

	response.Write(w, r, http.StatusOK, Accepted)
	if err := http.NewResponseController(w).Flush(); err != nil {
		slog.DebugContext(r.Context(), "Response flush not supported", "error", err)
	}

	if err := dispatcher.Submit(r.Context(), result); err != nil {
		slog.ErrorContext(r.Context(), "M-Pesa callback could not be scheduled",
			"checkout_request_id", result.CheckoutRequestID,
			"error", err,
		)
	}
}
