// Package response writes the {success, message, data} envelope shared by
// every endpoint.
package response

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/corray333/backend-labs/foodorder/internal/service/errs"
	"github.com/corray333/backend-labs/foodorder/internal/service/models/principal"
	"github.com/spf13/viper"
)

// Envelope is the body of every JSON response.
type Envelope struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// JSON writes a successful envelope.
func JSON(w http.ResponseWriter, r *http.Request, status int, message string, data any) {
	Write(w, r, status, Envelope{Success: true, Message: message, Data: data})
}

// Fail writes a failed envelope with a fixed status and message.
func Fail(w http.ResponseWriter, r *http.Request, status int, message string) {
	Write(w, r, status, Envelope{Success: false, Message: message})
}

// Error maps err to a status and writes a failed envelope. Internal
// details are only shown when app.env is development.
func Error(w http.ResponseWriter, r *http.Request, err error) {
	status := errs.HTTPStatus(err)

	attrs := []any{"error", err, "status", status, "path", r.URL.Path}
	if p, ok := principal.FromContext(r.Context()); ok {
		attrs = append(attrs, "tenant_id", p.TenantID, "user_id", p.UserID)
	}
	if status >= http.StatusInternalServerError {
		slog.ErrorContext(r.Context(), "Request failed", attrs...)
	} else {
		slog.InfoContext(r.Context(), "Request rejected", attrs...)
	}

	exposeInternal := viper.GetString("app.env") == "development"
	Fail(w, r, status, errs.PublicMessage(err, exposeInternal))
}

// Write encodes body as JSON with the given status.
func Write(w http.ResponseWriter, r *http.Request, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.ErrorContext(r.Context(), "Error sending response", "error", err)
	}
}
