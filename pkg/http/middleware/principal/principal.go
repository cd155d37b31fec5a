// Package principal trusts the identity headers set by the upstream auth
// gateway. It performs no credential verification.
package principal

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/corray333/backend-labs/foodorder/internal/service/models/principal"
	"github.com/google/uuid"
)

const (
	HeaderTenantID = "X-Tenant-ID"
	HeaderUserID   = "X-User-ID"
)

type errorBody struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// NewPrincipalMiddleware stores the caller in the request context and
// rejects requests without valid identity headers.
func NewPrincipalMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenantID, err := uuid.Parse(r.Header.Get(HeaderTenantID))
		if err != nil || tenantID == uuid.Nil {
			unauthorized(w, r, HeaderTenantID)

			return
		}

		userID, err := uuid.Parse(r.Header.Get(HeaderUserID))
		if err != nil || userID == uuid.Nil {
			unauthorized(w, r, HeaderUserID)

			return
		}

		ctx := principal.WithContext(r.Context(), principal.Principal{UserID: userID, TenantID: tenantID})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func unauthorized(w http.ResponseWriter, r *http.Request, header string) {
	slog.WarnContext(r.Context(), "Request without valid identity", "header", header, "path", r.URL.Path)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(errorBody{Success: false, Message: "missing or invalid " + header + " header"})
}
