package principal

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/corray333/backend-labs/foodorder/internal/service/models/principal"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPrincipalMiddleware(t *testing.T) {
	tenantID, userID := uuid.New(), uuid.New()

	tests := []struct {
		name       string
		tenant     string
		user       string
		wantStatus int
	}{
		{name: "valid", tenant: tenantID.String(), user: userID.String(), wantStatus: http.StatusOK},
		{name: "missing tenant", user: userID.String(), wantStatus: http.StatusUnauthorized},
		{name: "missing user", tenant: tenantID.String(), wantStatus: http.StatusUnauthorized},
		{name: "malformed user", tenant: tenantID.String(), user: "42", wantStatus: http.StatusUnauthorized},
		{name: "nil tenant", tenant: uuid.Nil.String(), user: userID.String(), wantStatus: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got principal.Principal
			var called bool
			next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				got, called = principal.FromContext(r.Context())
			})

			req := httptest.NewRequest(http.MethodGet, "/api/orders", nil)
			if tt.tenant != "" {
				req.Header.Set(HeaderTenantID, tt.tenant)
			}
			if tt.user != "" {
				req.Header.Set(HeaderUserID, tt.user)
			}
			rec := httptest.NewRecorder()

			NewPrincipalMiddleware(next).ServeHTTP(rec, req)

			require.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantStatus == http.StatusOK {
				require.True(t, called)
				assert.Equal(t, principal.Principal{UserID: userID, TenantID: tenantID}, got)

				return
			}
			assert.False(t, called)
			assert.Contains(t, rec.Body.String(), `"success":false`)
		})
	}
}
