package errs

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		kind   Kind
		status int
	}{
		{"validation", Validation("quantity must be positive"), KindValidation, http.StatusBadRequest},
		{"not found", NotFound("restaurant %s", "r1"), KindNotFound, http.StatusNotFound},
		{"conflict", Conflict("order already %s", "confirmed"), KindConflict, http.StatusConflict},
		{"gateway", ExternalGateway(errors.New("token")), KindExternalGateway, http.StatusBadGateway},
		{"internal", Internal("insert order", errors.New("boom")), KindInternal, http.StatusInternalServerError},
		{"unclassified", errors.New("boom"), KindInternal, http.StatusInternalServerError},
		{"wrapped", fmt.Errorf("create order: %w", NotFound("menu item")), KindNotFound, http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.kind, KindOf(tt.err))
			assert.Equal(t, tt.status, HTTPStatus(tt.err))
		})
	}
}

func TestPublicMessageHidesInternal(t *testing.T) {
	err := Internal("insert order", errors.New("pq: connection reset"))

	assert.Equal(t, "internal server error", PublicMessage(err, false))
	assert.Contains(t, PublicMessage(err, true), "connection reset")
	assert.Equal(t, "validation failed: bad item", PublicMessage(Validation("bad item"), false))
}
