package restaurant

import "github.com/google/uuid"

// Restaurant is read here only to check tenant ownership.
type Restaurant struct {
	ID       uuid.UUID `json:"id"`
	TenantID uuid.UUID `json:"tenantId"`
	Name     string    `json:"name"`
}
