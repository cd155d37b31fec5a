package ipaymentrepo

import (
	"context"

	"github.com/corray333/backend-labs/foodorder/internal/service/models/payment"
	"github.com/google/uuid"
)

// IPaymentRepository is an interface for payment repository.
type IPaymentRepository interface {
	Insert(ctx context.Context, p payment.Payment) (payment.Payment, error)
	GetByCheckoutRequestID(ctx context.Context, checkoutRequestID string) (payment.Payment, error)
	// GetByCheckoutRequestIDForUpdate reads the payment and locks its row until the transaction ends.
	GetByCheckoutRequestIDForUpdate(ctx context.Context, checkoutRequestID string) (payment.Payment, error)
	LatestForOrder(ctx context.Context, tenantID, orderID uuid.UUID) (payment.Payment, error)
	HasCompleted(ctx context.Context, orderID uuid.UUID) (bool, error)
	// MarkCompleted and MarkFailed only touch payments that are still pending.
	MarkCompleted(ctx context.Context, c payment.Completion) error
	MarkFailed(ctx context.Context, f payment.Failure) error
}
