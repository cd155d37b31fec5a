package payment

import (
	"strings"
	"time"

	"github.com/corray333/backend-labs/foodorder/internal/service/models/currency"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Status is the state of a payment attempt. Completed and failed are terminal.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

func (s Status) String() string {
	return string(s)
}

// IsTerminal reports whether no further transition is allowed.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// MethodMpesa is the only payment method this service handles.
const MethodMpesa = "mpesa"

// Payment is one STK push attempt for an order.
type Payment struct {
	ID                uuid.UUID         `json:"id"`
	TenantID          uuid.UUID         `json:"tenantId"`
	OrderID           uuid.UUID         `json:"orderId"`
	UserID            uuid.UUID         `json:"userId"`
	Amount            decimal.Decimal   `json:"amount"`
	Currency          currency.Currency `json:"currency"`
	Method            string            `json:"paymentMethod"`
	PhoneNumber       string            `json:"phoneNumber"`
	CheckoutRequestID string            `json:"checkoutRequestId"`
	MerchantRequestID string            `json:"merchantRequestId"`
	Status            Status            `json:"status"`
	ReceiptNumber     string            `json:"mpesaReceiptNumber,omitempty"`
	TransactionDate   *time.Time        `json:"transactionDate,omitempty"`
	ConfirmingPhone   string            `json:"confirmingPhone,omitempty"`
	FailureKind       string            `json:"failureKind,omitempty"`
	FailureReason     string            `json:"failureReason,omitempty"`
	RawPayload        []byte            `json:"-"`
	CreatedAt         time.Time         `json:"createdAt"`
	UpdatedAt         time.Time         `json:"updatedAt"`
	CompletedAt       *time.Time        `json:"completedAt,omitempty"`
}

// ProvisionalPrefix marks a checkout id generated locally for a push whose
// provider answer never arrived.
const ProvisionalPrefix = "local_"

// ProvisionalCheckoutID returns the local checkout id of payment id.
func ProvisionalCheckoutID(id uuid.UUID) string {
	return ProvisionalPrefix + id.String()
}

// IsProvisional reports whether the provider never confirmed the push.
func (p Payment) IsProvisional() bool {
	return strings.HasPrefix(p.CheckoutRequestID, ProvisionalPrefix)
}

// Completion carries the fields set when a payment succeeds.
type Completion struct {
	ID              uuid.UUID
	ReceiptNumber   string
	TransactionDate *time.Time
	ConfirmingPhone string
	RawPayload      []byte
	CompletedAt     time.Time
}

// Failure carries the fields set when a payment fails.
type Failure struct {
	ID            uuid.UUID
	FailureKind   string
	FailureReason string
	RawPayload    []byte
	CompletedAt   time.Time
}
