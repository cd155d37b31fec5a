package outbox

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Event types relayed to the message broker.
const (
	EventOrderCreated     = "order.created"
	EventPaymentInitiated = "payment.initiated"
	EventPaymentCompleted = "payment.completed"
	EventPaymentFailed    = "payment.failed"
)

const (
	defaultMaxRetries  = 10
	defaultContentType = "application/json"
)

// OutboxMessage represents a domain event waiting to be published to RabbitMQ.
// It is written in the same transaction as the state change it describes.
type OutboxMessage struct {
	ID           int64
	QueueName    string
	ExchangeName string
	RoutingKey   string
	Payload      []byte
	ContentType  string
	RetryCount   int
	MaxRetries   int
	LastError    string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	NextRetryAt  time.Time
}

// Event is the JSON body of a published message.
type Event struct {
	ID         uuid.UUID `json:"id"`
	Type       string    `json:"type"`
	TenantID   uuid.UUID `json:"tenantId"`
	OrderID    uuid.UUID `json:"orderId"`
	OccurredAt time.Time `json:"occurredAt"`
	Data       any       `json:"data,omitempty"`
}

// NewMessage wraps ev into an outbox message routed to queue through the
// default exchange.
func NewMessage(queue string, ev Event, now time.Time) (OutboxMessage, error) {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = now
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return OutboxMessage{}, fmt.Errorf("failed to marshal %s event: %w", ev.Type, err)
	}

	return OutboxMessage{
		QueueName:   queue,
		RoutingKey:  queue,
		Payload:     payload,
		ContentType: defaultContentType,
		MaxRetries:  defaultMaxRetries,
		CreatedAt:   now,
		UpdatedAt:   now,
		NextRetryAt: now,
	}, nil
}
