package inbox

import (
	"time"
)

// InboxMessage represents a provider result whose application failed and
// waits to be retried. MessageID holds the checkout request id.
type InboxMessage struct {
	ID          int64
	MessageID   string
	Source      string
	Payload     []byte
	RetryCount  int
	MaxRetries  int
	LastError   string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	NextRetryAt time.Time
}
