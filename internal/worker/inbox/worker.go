package inbox

import (
	"context"
	"encoding/json"
	"log/slog"
	"math"
	"time"

	"github.com/corray333/backend-labs/foodorder/internal/dal/interfaces/iinboxrepo"
	"github.com/corray333/backend-labs/foodorder/internal/service/models/inbox"
	"github.com/corray333/backend-labs/foodorder/internal/service/models/payment"
	"github.com/corray333/backend-labs/foodorder/internal/service/services/reconciler"
	"go.opentelemetry.io/otel"
)

// service applies provider results.
type service interface {
	Apply(ctx context.Context, checkoutRequestID string, result payment.ProviderResult) (reconciler.Outcome, error)
}

// Worker re-applies provider results parked in the inbox.
type Worker struct {
	inboxRepo    iinboxrepo.IInboxRepository
	service      service
	pollInterval time.Duration
	batchSize    int
	now          func() time.Time
	stopCh       chan struct{}
}

// NewWorker creates a new inbox worker.
func NewWorker(
	inboxRepo iinboxrepo.IInboxRepository,
	service service,
	pollInterval time.Duration,
	batchSize int,
) *Worker {
	if pollInterval <= 0 {
		pollInterval = 15 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 50
	}

	return &Worker{
		inboxRepo:    inboxRepo,
		service:      service,
		pollInterval: pollInterval,
		batchSize:    batchSize,
		now:          time.Now,
		stopCh:       make(chan struct{}),
	}
}

// Start begins processing messages from the inbox.
func (w *Worker) Start(ctx context.Context) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	slog.Info("Inbox worker started", "poll_interval", w.pollInterval, "batch_size", w.batchSize)

	for {
		select {
		case <-ctx.Done():
			slog.Info("Inbox worker shutting down")

			return
		case <-w.stopCh:
			slog.Info("Inbox worker stopped")

			return
		case <-ticker.C:
			w.processMessages(ctx)
		}
	}
}

// Stop stops the worker.
func (w *Worker) Stop() {
	close(w.stopCh)
}

// processMessages retries one batch of due messages.
func (w *Worker) processMessages(ctx context.Context) {
	messages, err := w.inboxRepo.GetPendingMessages(ctx, w.batchSize)
	if err != nil {
		slog.Error("Failed to get pending messages from inbox", "error", err)

		return
	}

	if len(messages) == 0 {
		return
	}

	slog.Info("Processing inbox messages", "count", len(messages))

	for _, msg := range messages {
		w.processMessage(ctx, msg)
	}
}

func (w *Worker) processMessage(ctx context.Context, msg inbox.InboxMessage) {
	ctx, span := otel.Tracer("worker").Start(ctx, "InboxWorker.processMessage")
	defer span.End()

	var result payment.ProviderResult
	if err := json.Unmarshal(msg.Payload, &result); err != nil {
		slog.ErrorContext(ctx, "Malformed provider result in inbox, deleting",
			"inbox_id", msg.ID,
			"message_id", msg.MessageID,
			"error", err,
		)
		if err := w.inboxRepo.Delete(ctx, msg.ID); err != nil {
			slog.ErrorContext(ctx, "Failed to delete message from inbox", "inbox_id", msg.ID, "error", err)
		}

		return
	}

	outcome, err := w.service.Apply(ctx, msg.MessageID, result)
	if err != nil {
		// 30s, 60s, 120s, 240s, ...
		newRetryCount := msg.RetryCount + 1
		backoffSeconds := math.Pow(2, float64(newRetryCount-1)) * 30
		nextRetryAt := w.now().Add(time.Duration(backoffSeconds) * time.Second)

		if newRetryCount >= msg.MaxRetries {
			slog.ErrorContext(ctx, "Provider result could not be applied, giving up",
				"inbox_id", msg.ID,
				"message_id", msg.MessageID,
				"retry_count", newRetryCount,
				"error", err,
			)
		} else {
			slog.WarnContext(ctx, "Failed to apply provider result from inbox, will retry",
				"inbox_id", msg.ID,
				"retry_count", newRetryCount,
				"next_retry", nextRetryAt,
				"error", err,
			)
		}

		if err := w.inboxRepo.UpdateRetry(ctx, msg.ID, newRetryCount, err.Error(), nextRetryAt); err != nil {
			slog.ErrorContext(ctx, "Failed to update retry information", "inbox_id", msg.ID, "error", err)
		}

		return
	}

	if err := w.inboxRepo.Delete(ctx, msg.ID); err != nil {
		slog.ErrorContext(ctx, "Failed to delete message from inbox after successful processing",
			"inbox_id", msg.ID,
			"error", err,
		)

		return
	}

	if outcome == reconciler.OutcomeUnknownPayment {
		slog.ErrorContext(ctx, "Parked provider result still has no payment, dropped",
			"inbox_id", msg.ID,
			"message_id", msg.MessageID,
			"source", result.Source,
			"result_code", result.ResultCode,
			"payload", string(msg.Payload),
		)

		return
	}

	slog.InfoContext(ctx, "Parked provider result applied",
		"inbox_id", msg.ID,
		"message_id", msg.MessageID,
		"outcome", outcome,
	)
}
