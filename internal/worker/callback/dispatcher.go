// Package callback applies provider callbacks in the background, after the
// HTTP acknowledgement has been sent.
package callback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/corray333/backend-labs/foodorder/internal/dal/interfaces/iinboxrepo"
	"github.com/corray333/backend-labs/foodorder/internal/metrics"
	"github.com/corray333/backend-labs/foodorder/internal/service/models/inbox"
	"github.com/corray333/backend-labs/foodorder/internal/service/models/payment"
	"github.com/corray333/backend-labs/foodorder/internal/service/services/reconciler"
	"github.com/sethvargo/go-retry"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"
)

// Failure reasons recorded in metrics.
const (
	failureQueueFull = "queue_full"
	failureExhausted = "retries_exhausted"
	failurePanic     = "panic"
	failureStopped   = "stopped"
	failureParking   = "parking_failed"

	// A result can arrive before the payment it settles is committed.
	failureUnknownPayment = "unknown_payment"
)

const parkTimeout = 5 * time.Second

type applier interface {
	Apply(ctx context.Context, checkoutRequestID string, result payment.ProviderResult) (reconciler.Outcome, error)
}

// Config tunes the dispatcher.
type Config struct {
	Workers     int
	QueueSize   int
	TaskTimeout time.Duration
	Retries     uint64
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
	// InboxMaxRetries and InboxDelay apply to results parked in the inbox.
	InboxMaxRetries int
	InboxDelay      time.Duration
}

// ConfigFromViper reads the callback.* keys.
func ConfigFromViper() Config {
	return Config{
		Workers:         viper.GetInt("callback.workers"),
		QueueSize:       viper.GetInt("callback.queue_size"),
		TaskTimeout:     viper.GetDuration("callback.task_timeout"),
		Retries:         viper.GetUint64("callback.retries"),
		BaseBackoff:     viper.GetDuration("callback.base_backoff"),
		MaxBackoff:      viper.GetDuration("callback.max_backoff"),
		InboxMaxRetries: viper.GetInt("callback.inbox_max_retries"),
		InboxDelay:      viper.GetDuration("callback.inbox_delay"),
	}
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 8
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.TaskTimeout <= 0 {
		c.TaskTimeout = 15 * time.Second
	}
	if c.Retries == 0 {
		c.Retries = 3
	}
	if c.BaseBackoff <= 0 {
		c.BaseBackoff = 200 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 5 * time.Second
	}
	if c.InboxMaxRetries <= 0 {
		c.InboxMaxRetries = 10
	}
	if c.InboxDelay <= 0 {
		c.InboxDelay = 30 * time.Second
	}

	return c
}

// Dispatcher runs Apply for queued provider results on a bounded pool.
// Transient failures are retried in place; results that still cannot be
// applied are parked in the inbox for the inbox worker.
type Dispatcher struct {
	applier applier
	inbox   iinboxrepo.IInboxRepository
	metrics *metrics.Metrics
	cfg     Config

	queue  chan payment.ProviderResult
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.RWMutex
	stopped bool
}

// NewDispatcher creates a dispatcher. Call Start to begin processing.
func NewDispatcher(
	applier applier,
	inboxRepo iinboxrepo.IInboxRepository,
	m *metrics.Metrics,
	cfg Config,
) *Dispatcher {
	cfg = cfg.withDefaults()
	ctx, cancel := context.WithCancel(context.Background())

	return &Dispatcher{
		applier: applier,
		inbox:   inboxRepo,
		metrics: m,
		cfg:     cfg,
		queue:   make(chan payment.ProviderResult, cfg.QueueSize),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
}

// Submit queues a result without blocking. When the queue is full or the
// dispatcher is stopped the result goes straight to the inbox. ctx only
// carries request values; its cancellation is ignored.
func (d *Dispatcher) Submit(ctx context.Context, result payment.ProviderResult) error {
	ctx = context.WithoutCancel(ctx)

	d.mu.RLock()
	if d.stopped {
		d.mu.RUnlock()
		d.metrics.DispatcherFailure(failureStopped)

		return d.park(ctx, result, errors.New("dispatcher stopped"))
	}

	select {
	case d.queue <- result:
		d.mu.RUnlock()
		d.metrics.DispatcherQueueLength(len(d.queue))

		return nil
	default:
		d.mu.RUnlock()
	}

	d.metrics.DispatcherFailure(failureQueueFull)
	slog.WarnContext(ctx, "Callback queue full, parking result",
		"checkout_request_id", result.CheckoutRequestID,
		"queue_size", d.cfg.QueueSize,
	)

	return d.park(ctx, result, errors.New("callback queue full"))
}

// Start launches the dispatch loop.
func (d *Dispatcher) Start() {
	g := &errgroup.Group{}
	g.SetLimit(d.cfg.Workers)

	slog.Info("Callback dispatcher started", "workers", d.cfg.Workers, "queue_size", d.cfg.QueueSize)

	go func() {
		defer close(d.done)

		for result := range d.queue {
			d.metrics.DispatcherQueueLength(len(d.queue))
			g.Go(func() error {
				d.run(result)

				return nil
			})
		}

		_ = g.Wait()
	}()
}

// Stop refuses new results and waits for queued ones to finish. When ctx
// expires first, running retries are abandoned and their results parked.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()

		return nil
	}
	d.stopped = true
	close(d.queue)
	d.mu.Unlock()

	select {
	case <-d.done:
		d.cancel()
		slog.Info("Callback dispatcher drained")

		return nil
	case <-ctx.Done():
		d.cancel()
		<-d.done

		return fmt.Errorf("callback dispatcher drain: %w", ctx.Err())
	}
}

// run applies one result. Failures never escape: they are retried, and
// parked in the inbox when retrying does not help. A result for a payment
// not recorded yet is parked once, so the inbox worker applies it again
// after the inbox delay.
func (d *Dispatcher) run(result payment.ProviderResult) {
	ctx, span := otel.Tracer("worker").Start(d.ctx, "Dispatcher.run")
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			d.metrics.DispatcherFailure(failurePanic)
			slog.ErrorContext(ctx, "Panic while applying provider result",
				"checkout_request_id", result.CheckoutRequestID,
				"panic", r,
				"stack", string(debug.Stack()),
			)
			_ = d.park(ctx, result, fmt.Errorf("panic: %v", r))
		}
	}()

	backoff := retry.WithMaxRetries(d.cfg.Retries,
		retry.WithCappedDuration(d.cfg.MaxBackoff, retry.NewExponential(d.cfg.BaseBackoff)))

	attempt := 0
	var outcome reconciler.Outcome
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		taskCtx, cancel := context.WithTimeout(ctx, d.cfg.TaskTimeout)
		defer cancel()

		var err error
		outcome, err = d.applier.Apply(taskCtx, result.CheckoutRequestID, result)
		if err != nil {
			slog.WarnContext(ctx, "Applying provider result failed",
				"checkout_request_id", result.CheckoutRequestID,
				"attempt", attempt,
				"error", err,
			)

			return retry.RetryableError(err)
		}

		return nil
	})
	if err == nil {
		if outcome == reconciler.OutcomeUnknownPayment {
			d.metrics.DispatcherFailure(failureUnknownPayment)
			_ = d.park(ctx, result, errors.New("payment not recorded yet"))
		}

		return
	}

	d.metrics.DispatcherFailure(failureExhausted)
	_ = d.park(ctx, result, err)
}

// park stores result in the inbox. A result that cannot be parked is
// logged in full so it can be replayed by hand.
func (d *Dispatcher) park(ctx context.Context, result payment.ProviderResult, cause error) error {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), parkTimeout)
	defer cancel()

	payload, err := json.Marshal(result)
	if err != nil {
		d.metrics.DispatcherFailure(failureParking)

		return fmt.Errorf("marshal provider result: %w", err)
	}

	now := time.Now().UTC()
	err = d.inbox.Insert(ctx, inbox.InboxMessage{
		MessageID:   result.CheckoutRequestID,
		Source:      result.Source,
		Payload:     payload,
		MaxRetries:  d.cfg.InboxMaxRetries,
		LastError:   cause.Error(),
		CreatedAt:   now,
		UpdatedAt:   now,
		NextRetryAt: now.Add(d.cfg.InboxDelay),
	})
	if err != nil {
		d.metrics.DispatcherFailure(failureParking)
		slog.ErrorContext(ctx, "Provider result lost, could not park it in the inbox",
			"checkout_request_id", result.CheckoutRequestID,
			"payload", string(payload),
			"cause", cause,
			"error", err,
		)

		return fmt.Errorf("park provider result: %w", err)
	}

	slog.WarnContext(ctx, "Provider result parked in inbox",
		"checkout_request_id", result.CheckoutRequestID,
		"cause", cause,
	)

	return nil
}
