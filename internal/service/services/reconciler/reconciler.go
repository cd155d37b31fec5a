// Package reconciler applies provider payment results to payments and
// orders. The callback, the status poll and inbox retries all go through
// Reconciler.Apply.
package reconciler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"time"

	iorder "github.com/corray333/backend-labs/foodorder/internal/dal/interfaces/iorderrepo"
	ioutboxrepo "github.com/corray333/backend-labs/foodorder/internal/dal/interfaces/ioutboxrepo"
	ipaymentrepo "github.com/corray333/backend-labs/foodorder/internal/dal/interfaces/ipaymentrepo"
	istatuslogrepo "github.com/corray333/backend-labs/foodorder/internal/dal/interfaces/istatuslogrepo"
	"github.com/corray333/backend-labs/foodorder/internal/dal/dalerr"
	"github.com/corray333/backend-labs/foodorder/internal/dal/postgres"
	"github.com/corray333/backend-labs/foodorder/internal/dal/uow"
	"github.com/corray333/backend-labs/foodorder/internal/gateway/mpesa"
	"github.com/corray333/backend-labs/foodorder/internal/metrics"
	"github.com/corray333/backend-labs/foodorder/internal/service/errs"
	"github.com/corray333/backend-labs/foodorder/internal/service/models/order"
	"github.com/corray333/backend-labs/foodorder/internal/service/models/outbox"
	"github.com/corray333/backend-labs/foodorder/internal/service/models/payment"
	"github.com/corray333/backend-labs/foodorder/internal/service/models/statuslog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

// Outcome describes what Apply did with a result.
type Outcome string

const (
	OutcomeCompleted      Outcome = "completed"
	OutcomeFailed         Outcome = "failed"
	OutcomeAlreadyApplied Outcome = "already_applied"
	OutcomeUnknownPayment Outcome = "unknown_payment"
)

func (o Outcome) String() string {
	return string(o)
}

// FailureDuplicatePayment marks a successful result for an order that
// another payment has already paid.
const FailureDuplicatePayment = "duplicate_payment"

const (
	defaultEventsQueue    = "foodorder.events"
	transactionDateLayout = "20060102150405"
)

// Reconciler moves payments to a terminal state and their orders along
// with them.
type Reconciler struct {
	newUOW      func() unitOfWork
	metrics     *metrics.Metrics
	eventsQueue string
	now         func() time.Time
}

type unitOfWork interface {
	Begin(ctx context.Context) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error

	OrderRepository() iorder.IOrderRepository
	PaymentRepository() ipaymentrepo.IPaymentRepository
	StatusLogRepository() istatuslogrepo.IStatusLogRepository
	OutboxRepository() ioutboxrepo.IOutboxRepository
}

type option func(*Reconciler)

// MustNewReconciler creates a new Reconciler.
func MustNewReconciler(opts ...option) *Reconciler {
	r := &Reconciler{
		eventsQueue: defaultEventsQueue,
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(r)
	}

	if r.newUOW == nil {
		panic("reconciler: no unit of work configured")
	}

	return r
}

// WithPostgresClient sets the Postgres client for the Reconciler.
//
//goland:noinspection GoExportedFuncWithUnexportedType
func WithPostgresClient(pgClient *postgres.Client) option {
	return func(r *Reconciler) {
		r.newUOW = func() unitOfWork {
			return uow.NewUnitOfWork(pgClient)
		}
	}
}

// WithUnitOfWorkFactory sets the function used to open units of work.
//
//goland:noinspection GoExportedFuncWithUnexportedType
func WithUnitOfWorkFactory(factory func() unitOfWork) option {
	return func(r *Reconciler) {
		r.newUOW = factory
	}
}

//goland:noinspection GoExportedFuncWithUnexportedType
func WithMetrics(m *metrics.Metrics) option {
	return func(r *Reconciler) {
		r.metrics = m
	}
}

//goland:noinspection GoExportedFuncWithUnexportedType
func WithEventsQueue(queue string) option {
	return func(r *Reconciler) {
		r.eventsQueue = queue
	}
}

//goland:noinspection GoExportedFuncWithUnexportedType
func WithClock(now func() time.Time) option {
	return func(r *Reconciler) {
		r.now = now
	}
}

// Apply applies a provider result to the payment identified by
// checkoutRequestID in one transaction. Results for unknown payments are
// dropped without error. A payment that is already terminal is left
// untouched, which makes redelivery harmless.
func (r *Reconciler) Apply(
	ctx context.Context,
	checkoutRequestID string,
	result payment.ProviderResult,
) (Outcome, error) {
	ctx, span := otel.Tracer("service").Start(ctx, "Reconciler.Apply")
	defer span.End()

	if checkoutRequestID == "" {
		checkoutRequestID = result.CheckoutRequestID
	}
	span.SetAttributes(
		attribute.String("payment.checkout_request_id", checkoutRequestID),
		attribute.String("payment.result_source", result.Source),
		attribute.Int("payment.result_code", result.ResultCode),
	)

	outcome, err := r.apply(ctx, checkoutRequestID, result)
	if err != nil {
		span.RecordError(err)

		return "", err
	}

	r.metrics.ResultApplied(result.Source, outcome.String())

	return outcome, nil
}

func (r *Reconciler) apply(
	ctx context.Context,
	checkoutRequestID string,
	result payment.ProviderResult,
) (Outcome, error) {
	work := r.newUOW()
	if err := work.Begin(ctx); err != nil {
		return "", errs.Internal("begin transaction", err)
	}
	defer func() { _ = work.Rollback(ctx) }()

	pay, err := work.PaymentRepository().GetByCheckoutRequestIDForUpdate(ctx, checkoutRequestID)
	if err != nil {
		if errors.Is(err, dalerr.ErrNotFound) {
			slog.WarnContext(ctx, "Provider result for unknown payment dropped",
				"checkout_request_id", checkoutRequestID,
				"source", result.Source,
				"result_code", result.ResultCode,
			)

			return OutcomeUnknownPayment, nil
		}

		return "", errs.Internal("lock payment", err)
	}

	if pay.Status.IsTerminal() {
		slog.InfoContext(ctx, "Provider result already applied",
			"checkout_request_id", checkoutRequestID,
			"payment_id", pay.ID,
			"status", pay.Status,
			"source", result.Source,
		)

		return OutcomeAlreadyApplied, nil
	}

	o, err := work.OrderRepository().GetByIDForUpdate(ctx, pay.TenantID, pay.OrderID)
	if err != nil {
		return "", errs.Internal("lock order", err)
	}

	raw := []byte(result.Raw)
	if len(raw) == 0 {
		if raw, err = json.Marshal(result); err != nil {
			return "", errs.Internal("marshal provider result", err)
		}
	}

	var outcome Outcome
	if result.Succeeded() {
		outcome, err = r.complete(ctx, work, pay, o, result, raw)
	} else {
		outcome, err = r.fail(ctx, work, pay, o, result, raw)
	}
	if err != nil {
		return "", err
	}

	if err := work.Commit(ctx); err != nil {
		return "", errs.Internal("commit provider result", err)
	}

	slog.InfoContext(ctx, "Provider result applied",
		"checkout_request_id", checkoutRequestID,
		"payment_id", pay.ID,
		"order_id", o.ID,
		"outcome", outcome,
		"source", result.Source,
	)

	return outcome, nil
}

func (r *Reconciler) complete(
	ctx context.Context,
	work unitOfWork,
	pay payment.Payment,
	o order.Order,
	result payment.ProviderResult,
	raw []byte,
) (Outcome, error) {
	now := r.now()

	paid, err := work.PaymentRepository().HasCompleted(ctx, pay.OrderID)
	if err != nil {
		return "", errs.Internal("check completed payments", err)
	}
	if paid {
		slog.ErrorContext(ctx, "Order already paid by another payment, refund required",
			"payment_id", pay.ID,
			"order_id", o.ID,
			"checkout_request_id", pay.CheckoutRequestID,
		)

		return r.markFailed(ctx, work, pay, o, FailureDuplicatePayment,
			"Order was already paid by another payment", raw, now)
	}

	receipt, _ := result.MetadataValue(payment.MetaReceiptNumber)
	phone, _ := result.MetadataValue(payment.MetaPhoneNumber)
	completion := payment.Completion{
		ID:              pay.ID,
		ReceiptNumber:   receipt,
		TransactionDate: transactionDate(ctx, result),
		ConfirmingPhone: phone,
		RawPayload:      raw,
		CompletedAt:     now,
	}
	if err := work.PaymentRepository().MarkCompleted(ctx, completion); err != nil {
		return "", errs.Internal("mark payment completed", err)
	}

	notes := "Payment confirmed via M-Pesa"
	if receipt != "" {
		notes += ". Receipt: " + receipt
	}
	if err := r.moveOrder(ctx, work, o, order.StatusConfirmed, receipt, notes, now); err != nil {
		return "", err
	}

	err = r.publish(ctx, work, outbox.EventPaymentCompleted, o, map[string]any{
		"paymentId":          pay.ID,
		"checkoutRequestId":  pay.CheckoutRequestID,
		"amount":             pay.Amount,
		"currency":           pay.Currency,
		"mpesaReceiptNumber": receipt,
		"source":             result.Source,
	}, now)
	if err != nil {
		return "", err
	}

	return OutcomeCompleted, nil
}

func (r *Reconciler) fail(
	ctx context.Context,
	work unitOfWork,
	pay payment.Payment,
	o order.Order,
	result payment.ProviderResult,
	raw []byte,
) (Outcome, error) {
	code := strconv.Itoa(result.ResultCode)
	reason := result.ResultDesc
	if reason == "" {
		reason = mpesa.MessageForCode(code)
	}

	return r.markFailed(ctx, work, pay, o, mpesa.ReasonForCode(code).String(), reason, raw, r.now())
}

func (r *Reconciler) markFailed(
	ctx context.Context,
	work unitOfWork,
	pay payment.Payment,
	o order.Order,
	kind, reason string,
	raw []byte,
	now time.Time,
) (Outcome, error) {
	failure := payment.Failure{
		ID:            pay.ID,
		FailureKind:   kind,
		FailureReason: reason,
		RawPayload:    raw,
		CompletedAt:   now,
	}
	if err := work.PaymentRepository().MarkFailed(ctx, failure); err != nil {
		return "", errs.Internal("mark payment failed", err)
	}

	if kind != FailureDuplicatePayment {
		if err := r.moveOrder(ctx, work, o, order.StatusPending, "", "Payment failed: "+reason, now); err != nil {
			return "", err
		}
	}

	err := r.publish(ctx, work, outbox.EventPaymentFailed, o, map[string]any{
		"paymentId":         pay.ID,
		"checkoutRequestId": pay.CheckoutRequestID,
		"failureKind":       kind,
		"failureReason":     reason,
	}, now)
	if err != nil {
		return "", err
	}

	return OutcomeFailed, nil
}

// moveOrder transitions an order that is awaiting payment. An order in any
// other state is left alone; the payment still becomes terminal.
func (r *Reconciler) moveOrder(
	ctx context.Context,
	work unitOfWork,
	o order.Order,
	to order.Status,
	receipt, notes string,
	now time.Time,
) error {
	if o.Status != order.StatusPaymentPending {
		slog.WarnContext(ctx, "Order is not awaiting payment, status left unchanged",
			"order_id", o.ID,
			"status", o.Status,
			"target_status", to,
		)

		return nil
	}

	update := order.StatusUpdate{
		ID:            o.ID,
		From:          order.StatusPaymentPending,
		To:            to,
		ReceiptNumber: receipt,
		UpdatedAt:     now,
	}
	if err := work.OrderRepository().UpdateStatus(ctx, update); err != nil {
		return errs.Internal("update order status", err)
	}

	entry := statuslog.New(o.ID, order.StatusPaymentPending, to, statuslog.SystemActor, notes)
	if _, err := work.StatusLogRepository().Append(ctx, entry); err != nil {
		return errs.Internal("append status log", err)
	}

	return nil
}

func (r *Reconciler) publish(
	ctx context.Context,
	work unitOfWork,
	eventType string,
	o order.Order,
	data map[string]any,
	now time.Time,
) error {
	msg, err := outbox.NewMessage(r.eventsQueue, outbox.Event{
		Type:     eventType,
		TenantID: o.TenantID,
		OrderID:  o.ID,
		Data:     data,
	}, now)
	if err != nil {
		return errs.Internal("build payment event", err)
	}

	if err := work.OutboxRepository().Insert(ctx, msg); err != nil {
		return errs.Internal("insert outbox message", err)
	}

	return nil
}

// transactionDate reads the provider's YYYYMMDDHHmmss timestamp, which is
// local to the provider.
func transactionDate(ctx context.Context, result payment.ProviderResult) *time.Time {
	value, ok := result.MetadataValue(payment.MetaTransactionDate)
	if !ok {
		return nil
	}

	t, err := time.ParseInLocation(transactionDateLayout, value, mpesa.EAT)
	if err != nil {
		slog.WarnContext(ctx, "Unparseable transaction date in provider result",
			"value", value,
			"error", err,
		)

		return nil
	}
	t = t.UTC()

	return &t
}
