package paymentsvc

import (
	"context"
	"errors"
	"log/slog"
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
	"github.com/corray333/backend-labs/foodorder/internal/service/models/principal"
	"github.com/corray333/backend-labs/foodorder/internal/service/models/statuslog"
	"github.com/corray333/backend-labs/foodorder/internal/service/services/reconciler"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

const (
	defaultEventsQueue       = "foodorder.events"
	defaultProvisionalExpiry = 2 * time.Minute
)

// Initiation outcomes recorded in metrics.
const (
	outcomeAccepted = "accepted"
	outcomeError    = "error"
)

// PaymentService starts M-Pesa payments for orders and reports their status.
type PaymentService struct {
	newUOW      func() unitOfWork
	provider    provider
	reconciler  resultApplier
	metrics     *metrics.Metrics
	eventsQueue string
	// provisionalExpiry bounds how long an unconfirmed push blocks the order.
	provisionalExpiry time.Duration
	now               func() time.Time
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

type provider interface {
	STKPush(ctx context.Context, in mpesa.STKPushRequest) (mpesa.STKPushResponse, error)
	QueryStatus(ctx context.Context, checkoutRequestID string) (mpesa.QueryResult, error)
	CountryCode() string
}

type resultApplier interface {
	Apply(ctx context.Context, checkoutRequestID string, result payment.ProviderResult) (reconciler.Outcome, error)
}

// InitiateResult is the answer to a payment initiation. A provider
// rejection is reported here with Success false rather than as an error.
type InitiateResult struct {
	Success           bool             `json:"success"`
	CheckoutRequestID string           `json:"checkoutRequestId,omitempty"`
	MerchantRequestID string           `json:"merchantRequestId,omitempty"`
	CustomerMessage   string           `json:"customerMessage,omitempty"`
	Payment           *payment.Payment `json:"payment,omitempty"`
	ErrorKind         string           `json:"errorKind,omitempty"`
	Message           string           `json:"message,omitempty"`
	// Indeterminate is set when the provider may have received the request.
	// The customer may still be prompted, so the caller should poll the
	// payment status instead of retrying at once.
	Indeterminate bool `json:"indeterminate,omitempty"`
}

type option func(*PaymentService)

// MustNewPaymentService creates a new PaymentService.
func MustNewPaymentService(opts ...option) *PaymentService {
	s := &PaymentService{
		eventsQueue:       defaultEventsQueue,
		provisionalExpiry: defaultProvisionalExpiry,
		now:               func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}

	switch {
	case s.newUOW == nil:
		panic("paymentsvc: no unit of work configured")
	case s.provider == nil:
		panic("paymentsvc: no payment provider configured")
	case s.reconciler == nil:
		panic("paymentsvc: no reconciler configured")
	}

	return s
}

// WithPostgresClient sets the Postgres client for the PaymentService.
//
//goland:noinspection GoExportedFuncWithUnexportedType
func WithPostgresClient(pgClient *postgres.Client) option {
	return func(s *PaymentService) {
		s.newUOW = func() unitOfWork {
			return uow.NewUnitOfWork(pgClient)
		}
	}
}

// WithUnitOfWorkFactory sets the function used to open units of work.
//
//goland:noinspection GoExportedFuncWithUnexportedType
func WithUnitOfWorkFactory(factory func() unitOfWork) option {
	return func(s *PaymentService) {
		s.newUOW = factory
	}
}

// WithProvider sets the payment provider client.
//
//goland:noinspection GoExportedFuncWithUnexportedType
func WithProvider(p provider) option {
	return func(s *PaymentService) {
		s.provider = p
	}
}

// WithReconciler sets where status query results are applied.
//
//goland:noinspection GoExportedFuncWithUnexportedType
func WithReconciler(r resultApplier) option {
	return func(s *PaymentService) {
		s.reconciler = r
	}
}

//goland:noinspection GoExportedFuncWithUnexportedType
func WithMetrics(m *metrics.Metrics) option {
	return func(s *PaymentService) {
		s.metrics = m
	}
}

//goland:noinspection GoExportedFuncWithUnexportedType
func WithEventsQueue(queue string) option {
	return func(s *PaymentService) {
		s.eventsQueue = queue
	}
}

// WithProvisionalExpiry sets how long a push the provider never confirmed
// keeps the order awaiting payment. Non-positive values keep the default.
//
//goland:noinspection GoExportedFuncWithUnexportedType
func WithProvisionalExpiry(d time.Duration) option {
	return func(s *PaymentService) {
		if d > 0 {
			s.provisionalExpiry = d
		}
	}
}

//goland:noinspection GoExportedFuncWithUnexportedType
func WithClock(now func() time.Time) option {
	return func(s *PaymentService) {
		s.now = now
	}
}

// InitiatePayment sends an STK push for a pending order. The order row
// stays locked during the provider call, so two initiations for one order
// cannot both reach the provider. A push with no provider answer is kept
// as a provisional payment until it expires.
func (s *PaymentService) InitiatePayment(
	ctx context.Context,
	p principal.Principal,
	orderID uuid.UUID,
	phoneNumber string,
) (InitiateResult, error) {
	ctx, span := otel.Tracer("service").Start(ctx, "PaymentService.InitiatePayment")
	defer span.End()
	span.SetAttributes(attribute.String("order.id", orderID.String()))

	phone := mpesa.NormalizePhone(phoneNumber, s.provider.CountryCode())
	if len(phone) < 10 || len(phone) > 15 {
		return InitiateResult{}, errs.Validation("phone number %q is not valid", phoneNumber)
	}

	if err := s.expireStale(ctx, p.TenantID, orderID); err != nil {
		return InitiateResult{}, err
	}

	work := s.newUOW()
	if err := work.Begin(ctx); err != nil {
		return InitiateResult{}, errs.Internal("begin transaction", err)
	}
	defer func() { _ = work.Rollback(ctx) }()

	o, err := work.OrderRepository().GetByIDForUpdate(ctx, p.TenantID, orderID)
	if err != nil {
		if errors.Is(err, dalerr.ErrNotFound) {
			return InitiateResult{}, errs.NotFound("order %s not found", orderID)
		}

		return InitiateResult{}, errs.Internal("lock order", err)
	}
	if o.UserID != p.UserID {
		return InitiateResult{}, errs.NotFound("order %s not found", orderID)
	}

	switch o.Status {
	case order.StatusPending:
	case order.StatusPaymentPending:
		return InitiateResult{}, errs.Conflict("a payment is already in progress for order %s", o.OrderNumber)
	default:
		return InitiateResult{}, errs.Conflict("order %s is %s and cannot be paid", o.OrderNumber, o.Status)
	}

	paid, err := work.PaymentRepository().HasCompleted(ctx, o.ID)
	if err != nil {
		return InitiateResult{}, errs.Internal("check completed payments", err)
	}
	if paid {
		return InitiateResult{}, errs.Conflict("order %s is already paid", o.OrderNumber)
	}

	resp, err := s.provider.STKPush(ctx, mpesa.STKPushRequest{
		Phone:            phone,
		Amount:           o.TotalAmount,
		AccountReference: o.OrderNumber,
		Description:      "Order " + o.OrderNumber,
	})
	if err != nil {
		var perr *mpesa.ProviderError
		if errors.As(err, &perr) && perr.Indeterminate {
			return s.recordUnconfirmed(ctx, work, o, phone, perr)
		}

		return s.rejected(ctx, o, err)
	}

	now := s.now()
	pay, err := work.PaymentRepository().Insert(ctx, payment.Payment{
		ID:                uuid.New(),
		TenantID:          o.TenantID,
		OrderID:           o.ID,
		UserID:            p.UserID,
		Amount:            o.TotalAmount,
		Currency:          o.Currency,
		Method:            payment.MethodMpesa,
		PhoneNumber:       phone,
		CheckoutRequestID: resp.CheckoutRequestID,
		MerchantRequestID: resp.MerchantRequestID,
		Status:            payment.StatusPending,
		RawPayload:        resp.Raw,
		CreatedAt:         now,
		UpdatedAt:         now,
	})
	if err != nil {
		s.logOrphanedPush(ctx, o, resp, err)
		if errors.Is(err, dalerr.ErrDuplicate) {
			return InitiateResult{}, errs.Conflict("checkout request %s is already recorded", resp.CheckoutRequestID)
		}

		return InitiateResult{}, errs.Internal("insert payment", err)
	}

	note := "M-Pesa payment initiated. Checkout: " + pay.CheckoutRequestID
	if err := s.markAwaitingPayment(ctx, work, o, pay, note, now); err != nil {
		s.logOrphanedPush(ctx, o, resp, err)

		return InitiateResult{}, err
	}

	if err := work.Commit(ctx); err != nil {
		s.logOrphanedPush(ctx, o, resp, err)

		return InitiateResult{}, errs.Internal("commit payment", err)
	}

	s.metrics.PaymentInitiation(outcomeAccepted)
	slog.InfoContext(ctx, "STK push accepted",
		"order_id", o.ID,
		"payment_id", pay.ID,
		"checkout_request_id", pay.CheckoutRequestID,
		"amount", pay.Amount.String(),
	)

	return InitiateResult{
		Success:           true,
		CheckoutRequestID: resp.CheckoutRequestID,
		MerchantRequestID: resp.MerchantRequestID,
		CustomerMessage:   resp.CustomerMessage,
		Payment:           &pay,
	}, nil
}

func (s *PaymentService) markAwaitingPayment(
	ctx context.Context,
	work unitOfWork,
	o order.Order,
	pay payment.Payment,
	note string,
	now time.Time,
) error {
	err := work.OrderRepository().UpdateStatus(ctx, order.StatusUpdate{
		ID:        o.ID,
		From:      order.StatusPending,
		To:        order.StatusPaymentPending,
		UpdatedAt: now,
	})
	if err != nil {
		if errors.Is(err, dalerr.ErrStaleWrite) {
			return errs.Conflict("order %s changed while initiating payment", o.OrderNumber)
		}

		return errs.Internal("update order status", err)
	}

	entry := statuslog.New(o.ID, order.StatusPending, order.StatusPaymentPending, pay.UserID.String(), note)
	if _, err := work.StatusLogRepository().Append(ctx, entry); err != nil {
		return errs.Internal("append status log", err)
	}

	msg, err := outbox.NewMessage(s.eventsQueue, outbox.Event{
		Type:     outbox.EventPaymentInitiated,
		TenantID: o.TenantID,
		OrderID:  o.ID,
		Data: map[string]any{
			"paymentId":         pay.ID,
			"checkoutRequestId": pay.CheckoutRequestID,
			"amount":            pay.Amount,
			"currency":          pay.Currency,
		},
	}, now)
	if err != nil {
		return errs.Internal("build payment event", err)
	}
	if err := work.OutboxRepository().Insert(ctx, msg); err != nil {
		return errs.Internal("insert outbox message", err)
	}

	return nil
}

// recordUnconfirmed keeps a push whose outcome is unknown as a pending
// payment under a provisional checkout id. The order awaits payment until
// the attempt expires, so the customer cannot be prompted twice meanwhile.
func (s *PaymentService) recordUnconfirmed(
	ctx context.Context,
	work unitOfWork,
	o order.Order,
	phone string,
	perr *mpesa.ProviderError,
) (InitiateResult, error) {
	now := s.now()
	id := uuid.New()
	pay, err := work.PaymentRepository().Insert(ctx, payment.Payment{
		ID:                id,
		TenantID:          o.TenantID,
		OrderID:           o.ID,
		UserID:            o.UserID,
		Amount:            o.TotalAmount,
		Currency:          o.Currency,
		Method:            payment.MethodMpesa,
		PhoneNumber:       phone,
		CheckoutRequestID: payment.ProvisionalCheckoutID(id),
		Status:            payment.StatusPending,
		CreatedAt:         now,
		UpdatedAt:         now,
	})
	if err != nil {
		return InitiateResult{}, errs.Internal("insert provisional payment", err)
	}

	note := "M-Pesa payment request unconfirmed, awaiting provider result"
	if err := s.markAwaitingPayment(ctx, work, o, pay, note, now); err != nil {
		return InitiateResult{}, err
	}

	if err := work.Commit(ctx); err != nil {
		return InitiateResult{}, errs.Internal("commit provisional payment", err)
	}

	s.metrics.PaymentInitiation(perr.Reason.String())
	slog.WarnContext(ctx, "STK push unconfirmed, payment kept as provisional",
		"order_id", o.ID,
		"payment_id", pay.ID,
		"checkout_request_id", pay.CheckoutRequestID,
		"expires_at", now.Add(s.provisionalExpiry),
		"reason", perr.Reason,
		"error", perr,
	)

	return InitiateResult{
		Success:           false,
		CheckoutRequestID: pay.CheckoutRequestID,
		Payment:           &pay,
		ErrorKind:         perr.Reason.String(),
		Message:           perr.Message,
		Indeterminate:     true,
	}, nil
}

// expireStale fails the latest payment of an order when it is provisional
// and past its expiry. Other payments are left alone.
func (s *PaymentService) expireStale(ctx context.Context, tenantID, orderID uuid.UUID) error {
	pay, err := s.newUOW().PaymentRepository().LatestForOrder(ctx, tenantID, orderID)
	if err != nil {
		if errors.Is(err, dalerr.ErrNotFound) {
			return nil
		}

		return errs.Internal("get latest payment", err)
	}
	if !s.expired(pay) {
		return nil
	}

	return s.expire(ctx, pay)
}

func (s *PaymentService) expired(pay payment.Payment) bool {
	return pay.Status == payment.StatusPending &&
		pay.IsProvisional() &&
		!s.now().Before(pay.CreatedAt.Add(s.provisionalExpiry))
}

// expire applies a timeout result through the reconciler, which fails the
// payment and moves the order back to pending.
func (s *PaymentService) expire(ctx context.Context, pay payment.Payment) error {
	outcome, err := s.reconciler.Apply(ctx, pay.CheckoutRequestID, payment.ProviderResult{
		CheckoutRequestID: pay.CheckoutRequestID,
		ResultCode:        mpesa.ResultExpired,
		ResultDesc:        "No provider result within " + s.provisionalExpiry.String(),
		Source:            payment.SourceExpiry,
	})
	if err != nil {
		return err
	}

	slog.InfoContext(ctx, "Provisional payment expired",
		"payment_id", pay.ID,
		"order_id", pay.OrderID,
		"outcome", outcome,
	)

	return nil
}

// rejected turns a failed STK push into a result. The caller's deferred
// rollback leaves the order pending.
func (s *PaymentService) rejected(ctx context.Context, o order.Order, err error) (InitiateResult, error) {
	var perr *mpesa.ProviderError
	if !errors.As(err, &perr) {
		s.metrics.PaymentInitiation(outcomeError)

		return InitiateResult{}, errs.ExternalGateway(err)
	}

	s.metrics.PaymentInitiation(perr.Reason.String())
	slog.WarnContext(ctx, "STK push not accepted",
		"order_id", o.ID,
		"reason", perr.Reason,
		"code", perr.Code,
		"indeterminate", perr.Indeterminate,
		"error", err,
	)

	return InitiateResult{
		Success:       false,
		ErrorKind:     perr.Reason.String(),
		Message:       perr.Message,
		Indeterminate: perr.Indeterminate,
	}, nil
}

// logOrphanedPush records an accepted push whose payment could not be
// stored. Its callback will be dropped as an unknown payment.
func (s *PaymentService) logOrphanedPush(ctx context.Context, o order.Order, resp mpesa.STKPushResponse, err error) {
	slog.ErrorContext(ctx, "STK push accepted but payment not recorded",
		"order_id", o.ID,
		"checkout_request_id", resp.CheckoutRequestID,
		"merchant_request_id", resp.MerchantRequestID,
		"error", err,
	)
}

// QueryStatus asks the provider about a pending payment and applies a
// definitive answer through the reconciler. mpesa.ErrStillProcessing is
// returned while the customer has not answered the prompt.
func (s *PaymentService) QueryStatus(ctx context.Context, checkoutRequestID string) (payment.ProviderResult, error) {
	ctx, span := otel.Tracer("service").Start(ctx, "PaymentService.QueryStatus")
	defer span.End()
	span.SetAttributes(attribute.String("payment.checkout_request_id", checkoutRequestID))

	pay, err := s.newUOW().PaymentRepository().GetByCheckoutRequestID(ctx, checkoutRequestID)
	if err != nil {
		if errors.Is(err, dalerr.ErrNotFound) {
			return payment.ProviderResult{}, errs.NotFound("payment %s not found", checkoutRequestID)
		}

		return payment.ProviderResult{}, errs.Internal("get payment", err)
	}
	if pay.Status.IsTerminal() {
		return payment.ProviderResult{}, errs.Conflict("payment %s is already %s", checkoutRequestID, pay.Status)
	}
	if pay.IsProvisional() {
		return payment.ProviderResult{}, errs.Conflict("payment %s was never confirmed by the provider", checkoutRequestID)
	}

	reply, err := s.provider.QueryStatus(ctx, checkoutRequestID)
	if err != nil {
		if errors.Is(err, mpesa.ErrStillProcessing) {
			return payment.ProviderResult{}, err
		}

		return payment.ProviderResult{}, errs.ExternalGateway(err)
	}

	result, err := reply.ProviderResult()
	if err != nil {
		return payment.ProviderResult{}, errs.ExternalGateway(err)
	}

	outcome, err := s.reconciler.Apply(ctx, checkoutRequestID, result)
	if err != nil {
		return payment.ProviderResult{}, err
	}

	slog.InfoContext(ctx, "Status query applied",
		"checkout_request_id", checkoutRequestID,
		"result_code", result.ResultCode,
		"outcome", outcome,
	)

	return result, nil
}

// GetPaymentStatus returns the latest payment of one of the caller's orders.
// A pending payment is first checked with the provider; a failed check
// leaves the stored state as the answer. A provisional payment cannot be
// queried and is reported as stored until it expires.
func (s *PaymentService) GetPaymentStatus(
	ctx context.Context,
	p principal.Principal,
	orderID uuid.UUID,
) (payment.Payment, error) {
	ctx, span := otel.Tracer("service").Start(ctx, "PaymentService.GetPaymentStatus")
	defer span.End()

	work := s.newUOW()

	o, err := work.OrderRepository().GetByID(ctx, p.TenantID, orderID)
	if err != nil {
		if errors.Is(err, dalerr.ErrNotFound) {
			return payment.Payment{}, errs.NotFound("order %s not found", orderID)
		}

		return payment.Payment{}, errs.Internal("get order", err)
	}
	if o.UserID != p.UserID {
		return payment.Payment{}, errs.NotFound("order %s not found", orderID)
	}

	pay, err := s.latest(ctx, work, o)
	if err != nil {
		return payment.Payment{}, err
	}
	if pay.Status != payment.StatusPending {
		return pay, nil
	}
	if pay.IsProvisional() {
		if !s.expired(pay) {
			return pay, nil
		}
		if err := s.expire(ctx, pay); err != nil {
			return payment.Payment{}, err
		}

		return s.latest(ctx, work, o)
	}

	if _, err := s.QueryStatus(ctx, pay.CheckoutRequestID); err != nil {
		if !errors.Is(err, mpesa.ErrStillProcessing) {
			slog.WarnContext(ctx, "Payment status check failed",
				"checkout_request_id", pay.CheckoutRequestID,
				"error", err,
			)
		}

		return pay, nil
	}

	return s.latest(ctx, work, o)
}

func (s *PaymentService) latest(ctx context.Context, work unitOfWork, o order.Order) (payment.Payment, error) {
	pay, err := work.PaymentRepository().LatestForOrder(ctx, o.TenantID, o.ID)
	if err != nil {
		if errors.Is(err, dalerr.ErrNotFound) {
			return payment.Payment{}, errs.NotFound("no payment found for order %s", o.OrderNumber)
		}

		return payment.Payment{}, errs.Internal("get latest payment", err)
	}

	return pay, nil
}
