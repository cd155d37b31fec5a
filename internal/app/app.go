package app

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/corray333/backend-labs/foodorder/internal/dal/postgres"
	"github.com/corray333/backend-labs/foodorder/internal/dal/rabbitmq"
	inboxrepo "github.com/corray333/backend-labs/foodorder/internal/dal/repositories/inbox/postgres"
	outboxrepo "github.com/corray333/backend-labs/foodorder/internal/dal/repositories/outbox/postgres"
	"github.com/corray333/backend-labs/foodorder/internal/gateway/mpesa"
	"github.com/corray333/backend-labs/foodorder/internal/metrics"
	"github.com/corray333/backend-labs/foodorder/internal/otel"
	"github.com/corray333/backend-labs/foodorder/internal/service/services/ordersvc"
	"github.com/corray333/backend-labs/foodorder/internal/service/services/paymentsvc"
	"github.com/corray333/backend-labs/foodorder/internal/service/services/reconciler"
	httptransport "github.com/corray333/backend-labs/foodorder/internal/transport/http"
	callbackworker "github.com/corray333/backend-labs/foodorder/internal/worker/callback"
	inboxworker "github.com/corray333/backend-labs/foodorder/internal/worker/inbox"
	outboxworker "github.com/corray333/backend-labs/foodorder/internal/worker/outbox"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/viper"
)

const defaultEventsQueue = "foodorder.events"

// App represents the application.
type App struct {
	transport      *httptransport.HTTPTransport
	dispatcher     *callbackworker.Dispatcher
	inboxWorker    *inboxworker.Worker
	outboxWorker   *outboxworker.Worker
	rabbitMqClient *rabbitmq.Client
	postgresClient *postgres.Client
	otelController *otel.OtelController
}

// MustNewApp creates a new application.
func MustNewApp() *App {
	otelController := otel.MustInitOtel()
	postgresClient := postgres.MustNewClient()
	rabbitMqClient := rabbitmq.MustNewClient(context.Background())

	eventsQueue := viper.GetString("rabbitmq.events_queue")
	if eventsQueue == "" {
		eventsQueue = defaultEventsQueue
	}
	if _, err := rabbitMqClient.DeclareQueue(rabbitmq.DeclareQueueConfig{
		Name:    eventsQueue,
		Durable: true,
	}); err != nil {
		panic("failed to declare events queue: " + err.Error())
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	mpesaClient := mpesa.NewClient(mpesaConfig(), mpesa.WithMetrics(m))

	reconcilerSvc := reconciler.MustNewReconciler(
		reconciler.WithPostgresClient(postgresClient),
		reconciler.WithMetrics(m),
		reconciler.WithEventsQueue(eventsQueue),
	)

	orderSvc := ordersvc.MustNewOrderService(
		ordersvc.WithPostgresClient(postgresClient),
		ordersvc.WithMetrics(m),
		ordersvc.WithEventsQueue(eventsQueue),
	)

	paymentSvc := paymentsvc.MustNewPaymentService(
		paymentsvc.WithPostgresClient(postgresClient),
		paymentsvc.WithProvider(mpesaClient),
		paymentsvc.WithReconciler(reconcilerSvc),
		paymentsvc.WithMetrics(m),
		paymentsvc.WithEventsQueue(eventsQueue),
		paymentsvc.WithProvisionalExpiry(viper.GetDuration("mpesa.provisional_expiry")),
	)

	inboxRepository := inboxrepo.NewInboxRepository(postgresClient.Pool())
	outboxRepository := outboxrepo.NewOutboxRepository(postgresClient.Pool())

	dispatcher := callbackworker.NewDispatcher(reconcilerSvc, inboxRepository, m, callbackworker.ConfigFromViper())
	inboxWorker := inboxworker.NewWorker(
		inboxRepository,
		reconcilerSvc,
		viper.GetDuration("callback.inbox_poll_interval"),
		viper.GetInt("callback.inbox_batch_size"),
	)
	outboxWorker := outboxworker.NewWorker(outboxRepository, rabbitMqClient, m)

	transport := httptransport.NewHTTPTransport(orderSvc, paymentSvc, dispatcher, registry)
	transport.RegisterRoutes()

	return &App{
		transport:      transport,
		dispatcher:     dispatcher,
		inboxWorker:    inboxWorker,
		outboxWorker:   outboxWorker,
		rabbitMqClient: rabbitMqClient,
		postgresClient: postgresClient,
		otelController: otelController,
	}
}

func mpesaConfig() mpesa.Config {
	baseURL := viper.GetString("mpesa.base_url")
	if baseURL == "" {
		baseURL = mpesa.BaseURLFor(viper.GetString("mpesa.environment"))
	}

	return mpesa.Config{
		BaseURL:         baseURL,
		ConsumerKey:     viper.GetString("mpesa.consumer_key"),
		ConsumerSecret:  viper.GetString("mpesa.consumer_secret"),
		ShortCode:       viper.GetString("mpesa.short_code"),
		Passkey:         viper.GetString("mpesa.passkey"),
		CallbackURL:     viper.GetString("mpesa.callback_url"),
		TransactionType: viper.GetString("mpesa.transaction_type"),
		CountryCode:     viper.GetString("mpesa.country_code"),
		RequestTimeout:  viper.GetDuration("mpesa.request_timeout"),
	}
}

// Run starts the application.
// Tracks interrupt signal to gracefully shut down the application.
func (a *App) Run() {
	// Create a channel to receive OS signals
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a.dispatcher.Start()

	go func() {
		slog.Info("Starting inbox worker")
		a.inboxWorker.Start(ctx)
	}()

	go func() {
		slog.Info("Starting outbox worker")
		a.outboxWorker.Start(ctx)
	}()

	go func() {
		if err := a.transport.Run(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
		}
	}()

	<-stop
	slog.Info("Shutdown signal received")

	a.gracefulShutdown()
	cancel()
}

// gracefulShutdown stops intake first, then drains background work, then
// releases connections.
func (a *App) gracefulShutdown() {
	timeout := viper.GetDuration("server.shutdown_timeout")
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := a.transport.Shutdown(ctx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	} else {
		slog.Info("HTTP server stopped gracefully")
	}

	// Results still queued are applied, or parked in the inbox on timeout.
	if err := a.dispatcher.Stop(ctx); err != nil {
		slog.Error("Callback dispatcher shutdown error", "error", err)
	}

	a.inboxWorker.Stop()
	slog.Info("Inbox worker stopped gracefully")

	a.outboxWorker.Stop()
	slog.Info("Outbox worker stopped gracefully")

	if err := a.rabbitMqClient.Close(); err != nil {
		slog.Error("RabbitMQ connection close error", "error", err)
	} else {
		slog.Info("RabbitMQ connection closed gracefully")
	}

	a.postgresClient.Close()
	slog.Info("Database connection closed gracefully")

	if err := a.otelController.Shutdown(ctx); err != nil {
		slog.Error("Otel trace provider connection close error", "error", err)
	} else {
		slog.Info("Otel trace provider connection closed gracefully")
	}

	select {
	case <-ctx.Done():
		slog.Warn("Shutdown timeout exceeded")
	default:
		slog.Info("Application shutdown complete")
	}
}
