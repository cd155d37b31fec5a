package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/corray333/backend-labs/foodorder/docs"
	"github.com/corray333/backend-labs/foodorder/internal/service/models/order"
	"github.com/corray333/backend-labs/foodorder/internal/service/models/payment"
	"github.com/corray333/backend-labs/foodorder/internal/service/models/principal"
	"github.com/corray333/backend-labs/foodorder/internal/service/services/paymentsvc"
	"github.com/corray333/backend-labs/foodorder/internal/transport/http/callback"
	createorder "github.com/corray333/backend-labs/foodorder/internal/transport/http/create_order"
	getorder "github.com/corray333/backend-labs/foodorder/internal/transport/http/get_order"
	listorders "github.com/corray333/backend-labs/foodorder/internal/transport/http/list_orders"
	paymentstatus "github.com/corray333/backend-labs/foodorder/internal/transport/http/payment_status"
	stkpush "github.com/corray333/backend-labs/foodorder/internal/transport/http/stk_push"
	principalmw "github.com/corray333/backend-labs/foodorder/pkg/http/middleware/principal"
	"github.com/corray333/backend-labs/foodorder/pkg/http/middleware/trace"
	"github.com/corray333/backend-labs/foodorder/pkg/logger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/viper"
	httpSwagger "github.com/swaggo/http-swagger/v2"
)

type orderService interface {
	CreateOrder(ctx context.Context, p principal.Principal, model order.CreateOrderModel) (order.Order, error)
	GetOrder(ctx context.Context, p principal.Principal, id uuid.UUID) (order.Order, error)
	ListOrders(ctx context.Context, p principal.Principal, model order.QueryOrdersModel) ([]order.Order, error)
}

type paymentService interface {
	InitiatePayment(
		ctx context.Context,
		p principal.Principal,
		orderID uuid.UUID,
		phoneNumber string,
	) (paymentsvc.InitiateResult, error)
	GetPaymentStatus(ctx context.Context, p principal.Principal, orderID uuid.UUID) (payment.Payment, error)
}

type callbackDispatcher interface {
	Submit(ctx context.Context, result payment.ProviderResult) error
}

type HTTPTransport struct {
	server     *http.Server
	router     *chi.Mux
	orders     orderService
	payments   paymentService
	dispatcher callbackDispatcher
	gatherer   prometheus.Gatherer
}

func NewHTTPTransport(
	orders orderService,
	payments paymentService,
	dispatcher callbackDispatcher,
	gatherer prometheus.Gatherer,
) *HTTPTransport {
	router := newRouter()
	server := newServer(router)

	return &HTTPTransport{
		server:     server,
		router:     router,
		orders:     orders,
		payments:   payments,
		dispatcher: dispatcher,
		gatherer:   gatherer,
	}
}

// Handler exposes the router, mostly for httptest.
func (h *HTTPTransport) Handler() http.Handler {
	return h.router
}

func (h *HTTPTransport) Run() error {
	slog.Info("Starting HTTP server", "address", h.server.Addr)

	return h.server.ListenAndServe()
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (h *HTTPTransport) Shutdown(ctx context.Context) error {
	return h.server.Shutdown(ctx)
}

// RegisterRoutes registers the routes for the HTTPTransport.
func (h *HTTPTransport) RegisterRoutes() {
	h.router.Get("/health", h.health)
	h.router.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))
	h.router.Get("/swagger/doc.json", h.openAPI)
	h.router.Get("/swagger/*", httpSwagger.Handler(httpSwagger.URL("/swagger/doc.json")))

	h.router.Route("/api", func(r chi.Router) {
		// The provider calls back without tenant headers.
		r.Post("/mpesa/callback", h.mpesaCallback)

		r.Group(func(r chi.Router) {
			r.Use(principalmw.NewPrincipalMiddleware)

			r.Post("/orders", h.createOrder)
			r.Get("/orders", h.listOrders)
			r.Get("/orders/{id}", h.getOrder)
			r.Post("/mpesa/stk-push", h.stkPush)
			r.Get("/mpesa/payment-status/{orderId}", h.paymentStatus)
		})
	})
}

func (h *HTTPTransport) createOrder(w http.ResponseWriter, r *http.Request) {
	createorder.CreateOrder(w, r, h.orders)
}

func (h *HTTPTransport) listOrders(w http.ResponseWriter, r *http.Request) {
	listorders.ListOrders(w, r, h.orders)
}

func (h *HTTPTransport) getOrder(w http.ResponseWriter, r *http.Request) {
	getorder.GetOrder(w, r, h.orders)
}

func (h *HTTPTransport) stkPush(w http.ResponseWriter, r *http.Request) {
	stkpush.STKPush(w, r, h.payments)
}

func (h *HTTPTransport) paymentStatus(w http.ResponseWriter, r *http.Request) {
	paymentstatus.PaymentStatus(w, r, h.payments)
}

func (h *HTTPTransport) mpesaCallback(w http.ResponseWriter, r *http.Request) {
	callback.Callback(w, r, h.dispatcher)
}

func (h *HTTPTransport) health(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (h *HTTPTransport) openAPI(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(docs.OpenAPI)
}

func newRouter() *chi.Mux {
	router := chi.NewMux()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Use(trace.NewTraceMiddleware)
	router.Use(logger.NewLoggerMiddleware(slog.Default()))

	allowedOrigins := viper.GetStringSlice("server.http.cors.allowed_origins")
	allowedMethods := viper.GetStringSlice("server.http.cors.allowed_methods")
	allowedHeaders := viper.GetStringSlice("server.http.cors.allowed_headers")
	exposedHeaders := viper.GetStringSlice("server.http.cors.exposed_headers")
	allowCredentials := viper.GetBool("server.http.cors.allow_credentials")
	maxAge := viper.GetInt("server.http.cors.max_age")

	c := cors.New(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   allowedMethods,
		AllowedHeaders:   allowedHeaders,
		ExposedHeaders:   exposedHeaders,
		AllowCredentials: allowCredentials,
		MaxAge:           maxAge,
	})

	router.Use(c.Handler)

	return router
}

func newServer(router http.Handler) *http.Server {
	port := viper.GetString("server.http.port")
	if port == "" {
		port = "8080"
	}

	return &http.Server{
		Addr:              "0.0.0.0:" + port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
}
