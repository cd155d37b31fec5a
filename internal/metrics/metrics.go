package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "foodorder"

// Metrics holds the service's Prometheus collectors. A nil *Metrics is
// valid and records nothing, which keeps tests free of registries.
type Metrics struct {
	ordersCreated       *prometheus.CounterVec
	paymentInitiations  *prometheus.CounterVec
	callbackApplied     *prometheus.CounterVec
	dispatcherQueue     prometheus.Gauge
	dispatcherFailures  *prometheus.CounterVec
	providerLatency     *prometheus.HistogramVec
	outboxPublishFailed prometheus.Counter
}

// New creates the collectors and registers them on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ordersCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orders_created_total",
			Help:      "Orders created, by order type.",
		}, []string{"order_type"}),
		paymentInitiations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_initiations_total",
			Help:      "STK push initiations, by outcome.",
		}, []string{"outcome"}),
		callbackApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_results_applied_total",
			Help:      "Provider results applied to payments, by source and outcome.",
		}, []string{"source", "outcome"}),
		dispatcherQueue: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "callback_dispatcher",
			Name:      "queue_length",
			Help:      "Callbacks waiting to be applied.",
		}),
		dispatcherFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "callback_dispatcher",
			Name:      "failures_total",
			Help:      "Callbacks that could not be applied in place, by reason.",
		}, []string{"reason"}),
		providerLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_request_duration_seconds",
			Help:      "Latency of M-Pesa API calls.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation", "outcome"}),
		outboxPublishFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbox_publish_failures_total",
			Help:      "Outbox messages that failed to publish.",
		}),
	}

	reg.MustRegister(
		m.ordersCreated,
		m.paymentInitiations,
		m.callbackApplied,
		m.dispatcherQueue,
		m.dispatcherFailures,
		m.providerLatency,
		m.outboxPublishFailed,
	)

	return m
}

func (m *Metrics) OrderCreated(orderType string) {
	if m == nil {
		return
	}
	m.ordersCreated.WithLabelValues(orderType).Inc()
}

func (m *Metrics) PaymentInitiation(outcome string) {
	if m == nil {
		return
	}
	m.paymentInitiations.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ResultApplied(source, outcome string) {
	if m == nil {
		return
	}
	m.callbackApplied.WithLabelValues(source, outcome).Inc()
}

func (m *Metrics) DispatcherQueueLength(n int) {
	if m == nil {
		return
	}
	m.dispatcherQueue.Set(float64(n))
}

func (m *Metrics) DispatcherFailure(reason string) {
	if m == nil {
		return
	}
	m.dispatcherFailures.WithLabelValues(reason).Inc()
}

func (m *Metrics) ProviderRequest(operation, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.providerLatency.WithLabelValues(operation, outcome).Observe(elapsed.Seconds())
}

func (m *Metrics) OutboxPublishFailed() {
	if m == nil {
		return
	}
	m.outboxPublishFailed.Inc()
}
