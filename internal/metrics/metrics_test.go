package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.OrderCreated("delivery")
		m.PaymentInitiation("accepted")
		m.ResultApplied("callback", "applied")
		m.DispatcherQueueLength(3)
		m.DispatcherFailure("queue_full")
		m.ProviderRequest("stk_push", "ok", time.Second)
		m.OutboxPublishFailed()
	})
}

func TestCountersAreRecorded(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.OrderCreated("pickup")
	m.OrderCreated("pickup")
	m.ResultApplied("callback", "already_applied")

	families, err := reg.Gather()
	require.NoError(t, err)

	values := make(map[string]float64)
	for _, family := range families {
		for _, metric := range family.GetMetric() {
			if metric.GetCounter() != nil {
				values[family.GetName()] += metric.GetCounter().GetValue()
			}
		}
	}

	assert.InDelta(t, 2, values["foodorder_orders_created_total"], 0)
	assert.InDelta(t, 1, values["foodorder_provider_results_applied_total"], 0)
}
