package outbox

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/corray333/backend-labs/foodorder/internal/dal/memory"
	"github.com/corray333/backend-labs/foodorder/internal/metrics"
	"github.com/corray333/backend-labs/foodorder/internal/service/models/outbox"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/streadway/amqp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePublisher struct {
	err       error
	published []amqp.Publishing
	keys      []string
}

func (f *fakePublisher) Publish(_, routingKey string, msg amqp.Publishing) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, msg)
	f.keys = append(f.keys, routingKey)

	return nil
}

func seed(t *testing.T, store *memory.Store) {
	t.Helper()

	msg, err := outbox.NewMessage("foodorder.events", outbox.Event{
		Type:     outbox.EventOrderCreated,
		TenantID: uuid.New(),
		OrderID:  uuid.New(),
	}, time.Now().Add(-time.Second))
	require.NoError(t, err)
	require.NoError(t, store.NewUnitOfWork().OutboxRepository().Insert(context.Background(), msg))
}

func TestProcessMessagesPublishesAndDeletes(t *testing.T) {
	store := memory.NewStore()
	seed(t, store)
	seed(t, store)
	pub := &fakePublisher{}

	w := NewWorker(store.NewUnitOfWork().OutboxRepository(), pub, nil)
	w.processMessages(context.Background())

	require.Len(t, pub.published, 2)
	assert.Equal(t, []string{"foodorder.events", "foodorder.events"}, pub.keys)
	assert.Equal(t, "application/json", pub.published[0].ContentType)
	assert.Empty(t, store.OutboxMessages())
}

func TestProcessMessagesSchedulesRetry(t *testing.T) {
	store := memory.NewStore()
	seed(t, store)
	pub := &fakePublisher{err: errors.New("channel closed")}
	reg := prometheus.NewRegistry()

	before := time.Now()
	w := NewWorker(store.NewUnitOfWork().OutboxRepository(), pub, metrics.New(reg))
	w.processMessages(context.Background())

	msgs := store.OutboxMessages()
	require.Len(t, msgs, 1)
	assert.Equal(t, 1, msgs[0].RetryCount)
	assert.Equal(t, "channel closed", msgs[0].LastError)
	assert.False(t, msgs[0].NextRetryAt.Before(before.Add(30*time.Second)))

	// Not due yet, so the next poll leaves it alone.
	pub.err = nil
	w.processMessages(context.Background())
	assert.Empty(t, pub.published)

	families, err := reg.Gather()
	require.NoError(t, err)
	var found bool
	for _, mf := range families {
		if mf.GetName() == "foodorder_outbox_publish_failures_total" {
			found = true
			assert.InDelta(t, 1, mf.GetMetric()[0].GetCounter().GetValue(), 0)
		}
	}
	assert.True(t, found)
}
