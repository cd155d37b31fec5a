package callback

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/corray333/backend-labs/foodorder/internal/dal/memory"
	"github.com/corray333/backend-labs/foodorder/internal/service/models/payment"
	"github.com/corray333/backend-labs/foodorder/internal/service/services/reconciler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type scriptedApplier struct {
	mu       sync.Mutex
	calls    map[string]int
	failures int
	panics   bool
	block    chan struct{}
	unknown  map[string]bool
	applied  atomic.Int32
}

func newScriptedApplier() *scriptedApplier {
	return &scriptedApplier{calls: make(map[string]int)}
}

func (a *scriptedApplier) Apply(
	ctx context.Context,
	checkoutRequestID string,
	_ payment.ProviderResult,
) (reconciler.Outcome, error) {
	if a.block != nil {
		select {
		case <-a.block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	a.mu.Lock()
	a.calls[checkoutRequestID]++
	n := a.calls[checkoutRequestID]
	a.mu.Unlock()

	if a.panics {
		panic("nil order")
	}
	if n <= a.failures {
		return "", errors.New("deadlock detected")
	}
	if a.unknown[checkoutRequestID] {
		return reconciler.OutcomeUnknownPayment, nil
	}
	a.applied.Add(1)

	return reconciler.OutcomeCompleted, nil
}

func (a *scriptedApplier) callsFor(id string) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	return a.calls[id]
}

func testConfig() Config {
	return Config{
		Workers:     2,
		QueueSize:   8,
		TaskTimeout: time.Second,
		Retries:     2,
		BaseBackoff: time.Millisecond,
		MaxBackoff:  5 * time.Millisecond,
	}
}

func result(id string) payment.ProviderResult {
	return payment.ProviderResult{CheckoutRequestID: id, ResultCode: 0, Source: payment.SourceCallback}
}

func TestDispatcherAppliesResults(t *testing.T) {
	store := memory.NewStore()
	applier := newScriptedApplier()
	d := NewDispatcher(applier, store.NewUnitOfWork().InboxRepository(), nil, testConfig())
	d.Start()

	for _, id := range []string{"ws_CO_1", "ws_CO_2", "ws_CO_3"} {
		require.NoError(t, d.Submit(context.Background(), result(id)))
	}
	require.NoError(t, d.Stop(context.Background()))

	assert.Equal(t, int32(3), applier.applied.Load())
	assert.Empty(t, store.InboxMessages())
}

func TestDispatcherRetriesTransientFailures(t *testing.T) {
	store := memory.NewStore()
	applier := newScriptedApplier()
	applier.failures = 2
	d := NewDispatcher(applier, store.NewUnitOfWork().InboxRepository(), nil, testConfig())
	d.Start()

	require.NoError(t, d.Submit(context.Background(), result("ws_CO_1")))
	require.NoError(t, d.Stop(context.Background()))

	assert.Equal(t, 3, applier.callsFor("ws_CO_1"))
	assert.Equal(t, int32(1), applier.applied.Load())
	assert.Empty(t, store.InboxMessages())
}

func TestDispatcherParksExhaustedResults(t *testing.T) {
	store := memory.NewStore()
	applier := newScriptedApplier()
	applier.failures = 100
	d := NewDispatcher(applier, store.NewUnitOfWork().InboxRepository(), nil, testConfig())
	d.Start()

	require.NoError(t, d.Submit(context.Background(), result("ws_CO_1")))
	require.NoError(t, d.Stop(context.Background()))

	assert.Equal(t, 3, applier.callsFor("ws_CO_1"))

	parked := store.InboxMessages()
	require.Len(t, parked, 1)
	assert.Equal(t, "ws_CO_1", parked[0].MessageID)
	assert.Equal(t, payment.SourceCallback, parked[0].Source)
	assert.Contains(t, parked[0].LastError, "deadlock detected")

	var got payment.ProviderResult
	require.NoError(t, json.Unmarshal(parked[0].Payload, &got))
	assert.Equal(t, "ws_CO_1", got.CheckoutRequestID)
}

func TestDispatcherParksResultsForUnrecordedPayments(t *testing.T) {
	store := memory.NewStore()
	applier := newScriptedApplier()
	applier.unknown = map[string]bool{"ws_CO_early": true}
	d := NewDispatcher(applier, store.NewUnitOfWork().InboxRepository(), nil, testConfig())
	d.Start()

	require.NoError(t, d.Submit(context.Background(), result("ws_CO_early")))
	require.NoError(t, d.Submit(context.Background(), result("ws_CO_1")))
	require.NoError(t, d.Stop(context.Background()))

	assert.Equal(t, 1, applier.callsFor("ws_CO_early"))
	assert.Equal(t, 1, applier.callsFor("ws_CO_1"))
	assert.Equal(t, int32(1), applier.applied.Load())

	parked := store.InboxMessages()
	require.Len(t, parked, 1)
	assert.Equal(t, "ws_CO_early", parked[0].MessageID)
	assert.Contains(t, parked[0].LastError, "not recorded yet")
	assert.True(t, parked[0].NextRetryAt.After(parked[0].CreatedAt))
}

func TestDispatcherRecoversFromPanics(t *testing.T) {
	store := memory.NewStore()
	applier := newScriptedApplier()
	applier.panics = true
	d := NewDispatcher(applier, store.NewUnitOfWork().InboxRepository(), nil, testConfig())
	d.Start()

	require.NoError(t, d.Submit(context.Background(), result("ws_CO_1")))
	require.NoError(t, d.Submit(context.Background(), result("ws_CO_2")))
	require.NoError(t, d.Stop(context.Background()))

	parked := store.InboxMessages()
	require.Len(t, parked, 2)
	assert.Contains(t, parked[0].LastError, "panic")
}

func TestDispatcherParksWhenQueueIsFull(t *testing.T) {
	store := memory.NewStore()
	applier := newScriptedApplier()
	cfg := testConfig()
	cfg.QueueSize = 1
	d := NewDispatcher(applier, store.NewUnitOfWork().InboxRepository(), nil, cfg)

	require.NoError(t, d.Submit(context.Background(), result("ws_CO_1")))
	require.NoError(t, d.Submit(context.Background(), result("ws_CO_2")))

	parked := store.InboxMessages()
	require.Len(t, parked, 1)
	assert.Equal(t, "ws_CO_2", parked[0].MessageID)

	d.Start()
	require.NoError(t, d.Stop(context.Background()))
	assert.Equal(t, 1, applier.callsFor("ws_CO_1"))
	assert.Equal(t, 0, applier.callsFor("ws_CO_2"))
}

func TestDispatcherAfterStop(t *testing.T) {
	store := memory.NewStore()
	d := NewDispatcher(newScriptedApplier(), store.NewUnitOfWork().InboxRepository(), nil, testConfig())
	d.Start()
	require.NoError(t, d.Stop(context.Background()))
	require.NoError(t, d.Stop(context.Background()))

	require.NoError(t, d.Submit(context.Background(), result("ws_CO_late")))
	require.Len(t, store.InboxMessages(), 1)
}

func TestDispatcherStopTimeoutParksInFlight(t *testing.T) {
	store := memory.NewStore()
	applier := newScriptedApplier()
	applier.block = make(chan struct{})
	cfg := testConfig()
	cfg.Retries = 1
	d := NewDispatcher(applier, store.NewUnitOfWork().InboxRepository(), nil, cfg)
	d.Start()

	require.NoError(t, d.Submit(context.Background(), result("ws_CO_1")))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := d.Stop(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	parked := store.InboxMessages()
	require.Len(t, parked, 1)
	assert.Equal(t, "ws_CO_1", parked[0].MessageID)
}

func TestSubmitIgnoresRequestCancellation(t *testing.T) {
	store := memory.NewStore()
	applier := newScriptedApplier()
	d := NewDispatcher(applier, store.NewUnitOfWork().InboxRepository(), nil, testConfig())
	d.Start()

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, d.Submit(ctx, result("ws_CO_1")))
	cancel()

	require.NoError(t, d.Stop(context.Background()))
	assert.Equal(t, int32(1), applier.applied.Load())
}
