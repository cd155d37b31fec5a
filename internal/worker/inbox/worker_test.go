package inbox

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/corray333/backend-labs/foodorder/internal/dal/memory"
	"github.com/corray333/backend-labs/foodorder/internal/service/models/inbox"
	"github.com/corray333/backend-labs/foodorder/internal/service/models/payment"
	"github.com/corray333/backend-labs/foodorder/internal/service/services/reconciler"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeService struct {
	err     error
	outcome reconciler.Outcome
	applied []string
}

func (f *fakeService) Apply(
	_ context.Context,
	checkoutRequestID string,
	_ payment.ProviderResult,
) (reconciler.Outcome, error) {
	if f.err != nil {
		return "", f.err
	}
	f.applied = append(f.applied, checkoutRequestID)
	if f.outcome != "" {
		return f.outcome, nil
	}

	return reconciler.OutcomeCompleted, nil
}

func park(t *testing.T, store *memory.Store, id string, payload []byte, retries int) {
	t.Helper()

	if payload == nil {
		var err error
		payload, err = json.Marshal(payment.ProviderResult{CheckoutRequestID: id, Source: payment.SourceCallback})
		require.NoError(t, err)
	}

	err := store.NewUnitOfWork().InboxRepository().Insert(context.Background(), inbox.InboxMessage{
		MessageID:   id,
		Source:      payment.SourceCallback,
		Payload:     payload,
		RetryCount:  retries,
		MaxRetries:  3,
		NextRetryAt: time.Now().Add(-time.Second),
	})
	require.NoError(t, err)
}

func TestProcessMessages(t *testing.T) {
	tests := []struct {
		name        string
		payload     []byte
		retries     int
		applyErr    error
		outcome     reconciler.Outcome
		wantApplied []string
		wantParked  int
		wantRetry   int
	}{
		{
			name:        "applied and removed",
			wantApplied: []string{"ws_CO_1"},
		},
		{
			name:       "failure is rescheduled",
			applyErr:   errors.New("connection refused"),
			wantParked: 1,
			wantRetry:  1,
		},
		{
			name:       "last failure keeps the message for inspection",
			retries:    2,
			applyErr:   errors.New("connection refused"),
			wantParked: 1,
			wantRetry:  3,
		},
		{
			name:        "payment still unknown is dropped",
			outcome:     reconciler.OutcomeUnknownPayment,
			wantApplied: []string{"ws_CO_1"},
		},
		{
			name:    "malformed payload is dropped",
			payload: []byte("{not json"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := memory.NewStore()
			park(t, store, "ws_CO_1", tt.payload, tt.retries)
			svc := &fakeService{err: tt.applyErr, outcome: tt.outcome}

			w := NewWorker(store.NewUnitOfWork().InboxRepository(), svc, time.Second, 10)
			w.processMessages(context.Background())

			assert.Equal(t, tt.wantApplied, svc.applied)

			parked := store.InboxMessages()
			require.Len(t, parked, tt.wantParked)
			if tt.wantParked > 0 {
				assert.Equal(t, tt.wantRetry, parked[0].RetryCount)
				assert.Equal(t, "connection refused", parked[0].LastError)
				assert.True(t, parked[0].NextRetryAt.After(time.Now().Add(29*time.Second)))
			}
		})
	}
}

func TestRescheduledMessageWaitsForBackoff(t *testing.T) {
	store := memory.NewStore()
	park(t, store, "ws_CO_1", nil, 0)
	svc := &fakeService{err: errors.New("connection refused")}

	w := NewWorker(store.NewUnitOfWork().InboxRepository(), svc, time.Second, 10)
	w.processMessages(context.Background())

	svc.err = nil
	w.processMessages(context.Background())
	assert.Empty(t, svc.applied)
}
