package mpesa

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/corray333/backend-labs/foodorder/pkg/logger"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNormalizePhone(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{name: "leading zero", raw: "0712345678", want: "254712345678"},
		{name: "plus prefix", raw: "+254712345678", want: "254712345678"},
		{name: "country code", raw: "254712345678", want: "254712345678"},
		{name: "bare nine digits", raw: "712345678", want: "254712345678"},
		{name: "separators", raw: "0712 345-678", want: "254712345678"},
		{name: "unknown shape", raw: "12345", want: "12345"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizePhone(tt.raw, "254"))
		})
	}
}

func TestReasonForCode(t *testing.T) {
	tests := []struct {
		code string
		want Reason
	}{
		{code: "1", want: ReasonInsufficientFunds},
		{code: "4", want: ReasonValueOutOfBounds},
		{code: "10", want: ReasonInvalidPhone},
		{code: "13", want: ReasonTimeout},
		{code: "17", want: ReasonWrongPIN},
		{code: "18", want: ReasonUserCancelled},
		{code: "26", want: ReasonInProgress},
		{code: "1032", want: ReasonUserCancelled},
		{code: "1037", want: ReasonInvalidPhone},
		{code: "1019", want: ReasonTimeout},
		{code: "2001", want: ReasonWrongPIN},
		{code: "500.001.1001", want: ReasonInProgress},
		{code: "400.002.02", want: ReasonGenericFailure},
		{code: "", want: ReasonGenericFailure},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			assert.Equal(t, tt.want, ReasonForCode(tt.code))
		})
	}

	assert.Equal(t, "Transaction cancelled by user", MessageForCode("1032"))
	assert.Equal(t, "Payment failed. Please try again.", MessageForCode("9998"))
}

func TestTruncateKeepsPrefixRunes(t *testing.T) {
	assert.Equal(t, "Food Order Pa", truncate("Food Order Payment", 13))
	assert.Equal(t, "Kahawa ☕ Caf", truncate("Kahawa ☕ Café Nairobi", 12))
	assert.Equal(t, "short", truncate("short", 12))
}

type fakeProvider struct {
	tokenCalls atomic.Int32
	stkBodies  chan map[string]any
	stkReply   func(w http.ResponseWriter)
	queryReply func(w http.ResponseWriter)
	delay      time.Duration
}

func newFakeProvider(t *testing.T) (*fakeProvider, *httptest.Server) {
	t.Helper()

	fp := &fakeProvider{stkBodies: make(chan map[string]any, 10)}
	mux := http.NewServeMux()
	mux.HandleFunc("/oauth/v1/generate", func(w http.ResponseWriter, r *http.Request) {
		fp.tokenCalls.Add(1)
		user, pass, ok := r.BasicAuth()
		if !ok || user != "key" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)

			return
		}
		_, _ = w.Write([]byte(`{"access_token":"tok","expires_in":"3599"}`))
	})
	mux.HandleFunc("/mpesa/stkpush/v1/processrequest", func(w http.ResponseWriter, r *http.Request) {
		if fp.delay > 0 {
			time.Sleep(fp.delay)
		}
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.WriteHeader(http.StatusUnauthorized)

			return
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		fp.stkBodies <- body
		fp.stkReply(w)
	})
	mux.HandleFunc("/mpesa/stkpushquery/v1/query", func(w http.ResponseWriter, r *http.Request) {
		fp.queryReply(w)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return fp, srv
}

func newTestClient(srv *httptest.Server, now func() time.Time) *Client {
	return NewClient(Config{
		BaseURL:        srv.URL,
		ConsumerKey:    "key",
		ConsumerSecret: "secret",
		ShortCode:      "174379",
		Passkey:        "passkey",
		CallbackURL:    "https://example.com/api/mpesa/callback",
		RequestTimeout: 200 * time.Millisecond,
	}, WithHTTPClient(srv.Client()), WithClock(now))
}

func acceptedReply(w http.ResponseWriter) {
	_, _ = w.Write([]byte(`{
		"MerchantRequestID": "29115-34620561-1",
		"CheckoutRequestID": "ws_CO_191220191020363925",
		"ResponseCode": "0",
		"ResponseDescription": "Success. Request accepted for processing",
		"CustomerMessage": "Success. Request accepted for processing"
	}`))
}

func TestSTKPushSendsProviderFields(t *testing.T) {
	fp, srv := newFakeProvider(t)
	fp.stkReply = acceptedReply

	now := time.Date(2024, 3, 1, 9, 30, 15, 0, time.UTC)
	client := newTestClient(srv, func() time.Time { return now })

	resp, err := client.STKPush(context.Background(), STKPushRequest{
		Phone:            "0712345678",
		Amount:           decimal.RequireFromString("1499.50"),
		AccountReference: "2403010001-abcdef12",
		Description:      "Food Order Payment",
	})
	require.NoError(t, err)
	assert.Equal(t, "ws_CO_191220191020363925", resp.CheckoutRequestID)
	assert.Equal(t, "29115-34620561-1", resp.MerchantRequestID)
	assert.Equal(t, "254712345678", resp.PhoneNumber)

	body := <-fp.stkBodies
	wantTimestamp := "20240301123015" // EAT is UTC+3
	assert.Equal(t, map[string]any{
		"BusinessShortCode": "174379",
		"Password":          base64.StdEncoding.EncodeToString([]byte("174379passkey" + wantTimestamp)),
		"Timestamp":         wantTimestamp,
		"TransactionType":   "CustomerPayBillOnline",
		"Amount":            float64(1500),
		"PartyA":            "254712345678",
		"PartyB":            "174379",
		"PhoneNumber":       "254712345678",
		"CallBackURL":       "https://example.com/api/mpesa/callback",
		"AccountReference":  "2403010001-a",
		"TransactionDesc":   "Food Order Pa",
	}, body)
}

func TestAccessTokenIsCachedUntilExpiry(t *testing.T) {
	fp, srv := newFakeProvider(t)
	fp.stkReply = acceptedReply

	now := time.Now()
	client := newTestClient(srv, func() time.Time { return now })
	req := STKPushRequest{Phone: "0712345678", Amount: decimal.NewFromInt(10), AccountReference: "ref"}

	_, err := client.STKPush(context.Background(), req)
	require.NoError(t, err)
	_, err = client.STKPush(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, int32(1), fp.tokenCalls.Load())

	// 3599s lifetime minus the default 60s margin.
	now = now.Add(3540 * time.Second)
	_, err = client.STKPush(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, int32(2), fp.tokenCalls.Load())
}

func TestSTKPushRejection(t *testing.T) {
	fp, srv := newFakeProvider(t)
	fp.stkReply = func(w http.ResponseWriter) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"requestId":"1","errorCode":"1","errorMessage":"insufficient"}`))
	}
	client := newTestClient(srv, time.Now)

	_, err := client.STKPush(context.Background(), STKPushRequest{
		Phone:  "0712345678",
		Amount: decimal.NewFromInt(100),
	})

	var pErr *ProviderError
	require.ErrorAs(t, err, &pErr)
	assert.Equal(t, ReasonInsufficientFunds, pErr.Reason)
	assert.Equal(t, "Insufficient funds in your M-Pesa account", pErr.Message)
	assert.False(t, pErr.Indeterminate)
}

func TestSTKPushNonZeroResponseCode(t *testing.T) {
	fp, srv := newFakeProvider(t)
	fp.stkReply = func(w http.ResponseWriter) {
		_, _ = w.Write([]byte(`{"CheckoutRequestID":"ws_CO_1","ResponseCode":1,"ResponseDescription":"rejected"}`))
	}
	client := newTestClient(srv, time.Now)

	_, err := client.STKPush(context.Background(), STKPushRequest{Phone: "0712345678", Amount: decimal.NewFromInt(5)})

	var pErr *ProviderError
	require.ErrorAs(t, err, &pErr)
	assert.Equal(t, "1", pErr.Code)
	assert.Equal(t, ReasonInsufficientFunds, pErr.Reason)
}

func TestSTKPushTimeoutIsIndeterminate(t *testing.T) {
	fp, srv := newFakeProvider(t)
	fp.delay = 500 * time.Millisecond
	fp.stkReply = acceptedReply
	client := newTestClient(srv, time.Now)

	_, err := client.STKPush(context.Background(), STKPushRequest{Phone: "0712345678", Amount: decimal.NewFromInt(5)})

	var pErr *ProviderError
	require.ErrorAs(t, err, &pErr)
	assert.Equal(t, ReasonTimeout, pErr.Reason)
	assert.True(t, pErr.Indeterminate)
}

func TestSTKPushRejectsSubUnitAmount(t *testing.T) {
	fp, srv := newFakeProvider(t)
	fp.stkReply = acceptedReply
	client := newTestClient(srv, time.Now)

	_, err := client.STKPush(context.Background(), STKPushRequest{Phone: "0712345678", Amount: decimal.RequireFromString("0.4")})

	var pErr *ProviderError
	require.ErrorAs(t, err, &pErr)
	assert.Equal(t, ReasonValueOutOfBounds, pErr.Reason)
	assert.Empty(t, fp.stkBodies)
}

func TestQueryStatus(t *testing.T) {
	t.Run("still processing", func(t *testing.T) {
		fp, srv := newFakeProvider(t)
		fp.queryReply = func(w http.ResponseWriter) {
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"requestId":"x","errorCode":"500.001.1001","errorMessage":"The transaction is being processed"}`))
		}
		client := newTestClient(srv, time.Now)

		_, err := client.QueryStatus(context.Background(), "ws_CO_1")
		require.ErrorIs(t, err, ErrStillProcessing)
	})

	t.Run("definitive answer", func(t *testing.T) {
		fp, srv := newFakeProvider(t)
		fp.queryReply = func(w http.ResponseWriter) {
			_, _ = w.Write([]byte(`{
				"ResponseCode": "0",
				"MerchantRequestID": "m-1",
				"CheckoutRequestID": "ws_CO_1",
				"ResultCode": "1032",
				"ResultDesc": "Request cancelled by user"
			}`))
		}
		client := newTestClient(srv, time.Now)

		result, err := client.QueryStatus(context.Background(), "ws_CO_1")
		require.NoError(t, err)

		pr, err := result.ProviderResult()
		require.NoError(t, err)
		assert.Equal(t, 1032, pr.ResultCode)
		assert.Equal(t, "ws_CO_1", pr.CheckoutRequestID)
		assert.Equal(t, "status_query", pr.Source)
		assert.False(t, pr.Succeeded())
	})
}

func TestClientLogsCarryRequestID(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(fp *fakeProvider, cfg *Config)
		call     func(ctx context.Context, c *Client) error
		wantMsgs []string
	}{
		{
			name:  "push accepted",
			setup: func(fp *fakeProvider, _ *Config) { fp.stkReply = acceptedReply },
			call: func(ctx context.Context, c *Client) error {
				_, err := c.STKPush(ctx, STKPushRequest{Phone: "0712345678", Amount: decimal.NewFromInt(5)})

				return err
			},
			wantMsgs: []string{"STK push accepted"},
		},
		{
			name: "push rejected",
			setup: func(fp *fakeProvider, _ *Config) {
				fp.stkReply = func(w http.ResponseWriter) {
					w.WriteHeader(http.StatusBadRequest)
					_, _ = w.Write([]byte(`{"requestId":"1","errorCode":"1","errorMessage":"insufficient"}`))
				}
			},
			call: func(ctx context.Context, c *Client) error {
				_, err := c.STKPush(ctx, STKPushRequest{Phone: "0712345678", Amount: decimal.NewFromInt(5)})

				return err
			},
			wantMsgs: []string{"STK push failed"},
		},
		{
			name:  "token refused",
			setup: func(_ *fakeProvider, cfg *Config) { cfg.ConsumerSecret = "wrong" },
			call: func(ctx context.Context, c *Client) error {
				_, err := c.STKPush(ctx, STKPushRequest{Phone: "0712345678", Amount: decimal.NewFromInt(5)})

				return err
			},
			wantMsgs: []string{"M-Pesa access token request failed", "STK push failed"},
		},
		{
			name: "query failed",
			setup: func(fp *fakeProvider, _ *Config) {
				fp.queryReply = func(w http.ResponseWriter) {
					w.WriteHeader(http.StatusInternalServerError)
					_, _ = w.Write([]byte(`{"requestId":"x","errorCode":"500.003.02","errorMessage":"System busy"}`))
				}
			},
			call: func(ctx context.Context, c *Client) error {
				_, err := c.QueryStatus(ctx, "ws_CO_1")

				return err
			},
			wantMsgs: []string{"STK status query failed"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			core, logs := observer.New(zapcore.DebugLevel)
			prev := slog.Default()
			slog.SetDefault(slog.New(logger.NewHandlerWithCore(core, nil)))
			t.Cleanup(func() { slog.SetDefault(prev) })

			fp, srv := newFakeProvider(t)
			cfg := Config{
				BaseURL:        srv.URL,
				ConsumerKey:    "key",
				ConsumerSecret: "secret",
				ShortCode:      "174379",
				Passkey:        "passkey",
				CallbackURL:    "https://example.com/api/mpesa/callback",
				RequestTimeout: 200 * time.Millisecond,
			}
			tt.setup(fp, &cfg)
			client := NewClient(cfg, WithHTTPClient(srv.Client()), WithClock(time.Now))

			ctx := context.WithValue(context.Background(), middleware.RequestIDKey, "req-42")
			_ = tt.call(ctx, client)

			var msgs []string
			for _, entry := range logs.All() {
				msgs = append(msgs, entry.Message)
				assert.Equal(t, "req-42", entry.ContextMap()["request_id"], entry.Message)
			}
			assert.Equal(t, tt.wantMsgs, msgs)
		})
	}
}
