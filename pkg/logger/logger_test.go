package logger

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestHandlerWritesFieldsAndRequestID(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	log := slog.New(NewHandlerWithCore(core, nil)).With("service", "foodorder")

	ctx := context.WithValue(context.Background(), middleware.RequestIDKey, "req-1")
	log.WithGroup("payment").ErrorContext(ctx, "Failed to apply result",
		"checkout_request_id", "ws_CO_1",
		"retries", 3,
		"error", errors.New("boom"),
	)

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, zapcore.ErrorLevel, entry.Level)
	assert.Equal(t, "Failed to apply result", entry.Message)

	fields := entry.ContextMap()
	assert.Equal(t, "foodorder", fields["service"])
	assert.Equal(t, "req-1", fields["request_id"])
	assert.Equal(t, "ws_CO_1", fields["payment.checkout_request_id"])
	assert.Equal(t, int64(3), fields["payment.retries"])
	assert.Equal(t, "boom", fields["payment.error"])
}

func TestHandlerRespectsLevel(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	log := slog.New(NewHandlerWithCore(core, &slog.HandlerOptions{Level: slog.LevelWarn}))

	log.Info("ignored")
	log.Warn("kept")

	require.Equal(t, 1, logs.Len())
	assert.Equal(t, "kept", logs.All()[0].Message)
}

func TestLoggerMiddlewareRecordsStatus(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	log := slog.New(NewHandlerWithCore(core, nil))

	handler := NewLoggerMiddleware(log)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/orders", nil))

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, int64(http.StatusTeapot), fields["status"])
	assert.Equal(t, "/api/orders", fields["path"])
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warning"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("nonsense"))
}
