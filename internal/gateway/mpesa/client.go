package mpesa

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/corray333/backend-labs/foodorder/internal/metrics"
)

const maxResponseBytes = 1 << 20

// Client calls the Lipa Na M-Pesa Online API.
type Client struct {
	cfg     Config
	http    *http.Client
	now     func() time.Time
	metrics *metrics.Metrics

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

// option is a function that configures the Client.
type option func(*Client)

// NewClient creates a new Client.
func NewClient(cfg Config, opts ...option) *Client {
	c := &Client{
		cfg:  cfg.withDefaults(),
		http: &http.Client{},
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}

	return c
}

// WithHTTPClient sets the HTTP client used for every call.
//
//goland:noinspection GoExportedFuncWithUnexportedType
func WithHTTPClient(httpClient *http.Client) option {
	return func(c *Client) {
		c.http = httpClient
	}
}

// WithClock overrides the time source.
//
//goland:noinspection GoExportedFuncWithUnexportedType
func WithClock(now func() time.Time) option {
	return func(c *Client) {
		c.now = now
	}
}

// WithMetrics sets the collectors provider latency is recorded on.
//
//goland:noinspection GoExportedFuncWithUnexportedType
func WithMetrics(m *metrics.Metrics) option {
	return func(c *Client) {
		c.metrics = m
	}
}

// CountryCode returns the country calling code phone numbers are normalized to.
func (c *Client) CountryCode() string {
	return c.cfg.CountryCode
}

// flexString accepts both JSON strings and numbers. The API is not
// consistent about which one it sends.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*f = ""

		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)

		return nil
	}
	*f = flexString(b)

	return nil
}

type tokenResponse struct {
	AccessToken string     `json:"access_token"`
	ExpiresIn   flexString `json:"expires_in"`
}

type apiError struct {
	RequestID    string     `json:"requestId"`
	ErrorCode    flexString `json:"errorCode"`
	ErrorMessage string     `json:"errorMessage"`
}

// accessToken returns a cached OAuth token, fetching a new one once the
// cached token is within the safety margin of its expiry.
func (c *Client) accessToken(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	if c.token != "" && now.Before(c.expiresAt) {
		return c.token, nil
	}

	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodGet,
		c.cfg.BaseURL+"/oauth/v1/generate?grant_type=client_credentials",
		nil,
	)
	if err != nil {
		return "", fmt.Errorf("failed to build token request: %w", err)
	}
	req.SetBasicAuth(c.cfg.ConsumerKey, c.cfg.ConsumerSecret)

	resp, err := c.http.Do(req)
	if err != nil {
		return "", transportError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", transportError(err)
	}
	if resp.StatusCode != http.StatusOK {
		slog.ErrorContext(ctx, "M-Pesa access token request failed", "status", resp.StatusCode, "body", string(body))

		return "", &ProviderError{
			Reason:  ReasonGenericFailure,
			Message: MessageForReason(ReasonGenericFailure),
			Detail:  fmt.Sprintf("failed to generate access token: status %d", resp.StatusCode),
		}
	}

	var token tokenResponse
	if err := json.Unmarshal(body, &token); err != nil || token.AccessToken == "" {
		return "", &ProviderError{
			Reason:  ReasonGenericFailure,
			Message: MessageForReason(ReasonGenericFailure),
			Detail:  "failed to generate access token: malformed response",
			Err:     err,
		}
	}

	seconds, _ := strconv.Atoi(string(token.ExpiresIn))
	c.token = token.AccessToken
	c.expiresAt = now.Add(time.Duration(seconds)*time.Second - c.cfg.TokenSafetyMargin)

	return c.token, nil
}

// post sends an authorized JSON request and decodes a successful answer into out.
func (c *Client) post(ctx context.Context, path string, payload, out any) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.RequestTimeout)
	defer cancel()

	token, err := c.accessToken(ctx)
	if err != nil {
		return nil, err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, transportError(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, transportError(err)
	}

	var apiErr apiError
	if json.Unmarshal(raw, &apiErr) == nil && apiErr.ErrorCode != "" {
		return raw, rejection(string(apiErr.ErrorCode), apiErr.ErrorMessage)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		return raw, &ProviderError{
			Reason:        ReasonGenericFailure,
			Message:       MessageForReason(ReasonGenericFailure),
			Detail:        fmt.Sprintf("unexpected status %d", resp.StatusCode),
			Indeterminate: resp.StatusCode >= http.StatusInternalServerError,
		}
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return raw, &ProviderError{
			Reason:  ReasonGenericFailure,
			Message: MessageForReason(ReasonGenericFailure),
			Detail:  "malformed response",
			Err:     err,
		}
	}

	return raw, nil
}

// timestamp returns the request timestamp and the matching password.
func (c *Client) timestamp() (string, string) {
	ts := c.now().In(c.cfg.Location).Format("20060102150405")

	return ts, password(c.cfg.ShortCode, c.cfg.Passkey, ts)
}

func transportError(err error) *ProviderError {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &ProviderError{
			Reason:        ReasonTimeout,
			Message:       MessageForReason(ReasonTimeout),
			Indeterminate: true,
			Err:           err,
		}
	}

	return &ProviderError{
		Reason:  ReasonGenericFailure,
		Message: MessageForReason(ReasonGenericFailure),
		Err:     err,
	}
}

func outcomeOf(err error) string {
	var pErr *ProviderError
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrStillProcessing):
		return "processing"
	case errors.As(err, &pErr) && pErr.Indeterminate:
		return "indeterminate"
	case errors.As(err, &pErr):
		return "rejected"
	default:
		return "error"
	}
}
