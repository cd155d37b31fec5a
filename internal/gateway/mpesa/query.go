package mpesa

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/corray333/backend-labs/foodorder/internal/service/models/payment"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

// QueryResult is the provider's answer to a status query.
type QueryResult struct {
	ResponseCode        string
	ResponseDescription string
	MerchantRequestID   string
	CheckoutRequestID   string
	ResultCode          string
	ResultDesc          string
	Raw                 json.RawMessage
}

type queryBody struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	CheckoutRequestID string `json:"CheckoutRequestID"`
}

type queryReply struct {
	ResponseCode        flexString `json:"ResponseCode"`
	ResponseDescription string     `json:"ResponseDescription"`
	MerchantRequestID   string     `json:"MerchantRequestID"`
	CheckoutRequestID   string     `json:"CheckoutRequestID"`
	ResultCode          flexString `json:"ResultCode"`
	ResultDesc          string     `json:"ResultDesc"`
}

// QueryStatus asks the provider for the outcome of an STK push. It returns
// ErrStillProcessing while the customer has not answered the prompt.
func (c *Client) QueryStatus(ctx context.Context, checkoutRequestID string) (QueryResult, error) {
	ctx, span := otel.Tracer("mpesa").Start(ctx, "Client.QueryStatus")
	defer span.End()
	span.SetAttributes(attribute.String("mpesa.checkout_request_id", checkoutRequestID))

	start := time.Now()
	result, err := c.queryStatus(ctx, checkoutRequestID)
	c.metrics.ProviderRequest("stk_query", outcomeOf(err), time.Since(start))
	if err != nil && !errors.Is(err, ErrStillProcessing) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.ErrorContext(ctx, "STK status query failed", "error", err, "checkout_request_id", checkoutRequestID)
	}

	return result, err
}

func (c *Client) queryStatus(ctx context.Context, checkoutRequestID string) (QueryResult, error) {
	ts, pwd := c.timestamp()
	body := queryBody{
		BusinessShortCode: c.cfg.ShortCode,
		Password:          pwd,
		Timestamp:         ts,
		CheckoutRequestID: checkoutRequestID,
	}

	var reply queryReply
	raw, err := c.post(ctx, "/mpesa/stkpushquery/v1/query", body, &reply)
	if err != nil {
		var pErr *ProviderError
		if errors.As(err, &pErr) && pErr.Code == StillProcessingCode {
			return QueryResult{CheckoutRequestID: checkoutRequestID}, ErrStillProcessing
		}

		return QueryResult{CheckoutRequestID: checkoutRequestID}, err
	}

	result := QueryResult{
		ResponseCode:        string(reply.ResponseCode),
		ResponseDescription: reply.ResponseDescription,
		MerchantRequestID:   reply.MerchantRequestID,
		CheckoutRequestID:   reply.CheckoutRequestID,
		ResultCode:          string(reply.ResultCode),
		ResultDesc:          reply.ResultDesc,
		Raw:                 raw,
	}
	if result.CheckoutRequestID == "" {
		result.CheckoutRequestID = checkoutRequestID
	}
	if result.ResultCode == "" || result.ResultCode == StillProcessingCode {
		return result, ErrStillProcessing
	}

	return result, nil
}

// ProviderResult converts a definitive query answer into the form the
// reconciler applies. Query answers carry no receipt metadata.
func (q QueryResult) ProviderResult() (payment.ProviderResult, error) {
	code, err := strconv.Atoi(q.ResultCode)
	if err != nil {
		return payment.ProviderResult{}, fmt.Errorf("non numeric result code %q: %w", q.ResultCode, err)
	}

	return payment.ProviderResult{
		CheckoutRequestID: q.CheckoutRequestID,
		MerchantRequestID: q.MerchantRequestID,
		ResultCode:        code,
		ResultDesc:        q.ResultDesc,
		Source:            payment.SourceStatusQuery,
		Raw:               q.Raw,
	}, nil
}
