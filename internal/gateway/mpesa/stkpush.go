package mpesa

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	maxAccountReferenceLen = 12
	maxTransactionDescLen  = 13
)

// STKPushRequest asks the customer's phone to prompt for a payment.
type STKPushRequest struct {
	Phone            string
	Amount           decimal.Decimal
	AccountReference string
	Description      string
}

// STKPushResponse is the provider's acknowledgement. The payment outcome
// arrives later through the callback.
type STKPushResponse struct {
	MerchantRequestID   string
	CheckoutRequestID   string
	ResponseCode        string
	ResponseDescription string
	CustomerMessage     string
	PhoneNumber         string
	Raw                 json.RawMessage
}

type stkPushBody struct {
	BusinessShortCode string `json:"BusinessShortCode"`
	Password          string `json:"Password"`
	Timestamp         string `json:"Timestamp"`
	TransactionType   string `json:"TransactionType"`
	Amount            int64  `json:"Amount"`
	PartyA            string `json:"PartyA"`
	PartyB            string `json:"PartyB"`
	PhoneNumber       string `json:"PhoneNumber"`
	CallBackURL       string `json:"CallBackURL"`
	AccountReference  string `json:"AccountReference"`
	TransactionDesc   string `json:"TransactionDesc"`
}

type stkPushReply struct {
	MerchantRequestID   string     `json:"MerchantRequestID"`
	CheckoutRequestID   string     `json:"CheckoutRequestID"`
	ResponseCode        flexString `json:"ResponseCode"`
	ResponseDescription string     `json:"ResponseDescription"`
	CustomerMessage     string     `json:"CustomerMessage"`
}

// STKPush initiates a Lipa Na M-Pesa Online payment. Failures are returned
// as *ProviderError.
func (c *Client) STKPush(ctx context.Context, in STKPushRequest) (STKPushResponse, error) {
	ctx, span := otel.Tracer("mpesa").Start(ctx, "Client.STKPush")
	defer span.End()

	start := time.Now()
	resp, err := c.stkPush(ctx, in)
	c.metrics.ProviderRequest("stk_push", outcomeOf(err), time.Since(start))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		slog.ErrorContext(ctx, "STK push failed", "error", err, "account_reference", in.AccountReference)

		return resp, err
	}

	span.SetAttributes(attribute.String("mpesa.checkout_request_id", resp.CheckoutRequestID))
	slog.InfoContext(ctx, "STK push accepted",
		"checkout_request_id", resp.CheckoutRequestID,
		"merchant_request_id", resp.MerchantRequestID,
	)

	return resp, nil
}

func (c *Client) stkPush(ctx context.Context, in STKPushRequest) (STKPushResponse, error) {
	phone := NormalizePhone(in.Phone, c.cfg.CountryCode)
	amount := in.Amount.Round(0).IntPart()
	if amount < 1 {
		return STKPushResponse{PhoneNumber: phone}, rejection("2", "amount rounds to less than one unit")
	}

	ts, pwd := c.timestamp()
	body := stkPushBody{
		BusinessShortCode: c.cfg.ShortCode,
		Password:          pwd,
		Timestamp:         ts,
		TransactionType:   c.cfg.TransactionType,
		Amount:            amount,
		PartyA:            phone,
		PartyB:            c.cfg.ShortCode,
		PhoneNumber:       phone,
		CallBackURL:       c.cfg.CallbackURL,
		AccountReference:  truncate(in.AccountReference, maxAccountReferenceLen),
		TransactionDesc:   truncate(in.Description, maxTransactionDescLen),
	}

	var reply stkPushReply
	raw, err := c.post(ctx, "/mpesa/stkpush/v1/processrequest", body, &reply)
	resp := STKPushResponse{
		MerchantRequestID:   reply.MerchantRequestID,
		CheckoutRequestID:   reply.CheckoutRequestID,
		ResponseCode:        string(reply.ResponseCode),
		ResponseDescription: reply.ResponseDescription,
		CustomerMessage:     reply.CustomerMessage,
		PhoneNumber:         phone,
		Raw:                 raw,
	}
	if err != nil {
		return resp, err
	}

	if resp.ResponseCode != "0" {
		return resp, rejection(resp.ResponseCode, resp.ResponseDescription)
	}
	if resp.CheckoutRequestID == "" {
		return resp, &ProviderError{
			Reason:  ReasonGenericFailure,
			Message: MessageForReason(ReasonGenericFailure),
			Detail:  "accepted without a checkout request id",
		}
	}

	return resp, nil
}

func password(shortCode, passkey, timestamp string) string {
	return base64.StdEncoding.EncodeToString([]byte(shortCode + passkey + timestamp))
}

// truncate keeps at most n runes of s.
func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}

	return string(runes[:n])
}
