package callback

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/corray333/backend-labs/foodorder/internal/service/models/payment"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const successBody = `{
  "Body": {
    "stkCallback": {
      "MerchantRequestID": "29115-34620561-1",
      "CheckoutRequestID": "ws_CO_191220191020363925",
      "ResultCode": 0,
      "ResultDesc": "The service request is processed successfully.",
      "CallbackMetadata": {
        "Item": [
          {"Name": "Amount", "Value": 950.00},
          {"Name": "MpesaReceiptNumber", "Value": "NLJ7RT61SV"},
          {"Name": "TransactionDate", "Value": 20191219102115},
          {"Name": "PhoneNumber", "Value": 254708374149}
        ]
      }
    }
  }
}`

const failureBody = `{
  "Body": {
    "stkCallback": {
      "MerchantRequestID": "29115-34620561-1",
      "CheckoutRequestID": "ws_CO_191220191020363925",
      "ResultCode": 1032,
      "ResultDesc": "Request cancelled by user"
    }
  }
}`

type recordingDispatcher struct {
	rec       *httptest.ResponseRecorder
	submitted []payment.ProviderResult
	ackBefore bool
	err       error
}

func (d *recordingDispatcher) Submit(_ context.Context, result payment.ProviderResult) error {
	d.ackBefore = d.rec.Body.Len() > 0
	d.submitted = append(d.submitted, result)

	return d.err
}

func serve(t *testing.T, body string, d *recordingDispatcher) (*httptest.ResponseRecorder, Ack) {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/api/mpesa/callback", strings.NewReader(body))
	rec := httptest.NewRecorder()
	d.rec = rec

	Callback(rec, req, d)

	var ack Ack
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ack))

	return rec, ack
}

func TestCallbackSuccess(t *testing.T) {
	d := &recordingDispatcher{}
	rec, ack := serve(t, successBody, d)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, Accepted, ack)
	assert.True(t, d.ackBefore)

	require.Len(t, d.submitted, 1)
	got := d.submitted[0]
	assert.Equal(t, "ws_CO_191220191020363925", got.CheckoutRequestID)
	assert.Equal(t, 0, got.ResultCode)
	assert.Equal(t, payment.SourceCallback, got.Source)
	assert.JSONEq(t, successBody, string(got.Raw))

	receipt, ok := got.MetadataValue(payment.MetaReceiptNumber)
	require.True(t, ok)
	assert.Equal(t, "NLJ7RT61SV", receipt)
	date, ok := got.MetadataValue(payment.MetaTransactionDate)
	require.True(t, ok)
	assert.Equal(t, "20191219102115", date)
}

func TestCallbackFailureResult(t *testing.T) {
	d := &recordingDispatcher{}
	rec, ack := serve(t, failureBody, d)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, Accepted, ack)
	require.Len(t, d.submitted, 1)
	assert.Equal(t, 1032, d.submitted[0].ResultCode)
	assert.Empty(t, d.submitted[0].Metadata)
}

func TestCallbackAcknowledgesDespiteSubmitError(t *testing.T) {
	d := &recordingDispatcher{err: errors.New("inbox unavailable")}
	rec, ack := serve(t, failureBody, d)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, Accepted, ack)
}

func TestCallbackRejectsMalformedBodies(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "not json", body: "ResultCode=0"},
		{name: "missing stkCallback", body: `{"Body":{}}`},
		{name: "missing checkout id", body: `{"Body":{"stkCallback":{"ResultCode":0}}}`},
		{name: "missing result code", body: `{"Body":{"stkCallback":{"CheckoutRequestID":"ws_CO_1"}}}`},
		{name: "result code as text", body: `{"Body":{"stkCallback":{"CheckoutRequestID":"ws_CO_1","ResultCode":"0"}}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := &recordingDispatcher{}
			rec, ack := serve(t, tt.body, d)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, Rejected, ack)
			assert.Empty(t, d.submitted)
		})
	}
}
