package payment

import (
	"bytes"
	"encoding/json"
)

// Metadata item names delivered with a successful provider result.
const (
	MetaReceiptNumber   = "MpesaReceiptNumber"
	MetaTransactionDate = "TransactionDate"
	MetaPhoneNumber     = "PhoneNumber"
	MetaAmount          = "Amount"
)

// Result sources.
const (
	SourceCallback    = "callback"
	SourceStatusQuery = "status_query"
	SourceExpiry      = "expiry"
)

// MetadataItem is one {Name, Value} pair of a provider result. Value is
// kept raw because the provider mixes numbers and strings.
type MetadataItem struct {
	Name  string          `json:"Name"`
	Value json.RawMessage `json:"Value,omitempty"`
}

// ProviderResult is the provider's verdict on a payment, whether pushed
// through the callback or pulled with a status query.
type ProviderResult struct {
	CheckoutRequestID string          `json:"checkoutRequestId"`
	MerchantRequestID string          `json:"merchantRequestId,omitempty"`
	ResultCode        int             `json:"resultCode"`
	ResultDesc        string          `json:"resultDesc"`
	Metadata          []MetadataItem  `json:"metadata,omitempty"`
	Source            string          `json:"source"`
	Raw               json.RawMessage `json:"raw,omitempty"`
}

// Succeeded reports whether the provider confirmed the payment.
func (r ProviderResult) Succeeded() bool {
	return r.ResultCode == 0
}

// MetadataValue returns the named metadata value as text. Absent and null
// values report false.
func (r ProviderResult) MetadataValue(name string) (string, bool) {
	for _, item := range r.Metadata {
		if item.Name != name {
			continue
		}

		raw := bytes.TrimSpace(item.Value)
		if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
			return "", false
		}

		if raw[0] == '"' {
			var s string
			if err := json.Unmarshal(raw, &s); err != nil {
				return "", false
			}

			return s, s != ""
		}

		return string(raw), true
	}

	return "", false
}
