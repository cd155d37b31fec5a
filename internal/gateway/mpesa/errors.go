package mpesa

import (
	"errors"
	"fmt"
)

// Reason classifies provider failures independently of the raw code.
type Reason string

const (
	ReasonInsufficientFunds Reason = "insufficient_funds"
	ReasonValueOutOfBounds  Reason = "value_out_of_bounds"
	ReasonInvalidPhone      Reason = "invalid_phone"
	ReasonUserCancelled     Reason = "user_cancelled"
	ReasonWrongPIN          Reason = "wrong_pin"
	ReasonTimeout           Reason = "timeout"
	ReasonInProgress        Reason = "in_progress"
	ReasonGenericFailure    Reason = "generic_failure"
)

func (r Reason) String() string {
	return string(r)
}

// ErrStillProcessing is returned by QueryStatus while the customer has not
// answered the prompt yet.
var ErrStillProcessing = errors.New("transaction is still being processed")

// StillProcessingCode is the API error code for a transaction awaiting the customer.
const StillProcessingCode = "500.001.1001"

// ResultExpired is the result code of a push that expired before the
// customer answered.
const ResultExpired = 1019

var reasonByCode = map[string]Reason{
	"1":    ReasonInsufficientFunds,
	"2":    ReasonValueOutOfBounds,
	"3":    ReasonValueOutOfBounds,
	"4":    ReasonValueOutOfBounds,
	"5":    ReasonValueOutOfBounds,
	"6":    ReasonValueOutOfBounds,
	"7":    ReasonValueOutOfBounds,
	"8":    ReasonInvalidPhone,
	"10":   ReasonInvalidPhone,
	"11":   ReasonGenericFailure,
	"12":   ReasonGenericFailure,
	"13":   ReasonTimeout,
	"14":   ReasonGenericFailure,
	"15":   ReasonGenericFailure,
	"17":   ReasonWrongPIN,
	"18":   ReasonUserCancelled,
	"20":   ReasonGenericFailure,
	"26":   ReasonInProgress,
	"1001": ReasonInProgress,
	"1019": ReasonTimeout,
	"1025": ReasonGenericFailure,
	"1032": ReasonUserCancelled,
	"1037": ReasonInvalidPhone,
	"2001": ReasonWrongPIN,
	"9999": ReasonGenericFailure,

	StillProcessingCode: ReasonInProgress,
}

var messageByCode = map[string]string{
	"1":    "Insufficient funds in your M-Pesa account",
	"2":    "Less than minimum transaction value",
	"3":    "More than maximum transaction value",
	"4":    "Would exceed account balance",
	"5":    "Would exceed daily transfer limit",
	"6":    "Would exceed minimum balance",
	"7":    "Would exceed balance",
	"8":    "Unresolved primary party",
	"10":   "Unable to validate phone number",
	"11":   "Agent/ Till not found",
	"12":   "General error",
	"13":   "Timeout",
	"14":   "Invalid security credential",
	"15":   "Unknown",
	"17":   "Wrong PIN entered",
	"18":   "Transaction cancelled by user",
	"20":   "Unsupported transaction type",
	"26":   "Transaction in progress",
	"1001": "Another transaction is already in progress for this number",
	"1019": "Transaction expired before it was completed",
	"1032": "Transaction cancelled by user",
	"1037": "Unable to reach your phone. Make sure it is on and try again",
	"2001": "Wrong PIN entered",

	StillProcessingCode: "The transaction is being processed",
}

var messageByReason = map[Reason]string{
	ReasonInsufficientFunds: "Insufficient funds in your M-Pesa account",
	ReasonValueOutOfBounds:  "The amount is outside the allowed transaction limits",
	ReasonInvalidPhone:      "Unable to validate phone number",
	ReasonUserCancelled:     "Transaction cancelled by user",
	ReasonWrongPIN:          "Wrong PIN entered",
	ReasonTimeout:           "The payment request timed out",
	ReasonInProgress:        "Transaction in progress",
	ReasonGenericFailure:    "Payment failed. Please try again.",
}

// ReasonForCode maps a provider result or error code onto the taxonomy.
// Unknown codes are generic failures.
func ReasonForCode(code string) Reason {
	if reason, ok := reasonByCode[code]; ok {
		return reason
	}

	return ReasonGenericFailure
}

// MessageForCode returns a customer facing message for a provider code.
func MessageForCode(code string) string {
	if msg, ok := messageByCode[code]; ok {
		return msg
	}

	return messageByReason[ReasonForCode(code)]
}

// MessageForReason returns the customer facing message of a reason.
func MessageForReason(reason Reason) string {
	if msg, ok := messageByReason[reason]; ok {
		return msg
	}

	return messageByReason[ReasonGenericFailure]
}

// ProviderError is a failed call to the provider. Indeterminate means the
// request may have reached the provider, so a prompt may still be shown to
// the customer.
type ProviderError struct {
	Code          string
	Reason        Reason
	Message       string
	Detail        string
	Indeterminate bool
	Err           error
}

func (e *ProviderError) Error() string {
	msg := fmt.Sprintf("mpesa: %s", e.Reason)
	if e.Code != "" {
		msg += fmt.Sprintf(" (code %s)", e.Code)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}

	return msg
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

func rejection(code, detail string) *ProviderError {
	return &ProviderError{
		Code:    code,
		Reason:  ReasonForCode(code),
		Message: MessageForCode(code),
		Detail:  detail,
	}
}
