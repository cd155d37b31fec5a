package errs

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a service error for callers and transports.
type Kind string

const (
	KindValidation      Kind = "validation"
	KindNotFound        Kind = "not_found"
	KindConflict        Kind = "conflict"
	KindExternalGateway Kind = "external_gateway"
	KindInternal        Kind = "internal"
)

var (
	ErrValidation      = errors.New("validation failed")
	ErrNotFound        = errors.New("not found")
	ErrConflict        = errors.New("conflict")
	ErrExternalGateway = errors.New("external gateway error")
	ErrInternal        = errors.New("internal error")
)

// Validation returns an error of kind KindValidation.
func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// NotFound returns an error of kind KindNotFound.
func NotFound(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

// Conflict returns an error of kind KindConflict.
func Conflict(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConflict, fmt.Sprintf(format, args...))
}

// ExternalGateway wraps a provider failure.
func ExternalGateway(err error) error {
	return fmt.Errorf("%w: %w", ErrExternalGateway, err)
}

// Internal wraps an unexpected failure. The cause stays reachable through
// errors.Is/As but is never shown to callers outside development.
func Internal(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrInternal, op, err)
}

// KindOf reports the kind of err. Unclassified errors are internal.
func KindOf(err error) Kind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrExternalGateway):
		return KindExternalGateway
	default:
		return KindInternal
	}
}

// HTTPStatus maps the kind of err to an HTTP status code.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindExternalGateway:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage returns the message safe to show to an API caller.
func PublicMessage(err error, exposeInternal bool) string {
	if KindOf(err) == KindInternal && !exposeInternal {
		return "internal server error"
	}

	return err.Error()
}
