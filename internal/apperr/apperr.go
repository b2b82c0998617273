package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for propagation and HTTP mapping.
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindNotFound
	KindInvalidTransition
	KindGatewayUnavailable
	KindGatewayProtocol
	KindPersistence
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindInvalidTransition:
		return "invalid_transition"
	case KindGatewayUnavailable:
		return "gateway_unavailable"
	case KindGatewayProtocol:
		return "gateway_protocol"
	case KindPersistence:
		return "persistence"
	default:
		return "unknown"
	}
}

// Error is the service-wide error type. Msg is safe to show to callers,
// Err carries the underlying cause for logs.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so the sentinels below work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Msg == "" || t.Msg == e.Msg)
}

var (
	ErrValidation         = &Error{Kind: KindValidation}
	ErrNotFound           = &Error{Kind: KindNotFound}
	ErrInvalidTransition  = &Error{Kind: KindInvalidTransition}
	ErrGatewayUnavailable = &Error{Kind: KindGatewayUnavailable}
	ErrGatewayProtocol    = &Error{Kind: KindGatewayProtocol}
	ErrPersistence        = &Error{Kind: KindPersistence}
)

func Validation(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Msg: fmt.Sprintf(format, args...)}
}

func NotFound(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Msg: fmt.Sprintf(format, args...)}
}

func InvalidTransition(format string, args ...any) *Error {
	return &Error{Kind: KindInvalidTransition, Msg: fmt.Sprintf(format, args...)}
}

func GatewayUnavailable(msg string, err error) *Error {
	return &Error{Kind: KindGatewayUnavailable, Msg: msg, Err: err}
}

func GatewayProtocol(msg string, err error) *Error {
	return &Error{Kind: KindGatewayProtocol, Msg: msg, Err: err}
}

func Persistence(msg string, err error) *Error {
	return &Error{Kind: KindPersistence, Msg: msg, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Retryable reports whether the caller may retry the operation as-is.
func Retryable(err error) bool {
	return KindOf(err) == KindGatewayUnavailable
}

func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindInvalidTransition:
		return http.StatusConflict
	case KindGatewayUnavailable:
		return http.StatusServiceUnavailable
	case KindGatewayProtocol:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage is what end users see. Gateway and storage details stay in the logs.
func PublicMessage(err error) string {
	var e *Error
	if !errors.As(err, &e) {
		return "Internal error"
	}
	switch e.Kind {
	case KindValidation, KindNotFound, KindInvalidTransition:
		return e.Msg
	case KindGatewayUnavailable, KindGatewayProtocol:
		return "Payment failed, try again"
	default:
		return "Internal error"
	}
}
