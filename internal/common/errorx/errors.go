package errorx

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/amoylab/hostlink/internal/common/cnst"
)

// Category groups errors by the layer that should react to them
type Category string

const (
	CategoryValidation     Category = "validation"
	CategoryAuthentication Category = "authentication"
	CategoryAuthorization  Category = "authorization"
	CategoryNotFound       Category = "not_found"
	CategoryConflict       Category = "conflict"
	CategoryTimeout        Category = "timeout"
	CategoryRateLimit      Category = "rate_limit"
	CategoryConnection     Category = "connection"
	CategoryInternal       Category = "internal"
)

// Error is a classified failure. Sentinels below are compared with errors.Is,
// wrapping with Wrap keeps the classification while adding context.
type Error struct {
	Code       string   `json:"code"`
	Message    string   `json:"message"`
	Category   Category `json:"category"`
	HTTPStatus int      `json:"-"`
}

func (e *Error) Error() string {
	return e.Message
}

var (
	ErrInvalidInput = &Error{Code: "INVALID_INPUT", Message: "invalid input", Category: CategoryValidation, HTTPStatus: http.StatusBadRequest}

	ErrAuthFailure = &Error{Code: "UNAUTHORIZED", Message: "authentication failed", Category: CategoryAuthentication, HTTPStatus: http.StatusUnauthorized}

	ErrForbidden = &Error{Code: "FORBIDDEN", Message: "not allowed", Category: CategoryAuthorization, HTTPStatus: http.StatusForbidden}

	ErrNotFound = &Error{Code: "NOT_FOUND", Message: "not found", Category: CategoryNotFound, HTTPStatus: http.StatusNotFound}

	ErrConflict = &Error{Code: "CONFLICT", Message: "state conflict", Category: CategoryConflict, HTTPStatus: http.StatusConflict}

	ErrRateLimitExceeded = &Error{Code: "RATE_LIMIT_EXCEEDED", Message: "rate limit exceeded", Category: CategoryRateLimit, HTTPStatus: http.StatusTooManyRequests}

	ErrResolutionTimeout = &Error{Code: "HOST_RESOLUTION_TIMEOUT", Message: "no host became available in time", Category: CategoryTimeout, HTTPStatus: http.StatusGatewayTimeout}

	ErrInitializationTimeout = &Error{Code: "INITIALIZATION_TIMEOUT", Message: "initialization timed out", Category: CategoryTimeout, HTTPStatus: http.StatusServiceUnavailable}

	ErrConnectionClosed = &Error{Code: "CONNECTION_CLOSED", Message: "connection closed", Category: CategoryConnection, HTTPStatus: http.StatusBadGateway}

	ErrInternal = &Error{Code: "INTERNAL", Message: "internal error", Category: CategoryInternal, HTTPStatus: http.StatusInternalServerError}
)

type wrapped struct {
	kind *Error
	msg  string
	err  error
}

func (w *wrapped) Error() string {
	if w.err != nil {
		return fmt.Sprintf("%s: %s: %v", w.kind.Message, w.msg, w.err)
	}
	return fmt.Sprintf("%s: %s", w.kind.Message, w.msg)
}

func (w *wrapped) Unwrap() []error {
	if w.err != nil {
		return []error{w.kind, w.err}
	}
	return []error{w.kind}
}

// New classifies a message under kind
func New(kind *Error, format string, args ...any) error {
	return &wrapped{kind: kind, msg: fmt.Sprintf(format, args...)}
}

// Wrap classifies err under kind, keeping err in the chain
func Wrap(kind *Error, err error, format string, args ...any) error {
	return &wrapped{kind: kind, msg: fmt.Sprintf(format, args...), err: err}
}

// Kind returns the classification of err, ErrInternal when unclassified
func Kind(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return ErrInternal
}

// HTTPStatus maps err to a response status
func HTTPStatus(err error) int {
	return Kind(err).HTTPStatus
}

// Code maps err to its wire code
func Code(err error) string {
	return Kind(err).Code
}

// CloseCode maps err to the websocket close code used when it ends a socket
func CloseCode(err error) int {
	switch Kind(err).Category {
	case CategoryAuthentication, CategoryAuthorization, CategoryRateLimit, CategoryValidation:
		return cnst.ClosePolicyViolation
	default:
		return cnst.CloseInternalError
	}
}
