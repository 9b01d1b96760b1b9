package commonerrors

import (
	"errors"
	"fmt"
	"net/http"
)

type ErrorCategory string

const (
	CategoryValidation   ErrorCategory = "VALIDATION"
	CategoryProtocol     ErrorCategory = "PROTOCOL"
	CategoryNotFound     ErrorCategory = "NOT_FOUND"
	CategoryUnauthorized ErrorCategory = "UNAUTHORIZED"
	CategoryForbidden    ErrorCategory = "FORBIDDEN"
	CategoryTransport    ErrorCategory = "TRANSPORT"
	CategoryRateLimit    ErrorCategory = "RATE_LIMIT"
	CategoryInternal     ErrorCategory = "INTERNAL"
)

type DomainError interface {
	error
	Code() string
	Category() ErrorCategory
	HTTPStatus() int
	Message() string
	Unwrap() error
	WithCause(cause error) DomainError
	WithMessage(message string) DomainError
}

type domainError struct {
	code     string
	category ErrorCategory
	status   int
	message  string
	cause    error
}

func (e *domainError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.message, e.cause)
	}
	return e.message
}

func (e *domainError) Code() string {
	return e.code
}

func (e *domainError) Category() ErrorCategory {
	return e.category
}

func (e *domainError) HTTPStatus() int {
	return e.status
}

func (e *domainError) Message() string {
	return e.message
}

func (e *domainError) Unwrap() error {
	return e.cause
}

// Is matches on code so that errors derived with WithCause or WithMessage
// still satisfy errors.Is against the base sentinel.
func (e *domainError) Is(target error) bool {
	var t *domainError
	if !errors.As(target, &t) {
		return false
	}
	return t.code == e.code
}

func (e *domainError) WithCause(cause error) DomainError {
	return &domainError{
		code:     e.code,
		category: e.category,
		status:   e.status,
		message:  e.message,
		cause:    cause,
	}
}

func (e *domainError) WithMessage(message string) DomainError {
	return &domainError{
		code:     e.code,
		category: e.category,
		status:   e.status,
		message:  message,
		cause:    e.cause,
	}
}

func NewDomainError(code string, category ErrorCategory, status int, message string) DomainError {
	return &domainError{
		code:     code,
		category: category,
		status:   status,
		message:  message,
	}
}

func IsDomainError(err error) bool {
	var de DomainError
	return errors.As(err, &de)
}

func AsDomainError(err error) (DomainError, bool) {
	var de DomainError
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}

var (
	ErrChannelRequired = NewDomainError(
		"CHANNEL_REQUIRED",
		CategoryValidation,
		http.StatusBadRequest,
		"Channel is required for subscription",
	)

	ErrUnsubscribeChannelRequired = NewDomainError(
		"CHANNEL_REQUIRED",
		CategoryValidation,
		http.StatusBadRequest,
		"Channel is required for unsubscription",
	)

	ErrInvalidAuthData = NewDomainError(
		"INVALID_AUTH_DATA",
		CategoryValidation,
		http.StatusBadRequest,
		"Invalid authentication data",
	)

	ErrInvalidMessageFormat = NewDomainError(
		"INVALID_MESSAGE_FORMAT",
		CategoryProtocol,
		http.StatusBadRequest,
		"Invalid message format",
	)

	ErrUnknownMessageType = NewDomainError(
		"UNKNOWN_MESSAGE_TYPE",
		CategoryProtocol,
		http.StatusBadRequest,
		"Unknown message type",
	)

	ErrRateLimited = NewDomainError(
		"RATE_LIMITED",
		CategoryRateLimit,
		http.StatusTooManyRequests,
		"Rate limit exceeded",
	)

	ErrConnectionNotFound = NewDomainError(
		"CONNECTION_NOT_FOUND",
		CategoryNotFound,
		http.StatusNotFound,
		"connection not found",
	)

	ErrTransportClosed = NewDomainError(
		"TRANSPORT_CLOSED",
		CategoryTransport,
		http.StatusGone,
		"transport is closed",
	)

	ErrSendTimeout = NewDomainError(
		"SEND_TIMEOUT",
		CategoryTransport,
		http.StatusRequestTimeout,
		"send operation timed out",
	)

	ErrSendBufferFull = NewDomainError(
		"SEND_BUFFER_FULL",
		CategoryTransport,
		http.StatusServiceUnavailable,
		"send buffer is full",
	)

	ErrMarshalError = NewDomainError(
		"MARSHAL_ERROR",
		CategoryInternal,
		http.StatusInternalServerError,
		"failed to marshal data",
	)

	ErrInvalidPayload = NewDomainError(
		"INVALID_PAYLOAD",
		CategoryValidation,
		http.StatusBadRequest,
		"invalid payload",
	)

	ErrInvalidAPIKey = NewDomainError(
		"INVALID_API_KEY",
		CategoryUnauthorized,
		http.StatusUnauthorized,
		"invalid api key",
	)

	ErrInvalidToken = NewDomainError(
		"INVALID_TOKEN",
		CategoryUnauthorized,
		http.StatusUnauthorized,
		"token is not valid",
	)

	ErrInvalidTokenSigningMethod = NewDomainError(
		"INVALID_TOKEN_SIGNING_METHOD",
		CategoryUnauthorized,
		http.StatusUnauthorized,
		"invalid token signing method",
	)

	ErrInvalidTokenClaims = NewDomainError(
		"INVALID_TOKEN_CLAIMS",
		CategoryUnauthorized,
		http.StatusUnauthorized,
		"invalid token claims",
	)

	ErrMissingTokenClaims = NewDomainError(
		"MISSING_TOKEN_CLAIMS",
		CategoryUnauthorized,
		http.StatusUnauthorized,
		"missing required token claims",
	)

	ErrForbidden = NewDomainError(
		"FORBIDDEN",
		CategoryForbidden,
		http.StatusForbidden,
		"forbidden",
	)

	ErrInternalError = NewDomainError(
		"INTERNAL_ERROR",
		CategoryInternal,
		http.StatusInternalServerError,
		"Internal server error",
	)
)
