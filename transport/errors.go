package transport

import (
	"errors"
	"net/http"
)

// ErrorCode classifies a failure reported by the transport.
type ErrorCode string

const (
	CodeInvalidAPIKey    ErrorCode = "invalid_api_key"
	CodeInvalidToken     ErrorCode = "invalid_token"
	CodeTokenExpired     ErrorCode = "token_expired"
	CodePermissionDenied ErrorCode = "permission_denied"
	CodeQuotaExceeded    ErrorCode = "quota_exceeded"
	CodeUnavailable      ErrorCode = "unavailable"
	CodeSlowConsumer     ErrorCode = "slow_consumer"
	CodeBadRequest       ErrorCode = "bad_request"
)

// Error is a coded transport failure. Two Errors match with errors.Is when their codes are equal,
// so the exported sentinels below can be used as targets.
type Error struct {
	Code    ErrorCode
	Message string
}

var (
	ErrInvalidAPIKey    = &Error{Code: CodeInvalidAPIKey}
	ErrInvalidToken     = &Error{Code: CodeInvalidToken}
	ErrTokenExpired     = &Error{Code: CodeTokenExpired}
	ErrPermissionDenied = &Error{Code: CodePermissionDenied}
	ErrQuotaExceeded    = &Error{Code: CodeQuotaExceeded}
	ErrUnavailable      = &Error{Code: CodeUnavailable}
	ErrSlowConsumer     = &Error{Code: CodeSlowConsumer}
	ErrBadRequest       = &Error{Code: CodeBadRequest}
)

// NewError builds a coded error with a diagnostic message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return string(e.Code) + ": " + e.Message
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// HTTPStatus maps the code onto the status used by the topic gateway.
func (e *Error) HTTPStatus() int {
	switch e.Code {
	case CodeInvalidAPIKey, CodeInvalidToken, CodeTokenExpired:
		return http.StatusUnauthorized
	case CodePermissionDenied:
		return http.StatusForbidden
	case CodeQuotaExceeded:
		return http.StatusTooManyRequests
	case CodeBadRequest:
		return http.StatusBadRequest
	default:
		return http.StatusServiceUnavailable
	}
}

// CodeOf extracts the transport code from err, or "" when err carries none.
func CodeOf(err error) ErrorCode {
	var te *Error
	if errors.As(err, &te) {
		return te.Code
	}
	return ""
}
