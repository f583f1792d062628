// Package apperr carries the error codes returned by the tracker API.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

const (
	CodeUnauthorized = "UNAUTHORIZED"
	CodeInvalidToken = "INVALID_TOKEN"
	CodeForbidden    = "FORBIDDEN"
	CodeBadRequest   = "BAD_REQUEST"
	CodeInvalidInput = "INVALID_INPUT"
	CodeNotFound     = "NOT_FOUND"
	CodeConflict     = "CONFLICT"
	CodeRateLimited  = "RATE_LIMITED"

	CodeGmailNotConnected   = "GMAIL_NOT_CONNECTED"
	CodeGmailReauthRequired = "GMAIL_REAUTH_REQUIRED"

	CodeDatabaseError = "DATABASE_ERROR"
	CodeExternalError = "EXTERNAL_ERROR"
	CodeUnavailable   = "SERVICE_UNAVAILABLE"
	CodeInternalError = "INTERNAL_ERROR"
)

// statusByCode is the HTTP status each code is served with.
var statusByCode = map[string]int{
	CodeUnauthorized:        http.StatusUnauthorized,
	CodeInvalidToken:        http.StatusUnauthorized,
	CodeForbidden:           http.StatusForbidden,
	CodeBadRequest:          http.StatusBadRequest,
	CodeInvalidInput:        http.StatusBadRequest,
	CodeNotFound:            http.StatusNotFound,
	CodeConflict:            http.StatusConflict,
	CodeRateLimited:         http.StatusTooManyRequests,
	CodeGmailNotConnected:   http.StatusBadRequest,
	CodeGmailReauthRequired: http.StatusUnauthorized,
	CodeDatabaseError:       http.StatusInternalServerError,
	CodeExternalError:       http.StatusBadGateway,
	CodeUnavailable:         http.StatusServiceUnavailable,
	CodeInternalError:       http.StatusInternalServerError,
}

type AppError struct {
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Status  int            `json:"-"`
	Details map[string]any `json:"details,omitempty"`
	Err     error          `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err == nil {
		return "[" + e.Code + "] " + e.Message
	}
	return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
}

func (e *AppError) Unwrap() error { return e.Err }

func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = map[string]any{}
	}
	e.Details[key] = value
	return e
}

func (e *AppError) WithError(err error) *AppError {
	e.Err = err
	return e
}

// New builds an error for a known code. Unknown codes are served as 500.
func New(code, message string) *AppError {
	status, ok := statusByCode[code]
	if !ok {
		status = http.StatusInternalServerError
	}
	return &AppError{Code: code, Message: message, Status: status}
}

func orDefault(message, fallback string) string {
	if message == "" {
		return fallback
	}
	return message
}

func Unauthorized(message string) *AppError {
	return New(CodeUnauthorized, orDefault(message, "unauthorized"))
}

func InvalidToken(message string) *AppError { return New(CodeInvalidToken, message) }

func BadRequest(message string) *AppError { return New(CodeBadRequest, message) }

func InvalidInput(field, reason string) *AppError {
	return New(CodeInvalidInput, fmt.Sprintf("invalid input for '%s': %s", field, reason)).
		WithDetail("field", field)
}

func NotFound(resource string) *AppError {
	return New(CodeNotFound, resource+" not found")
}

func RateLimited(retryAfterSeconds int) *AppError {
	return New(CodeRateLimited, "rate limit exceeded").WithDetail("retry_after", retryAfterSeconds)
}

func GmailNotConnected() *AppError {
	return New(CodeGmailNotConnected, "Gmail not connected")
}

func GmailReauthRequired(err error) *AppError {
	return New(CodeGmailReauthRequired, "Gmail authorization expired. Please reconnect Gmail.").WithError(err)
}

func DatabaseError(operation string, err error) *AppError {
	return New(CodeDatabaseError, "database error: "+operation).WithError(err)
}

func ExternalError(service string, err error) *AppError {
	return New(CodeExternalError, "external service error: "+service).
		WithDetail("service", service).
		WithError(err)
}

func Internal(message string) *AppError {
	return New(CodeInternalError, orDefault(message, "internal server error"))
}

func InternalWithError(err error) *AppError {
	return Internal("").WithError(err)
}

// AsAppError finds an AppError in err's chain; anything else is internal.
func AsAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return InternalWithError(err)
}

func GetHTTPStatus(err error) int {
	return AsAppError(err).Status
}
