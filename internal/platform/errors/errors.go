// Package errors maps failures to HTTP responses for the admin API.
package errors

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/pscheid92/whispercmd/internal/domain"
)

type ErrorType string

const (
	TypeValidation   ErrorType = "validation"   // 400
	TypeUnauthorized ErrorType = "unauthorized" // 401
	TypeNotFound     ErrorType = "not_found"    // 404
	TypeConflict     ErrorType = "conflict"     // 409
	TypeRateLimited  ErrorType = "rate_limited" // 429
	TypeInternal     ErrorType = "internal"     // 500
	TypeExternal     ErrorType = "external"     // 502
)

// Error is a failure with a client-facing message and optional context fields.
// Cause is logged but never sent to the client.
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
	Context map[string]any
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func (e *Error) HTTPStatus() int {
	switch e.Type {
	case TypeValidation:
		return http.StatusBadRequest
	case TypeUnauthorized:
		return http.StatusUnauthorized
	case TypeNotFound:
		return http.StatusNotFound
	case TypeConflict:
		return http.StatusConflict
	case TypeRateLimited:
		return http.StatusTooManyRequests
	case TypeExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func newError(t ErrorType, message string, cause error) *Error {
	return &Error{Type: t, Message: message, Cause: cause, Context: make(map[string]any)}
}

func ValidationError(message string) *Error { return newError(TypeValidation, message, nil) }
func NotFoundError(message string) *Error   { return newError(TypeNotFound, message, nil) }
func ConflictError(message string) *Error   { return newError(TypeConflict, message, nil) }

func UnauthorizedError(message string) *Error { return newError(TypeUnauthorized, message, nil) }
func RateLimitedError(message string) *Error  { return newError(TypeRateLimited, message, nil) }

func InternalError(message string, cause error) *Error {
	return newError(TypeInternal, message, cause)
}

func ExternalError(message string, cause error) *Error {
	return newError(TypeExternal, message, cause)
}

// WithField adds a context field to the response (chainable).
func (e *Error) WithField(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// ErrorResponse is the JSON body sent to clients.
type ErrorResponse struct {
	Error   string         `json:"error"`
	Type    ErrorType      `json:"type"`
	Context map[string]any `json:"context,omitempty"`
}

func (e *Error) ToResponse() ErrorResponse {
	resp := ErrorResponse{Error: e.Message, Type: e.Type}
	if len(e.Context) > 0 {
		resp.Context = e.Context
	}
	return resp
}

// AsStructuredError converts err into an *Error. Domain sentinels map to
// their client-facing type; anything else becomes an internal error.
func AsStructuredError(err error) *Error {
	if err == nil {
		return nil
	}

	if structured, ok := errors.AsType[*Error](err); ok {
		return structured
	}

	switch {
	case errors.Is(err, domain.ErrValidation):
		return newError(TypeValidation, err.Error(), nil)
	case errors.Is(err, domain.ErrUserNotFound):
		return newError(TypeNotFound, "user not found", nil)
	case errors.Is(err, domain.ErrRecipientNotFound):
		return newError(TypeNotFound, err.Error(), nil)
	case errors.Is(err, domain.ErrUnknownEndpoint):
		return newError(TypeValidation, err.Error(), nil)
	default:
		return newError(TypeInternal, "internal server error", err)
	}
}
