package model

import (
	"errors"
	"net/http"
)

// ErrorCode classifies a request failure. Each code maps to one HTTP status.
type ErrorCode string

const (
	ErrBadRequest         ErrorCode = "BAD_REQUEST"
	ErrUnauthorized       ErrorCode = "UNAUTHORIZED"
	ErrForbidden          ErrorCode = "FORBIDDEN"
	ErrNotFound           ErrorCode = "NOT_FOUND"
	ErrConflict           ErrorCode = "CONFLICT"
	ErrValidationError    ErrorCode = "VALIDATION_ERROR"
	ErrInvalidTransition  ErrorCode = "INVALID_TRANSITION"
	ErrDependencyBlocked  ErrorCode = "DEPENDENCY_BLOCKED"
	ErrInternalError      ErrorCode = "INTERNAL_ERROR"
	ErrBackendUnavailable ErrorCode = "BACKEND_UNAVAILABLE"
)

// HTTPStatus returns the response status of c. Unknown codes are 500.
func (c ErrorCode) HTTPStatus() int {
	switch c {
	case ErrBadRequest:
		return http.StatusBadRequest
	case ErrUnauthorized:
		return http.StatusUnauthorized
	case ErrForbidden:
		return http.StatusForbidden
	case ErrNotFound:
		return http.StatusNotFound
	case ErrConflict, ErrDependencyBlocked:
		return http.StatusConflict
	case ErrValidationError, ErrInvalidTransition:
		return http.StatusUnprocessableEntity
	case ErrBackendUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// ErrorEnvelope is the body of a request that fails before an entity
// action runs: routing, auth or malformed input. Entity actions answer with
// ActionState instead.
type ErrorEnvelope struct {
	Code    ErrorCode    `json:"code"`
	Message string       `json:"message"`
	Details []FieldError `json:"details,omitempty"`
	TraceID string       `json:"trace_id"`
}

func (e *ErrorEnvelope) Error() string {
	return string(e.Code) + ": " + e.Message
}

// Is matches any envelope with the same code, so errors.Is(err,
// &ErrorEnvelope{Code: ErrNotFound}) holds for every not-found error.
func (e *ErrorEnvelope) Is(target error) bool {
	var t *ErrorEnvelope
	return errors.As(target, &t) && t.Code == e.Code
}

// AsEnvelope returns the envelope wrapped by err, if any.
func AsEnvelope(err error) (*ErrorEnvelope, bool) {
	var env *ErrorEnvelope
	ok := errors.As(err, &env)
	return env, ok
}

// FieldError is one invalid form field.
type FieldError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func NewBadRequestError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrBadRequest, Message: msg}
}

func NewUnauthorizedError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrUnauthorized, Message: msg}
}

func NewForbiddenError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrForbidden, Message: msg}
}

func NewNotFoundError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrNotFound, Message: msg}
}

func NewConflictError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrConflict, Message: msg}
}

// NewValidationError carries the per-field messages of a rejected form.
func NewValidationError(details []FieldError) *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrValidationError,
		Message: "لطفاً اطلاعات وارد شده را بررسی کنید",
		Details: details,
	}
}

func NewInvalidTransitionError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrInvalidTransition, Message: msg}
}

// NewDependencyBlockedError carries the configured dependency message.
func NewDependencyBlockedError(msg string) *ErrorEnvelope {
	return &ErrorEnvelope{Code: ErrDependencyBlocked, Message: msg}
}

// NewInternalError hides the cause behind a generic message.
func NewInternalError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrInternalError,
		Message: "خطای سرور. لطفاً دوباره تلاش کنید.",
	}
}

// NewBackendUnavailableError reports a failed store or upstream call.
func NewBackendUnavailableError() *ErrorEnvelope {
	return &ErrorEnvelope{
		Code:    ErrBackendUnavailable,
		Message: "خطا در ارتباط با سرور. لطفاً اتصال اینترنت خود را بررسی کنید",
	}
}
