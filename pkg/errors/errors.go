package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode classifies errors surfaced at the gateway boundary.
type ErrorCode string

const (
	CodeInvalidRequest      ErrorCode = "INVALID_REQUEST"
	CodeUnauthorized        ErrorCode = "UNAUTHORIZED"
	CodeRateLimited         ErrorCode = "RATE_LIMITED"
	CodeTimeout             ErrorCode = "TIMEOUT"
	CodeUpstreamFailure     ErrorCode = "UPSTREAM_FAILURE"
	CodeNoProviderAvailable ErrorCode = "NO_PROVIDER_AVAILABLE"
	CodeNotFound            ErrorCode = "NOT_FOUND"
	CodeInternal            ErrorCode = "INTERNAL_ERROR"
)

// AppError carries a code, a human-readable message and an optional cause.
type AppError struct {
	Code    ErrorCode
	Message string
	Err     error
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// HTTPStatus maps the error code to the status returned by the gateway.
func (e *AppError) HTTPStatus() int {
	switch e.Code {
	case CodeInvalidRequest:
		return http.StatusBadRequest
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeTimeout:
		return http.StatusGatewayTimeout
	case CodeUpstreamFailure:
		return http.StatusBadGateway
	case CodeNoProviderAvailable:
		return http.StatusServiceUnavailable
	case CodeNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// NewInvalidRequestError creates an invalid-request error.
func NewInvalidRequestError(message string) *AppError {
	return &AppError{Code: CodeInvalidRequest, Message: message}
}

// NewUnauthorizedError creates an unauthorized error.
func NewUnauthorizedError(message string) *AppError {
	return &AppError{Code: CodeUnauthorized, Message: message}
}

// NewRateLimitedError creates a rate-limit error.
func NewRateLimitedError(message string) *AppError {
	return &AppError{Code: CodeRateLimited, Message: message}
}

// NewTimeoutError creates a pipeline-timeout error.
func NewTimeoutError(message string) *AppError {
	return &AppError{Code: CodeTimeout, Message: message}
}

// NewUpstreamError creates an upstream-failure error with cause.
func NewUpstreamError(message string, cause error) *AppError {
	return &AppError{Code: CodeUpstreamFailure, Message: message, Err: cause}
}

// NewNoProviderError creates a no-provider-available error.
func NewNoProviderError(message string) *AppError {
	return &AppError{Code: CodeNoProviderAvailable, Message: message}
}

// NewNotFoundError creates a not-found error.
func NewNotFoundError(message string) *AppError {
	return &AppError{Code: CodeNotFound, Message: message}
}

// NewInternalError creates an internal error.
func NewInternalError(message string) *AppError {
	return &AppError{Code: CodeInternal, Message: message}
}

// NewInternalErrorWithCause creates an internal error wrapping a cause.
func NewInternalErrorWithCause(message string, cause error) *AppError {
	return &AppError{Code: CodeInternal, Message: message, Err: cause}
}

// StatusOf returns the HTTP status for any error, defaulting to 500.
func StatusOf(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.HTTPStatus()
	}
	return http.StatusInternalServerError
}

// IsRateLimited reports whether err is a rate-limit error.
func IsRateLimited(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == CodeRateLimited
	}
	return false
}

// IsTimeout reports whether err is a pipeline-timeout error.
func IsTimeout(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == CodeTimeout
	}
	return false
}

// IsInvalidRequest reports whether err is an invalid-request error.
func IsInvalidRequest(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == CodeInvalidRequest
	}
	return false
}

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == CodeNotFound
	}
	return false
}
