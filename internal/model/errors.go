package model

import (
	"errors"
	"fmt"
)

// Sentinel errors for common cases.
// Use errors.Is() to check against these.
var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidRequest    = errors.New("invalid request")
	ErrNetworkFailure    = errors.New("network failure")
	ErrMalformedResponse = errors.New("malformed response")
	ErrBusiness          = errors.New("business error")
	ErrRateLimited       = errors.New("rate limited")
	ErrRedirect          = errors.New("redirect required")
)

// APIError represents a structured error for API responses.
// Implements error interface and supports unwrapping.
type APIError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"-"` // HTTP status, not serialized
	Err        error  `json:"-"` // Wrapped error, not serialized
}

func (e *APIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// NewNotFoundError creates a 404 error for missing resources.
func NewNotFoundError(resource string) *APIError {
	return &APIError{
		Code:       "NOT_FOUND",
		Message:    fmt.Sprintf("%s not found", resource),
		StatusCode: 404,
		Err:        ErrNotFound,
	}
}

// NewValidationError creates a 400 error for invalid input.
func NewValidationError(field, reason string) *APIError {
	return &APIError{
		Code:       "VALIDATION_ERROR",
		Message:    fmt.Sprintf("invalid %s: %s", field, reason),
		StatusCode: 400,
		Err:        ErrInvalidRequest,
	}
}

// NewNetworkError creates a 502 error for transport-level failures
// (connection refused, TLS failure, timeout).
func NewNetworkError(service string, err error) *APIError {
	return &APIError{
		Code:       "NETWORK_FAILURE",
		Message:    fmt.Sprintf("%s request failed", service),
		StatusCode: 502,
		Err:        fmt.Errorf("%w: %v", ErrNetworkFailure, err),
	}
}

// NewMalformedResponseError creates a 502 error for bodies that could not be
// decoded where JSON was expected.
func NewMalformedResponseError(service string, err error) *APIError {
	return &APIError{
		Code:       "MALFORMED_RESPONSE",
		Message:    fmt.Sprintf("%s returned an unreadable response", service),
		StatusCode: 502,
		Err:        fmt.Errorf("%w: %v", ErrMalformedResponse, err),
	}
}

// NewBusinessError creates a 422 error for failures the store reported
// explicitly (out of stock, invalid coupon, missing options).
// The message is shown to shoppers as-is.
func NewBusinessError(message string) *APIError {
	if message == "" {
		message = "the store rejected the request"
	}
	return &APIError{
		Code:       "BUSINESS_ERROR",
		Message:    message,
		StatusCode: 422,
		Err:        ErrBusiness,
	}
}

// NewInternalError creates a 500 error for unexpected failures.
func NewInternalError(err error) *APIError {
	return &APIError{
		Code:       "INTERNAL_ERROR",
		Message:    "an internal error occurred",
		StatusCode: 500,
		Err:        err,
	}
}

// NewRateLimitError creates a 429 error for rate limiting.
func NewRateLimitError(service string) *APIError {
	return &APIError{
		Code:       "RATE_LIMITED",
		Message:    fmt.Sprintf("%s rate limit exceeded, please retry later", service),
		StatusCode: 429,
		Err:        ErrRateLimited,
	}
}

// RedirectError signals that the store wants the shopper sent elsewhere
// (typically the product page when options are missing).
type RedirectError struct {
	URL string
}

func (e *RedirectError) Error() string {
	return fmt.Sprintf("redirect required: %s", e.URL)
}

func (e *RedirectError) Unwrap() error {
	return ErrRedirect
}
