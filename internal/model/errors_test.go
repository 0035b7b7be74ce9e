package model

import (
	"errors"
	"fmt"
	"testing"
)

func TestAPIError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *APIError
		want string
	}{
		{
			name: "without wrapped error",
			err: &APIError{
				Code:    "TEST_ERROR",
				Message: "something went wrong",
			},
			want: "TEST_ERROR: something went wrong",
		},
		{
			name: "with wrapped error",
			err: &APIError{
				Code:    "TEST_ERROR",
				Message: "something went wrong",
				Err:     errors.New("underlying cause"),
			},
			want: "TEST_ERROR: something went wrong (underlying cause)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.err.Error()
			if got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAPIError_Unwrap(t *testing.T) {
	underlying := errors.New("underlying error")
	err := &APIError{
		Code:    "TEST",
		Message: "test",
		Err:     underlying,
	}

	unwrapped := err.Unwrap()
	if unwrapped != underlying {
		t.Errorf("Unwrap() = %v, want %v", unwrapped, underlying)
	}

	// Test nil case
	errNoWrap := &APIError{Code: "TEST", Message: "test"}
	if errNoWrap.Unwrap() != nil {
		t.Error("Unwrap() should return nil when no wrapped error")
	}
}

func TestNewNotFoundError(t *testing.T) {
	err := NewNotFoundError("session")

	if err.Code != "NOT_FOUND" {
		t.Errorf("Code = %q, want %q", err.Code, "NOT_FOUND")
	}
	if err.Message != "session not found" {
		t.Errorf("Message = %q, want %q", err.Message, "session not found")
	}
	if err.StatusCode != 404 {
		t.Errorf("StatusCode = %d, want %d", err.StatusCode, 404)
	}
	if !errors.Is(err, ErrNotFound) {
		t.Error("error should wrap ErrNotFound sentinel")
	}
}

func TestNewValidationError(t *testing.T) {
	err := NewValidationError("attribute", "name must not be empty")

	if err.Code != "VALIDATION_ERROR" {
		t.Errorf("Code = %q, want %q", err.Code, "VALIDATION_ERROR")
	}
	if err.Message != "invalid attribute: name must not be empty" {
		t.Errorf("Message = %q, want %q", err.Message, "invalid attribute: name must not be empty")
	}
	if err.StatusCode != 400 {
		t.Errorf("StatusCode = %d, want %d", err.StatusCode, 400)
	}
	if !errors.Is(err, ErrInvalidRequest) {
		t.Error("error should wrap ErrInvalidRequest sentinel")
	}
}

func TestNewNetworkError(t *testing.T) {
	underlying := errors.New("connection refused")
	err := NewNetworkError("store", underlying)

	if err.Code != "NETWORK_FAILURE" {
		t.Errorf("Code = %q, want %q", err.Code, "NETWORK_FAILURE")
	}
	if err.Message != "store request failed" {
		t.Errorf("Message = %q, want %q", err.Message, "store request failed")
	}
	if err.StatusCode != 502 {
		t.Errorf("StatusCode = %d, want %d", err.StatusCode, 502)
	}
	if !errors.Is(err, ErrNetworkFailure) {
		t.Error("error should wrap ErrNetworkFailure sentinel")
	}
}

func TestNewMalformedResponseError(t *testing.T) {
	err := NewMalformedResponseError("store", errors.New("unexpected EOF"))

	if err.Code != "MALFORMED_RESPONSE" {
		t.Errorf("Code = %q, want %q", err.Code, "MALFORMED_RESPONSE")
	}
	if !errors.Is(err, ErrMalformedResponse) {
		t.Error("error should wrap ErrMalformedResponse sentinel")
	}
}

func TestNewBusinessError(t *testing.T) {
	err := NewBusinessError("Coupon \"X\" does not exist!")

	if err.StatusCode != 422 {
		t.Errorf("StatusCode = %d, want %d", err.StatusCode, 422)
	}
	if err.Message != `Coupon "X" does not exist!` {
		t.Errorf("Message = %q", err.Message)
	}
	if !errors.Is(err, ErrBusiness) {
		t.Error("error should wrap ErrBusiness sentinel")
	}

	if got := NewBusinessError("").Message; got == "" {
		t.Error("empty message should fall back to a default")
	}
}

func TestRedirectError(t *testing.T) {
	var err error = &RedirectError{URL: "https://shop.example/product/tee"}
	if !errors.Is(err, ErrRedirect) {
		t.Error("RedirectError should unwrap to ErrRedirect")
	}
	var re *RedirectError
	if !errors.As(fmt.Errorf("add to cart: %w", err), &re) || re.URL == "" {
		t.Error("errors.As should find *RedirectError with URL")
	}
}

func TestNewInternalError(t *testing.T) {
	underlying := errors.New("null pointer dereference")
	err := NewInternalError(underlying)

	if err.Code != "INTERNAL_ERROR" {
		t.Errorf("Code = %q, want %q", err.Code, "INTERNAL_ERROR")
	}
	if err.Message != "an internal error occurred" {
		t.Errorf("Message = %q, want %q", err.Message, "an internal error occurred")
	}
	if err.StatusCode != 500 {
		t.Errorf("StatusCode = %d, want %d", err.StatusCode, 500)
	}
	if err.Err != underlying {
		t.Error("wrapped error should be preserved")
	}
}

func TestNewRateLimitError(t *testing.T) {
	err := NewRateLimitError("store")

	if err.Code != "RATE_LIMITED" {
		t.Errorf("Code = %q, want %q", err.Code, "RATE_LIMITED")
	}
	if err.Message != "store rate limit exceeded, please retry later" {
		t.Errorf("Message = %q, want %q", err.Message, "store rate limit exceeded, please retry later")
	}
	if err.StatusCode != 429 {
		t.Errorf("StatusCode = %d, want %d", err.StatusCode, 429)
	}
	if !errors.Is(err, ErrRateLimited) {
		t.Error("error should wrap ErrRateLimited sentinel")
	}
}

// TestErrorsIs verifies that errors.Is() works correctly with all sentinel errors.
// This is critical for handler code that uses errors.Is() to determine response codes.
func TestErrorsIs(t *testing.T) {
	tests := []struct {
		name     string
		err      *APIError
		sentinel error
	}{
		{"NotFound", NewNotFoundError("x"), ErrNotFound},
		{"Validation", NewValidationError("x", "y"), ErrInvalidRequest},
		{"Network", NewNetworkError("x", nil), ErrNetworkFailure},
		{"Malformed", NewMalformedResponseError("x", nil), ErrMalformedResponse},
		{"Business", NewBusinessError("x"), ErrBusiness},
		{"RateLimit", NewRateLimitError("x"), ErrRateLimited},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !errors.Is(tt.err, tt.sentinel) {
				t.Errorf("errors.Is(%T, %v) = false, want true", tt.err, tt.sentinel)
			}
		})
	}
}

// TestAPIErrorImplementsError verifies the error interface is properly implemented.
func TestAPIErrorImplementsError(t *testing.T) {
	var err error = &APIError{Code: "TEST", Message: "test"}
	_ = err.Error() // Should compile and not panic

	// Verify it works with fmt.Errorf wrapping
	wrapped := fmt.Errorf("outer: %w", err)
	var apiErr *APIError
	if !errors.As(wrapped, &apiErr) {
		t.Error("errors.As should find *APIError in wrapped error")
	}
}
