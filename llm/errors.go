package llm

import (
	"errors"
	"fmt"
	"time"
)

// ErrNotConfigured is returned when a request is attempted without an API key.
var ErrNotConfigured = errors.New("llm service is not configured: an API key is required")

// Error represents a classified transport error.
type Error struct {
	Type        ErrorType
	Message     string
	Retryable   bool
	RetryAfter  *time.Duration
	StatusCode  int
	Code        string // network error code, e.g. ECONNREFUSED
	ProviderErr error  // Original transport error
}

// ErrorType represents the category of error.
type ErrorType string

const (
	ErrorTypeRateLimit      ErrorType = "rate_limit"
	ErrorTypeInvalidRequest ErrorType = "invalid_request"
	ErrorTypeAuth           ErrorType = "auth"
	ErrorTypeNotFound       ErrorType = "not_found"
	ErrorTypeHTTP           ErrorType = "http"
	ErrorTypeNetwork        ErrorType = "network"
	ErrorTypeCanceled       ErrorType = "canceled"
	ErrorTypeUnknown        ErrorType = "unknown"
)

// Error implements the error interface.
func (e *Error) Error() string {
	if e.ProviderErr != nil {
		return e.Message + ": " + e.ProviderErr.Error()
	}
	return e.Message
}

// Unwrap returns the underlying transport error.
func (e *Error) Unwrap() error {
	return e.ProviderErr
}

// IsRateLimitError checks if an error is a rate limit error.
func IsRateLimitError(err error) bool {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Type == ErrorTypeRateLimit
	}
	return false
}

// IsRetryableError checks if an error is retryable.
func IsRetryableError(err error) bool {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Retryable
	}
	return false
}

// IsNonRecoverable reports whether err is an auth, bad-request or not-found
// failure that must never be retried.
func IsNonRecoverable(err error) bool {
	var llmErr *Error
	if !errors.As(err, &llmErr) {
		return false
	}
	switch llmErr.Type {
	case ErrorTypeAuth, ErrorTypeInvalidRequest, ErrorTypeNotFound:
		return true
	default:
		return false
	}
}

// IsCanceled reports whether err is a timeout or cancellation failure.
func IsCanceled(err error) bool {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Type == ErrorTypeCanceled
	}
	return false
}

// ExtractRetryAfter returns the server's Retry-After hint carried by err, if any.
func ExtractRetryAfter(err error) *time.Duration {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.RetryAfter
	}
	return nil
}

// NewStatusError creates an error for a non-2xx HTTP response. 400, 401 and
// 404 are non-recoverable; every other status is retryable.
func NewStatusError(status int, detail string, providerErr error) *Error {
	e := &Error{
		Type:        ErrorTypeHTTP,
		Message:     fmt.Sprintf("HTTP error %d: %s", status, detail),
		Retryable:   true,
		StatusCode:  status,
		ProviderErr: providerErr,
	}
	switch status {
	case 400:
		e.Type = ErrorTypeInvalidRequest
		e.Retryable = false
	case 401:
		e.Type = ErrorTypeAuth
		e.Retryable = false
	case 404:
		e.Type = ErrorTypeNotFound
		e.Retryable = false
	case 429:
		e.Type = ErrorTypeRateLimit
	}
	return e
}

// NewNetworkError creates a retryable network error carrying an error code.
func NewNetworkError(code string, providerErr error) *Error {
	return &Error{
		Type:        ErrorTypeNetwork,
		Message:     fmt.Sprintf("network error (%s)", code),
		Retryable:   true,
		Code:        code,
		ProviderErr: providerErr,
	}
}

// NewCanceledError creates a retryable error for a request that was aborted
// or exceeded its deadline.
func NewCanceledError(providerErr error) *Error {
	return &Error{
		Type:        ErrorTypeCanceled,
		Message:     "the request was canceled because it took too long; please check your internet connection",
		Retryable:   true,
		Code:        "ERR_CANCELED",
		ProviderErr: providerErr,
	}
}

// NewProviderError creates an unclassified, retryable error.
func NewProviderError(message string, providerErr error) *Error {
	return &Error{
		Type:        ErrorTypeUnknown,
		Message:     message,
		Retryable:   true,
		ProviderErr: providerErr,
	}
}
