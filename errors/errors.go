package errors

import (
	"fmt"
	"net/http"
	"time"
)

// AppError is the unified application error type.
type AppError struct {
	// Kind is the classified failure category.
	Kind Kind `json:"kind"`
	// Message is a human-readable error message.
	Message string `json:"message"`
	// Retryable indicates if the operation can be retried.
	Retryable bool `json:"retryable"`
	// HTTPStatus is the recommended HTTP status code for this error.
	HTTPStatus int `json:"-"`
	// RetryAfter is a provider-supplied backoff hint, zero when absent.
	RetryAfter time.Duration `json:"-"`
	// Details contains additional context for the error.
	Details map[string]any `json:"details,omitempty"`
	// Cause is the underlying error that caused this error.
	Cause error `json:"-"`
}

// Error returns the string representation of the error.
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (cause: %v)", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause of the error.
func (e *AppError) Unwrap() error { return e.Cause }

// WithCause sets the underlying cause of the error and returns the receiver.
func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// WithRetryAfter sets the provider backoff hint and returns the receiver.
func (e *AppError) WithRetryAfter(d time.Duration) *AppError {
	e.RetryAfter = d
	return e
}

// WithDetail sets a single detail key-value pair and returns the receiver.
func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// New creates a new AppError with automatic retryable detection.
func New(kind Kind, message string, httpStatus int) *AppError {
	return &AppError{
		Kind:       kind,
		Message:    message,
		HTTPStatus: httpStatus,
		Retryable:  IsRetryableKind(kind),
	}
}

// --- Common Error Constructors ---

// ConnectionFailed creates an AppError for a failed connection to a provider.
func ConnectionFailed(provider string, cause error) *AppError {
	return &AppError{
		Kind: KindNetwork, Message: fmt.Sprintf("unable to reach %s", provider),
		HTTPStatus: http.StatusServiceUnavailable, Retryable: true,
		Details: map[string]any{"provider": provider}, Cause: cause,
	}
}

// Timeout creates an AppError for an operation that exceeded its deadline.
func Timeout(operation string) *AppError {
	return &AppError{
		Kind: KindNetwork, Message: fmt.Sprintf("%s timed out", operation),
		HTTPStatus: http.StatusGatewayTimeout, Retryable: true,
		Details: map[string]any{"operation": operation},
	}
}

// RateLimited creates an AppError for a provider quota rejection.
func RateLimited(provider string) *AppError {
	return &AppError{
		Kind: KindRateLimit, Message: fmt.Sprintf("%s rate limit exceeded", provider),
		HTTPStatus: http.StatusTooManyRequests, Retryable: true,
		Details: map[string]any{"provider": provider},
	}
}

// InvalidInput creates an AppError for invalid input.
func InvalidInput(reason string) *AppError {
	return &AppError{
		Kind: KindInvalidInput, Message: fmt.Sprintf("invalid input: %s", reason),
		HTTPStatus: http.StatusBadRequest, Retryable: false,
	}
}

// Validation creates an AppError for validation errors.
func Validation(message string) *AppError {
	return &AppError{
		Kind: KindInvalidInput, Message: message,
		HTTPStatus: http.StatusBadRequest, Retryable: false,
	}
}

// NotFound creates an AppError for a resource that was not found.
// Not part of the provider taxonomy; used by the store and API layer.
func NotFound(resource, id string) *AppError {
	details := map[string]any{"resource": resource}
	if id != "" {
		details["id"] = id
	}
	return &AppError{
		Kind: KindPermanent, Message: fmt.Sprintf("%s not found", resource),
		HTTPStatus: http.StatusNotFound, Retryable: false, Details: details,
	}
}

// Conflict creates an AppError for a conflict with the current state of a resource.
func Conflict(reason string) *AppError {
	return &AppError{
		Kind: KindPermanent, Message: reason,
		HTTPStatus: http.StatusConflict, Retryable: false,
	}
}

// TransientServer creates an AppError for a provider-side failure.
func TransientServer(provider string, cause error) *AppError {
	return &AppError{
		Kind: KindTransientServer, Message: fmt.Sprintf("%s returned a server error", provider),
		HTTPStatus: http.StatusBadGateway, Retryable: true,
		Details: map[string]any{"provider": provider}, Cause: cause,
	}
}

// Permanent creates an AppError for a failure that retrying cannot fix.
func Permanent(reason string, cause error) *AppError {
	return &AppError{
		Kind: KindPermanent, Message: reason,
		HTTPStatus: http.StatusForbidden, Retryable: false, Cause: cause,
	}
}

// Internal creates an AppError for an unexpected internal failure.
func Internal(cause error) *AppError {
	return &AppError{
		Kind: KindUnknown, Message: "an unexpected error occurred",
		HTTPStatus: http.StatusInternalServerError, Retryable: true, Cause: cause,
	}
}
