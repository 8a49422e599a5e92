package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"
)

// HTTPError is a transport-level failure reported by a provider client.
// Providers surface non-2xx responses as HTTPError so the classifier can
// map them without knowing provider specifics.
type HTTPError struct {
	StatusCode int
	Body       string
	// RetryAfter carries the Retry-After response header when present.
	RetryAfter time.Duration
}

// Error returns the string representation of the error.
func (e *HTTPError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("http %d: %s", e.StatusCode, e.Body)
	}
	return fmt.Sprintf("http %d", e.StatusCode)
}

// Classify maps a raw failure into the Kind taxonomy.
// Anything unrecognized is KindUnknown, which the retry policy treats
// conservatively as retryable at most once.
func Classify(err error) Kind {
	if err == nil {
		return KindUnknown
	}

	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Kind
	}

	if stderrors.Is(err, context.DeadlineExceeded) {
		return KindNetwork
	}
	if stderrors.Is(err, context.Canceled) {
		return KindPermanent
	}

	var netErr net.Error
	if stderrors.As(err, &netErr) {
		return KindNetwork
	}

	var httpErr *HTTPError
	if stderrors.As(err, &httpErr) {
		return classifyStatus(httpErr.StatusCode)
	}

	return classifyMessage(err.Error())
}

// Classified wraps a raw failure into an AppError with its classified Kind,
// preserving any provider retry-after hint.
func Classified(err error) *AppError {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr
	}

	kind := Classify(err)
	out := New(kind, err.Error(), statusForKind(kind)).WithCause(err)

	var httpErr *HTTPError
	if stderrors.As(err, &httpErr) && httpErr.RetryAfter > 0 {
		out.RetryAfter = httpErr.RetryAfter
	}
	return out
}

func classifyStatus(status int) Kind {
	switch {
	case status == http.StatusTooManyRequests:
		return KindRateLimit
	case status == http.StatusBadRequest, status == http.StatusUnprocessableEntity:
		return KindInvalidInput
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return KindPermanent
	case status == http.StatusRequestTimeout, status == http.StatusGatewayTimeout:
		return KindNetwork
	case status >= 500 && status <= 503:
		return KindTransientServer
	default:
		return KindUnknown
	}
}

// classifyMessage applies provider-message heuristics for errors that carry
// no structured status (e.g. SDK-wrapped failures).
func classifyMessage(msg string) Kind {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "rate limit"), strings.Contains(lower, "quota"),
		strings.Contains(lower, "too many requests"):
		return KindRateLimit
	case strings.Contains(lower, "connection refused"), strings.Contains(lower, "connection reset"),
		strings.Contains(lower, "timeout"), strings.Contains(lower, "timed out"),
		strings.Contains(lower, "no such host"):
		return KindNetwork
	case strings.Contains(lower, "account suspended"), strings.Contains(lower, "unauthorized"),
		strings.Contains(lower, "forbidden"), strings.Contains(lower, "invalid api key"):
		return KindPermanent
	case strings.Contains(lower, "invalid input"), strings.Contains(lower, "validation"),
		strings.Contains(lower, "unsupported"):
		return KindInvalidInput
	default:
		return KindUnknown
	}
}

func statusForKind(kind Kind) int {
	switch kind {
	case KindNetwork:
		return http.StatusServiceUnavailable
	case KindRateLimit:
		return http.StatusTooManyRequests
	case KindInvalidInput:
		return http.StatusBadRequest
	case KindTransientServer:
		return http.StatusBadGateway
	case KindPermanent:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
