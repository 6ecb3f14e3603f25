package client

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Kind is the classified category of a failed API call. It decouples
// callers from the raw transport or HTTP failure that produced the error.
type Kind string

const (
	// KindValidation is a malformed or rejected request (4xx other than
	// 404/429). The request is bad, not the service; never retried.
	KindValidation Kind = "validation"

	// KindNotFound is a missing paper or author (404). Never retried.
	KindNotFound Kind = "not_found"

	// KindRateLimited is an upstream 429. Retried, honoring Retry-After.
	KindRateLimited Kind = "rate_limited"

	// KindServiceUnavailable is an upstream 5xx. Retried.
	KindServiceUnavailable Kind = "service_unavailable"

	// KindTimeout is a transport timeout or connection error. Retried.
	KindTimeout Kind = "timeout"

	// KindCircuitOpen is a synthetic fast-fail from the circuit breaker.
	// Not retried locally; callers should back off at a coarser level.
	KindCircuitOpen Kind = "circuit_open"

	// KindInternal is an unexpected client-side failure.
	KindInternal Kind = "internal"
)

// Retryable reports whether errors of this kind may be retried.
func (k Kind) Retryable() bool {
	switch k {
	case KindRateLimited, KindServiceUnavailable, KindTimeout:
		return true
	default:
		return false
	}
}

// countsForBreaker reports whether this kind reflects upstream service
// health. Only these outcomes advance circuit breaker failure accounting;
// request-specific errors (validation, not found) never do.
func (k Kind) countsForBreaker() bool {
	switch k {
	case KindServiceUnavailable, KindTimeout:
		return true
	default:
		return false
	}
}

// APIError is the single classified outcome of a failed API call.
type APIError struct {
	// Kind is the error category.
	Kind Kind

	// StatusCode is the upstream HTTP status, or 0 when the failure
	// happened before a response was received.
	StatusCode int

	// Message is a human-readable description.
	Message string

	// RetryAfter is the upstream's suggested wait, when it provided one.
	RetryAfter time.Duration

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.StatusCode > 0 {
		if e.Err != nil {
			return fmt.Sprintf("%s (status %d): %s: %v", e.Kind, e.StatusCode, e.Message, e.Err)
		}
		return fmt.Sprintf("%s (status %d): %s", e.Kind, e.StatusCode, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *APIError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the error may be retried.
func (e *APIError) Retryable() bool {
	return e.Kind.Retryable()
}

// Classify maps a raw HTTP outcome to an APIError. Exactly one of resp/err
// is expected: a transport error classifies as a timeout, an HTTP error
// response classifies by status code.
func Classify(resp *http.Response, err error) *APIError {
	if err != nil {
		return &APIError{
			Kind:    KindTimeout,
			Message: "transport failure",
			Err:     err,
		}
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return &APIError{
			Kind:       KindNotFound,
			StatusCode: resp.StatusCode,
			Message:    "resource not found",
		}
	case resp.StatusCode == http.StatusTooManyRequests:
		return &APIError{
			Kind:       KindRateLimited,
			StatusCode: resp.StatusCode,
			Message:    "upstream rate limit exceeded",
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	case resp.StatusCode >= 500:
		return &APIError{
			Kind:       KindServiceUnavailable,
			StatusCode: resp.StatusCode,
			Message:    resp.Status,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	case resp.StatusCode >= 400:
		return &APIError{
			Kind:       KindValidation,
			StatusCode: resp.StatusCode,
			Message:    resp.Status,
		}
	default:
		return &APIError{
			Kind:       KindInternal,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("unexpected status %d", resp.StatusCode),
		}
	}
}

// parseRetryAfter parses a Retry-After header in either delta-seconds or
// HTTP-date form. The result is capped at one hour; unparseable values
// yield 0.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}

	if seconds, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
		if seconds <= 0 {
			return 0
		}
		delay := time.Duration(seconds) * time.Second
		if delay > time.Hour {
			delay = time.Hour
		}
		return delay
	}

	if t, err := http.ParseTime(value); err == nil {
		delay := time.Until(t)
		if delay > 0 && delay <= time.Hour {
			return delay
		}
	}

	return 0
}
