package vision

import (
	"errors"
	"fmt"
	"time"
)

// ErrCircuitOpen is returned while the breaker rejects calls.
var ErrCircuitOpen = errors.New("vision service circuit open")

// ServiceError is returned by Parse once retries are exhausted or a
// non-retryable failure occurred. It wraps the last observed error.
type ServiceError struct {
	Attempts int
	Err      error
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("vision service failed after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// TimeoutError marks a network or read timeout talking to the vision service.
type TimeoutError struct {
	Err error
}

func (e *TimeoutError) Error() string { return "vision service timeout: " + e.Err.Error() }

func (e *TimeoutError) Unwrap() error { return e.Err }

// RateLimitError is returned for HTTP 429. RetryAfter is zero when the
// service sent no hint.
type RateLimitError struct {
	RetryAfter time.Duration
	Body       string
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("vision service rate limited (retry after %s)", e.RetryAfter)
	}
	return "vision service rate limited"
}

// StatusError is any other non-2xx answer. It is not retried.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("vision service returned HTTP %d: %s", e.Code, truncate(e.Body, 200))
}

func isTimeout(err error) bool {
	var t *TimeoutError
	return errors.As(err, &t)
}

func isRateLimit(err error) bool {
	var r *RateLimitError
	return errors.As(err, &r)
}

// retryable reports whether the parser should try again after err.
func retryable(err error) bool {
	return isTimeout(err) || isRateLimit(err)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
