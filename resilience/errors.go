package resilience

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"time"
)

// HTTPError represents a non-success HTTP response from an upstream provider.
// It preserves the status code so classifiers can distinguish transient
// server errors (5xx) from permanent client errors (4xx).
type HTTPError struct {
	URL        string
	StatusCode int
	// Body holds a truncated response body snippet for diagnostics.
	Body string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("unexpected HTTP status %d from %s", e.StatusCode, e.URL)
}

// RetryExhaustedError indicates an operation stayed transient across the
// policy's full attempt budget. It wraps the final attempt's error.
type RetryExhaustedError struct {
	Operation string
	Attempts  int
	Elapsed   time.Duration
	Err       error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("%s: retries exhausted after %d attempts in %s: %v",
		e.Operation, e.Attempts, e.Elapsed.Round(time.Millisecond), e.Err)
}

func (e *RetryExhaustedError) Unwrap() error { return e.Err }

// TimeoutError indicates an operation exceeded its WithTimeout deadline.
type TimeoutError struct {
	Operation string
	After     time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: timed out after %s", e.Operation, e.After)
}

// Timeout marks this error as a timeout for net.Error-style checks.
func (e *TimeoutError) Timeout() bool { return true }

// OpenError is returned when a circuit breaker rejects a call without
// invoking the operation.
type OpenError struct {
	Name    string
	RetryAt time.Time
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit breaker %q is open", e.Name)
}

// IsTransient classifies an error as worth retrying: network-level failures,
// timeouts, and HTTP 5xx responses. Context cancellation is the caller's
// signal and is never transient; HTTP 4xx responses indicate a request that
// will not improve on retry.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return RetryableHTTPStatus(httpErr.StatusCode)
	}

	var timeoutErr *TimeoutError
	if errors.As(err, &timeoutErr) {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	if errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.EHOSTUNREACH) ||
		errors.Is(err, syscall.ENETUNREACH) {
		return true
	}

	if errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	return false
}

// IsConnectFailure classifies errors where the request provably never reached
// the provider: connection refused, unreachable networks, and name resolution
// failures. Timeouts and HTTP responses are excluded because the request may
// have been processed before the failure was observed.
func IsConnectFailure(err error) bool {
	if err == nil {
		return false
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	return errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.EHOSTUNREACH) ||
		errors.Is(err, syscall.ENETUNREACH)
}

// RetryableHTTPStatus reports whether an HTTP status code indicates a
// transient server-side condition.
func RetryableHTTPStatus(code int) bool {
	return code >= 500 && code <= 599
}
