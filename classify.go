package bastion

import (
	"context"
	"errors"
	"net"
	"syscall"
)

// StatusCoder is implemented by errors carrying an HTTP-style status code.
// Both default predicates consult it via errors.As, so wrapped errors work.
type StatusCoder interface {
	StatusCode() int
}

// ErrorStatusCode extracts an HTTP-style status code from err, if any error in
// its chain implements StatusCoder.
func ErrorStatusCode(err error) (int, bool) {
	var sc StatusCoder
	if errors.As(err, &sc) {
		return sc.StatusCode(), true
	}
	return 0, false
}

// IsDependencyFailure reports whether err indicates the dependency itself is
// unhealthy: HTTP 5xx, timeouts, and network-level failures (connection
// reset/refused, DNS). Caller-misuse errors (4xx and everything else) return
// false and must not trip a breaker.
//
// This is the default breaker classifier; override via BreakerConfig.IsFailure.
func IsDependencyFailure(err error) bool {
	if err == nil {
		return false
	}
	// Caller cancellation is not a dependency signal; an exceeded deadline is.
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if code, ok := ErrorStatusCode(err); ok {
		return code >= 500
	}
	return isNetworkError(err)
}

// IsRetryable reports whether err is worth retrying: transient transport
// failures (ECONNRESET, ETIMEDOUT, ENOTFOUND, ECONNREFUSED, EAI_AGAIN) and
// HTTP 429/503/504. Everything else - including context cancellation and
// plain 4xx/5xx - is not retried by default.
//
// This is the default retry predicate; override via RetryOptions.ShouldRetry.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if code, ok := ErrorStatusCode(err); ok {
		return code == 429 || code == 503 || code == 504
	}
	return isNetworkError(err)
}

// isNetworkError covers connection-level errnos, DNS resolution failures
// (ENOTFOUND / EAI_AGAIN surface as *net.DNSError in Go) and net timeouts.
func isNetworkError(err error) bool {
	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ETIMEDOUT) ||
		errors.Is(err, syscall.EPIPE) {
		return true
	}
	var dns *net.DNSError
	if errors.As(err, &dns) {
		return true
	}
	var nerr net.Error
	return errors.As(err, &nerr) && nerr.Timeout()
}
