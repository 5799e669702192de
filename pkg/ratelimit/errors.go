package ratelimit

import (
	"errors"
	"fmt"
)

// Common errors returned by the limiter.
var (
	// ErrNotConfigured is returned when an endpoint was never configured.
	// This is a programmer error and must not be retried.
	ErrNotConfigured = errors.New("endpoint not configured")

	// ErrQueueFull is returned when the wait queue for an endpoint is at
	// capacity. Callers should apply their own backoff instead of retrying
	// immediately.
	ErrQueueFull = errors.New("admission queue full")

	// ErrAcquireTimeout is returned when a queued request waited past its
	// deadline. It signals sustained overload and is safe to retry under the
	// caller's own policy.
	ErrAcquireTimeout = errors.New("admission wait timed out")

	// ErrQueueCleared is returned to waiters failed by ClearQueue or Close.
	ErrQueueCleared = errors.New("admission queue cleared")
)

// AdmissionError reports a failed admission decision with endpoint context.
type AdmissionError struct {
	Endpoint string
	Priority Priority
	Err      error
}

// Error implements the error interface.
func (e *AdmissionError) Error() string {
	return fmt.Sprintf("admission denied for endpoint %q (priority %s): %v",
		e.Endpoint, e.Priority, e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *AdmissionError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the failure may be retried by the caller.
// Timeouts are retryable; configuration and capacity failures are not.
func (e *AdmissionError) Retryable() bool {
	return errors.Is(e.Err, ErrAcquireTimeout)
}
