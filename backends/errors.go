package backends

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrBackendNotFound is returned when attempting to create a backend
	// with an unknown ID.
	ErrBackendNotFound = errors.New("backend not found")

	// ErrInvalidConfig is returned when the provided configuration is invalid.
	ErrInvalidConfig = errors.New("invalid backend configuration")

	// ErrPubSubUnsupported is returned by backends that expose no pub/sub
	// surface.
	ErrPubSubUnsupported = errors.New("backend does not support pub/sub")
)

// retryable marks an error as safe to retry. Backends wrap transient
// connectivity failures with it; the resilience layer keys off IsRetryable.
type retryable interface {
	Retryable() bool
}

type retryableError struct {
	err error
}

func (e *retryableError) Error() string   { return e.err.Error() }
func (e *retryableError) Unwrap() error   { return e.err }
func (e *retryableError) Retryable() bool { return true }

// NewRetryableError wraps err so IsRetryable reports true for it.
func NewRetryableError(err error) error {
	if err == nil {
		return nil
	}
	return &retryableError{err: err}
}

// NewConnectionError wraps a store connectivity failure as retryable.
func NewConnectionError(op string, err error) error {
	return &retryableError{err: fmt.Errorf("store %s failed: %w", op, err)}
}

// IsRetryable reports whether err is safe to retry: deadline expiry, an
// error self-identified as retryable, or a connectivity-pattern match.
// Caller cancellation is never retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var r retryable
	if errors.As(err, &r) {
		return r.Retryable()
	}
	return matchesConnError(err.Error())
}

// connErrorPatterns identifies connectivity-related failures by message.
// Store operational errors (bad commands, parse failures) intentionally
// don't match; only transport-level trouble should be retried.
var connErrorPatterns = []string{
	"connection refused",
	"connection reset",
	"connection timeout",
	"network is unreachable",
	"no such host",
	"i/o timeout",
	"timeout",
	"broken pipe",
	"connection pool exhausted",
	"eof",
}

func matchesConnError(msg string) bool {
	msg = strings.ToLower(msg)
	for _, pattern := range connErrorPatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}
