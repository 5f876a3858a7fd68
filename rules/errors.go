package rules

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidRule is the base error for rule construction failures.
	ErrInvalidRule = errors.New("invalid rule")

	// ErrInvalidPermits is returned when a consume is attempted with a
	// non-positive permit count.
	ErrInvalidPermits = errors.New("permits must be positive")

	// ErrMissingKeyStrategy is returned when a CUSTOM-scoped rule carries
	// no key strategy id.
	ErrMissingKeyStrategy = errors.New("custom scope requires a key strategy id")
)

func NewInvalidCapacityError(capacity int64) error {
	return fmt.Errorf("%w: band capacity must be >= 1, got %d", ErrInvalidRule, capacity)
}

func NewInvalidWindowError(window time.Duration) error {
	return fmt.Errorf("%w: band window must be positive, got %s", ErrInvalidRule, window)
}

func NewEmptyIDError(what string) error {
	return fmt.Errorf("%w: %s id cannot be empty", ErrInvalidRule, what)
}

func NewInvalidIDError(what, id, reason string) error {
	return fmt.Errorf("%w: %s id %q %s", ErrInvalidRule, what, id, reason)
}

func NewNoBandsError(ruleID string) error {
	return fmt.Errorf("%w: rule %q must carry at least one band", ErrInvalidRule, ruleID)
}

func NewInvalidScopeError(scope Scope) error {
	return fmt.Errorf("%w: unknown scope %q", ErrInvalidRule, string(scope))
}

func NewInvalidPolicyError(policy OnLimitExceedPolicy) error {
	return fmt.Errorf("%w: unknown on-limit-exceed policy %q", ErrInvalidRule, string(policy))
}

func NewInvalidPermitsError(permits int64) error {
	return fmt.Errorf("%w, got %d", ErrInvalidPermits, permits)
}
