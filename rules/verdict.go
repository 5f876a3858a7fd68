package rules

import (
	"math"
	"time"
)

// UnlimitedRemaining is reported when no rule consumed anything, so the
// caller sees an effectively unlimited quota.
const UnlimitedRemaining = int64(math.MaxInt64)

// Verdict is the result of one engine check.
type Verdict struct {
	Allowed     bool
	MatchedRule *Rule
	Key         string
	Remaining   int64
	WaitNanos   int64
	ResetMillis int64
}

// AllowedWithoutRule is the verdict for requests no rule applied to:
// allowed, nothing consumed, unlimited remaining.
func AllowedWithoutRule() Verdict {
	return Verdict{Allowed: true, Remaining: UnlimitedRemaining}
}

// RetryAfter converts the refill wait into whole seconds for the
// Retry-After header, rounding up with a minimum of one second.
func (v Verdict) RetryAfter() int64 {
	if v.WaitNanos <= 0 {
		return 0
	}
	secs := (v.WaitNanos + int64(time.Second) - 1) / int64(time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}

// Wait returns the refill wait as a duration.
func (v Verdict) Wait() time.Duration {
	return time.Duration(v.WaitNanos)
}
