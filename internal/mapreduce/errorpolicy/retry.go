package errorpolicy

import (
	"math"
	"math/rand"
	"time"
)

// RetryConfig is the exponential backoff configuration for a retried
// item (spec section 4.7). A retry always dispatches to a fresh
// worktree, enforced by the caller, not this package.
type RetryConfig struct {
	MaxAttempts     int
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	ExponentialBase float64
}

// DefaultRetryConfig mirrors common exponential-backoff defaults used
// elsewhere in the pack (base 2, small jittered initial delay).
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:     3,
		InitialDelay:    time.Second,
		MaxDelay:        30 * time.Second,
		ExponentialBase: 2.0,
	}
}

// Delay computes the backoff delay before the given attempt (1-based),
// with full jitter applied: a value in [0, computed_delay].
func (c RetryConfig) Delay(attempt int, rng *rand.Rand) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := c.ExponentialBase
	if base <= 0 {
		base = 2.0
	}
	raw := float64(c.InitialDelay) * math.Pow(base, float64(attempt-1))
	if c.MaxDelay > 0 && raw > float64(c.MaxDelay) {
		raw = float64(c.MaxDelay)
	}
	if rng == nil {
		return time.Duration(raw)
	}
	return time.Duration(rng.Float64() * raw)
}

// ShouldRetry reports whether another attempt is permitted.
func (c RetryConfig) ShouldRetry(attempt int) bool {
	return attempt < c.MaxAttempts
}
