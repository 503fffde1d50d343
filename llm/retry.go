package llm

import (
	"math/rand/v2"
	"time"
)

// RetryConfig controls the retry policy for completion requests.
type RetryConfig struct {
	// MaxAttempts bounds the total tries per request.
	MaxAttempts int

	// BackoffBase is the delay before the first retry.
	BackoffBase time.Duration

	// BackoffMultiplier grows the delay on every subsequent retry.
	BackoffMultiplier float64

	// MaxBackoff caps the delay regardless of attempt count.
	MaxBackoff time.Duration
}

// DefaultRetryConfig returns the retry defaults for completion requests.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:       3,
		BackoffBase:       2 * time.Second,
		BackoffMultiplier: 2.0,
		MaxBackoff:        30 * time.Second,
	}
}

// backoff returns the delay before the next attempt, with up to 25%
// jitter so concurrent callers do not retry in phase.
func (r RetryConfig) backoff(attempt int) time.Duration {
	d := float64(r.BackoffBase)
	for i := 1; i < attempt; i++ {
		d *= r.BackoffMultiplier
	}
	if capped := float64(r.MaxBackoff); d > capped {
		d = capped
	}
	return time.Duration(d + d*0.25*rand.Float64())
}
