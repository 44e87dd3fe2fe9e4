// Package crawl implements the synchronization pass: frontier dispatch, the
// bounded worker pool, retry policy, and ordered checkpoint commits.
package crawl

import (
	"crypto/rand"
	"math"
	"math/big"
	"time"
)

// RetryPolicy drives backoff for transient failures and throttle signals.
// It is a plain value injected into the coordinator so retry behavior is
// testable in isolation.
type RetryPolicy struct {
	// MaxAttempts bounds round trips that ended in a transient failure;
	// once reached the id is recorded as failed and skipped.
	MaxAttempts int
	// BaseDelay seeds the exponential schedule.
	BaseDelay time.Duration
	// Multiplier scales the delay between consecutive retries.
	Multiplier float64
	// MaxDelay caps a single wait.
	MaxDelay time.Duration
	// MaxThrottleWaits bounds consecutive rate-limit waits for one task.
	// Throttle responses do not count against MaxAttempts; the remote is
	// answering, just asking us to slow down.
	MaxThrottleWaits int
}

// NewRetryPolicy builds a policy with the default schedule.
func NewRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts:      3,
		BaseDelay:        500 * time.Millisecond,
		Multiplier:       2,
		MaxDelay:         30 * time.Second,
		MaxThrottleWaits: 10,
	}
}

// ShouldRetry reports whether another attempt is allowed after `attempts`
// transient failures.
func (p *RetryPolicy) ShouldRetry(attempts int) bool {
	return attempts < p.MaxAttempts
}

// Backoff returns the wait before the next attempt, given the number of
// failed attempts so far (>= 1). The schedule is exponential with jitter.
// With Multiplier >= 2 (enforced at the config boundary) the jitter window
// for attempt n starts above where attempt n-1's ends, so observed delays
// are non-decreasing until the cap.
func (p *RetryPolicy) Backoff(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	delay := float64(p.BaseDelay) * math.Pow(p.Multiplier, float64(attempts-1))
	if delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	half := time.Duration(delay / 2)
	return half + randomJitter(half)
}

// ThrottleDelay picks the wait after a rate-limit response: an explicit
// server hint wins over the default schedule.
func (p *RetryPolicy) ThrottleDelay(hint time.Duration, waits int) time.Duration {
	if hint > 0 {
		return hint
	}
	return p.Backoff(waits)
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}
