// Package ratelimit implements the shared token bucket that throttles all
// outbound requests to the remote database.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"
)

// Config holds rate limiter configuration.
type Config struct {
	// MaxRPS is the sustained request rate; <= 0 means unlimited.
	MaxRPS float64
	// Burst is the bucket size; values <= 0 collapse to 1 so a cold start
	// cannot exceed the sustained rate by much.
	Burst int
}

// Limiter gates outbound requests. One instance is shared by every worker;
// rate.Limiter grants reservations in request order, so waiting callers are
// served FIFO and none starves.
type Limiter struct {
	limiter *rate.Limiter
	delays  prometheus.Observer
}

// New creates a Limiter. The observer, when non-nil, records the delay the
// limiter imposed on each acquisition.
func New(cfg Config, delays prometheus.Observer) *Limiter {
	r := rate.Limit(cfg.MaxRPS)
	if cfg.MaxRPS <= 0 {
		r = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		limiter: rate.NewLimiter(r, burst),
		delays:  delays,
	}
}

// Wait blocks until issuing one request stays within the configured rate,
// or until ctx ends. It is safe for concurrent use.
func (l *Limiter) Wait(ctx context.Context) error {
	start := time.Now()
	if err := l.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if l.delays != nil {
		if waited := time.Since(start); waited > time.Millisecond {
			l.delays.Observe(waited.Seconds())
		}
	}
	return nil
}
