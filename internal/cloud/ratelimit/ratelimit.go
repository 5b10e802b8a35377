// Package ratelimit throttles outbound AWS API calls
package ratelimit

import (
	"context"

	"golang.org/x/time/rate"
)

const (
	// DefaultQPS is the sustained call rate when none is configured
	DefaultQPS = 10
	// DefaultBurst is the burst size when none is configured
	DefaultBurst = 20
)

// RateLimiter provides application-level rate limiting. A nil *RateLimiter
// never blocks.
type RateLimiter struct {
	limiter *rate.Limiter
}

// NewRateLimiter creates a new rate limiter. Non-positive values fall back
// to the defaults.
func NewRateLimiter(qps float64, burst int) *RateLimiter {
	if qps <= 0 {
		qps = DefaultQPS
	}
	if burst <= 0 {
		burst = DefaultBurst
	}
	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(qps), burst),
	}
}

// Wait blocks until the rate limiter allows the operation
func (rl *RateLimiter) Wait(ctx context.Context) error {
	if rl == nil {
		return nil
	}
	return rl.limiter.Wait(ctx)
}
