// Package server implements per-connection throttling that protects the hub
// from a reporter flooding position updates.
package server

import (
	"time"

	"golang.org/x/time/rate"
)

// rateLimiter allows capacity frames at once and refills capacity frames per
// interval.
type rateLimiter struct {
	limiter *rate.Limiter
}

func newRateLimiter(capacity int, interval time.Duration) *rateLimiter {
	if capacity <= 0 {
		capacity = 1
	}
	if interval <= 0 {
		interval = time.Second
	}

	limit := rate.Limit(float64(capacity) / interval.Seconds())
	return &rateLimiter{limiter: rate.NewLimiter(limit, capacity)}
}

func (rl *rateLimiter) allow() bool {
	return rl.limiter.Allow()
}
