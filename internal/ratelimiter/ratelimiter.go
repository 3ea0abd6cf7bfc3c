package ratelimiter

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimiter throttles per-connection request processing using a token
// bucket.
//
// Scripting clients are scripts, and scripts in a tight loop can flood the
// bridge with geometry calls faster than the host's main loop can absorb
// them. The limiter paces each connection so a runaway script degrades into
// slower responses instead of an unbounded pending-call backlog.
//
// Tokens refill at a constant sustained rate; burst capacity absorbs the
// short spikes a normal script produces (e.g. creating the four lines of a
// rectangle back to back).
//
// All methods are safe for concurrent use.
type RateLimiter struct {
	limiter *rate.Limiter
}

// New creates a RateLimiter allowing requestsPerSecond sustained throughput
// with the given burst capacity.
//
// requestsPerSecond = 0 disables limiting (an effectively unlimited bucket).
func New(requestsPerSecond, burst uint) *RateLimiter {
	if requestsPerSecond == 0 {
		requestsPerSecond = 1_000_000_000
		burst = requestsPerSecond
	}

	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), int(burst)),
	}
}

// Allow reports whether a request may proceed right now, consuming a token
// if so. Use this to reject over-limit requests immediately.
func (r *RateLimiter) Allow() bool {
	return r.limiter.Allow()
}

// Wait blocks until a token is available or ctx is cancelled. Use this to
// throttle a connection instead of rejecting its requests: every request
// still gets a response, just later.
func (r *RateLimiter) Wait(ctx context.Context) error {
	return r.limiter.Wait(ctx)
}
