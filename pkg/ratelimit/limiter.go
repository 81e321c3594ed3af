// Package ratelimit controls the pace of operations against external
// services: how fast new websocket connections may be opened per audience
// and how fast frames may be written to an open connection.
//
// Two implementations are provided behind one interface. The window limiter
// enforces exchange connection-throttle pairs of the form (max connections,
// window); the token bucket, backed by Uber's rate limiter, smooths
// per-frame send rates.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/ratelimit"
)

// Rate is a limit of Limit operations per Interval. A Rate with Limit <= 0
// or Interval <= 0 means unlimited.
type Rate struct {
	Limit    int
	Interval time.Duration
}

// Unlimited reports whether the rate imposes no throttling.
func (r Rate) Unlimited() bool {
	return r.Limit <= 0 || r.Interval <= 0
}

// Limiter gates rate-limited operations. Wait blocks the caller until a
// slot is free or the context is cancelled; it never drops or silently
// fails, so callers always eventually proceed once the limit permits.
type Limiter interface {
	Wait(ctx context.Context) error
}

// NewWindowLimiter returns a Limiter implementing a rolling window: it
// counts operations in the current window and, once the cap is reached,
// suspends callers for the remaining window time before resetting the
// counter.
func NewWindowLimiter(rate Rate) Limiter {
	return &windowLimiter{rate: rate}
}

type windowLimiter struct {
	mu      sync.Mutex
	rate    Rate
	started time.Time
	count   int
}

func (l *windowLimiter) Wait(ctx context.Context) error {
	if l.rate.Unlimited() {
		return ctx.Err()
	}

	for {
		l.mu.Lock()
		now := time.Now()
		if l.started.IsZero() || now.Sub(l.started) >= l.rate.Interval {
			l.started = now
			l.count = 0
		}
		if l.count < l.rate.Limit {
			l.count++
			l.mu.Unlock()
			return nil
		}
		remaining := l.rate.Interval - now.Sub(l.started)
		l.mu.Unlock()

		timer := time.NewTimer(remaining)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("rate limit wait cancelled: %w", ctx.Err())
		case <-timer.C:
		}
	}
}

// NewTokenBucketLimiter returns a Limiter over Uber's token bucket. The
// rate is converted to operations per second; a sub-1/s rate is clamped to
// one operation per second.
func NewTokenBucketLimiter(rate Rate) Limiter {
	if rate.Unlimited() {
		return nopLimiter{}
	}
	rps := int(float64(rate.Limit) / rate.Interval.Seconds())
	if rps < 1 {
		rps = 1
	}
	return &bucketLimiter{limiter: ratelimit.New(rps)}
}

type bucketLimiter struct {
	limiter ratelimit.Limiter
}

func (l *bucketLimiter) Wait(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("rate limit wait cancelled: %w", ctx.Err())
	default:
		l.limiter.Take()
		return nil
	}
}

type nopLimiter struct{}

func (nopLimiter) Wait(ctx context.Context) error { return ctx.Err() }
