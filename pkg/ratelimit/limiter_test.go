package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWindowLimiterAllowsBurstWithinWindow(t *testing.T) {
	limiter := NewWindowLimiter(Rate{Limit: 3, Interval: time.Second})
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, limiter.Wait(ctx))
	}
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestWindowLimiterSuspendsUntilWindowResets(t *testing.T) {
	window := 200 * time.Millisecond
	limiter := NewWindowLimiter(Rate{Limit: 1, Interval: window})
	ctx := context.Background()

	require.NoError(t, limiter.Wait(ctx))

	start := time.Now()
	require.NoError(t, limiter.Wait(ctx))
	assert.GreaterOrEqual(t, time.Since(start), window/2,
		"second permit should wait for the remaining window time")
}

func TestWindowLimiterUnlimited(t *testing.T) {
	limiter := NewWindowLimiter(Rate{})
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 1000; i++ {
		require.NoError(t, limiter.Wait(ctx))
	}
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestWindowLimiterCancellation(t *testing.T) {
	limiter := NewWindowLimiter(Rate{Limit: 1, Interval: time.Hour})
	require.NoError(t, limiter.Wait(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := limiter.Wait(ctx)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestTokenBucketLimiter(t *testing.T) {
	limiter := NewTokenBucketLimiter(Rate{Limit: 100, Interval: time.Second})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, limiter.Wait(ctx))
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.Error(t, limiter.Wait(cancelled))
}

func TestTokenBucketUnlimited(t *testing.T) {
	limiter := NewTokenBucketLimiter(Rate{})
	start := time.Now()
	for i := 0; i < 1000; i++ {
		require.NoError(t, limiter.Wait(context.Background()))
	}
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}
