// ABOUTME: Exponential backoff with jitter for transport-level provider
// ABOUTME: failures; non-retryable errors stop the loop immediately.

package agent

import (
	"context"
	"math"
	"math/rand"
	"time"
)

// RetryPolicy configures the agent loop's provider-transport retry.
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Factor       float64
	Jitter       bool
}

// DefaultRetryPolicy is three attempts, 250ms initial delay, 2x factor.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  3,
		InitialDelay: 250 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Factor:       2.0,
		Jitter:       true,
	}
}

// retryResult mirrors retry.Result: how many attempts were made and the
// final error, if any.
type retryResult struct {
	Attempts int
	Err      error
}

// doWithRetry runs op up to policy.MaxAttempts times, sleeping with
// exponential backoff between attempts, honoring ctx cancellation. A
// non-retryable error (retryable == false) stops immediately.
func doWithRetry(ctx context.Context, policy RetryPolicy, isRetryable func(error) bool, op func() error) retryResult {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}
	if policy.InitialDelay <= 0 {
		policy.InitialDelay = 250 * time.Millisecond
	}
	if policy.MaxDelay <= 0 {
		policy.MaxDelay = 10 * time.Second
	}
	if policy.Factor <= 0 {
		policy.Factor = 2.0
	}

	delay := policy.InitialDelay
	result := retryResult{}

	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		result.Attempts = attempt

		if ctx.Err() != nil {
			result.Err = ctx.Err()
			return result
		}

		err := op()
		if err == nil {
			result.Err = nil
			return result
		}
		result.Err = err

		if isRetryable != nil && !isRetryable(err) {
			return result
		}
		if attempt >= policy.MaxAttempts {
			break
		}

		sleep := delay
		if policy.Jitter {
			sleep = time.Duration(float64(delay) * (0.5 + rand.Float64()))
		}
		select {
		case <-ctx.Done():
			result.Err = ctx.Err()
			return result
		case <-time.After(sleep):
		}

		delay = time.Duration(float64(delay) * policy.Factor)
		if delay > policy.MaxDelay {
			delay = policy.MaxDelay
		}
	}
	return result
}

// backoffDuration exposes the pure calculation for tests.
func backoffDuration(attempt int, initial, max time.Duration, factor float64) time.Duration {
	if attempt <= 0 {
		attempt = 1
	}
	d := float64(initial) * math.Pow(factor, float64(attempt-1))
	if d > float64(max) {
		d = float64(max)
	}
	return time.Duration(d)
}
