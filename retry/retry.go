// Package retry wraps fallible provider calls with exponential backoff,
// a pluggable retry predicate, and provider-aware short-circuits.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"math/rand"
	"time"
)

// AuthType distinguishes providers whose errors need special treatment.
type AuthType string

const (
	// AuthTypeAPIKey is the default: errors follow the plain predicate.
	AuthTypeAPIKey AuthType = "api-key"
	// AuthTypeOAuth marks OAuth-backed providers whose quota-exhaustion
	// errors must fail immediately instead of burning retry attempts.
	AuthTypeOAuth AuthType = "oauth"
)

// Options configures WithBackoff. Zero values fall back to the defaults.
type Options struct {
	// MaxAttempts caps the number of tries. 0 means DefaultMaxAttempts;
	// negative values are rejected.
	MaxAttempts int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	// ShouldRetry overrides DefaultShouldRetry when non-nil.
	ShouldRetry func(error) bool
	// AuthType enables the quota short-circuit for oauth providers.
	AuthType AuthType
}

const (
	DefaultMaxAttempts  = 5
	DefaultInitialDelay = 5 * time.Second
	DefaultMaxDelay     = 30 * time.Second
	jitterFactor        = 0.3 // ±30% so concurrent callers do not synchronize
)

// WithBackoff runs op up to opts.MaxAttempts times with exponential backoff
// between failures. On exhaustion the error from the final attempt is
// returned. Backoff sleeps observe ctx: a cancelled operation never sleeps
// through a pending delay.
func WithBackoff[T any](ctx context.Context, op func(ctx context.Context) (T, error), opts Options) (T, error) {
	var zero T

	maxAttempts := opts.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = DefaultMaxAttempts
	}
	if maxAttempts < 0 {
		return zero, fmt.Errorf("retry: maxAttempts must be a positive integer, got %d", maxAttempts)
	}
	initialDelay := opts.InitialDelay
	if initialDelay <= 0 {
		initialDelay = DefaultInitialDelay
	}
	maxDelay := opts.MaxDelay
	if maxDelay <= 0 {
		maxDelay = DefaultMaxDelay
	}
	shouldRetry := opts.ShouldRetry
	if shouldRetry == nil {
		shouldRetry = DefaultShouldRetry
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		result, err := op(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil {
			return zero, err
		}

		// Hard quota exhaustion on an OAuth-backed provider fails the call
		// immediately; throttling keeps the normal backoff path.
		if opts.AuthType == AuthTypeOAuth && isQuotaExhaustedMessage(err) {
			return zero, &QuotaError{Err: err}
		}

		if !shouldRetry(err) || attempt == maxAttempts {
			return zero, err
		}

		delay := backoffDelay(initialDelay, maxDelay, attempt)
		log.Printf("retry: attempt %d/%d failed, backing off %s: %v", attempt, maxAttempts, delay, err)

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(delay):
		}
	}

	return zero, lastErr
}

// backoffDelay computes initialDelay * 2^(attempt-1), capped at maxDelay,
// with ±30% jitter.
func backoffDelay(initialDelay, maxDelay time.Duration, attempt int) time.Duration {
	delay := float64(initialDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(maxDelay) {
		delay = float64(maxDelay)
	}
	delay += (rand.Float64()*2 - 1) * jitterFactor * delay
	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}
