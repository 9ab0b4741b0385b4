package resilience

import (
	"context"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const (
	defaultMultiplier = 2.0

	// jitterFraction is the one-sided random spread added on top of each
	// computed delay. Spreading retries prevents synchronized clients from
	// hammering a recovering provider in lockstep.
	jitterFraction = 0.10
)

// Policy configures retry behavior for one class of provider operation.
type Policy struct {
	// MaxAttempts is the total invocation budget including the first call.
	MaxAttempts int
	// BaseDelay is the delay before the first retry.
	BaseDelay time.Duration
	// MaxDelay caps the exponential growth of delays (0 = uncapped).
	MaxDelay time.Duration
	// Multiplier is the exponential growth factor (defaults to 2).
	Multiplier float64
	// Retryable classifies which errors are worth another attempt.
	// Nil means IsTransient.
	Retryable func(error) bool
}

// DiscoveryPolicy returns the retry budget for OIDC discovery document
// fetches. Discovery runs during configuration setup where a few seconds of
// patience beats a spurious failure.
func DiscoveryPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   2 * time.Second,
		MaxDelay:    30 * time.Second,
	}
}

// TokenExchangePolicy returns the retry budget for authorization code
// exchange. Codes are single use, so only connection-establishment failures
// (where the request never reached the provider) are retried.
func TokenExchangePolicy() Policy {
	return Policy{
		MaxAttempts: 2,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    2 * time.Second,
		Retryable:   IsConnectFailure,
	}
}

// UserInfoPolicy returns the retry budget for userinfo endpoint fetches.
func UserInfoPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    10 * time.Second,
	}
}

// ConnectivityPolicy returns the retry budget for endpoint connectivity
// probes run during configuration testing.
func ConnectivityPolicy() Policy {
	return Policy{
		MaxAttempts: 2,
		BaseDelay:   time.Second,
		MaxDelay:    5 * time.Second,
	}
}

// Stats records what a retried call actually did.
type Stats struct {
	// Attempts is the number of times the operation was invoked.
	Attempts int
	// Elapsed is the total wall time including backoff waits.
	Elapsed time.Duration
}

// Execute runs op under the policy's retry budget.
//
// The operation is invoked at most policy.MaxAttempts times. Errors the
// policy classifies as non-retryable stop the loop immediately and are
// returned unwrapped. When every attempt fails with a retryable error, the
// final error is wrapped in *RetryExhaustedError carrying the attempt count
// and elapsed time. Context cancellation between attempts aborts the loop
// with the context's error.
//
// Example:
//
//	doc, stats, err := resilience.Execute(ctx, logger, resilience.DiscoveryPolicy(),
//	    "oidc_discovery", func(ctx context.Context) (*Document, error) {
//	        return fetchDocument(ctx, wellKnownURL)
//	    })
func Execute[T any](ctx context.Context, logger *slog.Logger, policy Policy, operation string, op func(context.Context) (T, error)) (T, Stats, error) {
	var zero T
	if logger == nil {
		logger = slog.Default()
	}
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}
	retryable := policy.Retryable
	if retryable == nil {
		retryable = IsTransient
	}

	start := time.Now()
	attempts := 0
	wrapped := func() (T, error) {
		attempts++
		result, err := op(ctx)
		if err == nil {
			return result, nil
		}
		if !retryable(err) {
			return zero, backoff.Permanent(err)
		}
		return zero, err
	}

	result, err := backoff.Retry(ctx, wrapped,
		backoff.WithBackOff(newJitteredBackOff(policy)),
		backoff.WithMaxTries(uint(policy.MaxAttempts)),
		backoff.WithNotify(func(err error, delay time.Duration) {
			logger.Debug("Retrying operation",
				"operation", operation,
				"attempt", attempts,
				"delay", delay,
				"error", err)
		}),
	)

	stats := Stats{Attempts: attempts, Elapsed: time.Since(start)}
	if err != nil {
		if attempts >= policy.MaxAttempts && retryable(err) {
			return zero, stats, &RetryExhaustedError{
				Operation: operation,
				Attempts:  attempts,
				Elapsed:   stats.Elapsed,
				Err:       err,
			}
		}
		return zero, stats, err
	}
	return result, stats, nil
}

// jitteredBackOff implements backoff.BackOff with the delay schedule used for
// provider calls: capped exponential growth plus a one-sided random spread.
// The jitter only ever lengthens a delay, so the configured base remains a
// floor.
type jitteredBackOff struct {
	base       time.Duration
	max        time.Duration
	multiplier float64
	retries    int
}

func newJitteredBackOff(policy Policy) *jitteredBackOff {
	multiplier := policy.Multiplier
	if multiplier <= 0 {
		multiplier = defaultMultiplier
	}
	return &jitteredBackOff{
		base:       policy.BaseDelay,
		max:        policy.MaxDelay,
		multiplier: multiplier,
	}
}

func (b *jitteredBackOff) NextBackOff() time.Duration {
	delay := float64(b.base) * math.Pow(b.multiplier, float64(b.retries))
	b.retries++
	if b.max > 0 && delay > float64(b.max) {
		delay = float64(b.max)
	}
	jitter := rand.Float64() * jitterFraction * delay
	return time.Duration(delay + jitter)
}

func (b *jitteredBackOff) Reset() { b.retries = 0 }
