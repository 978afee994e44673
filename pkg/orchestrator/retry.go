package orchestrator

import (
	"context"
	"math"
	"time"
)

// RetryConfig mirrors the teacher's resilience.RetryConfig shape:
// exponential backoff bounded by MaxDelay, with a configurable retry
// ceiling per spec §4.8's executeWithRetry.
//
//nolint:govet // fieldalignment: logical grouping preferred
type RetryConfig struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
}

// DefaultRetryConfig is a reasonable default for AI-call and container-op
// retries.
var DefaultRetryConfig = RetryConfig{
	MaxRetries:    3,
	InitialDelay:  100 * time.Millisecond,
	MaxDelay:      10 * time.Second,
	BackoffFactor: 2.0,
}

func (c RetryConfig) delayForAttempt(attempt int) time.Duration {
	d := float64(c.InitialDelay) * math.Pow(c.BackoffFactor, float64(attempt))
	if d > float64(c.MaxDelay) {
		d = float64(c.MaxDelay)
	}
	return time.Duration(d)
}

// RetryResult is executeWithRetry's report shape per spec §4.8.
//
//nolint:govet // fieldalignment: logical grouping preferred
type RetryResult struct {
	Success   bool
	Result    any
	Attempts  int
	LastError error
}

// ShouldRetry classifies whether an error returned by op is worth retrying.
// Callers pass a classifier matching their error taxonomy (e.g.
// errors.Is(err, taxonomy.ErrAIUnavailable)); a nil classifier retries
// every non-nil error.
type ShouldRetry func(err error) bool

// ExecuteWithRetry runs op up to cfg.MaxRetries+1 times with exponential
// backoff between attempts, stopping early on success or when classify
// reports an error is not worth retrying. The backoff sleep honors ctx's
// cancellation.
func ExecuteWithRetry(ctx context.Context, op func(ctx context.Context) (any, error), cfg RetryConfig, classify ShouldRetry) RetryResult {
	var lastErr error
	attempts := 0
	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		attempts = attempt + 1
		result, err := op(ctx)
		if err == nil {
			return RetryResult{Success: true, Result: result, Attempts: attempt + 1}
		}
		lastErr = err
		if classify != nil && !classify(err) {
			break
		}
		if attempt == cfg.MaxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return RetryResult{Success: false, Attempts: attempt + 1, LastError: ctx.Err()}
		case <-time.After(cfg.delayForAttempt(attempt)):
		}
	}
	return RetryResult{Success: false, Attempts: attempts, LastError: lastErr}
}

// FallbackResult is executeWithFallback's report shape per spec §4.8.
type FallbackResult struct {
	Result       any
	UsedFallback bool
	Err          error
}

// ExecuteWithFallback runs primary; on error it runs fallback instead and
// reports that substitution happened. If fallback also errors, its error
// is returned.
func ExecuteWithFallback(ctx context.Context, primary, fallback func(ctx context.Context) (any, error)) FallbackResult {
	result, err := primary(ctx)
	if err == nil {
		return FallbackResult{Result: result}
	}
	fbResult, fbErr := fallback(ctx)
	if fbErr != nil {
		return FallbackResult{UsedFallback: true, Err: fbErr}
	}
	return FallbackResult{Result: fbResult, UsedFallback: true}
}
