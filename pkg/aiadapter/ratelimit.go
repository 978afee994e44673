package aiadapter

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"orchestrator/pkg/taxonomy"
)

// RateLimited wraps an Adapter with a token-bucket limiter so one slow or
// quota-exhausted backend can't starve the worker pool's suspension-point
// deadlines described in spec §5.
type RateLimited struct {
	inner   Adapter
	limiter *rate.Limiter
}

// NewRateLimited wraps inner with a limiter allowing ratePerSecond chat
// calls per second, bursting up to burst.
func NewRateLimited(inner Adapter, ratePerSecond float64, burst int) *RateLimited {
	return &RateLimited{inner: inner, limiter: rate.NewLimiter(rate.Limit(ratePerSecond), burst)}
}

func (r *RateLimited) Name() string         { return r.inner.Name() }
func (r *RateLimited) DefaultModel() string { return r.inner.DefaultModel() }

// Chat blocks for a token under the limiter (honoring ctx's deadline) before
// delegating to the wrapped adapter.
func (r *RateLimited) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return ChatResponse{}, fmt.Errorf("rate limiter wait for %s: %w", r.inner.Name(), taxonomy.ErrTimeout)
	}
	return r.inner.Chat(ctx, req)
}
