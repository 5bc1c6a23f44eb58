// SPDX-License-Identifier: Apache-2.0

package resilience

import (
	"context"
	"sync"

	"github.com/pluginagentmarketplace/custom-plugin-backend-sub002/pkg/core"
)

// FallbackStrategy produces a substitute result when a handler fails.
type FallbackStrategy interface {
	Execute(ctx context.Context, failed core.Result) core.Result
}

// FallbackFunc wraps a function as a FallbackStrategy.
type FallbackFunc func(ctx context.Context, failed core.Result) core.Result

// Execute implements FallbackStrategy.
func (f FallbackFunc) Execute(ctx context.Context, failed core.Result) core.Result {
	return f(ctx, failed)
}

// StaticFallback substitutes a fixed value for any failure.
type StaticFallback struct {
	Value any
}

// Execute implements FallbackStrategy.
func (s StaticFallback) Execute(_ context.Context, _ core.Result) core.Result {
	return core.Success(s.Value)
}

// CachedFallback substitutes the last successful value. It must be
// installed on the same handler whose successes it observes; see
// WithFallback. Safe for concurrent invocations of the wrapped handler.
type CachedFallback struct {
	mu     sync.Mutex
	cached any
	valid  bool
}

// Execute implements FallbackStrategy.
func (c *CachedFallback) Execute(_ context.Context, failed core.Result) core.Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.valid {
		return failed
	}
	return core.Success(c.cached)
}

func (c *CachedFallback) observe(result core.Result) {
	if result.Kind != core.ResultSuccess {
		return
	}
	c.mu.Lock()
	c.cached = result.Value
	c.valid = true
	c.mu.Unlock()
}

// ChainedFallback tries strategies in order until one yields success.
type ChainedFallback struct {
	Strategies []FallbackStrategy
}

// Execute implements FallbackStrategy.
func (c ChainedFallback) Execute(ctx context.Context, failed core.Result) core.Result {
	last := failed
	for _, strategy := range c.Strategies {
		result := strategy.Execute(ctx, last)
		if result.Kind == core.ResultSuccess {
			return result
		}
		last = result
	}
	return last
}

// WithFallback wraps a handler so failures are replaced by the strategy's
// substitute. Cancellation is never substituted. Cached strategies are fed
// every successful result.
func WithFallback(handler core.Handler, strategy FallbackStrategy) core.Handler {
	return core.HandlerFunc(func(ctx context.Context, params map[string]any) core.Result {
		result := handler.Invoke(ctx, params)
		if cached, ok := strategy.(*CachedFallback); ok {
			cached.observe(result)
		}
		switch result.Kind {
		case core.ResultSuccess, core.ResultCancelled:
			return result
		default:
			return strategy.Execute(ctx, result)
		}
	})
}
