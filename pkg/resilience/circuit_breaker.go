// SPDX-License-Identifier: Apache-2.0

package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/pluginagentmarketplace/custom-plugin-backend-sub002/pkg/core"
	"github.com/pluginagentmarketplace/custom-plugin-backend-sub002/pkg/errors"
)

// CircuitBreakerState represents the state of a circuit breaker.
type CircuitBreakerState string

const (
	// StateClosed means calls flow through normally.
	StateClosed CircuitBreakerState = "closed"

	// StateOpen means calls are rejected without reaching the handler.
	StateOpen CircuitBreakerState = "open"

	// StateHalfOpen means the breaker is probing whether the handler
	// has recovered.
	StateHalfOpen CircuitBreakerState = "half-open"
)

// CircuitBreakerConfig configures a circuit breaker.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of failed attempts before opening.
	FailureThreshold int

	// SuccessThreshold is the number of successes in half-open before
	// closing again.
	SuccessThreshold int

	// Timeout is how long the breaker stays open before half-open.
	Timeout time.Duration

	// Name identifies the breaker in logs and failure details.
	Name string
}

// CircuitBreaker sheds load from a failing handler. Hosts wrap flaky
// handlers with Wrap before registering them; the runtime itself never
// requires a breaker.
type CircuitBreaker struct {
	config       CircuitBreakerConfig
	state        CircuitBreakerState
	failures     int
	successes    int
	lastFailTime time.Time
	mu           sync.Mutex
}

// NewCircuitBreaker creates a circuit breaker with the given config.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.FailureThreshold < 1 {
		config.FailureThreshold = 5
	}
	if config.SuccessThreshold < 1 {
		config.SuccessThreshold = 2
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.Name == "" {
		config.Name = "circuit_breaker"
	}

	return &CircuitBreaker{
		config: config,
		state:  StateClosed,
	}
}

// Wrap returns a handler that short-circuits with a retryable failure
// while the breaker is open, and feeds the inner handler's results back
// into the breaker state.
func (cb *CircuitBreaker) Wrap(handler core.Handler) core.Handler {
	return core.HandlerFunc(func(ctx context.Context, params map[string]any) core.Result {
		if !cb.allow() {
			return core.RetryableFailure("circuit breaker open",
				errors.New(errors.CodeOperationFailed, "circuit breaker open", nil).
					WithContext("breaker", cb.config.Name).
					WithRecoverable(true))
		}
		result := handler.Invoke(ctx, params)
		cb.record(result.Kind == core.ResultSuccess)
		return result
	})
}

// State returns the current breaker state.
func (cb *CircuitBreaker) State() CircuitBreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.checkState()
	return cb.state
}

// Reset forces the breaker back to closed.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateClosed
	cb.failures = 0
	cb.successes = 0
}

func (cb *CircuitBreaker) allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.checkState()
	return cb.state != StateOpen
}

func (cb *CircuitBreaker) record(success bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if !success {
		cb.failures++
		cb.lastFailTime = time.Now()
		if cb.state == StateHalfOpen || cb.failures >= cb.config.FailureThreshold {
			cb.state = StateOpen
			cb.failures = 0
			cb.successes = 0
		}
		return
	}

	if cb.state == StateHalfOpen {
		cb.successes++
		if cb.successes >= cb.config.SuccessThreshold {
			cb.state = StateClosed
			cb.failures = 0
			cb.successes = 0
		}
		return
	}
	// Success in closed state resets the failure count.
	cb.failures = 0
}

// checkState transitions open -> half-open after the timeout elapses.
// Callers must hold the mutex.
func (cb *CircuitBreaker) checkState() {
	if cb.state == StateOpen && time.Since(cb.lastFailTime) >= cb.config.Timeout {
		cb.state = StateHalfOpen
		cb.successes = 0
	}
}
