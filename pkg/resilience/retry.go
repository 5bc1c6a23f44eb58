// SPDX-License-Identifier: Apache-2.0

// Package resilience provides the bounded-retry executor and circuit
// breaker used to run skill operation handlers.
package resilience

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/pluginagentmarketplace/custom-plugin-backend-sub002/pkg/core"
	"github.com/pluginagentmarketplace/custom-plugin-backend-sub002/pkg/errors"
)

// BackoffKind selects the delay schedule between attempts.
type BackoffKind string

const (
	// BackoffFixed waits InitialDelay before every retry.
	BackoffFixed BackoffKind = "fixed"

	// BackoffExponential waits InitialDelay * 2^(n-2) before attempt n.
	BackoffExponential BackoffKind = "exponential"
)

// RetryPolicy controls how many times a handler is attempted and how long
// the executor waits between attempts. Policies are immutable; the With*
// helpers return modified copies.
type RetryPolicy struct {
	// MaxAttempts is the maximum number of attempts (must be >= 1).
	MaxAttempts int

	// Backoff selects the delay schedule.
	Backoff BackoffKind

	// InitialDelay is the delay before the first retry. No delay ever
	// precedes the first attempt.
	InitialDelay time.Duration

	// MaxDelay caps the exponential schedule. Zero means uncapped.
	MaxDelay time.Duration

	// AttemptTimeout bounds a single handler attempt. Zero means no
	// per-attempt deadline.
	AttemptTimeout time.Duration

	// Jitter adds randomness to backoff to prevent thundering herd.
	// Value between 0 and 1; 0.1 means ±10% jitter.
	Jitter float64
}

// DefaultRetryPolicy returns the runtime-level default policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  3,
		Backoff:      BackoffExponential,
		InitialDelay: time.Second,
		MaxDelay:     30 * time.Second,
	}
}

// WithMaxAttempts returns a copy with MaxAttempts set.
func (p RetryPolicy) WithMaxAttempts(n int) RetryPolicy {
	p.MaxAttempts = n
	return p
}

// WithBackoff returns a copy with the backoff kind set.
func (p RetryPolicy) WithBackoff(kind BackoffKind) RetryPolicy {
	p.Backoff = kind
	return p
}

// WithInitialDelay returns a copy with InitialDelay set.
func (p RetryPolicy) WithInitialDelay(d time.Duration) RetryPolicy {
	p.InitialDelay = d
	return p
}

// WithMaxDelay returns a copy with MaxDelay set.
func (p RetryPolicy) WithMaxDelay(d time.Duration) RetryPolicy {
	p.MaxDelay = d
	return p
}

// WithAttemptTimeout returns a copy with AttemptTimeout set.
func (p RetryPolicy) WithAttemptTimeout(d time.Duration) RetryPolicy {
	p.AttemptTimeout = d
	return p
}

// Check verifies the policy is well formed. Called at registration time.
func (p RetryPolicy) Check() error {
	if p.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be >= 1, got %d", p.MaxAttempts)
	}
	if p.InitialDelay < 0 {
		return fmt.Errorf("initial_delay must be >= 0")
	}
	switch p.Backoff {
	case BackoffFixed, BackoffExponential:
	default:
		return fmt.Errorf("unknown backoff kind %q", p.Backoff)
	}
	return nil
}

// Execute runs the handler under the policy and returns the final result
// plus the number of attempts actually started. Only Retryable failures
// trigger another attempt; Terminal failures and successes return
// immediately. Cancellation is observed before each attempt and during
// backoff waits, never by interrupting an in-flight handler call.
func Execute(ctx context.Context, handler core.Handler, params map[string]any, policy RetryPolicy) (core.Result, int) {
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}

	var last core.Result
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return cancelled(ctx, attempt-1, policy.MaxAttempts), attempt - 1
			case <-time.After(policy.delay(attempt)):
			}
		}
		if ctx.Err() != nil {
			return cancelled(ctx, attempt-1, policy.MaxAttempts), attempt - 1
		}

		result := invokeAttempt(ctx, handler, params, policy.AttemptTimeout)
		switch result.Kind {
		case core.ResultSuccess, core.ResultTerminal:
			return result, attempt
		case core.ResultRetryable:
			last = result
		default:
			// Unknown kinds are treated as terminal rather than
			// burning the retry budget on a misbehaving handler.
			return result, attempt
		}

		if ctx.Err() != nil {
			return cancelled(ctx, attempt, policy.MaxAttempts), attempt
		}
	}
	return last, policy.MaxAttempts
}

// delay computes the backoff before attempt n (n >= 2).
func (p RetryPolicy) delay(attempt int) time.Duration {
	d := p.InitialDelay
	if p.Backoff == BackoffExponential {
		for i := 2; i < attempt; i++ {
			d *= 2
			if p.MaxDelay > 0 && d >= p.MaxDelay {
				d = p.MaxDelay
				break
			}
		}
		if p.MaxDelay > 0 && d > p.MaxDelay {
			d = p.MaxDelay
		}
	}
	if p.Jitter > 0 {
		jitterRange := 2 * float64(d) * p.Jitter * (rand.Float64() - 0.5)
		d = time.Duration(float64(d) + jitterRange)
		if d < 0 {
			d = 0
		}
	}
	return d
}

// invokeAttempt runs a single handler call, trapping panics and applying
// the per-attempt deadline. A caller cancellation during an in-flight
// attempt does not interrupt the handler; the attempt result is collected
// and cancellation takes effect at the next retry decision point.
func invokeAttempt(ctx context.Context, handler core.Handler, params map[string]any, timeout time.Duration) core.Result {
	if timeout == 0 {
		return safeInvoke(ctx, handler, params)
	}

	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan core.Result, 1)
	go func() {
		done <- safeInvoke(attemptCtx, handler, params)
	}()

	select {
	case result := <-done:
		return result
	case <-attemptCtx.Done():
		if ctx.Err() != nil {
			// Caller cancelled: wait for the in-flight attempt.
			return <-done
		}
		return core.RetryableFailure("attempt timed out",
			errors.New(errors.CodeTimeout, "handler attempt exceeded timeout", attemptCtx.Err()).
				WithContext("timeout", timeout.String()).
				WithRecoverable(true))
	}
}

// safeInvoke converts handler panics into terminal failures so they never
// cross the invocation boundary.
func safeInvoke(ctx context.Context, handler core.Handler, params map[string]any) (result core.Result) {
	defer func() {
		if r := recover(); r != nil {
			result = core.TerminalFailure("handler panic",
				errors.New(errors.CodeInternal, fmt.Sprintf("handler panic: %v", r), nil))
		}
	}()
	return handler.Invoke(ctx, params)
}

func cancelled(ctx context.Context, attempts, maxAttempts int) core.Result {
	return core.Result{
		Kind:   core.ResultCancelled,
		Detail: "cancelled",
		Err: errors.New(errors.CodeCancelled, "context cancelled during retry", ctx.Err()).
			WithContext("attempts", attempts).
			WithContext("max_attempts", maxAttempts),
	}
}
