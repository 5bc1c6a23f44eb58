// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/pluginagentmarketplace/custom-plugin-backend-sub002/pkg/errors"
)

// InvocationMetrics tracks invocation outcomes, retry attempts, and
// latencies for production monitoring.
type InvocationMetrics struct {
	// invocationCounter tracks completed invocations by skill,
	// operation, and outcome.
	invocationCounter metric.Int64Counter

	// attemptCounter tracks handler attempts, including retries.
	attemptCounter metric.Int64Counter

	// errorCounter tracks errors by code.
	errorCounter metric.Int64Counter

	// durationHistogram records end-to-end dispatch latency.
	durationHistogram metric.Float64Histogram
}

// NewInvocationMetrics creates the invocation metrics bundle with OTEL
// meters.
func NewInvocationMetrics() (*InvocationMetrics, error) {
	meter := otel.Meter("skillrun/dispatch")

	invocationCounter, err := meter.Int64Counter(
		"skillrun.invocations.total",
		metric.WithDescription("Completed invocations by skill, operation, and outcome"),
	)
	if err != nil {
		return nil, err
	}

	attemptCounter, err := meter.Int64Counter(
		"skillrun.attempts.total",
		metric.WithDescription("Handler attempts including retries"),
	)
	if err != nil {
		return nil, err
	}

	errorCounter, err := meter.Int64Counter(
		"skillrun.errors.total",
		metric.WithDescription("Errors by code"),
	)
	if err != nil {
		return nil, err
	}

	durationHistogram, err := meter.Float64Histogram(
		"skillrun.invocation.duration_ms",
		metric.WithDescription("End-to-end dispatch latency in milliseconds"),
	)
	if err != nil {
		return nil, err
	}

	return &InvocationMetrics{
		invocationCounter: invocationCounter,
		attemptCounter:    attemptCounter,
		errorCounter:      errorCounter,
		durationHistogram: durationHistogram,
	}, nil
}

// RecordInvocation records one finished invocation. A nil receiver is a
// no-op so dispatchers can run without metrics wired.
func (m *InvocationMetrics) RecordInvocation(ctx context.Context, skillID, operation, outcome string, attempts int, duration time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(InvocationAttrs(skillID, operation, outcome)...)
	m.invocationCounter.Add(ctx, 1, attrs)
	if attempts > 0 {
		m.attemptCounter.Add(ctx, int64(attempts), attrs)
	}
	m.durationHistogram.Record(ctx, float64(duration.Milliseconds()), attrs)
}

// RecordError increments the error counter for the given error.
func (m *InvocationMetrics) RecordError(ctx context.Context, err error, skillID string) {
	if m == nil || err == nil {
		return
	}
	ie := errors.AsInvocationError(err)
	m.errorCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String(AttrErrorCode, string(ie.Code)),
			attribute.String(AttrSkillID, skillID),
			attribute.Bool(AttrRecoverable, ie.Recoverable),
		),
	)
}
