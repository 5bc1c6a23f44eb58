// SPDX-License-Identifier: Apache-2.0

// Package dispatch is the invocation façade: it validates a request,
// resolves the target operation, runs the handler under its retry policy,
// emits lifecycle events, and maps the final outcome to an exit code.
//
// Per invocation the phases run strictly in order:
// received -> validating -> resolving -> executing -> completed|failed.
// Concurrent invocations are independent and may interleave freely.
package dispatch

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/pluginagentmarketplace/custom-plugin-backend-sub002/pkg/core"
	"github.com/pluginagentmarketplace/custom-plugin-backend-sub002/pkg/errors"
	"github.com/pluginagentmarketplace/custom-plugin-backend-sub002/pkg/lifecycle"
	"github.com/pluginagentmarketplace/custom-plugin-backend-sub002/pkg/registry"
	"github.com/pluginagentmarketplace/custom-plugin-backend-sub002/pkg/resilience"
	"github.com/pluginagentmarketplace/custom-plugin-backend-sub002/pkg/schema"
	"github.com/pluginagentmarketplace/custom-plugin-backend-sub002/pkg/telemetry"
)

// SecurityIssueClass is the failure class handlers use to flag security
// violations. Terminal failures carrying it (or a SECURITY_ISSUE error
// code) surface as SecurityIssue outcomes.
const SecurityIssueClass = "SECURITY_ISSUE"

// Dispatcher routes invocation requests through the runtime. It is
// stateless per invocation and safe for concurrent use.
type Dispatcher struct {
	registry *registry.Registry
	emitter  *lifecycle.Emitter
	metrics  *telemetry.InvocationMetrics
	logger   *slog.Logger
	tracer   trace.Tracer
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithEmitter sets the lifecycle emitter.
func WithEmitter(emitter *lifecycle.Emitter) Option {
	return func(d *Dispatcher) {
		if emitter != nil {
			d.emitter = emitter
		}
	}
}

// WithMetrics sets the invocation metrics bundle.
func WithMetrics(metrics *telemetry.InvocationMetrics) Option {
	return func(d *Dispatcher) {
		d.metrics = metrics
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// New creates a dispatcher over a registry. Without options it logs to
// slog.Default, discards lifecycle events, and records no metrics.
func New(reg *registry.Registry, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		registry: reg,
		emitter:  lifecycle.NewEmitter(nil, nil),
		logger:   slog.Default(),
		tracer:   otel.Tracer("skillrun/dispatch"),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch runs one invocation end to end and returns its outcome.
// Every request produces exactly one outcome; requests that fail
// validation or resolution never emit an `invoked` lifecycle event.
func (d *Dispatcher) Dispatch(ctx context.Context, req core.InvocationRequest) InvocationOutcome {
	start := time.Now()
	invocationID := uuid.NewString()

	ctx, span := d.tracer.Start(ctx, "skillrun.dispatch",
		trace.WithAttributes(
			attribute.String(telemetry.AttrInvocationID, invocationID),
			attribute.String(telemetry.AttrSkillID, req.SkillID),
			attribute.String(telemetry.AttrOperation, req.Operation),
		))
	defer span.End()

	// Validating: request envelope.
	if err := req.ValidateShape(); err != nil {
		return d.rejected(ctx, invocationID, req, err, start, span)
	}

	// Resolving: registry lookup. Unknown targets are invalid input,
	// never retried.
	desc, err := d.registry.Lookup(req.SkillID, req.Operation)
	if err != nil {
		return d.rejected(ctx, invocationID, req, err, start, span)
	}

	// Validating against the operation's declared parameter schema.
	if err := schema.Validate(req.Params, desc.Params); err != nil {
		return d.rejected(ctx, invocationID, req, err, start, span)
	}

	if desc.Handler == nil {
		err := errors.New(errors.CodeInternal, "no handler bound to operation", nil).
			WithContext("skill", req.SkillID).
			WithContext("operation", req.Operation)
		return d.rejected(ctx, invocationID, req, err, start, span)
	}

	// Executing: from here on the invocation has a full lifecycle.
	d.emitter.Emit(ctx, lifecycle.NewEvent(lifecycle.PhaseInvoked, invocationID, req.SkillID, req.Operation, ""))

	result, attempts := resilience.Execute(ctx, desc.Handler, req.Params, desc.Retry)
	outcome := d.classify(invocationID, desc, result, attempts)

	d.finish(ctx, req, outcome, result, start, span)
	return outcome
}

// classify maps the retry executor's final result to an outcome and exit
// code.
func (d *Dispatcher) classify(invocationID string, desc *registry.OperationDescriptor, result core.Result, attempts int) InvocationOutcome {
	outcome := InvocationOutcome{
		InvocationID: invocationID,
		Detail:       result.Detail,
		Attempts:     attempts,
	}

	switch result.Kind {
	case core.ResultSuccess:
		outcome.Kind = OutcomeSuccess
		outcome.Result = result.Value
		outcome.ExitCode = errors.ExitSuccess
	case core.ResultCancelled:
		outcome.Kind = OutcomeCancelled
		outcome.Detail = "cancelled"
		outcome.ExitCode = errors.ExitCancelled
	case core.ResultTerminal:
		if isSecurityIssue(result) {
			outcome.Kind = OutcomeSecurityIssue
		} else {
			outcome.Kind = OutcomeOperationFailed
		}
		outcome.ExitCode = desc.ExitCodeFor(result.Class)
		outcome.Detail = failureDetail(result)
	default:
		// Retryable after exhaustion.
		outcome.Kind = OutcomeOperationFailed
		outcome.ExitCode = desc.ExitCodeFor(result.Class)
		outcome.Detail = failureDetail(result)
	}
	return outcome
}

// rejected handles every pre-execution failure: no lifecycle events, no
// retry attempts, exit code from the typed error (always the
// invalid-input slot for schema and lookup failures).
func (d *Dispatcher) rejected(ctx context.Context, invocationID string, req core.InvocationRequest, err error, start time.Time, span trace.Span) InvocationOutcome {
	ie := errors.AsInvocationError(err)
	outcome := InvocationOutcome{
		InvocationID: invocationID,
		Kind:         OutcomeInvalidInput,
		Detail:       ie.Message,
		ExitCode:     ie.ExitCode,
	}
	if ie.Code == errors.CodeInternal {
		outcome.Kind = OutcomeOperationFailed
	}

	span.SetAttributes(
		attribute.String(telemetry.AttrOutcome, string(outcome.Kind)),
		attribute.Int(telemetry.AttrExitCode, outcome.ExitCode),
	)
	d.metrics.RecordError(ctx, ie, req.SkillID)
	d.metrics.RecordInvocation(ctx, req.SkillID, req.Operation, string(outcome.Kind), 0, time.Since(start))
	d.logger.DebugContext(ctx, "invocation rejected",
		slog.String("invocation_id", invocationID),
		slog.String("skill_id", req.SkillID),
		slog.String("operation", req.Operation),
		slog.String("detail", outcome.Detail))
	return outcome
}

// finish emits the terminal lifecycle event and records telemetry.
func (d *Dispatcher) finish(ctx context.Context, req core.InvocationRequest, outcome InvocationOutcome, result core.Result, start time.Time, span trace.Span) {
	phase := lifecycle.PhaseFailed
	if outcome.Kind == OutcomeSuccess {
		phase = lifecycle.PhaseCompleted
	}
	event := lifecycle.NewEvent(phase, outcome.InvocationID, req.SkillID, req.Operation, outcome.Detail)
	event.Attempts = outcome.Attempts
	d.emitter.Emit(ctx, event)

	span.SetAttributes(
		attribute.String(telemetry.AttrOutcome, string(outcome.Kind)),
		attribute.Int(telemetry.AttrExitCode, outcome.ExitCode),
		attribute.Int(telemetry.AttrAttempts, outcome.Attempts),
	)
	if result.Err != nil {
		d.metrics.RecordError(ctx, result.Err, req.SkillID)
	}
	d.metrics.RecordInvocation(ctx, req.SkillID, req.Operation, string(outcome.Kind), outcome.Attempts, time.Since(start))

	d.logger.InfoContext(ctx, "invocation finished",
		slog.String("invocation_id", outcome.InvocationID),
		slog.String("skill_id", req.SkillID),
		slog.String("operation", req.Operation),
		slog.String("outcome", string(outcome.Kind)),
		slog.Int("exit_code", outcome.ExitCode),
		slog.Int("attempts", outcome.Attempts))
}

func isSecurityIssue(result core.Result) bool {
	if result.Class == SecurityIssueClass {
		return true
	}
	if ie, ok := result.Err.(*errors.InvocationError); ok {
		return ie.Code == errors.CodeSecurityIssue
	}
	return false
}

func failureDetail(result core.Result) string {
	if result.Detail != "" {
		return result.Detail
	}
	if result.Err != nil {
		return result.Err.Error()
	}
	return "operation failed"
}
