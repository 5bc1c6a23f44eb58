// SPDX-License-Identifier: Apache-2.0

package dispatch

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/pluginagentmarketplace/custom-plugin-backend-sub002/pkg/core"
	"github.com/pluginagentmarketplace/custom-plugin-backend-sub002/pkg/lifecycle"
	"github.com/pluginagentmarketplace/custom-plugin-backend-sub002/pkg/registry"
	"github.com/pluginagentmarketplace/custom-plugin-backend-sub002/pkg/resilience"
	"github.com/pluginagentmarketplace/custom-plugin-backend-sub002/pkg/schema"
	rtesting "github.com/pluginagentmarketplace/custom-plugin-backend-sub002/pkg/testing"
)

func fastRetry(maxAttempts int) *resilience.RetryPolicy {
	policy := resilience.DefaultRetryPolicy().
		WithMaxAttempts(maxAttempts).
		WithBackoff(resilience.BackoffFixed).
		WithInitialDelay(time.Millisecond)
	return &policy
}

func newTestDispatcher(t *testing.T, handler core.Handler, maxAttempts int) (*Dispatcher, *rtesting.CollectorSink) {
	t.Helper()
	reg := registry.New()
	err := reg.RegisterSkill(registry.SkillDefinition{
		ID:          "databases",
		Description: "Database query optimization and connection management.",
		ExitCodes:   map[string]int{"CONNECTION_ERROR": 2, "QUERY_ERROR": 3},
		Retry:       fastRetry(maxAttempts),
		Operations: []registry.OperationDefinition{
			{
				Name: "QUERY_OPTIMIZATION",
				Params: []schema.ParameterSpec{
					{Name: "query", Type: schema.TypeString, Required: true, MinLength: 5, MaxLength: 2000},
					{Name: "dialect", Type: schema.TypeEnum, Enum: []string{"postgres", "mysql", "sqlite"}},
				},
				Handler: handler,
			},
		},
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	sink := rtesting.NewCollectorSink()
	d := New(reg, WithEmitter(lifecycle.NewEmitter(sink, nil)))
	return d, sink
}

func validRequest() core.InvocationRequest {
	return core.InvocationRequest{
		SkillID:   "databases",
		Operation: "QUERY_OPTIMIZATION",
		Params:    map[string]any{"query": "SELECT * FROM users"},
	}
}

func TestDispatchSuccess(t *testing.T) {
	handler := rtesting.NewScriptedHandler().AddSuccess("optimized")
	d, sink := newTestDispatcher(t, handler, 3)

	outcome := d.Dispatch(context.Background(), validRequest())

	if !outcome.Succeeded() {
		t.Fatalf("expected success, got %+v", outcome)
	}
	if outcome.ExitCode != 0 {
		t.Errorf("expected exit 0, got %d", outcome.ExitCode)
	}
	if outcome.Result != "optimized" {
		t.Errorf("expected handler value, got %v", outcome.Result)
	}
	if outcome.Attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", outcome.Attempts)
	}
	if outcome.InvocationID == "" {
		t.Errorf("expected invocation id")
	}

	phases := sink.Phases()
	if len(phases) != 2 || phases[0] != lifecycle.PhaseInvoked || phases[1] != lifecycle.PhaseCompleted {
		t.Errorf("expected invoked then completed, got %v", phases)
	}
}

func TestDispatchMissingRequiredParam(t *testing.T) {
	handler := rtesting.NewScriptedHandler()
	d, sink := newTestDispatcher(t, handler, 3)

	outcome := d.Dispatch(context.Background(), core.InvocationRequest{
		SkillID:   "databases",
		Operation: "QUERY_OPTIMIZATION",
		Params:    map[string]any{},
	})

	if outcome.Kind != OutcomeInvalidInput {
		t.Fatalf("expected invalid input, got %v", outcome.Kind)
	}
	if outcome.ExitCode != 1 {
		t.Errorf("expected exit 1, got %d", outcome.ExitCode)
	}
	if handler.Calls() != 0 {
		t.Errorf("expected zero handler attempts, got %d", handler.Calls())
	}
	if len(sink.Events()) != 0 {
		t.Errorf("invalid requests must not get lifecycle events, got %v", sink.Phases())
	}
}

func TestDispatchQueryTooShort(t *testing.T) {
	handler := rtesting.NewScriptedHandler()
	d, sink := newTestDispatcher(t, handler, 3)

	outcome := d.Dispatch(context.Background(), core.InvocationRequest{
		SkillID:   "databases",
		Operation: "QUERY_OPTIMIZATION",
		Params:    map[string]any{"query": "ab"},
	})

	if outcome.Kind != OutcomeInvalidInput || outcome.ExitCode != 1 {
		t.Fatalf("expected invalid input with exit 1, got %+v", outcome)
	}
	if !strings.Contains(outcome.Detail, "too short") {
		t.Errorf("expected too-short detail, got %q", outcome.Detail)
	}
	if len(sink.Events()) != 0 {
		t.Errorf("expected no lifecycle events, got %v", sink.Phases())
	}
}

func TestDispatchUnknownOperation(t *testing.T) {
	handler := rtesting.NewScriptedHandler()
	d, sink := newTestDispatcher(t, handler, 3)

	outcome := d.Dispatch(context.Background(), core.InvocationRequest{
		SkillID:   "databases",
		Operation: "DROP_EVERYTHING",
		Params:    map[string]any{},
	})

	if outcome.Kind != OutcomeInvalidInput || outcome.ExitCode != 1 {
		t.Fatalf("expected invalid input with exit 1, got %+v", outcome)
	}
	if len(sink.Events()) != 0 {
		t.Errorf("expected no lifecycle events for unknown operation")
	}
}

func TestDispatchUnknownSkill(t *testing.T) {
	handler := rtesting.NewScriptedHandler()
	d, _ := newTestDispatcher(t, handler, 3)

	outcome := d.Dispatch(context.Background(), core.InvocationRequest{
		SkillID:   "nonexistent",
		Operation: "QUERY_OPTIMIZATION",
	})
	if outcome.Kind != OutcomeInvalidInput || outcome.ExitCode != 1 {
		t.Fatalf("expected invalid input with exit 1, got %+v", outcome)
	}
}

func TestDispatchUndeclaredParameter(t *testing.T) {
	handler := rtesting.NewScriptedHandler()
	d, _ := newTestDispatcher(t, handler, 3)

	req := validRequest()
	req.Params["verbose"] = true
	outcome := d.Dispatch(context.Background(), req)

	if outcome.Kind != OutcomeInvalidInput {
		t.Fatalf("expected closed-world rejection, got %+v", outcome)
	}
	if handler.Calls() != 0 {
		t.Errorf("expected zero handler attempts")
	}
}

func TestDispatchRetryThenSuccess(t *testing.T) {
	handler := rtesting.NewScriptedHandler().
		AddRetryableFailure("transient").
		AddRetryableFailure("transient").
		AddSuccess("done")
	d, sink := newTestDispatcher(t, handler, 3)

	outcome := d.Dispatch(context.Background(), validRequest())

	if !outcome.Succeeded() || outcome.ExitCode != 0 {
		t.Fatalf("expected success on third attempt, got %+v", outcome)
	}
	if handler.Calls() != 3 {
		t.Errorf("expected exactly 3 handler invocations, got %d", handler.Calls())
	}
	if outcome.Attempts != 3 {
		t.Errorf("expected 3 attempts reported, got %d", outcome.Attempts)
	}
	phases := sink.Phases()
	if len(phases) != 2 || phases[1] != lifecycle.PhaseCompleted {
		t.Errorf("expected exactly one invoked and one completed, got %v", phases)
	}
}

func TestDispatchRetryExhausted(t *testing.T) {
	handler := rtesting.NewScriptedHandler().
		AddRetryableFailure("down").
		AddRetryableFailure("down").
		AddRetryableFailure("down").
		AddRetryableFailure("down")
	d, sink := newTestDispatcher(t, handler, 3)

	outcome := d.Dispatch(context.Background(), validRequest())

	if outcome.Kind != OutcomeOperationFailed {
		t.Fatalf("expected operation failed, got %+v", outcome)
	}
	if outcome.ExitCode != 2 {
		t.Errorf("expected default failure slot 2, got %d", outcome.ExitCode)
	}
	if handler.Calls() != 3 {
		t.Errorf("retry bound violated: expected 3 invocations, got %d", handler.Calls())
	}
	phases := sink.Phases()
	if len(phases) != 2 || phases[1] != lifecycle.PhaseFailed {
		t.Errorf("expected exactly one invoked and one failed, got %v", phases)
	}
}

func TestDispatchFailureClassExitCode(t *testing.T) {
	handler := rtesting.NewScriptedHandler().
		AddResult(core.TerminalFailure("bad query plan", nil).WithClass("QUERY_ERROR"))
	d, _ := newTestDispatcher(t, handler, 3)

	outcome := d.Dispatch(context.Background(), validRequest())

	if outcome.Kind != OutcomeOperationFailed {
		t.Fatalf("expected operation failed, got %+v", outcome)
	}
	if outcome.ExitCode != 3 {
		t.Errorf("expected skill-declared exit 3 for QUERY_ERROR, got %d", outcome.ExitCode)
	}
}

func TestDispatchSecurityIssueShortCircuits(t *testing.T) {
	handler := rtesting.NewScriptedHandler().
		AddResult(core.TerminalFailure("credential found in query", nil).WithClass(SecurityIssueClass))
	d, sink := newTestDispatcher(t, handler, 5)

	outcome := d.Dispatch(context.Background(), validRequest())

	if outcome.Kind != OutcomeSecurityIssue {
		t.Fatalf("expected security issue, got %+v", outcome)
	}
	if handler.Calls() != 1 {
		t.Errorf("terminal failures must not be retried, got %d attempts", handler.Calls())
	}
	// Security failures still emit a failed event for audit.
	phases := sink.Phases()
	if len(phases) != 2 || phases[1] != lifecycle.PhaseFailed {
		t.Errorf("expected invoked then failed, got %v", phases)
	}
}

func TestDispatchCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	handler := core.HandlerFunc(func(_ context.Context, _ map[string]any) core.Result {
		cancel()
		return core.RetryableFailure("transient", nil)
	})

	reg := registry.New()
	slow := resilience.DefaultRetryPolicy().WithMaxAttempts(5).WithInitialDelay(time.Hour)
	err := reg.RegisterSkill(registry.SkillDefinition{
		ID:          "databases",
		Description: "Database query optimization and connection management.",
		Retry:       &slow,
		Operations: []registry.OperationDefinition{
			{Name: "QUERY_OPTIMIZATION", Handler: handler},
		},
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	sink := rtesting.NewCollectorSink()
	d := New(reg, WithEmitter(lifecycle.NewEmitter(sink, nil)))

	outcome := d.Dispatch(ctx, core.InvocationRequest{
		SkillID:   "databases",
		Operation: "QUERY_OPTIMIZATION",
	})

	if outcome.Kind != OutcomeCancelled {
		t.Fatalf("expected cancelled outcome, got %+v", outcome)
	}
	if outcome.ExitCode != 130 {
		t.Errorf("expected exit 130, got %d", outcome.ExitCode)
	}
	if outcome.Detail != "cancelled" {
		t.Errorf("expected cancelled detail, got %q", outcome.Detail)
	}
	phases := sink.Phases()
	if len(phases) != 2 || phases[1] != lifecycle.PhaseFailed {
		t.Errorf("expected invoked then failed for audit, got %v", phases)
	}
}

func TestDispatchSinkFailureDoesNotAffectOutcome(t *testing.T) {
	handler := rtesting.NewScriptedHandler().AddSuccess("ok")
	d, sink := newTestDispatcher(t, handler, 3)
	sink.FailWith(errors.New("sink down"))

	outcome := d.Dispatch(context.Background(), validRequest())
	if !outcome.Succeeded() {
		t.Fatalf("emission failures must not affect the invocation, got %+v", outcome)
	}
}

func TestDispatchUnboundHandler(t *testing.T) {
	reg := registry.New()
	err := reg.RegisterSkill(registry.SkillDefinition{
		ID:          "security",
		Description: "Security audit operations.",
		Operations:  []registry.OperationDefinition{{Name: "AUDIT"}},
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	sink := rtesting.NewCollectorSink()
	d := New(reg, WithEmitter(lifecycle.NewEmitter(sink, nil)))

	outcome := d.Dispatch(context.Background(), core.InvocationRequest{
		SkillID:   "security",
		Operation: "AUDIT",
	})
	if outcome.Kind != OutcomeOperationFailed {
		t.Fatalf("expected operation failed for unbound handler, got %+v", outcome)
	}
	if len(sink.Events()) != 0 {
		t.Errorf("unbound operations must not emit lifecycle events")
	}
}

func TestDispatchConcurrentLifecyclePairing(t *testing.T) {
	handler := core.HandlerFunc(func(_ context.Context, _ map[string]any) core.Result {
		return core.Success("ok")
	})
	d, sink := newTestDispatcher(t, handler, 3)

	const n = 10
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.Dispatch(context.Background(), validRequest())
		}()
	}
	wg.Wait()

	events := sink.Events()
	if len(events) != 2*n {
		t.Fatalf("expected %d events, got %d", 2*n, len(events))
	}
	perInvocation := make(map[string][]lifecycle.Phase)
	for _, event := range events {
		perInvocation[event.InvocationID] = append(perInvocation[event.InvocationID], event.Phase)
	}
	if len(perInvocation) != n {
		t.Fatalf("expected %d distinct invocations, got %d", n, len(perInvocation))
	}
	for id, phases := range perInvocation {
		if len(phases) != 2 || phases[0] != lifecycle.PhaseInvoked || phases[1] != lifecycle.PhaseCompleted {
			t.Errorf("invocation %s: expected invoked then completed, got %v", id, phases)
		}
	}
}
