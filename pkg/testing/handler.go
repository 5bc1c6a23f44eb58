// SPDX-License-Identifier: Apache-2.0

// Package testing provides utilities for testing skill handlers and
// dispatch behavior: scripted handlers with queued results and a
// collector sink for verifying lifecycle events.
package testing

import (
	"context"
	"sync"

	"github.com/pluginagentmarketplace/custom-plugin-backend-sub002/pkg/core"
)

// ScriptedHandler is a mock handler returning queued results in order.
// It captures every invocation for later inspection.
type ScriptedHandler struct {
	mu      sync.Mutex
	results []core.Result
	index   int
	calls   []map[string]any
}

// NewScriptedHandler creates a scripted handler with no queued results.
// An exhausted (or empty) script returns success with a nil value.
func NewScriptedHandler() *ScriptedHandler {
	return &ScriptedHandler{}
}

// AddResult queues a fully specified result.
func (h *ScriptedHandler) AddResult(result core.Result) *ScriptedHandler {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.results = append(h.results, result)
	return h
}

// AddSuccess queues a successful result carrying value.
func (h *ScriptedHandler) AddSuccess(value any) *ScriptedHandler {
	return h.AddResult(core.Success(value))
}

// AddRetryableFailure queues a retryable failure.
func (h *ScriptedHandler) AddRetryableFailure(detail string) *ScriptedHandler {
	return h.AddResult(core.RetryableFailure(detail, nil))
}

// AddTerminalFailure queues a terminal failure.
func (h *ScriptedHandler) AddTerminalFailure(detail string) *ScriptedHandler {
	return h.AddResult(core.TerminalFailure(detail, nil))
}

// Invoke implements core.Handler.
func (h *ScriptedHandler) Invoke(_ context.Context, params map[string]any) core.Result {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.calls = append(h.calls, params)
	if h.index < len(h.results) {
		result := h.results[h.index]
		h.index++
		return result
	}
	return core.Success(nil)
}

// Calls returns the number of invocations so far.
func (h *ScriptedHandler) Calls() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.calls)
}

// Params returns the parameter mapping of the i-th invocation.
func (h *ScriptedHandler) Params(i int) map[string]any {
	h.mu.Lock()
	defer h.mu.Unlock()
	if i < 0 || i >= len(h.calls) {
		return nil
	}
	return h.calls[i]
}
