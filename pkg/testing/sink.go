// SPDX-License-Identifier: Apache-2.0

package testing

import (
	"context"
	"sync"

	"github.com/pluginagentmarketplace/custom-plugin-backend-sub002/pkg/lifecycle"
)

// CollectorSink records lifecycle events for assertions. Safe for
// concurrent writers.
type CollectorSink struct {
	mu     sync.Mutex
	events []lifecycle.Event
	err    error
}

// NewCollectorSink creates an empty collector.
func NewCollectorSink() *CollectorSink {
	return &CollectorSink{}
}

// FailWith makes every subsequent Write return err, for testing that
// emission failures never propagate.
func (s *CollectorSink) FailWith(err error) *CollectorSink {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
	return s
}

// Write implements lifecycle.Sink.
func (s *CollectorSink) Write(_ context.Context, event lifecycle.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, event)
	return nil
}

// Events returns a copy of all recorded events.
func (s *CollectorSink) Events() []lifecycle.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]lifecycle.Event(nil), s.events...)
}

// Phases returns the recorded phases in order.
func (s *CollectorSink) Phases() []lifecycle.Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]lifecycle.Phase, len(s.events))
	for i, event := range s.events {
		out[i] = event.Phase
	}
	return out
}

// Reset discards recorded events.
func (s *CollectorSink) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = nil
}
