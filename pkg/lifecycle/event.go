// Package lifecycle emits structured lifecycle events for invocations.
// Events are append-only audit records; emission never affects the
// invocation it describes.
package lifecycle

import (
	"context"
	"log/slog"
	"time"
)

// Phase identifies a lifecycle transition of one invocation.
type Phase string

const (
	PhaseInvoked   Phase = "invoked"
	PhaseCompleted Phase = "completed"
	PhaseFailed    Phase = "failed"
)

// Event captures one lifecycle phase transition. Never mutated after
// emission.
type Event struct {
	InvocationID string
	SkillID      string
	Operation    string
	Phase        Phase
	Timestamp    time.Time
	Detail       string
	Attempts     int
}

// NewEvent builds an event with a UTC timestamp.
func NewEvent(phase Phase, invocationID, skillID, operation, detail string) Event {
	return Event{
		InvocationID: invocationID,
		SkillID:      skillID,
		Operation:    operation,
		Phase:        phase,
		Timestamp:    time.Now().UTC(),
		Detail:       detail,
	}
}

// Sink consumes lifecycle events. Sinks are supplied by the host and must
// tolerate concurrent writers; each event is self-contained.
type Sink interface {
	Write(ctx context.Context, event Event) error
}

// NoopSink discards events.
type NoopSink struct{}

// Write implements Sink.
func (NoopSink) Write(_ context.Context, _ Event) error { return nil }

// SlogSink logs events through a structured logger.
type SlogSink struct {
	Logger *slog.Logger
}

// Write implements Sink.
func (s SlogSink) Write(ctx context.Context, event Event) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.InfoContext(ctx, "invocation lifecycle",
		slog.String("invocation_id", event.InvocationID),
		slog.String("skill_id", event.SkillID),
		slog.String("operation", event.Operation),
		slog.String("phase", string(event.Phase)),
		slog.Int("attempts", event.Attempts),
		slog.String("detail", event.Detail),
	)
	return nil
}
