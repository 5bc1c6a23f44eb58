package lifecycle

import (
	"context"
	"log/slog"
)

// Emitter delivers events to a sink, fire-and-forget. Sink errors and
// panics are logged locally and never propagate to the invocation the
// event describes.
type Emitter struct {
	sink   Sink
	logger *slog.Logger
}

// NewEmitter creates an emitter for the given sink. A nil sink discards
// events; a nil logger falls back to slog.Default.
func NewEmitter(sink Sink, logger *slog.Logger) *Emitter {
	if sink == nil {
		sink = NoopSink{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Emitter{sink: sink, logger: logger}
}

// Emit writes the event to the sink. Observability must not affect
// correctness: failures are swallowed after local logging.
func (e *Emitter) Emit(ctx context.Context, event Event) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.WarnContext(ctx, "lifecycle sink panicked",
				slog.Any("panic", r),
				slog.String("invocation_id", event.InvocationID),
				slog.String("phase", string(event.Phase)))
		}
	}()
	if err := e.sink.Write(ctx, event); err != nil {
		e.logger.WarnContext(ctx, "lifecycle sink write failed",
			slog.Any("error", err),
			slog.String("invocation_id", event.InvocationID),
			slog.String("phase", string(event.Phase)))
	}
}
