package core

import "context"

// ResultKind classifies the outcome of a single handler attempt.
type ResultKind string

const (
	// ResultSuccess means the attempt succeeded.
	ResultSuccess ResultKind = "success"

	// ResultRetryable means the attempt failed but may be retried.
	ResultRetryable ResultKind = "retryable"

	// ResultTerminal means the attempt failed and must not be retried,
	// e.g. a security violation.
	ResultTerminal ResultKind = "terminal"

	// ResultCancelled is produced by the retry executor when the caller's
	// context is cancelled. Handlers never return it.
	ResultCancelled ResultKind = "cancelled"
)

// Result is the tagged outcome of one handler attempt.
type Result struct {
	Kind   ResultKind
	Value  any
	Detail string
	// Class names a skill-declared failure class used for exit-code
	// mapping. Empty means the default operational-failure slot.
	Class string
	Err   error
}

// Handler is a single atomic operation, supplied by the embedding host.
// The runtime treats it as opaque: it validates input before Invoke and
// classifies the Result afterwards, nothing more.
type Handler interface {
	Invoke(ctx context.Context, params map[string]any) Result
}

// HandlerFunc adapts a plain function to the Handler interface.
type HandlerFunc func(ctx context.Context, params map[string]any) Result

// Invoke implements Handler.
func (f HandlerFunc) Invoke(ctx context.Context, params map[string]any) Result {
	return f(ctx, params)
}

// Success builds a successful Result carrying a value.
func Success(value any) Result {
	return Result{Kind: ResultSuccess, Value: value}
}

// RetryableFailure builds a failed Result eligible for another attempt.
func RetryableFailure(detail string, err error) Result {
	return Result{Kind: ResultRetryable, Detail: detail, Err: err}
}

// TerminalFailure builds a failed Result that aborts retrying immediately.
func TerminalFailure(detail string, err error) Result {
	return Result{Kind: ResultTerminal, Detail: detail, Err: err}
}

// WithClass returns a copy of the Result tagged with a failure class.
func (r Result) WithClass(class string) Result {
	r.Class = class
	return r
}
