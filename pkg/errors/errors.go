// SPDX-License-Identifier: Apache-2.0

// Package errors provides typed error handling for the skill-invocation
// runtime. Every error crossing the dispatch boundary carries a code from
// the taxonomy below; the dispatcher translates codes into exit codes.
package errors

import (
	"encoding/json"
	"fmt"
)

// ErrorCode classifies runtime errors for dispatch, retry, and monitoring.
type ErrorCode string

const (
	// CodeInvalidInput indicates the request violated a parameter schema
	// or was otherwise malformed.
	CodeInvalidInput ErrorCode = "INVALID_INPUT"

	// CodeNotFound indicates the skill or operation is not registered.
	CodeNotFound ErrorCode = "NOT_FOUND"

	// CodeOperationFailed indicates a handler exhausted its retry budget.
	CodeOperationFailed ErrorCode = "OPERATION_FAILED"

	// CodeSecurityIssue indicates a handler reported a security violation.
	CodeSecurityIssue ErrorCode = "SECURITY_ISSUE"

	// CodeTimeout indicates an operation exceeded its time limit.
	CodeTimeout ErrorCode = "TIMEOUT"

	// CodeCancelled indicates the caller cancelled the invocation.
	CodeCancelled ErrorCode = "CANCELLED"

	// CodeInternal indicates an internal runtime error.
	CodeInternal ErrorCode = "INTERNAL_ERROR"
)

// Fixed exit-code slots shared by every skill. Codes >= ExitOperationFailure
// may be redeclared per skill with domain-specific labels.
const (
	ExitSuccess          = 0
	ExitInvalidInput     = 1
	ExitOperationFailure = 2
	ExitCancelled        = 130
)

// InvocationError is a typed error with context for observability.
// It implements the error interface and can be unwrapped with errors.As().
type InvocationError struct {
	Code        ErrorCode
	Message     string
	Err         error
	Context     map[string]any
	Recoverable bool
	ExitCode    int
}

// Error implements the error interface.
func (e *InvocationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap implements errors.Unwrap for error chain traversal.
func (e *InvocationError) Unwrap() error {
	return e.Err
}

// MarshalJSON implements json.Marshaler for structured logging.
func (e *InvocationError) MarshalJSON() ([]byte, error) {
	type Alias InvocationError
	return json.Marshal(&struct {
		Message     string `json:"message"`
		Code        string `json:"code"`
		Err         string `json:"error,omitempty"`
		Recoverable bool   `json:"recoverable"`
		*Alias
	}{
		Message:     e.Error(),
		Code:        string(e.Code),
		Err:         fmt.Sprintf("%v", e.Err),
		Recoverable: e.Recoverable,
		Alias:       (*Alias)(e),
	})
}

// New creates a new InvocationError with the given code, message, and cause.
func New(code ErrorCode, msg string, cause error) *InvocationError {
	return &InvocationError{
		Code:     code,
		Message:  msg,
		Err:      cause,
		Context:  make(map[string]any),
		ExitCode: codeToExitCode(code),
	}
}

// WithContext adds a key-value pair to the error context.
// Returns the error for method chaining.
func (e *InvocationError) WithContext(key string, value any) *InvocationError {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// WithRecoverable sets whether the error can be retried.
// Returns the error for method chaining.
func (e *InvocationError) WithRecoverable(recoverable bool) *InvocationError {
	e.Recoverable = recoverable
	return e
}

// WithExitCode overrides the exit code, for skill-declared failure classes.
// Returns the error for method chaining.
func (e *InvocationError) WithExitCode(code int) *InvocationError {
	e.ExitCode = code
	return e
}

// AsInvocationError attempts to convert an error to an InvocationError.
// Returns the error unchanged if it is one, or wraps it as internal.
func AsInvocationError(err error) *InvocationError {
	if err == nil {
		return nil
	}
	if ie, ok := err.(*InvocationError); ok {
		return ie
	}
	return New(CodeInternal, "wrapped error", err)
}

// codeToExitCode maps error codes to the fixed exit-code slots.
func codeToExitCode(code ErrorCode) int {
	switch code {
	case CodeInvalidInput, CodeNotFound:
		return ExitInvalidInput
	case CodeCancelled:
		return ExitCancelled
	default:
		return ExitOperationFailure
	}
}
