package dispatch

// OutcomeKind is the terminal classification of one invocation.
type OutcomeKind string

const (
	OutcomeSuccess         OutcomeKind = "success"
	OutcomeInvalidInput    OutcomeKind = "invalid_input"
	OutcomeOperationFailed OutcomeKind = "operation_failed"
	OutcomeSecurityIssue   OutcomeKind = "security_issue"
	OutcomeCancelled       OutcomeKind = "cancelled"
)

// InvocationOutcome is produced exactly once per request: the terminal
// classification, a human-readable detail, the handler value on success,
// and the exit code the caller reports.
type InvocationOutcome struct {
	InvocationID string      `json:"invocation_id"`
	Kind         OutcomeKind `json:"outcome"`
	Detail       string      `json:"detail,omitempty"`
	Result       any         `json:"result,omitempty"`
	ExitCode     int         `json:"exit_code"`
	Attempts     int         `json:"attempts"`
}

// Succeeded reports whether the invocation completed successfully.
func (o InvocationOutcome) Succeeded() bool {
	return o.Kind == OutcomeSuccess
}
