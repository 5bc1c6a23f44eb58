// SPDX-License-Identifier: Apache-2.0

// Package telemetry provides OpenTelemetry integration and structured
// logging for the skill-invocation runtime.
package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Semantic conventions for invocation telemetry.
const (
	AttrSkillID      = "skillrun.skill.id"
	AttrOperation    = "skillrun.operation.name"
	AttrInvocationID = "skillrun.invocation.id"
	AttrOutcome      = "skillrun.invocation.outcome"
	AttrExitCode     = "skillrun.invocation.exit_code"
	AttrAttempts     = "skillrun.invocation.attempts"
	AttrFailureClass = "skillrun.invocation.failure_class"
	AttrErrorCode    = "skillrun.error.code"
	AttrRecoverable  = "skillrun.error.recoverable"
)

// InvocationAttrs builds the common attribute set for one invocation.
func InvocationAttrs(skillID, operation, outcome string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(AttrSkillID, skillID),
		attribute.String(AttrOperation, operation),
		attribute.String(AttrOutcome, outcome),
	}
}
