package core

import (
	"strings"

	"github.com/pluginagentmarketplace/custom-plugin-backend-sub002/pkg/errors"
)

// InvocationRequest identifies the target skill, one of its declared
// atomic operations, and the raw parameter mapping. Requests are created
// by the caller, treated as immutable, and discarded after dispatch.
type InvocationRequest struct {
	SkillID   string
	Operation string
	Params    map[string]any
}

// ValidateShape checks the request envelope before any schema or registry
// work. Parameter values are checked against the declared schema later;
// this only rejects requests the runtime cannot route at all.
func (r InvocationRequest) ValidateShape() error {
	if strings.TrimSpace(r.SkillID) == "" {
		return errors.New(errors.CodeInvalidInput, "skill id is required", nil)
	}
	if strings.TrimSpace(r.Operation) == "" {
		return errors.New(errors.CodeInvalidInput, "operation name is required", nil)
	}
	return nil
}
