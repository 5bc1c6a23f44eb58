// SPDX-License-Identifier: Apache-2.0

// Package registry maps (skill, operation) pairs to operation descriptors.
// Registration happens at load time and is checked eagerly; lookups during
// steady-state traffic only take a read lock.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/pluginagentmarketplace/custom-plugin-backend-sub002/pkg/core"
	"github.com/pluginagentmarketplace/custom-plugin-backend-sub002/pkg/errors"
	"github.com/pluginagentmarketplace/custom-plugin-backend-sub002/pkg/resilience"
	"github.com/pluginagentmarketplace/custom-plugin-backend-sub002/pkg/schema"
)

// OperationDescriptor is the resolved, immutable view of one atomic
// operation: its parameter schema, retry policy, exit-code table, and the
// handler bound to it.
type OperationDescriptor struct {
	SkillID     string
	Name        string
	Description string
	Params      []schema.ParameterSpec
	Retry       resilience.RetryPolicy
	Handler     core.Handler

	exitCodes map[string]int
}

// ExitCodeFor resolves a skill-declared failure class to its exit code.
// Unknown or empty classes fall back to the shared operational-failure
// slot.
func (d *OperationDescriptor) ExitCodeFor(class string) int {
	if code, ok := d.exitCodes[class]; ok {
		return code
	}
	return errors.ExitOperationFailure
}

// OperationDefinition declares one operation at registration time.
type OperationDefinition struct {
	Name        string
	Description string
	Params      []schema.ParameterSpec
	// Retry overrides the skill-level policy when set.
	Retry   *resilience.RetryPolicy
	Handler core.Handler
}

// SkillDefinition declares a skill and its atomic operations.
type SkillDefinition struct {
	ID          string
	Description string
	Metadata    map[string]string
	// ExitCodes maps skill-declared failure classes to exit codes >= 2.
	// Codes 0 and 1 are reserved and rejected.
	ExitCodes map[string]int
	// Retry is the skill-level default policy for operations without
	// their own. When nil, the registry default applies.
	Retry      *resilience.RetryPolicy
	Operations []OperationDefinition
}

// SkillInfo is a read-only summary of a registered skill.
type SkillInfo struct {
	ID          string
	Description string
	Operations  []string
	ExitCodes   map[string]int
}

type skillEntry struct {
	description string
	metadata    map[string]string
	exitCodes   map[string]int
	operations  map[string]*OperationDescriptor
}

// Registry holds all registered skills. Mutation (registration) is
// expected to finish before concurrent dispatch begins; a reader-writer
// lock covers hot-reload registration.
type Registry struct {
	mu           sync.RWMutex
	skills       map[string]*skillEntry
	defaultRetry resilience.RetryPolicy
}

// New creates an empty registry with the runtime default retry policy.
func New() *Registry {
	return &Registry{
		skills:       make(map[string]*skillEntry),
		defaultRetry: resilience.DefaultRetryPolicy(),
	}
}

// SetDefaultRetryPolicy replaces the registry-level default policy used
// by skills that declare none. It applies to subsequent registrations.
func (r *Registry) SetDefaultRetryPolicy(policy resilience.RetryPolicy) error {
	if err := policy.Check(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaultRetry = policy
	return nil
}

// RegisterSkill validates and registers a skill with all its operations.
// Malformed declarations and duplicate (skill, operation) pairs fail
// eagerly so configuration problems surface before traffic, and a failed
// registration leaves the registry untouched.
func (r *Registry) RegisterSkill(def SkillDefinition) error {
	if err := checkSkillDefinition(def); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.skills[def.ID]; exists {
		return fmt.Errorf("skill %q already registered", def.ID)
	}

	entry := &skillEntry{
		description: def.Description,
		metadata:    def.Metadata,
		exitCodes:   make(map[string]int, len(def.ExitCodes)),
		operations:  make(map[string]*OperationDescriptor, len(def.Operations)),
	}
	for class, code := range def.ExitCodes {
		entry.exitCodes[class] = code
	}

	skillRetry := r.defaultRetry
	if def.Retry != nil {
		skillRetry = *def.Retry
	}

	for _, op := range def.Operations {
		if _, dup := entry.operations[op.Name]; dup {
			return fmt.Errorf("skill %q: operation %q declared twice", def.ID, op.Name)
		}
		retry := skillRetry
		if op.Retry != nil {
			retry = *op.Retry
		}
		entry.operations[op.Name] = &OperationDescriptor{
			SkillID:     def.ID,
			Name:        op.Name,
			Description: op.Description,
			Params:      append([]schema.ParameterSpec(nil), op.Params...),
			Retry:       retry,
			Handler:     op.Handler,
			exitCodes:   entry.exitCodes,
		}
	}

	r.skills[def.ID] = entry
	return nil
}

// BindHandler attaches a handler to an already-registered operation. Used
// by hosts that load skill declarations from manifests and supply the
// handlers separately.
func (r *Registry) BindHandler(skillID, operation string, handler core.Handler) error {
	if handler == nil {
		return fmt.Errorf("handler is nil")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.skills[skillID]
	if !ok {
		return fmt.Errorf("unknown skill %q", skillID)
	}
	desc, ok := entry.operations[operation]
	if !ok {
		return fmt.Errorf("skill %q has no operation %q", skillID, operation)
	}
	desc.Handler = handler
	return nil
}

// Lookup resolves a (skill, operation) pair. Failures are terminal
// NOT_FOUND errors; the dispatcher maps them to InvalidInput, never
// retried.
func (r *Registry) Lookup(skillID, operation string) (*OperationDescriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entry, ok := r.skills[skillID]
	if !ok {
		return nil, errors.New(errors.CodeNotFound, fmt.Sprintf("unknown skill %q", skillID), nil).
			WithContext("skill", skillID)
	}
	desc, ok := entry.operations[operation]
	if !ok {
		return nil, errors.New(errors.CodeNotFound, fmt.Sprintf("unknown operation %q for skill %q", operation, skillID), nil).
			WithContext("skill", skillID).
			WithContext("operation", operation)
	}
	return desc, nil
}

// Replace atomically swaps the registered skill set, validating the new
// definitions with the same rules as RegisterSkill. The default retry
// policy is kept. On any failure the current set stays untouched.
// In-flight invocations keep the descriptor they resolved.
func (r *Registry) Replace(defs []SkillDefinition) error {
	r.mu.RLock()
	next := &Registry{
		skills:       make(map[string]*skillEntry, len(defs)),
		defaultRetry: r.defaultRetry,
	}
	r.mu.RUnlock()

	for _, def := range defs {
		if err := next.RegisterSkill(def); err != nil {
			return err
		}
	}

	r.mu.Lock()
	r.skills = next.skills
	r.mu.Unlock()
	return nil
}

// Skills returns a sorted summary of every registered skill.
func (r *Registry) Skills() []SkillInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]SkillInfo, 0, len(r.skills))
	for id, entry := range r.skills {
		info := SkillInfo{
			ID:          id,
			Description: entry.description,
			// Copied so callers cannot reach the map ExitCodeFor reads.
			ExitCodes: make(map[string]int, len(entry.exitCodes)),
		}
		for class, code := range entry.exitCodes {
			info.ExitCodes[class] = code
		}
		for name := range entry.operations {
			info.Operations = append(info.Operations, name)
		}
		sort.Strings(info.Operations)
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func checkSkillDefinition(def SkillDefinition) error {
	if err := checkSkillName(def.ID); err != nil {
		return err
	}
	if len(def.Operations) == 0 {
		return fmt.Errorf("skill %q declares no operations", def.ID)
	}
	for class, code := range def.ExitCodes {
		if class == "" {
			return fmt.Errorf("skill %q: exit-code class name is empty", def.ID)
		}
		if code < errors.ExitOperationFailure {
			return fmt.Errorf("skill %q: exit code %d for class %q is reserved (codes 0 and 1 are fixed)",
				def.ID, code, class)
		}
	}
	if def.Retry != nil {
		if err := def.Retry.Check(); err != nil {
			return fmt.Errorf("skill %q: %w", def.ID, err)
		}
	}
	for _, op := range def.Operations {
		if op.Name == "" {
			return fmt.Errorf("skill %q: operation name is required", def.ID)
		}
		if op.Retry != nil {
			if err := op.Retry.Check(); err != nil {
				return fmt.Errorf("skill %q operation %q: %w", def.ID, op.Name, err)
			}
		}
		for _, param := range op.Params {
			if err := param.Check(); err != nil {
				return fmt.Errorf("skill %q operation %q: %w", def.ID, op.Name, err)
			}
		}
	}
	return nil
}
