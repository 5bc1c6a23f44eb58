// SPDX-License-Identifier: Apache-2.0

// Package schema validates invocation parameters against declared
// parameter specs. Validation is closed-world: parameters not declared
// by the target operation are rejected.
package schema

import (
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/pluginagentmarketplace/custom-plugin-backend-sub002/pkg/errors"
)

// ParamType enumerates the supported parameter value types.
type ParamType string

const (
	TypeString  ParamType = "string"
	TypeInteger ParamType = "integer"
	TypeEnum    ParamType = "enum"
)

// ParameterSpec is the declared rule set for a single parameter.
// Specs are built once at registration time and read-only afterwards.
type ParameterSpec struct {
	Name      string    `yaml:"name"`
	Type      ParamType `yaml:"type"`
	Required  bool      `yaml:"required"`
	MinLength int       `yaml:"min_length"`
	MaxLength int       `yaml:"max_length"` // 0 means unbounded
	Enum      []string  `yaml:"enum"`
}

// Check verifies the spec itself is well formed. Called at registration
// time so malformed declarations surface before traffic.
func (s ParameterSpec) Check() error {
	if strings.TrimSpace(s.Name) == "" {
		return fmt.Errorf("parameter name is required")
	}
	switch s.Type {
	case TypeString:
		if s.MinLength < 0 {
			return fmt.Errorf("parameter %q: min_length must be >= 0", s.Name)
		}
		if s.MaxLength > 0 && s.MaxLength < s.MinLength {
			return fmt.Errorf("parameter %q: max_length below min_length", s.Name)
		}
	case TypeInteger:
	case TypeEnum:
		if len(s.Enum) == 0 {
			return fmt.Errorf("parameter %q: enum values are required", s.Name)
		}
	default:
		return fmt.Errorf("parameter %q: unknown type %q", s.Name, s.Type)
	}
	return nil
}

// Validate checks a raw parameter mapping against the declared specs.
// It is a pure function over its inputs: no side effects, deterministic,
// safe to call concurrently. Returns nil on success or a typed
// INVALID_INPUT error describing the first violation.
func Validate(params map[string]any, specs []ParameterSpec) error {
	declared := make(map[string]bool, len(specs))
	for _, spec := range specs {
		declared[spec.Name] = true
		value, present := params[spec.Name]
		if !present {
			if spec.Required {
				return invalid(fmt.Sprintf("missing required parameter %q", spec.Name)).
					WithContext("parameter", spec.Name)
			}
			continue
		}
		if err := checkValue(spec, value); err != nil {
			return err
		}
	}

	// Closed-world: anything not declared is rejected. Sorted so the
	// reported parameter is deterministic.
	var unknown []string
	for name := range params {
		if !declared[name] {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return invalid(fmt.Sprintf("unknown parameter %q", unknown[0])).
			WithContext("parameter", unknown[0])
	}
	return nil
}

func checkValue(spec ParameterSpec, value any) error {
	switch spec.Type {
	case TypeString:
		str, ok := value.(string)
		if !ok {
			return invalid(fmt.Sprintf("parameter %q must be a string", spec.Name)).
				WithContext("parameter", spec.Name)
		}
		length := utf8.RuneCountInString(str)
		if length < spec.MinLength {
			return invalid(fmt.Sprintf("parameter %q too short (min %d)", spec.Name, spec.MinLength)).
				WithContext("parameter", spec.Name)
		}
		if spec.MaxLength > 0 && length > spec.MaxLength {
			return invalid(fmt.Sprintf("parameter %q too long (max %d)", spec.Name, spec.MaxLength)).
				WithContext("parameter", spec.Name)
		}
	case TypeInteger:
		if _, ok := asInteger(value); !ok {
			return invalid(fmt.Sprintf("parameter %q must be an integer", spec.Name)).
				WithContext("parameter", spec.Name)
		}
	case TypeEnum:
		str, ok := value.(string)
		if !ok {
			return invalid(fmt.Sprintf("parameter %q must be a string", spec.Name)).
				WithContext("parameter", spec.Name)
		}
		for _, allowed := range spec.Enum {
			if str == allowed {
				return nil
			}
		}
		return invalid(fmt.Sprintf("parameter %q must be one of [%s]", spec.Name, strings.Join(spec.Enum, ", "))).
			WithContext("parameter", spec.Name)
	}
	return nil
}

// asInteger accepts native integer types plus float64 with an integral
// value, since JSON-decoded requests arrive with float64 numbers.
func asInteger(value any) (int64, bool) {
	switch v := value.(type) {
	case int:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case float64:
		if v == float64(int64(v)) {
			return int64(v), true
		}
	}
	return 0, false
}

func invalid(msg string) *errors.InvocationError {
	return errors.New(errors.CodeInvalidInput, msg, nil)
}
