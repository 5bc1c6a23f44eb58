// SPDX-License-Identifier: Apache-2.0

package schema

import (
	"strings"
	"testing"

	"github.com/pluginagentmarketplace/custom-plugin-backend-sub002/pkg/errors"
)

func querySpecs() []ParameterSpec {
	return []ParameterSpec{
		{Name: "query", Type: TypeString, Required: true, MinLength: 5, MaxLength: 2000},
		{Name: "limit", Type: TypeInteger},
		{Name: "dialect", Type: TypeEnum, Enum: []string{"postgres", "mysql", "sqlite"}},
	}
}

func TestValidateOk(t *testing.T) {
	params := map[string]any{
		"query":   "SELECT * FROM users",
		"limit":   float64(10),
		"dialect": "postgres",
	}
	if err := Validate(params, querySpecs()); err != nil {
		t.Fatalf("expected valid params, got %v", err)
	}
}

func TestValidateMissingRequired(t *testing.T) {
	err := Validate(map[string]any{}, querySpecs())
	if err == nil {
		t.Fatalf("expected error for missing required parameter")
	}
	ie := errors.AsInvocationError(err)
	if ie.Code != errors.CodeInvalidInput {
		t.Errorf("expected INVALID_INPUT, got %v", ie.Code)
	}
	if !strings.Contains(ie.Message, "query") {
		t.Errorf("expected message to name the parameter, got %q", ie.Message)
	}
}

func TestValidateTooShort(t *testing.T) {
	err := Validate(map[string]any{"query": "ab"}, querySpecs())
	if err == nil {
		t.Fatalf("expected error for short string")
	}
	if !strings.Contains(err.Error(), "too short") {
		t.Errorf("expected too-short message, got %v", err)
	}
}

func TestValidateTooLong(t *testing.T) {
	specs := []ParameterSpec{{Name: "name", Type: TypeString, MaxLength: 3}}
	err := Validate(map[string]any{"name": "abcd"}, specs)
	if err == nil {
		t.Fatalf("expected error for long string")
	}
	if !strings.Contains(err.Error(), "too long") {
		t.Errorf("expected too-long message, got %v", err)
	}
}

func TestValidateRuneLength(t *testing.T) {
	// Length bounds count runes, not bytes.
	specs := []ParameterSpec{{Name: "name", Type: TypeString, MaxLength: 4}}
	if err := Validate(map[string]any{"name": "héll"}, specs); err != nil {
		t.Fatalf("expected 5-byte 4-rune string to pass, got %v", err)
	}
}

func TestValidateWrongType(t *testing.T) {
	err := Validate(map[string]any{"query": "valid query", "limit": "ten"}, querySpecs())
	if err == nil {
		t.Fatalf("expected error for non-integer limit")
	}
	if !strings.Contains(err.Error(), "integer") {
		t.Errorf("expected integer message, got %v", err)
	}
}

func TestValidateFractionalInteger(t *testing.T) {
	err := Validate(map[string]any{"query": "valid query", "limit": 1.5}, querySpecs())
	if err == nil {
		t.Fatalf("expected error for fractional number")
	}
}

func TestValidateEnum(t *testing.T) {
	err := Validate(map[string]any{"query": "valid query", "dialect": "oracle"}, querySpecs())
	if err == nil {
		t.Fatalf("expected error for enum violation")
	}
	if !strings.Contains(err.Error(), "one of") {
		t.Errorf("expected enum message, got %v", err)
	}
}

func TestValidateUnknownParameter(t *testing.T) {
	err := Validate(map[string]any{"query": "valid query", "verbose": true}, querySpecs())
	if err == nil {
		t.Fatalf("expected error for undeclared parameter")
	}
	if !strings.Contains(err.Error(), "unknown parameter") {
		t.Errorf("expected unknown-parameter message, got %v", err)
	}
}

func TestValidateOptionalAbsent(t *testing.T) {
	if err := Validate(map[string]any{"query": "valid query"}, querySpecs()); err != nil {
		t.Fatalf("optional parameters may be absent, got %v", err)
	}
}

func TestSpecCheck(t *testing.T) {
	bad := []ParameterSpec{
		{Name: "", Type: TypeString},
		{Name: "mode", Type: TypeEnum},
		{Name: "q", Type: TypeString, MinLength: 10, MaxLength: 5},
		{Name: "x", Type: "boolean"},
	}
	for i, spec := range bad {
		if err := spec.Check(); err == nil {
			t.Errorf("case %d: expected spec check to fail", i)
		}
	}

	good := ParameterSpec{Name: "mode", Type: TypeEnum, Enum: []string{"fast", "slow"}}
	if err := good.Check(); err != nil {
		t.Errorf("expected valid spec, got %v", err)
	}
}
