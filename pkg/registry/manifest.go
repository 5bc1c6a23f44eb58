// SPDX-License-Identifier: Apache-2.0

package registry

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"gopkg.in/yaml.v3"

	"github.com/pluginagentmarketplace/custom-plugin-backend-sub002/pkg/resilience"
	"github.com/pluginagentmarketplace/custom-plugin-backend-sub002/pkg/schema"
)

// Skills are declared in SKILL.md documents: YAML frontmatter carrying the
// invocation contract, followed by free-form instructions. The frontmatter
// is parsed once at load time into immutable definitions; the body is
// payload for humans, not mechanism.

const (
	maxNameLen        = 64
	maxDescriptionLen = 1024
)

var namePattern = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

type frontmatter struct {
	Name        string            `yaml:"name"`
	Description string            `yaml:"description"`
	License     string            `yaml:"license"`
	Metadata    map[string]string `yaml:"metadata"`
	Retry       *retryBlock       `yaml:"retry"`
	ExitCodes   map[string]int    `yaml:"exit_codes"`
	Operations  []operationBlock  `yaml:"operations"`
}

type retryBlock struct {
	MaxAttempts    int    `yaml:"max_attempts"`
	Backoff        string `yaml:"backoff"`
	InitialDelayMs int    `yaml:"initial_delay_ms"`
	MaxDelayMs     int    `yaml:"max_delay_ms"`
}

type operationBlock struct {
	Name        string                 `yaml:"name"`
	Description string                 `yaml:"description"`
	TimeoutMs   int                    `yaml:"timeout_ms"`
	Retry       *retryBlock            `yaml:"retry"`
	Params      []schema.ParameterSpec `yaml:"params"`
}

// LoadDir scans a directory for skill subdirectories containing SKILL.md
// and returns their parsed definitions. Handlers are left unbound; hosts
// attach them with Registry.BindHandler.
func LoadDir(root string) ([]SkillDefinition, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}
	var out []SkillDefinition
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		manifestPath := filepath.Join(root, entry.Name(), "SKILL.md")
		if _, err := os.Stat(manifestPath); err != nil {
			continue
		}
		def, err := LoadFile(manifestPath)
		if err != nil {
			return nil, err
		}
		out = append(out, def)
	}
	return out, nil
}

// LoadFile parses and validates a single SKILL.md manifest.
func LoadFile(path string) (SkillDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return SkillDefinition{}, err
	}
	fm, _, err := splitFrontmatter(string(data))
	if err != nil {
		return SkillDefinition{}, fmt.Errorf("%s: %w", path, err)
	}
	var parsed frontmatter
	if err := yaml.Unmarshal([]byte(fm), &parsed); err != nil {
		return SkillDefinition{}, fmt.Errorf("%s: parse frontmatter: %w", path, err)
	}

	def, err := buildDefinition(parsed)
	if err != nil {
		return SkillDefinition{}, fmt.Errorf("%s: %w", path, err)
	}
	dirName := filepath.Base(filepath.Dir(path))
	if dirName != def.ID {
		return SkillDefinition{}, fmt.Errorf("%s: name %q must match directory name %q", path, def.ID, dirName)
	}
	return def, nil
}

// LoadIntoRegistry loads every manifest under root and registers it.
func LoadIntoRegistry(root string, reg *Registry) error {
	defs, err := LoadDir(root)
	if err != nil {
		return err
	}
	for _, def := range defs {
		if err := reg.RegisterSkill(def); err != nil {
			return err
		}
	}
	return nil
}

func buildDefinition(parsed frontmatter) (SkillDefinition, error) {
	desc := strings.TrimSpace(parsed.Description)
	if desc == "" {
		return SkillDefinition{}, errors.New("description is required")
	}
	if utf8.RuneCountInString(desc) > maxDescriptionLen {
		return SkillDefinition{}, fmt.Errorf("description exceeds %d characters", maxDescriptionLen)
	}

	def := SkillDefinition{
		ID:          strings.TrimSpace(parsed.Name),
		Description: desc,
		Metadata:    parsed.Metadata,
		ExitCodes:   parsed.ExitCodes,
	}
	if parsed.Retry != nil {
		policy, err := parsed.Retry.toPolicy()
		if err != nil {
			return SkillDefinition{}, err
		}
		def.Retry = &policy
	}

	for _, op := range parsed.Operations {
		opDef := OperationDefinition{
			Name:        strings.TrimSpace(op.Name),
			Description: strings.TrimSpace(op.Description),
			Params:      op.Params,
		}
		if op.Retry != nil {
			policy, err := op.Retry.toPolicy()
			if err != nil {
				return SkillDefinition{}, fmt.Errorf("operation %q: %w", op.Name, err)
			}
			opDef.Retry = &policy
		}
		if op.TimeoutMs > 0 {
			base := opDef.Retry
			if base == nil {
				if def.Retry != nil {
					policy := *def.Retry
					base = &policy
				} else {
					policy := resilience.DefaultRetryPolicy()
					base = &policy
				}
			}
			policy := base.WithAttemptTimeout(time.Duration(op.TimeoutMs) * time.Millisecond)
			opDef.Retry = &policy
		}
		def.Operations = append(def.Operations, opDef)
	}

	// checkSkillDefinition runs again at registration; running it here
	// makes `skillrun validate` useful without a registry.
	if err := checkSkillDefinition(def); err != nil {
		return SkillDefinition{}, err
	}
	return def, nil
}

func (b retryBlock) toPolicy() (resilience.RetryPolicy, error) {
	policy := resilience.RetryPolicy{
		MaxAttempts:  b.MaxAttempts,
		Backoff:      resilience.BackoffKind(b.Backoff),
		InitialDelay: time.Duration(b.InitialDelayMs) * time.Millisecond,
		MaxDelay:     time.Duration(b.MaxDelayMs) * time.Millisecond,
	}
	if b.Backoff == "" {
		policy.Backoff = resilience.BackoffExponential
	}
	if err := policy.Check(); err != nil {
		return resilience.RetryPolicy{}, err
	}
	return policy, nil
}

func splitFrontmatter(content string) (string, string, error) {
	trimmed := strings.TrimSpace(content)
	if !strings.HasPrefix(trimmed, "---") {
		return "", "", errors.New("missing frontmatter")
	}
	parts := strings.SplitN(trimmed, "---", 3)
	if len(parts) < 3 {
		return "", "", errors.New("invalid frontmatter")
	}
	return strings.TrimSpace(parts[1]), strings.TrimSpace(parts[2]), nil
}

func checkSkillName(name string) error {
	if strings.TrimSpace(name) == "" {
		return errors.New("skill name is required")
	}
	if utf8.RuneCountInString(name) > maxNameLen {
		return fmt.Errorf("skill name exceeds %d characters", maxNameLen)
	}
	if !namePattern.MatchString(name) {
		return fmt.Errorf("skill name must match %s", namePattern.String())
	}
	return nil
}
