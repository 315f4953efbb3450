// Package playbook loads and validates playbook definitions from YAML
// files and reports when a file in the daemon's playbook directory
// changes on disk; it does not write definitions to the Store.
package playbook

import (
	"fmt"

	"github.com/elemental/daemon/pkg/types"
)

// Definition is a playbook as it exists on disk, before it is ingested
// into the Store as a Playbook element.
type Definition struct {
	Name        string     `yaml:"name"`
	Description string     `yaml:"description,omitempty"`
	Variables   []Variable `yaml:"variables,omitempty"`
	Steps       []Step     `yaml:"steps"`

	// Source records where this definition was loaded from, for logging.
	Source string `yaml:"-"`
}

// Variable describes one templated input to a playbook.
type Variable struct {
	Name     string `yaml:"name"`
	Type     string `yaml:"type"` // string | number | boolean
	Required bool   `yaml:"required,omitempty"`
	Default  any    `yaml:"default,omitempty"`
	Enum     []any  `yaml:"enum,omitempty"`
}

// Step describes one step-template within a playbook.
type Step struct {
	ID         string   `yaml:"id"`
	Title      string   `yaml:"title"`
	DependsOn  []string `yaml:"dependsOn,omitempty"`
	Condition  string   `yaml:"condition,omitempty"`
	Priority   int      `yaml:"priority,omitempty"`
	Complexity int      `yaml:"complexity,omitempty"`
}

// ToFields converts a disk definition into the PlaybookFields shape the
// Store persists.
func (d *Definition) ToFields() *types.PlaybookFields {
	vars := make([]types.PlaybookVariable, len(d.Variables))
	for i, v := range d.Variables {
		vars[i] = types.PlaybookVariable{
			Name: v.Name, Type: v.Type, Required: v.Required, Default: v.Default, Enum: v.Enum,
		}
	}
	steps := make([]types.PlaybookStep, len(d.Steps))
	for i, s := range d.Steps {
		steps[i] = types.PlaybookStep{
			ID: s.ID, Title: s.Title, DependsOn: s.DependsOn, Condition: s.Condition,
			Priority: s.Priority, Complexity: s.Complexity,
		}
	}
	return &types.PlaybookFields{Name: d.Name, Steps: steps, Variables: vars}
}

// FromFields rebuilds a Definition from a playbook element's persisted
// fields, used when pour resolves its playbook by element id rather than
// by loading a file from disk through Loader.
func FromFields(name string, f *types.PlaybookFields) *Definition {
	vars := make([]Variable, len(f.Variables))
	for i, v := range f.Variables {
		vars[i] = Variable{Name: v.Name, Type: v.Type, Required: v.Required, Default: v.Default, Enum: v.Enum}
	}
	steps := make([]Step, len(f.Steps))
	for i, s := range f.Steps {
		steps[i] = Step{
			ID: s.ID, Title: s.Title, DependsOn: s.DependsOn, Condition: s.Condition,
			Priority: s.Priority, Complexity: s.Complexity,
		}
	}
	return &Definition{Name: name, Variables: vars, Steps: steps}
}

var validVariableTypes = map[string]bool{"string": true, "number": true, "boolean": true}

// Validate checks d's structural invariants: required fields present,
// step ids unique, dependsOn references resolvable, variable types known.
func Validate(d *Definition) error {
	if d.Name == "" {
		return &ValidationError{Field: "name", Message: "playbook name is required"}
	}
	if len(d.Steps) == 0 {
		return &ValidationError{Field: "steps", Message: "playbook must have at least one step"}
	}

	// seen accumulates step ids in declaration order, so a dependsOn
	// entry can only resolve to a step that appears earlier — forward
	// (and self) references are rejected.
	seen := make(map[string]bool, len(d.Steps))
	for _, s := range d.Steps {
		if s.ID == "" {
			return &ValidationError{Field: "steps", Message: "step id is required"}
		}
		if seen[s.ID] {
			return &ValidationError{Field: "steps", Message: fmt.Sprintf("duplicate step id %q", s.ID)}
		}
		for _, dep := range s.DependsOn {
			if !seen[dep] {
				return &ValidationError{Field: "steps", Message: fmt.Sprintf("step %q depends on %q, which is not an earlier step", s.ID, dep)}
			}
		}
		seen[s.ID] = true
	}

	for _, v := range d.Variables {
		if v.Name == "" {
			return &ValidationError{Field: "variables", Message: "variable name is required"}
		}
		if !validVariableTypes[v.Type] {
			return &ValidationError{Field: "variables", Message: fmt.Sprintf("variable %q: invalid type %q", v.Name, v.Type)}
		}
	}

	return nil
}

// NotFoundError is returned when a named playbook cannot be located.
type NotFoundError struct{ Name string }

func (e *NotFoundError) Error() string { return fmt.Sprintf("playbook not found: %q", e.Name) }

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	_, ok := err.(*NotFoundError)
	return ok
}

// ParseError wraps a YAML unmarshal failure.
type ParseError struct {
	Name string
	Err  error
}

func (e *ParseError) Error() string { return fmt.Sprintf("failed to parse playbook %q: %v", e.Name, e.Err) }
func (e *ParseError) Unwrap() error { return e.Err }

// ValidationError is returned when a playbook definition fails Validate.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("playbook validation failed: %s: %s", e.Field, e.Message)
}
