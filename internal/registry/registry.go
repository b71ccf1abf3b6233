// Package registry manages tool schemas and their static safety checks.
// Registration is the only way a tool becomes callable; the registry is
// mutated during setup only and treated as read-only for the rest of the
// session.
package registry

import (
	"context"
	"fmt"
	"regexp"
	"time"
)

// FieldType is the declared type of a schema field.
type FieldType string

const (
	TypeString FieldType = "string"
	TypeInt    FieldType = "int"
	TypeFloat  FieldType = "float"
	TypeBool   FieldType = "bool"
	TypeList   FieldType = "list"
	TypeMap    FieldType = "map"
)

// FieldSpec is one statically declared field constraint. Validation is a
// straightforward field-by-field check, not a generic reflective validator.
type FieldSpec struct {
	Name      string    `yaml:"name"`
	Type      FieldType `yaml:"type"`
	Required  bool      `yaml:"required"`
	MinLength int       `yaml:"min_length,omitempty"`
	MaxLength int       `yaml:"max_length,omitempty"`
	Pattern   string    `yaml:"pattern,omitempty"`

	compiled *regexp.Regexp
}

// Func executes a tool call. It returns the result text plus a structured
// payload. Implementations should honor ctx's deadline; one that does not
// is still accounted as timed out but cannot be preempted.
type Func func(ctx context.Context, args map[string]any) (string, map[string]any, error)

// Schema describes one registered tool.
type Schema struct {
	Name        string        `yaml:"name"`
	Description string        `yaml:"description"`
	Input       []FieldSpec   `yaml:"input,omitempty"`
	Output      []FieldSpec   `yaml:"output,omitempty"`
	Timeout     time.Duration `yaml:"timeout,omitempty"`
	MaxRetries  int           `yaml:"max_retries,omitempty"`
}

var toolNameRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Registry holds tool schemas and their executors. Not safe for concurrent
// registration; register everything before the session starts.
type Registry struct {
	schemas map[string]Schema
	funcs   map[string]Func
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		schemas: make(map[string]Schema),
		funcs:   make(map[string]Func),
	}
}

// Register adds a tool schema with its executor. Duplicate names fail, and
// the first registration stays active.
func (r *Registry) Register(schema Schema, fn Func) error {
	if !toolNameRe.MatchString(schema.Name) {
		return fmt.Errorf("invalid tool name %q", schema.Name)
	}
	if fn == nil {
		return fmt.Errorf("tool %s: executor func is nil", schema.Name)
	}
	if _, exists := r.schemas[schema.Name]; exists {
		return fmt.Errorf("%q: %w", schema.Name, ErrDuplicateTool)
	}
	for i := range schema.Input {
		if err := compileFieldPattern(&schema.Input[i]); err != nil {
			return fmt.Errorf("tool %s: %w", schema.Name, err)
		}
	}
	for i := range schema.Output {
		if err := compileFieldPattern(&schema.Output[i]); err != nil {
			return fmt.Errorf("tool %s: %w", schema.Name, err)
		}
	}
	r.schemas[schema.Name] = schema
	r.funcs[schema.Name] = fn
	return nil
}

func compileFieldPattern(f *FieldSpec) error {
	if f.Pattern == "" {
		return nil
	}
	re, err := regexp.Compile(f.Pattern)
	if err != nil {
		return fmt.Errorf("field %q: bad pattern: %w", f.Name, err)
	}
	f.compiled = re
	return nil
}

// Lookup returns the schema and executor for a registered tool.
func (r *Registry) Lookup(name string) (Schema, Func, error) {
	schema, ok := r.schemas[name]
	if !ok {
		return Schema{}, nil, fmt.Errorf("%q: %w", name, ErrUnknownTool)
	}
	return schema, r.funcs[name], nil
}

// Has reports whether a tool is registered.
func (r *Registry) Has(name string) bool {
	_, ok := r.schemas[name]
	return ok
}

// Names lists all registered tool names.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.schemas))
	for name := range r.schemas {
		out = append(out, name)
	}
	return out
}

// ValidateInput checks args against the tool's input field constraints,
// then scans every string-typed value for dangerous patterns.
func (r *Registry) ValidateInput(name string, args map[string]any) error {
	schema, ok := r.schemas[name]
	if !ok {
		return fmt.Errorf("%q: %w", name, ErrUnknownTool)
	}
	for _, field := range schema.Input {
		if err := checkField(name, field, args, false); err != nil {
			return err
		}
	}
	return scanArgs(name, args)
}

// ValidateOutput checks a result payload against the tool's output field
// constraints. A tool with no declared output accepts anything.
func (r *Registry) ValidateOutput(name string, payload map[string]any) error {
	schema, ok := r.schemas[name]
	if !ok {
		return fmt.Errorf("%q: %w", name, ErrUnknownTool)
	}
	if len(schema.Output) == 0 {
		return nil
	}
	for _, field := range schema.Output {
		if err := checkField(name, field, payload, true); err != nil {
			return err
		}
	}
	return nil
}

func checkField(tool string, field FieldSpec, values map[string]any, output bool) error {
	fail := func(reason string) error {
		if output {
			return &OutputError{Tool: tool, Field: field.Name, Reason: reason}
		}
		return &SchemaError{Tool: tool, Field: field.Name, Reason: reason}
	}

	val, present := values[field.Name]
	if !present {
		if field.Required {
			return fail("required field missing")
		}
		return nil
	}

	switch field.Type {
	case TypeString:
		s, ok := val.(string)
		if !ok {
			return fail(fmt.Sprintf("expected string, got %T", val))
		}
		if field.MinLength > 0 && len(s) < field.MinLength {
			return fail(fmt.Sprintf("length %d below minimum %d", len(s), field.MinLength))
		}
		if field.MaxLength > 0 && len(s) > field.MaxLength {
			return fail(fmt.Sprintf("length %d above maximum %d", len(s), field.MaxLength))
		}
		if field.compiled != nil && !field.compiled.MatchString(s) {
			return fail(fmt.Sprintf("value does not match %q", field.Pattern))
		}
	case TypeInt:
		switch val.(type) {
		case int, int32, int64:
		case float64:
			// JSON decodes numbers as float64; accept whole values.
			if f := val.(float64); f != float64(int64(f)) {
				return fail("expected integer, got fractional number")
			}
		default:
			return fail(fmt.Sprintf("expected int, got %T", val))
		}
	case TypeFloat:
		switch val.(type) {
		case float32, float64, int:
		default:
			return fail(fmt.Sprintf("expected float, got %T", val))
		}
	case TypeBool:
		if _, ok := val.(bool); !ok {
			return fail(fmt.Sprintf("expected bool, got %T", val))
		}
	case TypeList:
		if _, ok := val.([]any); !ok {
			return fail(fmt.Sprintf("expected list, got %T", val))
		}
	case TypeMap:
		if _, ok := val.(map[string]any); !ok {
			return fail(fmt.Sprintf("expected map, got %T", val))
		}
	}
	return nil
}
