package registry

import (
	"errors"
	"fmt"
)

// Sentinel errors for registry lookups.
var (
	ErrUnknownTool   = errors.New("tool is not registered")
	ErrDuplicateTool = errors.New("tool is already registered")
)

// SchemaError reports an input payload that does not satisfy a tool's
// declared field constraints.
type SchemaError struct {
	Tool   string
	Field  string
	Reason string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("tool %s: field %q: %s", e.Tool, e.Field, e.Reason)
}

// DangerousPatternError reports an argument that matched the deny list.
type DangerousPatternError struct {
	Tool    string
	Field   string
	Pattern string
}

func (e *DangerousPatternError) Error() string {
	return fmt.Sprintf("tool %s: field %q matches denied pattern %q", e.Tool, e.Field, e.Pattern)
}

// OutputError reports a tool result that does not satisfy the tool's
// declared output constraints.
type OutputError struct {
	Tool   string
	Field  string
	Reason string
}

func (e *OutputError) Error() string {
	return fmt.Sprintf("tool %s: output field %q: %s", e.Tool, e.Field, e.Reason)
}
