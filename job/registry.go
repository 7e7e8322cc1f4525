package job

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/loomery/backlog"
)

// Kind is the expected runtime shape of a payload field.
type Kind string

const (
	KindString  Kind = "string"
	KindNumber  Kind = "number"
	KindBoolean Kind = "boolean"
	KindArray   Kind = "array"
	KindObject  Kind = "object"
)

// Schema describes the accepted payload shape for a job type. Required
// lists fields that must be present; Fields maps declared field names
// to their expected kind. A field may be declared without being
// required, in which case it is only kind-checked when present.
type Schema struct {
	Required []string
	Fields   map[string]Kind
}

// Policy is the execution policy for a job type.
type Policy struct {
	// MaxAttempts is the default attempt ceiling for jobs of this
	// type, overridable per job at enqueue time.
	MaxAttempts int

	// LeaseDuration bounds how long a worker may hold a claim before
	// the job becomes reclaimable.
	LeaseDuration time.Duration

	// ConcurrencyLimit is advisory: the queue itself never enforces
	// it. Worker pools may honor it to cap simultaneous executions of
	// this type.
	ConcurrencyLimit int
}

// Type is a registry entry: the immutable, process-wide definition of a
// job type, loaded once at startup.
type Type struct {
	Name   string
	Schema Schema
	Policy Policy
}

// ValidationError reports every schema violation found in a payload,
// not just the first, so producers can fix all of them in one pass.
// It unwraps to backlog.ErrUnknownJobType only when the type itself is
// unknown; schema violations are their own failure.
type ValidationError struct {
	Type       string
	Violations []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("job: payload for type %q invalid: %s", e.Type, strings.Join(e.Violations, "; "))
}

// Registry is the static mapping from job type name to schema and
// policy. It is immutable after construction; tests supply their own
// isolated registries instead of sharing ambient global state.
type Registry struct {
	types map[string]Type
}

// NewRegistry builds a registry from the given type definitions.
// Duplicate names panic (programming error in the static table).
func NewRegistry(types ...Type) *Registry {
	r := &Registry{types: make(map[string]Type, len(types))}
	for _, t := range types {
		if _, dup := r.types[t.Name]; dup {
			panic(fmt.Sprintf("job: duplicate type %q in registry", t.Name))
		}
		r.types[t.Name] = t
	}
	return r
}

// ValidatePayload checks payload against the schema registered for the
// named type. It returns backlog.ErrUnknownJobType for unregistered
// types and a *ValidationError collecting every missing required field
// and every kind mismatch otherwise. No side effects.
func (r *Registry) ValidatePayload(typeName string, payload map[string]any) error {
	t, ok := r.types[typeName]
	if !ok {
		return fmt.Errorf("job: validate payload: type %q: %w", typeName, backlog.ErrUnknownJobType)
	}

	var violations []string
	for _, field := range t.Schema.Required {
		if _, present := payload[field]; !present {
			violations = append(violations, fmt.Sprintf("missing required field %q", field))
		}
	}
	for field, value := range payload {
		kind, declared := t.Schema.Fields[field]
		if !declared {
			continue
		}
		if got := kindOf(value); got != kind {
			violations = append(violations, fmt.Sprintf("field %q: expected %s, got %s", field, kind, got))
		}
	}

	if len(violations) > 0 {
		sort.Strings(violations)
		return &ValidationError{Type: typeName, Violations: violations}
	}
	return nil
}

// PolicyFor returns the execution policy for the named type.
func (r *Registry) PolicyFor(typeName string) (Policy, error) {
	t, ok := r.types[typeName]
	if !ok {
		return Policy{}, fmt.Errorf("job: policy for type %q: %w", typeName, backlog.ErrUnknownJobType)
	}
	return t.Policy, nil
}

// Names returns all registered type names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.types))
	for name := range r.types {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// kindOf maps a decoded JSON value to its schema kind. json.Unmarshal
// into map[string]any yields float64 for numbers, but payloads built
// in-process may carry native ints, so all numeric Go types count as
// number.
func kindOf(v any) Kind {
	switch v.(type) {
	case string:
		return KindString
	case bool:
		return KindBoolean
	case float64, float32, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return KindNumber
	case []any:
		return KindArray
	case map[string]any:
		return KindObject
	default:
		return Kind(fmt.Sprintf("%T", v))
	}
}
