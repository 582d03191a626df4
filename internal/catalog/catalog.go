// Package catalog defines the static registry of business functions the
// decision engine may invoke against a session's customer profile.
//
// Each [Function] carries its model-facing schema (name, description,
// parameter specification) together with the handler executed when the model
// requests the call. The catalog is read-only after construction and is
// rendered into the decision prompt verbatim, so the model sees exactly the
// set of operations it may request.
package catalog

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/MrWong99/clarivox/internal/profile"
)

// ParamType is the scalar type of a function parameter.
type ParamType string

const (
	ParamString ParamType = "string"
	ParamNumber ParamType = "number"
	ParamBool   ParamType = "boolean"
)

// Param specifies one parameter accepted by a function.
type Param struct {
	// Name is the parameter key as it appears in the model's request payload.
	Name string

	// Type is the expected scalar type.
	Type ParamType

	// Description is the model-facing explanation of the parameter.
	Description string

	// Required marks the parameter as mandatory.
	Required bool

	// Enum, when non-empty, restricts string values to this set.
	Enum []string
}

// Handler executes a validated function call against the session's profile.
// Implementations must be safe for concurrent use across sessions; within a
// session, calls are strictly sequential.
type Handler func(ctx context.Context, params map[string]any, prof *profile.Profile) (string, error)

// Function pairs a model-facing schema with its handler.
type Function struct {
	// Name is the unique function identifier.
	Name string

	// Description is the model-facing explanation of what the function does
	// and when to call it.
	Description string

	// Params specifies the accepted parameters.
	Params []Param

	// Handler performs the call. Returning an error marks the execution as
	// failed, which halts the session's run.
	Handler Handler
}

// Catalog is a static, versioned set of functions. Read-only after
// construction; safe for concurrent use.
type Catalog struct {
	version   string
	functions map[string]Function
	order     []string
}

// New builds a Catalog from fns. Duplicate function names are an error.
func New(version string, fns ...Function) (*Catalog, error) {
	c := &Catalog{
		version:   version,
		functions: make(map[string]Function, len(fns)),
	}
	for _, fn := range fns {
		if fn.Name == "" {
			return nil, fmt.Errorf("catalog: function with empty name")
		}
		if _, dup := c.functions[fn.Name]; dup {
			return nil, fmt.Errorf("catalog: duplicate function %q", fn.Name)
		}
		if fn.Handler == nil {
			return nil, fmt.Errorf("catalog: function %q has no handler", fn.Name)
		}
		c.functions[fn.Name] = fn
		c.order = append(c.order, fn.Name)
	}
	return c, nil
}

// Version returns the catalog version string.
func (c *Catalog) Version() string { return c.version }

// Lookup returns the function with the given name.
func (c *Catalog) Lookup(name string) (Function, bool) {
	fn, ok := c.functions[name]
	return fn, ok
}

// Names returns the function names in registration order.
func (c *Catalog) Names() []string {
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}

// ValidateCall checks a requested call against the schema for name: the
// function must exist, required parameters must be present, enum-restricted
// values must be in range, and parameter types must match. Unknown extra
// parameters are rejected.
func (c *Catalog) ValidateCall(name string, params map[string]any) error {
	fn, ok := c.functions[name]
	if !ok {
		return fmt.Errorf("catalog: unknown function %q", name)
	}

	known := make(map[string]Param, len(fn.Params))
	for _, p := range fn.Params {
		known[p.Name] = p
		if !p.Required {
			continue
		}
		v, present := params[p.Name]
		if !present {
			return fmt.Errorf("catalog: %s: missing required parameter %q", name, p.Name)
		}
		if s, isStr := v.(string); isStr && strings.TrimSpace(s) == "" {
			return fmt.Errorf("catalog: %s: required parameter %q is empty", name, p.Name)
		}
	}

	for key, v := range params {
		p, recognised := known[key]
		if !recognised {
			return fmt.Errorf("catalog: %s: unknown parameter %q", name, key)
		}
		if err := checkType(p, v); err != nil {
			return fmt.Errorf("catalog: %s: %w", name, err)
		}
	}

	return nil
}

// checkType verifies the value against the parameter's declared type and enum.
func checkType(p Param, v any) error {
	switch p.Type {
	case ParamString:
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("parameter %q must be a string, got %T", p.Name, v)
		}
		if len(p.Enum) > 0 {
			for _, allowed := range p.Enum {
				if s == allowed {
					return nil
				}
			}
			return fmt.Errorf("parameter %q value %q not in allowed set %v", p.Name, s, p.Enum)
		}
	case ParamNumber:
		switch v.(type) {
		case float64, int, int64:
		default:
			return fmt.Errorf("parameter %q must be a number, got %T", p.Name, v)
		}
	case ParamBool:
		if _, ok := v.(bool); !ok {
			return fmt.Errorf("parameter %q must be a boolean, got %T", p.Name, v)
		}
	}
	return nil
}

// RenderPromptBlock formats the catalog as a plain-text block for the decision
// prompt: one entry per function with its description and parameter schema.
func (c *Catalog) RenderPromptBlock() string {
	var sb strings.Builder
	for _, name := range c.order {
		fn := c.functions[name]
		fmt.Fprintf(&sb, "- %s: %s\n", fn.Name, fn.Description)
		for _, p := range fn.Params {
			req := "optional"
			if p.Required {
				req = "required"
			}
			fmt.Fprintf(&sb, "    %s (%s, %s): %s", p.Name, p.Type, req, p.Description)
			if len(p.Enum) > 0 {
				fmt.Fprintf(&sb, " One of: %s.", strings.Join(p.Enum, ", "))
			}
			sb.WriteByte('\n')
		}
	}
	return sb.String()
}

// CallRecord is the append-only audit record of one function invocation.
// A record is persisted for every executed call, success or failure, and the
// full history is shown to the decision prompt to prevent duplicate or
// contradictory calls.
type CallRecord struct {
	// Function is the invoked function name.
	Function string `json:"function"`

	// Params is the validated parameter payload.
	Params map[string]any `json:"params"`

	// Result is the handler's result string. Empty on failure.
	Result string `json:"result"`

	// Success reports whether the handler completed without error.
	Success bool `json:"success"`

	// Error holds the handler's error message when Success is false.
	Error string `json:"error,omitempty"`

	// Before and After are deep profile snapshots around the call.
	Before *profile.Profile `json:"before"`
	After  *profile.Profile `json:"after"`

	// Changes is the field-level diff between Before and After.
	Changes []profile.FieldChange `json:"changes"`

	// TurnSeq is the sequence number of the turn that triggered the call.
	TurnSeq int `json:"turn_seq"`

	// CalledAt is when the call was executed.
	CalledAt time.Time `json:"called_at"`
}

// HistoryBlock renders records as a plain-text block for the decision prompt,
// oldest first.
func HistoryBlock(records []CallRecord) string {
	if len(records) == 0 {
		return "(no function calls yet)"
	}
	var sb strings.Builder
	for _, r := range records {
		status := "ok"
		if !r.Success {
			status = "FAILED: " + r.Error
		}
		fmt.Fprintf(&sb, "- turn %d: %s(%s) → %s\n", r.TurnSeq, r.Function, formatParams(r.Params), status)
	}
	return sb.String()
}

// formatParams renders params as a stable key=value list.
func formatParams(params map[string]any) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s=%v", k, params[k]))
	}
	return strings.Join(parts, ", ")
}
