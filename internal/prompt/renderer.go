// Package prompt implements literal template rendering for the cleaning and
// decision prompts.
//
// Templates may reference only a small fixed variable vocabulary. Rendering is
// plain interpolation — no control flow, no auto-populated defaults. Unknown
// or missing required variables are rejected before any model call so that a
// bad template never burns a model request.
package prompt

import (
	"fmt"
	"regexp"
	"strings"
)

// Variable names templates may reference.
const (
	// VarRawText is the current turn's original text. Required.
	VarRawText = "raw_text"

	// VarCleanedContext is the rolling window of previously cleaned turns.
	// Required.
	VarCleanedContext = "cleaned_context"

	// VarCleaningLevel is the cleaning-level directive ("light" or "full").
	// Required.
	VarCleaningLevel = "cleaning_level"

	// VarBusinessContext is an optional free-form description of the business
	// scenario under evaluation.
	VarBusinessContext = "business_context"

	// VarCustomerContext is an optional free-form description of the customer.
	VarCustomerContext = "customer_context"
)

// required lists variables that must be present and non-empty when referenced.
var required = map[string]bool{
	VarRawText:        true,
	VarCleanedContext: true,
	VarCleaningLevel:  true,
}

// vocabulary is the complete set of variables a template may reference.
var vocabulary = map[string]bool{
	VarRawText:         true,
	VarCleanedContext:  true,
	VarCleaningLevel:   true,
	VarBusinessContext: true,
	VarCustomerContext: true,
}

// placeholderPattern matches {{name}} references with optional inner spaces.
var placeholderPattern = regexp.MustCompile(`\{\{\s*([a-zA-Z_][a-zA-Z0-9_]*)\s*\}\}`)

// ValidationError reports a template or variable problem detected before
// rendering. The prompt is rejected without calling the model.
type ValidationError struct {
	// Variable is the offending variable name.
	Variable string

	// Reason is one of "unknown_variable" or "missing_required".
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("prompt: variable %q: %s", e.Variable, e.Reason)
}

// Rendered is the result of a successful render.
type Rendered struct {
	// Text is the fully interpolated prompt.
	Text string

	// Warnings lists optional variables that were referenced but absent or
	// empty. Absence stays visible — it is never papered over with defaults.
	Warnings []string
}

// Render interpolates vars into template. Every referenced variable must be
// part of the fixed vocabulary; referenced required variables must be present
// and non-empty. Referenced optional variables may be absent or empty, which
// produces a warning and an empty substitution.
//
// Render is idempotent: identical inputs yield an identical Rendered value.
func Render(template string, vars map[string]string) (*Rendered, error) {
	refs := placeholderPattern.FindAllStringSubmatch(template, -1)

	// Validate before substituting anything.
	var warnings []string
	seen := make(map[string]bool, len(refs))
	for _, ref := range refs {
		name := ref[1]
		if seen[name] {
			continue
		}
		seen[name] = true

		if !vocabulary[name] {
			return nil, &ValidationError{Variable: name, Reason: "unknown_variable"}
		}
		val, ok := vars[name]
		if required[name] {
			if !ok || strings.TrimSpace(val) == "" {
				return nil, &ValidationError{Variable: name, Reason: "missing_required"}
			}
			continue
		}
		if !ok || strings.TrimSpace(val) == "" {
			warnings = append(warnings, name)
		}
	}

	text := placeholderPattern.ReplaceAllStringFunc(template, func(m string) string {
		name := placeholderPattern.FindStringSubmatch(m)[1]
		return vars[name]
	})

	return &Rendered{Text: text, Warnings: warnings}, nil
}

// References returns the distinct variable names referenced by template, in
// first-appearance order. Used to pre-validate stored templates at session
// setup without rendering.
func References(template string) []string {
	refs := placeholderPattern.FindAllStringSubmatch(template, -1)
	var names []string
	seen := make(map[string]bool, len(refs))
	for _, ref := range refs {
		if !seen[ref[1]] {
			seen[ref[1]] = true
			names = append(names, ref[1])
		}
	}
	return names
}

// Validate checks that template references only known variables. Returns a
// *ValidationError for the first unknown reference.
func Validate(template string) error {
	for _, name := range References(template) {
		if !vocabulary[name] {
			return &ValidationError{Variable: name, Reason: "unknown_variable"}
		}
	}
	return nil
}
