package runtime

import "strings"

// Evaluator evaluates expressions against an action context. The core does
// not inspect the expression grammar; it only requires these two methods.
// The runtime/exprlang package provides the expr-lang reference
// implementation; tests substitute stubs.
type Evaluator interface {
	// Evaluate runs an expression and returns its value.
	Evaluate(actx *ActionContext, expression string) (any, error)

	// Interpolate expands ${ ... } segments of a template into a string.
	Interpolate(actx *ActionContext, template string) (string, error)
}

// EvalValue evaluates a single config value declared as an expression: a
// string is evaluated, anything else is a literal.
func EvalValue(actx *ActionContext, ev Evaluator, v any) (any, error) {
	if s, ok := v.(string); ok {
		return ev.Evaluate(actx, s)
	}
	return v, nil
}

// ResolveTemplates recursively resolves a raw config value, descending into
// maps and lists. A string that is exactly one ${ ... } segment evaluates to
// its typed value; a string containing ${ ... } segments interpolates to a
// string; any other value is literal. Used for call_flow arguments and
// handler config values.
func ResolveTemplates(actx *ActionContext, ev Evaluator, v any) (any, error) {
	switch val := v.(type) {
	case string:
		if inner, ok := wholeTemplate(val); ok {
			return ev.Evaluate(actx, inner)
		}
		if strings.Contains(val, "${") {
			return ev.Interpolate(actx, val)
		}
		return val, nil
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			resolved, err := ResolveTemplates(actx, ev, item)
			if err != nil {
				return nil, err
			}
			out[k] = resolved
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			resolved, err := ResolveTemplates(actx, ev, item)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	default:
		return v, nil
	}
}

// wholeTemplate reports whether s is exactly one ${ ... } segment and, if so,
// returns the inner expression.
func wholeTemplate(s string) (string, bool) {
	if !strings.HasPrefix(s, "${") || !strings.HasSuffix(s, "}") {
		return "", false
	}
	inner := s[2 : len(s)-1]
	// A second ${ means the string is a multi-segment template.
	if strings.Contains(inner, "${") || strings.Contains(inner, "}") {
		return "", false
	}
	return inner, true
}
