// Package exprlang provides the expr-lang based reference implementation of
// the runtime.Evaluator contract.
package exprlang

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/expr-lang/expr"

	"github.com/flowbotio/flowbot/runtime"
)

// Custom expression functions available in all specs.
var exprFunctions = []expr.Option{
	expr.Function("base64_encode", func(params ...any) (any, error) {
		s, _ := params[0].(string)
		return base64.StdEncoding.EncodeToString([]byte(s)), nil
	}),
	expr.Function("base64_decode", func(params ...any) (any, error) {
		s, _ := params[0].(string)
		decoded, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return "", err
		}
		return string(decoded), nil
	}),
}

// Evaluator evaluates expressions with the expr-lang library against the
// flattened context bindings.
type Evaluator struct{}

var _ runtime.Evaluator = (*Evaluator)(nil)

func New() *Evaluator {
	return &Evaluator{}
}

func (e *Evaluator) Evaluate(actx *runtime.ActionContext, expression string) (any, error) {
	env := actx.Values()

	// null as alias for nil, for JSON/YAML authored specs.
	env["null"] = nil

	// defined() distinguishes a missing binding from a null value.
	definedFn := expr.Function(
		"defined",
		func(params ...any) (any, error) {
			name, ok := params[0].(string)
			if !ok {
				return false, fmt.Errorf("defined() expects a string argument, got %T", params[0])
			}
			_, exists := env[name]
			return exists, nil
		},
		new(func(string) bool),
	)

	opts := []expr.Option{
		expr.Env(env),
		expr.AllowUndefinedVariables(),
		definedFn,
	}
	opts = append(opts, exprFunctions...)

	program, err := expr.Compile(expression, opts...)
	if err != nil {
		return nil, err
	}
	return expr.Run(program, env)
}

// Interpolate expands every ${ ... } segment of a template by evaluating the
// inner expression. Text outside segments passes through verbatim; a nil
// value renders as an empty string.
func (e *Evaluator) Interpolate(actx *runtime.ActionContext, template string) (string, error) {
	var out strings.Builder
	rest := template

	for {
		start := strings.Index(rest, "${")
		if start < 0 {
			out.WriteString(rest)
			return out.String(), nil
		}
		out.WriteString(rest[:start])
		rest = rest[start+2:]

		end := matchingBrace(rest)
		if end < 0 {
			return "", fmt.Errorf("unterminated ${ in template %q", template)
		}

		value, err := e.Evaluate(actx, rest[:end])
		if err != nil {
			return "", err
		}
		if value != nil {
			out.WriteString(fmt.Sprint(value))
		}
		rest = rest[end+1:]
	}
}

// matchingBrace returns the index of the closing brace of an interpolation
// segment, tracking nesting and quoted strings.
func matchingBrace(s string) int {
	depth := 0
	var quote byte
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if quote != 0 {
			if ch == '\\' {
				i++
			} else if ch == quote {
				quote = 0
			}
			continue
		}
		switch ch {
		case '"', '\'', '`':
			quote = ch
		case '{':
			depth++
		case '}':
			if depth == 0 {
				return i
			}
			depth--
		}
	}
	return -1
}
