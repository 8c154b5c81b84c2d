package runtime

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Condition is a recursive boolean expression tree guarding action execution.
// Exactly one variant is populated per node: a bare expression string, an
// all-of list (AND), an any-of list (OR), or a negation.
type Condition struct {
	Expr string
	All  []Condition
	Any  []Condition
	Not  *Condition
}

func (c *Condition) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		return node.Decode(&c.Expr)
	}

	var raw map[string]any
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := CoerceCondition(raw)
	if err != nil {
		return err
	}
	*c = *parsed
	return nil
}

// CoerceCondition converts a raw decoded value into a condition tree.
// A nil input yields a nil condition, which evaluates to true.
func CoerceCondition(v any) (*Condition, error) {
	if v == nil {
		return nil, nil
	}

	switch val := v.(type) {
	case string:
		return &Condition{Expr: val}, nil
	case *Condition:
		return val, nil
	case Condition:
		return &val, nil
	case map[string]any, map[any]any:
		m, err := toStringKeyMap(val)
		if err != nil {
			return nil, err
		}
		return coerceConditionMap(m)
	default:
		return nil, fmt.Errorf("condition must be a string or mapping, got %T", v)
	}
}

func coerceConditionMap(m map[string]any) (*Condition, error) {
	if expr, ok := m["expr"]; ok {
		s, ok := expr.(string)
		if !ok {
			return nil, fmt.Errorf("condition expr must be a string, got %T", expr)
		}
		return &Condition{Expr: s}, nil
	}

	if list, ok := m["all"]; ok {
		children, err := coerceConditionList(list)
		if err != nil {
			return nil, fmt.Errorf("all: %w", err)
		}
		return &Condition{All: children}, nil
	}

	if list, ok := m["any"]; ok {
		children, err := coerceConditionList(list)
		if err != nil {
			return nil, fmt.Errorf("any: %w", err)
		}
		return &Condition{Any: children}, nil
	}

	if inner, ok := m["not"]; ok {
		child, err := CoerceCondition(inner)
		if err != nil {
			return nil, fmt.Errorf("not: %w", err)
		}
		return &Condition{Not: child}, nil
	}

	// Unrecognized shapes are permissive: an empty condition means "always run".
	return &Condition{}, nil
}

func coerceConditionList(v any) ([]Condition, error) {
	list, ok := v.([]any)
	if !ok {
		if typed, ok := v.([]Condition); ok {
			return typed, nil
		}
		return nil, fmt.Errorf("expected a list of conditions, got %T", v)
	}

	children := make([]Condition, 0, len(list))
	for i, item := range list {
		child, err := CoerceCondition(item)
		if err != nil {
			return nil, fmt.Errorf("condition %d: %w", i, err)
		}
		if child != nil {
			children = append(children, *child)
		}
	}
	return children, nil
}

// EvaluateCondition walks a condition tree against the context. A nil
// condition or an empty node evaluates to true; {all: []} is true and
// {any: []} is false, matching AND/OR identity semantics.
func EvaluateCondition(actx *ActionContext, ev Evaluator, c *Condition) (bool, error) {
	if c == nil {
		return true, nil
	}

	switch {
	case c.Expr != "":
		result, err := ev.Evaluate(actx, c.Expr)
		if err != nil {
			return false, fmt.Errorf("error evaluating condition %q: %w", c.Expr, err)
		}
		return toBool(result)

	case c.All != nil:
		for i := range c.All {
			ok, err := EvaluateCondition(actx, ev, &c.All[i])
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil

	case c.Any != nil:
		for i := range c.Any {
			ok, err := EvaluateCondition(actx, ev, &c.Any[i])
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil

	case c.Not != nil:
		ok, err := EvaluateCondition(actx, ev, c.Not)
		if err != nil {
			return false, err
		}
		return !ok, nil

	default:
		// Absence of a condition means "always run".
		return true, nil
	}
}

func toBool(v any) (bool, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case nil:
		return false, nil
	default:
		return false, fmt.Errorf("condition evaluated to %T, expected boolean", v)
	}
}
