package runtime

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Action is one declarative unit of bot behavior. The Type field names the
// registered handler; every other mapping key except "when" and "as" is
// operation-specific configuration and is passed to the handler untouched.
//
// Actions are specification data: they are produced once by the spec loader
// and may be executed many times concurrently, so they must never be mutated
// after load.
type Action struct {
	Type   string
	Config map[string]any
	When   *Condition
	As     string
}

// UnmarshalYAML decodes an action mapping, splitting the reserved keys
// (type, when, as) from the operation-specific config.
func (a *Action) UnmarshalYAML(node *yaml.Node) error {
	var raw map[string]any
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := CoerceAction(raw)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// CoerceAction converts a decoded mapping into an Action. Used by the YAML
// loader and by the flow engine when materializing nested bodies (then/else/
// do/catch/...) that were loaded as raw values.
func CoerceAction(raw map[string]any) (Action, error) {
	a := Action{Config: make(map[string]any, len(raw))}

	for k, v := range raw {
		switch k {
		case "type":
			s, ok := v.(string)
			if !ok {
				return Action{}, fmt.Errorf("action type must be a string, got %T", v)
			}
			a.Type = s
		case "when":
			cond, err := CoerceCondition(v)
			if err != nil {
				return Action{}, fmt.Errorf("invalid when condition: %w", err)
			}
			a.When = cond
		case "as":
			s, ok := v.(string)
			if !ok {
				return Action{}, fmt.Errorf("action 'as' binding must be a string, got %T", v)
			}
			a.As = s
		default:
			a.Config[k] = v
		}
	}

	if a.Type == "" {
		return Action{}, fmt.Errorf("action is missing required 'type' field")
	}
	return a, nil
}

// CoerceActions converts a raw config value (typically a nested action body
// such as an if's "then" list) into a slice of actions. A nil value yields an
// empty slice so optional bodies need no special casing at call sites.
func CoerceActions(v any) ([]Action, error) {
	if v == nil {
		return nil, nil
	}

	switch list := v.(type) {
	case []Action:
		return list, nil
	case []any:
		actions := make([]Action, 0, len(list))
		for i, item := range list {
			m, err := toStringKeyMap(item)
			if err != nil {
				return nil, fmt.Errorf("action %d: %w", i, err)
			}
			a, err := CoerceAction(m)
			if err != nil {
				return nil, fmt.Errorf("action %d: %w", i, err)
			}
			actions = append(actions, a)
		}
		return actions, nil
	case []map[string]any:
		actions := make([]Action, 0, len(list))
		for i, m := range list {
			a, err := CoerceAction(m)
			if err != nil {
				return nil, fmt.Errorf("action %d: %w", i, err)
			}
			actions = append(actions, a)
		}
		return actions, nil
	default:
		return nil, fmt.Errorf("expected a list of actions, got %T", v)
	}
}

// toStringKeyMap normalizes map shapes that YAML and JSON decoders produce.
func toStringKeyMap(v any) (map[string]any, error) {
	switch m := v.(type) {
	case map[string]any:
		return m, nil
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, val := range m {
			ks, ok := k.(string)
			if !ok {
				return nil, fmt.Errorf("non-string map key %v", k)
			}
			out[ks] = val
		}
		return out, nil
	default:
		return nil, fmt.Errorf("expected a mapping, got %T", v)
	}
}

// Parameter declares one named input of a flow. A parameter should either be
// required or carry a default; the loader flags declarations that are neither.
type Parameter struct {
	Name     string `yaml:"name"`
	Type     string `yaml:"type"`
	Required bool   `yaml:"required"`
	Default  any    `yaml:"default"`
}

// FlowDefinition is a named, parameterized, reusable action sequence.
type FlowDefinition struct {
	Name       string      `yaml:"name"`
	Parameters []Parameter `yaml:"parameters"`
	Actions    []Action    `yaml:"actions"`
	Returns    string      `yaml:"returns"`
}
