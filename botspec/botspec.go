// Package botspec defines the YAML document format that declares a bot's
// behavior (commands, event bindings, reusable flows) and loads it from a
// directory of spec files.
package botspec

import (
	"gopkg.in/yaml.v3"

	"github.com/flowbotio/flowbot/runtime"
)

// Command binds a named chat command to an action sequence. Parameters are
// the command's declared inputs; the dispatcher binds the invocation's
// arguments under "args" before executing.
type Command struct {
	Name        string              `yaml:"name"`
	Description string              `yaml:"description"`
	Parameters  []runtime.Parameter `yaml:"parameters"`
	Actions     []runtime.Action    `yaml:"actions"`
}

// EventBinding runs an action sequence whenever the named platform event
// fires. When gates the binding without consuming a step.
type EventBinding struct {
	Event   string             `yaml:"event"`
	When    *runtime.Condition `yaml:"when"`
	Actions []runtime.Action   `yaml:"actions"`
}

// BotSpec is one spec document. A bot is usually split across several files;
// Load merges them into a single spec.
type BotSpec struct {
	Name     string                   `yaml:"name"`
	Commands []Command                `yaml:"commands"`
	Events   []EventBinding           `yaml:"events"`
	Flows    []runtime.FlowDefinition `yaml:"flows"`
}

// Command returns the named command declaration.
func (s *BotSpec) Command(name string) (Command, bool) {
	for _, c := range s.Commands {
		if c.Name == name {
			return c, true
		}
	}
	return Command{}, false
}

// EventBindings returns every binding declared for the named event.
func (s *BotSpec) EventBindings(event string) []EventBinding {
	var out []EventBinding
	for _, b := range s.Events {
		if b.Event == event {
			out = append(out, b)
		}
	}
	return out
}

func (s *BotSpec) merge(other BotSpec) {
	if s.Name == "" {
		s.Name = other.Name
	}
	s.Commands = append(s.Commands, other.Commands...)
	s.Events = append(s.Events, other.Events...)
	s.Flows = append(s.Flows, other.Flows...)
}

func parseSpec(data []byte) (BotSpec, error) {
	var spec BotSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return BotSpec{}, err
	}
	return spec, nil
}
