package botspec

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/flowbotio/flowbot/runtime"
)

// Load reads every *.yaml/*.yml file in dir and merges them into one spec.
// Files are read in lexical order so merge results are deterministic.
func Load(dir string) (*BotSpec, error) {
	var files []string
	for _, pattern := range []string{"*.yaml", "*.yml"} {
		matches, err := filepath.Glob(filepath.Join(dir, pattern))
		if err != nil {
			return nil, fmt.Errorf("listing spec files: %w", err)
		}
		files = append(files, matches...)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no spec files found in %s", dir)
	}
	sort.Strings(files)

	var spec BotSpec
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", file, err)
		}
		parsed, err := parseSpec(data)
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", file, err)
		}
		spec.merge(parsed)
	}
	return &spec, nil
}

// Validate checks a loaded spec against the registry before anything runs:
// every referenced action name must have a handler, flow/command names must
// be unique, and every flow parameter must be required or carry a default.
func Validate(spec *BotSpec, registry *runtime.Registry) error {
	var errs []error

	seenCommands := map[string]bool{}
	for _, c := range spec.Commands {
		if c.Name == "" {
			errs = append(errs, fmt.Errorf("command with empty name"))
			continue
		}
		if seenCommands[c.Name] {
			errs = append(errs, fmt.Errorf("duplicate command %q", c.Name))
		}
		seenCommands[c.Name] = true
		errs = append(errs, checkParameters("command "+c.Name, c.Parameters)...)
		errs = append(errs, checkActions("command "+c.Name, c.Actions, registry)...)
	}

	for i, b := range spec.Events {
		if b.Event == "" {
			errs = append(errs, fmt.Errorf("event binding %d has no event name", i))
			continue
		}
		errs = append(errs, checkActions("event "+b.Event, b.Actions, registry)...)
	}

	seenFlows := map[string]bool{}
	for _, f := range spec.Flows {
		if f.Name == "" {
			errs = append(errs, fmt.Errorf("flow with empty name"))
			continue
		}
		if seenFlows[f.Name] {
			errs = append(errs, fmt.Errorf("duplicate flow %q", f.Name))
		}
		seenFlows[f.Name] = true
		errs = append(errs, checkParameters("flow "+f.Name, f.Parameters)...)
		errs = append(errs, checkActions("flow "+f.Name, f.Actions, registry)...)
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("invalid bot spec: %w", errors.Join(errs...))
}

func checkParameters(where string, params []runtime.Parameter) []error {
	var errs []error
	seen := map[string]bool{}
	for _, p := range params {
		if p.Name == "" {
			errs = append(errs, fmt.Errorf("%s: parameter with empty name", where))
			continue
		}
		if seen[p.Name] {
			errs = append(errs, fmt.Errorf("%s: duplicate parameter %q", where, p.Name))
		}
		seen[p.Name] = true
		if !p.Required && p.Default == nil {
			errs = append(errs, fmt.Errorf("%s: parameter %q is neither required nor defaulted", where, p.Name))
		}
	}
	return errs
}

// bodyKeys are the config keys under which control actions carry nested
// action lists; checkActions descends into them so a typo three levels deep
// in a try/catch still fails at load time.
var bodyKeys = []string{"then", "else", "do", "catch", "finally", "actions"}

func checkActions(where string, actions []runtime.Action, registry *runtime.Registry) []error {
	var errs []error
	for _, a := range actions {
		if !registry.Has(a.Type) {
			errs = append(errs, fmt.Errorf("%s: unknown action %q", where, a.Type))
		}
		for _, key := range bodyKeys {
			errs = append(errs, checkBody(where, a.Config[key], registry)...)
		}
		if cases, err := casesBodies(a.Config["cases"]); err == nil {
			for _, body := range cases {
				errs = append(errs, checkBody(where, body, registry)...)
			}
		}
		errs = append(errs, checkBody(where, a.Config["default"], registry)...)
	}
	return errs
}

func checkBody(where string, raw any, registry *runtime.Registry) []error {
	if raw == nil {
		return nil
	}
	nested, err := runtime.CoerceActions(raw)
	if err != nil {
		// Not an action list; the key is ordinary handler config.
		return nil
	}
	return checkActions(where, nested, registry)
}

func casesBodies(raw any) (map[string]any, error) {
	if raw == nil {
		return nil, nil
	}
	switch m := raw.(type) {
	case map[string]any:
		return m, nil
	default:
		return nil, fmt.Errorf("not a cases mapping")
	}
}
