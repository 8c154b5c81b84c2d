// Package core provides small general-purpose handlers: structured logging,
// context variable binding, and a no-op used in tests and as a spec
// placeholder.
package core

import (
	"fmt"
	"log/slog"

	"github.com/flowbotio/flowbot/runtime"
)

const (
	ActionLog    = "log"
	ActionSetVar = "set_var"
	ActionNoop   = "noop"
)

// Handlers returns every core handler for registration.
func Handlers() []runtime.ActionHandler {
	return []runtime.ActionHandler{
		logHandler{},
		setVarHandler{},
		noopHandler{},
	}
}

// Register installs every core handler into the registry.
func Register(r *runtime.Registry) {
	r.RegisterAll(Handlers())
}

type logHandler struct{}

func (logHandler) Name() string { return ActionLog }

func (logHandler) Validate(config map[string]any) error {
	if config["message"] == nil {
		return fmt.Errorf("log requires a 'message'")
	}
	return nil
}

func (logHandler) Execute(actx *runtime.ActionContext, config map[string]any) (any, error) {
	deps := actx.Deps()
	message, err := deps.Evaluator.Interpolate(actx, fmt.Sprint(config["message"]))
	if err != nil {
		return nil, err
	}

	l := deps.Logger
	if l == nil {
		l = slog.Default()
	}
	switch fmt.Sprint(config["level"]) {
	case "debug":
		l.DebugContext(actx, message)
	case "warn":
		l.WarnContext(actx, message)
	case "error":
		l.ErrorContext(actx, message)
	default:
		l.InfoContext(actx, message)
	}
	return map[string]any{"message": message}, nil
}

// setVarHandler binds an evaluated value directly into the context, the
// config-driven counterpart of an action's "as" result binding.
type setVarHandler struct{}

func (setVarHandler) Name() string { return ActionSetVar }

func (setVarHandler) Validate(config map[string]any) error {
	name, _ := config["name"].(string)
	if name == "" {
		return fmt.Errorf("set_var requires a 'name'")
	}
	return nil
}

func (setVarHandler) Execute(actx *runtime.ActionContext, config map[string]any) (any, error) {
	name := config["name"].(string)
	value, err := runtime.ResolveTemplates(actx, actx.Deps().Evaluator, config["value"])
	if err != nil {
		return nil, err
	}
	if err := actx.Set(name, value); err != nil {
		return nil, err
	}
	return map[string]any{"name": name, "value": value}, nil
}

type noopHandler struct{}

func (noopHandler) Name() string { return ActionNoop }

func (noopHandler) Execute(_ *runtime.ActionContext, _ map[string]any) (any, error) {
	return map[string]any{"ok": true}, nil
}
