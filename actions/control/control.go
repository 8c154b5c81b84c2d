// Package control provides the pure handlers behind the engine-interpreted
// control-flow actions, plus the abort/return/call_flow actions. Handlers
// evaluate their config into structured signals; which nested body runs next
// is decided by the flow engine, keeping these handlers trivially testable.
package control

import (
	"fmt"
	"reflect"

	"github.com/flowbotio/flowbot/runtime"
)

const (
	ActionAbort    = "abort"
	ActionReturn   = "return"
	ActionCallFlow = "call_flow"
)

// Handlers returns every control handler for registration.
func Handlers() []runtime.ActionHandler {
	return []runtime.ActionHandler{
		conditionHandler{name: runtime.ActionFlowIf},
		conditionHandler{name: runtime.ActionIf},
		conditionHandler{name: runtime.ActionFlowWhile},
		switchHandler{},
		repeatHandler{},
		signalHandler{name: runtime.ActionTry},
		signalHandler{name: runtime.ActionParallel},
		batchHandler{},
		abortHandler{},
		returnHandler{},
		callFlowHandler{},
	}
}

// Register installs every control handler into the registry.
func Register(r *runtime.Registry) {
	r.RegisterAll(Handlers())
}

// conditionHandler backs flow_if and flow_while: it evaluates the configured
// condition tree and reports the outcome.
type conditionHandler struct {
	name string
}

func (h conditionHandler) Name() string { return h.name }

func (h conditionHandler) Execute(actx *runtime.ActionContext, config map[string]any) (any, error) {
	cond, err := runtime.CoerceCondition(config["condition"])
	if err != nil {
		return nil, err
	}
	ok, err := runtime.EvaluateCondition(actx, actx.Deps().Evaluator, cond)
	if err != nil {
		return nil, err
	}
	return map[string]any{"condition": ok}, nil
}

type switchHandler struct{}

func (switchHandler) Name() string { return runtime.ActionFlowSwitch }

func (switchHandler) Execute(actx *runtime.ActionContext, config map[string]any) (any, error) {
	value, err := evalValue(actx, config["value"])
	if err != nil {
		return nil, err
	}
	return map[string]any{"value": value}, nil
}

type repeatHandler struct{}

func (repeatHandler) Name() string { return runtime.ActionRepeat }

func (repeatHandler) Validate(config map[string]any) error {
	if config["times"] == nil {
		return fmt.Errorf("repeat requires a 'times' count")
	}
	return nil
}

func (repeatHandler) Execute(actx *runtime.ActionContext, config map[string]any) (any, error) {
	value, err := evalValue(actx, config["times"])
	if err != nil {
		return nil, err
	}
	count, err := asInt(value)
	if err != nil {
		return nil, fmt.Errorf("repeat times: %w", err)
	}
	if count < 0 {
		count = 0
	}
	return map[string]any{"count": count}, nil
}

// signalHandler backs control actions whose semantics live entirely in the
// flow engine (try, parallel); it only certifies that the action exists.
type signalHandler struct {
	name string
}

func (h signalHandler) Name() string { return h.name }

func (h signalHandler) Execute(_ *runtime.ActionContext, _ map[string]any) (any, error) {
	return map[string]any{"ok": true}, nil
}

type batchHandler struct{}

func (batchHandler) Name() string { return runtime.ActionBatch }

func (batchHandler) Validate(config map[string]any) error {
	if config["items"] == nil {
		return fmt.Errorf("batch requires an 'items' expression")
	}
	return nil
}

func (batchHandler) Execute(actx *runtime.ActionContext, config map[string]any) (any, error) {
	value, err := evalValue(actx, config["items"])
	if err != nil {
		return nil, err
	}
	items, err := asSlice(value)
	if err != nil {
		return nil, fmt.Errorf("batch items: %w", err)
	}
	return map[string]any{"items": items, "count": len(items)}, nil
}

// abortHandler stops the current flow body. It always succeeds: abort is a
// control decision, not an error.
type abortHandler struct{}

func (abortHandler) Name() string { return ActionAbort }

func (abortHandler) Execute(actx *runtime.ActionContext, config map[string]any) (any, error) {
	reason := ""
	if raw, ok := config["reason"].(string); ok {
		interpolated, err := actx.Deps().Evaluator.Interpolate(actx, raw)
		if err != nil {
			return nil, err
		}
		reason = interpolated
	}
	actx.Flow().Abort(reason)
	return map[string]any{"aborted": true, "reason": reason}, nil
}

// returnHandler records the flow's return value; return also stops the
// current body.
type returnHandler struct{}

func (returnHandler) Name() string { return ActionReturn }

func (returnHandler) Execute(actx *runtime.ActionContext, config map[string]any) (any, error) {
	value, err := evalValue(actx, config["value"])
	if err != nil {
		return nil, err
	}
	actx.Flow().Return(value)
	return map[string]any{"returned": true}, nil
}

type callFlowHandler struct{}

func (callFlowHandler) Name() string { return ActionCallFlow }

func (callFlowHandler) Validate(config map[string]any) error {
	if name, _ := config["flow"].(string); name == "" {
		return fmt.Errorf("call_flow requires a 'flow' name")
	}
	return nil
}

func (callFlowHandler) Execute(actx *runtime.ActionContext, config map[string]any) (any, error) {
	deps := actx.Deps()
	if deps.Flows == nil {
		return nil, fmt.Errorf("no flow runner configured")
	}

	name, _ := config["flow"].(string)

	args := map[string]any{}
	if rawArgs := config["args"]; rawArgs != nil {
		resolved, err := runtime.ResolveTemplates(actx, deps.Evaluator, rawArgs)
		if err != nil {
			return nil, err
		}
		m, ok := resolved.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("call_flow args must be a mapping, got %T", resolved)
		}
		args = m
	}

	result, err := deps.Flows.Execute(actx, name, args)
	if err != nil {
		return nil, err
	}
	if info := result.FirstFailure(); info != nil {
		return nil, fmt.Errorf("flow %q failed: %s", name, info.Message)
	}
	return result.Value, nil
}

func evalValue(actx *runtime.ActionContext, v any) (any, error) {
	return runtime.EvalValue(actx, actx.Deps().Evaluator, v)
}

func asInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case uint64:
		return int(n), nil
	case float64:
		return int(n), nil
	default:
		return 0, fmt.Errorf("expected a number, got %T", v)
	}
}

// asSlice normalizes any slice value into []any.
func asSlice(v any) ([]any, error) {
	if items, ok := v.([]any); ok {
		return items, nil
	}
	rv := reflect.ValueOf(v)
	if !rv.IsValid() || rv.Kind() != reflect.Slice {
		return nil, fmt.Errorf("expected a list, got %T", v)
	}
	items := make([]any, rv.Len())
	for i := range items {
		items[i] = rv.Index(i).Interface()
	}
	return items, nil
}
