package runtime

import (
	"fmt"
	"log/slog"
	"sync"
)

// Control-flow action types interpreted by the flow engine. Their handlers
// (actions/control) stay pure: they evaluate config into a structured signal
// and the engine decides which nested body runs next.
const (
	ActionFlowIf     = "flow_if"
	ActionIf         = "if"
	ActionFlowSwitch = "flow_switch"
	ActionFlowWhile  = "flow_while"
	ActionRepeat     = "repeat"
	ActionTry        = "try"
	ActionParallel   = "parallel"
	ActionBatch      = "batch"
)

// FlowRunner is the contract handlers use to invoke sub-flows through the
// dependency bag.
type FlowRunner interface {
	Execute(actx *ActionContext, name string, args map[string]any) (FlowResult, error)
	Has(name string) bool
}

// FlowResult is the outcome of one flow invocation.
type FlowResult struct {
	// Value is the flow's return value, set by a return action or by the
	// flow's returns expression.
	Value any
	// Results are the top-level body results, one per attempted action.
	Results []ActionResult
}

// FirstFailure returns the first failing top-level result, if any.
func (r FlowResult) FirstFailure() *ErrorInfo {
	return firstFailure(r.Results)
}

func firstFailure(results []ActionResult) *ErrorInfo {
	for i := range results {
		if !results[i].Success {
			return results[i].Error
		}
	}
	return nil
}

// resultError carries a failed inner result across the control-action
// boundary so the enclosing action fails with the inner error info intact.
type resultError struct {
	info *ErrorInfo
}

func (e *resultError) Error() string { return e.info.Message }

// FlowEngine registers named flows and executes structured control flow by
// recursively driving the Action Executor. Flow-local control state is an
// explicit signal (continue/abort/return) checked after every step rather
// than an exception, so try/finally cleanup stays deterministic.
type FlowEngine struct {
	l         *slog.Logger
	executor  *Executor
	evaluator Evaluator
	limits    Limits

	mu    sync.RWMutex
	flows map[string]FlowDefinition
}

var _ FlowRunner = (*FlowEngine)(nil)
var _ ControlInterpreter = (*FlowEngine)(nil)

// NewFlowEngine builds the engine and wires itself into the executor as the
// control interpreter.
func NewFlowEngine(l *slog.Logger, executor *Executor) *FlowEngine {
	if l == nil {
		l = slog.Default()
	}
	e := &FlowEngine{
		l:         l,
		executor:  executor,
		evaluator: executor.Evaluator(),
		limits:    executor.Limits(),
		flows:     make(map[string]FlowDefinition),
	}
	executor.SetControlInterpreter(e)
	return e
}

// Register adds a named flow. Re-registering a name overwrites the previous
// definition with a warning, matching registry semantics.
func (e *FlowEngine) Register(def FlowDefinition) error {
	if def.Name == "" {
		return fmt.Errorf("flow definition is missing a name")
	}

	e.mu.Lock()
	_, overwrote := e.flows[def.Name]
	e.flows[def.Name] = def
	e.mu.Unlock()

	if overwrote {
		e.l.Warn("overwriting registered flow", "flow", def.Name)
	}
	return nil
}

// RegisterAll registers every definition, stopping at the first invalid one.
func (e *FlowEngine) RegisterAll(defs []FlowDefinition) error {
	for _, def := range defs {
		if err := e.Register(def); err != nil {
			return err
		}
	}
	return nil
}

func (e *FlowEngine) Has(name string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.flows[name]
	return ok
}

// Names returns the registered flow names.
func (e *FlowEngine) Names() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	names := make([]string, 0, len(e.flows))
	for name := range e.flows {
		names = append(names, name)
	}
	return names
}

// Execute runs a named flow: parameter binding, a child context with fresh
// flow-local control state, then the body as a sequence. A missing flow or a
// missing required parameter is a caller programming error and returns a
// fatal error, distinct from per-action failures.
func (e *FlowEngine) Execute(actx *ActionContext, name string, args map[string]any) (FlowResult, error) {
	e.mu.RLock()
	def, ok := e.flows[name]
	e.mu.RUnlock()
	if !ok {
		return FlowResult{}, newFlowNotFound(name)
	}

	if actx.Depth() >= e.limits.MaxFlowDepth {
		return FlowResult{}, &EngineError{
			Code:    ErrCodeDepthExceeded,
			Message: fmt.Sprintf("flow call depth exceeds the limit of %d", e.limits.MaxFlowDepth),
			Flow:    name,
		}
	}

	resolved, err := BindParameters(def.Name, def.Parameters, args)
	if err != nil {
		return FlowResult{}, err
	}

	child := actx.forkFlow(resolved)
	e.l.InfoContext(child, "executing flow", "flow", name, "depth", child.Depth())

	results, err := e.executor.ExecuteSequence(child, def.Actions)
	if err != nil {
		return FlowResult{Results: results}, err
	}

	result := FlowResult{Results: results}
	if v, ok := child.Flow().ReturnValue(); ok {
		result.Value = v
	} else if def.Returns != "" && !child.Flow().Interrupted() {
		v, err := e.evaluator.Evaluate(child, def.Returns)
		if err != nil {
			return result, fmt.Errorf("error evaluating returns expression for flow %s: %w", name, err)
		}
		result.Value = v
	}
	return result, nil
}

// BindParameters resolves declared parameters against supplied arguments.
// Unrecognized extra arguments are ignored; a missing required parameter is a
// fatal error naming the parameter. Shared by flow execution and command
// dispatch.
func BindParameters(owner string, params []Parameter, args map[string]any) (map[string]any, error) {
	resolved := make(map[string]any, len(params))
	for _, p := range params {
		if v, ok := args[p.Name]; ok {
			resolved[p.Name] = v
			continue
		}
		if p.Default != nil {
			resolved[p.Name] = p.Default
			continue
		}
		if p.Required {
			return nil, newMissingParameter(owner, p.Name)
		}
	}
	return resolved, nil
}

// ControlInterpreter implementation.

func (e *FlowEngine) Handles(actionType string) bool {
	switch actionType {
	case ActionFlowIf, ActionIf, ActionFlowSwitch, ActionFlowWhile,
		ActionRepeat, ActionTry, ActionParallel, ActionBatch:
		return true
	}
	return false
}

// Run executes one control-flow action. Fatal engine errors unwind the call;
// failed inner results fail the control action with the inner error intact.
func (e *FlowEngine) Run(actx *ActionContext, action Action) (ActionResult, error) {
	var (
		data any
		err  error
	)

	switch action.Type {
	case ActionFlowIf, ActionIf:
		data, err = e.runIf(actx, action)
	case ActionFlowSwitch:
		data, err = e.runSwitch(actx, action)
	case ActionFlowWhile:
		data, err = e.runWhile(actx, action)
	case ActionRepeat:
		data, err = e.runRepeat(actx, action)
	case ActionTry:
		data, err = e.runTry(actx, action)
	case ActionParallel:
		data, err = e.runParallel(actx, action)
	case ActionBatch:
		data, err = e.runBatch(actx, action)
	default:
		err = newActionNotFound(action.Type)
	}

	if err != nil {
		if fatal := asFatal(err); fatal != nil {
			return ActionResult{}, fatal
		}
		var re *resultError
		if asResultError(err, &re) {
			return ActionResult{Success: false, Error: re.info}, nil
		}
		return Fail(ErrCodeExecution, action.Type, err.Error()), nil
	}

	result := Succeed(data)
	// repeat and batch use the action's "as" for their loop/item variable;
	// every other control action binds its result like ordinary actions do.
	if action.As != "" && action.Type != ActionRepeat && action.Type != ActionBatch {
		if serr := actx.Set(action.As, result.Data); serr != nil {
			return Fail(ErrCodeInvalidConfig, action.Type, serr.Error()), nil
		}
	}
	return result, nil
}

func asResultError(err error, target **resultError) bool {
	re, ok := err.(*resultError)
	if ok {
		*target = re
	}
	return ok
}

// handlerSignal invokes the registered pure handler for a control action and
// normalizes its result into a signal map.
func (e *FlowEngine) handlerSignal(actx *ActionContext, action Action) (map[string]any, error) {
	handler, err := e.executor.Registry().Get(action.Type)
	if err != nil {
		return nil, err
	}
	data, err := handler.Execute(actx, action.Config)
	if err != nil {
		return nil, err
	}
	if m, ok := data.(map[string]any); ok {
		return m, nil
	}
	return map[string]any{}, nil
}

// runBody materializes and executes a nested action body in the given frame,
// converting a failed inner result into a resultError.
func (e *FlowEngine) runBody(actx *ActionContext, raw any) error {
	actions, err := CoerceActions(raw)
	if err != nil {
		return err
	}
	if len(actions) == 0 {
		return nil
	}
	results, err := e.executor.ExecuteSequence(actx, actions)
	if err != nil {
		return err
	}
	if info := firstFailure(results); info != nil {
		return &resultError{info: info}
	}
	return nil
}

func (e *FlowEngine) runIf(actx *ActionContext, action Action) (any, error) {
	sig, err := e.handlerSignal(actx, action)
	if err != nil {
		return nil, err
	}
	cond, _ := sig["condition"].(bool)

	body := action.Config["then"]
	if !cond {
		body = action.Config["else"]
	}
	if err := e.runBody(actx, body); err != nil {
		return nil, err
	}
	return map[string]any{"condition": cond}, nil
}

func (e *FlowEngine) runSwitch(actx *ActionContext, action Action) (any, error) {
	sig, err := e.handlerSignal(actx, action)
	if err != nil {
		return nil, err
	}
	value := fmt.Sprint(sig["value"])

	casesRaw := action.Config["cases"]
	cases, err := toStringKeyMap(casesRaw)
	if casesRaw != nil && err != nil {
		return nil, fmt.Errorf("switch cases must be a mapping: %w", err)
	}

	body, matched := cases[value]
	if !matched {
		body = action.Config["default"]
	}
	if err := e.runBody(actx, body); err != nil {
		return nil, err
	}

	data := map[string]any{"matched": matched}
	if matched {
		data["case"] = value
	}
	return data, nil
}

func (e *FlowEngine) runWhile(actx *ActionContext, action Action) (any, error) {
	iterations := 0
	for {
		if iterations >= e.limits.MaxIterations {
			return nil, &EngineError{
				Code:    ErrCodeIterationLimit,
				Message: fmt.Sprintf("while loop exceeded the iteration limit of %d", e.limits.MaxIterations),
				Action:  action.Type,
			}
		}
		if actx.Cancelled() || actx.Flow().Interrupted() {
			break
		}

		sig, err := e.handlerSignal(actx, action)
		if err != nil {
			return nil, err
		}
		if cond, _ := sig["condition"].(bool); !cond {
			break
		}

		if err := e.runBody(actx, action.Config["do"]); err != nil {
			return nil, err
		}
		iterations++
	}
	return map[string]any{"iterations": iterations}, nil
}

func (e *FlowEngine) runRepeat(actx *ActionContext, action Action) (any, error) {
	sig, err := e.handlerSignal(actx, action)
	if err != nil {
		return nil, err
	}
	count := toInt(sig["count"])

	loopVar := action.As
	if loopVar == "" {
		loopVar = "index"
	}

	for i := 0; i < count; i++ {
		if actx.Cancelled() || actx.Flow().Interrupted() {
			break
		}
		iter := actx.Fork()
		iter.bind(loopVar, i)
		if err := e.runBody(iter, action.Config["do"]); err != nil {
			return nil, err
		}
	}
	return map[string]any{"count": count}, nil
}

func (e *FlowEngine) runTry(actx *ActionContext, action Action) (data any, err error) {
	// finally always runs, including on fatal unwind.
	defer func() {
		if ferr := e.runBody(actx, action.Config["finally"]); ferr != nil && err == nil {
			data, err = nil, ferr
		}
	}()

	caught := false
	var info *ErrorInfo

	doErr := e.runBody(actx, action.Config["do"])
	if doErr != nil {
		var re *resultError
		if !asResultError(doErr, &re) {
			return nil, doErr
		}
		caught = true
		info = re.info

		if action.Config["catch"] != nil {
			catchCtx := actx.Fork()
			catchCtx.bind("error", info.ToMap())
			if cerr := e.runBody(catchCtx, action.Config["catch"]); cerr != nil {
				return nil, cerr
			}
		}
	}

	data = map[string]any{"caught": caught}
	if info != nil {
		data.(map[string]any)["error"] = info.ToMap()
	}
	return data, nil
}

func (e *FlowEngine) runParallel(actx *ActionContext, action Action) (any, error) {
	actions, err := CoerceActions(action.Config["actions"])
	if err != nil {
		return nil, err
	}

	results, err := e.executor.ExecuteParallel(actx, actions)
	if err != nil {
		return nil, err
	}
	if info := firstFailure(results); info != nil {
		return nil, &resultError{info: info}
	}
	return map[string]any{"count": len(results)}, nil
}

func (e *FlowEngine) runBatch(actx *ActionContext, action Action) (any, error) {
	sig, err := e.handlerSignal(actx, action)
	if err != nil {
		return nil, err
	}
	items, ok := sig["items"].([]any)
	if !ok {
		return nil, fmt.Errorf("batch items did not evaluate to a list")
	}

	template, err := CoerceActions(action.Config["do"])
	if err != nil {
		return nil, err
	}

	itemResults, err := e.executor.ExecuteBatch(actx, items, template, BatchOptions{
		As:          action.As,
		Concurrency: toInt(action.Config["concurrency"]),
	})
	if err != nil {
		return nil, err
	}

	failed := 0
	for _, seq := range itemResults {
		if firstFailure(seq) != nil {
			failed++
		}
	}
	return map[string]any{
		"count":     len(items),
		"processed": len(itemResults),
		"failed":    failed,
	}, nil
}

func toInt(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case int64:
		return int(n)
	case float64:
		return int(n)
	case uint64:
		return int(n)
	}
	return 0
}
