package runtime

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ControlInterpreter lets the flow engine claim control-flow action types
// (if/while/repeat/try/...) so their nested bodies are interpreted with flow
// semantics wherever they appear, including inside batch templates.
type ControlInterpreter interface {
	Handles(actionType string) bool
	Run(actx *ActionContext, action Action) (ActionResult, error)
}

// SequenceOptions tunes ExecuteSequenceWith. The zero value stops at the
// first failing result.
type SequenceOptions struct {
	ContinueOnError bool
}

// BatchOptions tunes ExecuteBatch.
type BatchOptions struct {
	// As is the binding name for the current item; defaults to "item".
	// The item's absolute position is bound as "<as>_index".
	As string
	// Concurrency is the batch window size; defaults to 1 (fully sequential).
	Concurrency int
}

// Executor runs one action, a sequence, a bounded-parallel set, or a batched
// set against one shared ActionContext. All concurrency is caller-requested
// and bounded; cancellation is cooperative and polled at step and window
// boundaries.
type Executor struct {
	l         *slog.Logger
	registry  *Registry
	evaluator Evaluator
	limits    Limits
	control   ControlInterpreter
}

func NewExecutor(l *slog.Logger, registry *Registry, evaluator Evaluator, limits Limits) *Executor {
	if l == nil {
		l = slog.Default()
	}
	return &Executor{
		l:         l,
		registry:  registry,
		evaluator: evaluator,
		limits:    limits.withDefaults(),
	}
}

// SetControlInterpreter wires the flow engine in after construction; the
// executor and engine reference each other.
func (e *Executor) SetControlInterpreter(ci ControlInterpreter) {
	e.control = ci
}

func (e *Executor) Evaluator() Evaluator { return e.evaluator }
func (e *Executor) Registry() *Registry  { return e.registry }
func (e *Executor) Limits() Limits       { return e.limits }

// ExecuteOne runs a single action: cancellation check, guard condition,
// handler resolution, optional config validation, then execution. Handler
// failures become failed results; unknown action names are returned as errors
// because they indicate a malformed specification.
func (e *Executor) ExecuteOne(actx *ActionContext, action Action) (ActionResult, error) {
	if actx.Cancelled() {
		return Fail(ErrCodeCancelled, action.Type, "execution cancelled before action started"), nil
	}

	if action.When != nil {
		ok, err := EvaluateCondition(actx, e.evaluator, action.When)
		if err != nil {
			return Fail(ErrCodeInvalidConfig, action.Type, err.Error()), nil
		}
		if !ok {
			// A skipped action is not an error.
			return Skipped(), nil
		}
	}

	handler, err := e.registry.Get(action.Type)
	if err != nil {
		return ActionResult{}, err
	}

	if v, ok := handler.(ConfigValidator); ok {
		if verr := v.Validate(action.Config); verr != nil {
			return Fail(ErrCodeInvalidConfig, action.Type, verr.Error()), nil
		}
	}

	if e.control != nil && e.control.Handles(action.Type) {
		// The flow engine interprets control actions and owns their "as"
		// binding (repeat/batch use it for the loop variable).
		return e.control.Run(actx, action)
	}

	data, err := e.invoke(handler, actx, action)
	if err != nil {
		if fatal := asFatal(err); fatal != nil {
			return ActionResult{}, fatal
		}
		e.l.ErrorContext(actx, "action execution failed",
			"action", action.Type,
			"error", err)
		return Fail(ErrCodeExecution, action.Type,
			fmt.Sprintf("action %q failed: %v", action.Type, err)), nil
	}

	result := Succeed(data)
	if action.As != "" {
		if serr := actx.Set(action.As, result.Data); serr != nil {
			return Fail(ErrCodeInvalidConfig, action.Type, serr.Error()), nil
		}
	}
	return result, nil
}

// invoke calls the handler, converting a panic into an ordinary error so one
// faulty handler cannot take down the dispatcher.
func (e *Executor) invoke(handler ActionHandler, actx *ActionContext, action Action) (data any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler.Execute(actx, action.Config)
}

// asFatal returns the underlying EngineError when err carries a fatal code
// that must unwind the call rather than become a per-action failure. This is
// how a call_flow handler propagates flow-not-found and limit conditions.
func asFatal(err error) *EngineError {
	var ee *EngineError
	if !errors.As(err, &ee) {
		return nil
	}
	switch ee.Code {
	case ErrCodeActionNotFound, ErrCodeFlowNotFound, ErrCodeLimitExceeded,
		ErrCodeDepthExceeded, ErrCodeIterationLimit, ErrCodeMissingParameter:
		return ee
	}
	return nil
}

// ExecuteSequence runs actions in order, stopping at the first failing
// result. Partial results are returned when cancellation or a flow-control
// signal interrupts the walk.
func (e *Executor) ExecuteSequence(actx *ActionContext, actions []Action) ([]ActionResult, error) {
	return e.ExecuteSequenceWith(actx, actions, SequenceOptions{})
}

// ExecuteSequenceWith runs actions in order with explicit options. With
// ContinueOnError set it attempts every action and returns one result per
// attempted action, in original order, regardless of intermediate failures.
func (e *Executor) ExecuteSequenceWith(actx *ActionContext, actions []Action, opts SequenceOptions) ([]ActionResult, error) {
	if len(actions) > e.limits.MaxActions {
		return nil, newLimitExceeded(fmt.Sprintf(
			"sequence of %d actions exceeds the limit of %d", len(actions), e.limits.MaxActions))
	}

	results := make([]ActionResult, 0, len(actions))
	for i, action := range actions {
		if i > 0 && actx.Cancelled() {
			e.l.InfoContext(actx, "sequence cancelled", "completed", len(results))
			break
		}
		if actx.Flow().Interrupted() {
			// abort/return in the flow body stops the remaining actions.
			break
		}

		res, err := e.ExecuteOne(actx, action)
		if err != nil {
			return results, err
		}
		results = append(results, res)

		if !res.Success && !opts.ContinueOnError {
			break
		}
	}
	return results, nil
}

// ExecuteParallel launches every action against the same context
// concurrently and returns results aligned with input order once all
// complete. There is no early cancellation on first failure; in-flight
// actions always run to completion.
func (e *Executor) ExecuteParallel(actx *ActionContext, actions []Action) ([]ActionResult, error) {
	if len(actions) > e.limits.MaxParallel {
		return nil, newLimitExceeded(fmt.Sprintf(
			"%d parallel actions exceed the limit of %d", len(actions), e.limits.MaxParallel))
	}

	results := make([]ActionResult, len(actions))
	errs := make([]error, len(actions))

	var wg sync.WaitGroup
	for i, action := range actions {
		wg.Add(1)
		go func(i int, action Action) {
			defer wg.Done()
			results[i], errs[i] = e.ExecuteOne(actx, action)
		}(i, action)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return results, err
		}
	}
	return results, nil
}

// ExecuteBatch iterates items in fixed-size windows of Concurrency. Window
// N+1 never starts before every item of window N finished; within a window,
// items run concurrently, each against a child context binding the item value
// and its absolute index. Result shape: one sequence-result slice per item,
// in item order.
func (e *Executor) ExecuteBatch(actx *ActionContext, items []any, template []Action, opts BatchOptions) ([][]ActionResult, error) {
	as := opts.As
	if as == "" {
		as = "item"
	}
	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	if concurrency > e.limits.MaxParallel {
		return nil, newLimitExceeded(fmt.Sprintf(
			"batch concurrency %d exceeds the limit of %d", concurrency, e.limits.MaxParallel))
	}

	results := make([][]ActionResult, len(items))
	for start := 0; start < len(items); start += concurrency {
		if actx.Cancelled() || actx.Flow().Interrupted() {
			return results[:start], nil
		}

		end := start + concurrency
		if end > len(items) {
			end = len(items)
		}

		var wg sync.WaitGroup
		errs := make([]error, end-start)
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				child := actx.Fork()
				child.bind(as, items[i])
				child.bind(as+"_index", i)
				results[i], errs[i-start] = e.ExecuteSequence(child, template)
			}(i)
		}
		wg.Wait()

		for _, err := range errs {
			if err != nil {
				return results[:end], err
			}
		}
	}
	return results, nil
}
