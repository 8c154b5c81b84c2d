package runtime

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
)

// stubEvaluator understands just enough expression shapes to drive the core
// tests: literals, binding lookups, and "name < number" comparisons. The
// real grammar lives in runtime/exprlang.
type stubEvaluator struct{}

func (stubEvaluator) Evaluate(actx *ActionContext, expression string) (any, error) {
	expression = strings.TrimSpace(expression)
	switch expression {
	case "true":
		return true, nil
	case "false":
		return false, nil
	case "null":
		return nil, nil
	}
	if n, err := strconv.Atoi(expression); err == nil {
		return n, nil
	}
	if strings.HasPrefix(expression, `"`) && strings.HasSuffix(expression, `"`) && len(expression) >= 2 {
		return expression[1 : len(expression)-1], nil
	}
	if name, bound, ok := strings.Cut(expression, " < "); ok {
		left, lok := actx.Get(strings.TrimSpace(name))
		limit, err := strconv.Atoi(strings.TrimSpace(bound))
		if err != nil {
			return nil, fmt.Errorf("bad comparison bound in %q", expression)
		}
		n, nok := left.(int)
		if !lok || !nok {
			return nil, fmt.Errorf("comparison needs an int binding in %q", expression)
		}
		return n < limit, nil
	}
	if v, ok := actx.Get(expression); ok {
		return v, nil
	}
	return nil, fmt.Errorf("cannot evaluate %q", expression)
}

func (e stubEvaluator) Interpolate(actx *ActionContext, template string) (string, error) {
	var b strings.Builder
	for {
		start := strings.Index(template, "${")
		if start < 0 {
			b.WriteString(template)
			return b.String(), nil
		}
		end := strings.Index(template[start:], "}")
		if end < 0 {
			return "", fmt.Errorf("unterminated template in %q", template)
		}
		b.WriteString(template[:start])
		v, err := e.Evaluate(actx, template[start+2:start+end])
		if err != nil {
			return "", err
		}
		if v != nil {
			fmt.Fprint(&b, v)
		}
		template = template[start+end+1:]
	}
}

// callLog records handler invocations across goroutines.
type callLog struct {
	mu    sync.Mutex
	calls []string
}

func (l *callLog) add(name string) {
	l.mu.Lock()
	l.calls = append(l.calls, name)
	l.mu.Unlock()
}

func (l *callLog) names() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.calls...)
}

func recordHandler(name string, log *callLog) HandlerFunc {
	return HandlerFunc{
		ActionName: name,
		Fn: func(actx *ActionContext, config map[string]any) (any, error) {
			log.add(name)
			return map[string]any{"ran": name}, nil
		},
	}
}

func failingHandler(name string) HandlerFunc {
	return HandlerFunc{
		ActionName: name,
		Fn: func(actx *ActionContext, config map[string]any) (any, error) {
			return nil, fmt.Errorf("%s always fails", name)
		},
	}
}

func testContext(deps *Deps) *ActionContext {
	return NewActionContext(context.Background(), "guild-1", "chan-1", "user-1", deps)
}

func testExecutor(handlers ...ActionHandler) (*Executor, *Registry) {
	registry := NewRegistry(nil)
	registry.RegisterAll(handlers)
	return NewExecutor(nil, registry, stubEvaluator{}, Limits{}), registry
}
