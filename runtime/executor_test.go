package runtime

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"
)

func TestExecuteOne(t *testing.T) {
	t.Run("success binds as", func(t *testing.T) {
		exec, _ := testExecutor(HandlerFunc{
			ActionName: "greet",
			Fn: func(actx *ActionContext, config map[string]any) (any, error) {
				return map[string]any{"text": "hi"}, nil
			},
		})
		actx := testContext(&Deps{Evaluator: stubEvaluator{}})

		res, err := exec.ExecuteOne(actx, Action{Type: "greet", As: "greeting"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !res.Success {
			t.Fatalf("got failure: %+v", res.Error)
		}
		bound, ok := actx.Get("greeting")
		if !ok {
			t.Fatal("as-binding missing")
		}
		if bound.(map[string]any)["text"] != "hi" {
			t.Errorf("got %#v", bound)
		}
	})

	t.Run("false guard skips without invoking", func(t *testing.T) {
		log := &callLog{}
		exec, _ := testExecutor(recordHandler("greet", log))
		actx := testContext(&Deps{Evaluator: stubEvaluator{}})

		res, err := exec.ExecuteOne(actx, Action{Type: "greet", When: &Condition{Expr: "false"}})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !res.Success || res.Data != nil {
			t.Errorf("skipped action should be success with nil data, got %+v", res)
		}
		if len(log.names()) != 0 {
			t.Errorf("handler invoked %d times, want 0", len(log.names()))
		}
	})

	t.Run("unknown action is a fatal error", func(t *testing.T) {
		exec, _ := testExecutor()
		actx := testContext(&Deps{Evaluator: stubEvaluator{}})

		_, err := exec.ExecuteOne(actx, Action{Type: "missing"})
		if !IsCode(err, ErrCodeActionNotFound) {
			t.Errorf("got %v, want ACTION_NOT_FOUND", err)
		}
	})

	t.Run("handler error becomes failed result", func(t *testing.T) {
		exec, _ := testExecutor(failingHandler("flaky"))
		actx := testContext(&Deps{Evaluator: stubEvaluator{}})

		res, err := exec.ExecuteOne(actx, Action{Type: "flaky"})
		if err != nil {
			t.Fatalf("handler failure must not unwind: %v", err)
		}
		if res.Success {
			t.Fatal("expected a failed result")
		}
		if res.Error.Code != string(ErrCodeExecution) {
			t.Errorf("got code %q", res.Error.Code)
		}
		if res.Error.Action != "flaky" {
			t.Errorf("error should name the action, got %q", res.Error.Action)
		}
	})

	t.Run("panicking handler becomes failed result", func(t *testing.T) {
		exec, _ := testExecutor(HandlerFunc{
			ActionName: "explode",
			Fn: func(actx *ActionContext, config map[string]any) (any, error) {
				panic("boom")
			},
		})
		actx := testContext(&Deps{Evaluator: stubEvaluator{}})

		res, err := exec.ExecuteOne(actx, Action{Type: "explode"})
		if err != nil {
			t.Fatalf("panic must not unwind: %v", err)
		}
		if res.Success {
			t.Fatal("expected a failed result")
		}
	})

	t.Run("validator rejects before execute", func(t *testing.T) {
		log := &callLog{}
		exec, reg := testExecutor()
		reg.Register(validatedHandler{log: log})
		actx := testContext(&Deps{Evaluator: stubEvaluator{}})

		res, err := exec.ExecuteOne(actx, Action{Type: "validated", Config: map[string]any{}})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if res.Success || res.Error.Code != string(ErrCodeInvalidConfig) {
			t.Errorf("got %+v, want INVALID_CONFIG failure", res)
		}
		if len(log.names()) != 0 {
			t.Error("execute ran despite failed validation")
		}
	})

	t.Run("cancelled context fails immediately", func(t *testing.T) {
		log := &callLog{}
		exec, _ := testExecutor(recordHandler("greet", log))
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		actx := NewActionContext(ctx, "g", "c", "u", &Deps{Evaluator: stubEvaluator{}})

		res, err := exec.ExecuteOne(actx, Action{Type: "greet"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if res.Success || res.Error.Code != string(ErrCodeCancelled) {
			t.Errorf("got %+v, want CANCELLED failure", res)
		}
		if len(log.names()) != 0 {
			t.Error("handler invoked after cancellation")
		}
	})
}

type validatedHandler struct {
	log *callLog
}

func (validatedHandler) Name() string { return "validated" }

func (validatedHandler) Validate(config map[string]any) error {
	if config["target"] == nil {
		return fmt.Errorf("validated requires a 'target'")
	}
	return nil
}

func (h validatedHandler) Execute(actx *ActionContext, config map[string]any) (any, error) {
	h.log.add("validated")
	return nil, nil
}

func TestExecuteSequence(t *testing.T) {
	t.Run("stops at first failure", func(t *testing.T) {
		log := &callLog{}
		exec, _ := testExecutor(recordHandler("a", log), failingHandler("b"), recordHandler("c", log))
		actx := testContext(&Deps{Evaluator: stubEvaluator{}})

		results, err := exec.ExecuteSequence(actx, []Action{{Type: "a"}, {Type: "b"}, {Type: "c"}})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(results) != 2 {
			t.Fatalf("got %d results, want 2", len(results))
		}
		if !reflect.DeepEqual(log.names(), []string{"a"}) {
			t.Errorf("executed %v, want [a]", log.names())
		}
	})

	t.Run("continue on error attempts everything", func(t *testing.T) {
		log := &callLog{}
		exec, _ := testExecutor(recordHandler("a", log), failingHandler("b"), recordHandler("c", log))
		actx := testContext(&Deps{Evaluator: stubEvaluator{}})

		results, err := exec.ExecuteSequenceWith(actx,
			[]Action{{Type: "a"}, {Type: "b"}, {Type: "c"}},
			SequenceOptions{ContinueOnError: true})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(results) != 3 {
			t.Fatalf("got %d results, want 3", len(results))
		}
		if results[1].Success || !results[2].Success {
			t.Errorf("result shape wrong: %+v", results)
		}
		if !reflect.DeepEqual(log.names(), []string{"a", "c"}) {
			t.Errorf("executed %v, want [a c]", log.names())
		}
	})

	t.Run("sequence length limit", func(t *testing.T) {
		exec := NewExecutor(nil, NewRegistry(nil), stubEvaluator{}, Limits{MaxActions: 2})
		actx := testContext(&Deps{Evaluator: stubEvaluator{}})

		_, err := exec.ExecuteSequence(actx, []Action{{Type: "a"}, {Type: "a"}, {Type: "a"}})
		if !IsCode(err, ErrCodeLimitExceeded) {
			t.Errorf("got %v, want LIMIT_EXCEEDED", err)
		}
	})

	t.Run("cancellation between steps", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		log := &callLog{}
		exec, reg := testExecutor(recordHandler("after", log))
		reg.Register(HandlerFunc{
			ActionName: "trip",
			Fn: func(actx *ActionContext, config map[string]any) (any, error) {
				cancel()
				return nil, nil
			},
		})
		actx := NewActionContext(ctx, "g", "c", "u", &Deps{Evaluator: stubEvaluator{}})

		results, err := exec.ExecuteSequence(actx, []Action{{Type: "trip"}, {Type: "after"}})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(results) != 1 {
			t.Fatalf("got %d results, want 1", len(results))
		}
		if len(log.names()) != 0 {
			t.Error("step ran after cancellation")
		}
	})
}

func TestExecuteParallel(t *testing.T) {
	t.Run("results keep input order", func(t *testing.T) {
		exec, _ := testExecutor(HandlerFunc{
			ActionName: "echo",
			Fn: func(actx *ActionContext, config map[string]any) (any, error) {
				return config["n"], nil
			},
		})
		actx := testContext(&Deps{Evaluator: stubEvaluator{}})

		actions := make([]Action, 10)
		for i := range actions {
			actions[i] = Action{Type: "echo", Config: map[string]any{"n": i}}
		}

		results, err := exec.ExecuteParallel(actx, actions)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		for i, res := range results {
			if res.Data != i {
				t.Errorf("result %d carries %v", i, res.Data)
			}
		}
	})

	t.Run("parallel cap", func(t *testing.T) {
		exec := NewExecutor(nil, NewRegistry(nil), stubEvaluator{}, Limits{MaxParallel: 2})
		actx := testContext(&Deps{Evaluator: stubEvaluator{}})

		_, err := exec.ExecuteParallel(actx, []Action{{Type: "a"}, {Type: "a"}, {Type: "a"}})
		if !IsCode(err, ErrCodeLimitExceeded) {
			t.Errorf("got %v, want LIMIT_EXCEEDED", err)
		}
	})

	t.Run("one failure does not stop siblings", func(t *testing.T) {
		log := &callLog{}
		exec, _ := testExecutor(failingHandler("bad"), recordHandler("good", log))
		actx := testContext(&Deps{Evaluator: stubEvaluator{}})

		results, err := exec.ExecuteParallel(actx, []Action{{Type: "bad"}, {Type: "good"}})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if results[0].Success || !results[1].Success {
			t.Errorf("result shape wrong: %+v", results)
		}
	})
}

func TestExecuteBatch(t *testing.T) {
	t.Run("windows bound concurrency", func(t *testing.T) {
		var mu sync.Mutex
		running, peak := 0, 0

		exec, _ := testExecutor(HandlerFunc{
			ActionName: "track",
			Fn: func(actx *ActionContext, config map[string]any) (any, error) {
				mu.Lock()
				running++
				if running > peak {
					peak = running
				}
				mu.Unlock()

				time.Sleep(5 * time.Millisecond)

				mu.Lock()
				running--
				mu.Unlock()
				return nil, nil
			},
		})
		actx := testContext(&Deps{Evaluator: stubEvaluator{}})

		items := []any{"a", "b", "c", "d", "e"}
		results, err := exec.ExecuteBatch(actx, items, []Action{{Type: "track"}}, BatchOptions{Concurrency: 2})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(results) != 5 {
			t.Fatalf("got %d item results, want 5", len(results))
		}
		if peak > 2 {
			t.Errorf("observed %d concurrent items, want at most 2", peak)
		}
	})

	t.Run("item and index bindings", func(t *testing.T) {
		var mu sync.Mutex
		seen := map[int]any{}

		exec, _ := testExecutor(HandlerFunc{
			ActionName: "note",
			Fn: func(actx *ActionContext, config map[string]any) (any, error) {
				item, _ := actx.Get("entry")
				idx, _ := actx.Get("entry_index")
				mu.Lock()
				seen[idx.(int)] = item
				mu.Unlock()
				return nil, nil
			},
		})
		actx := testContext(&Deps{Evaluator: stubEvaluator{}})

		items := []any{"x", "y", "z"}
		if _, err := exec.ExecuteBatch(actx, items, []Action{{Type: "note"}}, BatchOptions{As: "entry"}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		want := map[int]any{0: "x", 1: "y", 2: "z"}
		if !reflect.DeepEqual(seen, want) {
			t.Errorf("got %v, want %v", seen, want)
		}

		// Bindings live in per-item frames and never leak into the parent.
		if _, ok := actx.Get("entry"); ok {
			t.Error("item binding leaked into parent context")
		}
	})

	t.Run("concurrency above cap is rejected", func(t *testing.T) {
		exec := NewExecutor(nil, NewRegistry(nil), stubEvaluator{}, Limits{MaxParallel: 3})
		actx := testContext(&Deps{Evaluator: stubEvaluator{}})

		_, err := exec.ExecuteBatch(actx, []any{1}, []Action{{Type: "a"}}, BatchOptions{Concurrency: 4})
		if !IsCode(err, ErrCodeLimitExceeded) {
			t.Errorf("got %v, want LIMIT_EXCEEDED", err)
		}
	})
}
