package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/flowbotio/flowbot/actions/control"
	"github.com/flowbotio/flowbot/botspec"
	"github.com/flowbotio/flowbot/runtime"
	"github.com/flowbotio/flowbot/runtime/exprlang"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testServer(t *testing.T) *Server {
	t.Helper()

	registry := runtime.NewRegistry(nil)
	evaluator := exprlang.New()
	executor := runtime.NewExecutor(nil, registry, evaluator, runtime.Limits{})
	engine := runtime.NewFlowEngine(nil, executor)

	deps := &runtime.Deps{
		Evaluator: evaluator,
		Flows:     engine,
		Registry:  registry,
	}

	control.Register(registry)
	registry.Register(runtime.HandlerFunc{
		ActionName: "echo",
		Fn: func(actx *runtime.ActionContext, config map[string]any) (any, error) {
			return runtime.ResolveTemplates(actx, actx.Deps().Evaluator, config)
		},
	})

	if err := engine.Register(runtime.FlowDefinition{
		Name: "double",
		Parameters: []runtime.Parameter{
			{Name: "n", Required: true},
		},
		Actions: []runtime.Action{{Type: "echo"}},
		Returns: "args.n * 2",
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	spec := &botspec.BotSpec{
		Name: "testbot",
		Commands: []botspec.Command{{
			Name: "greet",
			Parameters: []runtime.Parameter{
				{Name: "who", Required: true},
			},
			Actions: []runtime.Action{{
				Type:   "echo",
				As:     "greeting",
				Config: map[string]any{"text": "hello, ${args.who}"},
			}},
		}},
		Events: []botspec.EventBinding{
			{
				Event: "member_join",
				When:  &runtime.Condition{Expr: "event.count > 1"},
				Actions: []runtime.Action{{
					Type:   "echo",
					Config: map[string]any{"tag": "busy"},
				}},
			},
			{
				Event: "member_join",
				Actions: []runtime.Action{{
					Type:   "echo",
					Config: map[string]any{"tag": "always"},
				}},
			},
		},
	}

	return New(nil, deps, executor, engine, spec)
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	var out map[string]any
	if len(w.Body.Bytes()) > 0 {
		if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
			t.Fatalf("invalid response body %q: %v", w.Body.String(), err)
		}
	}
	return w, out
}

func TestHealth(t *testing.T) {
	router := testServer(t).Router()
	w, out := doJSON(t, router, http.MethodGet, "/healthz", nil)
	if w.Code != http.StatusOK || out["status"] != "ok" {
		t.Errorf("got %d %v", w.Code, out)
	}
}

func TestListActionsAndFlows(t *testing.T) {
	router := testServer(t).Router()

	_, out := doJSON(t, router, http.MethodGet, "/v1/actions", nil)
	actions, _ := out["actions"].([]any)
	found := false
	for _, a := range actions {
		if a == "echo" {
			found = true
		}
	}
	if !found {
		t.Errorf("echo missing from %v", actions)
	}

	_, out = doJSON(t, router, http.MethodGet, "/v1/flows", nil)
	flows, _ := out["flows"].([]any)
	if len(flows) != 1 || flows[0] != "double" {
		t.Errorf("got flows %v", flows)
	}
}

func TestRunFlow(t *testing.T) {
	router := testServer(t).Router()

	w, out := doJSON(t, router, http.MethodPost, "/v1/flows/double", map[string]any{
		"guild_id": "g1",
		"args":     map[string]any{"n": 21},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("got %d: %v", w.Code, out)
	}
	if got, ok := out["value"].(float64); !ok || got != 42 {
		t.Errorf("got value %v", out["value"])
	}
	if out["execution_id"] == "" || out["execution_id"] == nil {
		t.Error("execution id missing")
	}
}

func TestRunFlowMissingArgument(t *testing.T) {
	router := testServer(t).Router()
	w, _ := doJSON(t, router, http.MethodPost, "/v1/flows/double", map[string]any{})
	if w.Code != http.StatusBadRequest {
		t.Errorf("got %d", w.Code)
	}
}

func TestRunFlowUnknown(t *testing.T) {
	router := testServer(t).Router()
	w, out := doJSON(t, router, http.MethodPost, "/v1/flows/nope", map[string]any{})
	if w.Code != http.StatusNotFound {
		t.Errorf("got %d: %v", w.Code, out)
	}
}

func TestRunSequence(t *testing.T) {
	router := testServer(t).Router()

	w, out := doJSON(t, router, http.MethodPost, "/v1/sequences", map[string]any{
		"user_id": "u1",
		"actions": []any{
			map[string]any{"type": "echo", "text": "first for ${userId}"},
			map[string]any{"type": "echo", "text": "second"},
		},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("got %d: %v", w.Code, out)
	}
	results, _ := out["results"].([]any)
	if len(results) != 2 {
		t.Fatalf("got %d results", len(results))
	}
	first, _ := results[0].(map[string]any)
	data, _ := first["data"].(map[string]any)
	if data["text"] != "first for u1" {
		t.Errorf("got %v", data)
	}
}

func TestRunSequenceBadActions(t *testing.T) {
	router := testServer(t).Router()
	w, _ := doJSON(t, router, http.MethodPost, "/v1/sequences", map[string]any{
		"actions": []any{"not an action"},
	})
	if w.Code != http.StatusBadRequest {
		t.Errorf("got %d", w.Code)
	}
}

func TestRunCommand(t *testing.T) {
	router := testServer(t).Router()

	w, out := doJSON(t, router, http.MethodPost, "/v1/commands/greet", map[string]any{
		"user_id": "u1",
		"args":    map[string]any{"who": "ada"},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("got %d: %v", w.Code, out)
	}
	results, _ := out["results"].([]any)
	if len(results) != 1 {
		t.Fatalf("got %d results", len(results))
	}
	first, _ := results[0].(map[string]any)
	data, _ := first["data"].(map[string]any)
	if data["text"] != "hello, ada" {
		t.Errorf("got %v", data)
	}
}

func TestRunCommandMissingParameter(t *testing.T) {
	router := testServer(t).Router()
	w, _ := doJSON(t, router, http.MethodPost, "/v1/commands/greet", map[string]any{})
	if w.Code != http.StatusBadRequest {
		t.Errorf("got %d", w.Code)
	}
}

func TestRunCommandUnknown(t *testing.T) {
	router := testServer(t).Router()
	w, _ := doJSON(t, router, http.MethodPost, "/v1/commands/shrug", map[string]any{})
	if w.Code != http.StatusNotFound {
		t.Errorf("got %d", w.Code)
	}
}

func TestFireEventConditionGates(t *testing.T) {
	router := testServer(t).Router()

	w, out := doJSON(t, router, http.MethodPost, "/v1/events/member_join", map[string]any{
		"payload": map[string]any{"count": 1},
	})
	if w.Code != http.StatusOK {
		t.Fatalf("got %d: %v", w.Code, out)
	}
	if got, _ := out["bindings"].(float64); got != 2 {
		t.Errorf("got bindings %v", out["bindings"])
	}
	if got, _ := out["fired"].(float64); got != 1 {
		t.Errorf("got fired %v", out["fired"])
	}

	_, out = doJSON(t, router, http.MethodPost, "/v1/events/member_join", map[string]any{
		"payload": map[string]any{"count": 5},
	})
	if got, _ := out["fired"].(float64); got != 2 {
		t.Errorf("got fired %v", out["fired"])
	}
}

func TestFireEventNoBindings(t *testing.T) {
	router := testServer(t).Router()
	w, out := doJSON(t, router, http.MethodPost, "/v1/events/member_leave", map[string]any{})
	if w.Code != http.StatusOK {
		t.Fatalf("got %d", w.Code)
	}
	if got, _ := out["fired"].(float64); got != 0 {
		t.Errorf("got fired %v", out["fired"])
	}
}
