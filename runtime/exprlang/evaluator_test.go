package exprlang

import (
	"testing"

	"github.com/flowbotio/flowbot/runtime"
)

func newCtx(t *testing.T) *runtime.ActionContext {
	t.Helper()
	actx := runtime.NewActionContext(nil, "g1", "c1", "u7", &runtime.Deps{Evaluator: New()})
	if err := actx.Set("count", 3); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := actx.Set("empty", nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return actx
}

func TestEvaluate(t *testing.T) {
	e := New()
	actx := newCtx(t)

	tests := []struct {
		name string
		expr string
		want any
	}{
		{"arithmetic", "count * 2", 6},
		{"binding", "userId", "u7"},
		{"comparison", "count > 1", true},
		{"undefined is nil", "no_such_thing", nil},
		{"null alias", "empty == null", true},
		{"defined hit", `defined("count")`, true},
		{"defined miss", `defined("ghost")`, false},
		{"base64 round trip", `base64_decode(base64_encode("mods"))`, "mods"},
		{"string method", `upper("abc")`, "ABC"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.Evaluate(actx, tt.expr)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %v (%T), want %v", got, got, tt.want)
			}
		})
	}
}

func TestEvaluateCompileError(t *testing.T) {
	if _, err := New().Evaluate(newCtx(t), "count +"); err == nil {
		t.Error("expected a compile error")
	}
}

func TestInterpolate(t *testing.T) {
	e := New()
	actx := newCtx(t)

	tests := []struct {
		name     string
		template string
		want     string
	}{
		{"plain text", "hello there", "hello there"},
		{"single segment", "count is ${count}", "count is 3"},
		{"multiple segments", "${userId} in ${guildId}", "u7 in g1"},
		{"nil renders empty", "[${empty}]", "[]"},
		{"nested braces", `${ {"a": 1}["a"] }`, "1"},
		{"brace inside string", `${ "{" + "ok" }`, "{ok"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.Interpolate(actx, tt.template)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestInterpolateUnterminated(t *testing.T) {
	if _, err := New().Interpolate(newCtx(t), "broken ${count"); err == nil {
		t.Error("expected an error for an unterminated segment")
	}
}
