package core

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"

	"github.com/flowbotio/flowbot/runtime"
	"github.com/flowbotio/flowbot/runtime/exprlang"
)

func newCtx(logger *slog.Logger) *runtime.ActionContext {
	deps := &runtime.Deps{
		Evaluator: exprlang.New(),
		Logger:    logger,
	}
	return runtime.NewActionContext(context.Background(), "g1", "c1", "u1", deps)
}

func TestLogHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))
	actx := newCtx(logger)

	data, err := logHandler{}.Execute(actx, map[string]any{
		"message": "greeting ${userId}",
		"level":   "warn",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if data.(map[string]any)["message"] != "greeting u1" {
		t.Errorf("got %v", data)
	}
	out := buf.String()
	if !strings.Contains(out, "greeting u1") || !strings.Contains(out, "WARN") {
		t.Errorf("log output wrong: %q", out)
	}
}

func TestLogHandlerRequiresMessage(t *testing.T) {
	if err := (logHandler{}).Validate(map[string]any{}); err == nil {
		t.Error("log should require a message")
	}
}

func TestSetVarHandler(t *testing.T) {
	actx := newCtx(nil)

	data, err := setVarHandler{}.Execute(actx, map[string]any{
		"name":  "total",
		"value": "${2 + 3}",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if data.(map[string]any)["value"] != 5 {
		t.Errorf("got %v", data)
	}
	if v, _ := actx.Get("total"); v != 5 {
		t.Errorf("binding missing, got %v", v)
	}
}

func TestSetVarRefusesReservedNames(t *testing.T) {
	actx := newCtx(nil)
	if _, err := (setVarHandler{}).Execute(actx, map[string]any{"name": "guildId", "value": "x"}); err == nil {
		t.Error("expected an error for a reserved name")
	}
}

func TestNoopHandler(t *testing.T) {
	data, err := noopHandler{}.Execute(newCtx(nil), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if data.(map[string]any)["ok"] != true {
		t.Errorf("got %v", data)
	}
}
