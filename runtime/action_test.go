package runtime

import (
	"testing"

	"gopkg.in/yaml.v3"
)

func TestCoerceAction(t *testing.T) {
	raw := map[string]any{
		"type":    "send_message",
		"when":    "score > 3",
		"as":      "sent",
		"channel": "general",
		"text":    "hello",
	}

	a, err := CoerceAction(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.Type != "send_message" || a.As != "sent" {
		t.Errorf("reserved keys wrong: %+v", a)
	}
	if a.When == nil || a.When.Expr != "score > 3" {
		t.Errorf("when not parsed: %+v", a.When)
	}
	if a.Config["channel"] != "general" || a.Config["text"] != "hello" {
		t.Errorf("config keys wrong: %#v", a.Config)
	}
	if _, ok := a.Config["type"]; ok {
		t.Error("reserved key leaked into config")
	}
}

func TestCoerceActionMissingType(t *testing.T) {
	if _, err := CoerceAction(map[string]any{"text": "hi"}); err == nil {
		t.Error("expected an error for a typeless action")
	}
}

func TestActionUnmarshalYAML(t *testing.T) {
	doc := `
type: flow_if
when:
  all:
    - "defined('user')"
    - not: "banned"
condition: "score > 10"
then:
  - type: send_message
    text: promoted
`
	var a Action
	if err := yaml.Unmarshal([]byte(doc), &a); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if a.Type != "flow_if" {
		t.Errorf("got type %q", a.Type)
	}
	if a.When == nil || len(a.When.All) != 2 {
		t.Fatalf("when tree wrong: %+v", a.When)
	}
	if a.When.All[1].Not == nil {
		t.Error("nested not missing")
	}

	nested, err := CoerceActions(a.Config["then"])
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(nested) != 1 || nested[0].Type != "send_message" {
		t.Errorf("nested body wrong: %+v", nested)
	}
}

func TestCoerceActionsNil(t *testing.T) {
	actions, err := CoerceActions(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(actions) != 0 {
		t.Errorf("got %d actions, want 0", len(actions))
	}
}

func TestCoerceActionsRejectsNonList(t *testing.T) {
	if _, err := CoerceActions("not a list"); err == nil {
		t.Error("expected an error")
	}
}
