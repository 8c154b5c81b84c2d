package runtime

// ActionHandler executes one kind of action. Execute receives the shared
// action context and the action's operation-specific config; the returned
// value becomes the result payload. A returned error becomes a failed
// ActionResult, it does not unwind the sequence.
//
// Handlers obtain their collaborators (state manager, evaluator, flow runner,
// platform clients) from the context's dependency bag, never from globals.
type ActionHandler interface {
	Name() string
	Execute(actx *ActionContext, config map[string]any) (any, error)
}

// ConfigValidator is an optional handler capability. When implemented, the
// executor calls Validate before Execute; a non-nil error fails the action
// without invoking Execute.
type ConfigValidator interface {
	Validate(config map[string]any) error
}

// HandlerFunc adapts a plain function to the ActionHandler interface.
type HandlerFunc struct {
	ActionName string
	Fn         func(actx *ActionContext, config map[string]any) (any, error)
}

func (h HandlerFunc) Name() string { return h.ActionName }

func (h HandlerFunc) Execute(actx *ActionContext, config map[string]any) (any, error) {
	return h.Fn(actx, config)
}
