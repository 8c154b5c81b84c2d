package runtime

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flowbotio/flowbot/runtime/state"
)

var _ context.Context = (*ActionContext)(nil)

// Deps is the dependency bag injected into every execution. Handlers receive
// their collaborators through it rather than via globals, which is the seam
// that lets the core run against stubs in tests.
type Deps struct {
	Evaluator Evaluator
	State     state.Manager
	Flows     FlowRunner
	Registry  *Registry
	Logger    *slog.Logger

	// Extra carries host-provided services (platform clients, timer manager)
	// keyed by name.
	Extra map[string]any
}

// Service returns a host-provided service from the dependency bag.
func (d *Deps) Service(name string) (any, bool) {
	v, ok := d.Extra[name]
	return v, ok
}

// Reserved binding names that handler logic must never overwrite.
const (
	BindingGuildID   = "guildId"
	BindingChannelID = "channelId"
	BindingUserID    = "userId"
	BindingArgs      = "args"
	BindingState     = "state"
)

func isReservedBinding(name string) bool {
	switch name {
	case BindingGuildID, BindingChannelID, BindingUserID, BindingArgs, BindingState:
		return true
	}
	return false
}

// ActionContext is the mutable bag of named values flowing through one
// execution chain. It implements context.Context by delegating to the
// embedded context so cancellation and deadlines propagate through slog,
// handlers, and HTTP clients without a second parameter.
//
// Nested execution frames (repeat iterations, batch items, sub-flow calls)
// are produced by Fork: new bindings added in a child frame are invisible to
// the parent, while the dependency bag and the shared "state" map remain
// visible everywhere by reference.
type ActionContext struct {
	ID        string
	GuildID   string
	ChannelID string
	UserID    string

	deps   *Deps
	flow   *FlowState
	parent *ActionContext
	depth  int

	mu     sync.RWMutex
	values map[string]any

	ctx context.Context
}

// NewActionContext creates the root context for one externally-triggered
// execution (a command invocation, an event firing, an HTTP dispatch).
func NewActionContext(ctx context.Context, guildID, channelID, userID string, deps *Deps) *ActionContext {
	if ctx == nil {
		ctx = context.Background()
	}
	if deps == nil {
		deps = &Deps{}
	}
	return &ActionContext{
		ID:        uuid.New().String(),
		GuildID:   guildID,
		ChannelID: channelID,
		UserID:    userID,
		deps:      deps,
		flow:      NewFlowState(),
		values:    map[string]any{BindingState: map[string]any{}},
		ctx:       ctx,
	}
}

// context.Context implementation, mirroring http.Request-style delegation.

func (c *ActionContext) Deadline() (time.Time, bool) { return c.ctx.Deadline() }
func (c *ActionContext) Done() <-chan struct{}       { return c.ctx.Done() }
func (c *ActionContext) Err() error                  { return c.ctx.Err() }

func (c *ActionContext) Value(key any) any {
	if k, ok := key.(string); ok {
		if v, ok := c.Get(k); ok {
			return v
		}
		return nil
	}
	return c.ctx.Value(key)
}

// Cancelled reports whether the cancellation signal has been observed.
func (c *ActionContext) Cancelled() bool { return c.ctx.Err() != nil }

func (c *ActionContext) Deps() *Deps      { return c.deps }
func (c *ActionContext) Flow() *FlowState { return c.flow }
func (c *ActionContext) Depth() int       { return c.depth }

// Get resolves a binding, walking up the frame chain. Core identifiers are
// resolved first and cannot be shadowed.
func (c *ActionContext) Get(key string) (any, bool) {
	switch key {
	case BindingGuildID:
		return c.GuildID, true
	case BindingChannelID:
		return c.ChannelID, true
	case BindingUserID:
		return c.UserID, true
	}

	for frame := c; frame != nil; frame = frame.parent {
		frame.mu.RLock()
		v, ok := frame.values[key]
		frame.mu.RUnlock()
		if ok {
			return v, true
		}
	}
	return nil, false
}

// Set binds a value in the current frame. Reserved core names are refused so
// handler logic cannot clobber them.
func (c *ActionContext) Set(key string, v any) error {
	if isReservedBinding(key) {
		return &EngineError{
			Code:    ErrCodeInvalidConfig,
			Message: "cannot overwrite reserved binding " + key,
		}
	}
	c.mu.Lock()
	c.values[key] = v
	c.mu.Unlock()
	return nil
}

// bind writes a frame-local value without the reserved-name guard. Engine
// internals use it for args and loop variables.
func (c *ActionContext) bind(key string, v any) {
	c.mu.Lock()
	c.values[key] = v
	c.mu.Unlock()
}

// Values flattens the frame chain into a single map for expression
// evaluation. Child frames shadow parents; core identifiers are always
// present at top level.
func (c *ActionContext) Values() map[string]any {
	var frames []*ActionContext
	for frame := c; frame != nil; frame = frame.parent {
		frames = append(frames, frame)
	}

	merged := make(map[string]any)
	for i := len(frames) - 1; i >= 0; i-- {
		frame := frames[i]
		frame.mu.RLock()
		for k, v := range frame.values {
			merged[k] = v
		}
		frame.mu.RUnlock()
	}

	merged[BindingGuildID] = c.GuildID
	merged[BindingChannelID] = c.ChannelID
	merged[BindingUserID] = c.UserID
	merged["executionId"] = c.ID
	return merged
}

// Fork produces a child frame sharing the dependency bag, cancellation
// signal, and flow-local control state. Bindings added in the child are not
// visible to the parent after the child returns.
func (c *ActionContext) Fork() *ActionContext {
	return &ActionContext{
		ID:        c.ID,
		GuildID:   c.GuildID,
		ChannelID: c.ChannelID,
		UserID:    c.UserID,
		deps:      c.deps,
		flow:      c.flow,
		parent:    c,
		depth:     c.depth,
		values:    make(map[string]any),
		ctx:       c.ctx,
	}
}

// forkFlow produces the child frame for a flow body: fresh flow-local control
// state, incremented call depth, and args bound to the resolved parameters.
func (c *ActionContext) forkFlow(args map[string]any) *ActionContext {
	child := c.Fork()
	child.flow = NewFlowState()
	child.depth = c.depth + 1
	child.bind(BindingArgs, args)
	return child
}

// BindArgs installs the invocation arguments on this context. Dispatch-layer
// use only: "args" is reserved against handler writes, and commands bind
// their resolved parameters at the root of an execution.
func (c *ActionContext) BindArgs(args map[string]any) {
	c.bind(BindingArgs, args)
}

// WithContext returns a child frame carrying a different cancellation
// context, for step-scoped timeouts.
func (c *ActionContext) WithContext(ctx context.Context) *ActionContext {
	child := c.Fork()
	child.ctx = ctx
	return child
}

// Detach produces an independent root context for work that outlives this
// execution, such as scheduled timers. The current bindings are snapshotted;
// the cancellation signal is not inherited, since cancelling a timer is a
// separate explicit action.
func (c *ActionContext) Detach() *ActionContext {
	snapshot := c.Values()
	delete(snapshot, BindingGuildID)
	delete(snapshot, BindingChannelID)
	delete(snapshot, BindingUserID)
	delete(snapshot, "executionId")

	return &ActionContext{
		ID:        uuid.New().String(),
		GuildID:   c.GuildID,
		ChannelID: c.ChannelID,
		UserID:    c.UserID,
		deps:      c.deps,
		flow:      NewFlowState(),
		values:    snapshot,
		ctx:       context.Background(),
	}
}
