// Package timer provides wait/schedule/cancel_timer handlers and the Manager
// backing them. Scheduled work runs on a detached context so an ordinary
// execution finishing (or being cancelled) does not tear down its timers;
// cancelling a timer is its own explicit action.
package timer

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flowbotio/flowbot/runtime"
)

const (
	ActionWait     = "wait"
	ActionSchedule = "schedule"
	ActionCancel   = "cancel_timer"

	// ServiceName is the dependency-bag key the handlers resolve the
	// Manager under.
	ServiceName = "timers"
)

// SequenceRunner is the slice of the executor the Manager needs.
type SequenceRunner interface {
	ExecuteSequence(actx *runtime.ActionContext, actions []runtime.Action) ([]runtime.ActionResult, error)
}

// Manager owns pending timers. Fired timers run their action list on the
// detached context captured at schedule time.
type Manager struct {
	l    *slog.Logger
	exec SequenceRunner

	mu      sync.Mutex
	pending map[string]*time.Timer
	closed  bool
	wg      sync.WaitGroup
}

func NewManager(l *slog.Logger, exec SequenceRunner) *Manager {
	if l == nil {
		l = slog.Default()
	}
	return &Manager{
		l:       l,
		exec:    exec,
		pending: map[string]*time.Timer{},
	}
}

// Schedule arranges for actions to run after delay on a snapshot of actx.
// It returns the timer id usable with Cancel.
func (m *Manager) Schedule(actx *runtime.ActionContext, delay time.Duration, actions []runtime.Action) (string, error) {
	detached := actx.Detach()
	id := uuid.New().String()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return "", fmt.Errorf("timer manager is shut down")
	}

	m.wg.Add(1)
	m.pending[id] = time.AfterFunc(delay, func() {
		defer m.wg.Done()

		m.mu.Lock()
		_, live := m.pending[id]
		delete(m.pending, id)
		m.mu.Unlock()
		if !live {
			return
		}

		results, err := m.exec.ExecuteSequence(detached, actions)
		if err != nil {
			m.l.Error("scheduled actions failed",
				"timerId", id,
				"error", err)
			return
		}
		for _, r := range results {
			if !r.Success && r.Error != nil {
				m.l.Error("scheduled action failed",
					"timerId", id,
					"action", r.Error.Action,
					"error", r.Error.Message)
			}
		}
	})
	return id, nil
}

// Cancel stops a pending timer. It reports whether the timer was still
// pending; cancelling an already-fired or unknown id is not an error.
func (m *Manager) Cancel(id string) bool {
	m.mu.Lock()
	t, ok := m.pending[id]
	delete(m.pending, id)
	m.mu.Unlock()
	if !ok {
		return false
	}
	if t.Stop() {
		// The callback will never run; release its waitgroup slot.
		m.wg.Done()
	}
	return true
}

// Pending returns the number of timers that have not fired or been cancelled.
func (m *Manager) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.pending)
}

// Shutdown cancels all pending timers and waits for in-flight callbacks.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	m.closed = true
	for id, t := range m.pending {
		if t.Stop() {
			m.wg.Done()
		}
		delete(m.pending, id)
	}
	m.mu.Unlock()
	m.wg.Wait()
}

// Handlers returns the timer handlers bound to mgr.
func Handlers(mgr *Manager) []runtime.ActionHandler {
	return []runtime.ActionHandler{
		waitHandler{},
		scheduleHandler{mgr: mgr},
		cancelHandler{mgr: mgr},
	}
}

// Register installs the timer handlers and exposes mgr through the
// dependency bag under ServiceName.
func Register(r *runtime.Registry, deps *runtime.Deps, mgr *Manager) {
	if deps.Extra == nil {
		deps.Extra = map[string]any{}
	}
	deps.Extra[ServiceName] = mgr
	r.RegisterAll(Handlers(mgr))
}

// waitHandler sleeps for the configured duration, waking early on
// cancellation.
type waitHandler struct{}

func (waitHandler) Name() string { return ActionWait }

func (waitHandler) Validate(config map[string]any) error {
	if config["duration"] == nil {
		return fmt.Errorf("wait requires a 'duration'")
	}
	return nil
}

func (waitHandler) Execute(actx *runtime.ActionContext, config map[string]any) (any, error) {
	d, err := resolveDuration(actx, config["duration"])
	if err != nil {
		return nil, err
	}

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-actx.Done():
		return nil, actx.Err()
	}
	return map[string]any{"waited": d.String()}, nil
}

type scheduleHandler struct {
	mgr *Manager
}

func (scheduleHandler) Name() string { return ActionSchedule }

func (scheduleHandler) Validate(config map[string]any) error {
	if config["delay"] == nil {
		return fmt.Errorf("schedule requires a 'delay'")
	}
	if config["actions"] == nil {
		return fmt.Errorf("schedule requires an 'actions' list")
	}
	return nil
}

func (h scheduleHandler) Execute(actx *runtime.ActionContext, config map[string]any) (any, error) {
	d, err := resolveDuration(actx, config["delay"])
	if err != nil {
		return nil, err
	}
	actions, err := runtime.CoerceActions(config["actions"])
	if err != nil {
		return nil, err
	}

	id, err := h.mgr.Schedule(actx, d, actions)
	if err != nil {
		return nil, err
	}
	return map[string]any{"timer_id": id}, nil
}

type cancelHandler struct {
	mgr *Manager
}

func (cancelHandler) Name() string { return ActionCancel }

func (cancelHandler) Validate(config map[string]any) error {
	if config["id"] == nil {
		return fmt.Errorf("cancel_timer requires an 'id'")
	}
	return nil
}

func (h cancelHandler) Execute(actx *runtime.ActionContext, config map[string]any) (any, error) {
	id, err := runtime.ResolveTemplates(actx, actx.Deps().Evaluator, config["id"])
	if err != nil {
		return nil, err
	}
	return map[string]any{"cancelled": h.mgr.Cancel(fmt.Sprint(id))}, nil
}

// resolveDuration accepts duration strings ("500ms", "2m"), bare numbers
// read as seconds, and ${ ... } templates resolving to either.
func resolveDuration(actx *runtime.ActionContext, v any) (time.Duration, error) {
	value, err := runtime.ResolveTemplates(actx, actx.Deps().Evaluator, v)
	if err != nil {
		return 0, err
	}
	switch d := value.(type) {
	case string:
		parsed, err := time.ParseDuration(d)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q: %w", d, err)
		}
		if parsed < 0 {
			return 0, fmt.Errorf("duration must not be negative")
		}
		return parsed, nil
	case int:
		return secondsDuration(float64(d))
	case int64:
		return secondsDuration(float64(d))
	case float64:
		return secondsDuration(d)
	default:
		return 0, fmt.Errorf("unsupported duration value %T", value)
	}
}

func secondsDuration(s float64) (time.Duration, error) {
	if s < 0 {
		return 0, fmt.Errorf("duration must not be negative")
	}
	return time.Duration(s * float64(time.Second)), nil
}
