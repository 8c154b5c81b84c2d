package runtime

import (
	"log/slog"
	"sort"
	"sync"
)

// Registry is the single source of truth for which action names exist at
// runtime. It is a flat namespace with last-write-wins semantics: hosts may
// override built-ins for testing or feature flags, and re-registration is a
// warning, not an error.
type Registry struct {
	l        *slog.Logger
	mu       sync.RWMutex
	handlers map[string]ActionHandler
}

func NewRegistry(l *slog.Logger) *Registry {
	if l == nil {
		l = slog.Default()
	}
	return &Registry{
		l:        l,
		handlers: make(map[string]ActionHandler),
	}
}

// Register inserts a handler under its name, overwriting any previous
// registration for that name.
func (r *Registry) Register(h ActionHandler) {
	name := h.Name()
	r.mu.Lock()
	_, overwrote := r.handlers[name]
	r.handlers[name] = h
	r.mu.Unlock()

	if overwrote {
		r.l.Warn("overwriting registered action handler", "action", name)
	}
}

// RegisterAll registers every handler in the slice.
func (r *Registry) RegisterAll(handlers []ActionHandler) {
	for _, h := range handlers {
		r.Register(h)
	}
}

// Get returns the handler for name, or an ACTION_NOT_FOUND error naming the
// unresolved action.
func (r *Registry) Get(name string) (ActionHandler, error) {
	r.mu.RLock()
	h, ok := r.handlers[name]
	r.mu.RUnlock()
	if !ok {
		return nil, newActionNotFound(name)
	}
	return h, nil
}

// Has reports whether a handler is registered for name.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	_, ok := r.handlers[name]
	r.mu.RUnlock()
	return ok
}

// Names returns the registered action names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	r.mu.RUnlock()

	sort.Strings(names)
	return names
}

// All returns a copy of the name-to-handler table.
func (r *Registry) All() map[string]ActionHandler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]ActionHandler, len(r.handlers))
	for name, h := range r.handlers {
		out[name] = h
	}
	return out
}

// Unregister removes a handler by name, reporting whether one was present.
// Unknown and empty names return false, never an error.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.handlers[name]; !ok {
		return false
	}
	delete(r.handlers, name)
	return true
}

// Clear removes every registered handler.
func (r *Registry) Clear() {
	r.mu.Lock()
	r.handlers = make(map[string]ActionHandler)
	r.mu.Unlock()
}
