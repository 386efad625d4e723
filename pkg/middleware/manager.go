package middleware

import (
	"log/slog"
	"sync"

	"github.com/apcore/apcore-go/pkg/apcore"
)

// Manager orchestrates the middleware pipeline using onion-model execution:
// an ordered list of Middleware, executed via Before/After/OnError.
type Manager struct {
	mu          sync.Mutex
	middlewares []Middleware
	names       []string
}

// New constructs an empty Manager.
func New() *Manager {
	return &Manager{}
}

// Add appends middleware to the end of the execution list, recorded under
// name for error reporting and logging.
func (m *Manager) Add(name string, mw Middleware) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.middlewares = append(m.middlewares, mw)
	m.names = append(m.names, name)
}

// Remove deletes the first middleware registered under name. Returns
// whether one was found and removed.
func (m *Manager) Remove(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, n := range m.names {
		if n == name {
			m.middlewares = append(m.middlewares[:i], m.middlewares[i+1:]...)
			m.names = append(m.names[:i], m.names[i+1:]...)
			return true
		}
	}
	return false
}

type entry struct {
	name string
	mw   Middleware
}

// snapshot takes a thread-safe copy of the registered middleware list;
// callers iterate the copy lock-free.
func (m *Manager) snapshot() []entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]entry, len(m.middlewares))
	for i := range m.middlewares {
		out[i] = entry{name: m.names[i], mw: m.middlewares[i]}
	}
	return out
}

// ExecuteBefore runs Before on every middleware in registration order,
// threading the (possibly modified) inputs through the chain. It returns
// the final inputs and the names of the middlewares whose Before was called
// (including a failing one), for OnError's recovery pass. A failing hook is wrapped in a
// MiddlewareChainError (via apcore.NewMiddlewareChainError) naming the
// middlewares that already executed.
func (m *Manager) ExecuteBefore(moduleID string, inputs map[string]any, ctx *apcore.Context) (map[string]any, []string, error) {
	current := inputs
	var executed []string

	for _, e := range m.snapshot() {
		executed = append(executed, e.name)
		result, err := e.mw.Before(moduleID, current, ctx)
		if err != nil {
			return current, executed, apcore.NewMiddlewareChainError(err, executed)
		}
		// A nil result is a passthrough. A Before hook that mutates current
		// in place and returns nil needs no special casing here: maps are
		// reference types, so the mutation is already visible in current.
		if result != nil {
			current = result
		}
	}
	return current, executed, nil
}

// ExecuteAfter runs After on every middleware in REVERSE registration
// order, threading the (possibly modified) output through the chain. A
// failing After hook's error propagates as-is, unwrapped (§4.5) — unlike
// ExecuteBefore, there is no per-middleware recovery pass to name.
func (m *Manager) ExecuteAfter(moduleID string, inputs, output map[string]any, ctx *apcore.Context) (map[string]any, error) {
	current := output
	snapshot := m.snapshot()

	for i := len(snapshot) - 1; i >= 0; i-- {
		e := snapshot[i]
		result, err := e.mw.After(moduleID, inputs, current, ctx)
		if err != nil {
			return current, err
		}
		if result != nil {
			current = result
		}
	}
	return current, nil
}

// ExecuteOnError runs OnError over executedNames (a prefix of the
// registered middlewares, in the order ExecuteBefore ran them) in reverse
// order, stopping at the first non-nil recovery dict. A panicking or
// erroring handler is logged and skipped, never aborting the recovery search.
func (m *Manager) ExecuteOnError(moduleID string, inputs map[string]any, cause error, ctx *apcore.Context, executedNames []string) map[string]any {
	snapshot := m.snapshot()
	byName := make(map[string]Middleware, len(snapshot))
	for _, e := range snapshot {
		byName[e.name] = e.mw
	}

	for i := len(executedNames) - 1; i >= 0; i-- {
		mw, ok := byName[executedNames[i]]
		if !ok {
			continue
		}
		recovery := safeOnError(mw, moduleID, inputs, cause, ctx)
		if recovery != nil {
			return recovery
		}
	}
	return nil
}

func safeOnError(mw Middleware, moduleID string, inputs map[string]any, cause error, ctx *apcore.Context) (recovery map[string]any) {
	defer func() {
		if r := recover(); r != nil {
			slog.Default().Warn("middleware on_error panicked", "module_id", moduleID, "panic", r)
			recovery = nil
		}
	}()
	result, err := mw.OnError(moduleID, inputs, cause, ctx)
	if err != nil {
		slog.Default().Warn("middleware on_error failed", "module_id", moduleID, "error", err)
		return nil
	}
	return result
}
