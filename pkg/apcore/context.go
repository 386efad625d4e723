package apcore

import (
	"sync"

	"github.com/google/uuid"
)

// Context carries per-call metadata through a call tree. It is created at the
// root of a tree by the Executor and derived for each nested child call; the
// Data map is shared by reference across every Context in the same tree so
// middlewares can maintain per-trace stacks (span stack, timing stack, …)
// that survive across nested frames.
type Context struct {
	TraceID        string
	CallerID       string
	CallChain      []string
	Identity       *Identity
	RedactedInputs map[string]any

	data *sync.Map
}

// New creates a root Context with a freshly generated trace_id and an empty
// call chain. identity may be nil.
func New(identity *Identity) *Context {
	return &Context{
		TraceID:   uuid.NewString(),
		CallChain: nil,
		Identity:  identity,
		data:      &sync.Map{},
	}
}

// Derive produces the child Context for a call to moduleID: call_chain gains
// moduleID, caller_id becomes the previous tail, trace_id and identity are
// copied unchanged, and data is shared by reference with the parent.
func (c *Context) Derive(moduleID string) *Context {
	chain := append(append([]string(nil), c.CallChain...), moduleID)
	caller := ""
	if n := len(c.CallChain); n > 0 {
		caller = c.CallChain[n-1]
	}
	return &Context{
		TraceID:   c.TraceID,
		CallerID:  caller,
		CallChain: chain,
		Identity:  c.Identity,
		data:      c.data,
	}
}

// CurrentModuleID returns call_chain's last element, or "" at the root.
func (c *Context) CurrentModuleID() string {
	if n := len(c.CallChain); n > 0 {
		return c.CallChain[n-1]
	}
	return ""
}

// Data exposes the shared, per-trace mapping. Entries should be per-trace
// stacks (see Stack) rather than single slots, since a middleware instance
// may be active in several overlapping call frames of the same tree.
func (c *Context) Data() *sync.Map {
	return c.data
}

// Stack is a small mutex-guarded LIFO used for values middlewares keep on
// Context.Data (span stacks, timing stacks). It is safe for concurrent
// push/pop from sibling branches of one call tree.
type Stack struct {
	mu    sync.Mutex
	items []any
}

// Push appends v to the top of the stack.
func (s *Stack) Push(v any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, v)
}

// Pop removes and returns the top of the stack; ok is false when empty.
func (s *Stack) Pop() (v any, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.items)
	if n == 0 {
		return nil, false
	}
	v = s.items[n-1]
	s.items = s.items[:n-1]
	return v, true
}

// Peek returns the top of the stack without removing it.
func (s *Stack) Peek() (v any, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.items)
	if n == 0 {
		return nil, false
	}
	return s.items[n-1], true
}

// LoadStack fetches (or lazily creates) the named Stack on a Context's Data map.
func LoadStack(c *Context, key string) *Stack {
	actual, _ := c.data.LoadOrStore(key, &Stack{})
	return actual.(*Stack)
}
