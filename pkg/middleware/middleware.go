// Package middleware implements the onion-model middleware pipeline
// (§4.5): Before hooks run in registration order, After and OnError hooks
// run in reverse order. The original's separate sync/async middleware
// classes collapse into a single Middleware interface here (§9 resolution
// (b)): Go has no coroutine-function reflection to detect "this hook
// happens to be async" at runtime, so every hook always runs synchronously
// within whichever goroutine drives the pipeline; Executor.CallAsync
// supplies its own concurrency via goroutines and channels instead.
package middleware

import "github.com/apcore/apcore-go/pkg/apcore"

// Middleware is implemented by every hook in the pipeline. A nil returned
// from Before/After means "no modification, pass the input/output through
// unchanged" — Go maps are reference types, so in-place mutation of inputs
// is also visible to the caller without returning it explicitly.
type Middleware interface {
	Before(moduleID string, inputs map[string]any, ctx *apcore.Context) (map[string]any, error)
	After(moduleID string, inputs, output map[string]any, ctx *apcore.Context) (map[string]any, error)
	OnError(moduleID string, inputs map[string]any, err error, ctx *apcore.Context) (map[string]any, error)
}

// BaseMiddleware is a no-op Middleware meant to be embedded so a concrete
// middleware only needs to override the hooks it cares about.
type BaseMiddleware struct{}

func (BaseMiddleware) Before(string, map[string]any, *apcore.Context) (map[string]any, error) {
	return nil, nil
}

func (BaseMiddleware) After(string, map[string]any, map[string]any, *apcore.Context) (map[string]any, error) {
	return nil, nil
}

func (BaseMiddleware) OnError(string, map[string]any, error, *apcore.Context) (map[string]any, error) {
	return nil, nil
}
