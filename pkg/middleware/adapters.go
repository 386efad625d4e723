package middleware

import "github.com/apcore/apcore-go/pkg/apcore"

// BeforeFunc adapts a bare before-hook function into a Middleware.
type BeforeFunc func(moduleID string, inputs map[string]any, ctx *apcore.Context) (map[string]any, error)

// BeforeMiddleware wraps a single before-only callback as a Middleware,
// matching the original's BeforeMiddleware adapter.
type BeforeMiddleware struct {
	BaseMiddleware
	fn BeforeFunc
}

// NewBeforeMiddleware constructs a Middleware whose Before delegates to fn.
func NewBeforeMiddleware(fn BeforeFunc) *BeforeMiddleware {
	return &BeforeMiddleware{fn: fn}
}

func (m *BeforeMiddleware) Before(moduleID string, inputs map[string]any, ctx *apcore.Context) (map[string]any, error) {
	return m.fn(moduleID, inputs, ctx)
}

// AfterFunc adapts a bare after-hook function into a Middleware.
type AfterFunc func(moduleID string, inputs, output map[string]any, ctx *apcore.Context) (map[string]any, error)

// AfterMiddleware wraps a single after-only callback as a Middleware,
// matching the original's AfterMiddleware adapter.
type AfterMiddleware struct {
	BaseMiddleware
	fn AfterFunc
}

// NewAfterMiddleware constructs a Middleware whose After delegates to fn.
func NewAfterMiddleware(fn AfterFunc) *AfterMiddleware {
	return &AfterMiddleware{fn: fn}
}

func (m *AfterMiddleware) After(moduleID string, inputs, output map[string]any, ctx *apcore.Context) (map[string]any, error) {
	return m.fn(moduleID, inputs, output, ctx)
}
