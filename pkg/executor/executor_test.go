package executor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/apcore/apcore-go/pkg/acl"
	"github.com/apcore/apcore-go/pkg/apcore"
	"github.com/apcore/apcore-go/pkg/middleware"
	"github.com/apcore/apcore-go/pkg/registry"
	"github.com/apcore/apcore-go/pkg/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type funcModule struct {
	fn func(ctx *apcore.Context, input map[string]any) (map[string]any, error)
}

func (f *funcModule) Execute(ctx *apcore.Context, input map[string]any) (map[string]any, error) {
	return f.fn(ctx, input)
}

func echoModule() *funcModule {
	return &funcModule{fn: func(ctx *apcore.Context, input map[string]any) (map[string]any, error) {
		return input, nil
	}}
}

func newRegistryWith(t *testing.T, moduleID string, mod registry.Module) *registry.Registry {
	t.Helper()
	reg := registry.New(registry.Options{})
	require.NoError(t, reg.Register(moduleID, mod, registry.ModuleDescriptor{Description: "test module"}))
	return reg
}

func TestCall_HappyPath(t *testing.T) {
	reg := newRegistryWith(t, "greet", echoModule())
	ex := New(reg, Options{})

	out, err := ex.Call("greet", map[string]any{"name": "ada"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "ada", out["name"])
}

func TestCall_ModuleNotFound(t *testing.T) {
	reg := registry.New(registry.Options{})
	ex := New(reg, Options{})

	_, err := ex.Call("missing", map[string]any{}, nil)
	require.Error(t, err)
	aerr, ok := err.(*apcore.Error)
	require.True(t, ok)
	assert.Equal(t, apcore.CodeModuleNotFound, aerr.Code)
}

func TestCall_ACLDenied(t *testing.T) {
	reg := newRegistryWith(t, "secret", echoModule())
	a := acl.New([]acl.Rule{
		{Callers: []string{"*"}, Targets: []string{"secret"}, Effect: acl.EffectDeny},
	}, acl.EffectAllow)
	ex := New(reg, Options{ACL: a})

	_, err := ex.Call("secret", map[string]any{}, nil)
	require.Error(t, err)
	aerr, ok := err.(*apcore.Error)
	require.True(t, ok)
	assert.Equal(t, apcore.CodeACLDenied, aerr.Code)
}

func TestCall_InputValidationFailure(t *testing.T) {
	reg := newRegistryWith(t, "greet", echoModule())
	loader := schema.NewLoader("", schema.StrategyNativeFirst)
	loader.RegisterNative("greet",
		map[string]any{
			"type":       "object",
			"properties": map[string]any{"name": map[string]any{"type": "string"}},
			"required":   []any{"name"},
		},
		nil,
	)
	ex := New(reg, Options{SchemaLoader: loader})

	_, err := ex.Call("greet", map[string]any{}, nil)
	require.Error(t, err)
	aerr, ok := err.(*apcore.Error)
	require.True(t, ok)
	assert.Equal(t, apcore.CodeSchemaValidation, aerr.Code)
}

func TestCall_RedactsSensitiveFieldsOnContext(t *testing.T) {
	var seenRedacted map[string]any
	mod := &funcModule{fn: func(ctx *apcore.Context, input map[string]any) (map[string]any, error) {
		seenRedacted = ctx.RedactedInputs
		return input, nil
	}}
	reg := newRegistryWith(t, "login", mod)
	loader := schema.NewLoader("", schema.StrategyNativeFirst)
	loader.RegisterNative("login",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"password": map[string]any{"type": "string", "x-sensitive": true},
			},
		},
		nil,
	)
	ex := New(reg, Options{SchemaLoader: loader})

	_, err := ex.Call("login", map[string]any{"password": "hunter2"}, nil)
	require.NoError(t, err)
	assert.Equal(t, RedactedValue, seenRedacted["password"])
}

func TestCall_DepthExceeded(t *testing.T) {
	reg := newRegistryWith(t, "a", echoModule())
	ex := New(reg, Options{MaxCallDepth: 2})

	ctx := apcore.New(nil).Derive("a").Derive("a")
	_, err := ex.Call("a", map[string]any{}, ctx)
	require.Error(t, err)
	aerr, ok := err.(*apcore.Error)
	require.True(t, ok)
	assert.Equal(t, apcore.CodeCallDepthExceeded, aerr.Code)
}

func TestCall_CircularCallDetected(t *testing.T) {
	reg := newRegistryWith(t, "b", echoModule())
	ex := New(reg, Options{})

	ctx := apcore.New(nil).Derive("a").Derive("b")
	_, err := ex.Call("a", map[string]any{}, ctx)
	require.Error(t, err)
	aerr, ok := err.(*apcore.Error)
	require.True(t, ok)
	assert.Equal(t, apcore.CodeCircularCall, aerr.Code)
}

func TestCall_ImmediateSelfRecursionNotCircular(t *testing.T) {
	reg := newRegistryWith(t, "a", echoModule())
	ex := New(reg, Options{})

	ctx := apcore.New(nil).Derive("a")
	_, err := ex.Call("a", map[string]any{}, ctx)
	require.NoError(t, err)
}

func TestCall_FrequencyExceeded(t *testing.T) {
	reg := newRegistryWith(t, "a", echoModule())
	ex := New(reg, Options{MaxModuleRepeat: 1})

	ctx := apcore.New(nil).Derive("a").Derive("b").Derive("a")
	_, err := ex.Call("a", map[string]any{}, ctx)
	require.Error(t, err)
	aerr, ok := err.(*apcore.Error)
	require.True(t, ok)
	assert.Equal(t, apcore.CodeCallFrequencyExceed, aerr.Code)
}

func TestCall_Timeout(t *testing.T) {
	mod := &funcModule{fn: func(ctx *apcore.Context, input map[string]any) (map[string]any, error) {
		time.Sleep(50 * time.Millisecond)
		return input, nil
	}}
	reg := newRegistryWith(t, "slow", mod)
	ex := New(reg, Options{})

	_, err := ex.Call("slow", map[string]any{}, nil, WithTimeout(5*time.Millisecond))
	require.Error(t, err)
	aerr, ok := err.(*apcore.Error)
	require.True(t, ok)
	assert.Equal(t, apcore.CodeModuleTimeout, aerr.Code)
}

func TestCall_BeforeFailureRecoveredByOnError(t *testing.T) {
	reg := newRegistryWith(t, "greet", echoModule())
	ex := New(reg, Options{})
	ex.Use("recoverer", &recoveringMiddleware{recovery: map[string]any{"recovered": true}})
	ex.Use("guard", middleware.NewBeforeMiddleware(func(moduleID string, inputs map[string]any, ctx *apcore.Context) (map[string]any, error) {
		return nil, errors.New("boom")
	}))

	out, err := ex.Call("greet", map[string]any{}, nil)
	require.NoError(t, err)
	assert.Equal(t, true, out["recovered"])
}

func TestCall_BeforeFailureUnrecoveredPropagatesOriginal(t *testing.T) {
	reg := newRegistryWith(t, "greet", echoModule())
	ex := New(reg, Options{})
	ex.Use("guard", middleware.NewBeforeMiddleware(func(moduleID string, inputs map[string]any, ctx *apcore.Context) (map[string]any, error) {
		return nil, errors.New("boom")
	}))

	_, err := ex.Call("greet", map[string]any{}, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestCall_ModuleErrorRecoveredByOnError(t *testing.T) {
	mod := &funcModule{fn: func(ctx *apcore.Context, input map[string]any) (map[string]any, error) {
		return nil, errors.New("module exploded")
	}}
	reg := newRegistryWith(t, "flaky", mod)
	ex := New(reg, Options{})
	ex.Use("recoverer", &recoveringMiddleware{recovery: map[string]any{"recovered": true}})

	out, err := ex.Call("flaky", map[string]any{}, nil)
	require.NoError(t, err)
	assert.Equal(t, true, out["recovered"])
}

func TestValidate_SchemaOnlyNoExecution(t *testing.T) {
	executed := false
	mod := &funcModule{fn: func(ctx *apcore.Context, input map[string]any) (map[string]any, error) {
		executed = true
		return input, nil
	}}
	reg := newRegistryWith(t, "greet", mod)
	loader := schema.NewLoader("", schema.StrategyNativeFirst)
	loader.RegisterNative("greet",
		map[string]any{
			"type":     "object",
			"required": []any{"name"},
		},
		nil,
	)
	ex := New(reg, Options{SchemaLoader: loader})

	result, err := ex.Validate("greet", map[string]any{})
	require.NoError(t, err)
	assert.False(t, result.Valid)
	assert.False(t, executed)
}

func TestCallAsync_DeliversResult(t *testing.T) {
	reg := newRegistryWith(t, "greet", echoModule())
	ex := New(reg, Options{})

	ch := ex.CallAsync(context.Background(), "greet", map[string]any{"x": 1}, nil)
	r := <-ch
	require.NoError(t, r.Err)
	assert.Equal(t, 1, r.Output["x"])
}

func TestCallAsync_CancelledContext(t *testing.T) {
	mod := &funcModule{fn: func(ctx *apcore.Context, input map[string]any) (map[string]any, error) {
		time.Sleep(50 * time.Millisecond)
		return input, nil
	}}
	reg := newRegistryWith(t, "slow", mod)
	ex := New(reg, Options{})

	goCtx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()

	ch := ex.CallAsync(goCtx, "slow", map[string]any{}, nil)
	r := <-ch
	require.Error(t, r.Err)
}

type recoveringMiddleware struct {
	middleware.BaseMiddleware
	recovery map[string]any
}

func (r *recoveringMiddleware) OnError(moduleID string, inputs map[string]any, err error, ctx *apcore.Context) (map[string]any, error) {
	return r.recovery, nil
}
