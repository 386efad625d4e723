// Package executor implements the Executor's 10-step call pipeline (§4.6):
// context derivation, call-chain safety checks, registry lookup, ACL
// enforcement, input validation and redaction, the middleware before chain,
// timeout-bounded module execution, output validation, the middleware after
// chain, and the final return — with error recovery threaded through the
// middleware manager's OnError chain at every step from 6 onward.
package executor

import (
	"context"
	"time"

	"github.com/apcore/apcore-go/pkg/acl"
	"github.com/apcore/apcore-go/pkg/apcore"
	"github.com/apcore/apcore-go/pkg/middleware"
	"github.com/apcore/apcore-go/pkg/registry"
	"github.com/apcore/apcore-go/pkg/schema"
)

// NamedMiddleware pairs a Middleware with the name it is registered under,
// used for Options.Middlewares and for Executor.Use.
type NamedMiddleware struct {
	Name       string
	Middleware middleware.Middleware
}

// Options configures an Executor's construction.
type Options struct {
	ACL             *acl.ACL
	SchemaLoader    *schema.Loader
	Middlewares     []NamedMiddleware
	DefaultTimeout  time.Duration // per-call timeout; <= 0 means 30s (use WithTimeout(0) to disable enforcement for one call)
	GlobalTimeout   time.Duration // reserved for a future call-tree-wide budget
	MaxCallDepth    int
	MaxModuleRepeat int
}

// Executor is the central execution engine orchestrating the module call
// pipeline.
type Executor struct {
	registry        *registry.Registry
	middlewareMgr   *middleware.Manager
	acl             *acl.ACL
	schemaLoader    *schema.Loader
	defaultTimeout  time.Duration
	globalTimeout   time.Duration
	maxCallDepth    int
	maxModuleRepeat int
}

// New constructs an Executor bound to reg, applying defaults for any unset
// Options field (30s default timeout, 60s global timeout, depth 32, repeat
// 3 — matching original_source/executor.py's defaults).
func New(reg *registry.Registry, opts Options) *Executor {
	if opts.DefaultTimeout <= 0 {
		opts.DefaultTimeout = 30 * time.Second
	}
	if opts.GlobalTimeout <= 0 {
		opts.GlobalTimeout = 60 * time.Second
	}
	if opts.MaxCallDepth <= 0 {
		opts.MaxCallDepth = 32
	}
	if opts.MaxModuleRepeat <= 0 {
		opts.MaxModuleRepeat = 3
	}

	mgr := middleware.New()
	for _, nm := range opts.Middlewares {
		mgr.Add(nm.Name, nm.Middleware)
	}

	return &Executor{
		registry:        reg,
		middlewareMgr:   mgr,
		acl:             opts.ACL,
		schemaLoader:    opts.SchemaLoader,
		defaultTimeout:  opts.DefaultTimeout,
		globalTimeout:   opts.GlobalTimeout,
		maxCallDepth:    opts.MaxCallDepth,
		maxModuleRepeat: opts.MaxModuleRepeat,
	}
}

// Use registers a middleware under name, appended to the end of the chain.
func (e *Executor) Use(name string, mw middleware.Middleware) *Executor {
	e.middlewareMgr.Add(name, mw)
	return e
}

// RemoveMiddleware removes the middleware registered under name.
func (e *Executor) RemoveMiddleware(name string) bool {
	return e.middlewareMgr.Remove(name)
}

// Registry returns the bound Registry.
func (e *Executor) Registry() *registry.Registry { return e.registry }

// callConfig holds the per-call overrides a CallOption may set.
type callConfig struct {
	timeout *time.Duration
}

// CallOption customizes a single Call/CallAsync invocation. Unlike the
// original (which has no such parameter), this is a deliberate widening
// consistent with spec §4.6 step 7's own discussion of "effective timeout".
type CallOption func(*callConfig)

// WithTimeout overrides the Executor's default timeout for one call. A
// value of 0 disables timeout enforcement for that call.
func WithTimeout(d time.Duration) CallOption {
	return func(c *callConfig) { c.timeout = &d }
}

func resolveCallOptions(opts []CallOption) callConfig {
	var c callConfig
	for _, o := range opts {
		o(&c)
	}
	return c
}

// Call executes module_id through the 10-step pipeline (§4.6), returning
// its final output or the first unrecovered error.
func (e *Executor) Call(moduleID string, inputs map[string]any, ctx *apcore.Context, opts ...CallOption) (map[string]any, error) {
	cfg := resolveCallOptions(opts)
	if inputs == nil {
		inputs = map[string]any{}
	}

	// Step 1: context.
	if ctx == nil {
		ctx = apcore.New(nil)
	}
	ctx = ctx.Derive(moduleID)

	// Step 2: safety checks.
	if err := e.checkSafety(moduleID, ctx); err != nil {
		return nil, err
	}

	// Step 3: lookup.
	mod, ok := e.registry.Get(moduleID)
	if !ok {
		return nil, apcore.NewModuleNotFoundError(moduleID)
	}

	// Step 4: ACL.
	if e.acl != nil {
		if !e.acl.Check(ctx.CallerID, moduleID, ctx) {
			return nil, apcore.NewACLDeniedError(ctx.CallerID, moduleID)
		}
	}

	// Step 5: input validation and redaction.
	var inputSchema map[string]any
	if e.schemaLoader != nil {
		if bundle, err := e.schemaLoader.Load(moduleID); err == nil {
			inputSchema = bundle.Input
		}
	}
	if inputSchema != nil {
		if issues := schema.Validate(inputSchema, inputs, schema.DefaultValidateOptions()); len(issues) > 0 {
			return nil, apcore.NewSchemaValidationError(moduleID, issues)
		}
		ctx.RedactedInputs = RedactSensitive(inputs, inputSchema)
	}

	// Step 6: middleware before chain.
	afterInputs, executed, err := e.middlewareMgr.ExecuteBefore(moduleID, inputs, ctx)
	if err != nil {
		original := unwrapMiddlewareChainError(err)
		if recovery := e.middlewareMgr.ExecuteOnError(moduleID, inputs, original, ctx, executed); recovery != nil {
			// §9 resolution (a): recovery re-enters at step 8, widening beyond
			// the original's direct-return. A failure validating the
			// recovery value itself is not eligible for further recovery.
			return e.finishFromStep8(moduleID, inputs, recovery, ctx, nil, true)
		}
		return nil, original
	}
	inputs = afterInputs

	// Step 7: execute with timeout.
	output, err := e.executeWithTimeout(mod, moduleID, inputs, ctx, cfg.timeout)
	if err != nil {
		return e.recoverOrPropagate(moduleID, inputs, err, ctx, executed)
	}

	// Steps 8-10.
	return e.finishFromStep8(moduleID, inputs, output, ctx, executed, false)
}

func unwrapMiddlewareChainError(err error) error {
	if aerr, ok := err.(*apcore.Error); ok && aerr.Code == apcore.CodeMiddlewareChainError && aerr.Cause != nil {
		return aerr.Cause
	}
	return err
}

func (e *Executor) finishFromStep8(moduleID string, inputs, output map[string]any, ctx *apcore.Context, executed []string, isRecoveryReentry bool) (map[string]any, error) {
	var outputSchema map[string]any
	if e.schemaLoader != nil {
		if bundle, err := e.schemaLoader.Load(moduleID); err == nil {
			outputSchema = bundle.Output
		}
	}
	if outputSchema != nil {
		if issues := schema.Validate(outputSchema, output, schema.DefaultValidateOptions()); len(issues) > 0 {
			verr := apcore.NewSchemaValidationError(moduleID, issues)
			if isRecoveryReentry {
				return nil, verr
			}
			return e.recoverOrPropagate(moduleID, inputs, verr, ctx, executed)
		}
	}

	result, err := e.middlewareMgr.ExecuteAfter(moduleID, inputs, output, ctx)
	if err != nil {
		if isRecoveryReentry {
			return nil, err
		}
		return e.recoverOrPropagate(moduleID, inputs, err, ctx, executed)
	}
	return result, nil
}

func (e *Executor) recoverOrPropagate(moduleID string, inputs map[string]any, cause error, ctx *apcore.Context, executed []string) (map[string]any, error) {
	if len(executed) > 0 {
		if recovery := e.middlewareMgr.ExecuteOnError(moduleID, inputs, cause, ctx, executed); recovery != nil {
			// The recovery mapping re-enters at step 8; a failure there
			// surfaces without a further recovery pass.
			return e.finishFromStep8(moduleID, inputs, recovery, ctx, executed, true)
		}
	}
	return nil, cause
}

// checkSafety runs the call-chain depth, circularity, and frequency checks
// (§4.6 step 2). ctx.CallChain already includes moduleID as its last entry,
// appended by Context.Derive.
func (e *Executor) checkSafety(moduleID string, ctx *apcore.Context) error {
	chain := ctx.CallChain
	if len(chain) > e.maxCallDepth {
		return apcore.NewCallDepthExceededError(chain, e.maxCallDepth)
	}

	prior := chain[:len(chain)-1]
	lastIdx := -1
	for i := len(prior) - 1; i >= 0; i-- {
		if prior[i] == moduleID {
			lastIdx = i
			break
		}
	}
	if lastIdx >= 0 && len(prior)-(lastIdx+1) > 0 {
		return apcore.NewCircularCallError(moduleID, chain)
	}

	count := 0
	for _, id := range chain {
		if id == moduleID {
			count++
		}
	}
	if count > e.maxModuleRepeat {
		return apcore.NewCallFrequencyExceededError(moduleID, count, e.maxModuleRepeat)
	}
	return nil
}

// executeWithTimeout runs mod.Execute on its own goroutine and races it
// against a timer. A timed-out call leaves the goroutine running detached
// (§5); the module receives no cancellation signal and runs to completion.
func (e *Executor) executeWithTimeout(mod registry.Module, moduleID string, inputs map[string]any, ctx *apcore.Context, override *time.Duration) (map[string]any, error) {
	timeout := e.defaultTimeout
	if override != nil {
		timeout = *override
	}
	if timeout < 0 {
		return nil, apcore.NewInvalidInputError("timeout must not be negative", map[string]any{"timeout": timeout.String()})
	}
	if timeout == 0 {
		return mod.Execute(ctx, inputs)
	}

	type result struct {
		output map[string]any
		err    error
	}
	ch := make(chan result, 1)
	go func() {
		output, err := mod.Execute(ctx, inputs)
		ch <- result{output, err}
	}()

	select {
	case r := <-ch:
		return r.output, r.err
	case <-time.After(timeout):
		return nil, apcore.NewModuleTimeoutError(moduleID, timeout.Milliseconds())
	}
}

// Result is what CallAsync delivers on its returned channel.
type Result struct {
	Output map[string]any
	Err    error
}

// CallAsync runs Call on a goroutine, racing it against goCtx's
// cancellation. The returned channel always receives exactly one Result.
func (e *Executor) CallAsync(goCtx context.Context, moduleID string, inputs map[string]any, ctx *apcore.Context, opts ...CallOption) <-chan Result {
	out := make(chan Result, 1)
	go func() {
		inner := make(chan Result, 1)
		go func() {
			output, err := e.Call(moduleID, inputs, ctx, opts...)
			inner <- Result{Output: output, Err: err}
		}()
		select {
		case r := <-inner:
			out <- r
		case <-goCtx.Done():
			out <- Result{Err: goCtx.Err()}
		}
	}()
	return out
}

// ValidationResult is the outcome of Validate.
type ValidationResult struct {
	Valid  bool
	Issues []apcore.ValidationIssue
}

// Validate checks inputs against module_id's input schema without
// executing the module.
func (e *Executor) Validate(moduleID string, inputs map[string]any) (ValidationResult, error) {
	if _, ok := e.registry.Get(moduleID); !ok {
		return ValidationResult{}, apcore.NewModuleNotFoundError(moduleID)
	}
	if e.schemaLoader == nil {
		return ValidationResult{Valid: true}, nil
	}
	bundle, err := e.schemaLoader.Load(moduleID)
	if err != nil || bundle.Input == nil {
		return ValidationResult{Valid: true}, nil
	}
	issues := schema.Validate(bundle.Input, inputs, schema.DefaultValidateOptions())
	return ValidationResult{Valid: len(issues) == 0, Issues: issues}, nil
}
