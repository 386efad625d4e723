// Package binding implements the binding/decorator surface (§4.9): wrapping
// a bare Go function as a registry.Module, and loading YAML binding files
// that wire compiled-in functions into the Registry by name. Go has no
// runtime type introspection over function parameters, so — per §4.9.1's
// static-target redesign — schemas are always supplied explicitly, never
// inferred, and targets resolve against the same compile-time Factories
// map the Registry's discovery pipeline uses (§4.4.1), not a dynamic
// import.
package binding

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/apcore/apcore-go/pkg/apcore"
	"github.com/apcore/apcore-go/pkg/registry"
)

// FuncHandler is the one function shape the binding surface accepts —
// collapsing the original's sync/async distinction (§4.5's resolution
// applies equally here): there is one signature, always callable from
// either Executor.Call or Executor.CallAsync.
type FuncHandler func(ctx *apcore.Context, input map[string]any) (map[string]any, error)

// FunctionModule adapts a FuncHandler to registry.Module and
// registry.Describer.
type FunctionModule struct {
	fn          FuncHandler
	moduleID    string
	description string
	documentation string
	tags        []string
	version     string
	annotations map[string]any
	metadata    map[string]any
}

// BindingOption configures MakeFunctionModule.
type BindingOption func(*FunctionModule)

// WithDescription sets the module's description explicitly.
func WithDescription(d string) BindingOption { return func(m *FunctionModule) { m.description = d } }

// WithDocumentation sets the module's long-form documentation.
func WithDocumentation(d string) BindingOption {
	return func(m *FunctionModule) { m.documentation = d }
}

// WithTags sets the module's tags.
func WithTags(tags ...string) BindingOption { return func(m *FunctionModule) { m.tags = tags } }

// WithVersion overrides the default version ("1.0.0").
func WithVersion(v string) BindingOption { return func(m *FunctionModule) { m.version = v } }

// WithAnnotations sets free-form annotations.
func WithAnnotations(a map[string]any) BindingOption {
	return func(m *FunctionModule) { m.annotations = a }
}

// WithMetadata sets free-form metadata.
func WithMetadata(md map[string]any) BindingOption { return func(m *FunctionModule) { m.metadata = md } }

// MakeFunctionModule wraps fn as a registry.Module under moduleID.
// Description priority: WithDescription > "Module {moduleID}" (Go has no
// doc-comment text available at runtime, unlike the original's
// func.__doc__ fallback).
func MakeFunctionModule(fn FuncHandler, moduleID string, opts ...BindingOption) *FunctionModule {
	m := &FunctionModule{
		fn:       fn,
		moduleID: moduleID,
		version:  "1.0.0",
	}
	for _, o := range opts {
		o(m)
	}
	if m.description == "" {
		m.description = fmt.Sprintf("Module %s", moduleID)
	}
	return m
}

// Execute implements registry.Module.
func (m *FunctionModule) Execute(ctx *apcore.Context, input map[string]any) (map[string]any, error) {
	output, err := m.fn(ctx, input)
	if err != nil {
		return nil, err
	}
	if output == nil {
		return map[string]any{}, nil
	}
	return output, nil
}

// Describe implements registry.Describer.
func (m *FunctionModule) Describe() registry.ModuleInfo {
	return registry.ModuleInfo{
		Description:   m.description,
		Documentation: m.documentation,
		Version:       m.version,
		Tags:          m.tags,
		Annotations:   m.annotations,
		Metadata:      m.metadata,
	}
}

var idSanitizer = regexp.MustCompile(`[^a-z0-9_.]`)

// AutoModuleID derives a module ID from a namespace and qualified name,
// mirroring _make_auto_id: lowercase, each character outside [a-z0-9_.]
// replaced by its own `_`,
// digit-leading segments prefixed with `_`.
func AutoModuleID(namespace, qualifiedName string) string {
	raw := strings.ToLower(namespace + "." + qualifiedName)
	raw = idSanitizer.ReplaceAllString(raw, "_")
	segments := strings.Split(raw, ".")
	for i, s := range segments {
		if s != "" && s[0] >= '0' && s[0] <= '9' {
			segments[i] = "_" + s
		}
	}
	return strings.Join(segments, ".")
}
