package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/apcore/apcore-go/pkg/apcore"
)

// Module is the binding surface a compiled-in module implements. Unlike the
// original's duck-typed Python classes, a Module carries no schema
// attributes of its own — schemas are resolved separately by
// pkg/schema.Loader, keyed by module ID, keeping the registry decoupled from
// the schema engine.
type Module interface {
	Execute(ctx *apcore.Context, input map[string]any) (map[string]any, error)
}

// Describer is an optional interface a Module may implement to supply
// code-level defaults for its descriptor fields. A `*.module.yaml`
// descriptor file always wins over these on a field-by-field basis,
// mirroring merge_module_metadata's "YAML wins" rule.
type Describer interface {
	Describe() ModuleInfo
}

// ModuleInfo holds the code-level descriptor defaults a Module may report.
type ModuleInfo struct {
	Name          string
	Description   string
	Documentation string
	Version       string
	Tags          []string
	Annotations   map[string]any
	Examples      []any
	Metadata      map[string]any
}

// OnLoader is implemented by modules that need to run setup logic once
// registered; a failing OnLoad aborts that module's registration.
type OnLoader interface {
	OnLoad() error
}

// OnUnloader is implemented by modules that need teardown logic when
// removed from the registry. OnUnload errors are logged and swallowed,
// matching the original's behavior.
type OnUnloader interface {
	OnUnload() error
}

// Factory constructs a fresh Module instance. Each module package registers
// its Factory from an init() function, replacing the original's dynamic
// import-and-duck-type-detect entry-point resolution with a compile-time
// lookup (§4.4.1).
type Factory func() Module

var (
	factoriesMu sync.RWMutex
	factories   = map[string]Factory{}
)

// RegisterFactory makes a Factory available under key for descriptor files
// that reference it via `factory: <key>`. Intended to be called from a
// module package's init().
func RegisterFactory(key string, factory Factory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[key] = factory
}

// LookupFactory returns the Factory registered under key, if any.
func LookupFactory(key string) (Factory, bool) {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	f, ok := factories[key]
	return f, ok
}

// FactoryKeys returns the sorted set of currently registered factory keys,
// useful for error messages and diagnostics.
func FactoryKeys() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	keys := make([]string, 0, len(factories))
	for k := range factories {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Build resolves and instantiates the factory registered under key, or
// returns a ModuleLoadError naming the key.
func Build(key string) (Module, error) {
	f, ok := LookupFactory(key)
	if !ok {
		return nil, apcore.NewModuleLoadError(
			fmt.Sprintf("no factory registered for key %q", key),
			map[string]any{"factory_key": key, "known_factories": FactoryKeys()})
	}
	return f(), nil
}
