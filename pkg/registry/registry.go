package registry

import (
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"

	"github.com/apcore/apcore-go/pkg/apcore"
)

// EventCallback is registered through Registry.On for "register"/"unregister"
// events. Panics and errors from a callback are never propagated to the
// caller that triggered the event.
type EventCallback func(moduleID string, module Module)

// Note on §4.4's `clear_cache()` operation: the original keeps its resolved-
// schema cache on the same object as module storage. Here that cache lives
// on schema.Loader (see schema.Loader.ClearCache) instead of on Registry —
// Registry only stores modules/descriptors and never sees resolved schemas,
// which the Executor loads independently through its own Loader reference.
// Callers that discover modules and also want to drop cached schemas (e.g.
// after a hot-reload) call both Registry.Discover and schema.Loader.ClearCache.

// Options configures a Registry's discovery behavior.
type Options struct {
	ExtensionRoots []ExtensionRoot
	MaxDepth       int // defaults to 8
	IDMap          map[string]IDMapEntry
}

// Registry is the central module store: discovery, manual registration,
// lookup, and an event system for register/unregister notifications
// (§4.4). All state is guarded by a single mutex; callback dispatch takes a
// snapshot under the lock and invokes callbacks lock-free afterward
// (§4.4.1/§5, design note (c): Go has no safe reentrant-mutex idiom, so this
// follows the original's actual _trigger_event code rather than its prose
// description of a reentrant lock).
type Registry struct {
	mu       sync.Mutex
	modules  map[string]Module
	meta     map[string]ModuleDescriptor
	idMap    map[string]IDMapEntry
	callbacks map[string][]EventCallback

	opts Options
}

// New constructs an empty Registry with the given discovery options.
func New(opts Options) *Registry {
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = 8
	}
	return &Registry{
		modules:  map[string]Module{},
		meta:     map[string]ModuleDescriptor{},
		idMap:    opts.IDMap,
		callbacks: map[string][]EventCallback{"register": nil, "unregister": nil},
		opts:     opts,
	}
}

// Discover runs the 8-step discovery pipeline (§4.4): scan extension roots
// for `*.module.yaml` descriptors, apply ID map overrides, load each
// descriptor, resolve its factory, validate it, collect dependencies,
// topologically sort the batch, then instantiate and register in that
// order. Returns the number of modules registered by this pass.
func (r *Registry) Discover() (int, error) {
	// Step 1: scan.
	var discovered []DiscoveredModule
	var err error
	hasNamespace := false
	for _, root := range r.opts.ExtensionRoots {
		if root.Namespace != "" {
			hasNamespace = true
		}
	}
	if len(r.opts.ExtensionRoots) > 1 || hasNamespace {
		discovered, err = scanMultiRoot(r.opts.ExtensionRoots, r.opts.MaxDepth)
	} else if len(r.opts.ExtensionRoots) == 1 {
		discovered, err = scanExtensions(r.opts.ExtensionRoots[0].Root, r.opts.MaxDepth)
	}
	if err != nil {
		return 0, err
	}

	// Step 2: ID map overrides, keyed by path relative to its extension root.
	factoryOverrides := map[string]string{}
	for i, dm := range discovered {
		for _, root := range r.opts.ExtensionRoots {
			absRoot, _ := filepath.Abs(root.Root)
			rel, relErr := filepath.Rel(absRoot, dm.FilePath)
			if relErr != nil {
				continue
			}
			if entry, ok := r.idMap[rel]; ok {
				if entry.ID != "" {
					discovered[i].CanonicalID = entry.ID
				}
				if entry.Factory != "" {
					factoryOverrides[discovered[i].CanonicalID] = entry.Factory
				}
			}
		}
	}

	// Step 3: load descriptor files.
	descriptors := map[string]*descriptorFile{}
	for _, dm := range discovered {
		file, loadErr := loadDescriptorFile(dm.FilePath)
		if loadErr != nil {
			return 0, loadErr
		}
		if factory, ok := factoryOverrides[dm.CanonicalID]; ok {
			file.Factory = factory
		}
		descriptors[dm.CanonicalID] = file
	}

	// Step 4: resolve entry points (factory lookup).
	resolvedFactories := map[string]Factory{}
	for id, file := range descriptors {
		factory, ok := LookupFactory(file.Factory)
		if !ok {
			continue // unknown factory key: the descriptor is skipped without logging
		}
		resolvedFactories[id] = factory
	}

	// Step 5: validate.
	validIDs := map[string]bool{}
	for id, file := range descriptors {
		if _, hasFactory := resolvedFactories[id]; !hasFactory {
			continue
		}
		if errs := validateDescriptor(file); len(errs) > 0 {
			continue
		}
		validIDs[id] = true
	}

	// Step 6: collect dependencies.
	var withDeps []moduleDeps
	for id := range validIDs {
		withDeps = append(withDeps, moduleDeps{ModuleID: id, Deps: descriptors[id].Dependencies})
	}
	sort.Slice(withDeps, func(i, j int) bool { return withDeps[i].ModuleID < withDeps[j].ModuleID })

	knownIDs := make(map[string]bool, len(withDeps))
	for _, m := range withDeps {
		knownIDs[m.ModuleID] = true
	}

	// Step 7: topological sort.
	loadOrder, err := resolveDependencies(withDeps, knownIDs)
	if err != nil {
		return 0, err
	}

	// Step 8: instantiate and register in dependency order.
	registered := 0
	for _, id := range loadOrder {
		file := descriptors[id]
		factory := resolvedFactories[id]
		module := factory()

		var info ModuleInfo
		if describer, ok := module.(Describer); ok {
			info = describer.Describe()
		}
		descriptor := mergeModuleMetadata(info, file)
		descriptor.ModuleID = id

		if err := r.registerResolved(id, module, descriptor); err != nil {
			continue
		}
		registered++
	}

	return registered, nil
}

// Register manually registers a module instance under moduleID, bypassing
// discovery. Fails if moduleID is already registered.
func (r *Registry) Register(moduleID string, module Module, descriptor ModuleDescriptor) error {
	if moduleID == "" {
		return apcore.NewInvalidInputError("module_id must be a non-empty string", nil)
	}
	descriptor.ModuleID = moduleID
	return r.registerResolved(moduleID, module, descriptor)
}

func (r *Registry) registerResolved(moduleID string, module Module, descriptor ModuleDescriptor) error {
	r.mu.Lock()
	if _, exists := r.modules[moduleID]; exists {
		r.mu.Unlock()
		return apcore.NewInvalidInputError(fmt.Sprintf("module already exists: %s", moduleID), map[string]any{"module_id": moduleID})
	}
	r.modules[moduleID] = module
	r.meta[moduleID] = descriptor
	r.mu.Unlock()

	if loader, ok := module.(OnLoader); ok {
		if err := loader.OnLoad(); err != nil {
			r.mu.Lock()
			delete(r.modules, moduleID)
			delete(r.meta, moduleID)
			r.mu.Unlock()
			return apcore.NewModuleLoadError(fmt.Sprintf("on_load failed for module %q: %v", moduleID, err), map[string]any{"module_id": moduleID})
		}
	}

	r.triggerEvent("register", moduleID, module)
	return nil
}

// Unregister removes a module. Returns false if it was not registered.
func (r *Registry) Unregister(moduleID string) bool {
	r.mu.Lock()
	module, ok := r.modules[moduleID]
	if !ok {
		r.mu.Unlock()
		return false
	}
	delete(r.modules, moduleID)
	delete(r.meta, moduleID)
	r.mu.Unlock()

	if unloader, ok := module.(OnUnloader); ok {
		if err := unloader.OnUnload(); err != nil { // logged, not propagated
			slog.Default().Warn("module on_unload failed", "module_id", moduleID, "error", err)
		}
	}

	r.triggerEvent("unregister", moduleID, module)
	return true
}

// Get looks up a module by ID, returning (nil, false) if not found.
func (r *Registry) Get(moduleID string) (Module, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.modules[moduleID]
	return m, ok
}

// Has reports whether moduleID is registered.
func (r *Registry) Has(moduleID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.modules[moduleID]
	return ok
}

// Count returns the number of registered modules.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.modules)
}

// ModuleIDs returns the sorted list of registered module IDs.
func (r *Registry) ModuleIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.modules))
	for id := range r.modules {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// List returns the sorted list of registered module IDs, optionally
// filtered by prefix and/or requiring every given tag.
func (r *Registry) List(tags []string, prefix string) []string {
	r.mu.Lock()
	meta := make(map[string]ModuleDescriptor, len(r.meta))
	for k, v := range r.meta {
		meta[k] = v
	}
	ids := make([]string, 0, len(r.modules))
	for id := range r.modules {
		ids = append(ids, id)
	}
	r.mu.Unlock()

	var filtered []string
	for _, id := range ids {
		if prefix != "" && (len(id) < len(prefix) || id[:len(prefix)] != prefix) {
			continue
		}
		if len(tags) > 0 && !hasAllTags(meta[id].Tags, tags) {
			continue
		}
		filtered = append(filtered, id)
	}
	sort.Strings(filtered)
	return filtered
}

func hasAllTags(have, want []string) bool {
	set := make(map[string]bool, len(have))
	for _, t := range have {
		set[t] = true
	}
	for _, t := range want {
		if !set[t] {
			return false
		}
	}
	return true
}

// Iter returns a point-in-time snapshot of (moduleID, module) pairs.
func (r *Registry) Iter() []struct {
	ModuleID string
	Module   Module
} {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]struct {
		ModuleID string
		Module   Module
	}, 0, len(r.modules))
	for id, m := range r.modules {
		out = append(out, struct {
			ModuleID string
			Module   Module
		}{id, m})
	}
	return out
}

// GetDefinition returns the ModuleDescriptor for a registered module, or
// (zero, false) if not found.
func (r *Registry) GetDefinition(moduleID string) (ModuleDescriptor, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.meta[moduleID]
	return d, ok
}

// On registers an event callback for "register" or "unregister".
func (r *Registry) On(event string, cb EventCallback) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.callbacks[event]; !ok {
		return apcore.NewInvalidInputError(fmt.Sprintf("invalid event: %s, must be 'register' or 'unregister'", event), nil)
	}
	r.callbacks[event] = append(r.callbacks[event], cb)
	return nil
}

// triggerEvent takes a snapshot of the registered callbacks for event under
// the lock, then invokes them lock-free so a callback may safely call back
// into the Registry (e.g. Get, List) without deadlocking.
func (r *Registry) triggerEvent(event, moduleID string, module Module) {
	r.mu.Lock()
	callbacks := append([]EventCallback(nil), r.callbacks[event]...)
	r.mu.Unlock()

	for _, cb := range callbacks {
		safeInvoke(cb, moduleID, module)
	}
}

func safeInvoke(cb EventCallback, moduleID string, module Module) {
	defer func() {
		if r := recover(); r != nil {
			slog.Default().Error("registry event callback panicked", "module_id", moduleID, "panic", r)
		}
	}()
	cb(moduleID, module)
}
