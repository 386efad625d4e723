package binding

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/apcore/apcore-go/pkg/apcore"
	"github.com/apcore/apcore-go/pkg/registry"
	"gopkg.in/yaml.v3"
)

// bindingFile is the root shape of a `*.binding.yaml` file.
type bindingFile struct {
	Bindings []bindingEntry `yaml:"bindings"`
}

// bindingEntry is one binding: a registry module_id, a compile-time
// Factories key to resolve (target), and one of four schema-determination
// modes.
type bindingEntry struct {
	ModuleID     string         `yaml:"module_id"`
	Target       string         `yaml:"target"`
	Description  string         `yaml:"description"`
	Tags         []string       `yaml:"tags"`
	Version      string         `yaml:"version"`
	AutoSchema   bool           `yaml:"auto_schema"`
	InputSchema  map[string]any `yaml:"input_schema"`
	OutputSchema map[string]any `yaml:"output_schema"`
	SchemaRef    string         `yaml:"schema_ref"`
}

type schemaRefFile struct {
	InputSchema  map[string]any `yaml:"input_schema"`
	OutputSchema map[string]any `yaml:"output_schema"`
}

// permissiveSchema is used wherever a schema-determination mode cannot
// actually determine a schema (Go has no type-hint introspection to make
// `auto_schema` concrete) — matching the original's explicit fallback to a
// permissive, extra-allowed model.
func permissiveSchema() map[string]any {
	return map[string]any{"type": "object"}
}

// LoadBindings reads filePath, resolving each entry's target against reg's
// compile-time Factories map (the same one §4.4.1's Registry discovery
// uses) and registering the resulting FunctionModule-wrapping Module.
func LoadBindings(filePath string, reg *registry.Registry) ([]*FunctionModule, error) {
	content, err := os.ReadFile(filePath)
	if err != nil {
		return nil, apcore.NewConfigNotFoundError(filePath)
	}

	var file bindingFile
	if err := yaml.Unmarshal(content, &file); err != nil {
		return nil, apcore.NewConfigError("invalid binding file: "+err.Error(), map[string]any{"file": filePath})
	}
	if file.Bindings == nil {
		return nil, apcore.NewConfigError("missing 'bindings' key", map[string]any{"file": filePath})
	}

	dir := filepath.Dir(filePath)
	results := make([]*FunctionModule, 0, len(file.Bindings))
	for _, entry := range file.Bindings {
		if entry.ModuleID == "" || entry.Target == "" {
			return nil, apcore.NewConfigError("binding entry missing module_id or target", map[string]any{"file": filePath})
		}
		fm, err := buildModule(entry, dir)
		if err != nil {
			return nil, err
		}
		descriptor := registry.ModuleDescriptor{
			Description: fm.description,
			Version:     fm.version,
			Tags:        fm.tags,
		}
		if err := reg.Register(entry.ModuleID, fm, descriptor); err != nil {
			return nil, err
		}
		results = append(results, fm)
	}
	return results, nil
}

// LoadBindingDir loads every `*.binding.yaml` file (sorted) in dir.
func LoadBindingDir(dir string, reg *registry.Registry) ([]*FunctionModule, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.binding.yaml"))
	if err != nil {
		return nil, apcore.NewConfigError("globbing binding directory failed: "+err.Error(), map[string]any{"dir": dir})
	}
	sort.Strings(matches)

	var results []*FunctionModule
	for _, f := range matches {
		fms, err := LoadBindings(f, reg)
		if err != nil {
			return nil, err
		}
		results = append(results, fms...)
	}
	return results, nil
}

func buildModule(entry bindingEntry, bindingDir string) (*FunctionModule, error) {
	factory, ok := registry.LookupFactory(entry.Target)
	if !ok {
		return nil, apcore.NewBindingError("binding target not found in compile-time factory registry", map[string]any{
			"target": entry.Target,
		})
	}
	mod := factory()

	inputSchema, outputSchema, err := resolveBindingSchemas(entry, bindingDir)
	if err != nil {
		return nil, err
	}

	opts := []BindingOption{WithVersion(firstNonEmpty(entry.Version, "1.0.0"))}
	if entry.Description != "" {
		opts = append(opts, WithDescription(entry.Description))
	}
	if len(entry.Tags) > 0 {
		opts = append(opts, WithTags(entry.Tags...))
	}
	opts = append(opts, withResolvedSchemas(inputSchema, outputSchema))

	return MakeFunctionModule(mod.Execute, entry.ModuleID, opts...), nil
}

// withResolvedSchemas stashes the resolved schemas as annotations so a
// schema.Loader can pick them up via RegisterNative at wiring time; the
// FunctionModule itself carries no schema fields (§4.9.1).
func withResolvedSchemas(input, output map[string]any) BindingOption {
	return func(m *FunctionModule) {
		m.annotations = map[string]any{"input_schema": input, "output_schema": output}
	}
}

func resolveBindingSchemas(entry bindingEntry, bindingDir string) (map[string]any, map[string]any, error) {
	switch {
	case entry.InputSchema != nil || entry.OutputSchema != nil:
		return defaultSchema(entry.InputSchema), defaultSchema(entry.OutputSchema), nil
	case entry.SchemaRef != "":
		refPath := filepath.Join(bindingDir, entry.SchemaRef)
		content, err := os.ReadFile(refPath)
		if err != nil {
			return nil, nil, apcore.NewConfigNotFoundError(refPath)
		}
		var ref schemaRefFile
		if err := yaml.Unmarshal(content, &ref); err != nil {
			return nil, nil, apcore.NewConfigError("invalid schema_ref file: "+err.Error(), map[string]any{"file": refPath})
		}
		return defaultSchema(ref.InputSchema), defaultSchema(ref.OutputSchema), nil
	default:
		// auto_schema (explicit or default): Go cannot infer from types,
		// so this degrades to a permissive schema (§4.9.1).
		return permissiveSchema(), permissiveSchema(), nil
	}
}

func defaultSchema(s map[string]any) map[string]any {
	if s == nil {
		return permissiveSchema()
	}
	return s
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
