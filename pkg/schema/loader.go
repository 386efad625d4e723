package schema

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/apcore/apcore-go/pkg/apcore"
	"github.com/apcore/apcore-go/pkg/schema/refresolver"
	"gopkg.in/yaml.v3"
)

// Bundle is a module's resolved input/output schema pair, post-$ref and
// post-allOf-merge, ready for repeated Validate calls.
type Bundle struct {
	ModuleID string
	Input    map[string]any
	Output   map[string]any
	sourceFile string
}

// Loader loads and caches schema bundles for modules, resolving $ref nodes
// against a schemas directory and merging allOf compositions once at load
// time rather than on every Validate call.
type Loader struct {
	schemasDir string
	strategy   LoadStrategy
	maxRefDepth int

	nativeSchemas sync.Map // moduleID string -> *rawSchemaPair
	bundles       sync.Map // moduleID string -> *Bundle
}

type rawSchemaPair struct {
	input  map[string]any
	output map[string]any
}

// NewLoader constructs a Loader rooted at schemasDir. An empty strategy
// defaults to StrategyYAMLFirst.
func NewLoader(schemasDir string, strategy LoadStrategy) *Loader {
	if strategy == "" {
		strategy = StrategyYAMLFirst
	}
	return &Loader{schemasDir: schemasDir, strategy: strategy, maxRefDepth: 32}
}

// RegisterNative registers a schema pair for moduleID defined directly in Go
// code (the "native" source, as opposed to a YAML sidecar file), for modules
// built with binding.MakeFunctionModule.
func (l *Loader) RegisterNative(moduleID string, input, output map[string]any) {
	l.nativeSchemas.Store(moduleID, &rawSchemaPair{input: input, output: output})
	l.bundles.Delete(moduleID)
}

// ClearCache drops every cached bundle, forcing the next Load to re-read
// from disk and re-resolve $ref nodes. Native schemas survive a ClearCache;
// use RegisterNative again to replace them.
func (l *Loader) ClearCache() {
	l.bundles.Range(func(key, _ any) bool {
		l.bundles.Delete(key)
		return true
	})
}

// Load resolves and returns the schema bundle for moduleID, from cache if
// present.
func (l *Loader) Load(moduleID string) (*Bundle, error) {
	if cached, ok := l.bundles.Load(moduleID); ok {
		return cached.(*Bundle), nil
	}

	bundle, err := l.loadUncached(moduleID)
	if err != nil {
		return nil, err
	}
	l.bundles.Store(moduleID, bundle)
	return bundle, nil
}

func (l *Loader) loadUncached(moduleID string) (*Bundle, error) {
	filePath := l.fileFor(moduleID)
	fileDoc, fileErr := l.readFile(filePath)

	native, hasNative := l.nativeSchemas.Load(moduleID)

	var raw *rawSchemaPair
	var sourceFile string

	switch l.strategy {
	case StrategyYAMLOnly:
		if fileErr != nil {
			return nil, fileErr
		}
		raw = fileDoc
		sourceFile = filePath
	case StrategyNativeFirst:
		if hasNative {
			raw = native.(*rawSchemaPair)
		} else if fileErr == nil {
			raw = fileDoc
			sourceFile = filePath
		} else {
			return nil, apcore.NewSchemaNotFoundError(moduleID)
		}
	default: // StrategyYAMLFirst
		if fileErr == nil {
			raw = fileDoc
			sourceFile = filePath
		} else if hasNative {
			raw = native.(*rawSchemaPair)
		} else {
			return nil, apcore.NewSchemaNotFoundError(moduleID)
		}
	}

	resolver := refresolver.New(l.schemasDir, l.maxRefDepth)

	input, err := l.resolveAndMerge(resolver, raw.input, sourceFile)
	if err != nil {
		return nil, err
	}
	output, err := l.resolveAndMerge(resolver, raw.output, sourceFile)
	if err != nil {
		return nil, err
	}

	return &Bundle{ModuleID: moduleID, Input: input, Output: output, sourceFile: sourceFile}, nil
}

func (l *Loader) resolveAndMerge(resolver *refresolver.Resolver, node map[string]any, sourceFile string) (map[string]any, error) {
	if node == nil {
		return nil, nil
	}
	resolved, err := resolver.Resolve(node, sourceFile)
	if err != nil {
		return nil, err
	}
	return mergeAllOf(resolved)
}

func (l *Loader) fileFor(moduleID string) string {
	rel := pathFromModuleID(moduleID) + ".schema.yaml"
	return filepath.Join(l.schemasDir, rel)
}

func pathFromModuleID(moduleID string) string {
	out := make([]rune, 0, len(moduleID))
	for _, r := range moduleID {
		if r == '.' {
			out = append(out, filepath.Separator)
		} else {
			out = append(out, r)
		}
	}
	return string(out)
}

type schemaFile struct {
	Input  map[string]any `yaml:"input_schema"`
	Output map[string]any `yaml:"output_schema"`
}

func (l *Loader) readFile(path string) (*rawSchemaPair, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apcore.NewSchemaNotFoundError(path)
		}
		return nil, apcore.NewSchemaParseError(fmt.Sprintf("reading schema file %s: %v", path, err))
	}

	var parsed schemaFile
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return nil, apcore.NewSchemaParseError(fmt.Sprintf("invalid YAML in %s: %v", path, err))
	}
	return &rawSchemaPair{input: parsed.Input, output: parsed.Output}, nil
}

// mergeAllOf folds `allOf` compositions into their parent schema object at
// load time (not at validate time), so Validate never has to re-walk allOf
// branches on the hot path. A type conflict between allOf branches fails
// loading with a SchemaParseError, matching the "fail fast" requirement for
// malformed schema documents.
func mergeAllOf(node map[string]any) (map[string]any, error) {
	merged, err := mergeAllOfNode(node)
	if err != nil {
		return nil, err
	}
	m, _ := merged.(map[string]any)
	return m, nil
}

func mergeAllOfNode(node any) (any, error) {
	switch n := node.(type) {
	case map[string]any:
		if _, has := n["not"]; has {
			return nil, apcore.NewSchemaParseError("the \"not\" keyword is not supported")
		}
		if _, has := n["if"]; has {
			return nil, apcore.NewSchemaParseError("if/then/else composition is not supported")
		}
		for k, v := range n {
			resolved, err := mergeAllOfNode(v)
			if err != nil {
				return nil, err
			}
			n[k] = resolved
		}
		allOfRaw, has := n["allOf"]
		if !has {
			return n, nil
		}
		branches, ok := allOfRaw.([]any)
		if !ok {
			return nil, apcore.NewSchemaParseError("allOf must be a list of schema objects")
		}
		delete(n, "allOf")
		for _, b := range branches {
			branch, ok := b.(map[string]any)
			if !ok {
				return nil, apcore.NewSchemaParseError("allOf entries must be schema objects")
			}
			if err := mergeInto(n, branch); err != nil {
				return nil, err
			}
		}
		return n, nil
	case []any:
		for i, item := range n {
			resolved, err := mergeAllOfNode(item)
			if err != nil {
				return nil, err
			}
			n[i] = resolved
		}
		return n, nil
	default:
		return node, nil
	}
}

func mergeInto(dst, src map[string]any) error {
	if srcType, ok := src["type"]; ok {
		if dstType, ok := dst["type"]; ok && dstType != srcType {
			return apcore.NewSchemaParseError(fmt.Sprintf("allOf type conflict: %v vs %v", dstType, srcType))
		}
		dst["type"] = srcType
	}
	if srcProps, ok := src["properties"].(map[string]any); ok {
		dstProps, _ := dst["properties"].(map[string]any)
		if dstProps == nil {
			dstProps = map[string]any{}
		}
		for k, v := range srcProps {
			dstProps[k] = v
		}
		dst["properties"] = dstProps
	}
	if srcReq, ok := src["required"].([]any); ok {
		dstReq, _ := dst["required"].([]any)
		dst["required"] = append(dstReq, srcReq...)
	}
	for k, v := range src {
		switch k {
		case "type", "properties", "required":
			continue
		default:
			if _, exists := dst[k]; !exists {
				dst[k] = v
			}
		}
	}
	return nil
}
