// Package refresolver resolves `$ref` references inside a JSON-Schema-ish
// document (§4.3), supporting local JSON Pointers, cross-file references,
// and the runtime's own `apcore://module.id/path` canonical scheme. RFC 6901
// pointer navigation is delegated to github.com/xeipuuv/gojsonpointer and
// github.com/xeipuuv/gojsonreference rather than hand-rolled, since the pack
// already carries those libraries.
package refresolver

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/apcore/apcore-go/pkg/apcore"
	"github.com/xeipuuv/gojsonpointer"
	"github.com/xeipuuv/gojsonreference"
	"gopkg.in/yaml.v3"
)

const inlineSentinel = "__inline__"

// Resolver resolves $ref nodes against a schemas root directory.
type Resolver struct {
	schemasDir string
	maxDepth   int
	fileCache  map[string]map[string]any
}

// New constructs a Resolver rooted at schemasDir. maxDepth<=0 defaults to 32.
func New(schemasDir string, maxDepth int) *Resolver {
	if maxDepth <= 0 {
		maxDepth = 32
	}
	abs, err := filepath.Abs(schemasDir)
	if err != nil {
		abs = schemasDir
	}
	return &Resolver{schemasDir: abs, maxDepth: maxDepth, fileCache: map[string]map[string]any{}}
}

// Resolve returns a deep copy of schema with every $ref node replaced by its
// resolved content. The original schema is never modified. currentFile, if
// non-empty, anchors relative cross-file references.
func (r *Resolver) Resolve(schema map[string]any, currentFile string) (map[string]any, error) {
	result := deepCopyMap(schema)
	r.fileCache[inlineSentinel] = result
	defer delete(r.fileCache, inlineSentinel)

	resolved, err := r.resolveNode(result, currentFile, map[string]bool{}, 0)
	if err != nil {
		return nil, err
	}
	m, ok := resolved.(map[string]any)
	if !ok {
		return result, nil
	}
	return m, nil
}

func (r *Resolver) resolveNode(node any, currentFile string, visited map[string]bool, depth int) (any, error) {
	switch n := node.(type) {
	case map[string]any:
		if refRaw, ok := n["$ref"]; ok {
			refString, _ := refRaw.(string)
			siblings := map[string]any{}
			for k, v := range n {
				if k != "$ref" {
					siblings[k] = v
				}
			}
			visitedCopy := copyVisited(visited)
			resolved, err := r.resolveRef(refString, currentFile, visitedCopy, depth, siblings)
			if err != nil {
				return nil, err
			}
			return resolved, nil
		}
		for k, v := range n {
			resolved, err := r.resolveNode(v, currentFile, visited, depth)
			if err != nil {
				return nil, err
			}
			n[k] = resolved
		}
		return n, nil
	case []any:
		for i, item := range n {
			resolved, err := r.resolveNode(item, currentFile, visited, depth)
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

func (r *Resolver) resolveRef(refString, currentFile string, visited map[string]bool, depth int, siblings map[string]any) (any, error) {
	if visited[refString] {
		return nil, apcore.NewSchemaCircularRefError(refString)
	}
	if depth >= r.maxDepth {
		return nil, apcore.NewSchemaCircularRefError(fmt.Sprintf("maximum reference depth %d exceeded resolving: %s", r.maxDepth, refString))
	}
	visited[refString] = true

	filePath, jsonPointer, err := r.parseRef(refString, currentFile)
	if err != nil {
		return nil, err
	}
	document, err := r.loadFile(filePath)
	if err != nil {
		return nil, err
	}
	target, err := resolvePointer(document, jsonPointer, refString)
	if err != nil {
		return nil, err
	}

	result := deepCopyAny(target)
	if asMap, ok := result.(map[string]any); ok {
		for k, v := range siblings {
			asMap[k] = v
		}
		result = asMap
	}

	effectiveFile := currentFile
	if filePath != inlineSentinel {
		effectiveFile = filePath
	}

	if asMap, ok := result.(map[string]any); ok {
		if nestedRaw, has := asMap["$ref"]; has {
			nestedRef, _ := nestedRaw.(string)
			delete(asMap, "$ref")
			var nestedSiblings map[string]any
			if len(asMap) > 0 {
				nestedSiblings = asMap
			}
			nested, err := r.resolveRef(nestedRef, effectiveFile, visited, depth+1, nestedSiblings)
			if err != nil {
				return nil, err
			}
			result = nested
		}
	}

	return r.resolveNode(result, effectiveFile, visited, depth+1)
}

func (r *Resolver) parseRef(refString, currentFile string) (filePath, jsonPointer string, err error) {
	if strings.HasPrefix(refString, "#") {
		pointer := strings.TrimPrefix(refString, "#")
		if currentFile != "" {
			return currentFile, pointer, nil
		}
		return inlineSentinel, pointer, nil
	}

	if strings.HasPrefix(refString, "apcore://") {
		return r.convertCanonical(refString)
	}

	// A relative file is looked up next to the current file first, then
	// under the schemas root.
	locate := func(rel string) string {
		if currentFile != "" {
			candidate := filepath.Clean(filepath.Join(filepath.Dir(currentFile), rel))
			if _, statErr := os.Stat(candidate); statErr == nil {
				return candidate
			}
		}
		return filepath.Clean(filepath.Join(r.schemasDir, rel))
	}

	ref, parseErr := gojsonreference.NewJsonReference(refString)
	if parseErr == nil && ref.GetUrl() != nil {
		if idx := strings.Index(refString, "#"); idx >= 0 {
			filePart := refString[:idx]
			pointer := refString[idx+1:]
			return locate(filePart), pointer, nil
		}
	}

	return locate(refString), "", nil
}

func (r *Resolver) convertCanonical(uri string) (filePath, jsonPointer string, err error) {
	remainder := strings.TrimPrefix(uri, "apcore://")
	parts := strings.Split(remainder, "/")
	canonicalID := parts[0]
	pointerParts := parts[1:]

	fileRel := strings.ReplaceAll(canonicalID, ".", "/") + ".schema.yaml"
	filePath = filepath.Join(r.schemasDir, fileRel)

	if len(pointerParts) > 0 {
		jsonPointer = "/" + strings.Join(pointerParts, "/")
	}
	return filePath, jsonPointer, nil
}

func resolvePointer(document any, pointer, refString string) (any, error) {
	if pointer == "" {
		return document, nil
	}
	jp, err := gojsonpointer.NewJsonPointer(pointer)
	if err != nil {
		return nil, apcore.NewSchemaNotFoundError(fmt.Sprintf("%s (invalid pointer: %v)", refString, err))
	}
	val, _, err := jp.Get(document)
	if err != nil {
		return nil, apcore.NewSchemaNotFoundError(fmt.Sprintf("%s (%v)", refString, err))
	}
	return val, nil
}

func (r *Resolver) loadFile(filePath string) (map[string]any, error) {
	if filePath == inlineSentinel {
		if doc, ok := r.fileCache[inlineSentinel]; ok {
			return doc, nil
		}
		return map[string]any{}, nil
	}

	if cached, ok := r.fileCache[filePath]; ok {
		return cached, nil
	}

	content, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, apcore.NewSchemaNotFoundError(filePath)
		}
		return nil, apcore.NewSchemaParseError(fmt.Sprintf("reading schema file %s: %v", filePath, err))
	}
	if len(strings.TrimSpace(string(content))) == 0 {
		r.fileCache[filePath] = map[string]any{}
		return map[string]any{}, nil
	}

	var parsed map[string]any
	if err := yaml.Unmarshal(content, &parsed); err != nil {
		return nil, apcore.NewSchemaParseError(fmt.Sprintf("invalid YAML in %s: %v", filePath, err))
	}
	if parsed == nil {
		parsed = map[string]any{}
	}
	r.fileCache[filePath] = parsed
	return parsed, nil
}

func copyVisited(v map[string]bool) map[string]bool {
	out := make(map[string]bool, len(v))
	for k, val := range v {
		out[k] = val
	}
	return out
}

func deepCopyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = deepCopyAny(v)
	}
	return out
}

func deepCopyAny(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMap(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = deepCopyAny(item)
		}
		return out
	default:
		return val
	}
}
