package schema

import (
	"sort"
	"strings"

	"github.com/apcore/apcore-go/pkg/apcore"
)

// ToStrict transforms a loaded schema into OpenAI/Anthropic "strict mode"
// shape (§4.3, port of original_source/schema/strict.py): `x-*` extension
// keys and `default` are stripped, every object with a `properties` map gets
// additionalProperties:false and every property listed in `required`, and
// properties that were optional before the rewrite become nullable —
// a primitive type gains a "null" member in its `type` array/string, while a
// `$ref` or composition keyword gets wrapped in `oneOf:[orig, {type:null}]`.
// The input schema is left untouched; a deep-copied transformed tree is
// returned.
func ToStrict(schema map[string]any) (map[string]any, error) {
	if schema == nil {
		return nil, nil
	}
	copied := deepCopyMapLocal(schema)
	if err := checkUnsupported(copied); err != nil {
		return nil, err
	}
	stripExtensions(copied)
	convertToStrict(copied)
	return copied, nil
}

// checkUnsupported walks the tree once up front and rejects keywords the
// strict-mode rewrite cannot express ("not", "if"/"then"/"else"), failing
// fast rather than silently producing an incorrect strict schema.
func checkUnsupported(node any) error {
	m, ok := node.(map[string]any)
	if !ok {
		return nil
	}
	if _, hasNot := m["not"]; hasNot {
		return apcore.NewSchemaParseError("the \"not\" keyword is not supported")
	}
	if _, hasIf := m["if"]; hasIf {
		return apcore.NewSchemaParseError("if/then/else composition is not supported")
	}
	for _, child := range nestedNodes(m) {
		if err := checkUnsupported(child); err != nil {
			return err
		}
	}
	return nil
}

// nestedNodes returns every child node _convert_to_strict/_strip_extensions
// recurse into: properties, items, oneOf/anyOf/allOf branches, definitions
// and $defs.
func nestedNodes(node map[string]any) []any {
	var out []any
	if props, ok := node["properties"].(map[string]any); ok {
		for _, v := range props {
			out = append(out, v)
		}
	}
	if items, ok := node["items"]; ok {
		out = append(out, items)
	}
	for _, key := range []string{"oneOf", "anyOf", "allOf"} {
		if branches, ok := node[key].([]any); ok {
			out = append(out, branches...)
		}
	}
	for _, key := range []string{"definitions", "$defs"} {
		if defs, ok := node[key].(map[string]any); ok {
			for _, v := range defs {
				out = append(out, v)
			}
		}
	}
	return out
}

// stripExtensions removes every `x-*` key and `default` key, recursively.
func stripExtensions(node any) {
	m, ok := node.(map[string]any)
	if !ok {
		return
	}
	for k := range m {
		if (strings.HasPrefix(k, "x-")) || k == "default" {
			delete(m, k)
		}
	}
	for _, v := range m {
		switch val := v.(type) {
		case map[string]any:
			stripExtensions(val)
		case []any:
			for _, item := range val {
				stripExtensions(item)
			}
		}
	}
}

// ApplyLLMDescriptions deep-copies schema and replaces `description` with
// `x-llm-description` wherever both are present, recursively. Exporters call
// this before strict-mode/extension-stripping so the LLM-facing description
// survives into the exported form.
func ApplyLLMDescriptions(schema map[string]any) map[string]any {
	if schema == nil {
		return nil
	}
	copied := deepCopyMapLocal(schema)
	applyLLMDescriptions(copied)
	return copied
}

// StripExtensions deep-copies schema and removes every `x-*` key and
// `default` key, recursively.
func StripExtensions(schema map[string]any) map[string]any {
	if schema == nil {
		return nil
	}
	copied := deepCopyMapLocal(schema)
	stripExtensions(copied)
	return copied
}

// applyLLMDescriptions replaces `description` with `x-llm-description` where
// present, recursively. Exporters call this before the extension-stripping
// pass so the LLM-facing description survives into strict mode.
func applyLLMDescriptions(node any) {
	m, ok := node.(map[string]any)
	if !ok {
		return
	}
	if llmDesc, hasLLM := m["x-llm-description"]; hasLLM {
		if _, hasDesc := m["description"]; hasDesc {
			m["description"] = llmDesc
		}
	}
	for _, child := range nestedNodes(m) {
		applyLLMDescriptions(child)
	}
}

// convertToStrict enforces strict-mode rules on an object schema, mutating
// in place, then recurses into nested structures.
func convertToStrict(node any) {
	m, ok := node.(map[string]any)
	if !ok {
		return
	}

	if nullable, ok := m["nullable"].(bool); ok {
		delete(m, "nullable")
		if nullable {
			switch t := m["type"].(type) {
			case string:
				m["type"] = []any{t, "null"}
			case []any:
				if !containsString(t, "null") {
					m["type"] = append(t, "null")
				}
			}
		}
	}

	if typ, _ := m["type"].(string); typ == "object" {
		if props, ok := m["properties"].(map[string]any); ok {
			m["additionalProperties"] = false

			existingRequired := map[string]bool{}
			for _, r := range asStringSlice(m["required"]) {
				existingRequired[r] = true
			}

			allNames := make([]string, 0, len(props))
			for name := range props {
				allNames = append(allNames, name)
			}

			for _, name := range allNames {
				if existingRequired[name] {
					continue
				}
				prop, _ := props[name].(map[string]any)
				if prop == nil {
					continue
				}
				switch t := prop["type"].(type) {
				case string:
					prop["type"] = []any{t, "null"}
				case []any:
					if !containsString(t, "null") {
						prop["type"] = append(t, "null")
					}
				default:
					// Pure $ref or composition keyword: wrap in oneOf with null.
					props[name] = map[string]any{"oneOf": []any{prop, map[string]any{"type": "null"}}}
				}
			}

			sort.Strings(allNames)
			required := make([]any, len(allNames))
			for i, name := range allNames {
				required[i] = name
			}
			m["required"] = required
		}
	}

	for _, child := range nestedNodes(m) {
		convertToStrict(child)
	}
}

func asStringSlice(v any) []string {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, item := range list {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

func containsString(list []any, s string) bool {
	for _, item := range list {
		if str, ok := item.(string); ok && str == s {
			return true
		}
	}
	return false
}

func deepCopyMapLocal(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = deepCopyValueLocal(v)
	}
	return out
}

func deepCopyValueLocal(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return deepCopyMapLocal(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = deepCopyValueLocal(item)
		}
		return out
	default:
		return val
	}
}
