package schema

import (
	"fmt"
	"regexp"
	"sort"

	"github.com/apcore/apcore-go/pkg/apcore"
)

// Validate checks data against schema (already $ref-resolved and
// allOf-merged by the Loader) and returns every violation found; an empty
// slice means data is valid. `not` and `if`/`then`/`else` are rejected at
// load time, never reached here.
func Validate(schema map[string]any, data any, opts ValidateOptions) []apcore.ValidationIssue {
	v := &validator{opts: opts}
	v.walk("", schema, data)
	return v.issues
}

type validator struct {
	opts   ValidateOptions
	issues []apcore.ValidationIssue
}

func (v *validator) fail(path, constraint, message string, expected, actual any) {
	v.issues = append(v.issues, apcore.ValidationIssue{
		Path:       path,
		Constraint: constraint,
		Message:    message,
		Expected:   expected,
		Actual:     actual,
	})
}

func (v *validator) walk(path string, schema map[string]any, data any) {
	if schema == nil {
		return
	}

	if constRaw, ok := schema["const"]; ok {
		if !deepEqual(constRaw, data) {
			v.fail(path, "const", fmt.Sprintf("expected constant value %v", constRaw), constRaw, data)
			return
		}
	}

	if enumRaw, ok := schema["enum"].([]any); ok {
		if !containsValue(enumRaw, data) {
			v.fail(path, "enum", fmt.Sprintf("value %v is not one of the allowed values", data), enumRaw, data)
			return
		}
	}

	if typeRaw, ok := schema["type"]; ok {
		if !v.checkType(path, typeRaw, data) {
			return
		}
	}

	switch d := data.(type) {
	case map[string]any:
		v.walkObject(path, schema, d)
	case []any:
		v.walkArray(path, schema, d)
	case string:
		v.walkString(path, schema, d)
	case float64, int, int64:
		v.walkNumber(path, schema, toFloat(d))
	}

	if oneOf, ok := schema["oneOf"].([]any); ok {
		v.checkOneOf(path, oneOf, data)
	}
	if anyOf, ok := schema["anyOf"].([]any); ok {
		v.checkAnyOf(path, anyOf, data)
	}
}

func (v *validator) checkType(path string, typeRaw any, data any) bool {
	types := asStringList(typeRaw)
	if len(types) == 0 {
		return true
	}
	actual := jsonTypeOf(data, v.opts.Coerce)
	for _, t := range types {
		if t == actual {
			return true
		}
		if t == "number" && actual == "integer" {
			return true
		}
	}
	v.fail(path, "type", fmt.Sprintf("expected type %v, got %s", types, actual), types, actual)
	return false
}

func (v *validator) walkObject(path string, schema map[string]any, data map[string]any) {
	if props, ok := schema["properties"].(map[string]any); ok {
		for key, propSchemaRaw := range props {
			propSchema, _ := propSchemaRaw.(map[string]any)
			childPath := joinPath(path, key)
			if val, present := data[key]; present {
				v.walk(childPath, propSchema, val)
			}
		}
	}

	if required, ok := schema["required"].([]any); ok {
		for _, r := range required {
			key, _ := r.(string)
			if _, present := data[key]; !present {
				v.fail(joinPath(path, key), "required", fmt.Sprintf("missing required property %q", key), key, nil)
			}
		}
	}

	if addlRaw, ok := schema["additionalProperties"]; ok {
		if allowed, isBool := addlRaw.(bool); isBool && !allowed {
			props, _ := schema["properties"].(map[string]any)
			for key := range data {
				if props == nil {
					v.fail(joinPath(path, key), "additionalProperties", fmt.Sprintf("unexpected property %q", key), nil, key)
					continue
				}
				if _, known := props[key]; !known {
					v.fail(joinPath(path, key), "additionalProperties", fmt.Sprintf("unexpected property %q", key), nil, key)
				}
			}
		} else if addlSchema, isSchema := addlRaw.(map[string]any); isSchema {
			props, _ := schema["properties"].(map[string]any)
			keys := make([]string, 0, len(data))
			for key := range data {
				keys = append(keys, key)
			}
			sort.Strings(keys)
			for _, key := range keys {
				if props != nil {
					if _, known := props[key]; known {
						continue
					}
				}
				v.walk(joinPath(path, key), addlSchema, data[key])
			}
		}
	}
}

func (v *validator) walkArray(path string, schema map[string]any, data []any) {
	if itemsRaw, ok := schema["items"].(map[string]any); ok {
		for i, item := range data {
			v.walk(fmt.Sprintf("%s[%d]", path, i), itemsRaw, item)
		}
	}

	if minItems, ok := toIntPtr(schema["minItems"]); ok && len(data) < minItems {
		v.fail(path, "minItems", fmt.Sprintf("expected at least %d items, got %d", minItems, len(data)), minItems, len(data))
	}
	if maxItems, ok := toIntPtr(schema["maxItems"]); ok && len(data) > maxItems {
		v.fail(path, "maxItems", fmt.Sprintf("expected at most %d items, got %d", maxItems, len(data)), maxItems, len(data))
	}

	if unique, ok := schema["uniqueItems"].(bool); ok && unique {
		seen := make([]any, 0, len(data))
		for _, item := range data {
			for _, s := range seen {
				if deepEqual(s, item) {
					v.fail(path, "uniqueItems", "array items must be unique", nil, item)
					return
				}
			}
			seen = append(seen, item)
		}
	}
}

func (v *validator) walkString(path string, schema map[string]any, data string) {
	if minLen, ok := toIntPtr(schema["minLength"]); ok && len(data) < minLen {
		v.fail(path, "minLength", fmt.Sprintf("expected length >= %d, got %d", minLen, len(data)), minLen, len(data))
	}
	if maxLen, ok := toIntPtr(schema["maxLength"]); ok && len(data) > maxLen {
		v.fail(path, "maxLength", fmt.Sprintf("expected length <= %d, got %d", maxLen, len(data)), maxLen, len(data))
	}
	if pattern, ok := schema["pattern"].(string); ok {
		re, err := regexp.Compile(pattern)
		if err == nil && !re.MatchString(data) {
			v.fail(path, "pattern", fmt.Sprintf("value %q does not match pattern %q", data, pattern), pattern, data)
		}
	}
}

func (v *validator) walkNumber(path string, schema map[string]any, data float64) {
	if min, ok := toFloatPtr(schema["minimum"]); ok && data < min {
		v.fail(path, "minimum", fmt.Sprintf("expected >= %v, got %v", min, data), min, data)
	}
	if max, ok := toFloatPtr(schema["maximum"]); ok && data > max {
		v.fail(path, "maximum", fmt.Sprintf("expected <= %v, got %v", max, data), max, data)
	}
	if exMin, ok := toFloatPtr(schema["exclusiveMinimum"]); ok && data <= exMin {
		v.fail(path, "exclusiveMinimum", fmt.Sprintf("expected > %v, got %v", exMin, data), exMin, data)
	}
	if exMax, ok := toFloatPtr(schema["exclusiveMaximum"]); ok && data >= exMax {
		v.fail(path, "exclusiveMaximum", fmt.Sprintf("expected < %v, got %v", exMax, data), exMax, data)
	}
	if multipleOf, ok := toFloatPtr(schema["multipleOf"]); ok && multipleOf != 0 {
		quotient := data / multipleOf
		if quotient != float64(int64(quotient)) {
			v.fail(path, "multipleOf", fmt.Sprintf("expected a multiple of %v, got %v", multipleOf, data), multipleOf, data)
		}
	}
}

func (v *validator) checkOneOf(path string, branches []any, data any) {
	matches := 0
	for _, b := range branches {
		branchSchema, _ := b.(map[string]any)
		sub := &validator{opts: v.opts}
		sub.walk(path, branchSchema, data)
		if len(sub.issues) == 0 {
			matches++
		}
	}
	if matches != 1 {
		v.fail(path, "oneOf", fmt.Sprintf("expected exactly one matching branch, got %d", matches), 1, matches)
	}
}

func (v *validator) checkAnyOf(path string, branches []any, data any) {
	for _, b := range branches {
		branchSchema, _ := b.(map[string]any)
		sub := &validator{opts: v.opts}
		sub.walk(path, branchSchema, data)
		if len(sub.issues) == 0 {
			return
		}
	}
	v.fail(path, "anyOf", "value did not match any branch", nil, data)
}

func joinPath(base, key string) string {
	if base == "" {
		return key
	}
	return base + "." + key
}

func asStringList(v any) []string {
	switch t := v.(type) {
	case string:
		return []string{t}
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func jsonTypeOf(data any, coerce bool) string {
	switch d := data.(type) {
	case nil:
		return "null"
	case bool:
		return "boolean"
	case string:
		return "string"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	case int, int64:
		return "integer"
	case float64:
		if coerce && d == float64(int64(d)) {
			return "integer"
		}
		return "number"
	default:
		return "unknown"
	}
}

func containsValue(list []any, data any) bool {
	for _, item := range list {
		if deepEqual(item, data) {
			return true
		}
	}
	return false
}

func deepEqual(a, b any) bool {
	af, aok := toFloatOK(a)
	bf, bok := toFloatOK(b)
	if aok && bok {
		return af == bf
	}

	switch av := a.(type) {
	case map[string]any:
		bv, ok := b.(map[string]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for k, v := range av {
			if !deepEqual(v, bv[k]) {
				return false
			}
		}
		return true
	case []any:
		bv, ok := b.([]any)
		if !ok || len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !deepEqual(av[i], bv[i]) {
				return false
			}
		}
		return true
	default:
		return a == b
	}
}

func toFloat(v any) float64 {
	f, _ := toFloatOK(v)
	return f
}

func toFloatOK(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func toFloatPtr(v any) (float64, bool) {
	if v == nil {
		return 0, false
	}
	return toFloatOK(v)
}

func toIntPtr(v any) (int, bool) {
	f, ok := toFloatOK(v)
	if !ok {
		return 0, false
	}
	return int(f), true
}
