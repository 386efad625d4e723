package schema

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/apcore/apcore-go/pkg/apcore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSchemaFile(t *testing.T, dir, moduleID, content string) {
	t.Helper()
	rel := pathFromModuleID(moduleID) + ".schema.yaml"
	full := filepath.Join(dir, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0o600))
}

func TestLoader_YAMLFirst(t *testing.T) {
	dir := t.TempDir()
	writeSchemaFile(t, dir, "weather.get", `
input_schema:
  type: object
  properties:
    city: {type: string}
  required: [city]
output_schema:
  type: object
`)
	l := NewLoader(dir, StrategyYAMLFirst)
	bundle, err := l.Load("weather.get")
	require.NoError(t, err)
	assert.Equal(t, "object", bundle.Input["type"])
}

func TestLoader_CachesBundle(t *testing.T) {
	dir := t.TempDir()
	writeSchemaFile(t, dir, "mod.a", "input_schema: {type: object}\noutput_schema: {type: object}\n")
	l := NewLoader(dir, StrategyYAMLFirst)
	b1, err := l.Load("mod.a")
	require.NoError(t, err)
	b2, err := l.Load("mod.a")
	require.NoError(t, err)
	assert.Same(t, b1, b2)

	l.ClearCache()
	b3, err := l.Load("mod.a")
	require.NoError(t, err)
	assert.NotSame(t, b1, b3)
}

func TestLoader_NativeFallback(t *testing.T) {
	dir := t.TempDir()
	l := NewLoader(dir, StrategyYAMLFirst)
	l.RegisterNative("native.mod", map[string]any{"type": "object"}, map[string]any{"type": "object"})
	bundle, err := l.Load("native.mod")
	require.NoError(t, err)
	assert.Equal(t, "object", bundle.Input["type"])
}

func TestLoader_YAMLOnlyIgnoresNative(t *testing.T) {
	dir := t.TempDir()
	l := NewLoader(dir, StrategyYAMLOnly)
	l.RegisterNative("missing.mod", map[string]any{"type": "object"}, nil)
	_, err := l.Load("missing.mod")
	require.Error(t, err)
	aerr, ok := err.(*apcore.Error)
	require.True(t, ok)
	assert.Equal(t, apcore.CodeSchemaNotFound, aerr.Code)
}

func TestMergeAllOf_MergesProperties(t *testing.T) {
	schema := map[string]any{
		"allOf": []any{
			map[string]any{"type": "object", "properties": map[string]any{"a": map[string]any{"type": "string"}}},
			map[string]any{"type": "object", "properties": map[string]any{"b": map[string]any{"type": "number"}}, "required": []any{"b"}},
		},
	}
	merged, err := mergeAllOf(schema)
	require.NoError(t, err)
	assert.Equal(t, "object", merged["type"])
	props := merged["properties"].(map[string]any)
	assert.Contains(t, props, "a")
	assert.Contains(t, props, "b")
}

func TestMergeAllOf_TypeConflictFails(t *testing.T) {
	schema := map[string]any{
		"allOf": []any{
			map[string]any{"type": "object"},
			map[string]any{"type": "string"},
		},
	}
	_, err := mergeAllOf(schema)
	require.Error(t, err)
	aerr, ok := err.(*apcore.Error)
	require.True(t, ok)
	assert.Equal(t, apcore.CodeSchemaParseError, aerr.Code)
}

func TestLoader_RefAcrossModuleFiles(t *testing.T) {
	dir := t.TempDir()
	writeSchemaFile(t, dir, "common", "definitions:\n  City:\n    type: string\n")
	writeSchemaFile(t, dir, "weather.get", `
input_schema:
  type: object
  properties:
    city:
      $ref: "common.schema.yaml#/definitions/City"
output_schema: {type: object}
`)
	l := NewLoader(dir, StrategyYAMLFirst)
	bundle, err := l.Load("weather.get")
	require.NoError(t, err)
	props := bundle.Input["properties"].(map[string]any)
	city := props["city"].(map[string]any)
	assert.Equal(t, "string", city["type"])
}
