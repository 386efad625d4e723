package schema

import (
	"testing"

	"github.com/apcore/apcore-go/pkg/apcore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToStrict_AllPropertiesRequired(t *testing.T) {
	s := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"a": map[string]any{"type": "string"},
			"b": map[string]any{"type": "number"},
		},
		"required": []any{"a"},
	}
	strict, err := ToStrict(s)
	require.NoError(t, err)
	assert.False(t, strict["additionalProperties"].(bool))
	required, _ := strict["required"].([]any)
	assert.ElementsMatch(t, []any{"a", "b"}, required)

	// original untouched
	origRequired, _ := s["required"].([]any)
	assert.Equal(t, []any{"a"}, origRequired)
}

func TestToStrict_NullableBecomesUnion(t *testing.T) {
	s := map[string]any{
		"type":     "object",
		"nullable": true,
	}
	strict, err := ToStrict(s)
	require.NoError(t, err)
	typ, _ := strict["type"].([]any)
	assert.Equal(t, []any{"object", "null"}, typ)
	_, hasNullable := strict["nullable"]
	assert.False(t, hasNullable)
}

func TestToStrict_OptionalPrimitiveBecomesNullableUnion(t *testing.T) {
	s := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"a": map[string]any{"type": "string"},
			"b": map[string]any{"type": "integer"},
		},
		"required": []any{"a"},
	}
	strict, err := ToStrict(s)
	require.NoError(t, err)

	props := strict["properties"].(map[string]any)
	a := props["a"].(map[string]any)
	assert.Equal(t, "string", a["type"], "originally-required property is untouched")

	b := props["b"].(map[string]any)
	assert.Equal(t, []any{"integer", "null"}, b["type"])

	required, _ := strict["required"].([]any)
	assert.ElementsMatch(t, []any{"a", "b"}, required)
}

func TestToStrict_OptionalRefWrappedInOneOfNull(t *testing.T) {
	s := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"a": map[string]any{"$ref": "#/definitions/Thing"},
		},
		"required": []any{},
	}
	strict, err := ToStrict(s)
	require.NoError(t, err)

	props := strict["properties"].(map[string]any)
	a := props["a"].(map[string]any)
	oneOf, ok := a["oneOf"].([]any)
	require.True(t, ok)
	assert.Len(t, oneOf, 2)
	assert.Equal(t, map[string]any{"type": "null"}, oneOf[1])
}

func TestToStrict_StripsExtensionsAndDefault(t *testing.T) {
	s := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"a": map[string]any{
				"type":              "string",
				"default":           "x",
				"x-sensitive":       true,
				"x-llm-description": "the a field",
			},
		},
		"required": []any{"a"},
	}
	strict, err := ToStrict(s)
	require.NoError(t, err)

	props := strict["properties"].(map[string]any)
	a := props["a"].(map[string]any)
	_, hasDefault := a["default"]
	_, hasSensitive := a["x-sensitive"]
	_, hasLLMDesc := a["x-llm-description"]
	assert.False(t, hasDefault)
	assert.False(t, hasSensitive)
	assert.False(t, hasLLMDesc)
}

func TestToStrict_RejectsNot(t *testing.T) {
	_, err := ToStrict(map[string]any{"not": map[string]any{"type": "string"}})
	require.Error(t, err)
	aerr, ok := err.(*apcore.Error)
	require.True(t, ok)
	assert.Equal(t, apcore.CodeSchemaParseError, aerr.Code)
}
