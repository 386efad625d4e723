package export

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"city": map[string]any{"type": "string", "x-llm-description": "the city name"},
		},
		"required": []any{"city"},
		"x-internal-note": "strip me",
	}
}

func TestGeneric_ReturnsFullBundle(t *testing.T) {
	out := Generic("weather.get", "fetch weather", sampleSchema(), map[string]any{"type": "object"}, map[string]any{})
	assert.Equal(t, "weather.get", out["module_id"])
	assert.Equal(t, "fetch weather", out["description"])
	assert.Equal(t, sampleSchema(), out["input_schema"])
	assert.Equal(t, map[string]any{"type": "object"}, out["output_schema"])
}

func TestMCP_DefaultAnnotations(t *testing.T) {
	out := MCP("weather.get", "fetch weather", sampleSchema(), nil)
	assert.Equal(t, "weather.get", out["name"])
	assert.Equal(t, sampleSchema(), out["inputSchema"])
	annotations := out["annotations"].(map[string]any)
	assert.Equal(t, false, annotations["readOnlyHint"])
	assert.Equal(t, false, annotations["destructiveHint"])
	assert.Equal(t, false, annotations["idempotentHint"])
	assert.Equal(t, true, annotations["openWorldHint"])
}

func TestMCP_ExplicitAnnotations(t *testing.T) {
	out := MCP("weather.get", "fetch weather", sampleSchema(), &Annotations{ReadOnly: true, OpenWorld: false})
	annotations := out["annotations"].(map[string]any)
	assert.Equal(t, true, annotations["readOnlyHint"])
	assert.Equal(t, false, annotations["openWorldHint"])
}

func TestOpenAI_AlwaysStrict(t *testing.T) {
	out, err := OpenAI("weather.get", "fetch weather", sampleSchema())
	require.NoError(t, err)
	fn := out["function"].(map[string]any)
	assert.Equal(t, "weather_get", fn["name"])
	assert.Equal(t, true, fn["strict"])

	params := fn["parameters"].(map[string]any)
	assert.Equal(t, false, params["additionalProperties"])
	props := params["properties"].(map[string]any)
	city := props["city"].(map[string]any)
	_, hasExtension := city["x-llm-description"]
	assert.False(t, hasExtension, "strict mode must strip x-* keys")
}

func TestAnthropic_StripsExtensionsAndAppliesLLMDescriptions(t *testing.T) {
	s := sampleSchema()
	s["properties"].(map[string]any)["city"].(map[string]any)["description"] = "original description"

	out := Anthropic("weather.get", "fetch weather", s, nil)
	assert.Equal(t, "weather_get", out["name"])

	input := out["input_schema"].(map[string]any)
	_, hasInternalNote := input["x-internal-note"]
	assert.False(t, hasInternalNote)

	props := input["properties"].(map[string]any)
	city := props["city"].(map[string]any)
	assert.Equal(t, "the city name", city["description"])
	_, hasExtension := city["x-llm-description"]
	assert.False(t, hasExtension)
}

func TestAnthropic_AttachesExamples(t *testing.T) {
	examples := []map[string]any{{"city": "Berlin"}}
	out := Anthropic("weather.get", "fetch weather", sampleSchema(), examples)
	assert.Equal(t, examples, out["input_examples"])
}
