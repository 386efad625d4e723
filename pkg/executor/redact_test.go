package executor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRedactSensitive_PrimitiveArrayItemsRedacted(t *testing.T) {
	schemaDef := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"tokens": map[string]any{
				"type":  "array",
				"items": map[string]any{"type": "string", "x-sensitive": true},
			},
		},
	}
	data := map[string]any{
		"tokens": []any{"a", "b", nil},
	}

	out := RedactSensitive(data, schemaDef)

	tokens := out["tokens"].([]any)
	assert.Equal(t, RedactedValue, tokens[0])
	assert.Equal(t, RedactedValue, tokens[1])
	assert.Nil(t, tokens[2], "nil items are left as-is")

	// original left untouched
	assert.Equal(t, "a", data["tokens"].([]any)[0])
}

func TestRedactSensitive_ObjectArrayItemsStillRecurse(t *testing.T) {
	schemaDef := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"users": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"password": map[string]any{"type": "string", "x-sensitive": true},
					},
				},
			},
		},
	}
	data := map[string]any{
		"users": []any{
			map[string]any{"password": "hunter2"},
		},
	}

	out := RedactSensitive(data, schemaDef)

	users := out["users"].([]any)
	user := users[0].(map[string]any)
	assert.Equal(t, RedactedValue, user["password"])
}
