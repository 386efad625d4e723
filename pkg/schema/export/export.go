// Package export renders a resolved input schema into the four tool-calling
// profiles consumed by external callers (§4.3): a full Generic bundle, MCP's
// `inputSchema` envelope with tool annotations, OpenAI's always-strict
// `function` tool envelope, and Anthropic's `input_schema` tool envelope
// with extensions stripped and examples attached.
package export

import "github.com/apcore/apcore-go/pkg/schema"

// Annotations carries the MCP tool-behavior hints (§4.3). A nil Annotations
// is treated as the all-default "unknown, assume the safest reasonable
// behavior" case: not read-only, not destructive, not idempotent, and part
// of the open world.
type Annotations struct {
	ReadOnly    bool
	Destructive bool
	Idempotent  bool
	OpenWorld   bool
}

// Generic returns the full schema bundle — the caller already speaks JSON
// Schema natively and gets everything: both schemas plus shared definitions.
func Generic(moduleID, description string, inputSchema, outputSchema, definitions map[string]any) map[string]any {
	return map[string]any{
		"module_id":     moduleID,
		"description":   description,
		"input_schema":  inputSchema,
		"output_schema": outputSchema,
		"definitions":   definitions,
	}
}

// MCP wraps inputSchema in the Model Context Protocol tool descriptor shape,
// including the `annotations` hint map. x-* fields are preserved untouched.
func MCP(moduleID, description string, inputSchema map[string]any, annotations *Annotations) map[string]any {
	if annotations == nil {
		annotations = &Annotations{OpenWorld: true}
	}
	return map[string]any{
		"name":        moduleID,
		"description": description,
		"inputSchema": inputSchema,
		"annotations": map[string]any{
			"readOnlyHint":    annotations.ReadOnly,
			"destructiveHint": annotations.Destructive,
			"idempotentHint":  annotations.Idempotent,
			"openWorldHint":   annotations.OpenWorld,
		},
	}
}

// OpenAI wraps inputSchema in the `function` tool-calling envelope. The
// schema always goes through the x-llm-description substitution and
// schema.ToStrict, and the envelope always carries "strict": true — OpenAI's
// profile has no non-strict mode (§3).
func OpenAI(moduleID, description string, inputSchema map[string]any) (map[string]any, error) {
	prepared := schema.ApplyLLMDescriptions(inputSchema)
	strictSchema, err := schema.ToStrict(prepared)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"type": "function",
		"function": map[string]any{
			"name":        normalizeToolName(moduleID),
			"description": description,
			"parameters":  strictSchema,
			"strict":      true,
		},
	}, nil
}

// Anthropic wraps inputSchema in Anthropic's tool-use envelope: x-* fields
// and defaults stripped, x-llm-description substituted for description, no
// strict-mode rewrite, plus input_examples when examples are supplied.
func Anthropic(moduleID, description string, inputSchema map[string]any, examples []map[string]any) map[string]any {
	prepared := schema.ApplyLLMDescriptions(inputSchema)
	stripped := schema.StripExtensions(prepared)

	result := map[string]any{
		"name":         normalizeToolName(moduleID),
		"description":  description,
		"input_schema": stripped,
	}
	if len(examples) > 0 {
		inputs := make([]map[string]any, len(examples))
		copy(inputs, examples)
		result["input_examples"] = inputs
	}
	return result
}

// normalizeToolName turns a dotted module ID into the underscore-joined
// identifier OpenAI and Anthropic tool names require.
func normalizeToolName(moduleID string) string {
	out := make([]byte, len(moduleID))
	for i := 0; i < len(moduleID); i++ {
		if moduleID[i] == '.' {
			out[i] = '_'
		} else {
			out[i] = moduleID[i]
		}
	}
	return string(out)
}
