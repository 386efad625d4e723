// Package schema turns human-authored YAML/JSON-Schema documents into
// runtime validators and into the four export profiles consumed by MCP,
// OpenAI and Anthropic-style tool callers (§4.3). Schemas are represented as
// plain map[string]any trees (mirroring the Python original's dict-of-dicts
// model) rather than a strongly-typed struct, so arbitrary `x-*` extensions
// and nested composition keywords round-trip losslessly.
package schema
