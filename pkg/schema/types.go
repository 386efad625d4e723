package schema

import "github.com/apcore/apcore-go/pkg/apcore"

// ValidateOptions controls a single Validate call.
type ValidateOptions struct {
	// Coerce lets a float64 with an integral value satisfy `type: integer`,
	// since YAML/JSON decoders blur the int/float boundary. Defaults to true
	// through DefaultValidateOptions.
	Coerce bool
}

// DefaultValidateOptions returns the validator's default tuning.
func DefaultValidateOptions() ValidateOptions {
	return ValidateOptions{Coerce: true}
}

// Result is the outcome of validating one document against one schema.
type Result struct {
	Valid  bool
	Issues []apcore.ValidationIssue
}

// LoadStrategy controls which of a module's schema sources the Loader
// prefers when both a YAML sidecar and a native (Go-literal) schema are
// registered for the same module ID.
type LoadStrategy string

const (
	// StrategyYAMLFirst prefers the on-disk YAML file, falling back to the
	// natively-registered schema if no file is found. This is the default.
	StrategyYAMLFirst LoadStrategy = "yaml_first"
	// StrategyNativeFirst prefers the natively-registered schema, falling
	// back to the YAML file.
	StrategyNativeFirst LoadStrategy = "native_first"
	// StrategyYAMLOnly only ever loads from the YAML file; a missing file
	// is a SchemaNotFoundError even if a native schema was registered.
	StrategyYAMLOnly LoadStrategy = "yaml_only"
)
