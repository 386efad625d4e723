package apcore

import (
	"fmt"
	"strings"
	"time"
)

// Code is a stable, machine-readable error identifier (§4.7).
type Code string

const (
	CodeCallDepthExceeded    Code = "CALL_DEPTH_EXCEEDED"
	CodeCircularCall         Code = "CIRCULAR_CALL"
	CodeCallFrequencyExceed  Code = "CALL_FREQUENCY_EXCEEDED"
	CodeModuleNotFound       Code = "MODULE_NOT_FOUND"
	CodeACLDenied            Code = "ACL_DENIED"
	CodeSchemaValidation     Code = "SCHEMA_VALIDATION_ERROR"
	CodeModuleTimeout        Code = "MODULE_TIMEOUT"
	CodeInvalidInput         Code = "INVALID_INPUT"
	CodeMiddlewareChainError Code = "MIDDLEWARE_CHAIN_ERROR"
	CodeModuleLoadError      Code = "MODULE_LOAD_ERROR"
	CodeCircularDependency   Code = "CIRCULAR_DEPENDENCY"
	CodeConfigNotFound       Code = "CONFIG_NOT_FOUND"
	CodeConfigError          Code = "CONFIG_ERROR"
	CodeACLRuleError         Code = "ACL_RULE_ERROR"
	CodeSchemaNotFound       Code = "SCHEMA_NOT_FOUND"
	CodeSchemaParseError     Code = "SCHEMA_PARSE_ERROR"
	CodeSchemaCircularRef    Code = "SCHEMA_CIRCULAR_REF"
	CodeBindingError         Code = "BINDING_ERROR"
)

// Error is the structured error every surface in this runtime raises: a
// stable Code, a human Message, the Timestamp it was constructed, an
// arbitrary Details map, and an optional wrapped Cause.
type Error struct {
	Code      Code
	Message   string
	Timestamp time.Time
	Details   map[string]any
	Cause     error
}

func newError(code Code, message string, details map[string]any, cause error) *Error {
	if details == nil {
		details = map[string]any{}
	}
	return &Error{Code: code, Message: message, Timestamp: time.Now().UTC(), Details: details, Cause: cause}
}

// Error implements the error interface as "[CODE] message".
func (e *Error) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap exposes Cause to errors.Is/errors.As.
func (e *Error) Unwrap() error { return e.Cause }

// NewCallDepthExceededError reports call_chain exceeding max_call_depth (step 2).
func NewCallDepthExceededError(chain []string, maxDepth int) *Error {
	return newError(CodeCallDepthExceeded,
		fmt.Sprintf("call depth %d exceeds maximum %d", len(chain), maxDepth),
		map[string]any{"call_chain": chain, "max_call_depth": maxDepth}, nil)
}

// NewCircularCallError reports a repeated module within call_chain (step 2).
func NewCircularCallError(moduleID string, chain []string) *Error {
	return newError(CodeCircularCall,
		fmt.Sprintf("circular call detected for module %q", moduleID),
		map[string]any{"module_id": moduleID, "call_chain": chain}, nil)
}

// NewCallFrequencyExceededError reports a module repeated more than max_module_repeat times.
func NewCallFrequencyExceededError(moduleID string, count, maxRepeat int) *Error {
	return newError(CodeCallFrequencyExceed,
		fmt.Sprintf("module %q called %d times, exceeding maximum %d", moduleID, count, maxRepeat),
		map[string]any{"module_id": moduleID, "count": count, "max_repeat": maxRepeat}, nil)
}

// NewModuleNotFoundError reports a Registry miss (step 3).
func NewModuleNotFoundError(moduleID string) *Error {
	return newError(CodeModuleNotFound,
		fmt.Sprintf("module %q not found", moduleID),
		map[string]any{"module_id": moduleID}, nil)
}

// NewACLDeniedError reports an ACL evaluation of deny (step 4).
func NewACLDeniedError(callerID, targetID string) *Error {
	return newError(CodeACLDenied,
		fmt.Sprintf("caller %q is not permitted to call %q", orExternal(callerID), targetID),
		map[string]any{"caller": orExternal(callerID), "target": targetID}, nil)
}

func orExternal(callerID string) string {
	if callerID == "" {
		return "@external"
	}
	return callerID
}

// ValidationIssue is one structured validation failure (§4.3).
type ValidationIssue struct {
	Path       string
	Constraint string
	Message    string
	Expected   any
	Actual     any
}

// NewSchemaValidationError reports input/output validation failure (steps 5/8).
func NewSchemaValidationError(moduleID string, issues []ValidationIssue) *Error {
	return newError(CodeSchemaValidation,
		fmt.Sprintf("schema validation failed for module %q: %d issue(s)", moduleID, len(issues)),
		map[string]any{"module_id": moduleID, "errors": issues}, nil)
}

// NewModuleTimeoutError reports a handler exceeding its effective timeout (step 7).
func NewModuleTimeoutError(moduleID string, timeoutMs int64) *Error {
	return newError(CodeModuleTimeout,
		fmt.Sprintf("module %q exceeded timeout of %dms", moduleID, timeoutMs),
		map[string]any{"module_id": moduleID, "timeout_ms": timeoutMs}, nil)
}

// NewInvalidInputError reports caller misuse (e.g. a negative timeout).
func NewInvalidInputError(message string, details map[string]any) *Error {
	return newError(CodeInvalidInput, message, details, nil)
}

// NewMiddlewareChainError wraps a before-hook failure with the middlewares that already ran.
func NewMiddlewareChainError(original error, executed []string) *Error {
	return newError(CodeMiddlewareChainError,
		fmt.Sprintf("middleware chain failed: %v", original),
		map[string]any{"executed_middlewares": executed}, original)
}

// NewModuleLoadError reports Registry discovery failures (entry-point resolution, validation, instantiation).
func NewModuleLoadError(message string, details map[string]any) *Error {
	return newError(CodeModuleLoadError, message, details, nil)
}

// NewCircularDependencyError reports a dependency cycle found during topological resolution (step 7).
func NewCircularDependencyError(cyclePath []string) *Error {
	return newError(CodeCircularDependency,
		fmt.Sprintf("circular dependency: %s", strings.Join(cyclePath, " -> ")),
		map[string]any{"cycle_path": cyclePath}, nil)
}

// NewConfigNotFoundError reports a missing configuration source file.
func NewConfigNotFoundError(path string) *Error {
	return newError(CodeConfigNotFound, fmt.Sprintf("configuration file not found: %s", path),
		map[string]any{"path": path}, nil)
}

// NewConfigError reports a malformed configuration source.
func NewConfigError(message string, details map[string]any) *Error {
	return newError(CodeConfigError, message, details, nil)
}

// NewACLRuleError reports a malformed ACL rule, naming its index and field.
func NewACLRuleError(ruleIndex int, field, message string) *Error {
	return newError(CodeACLRuleError,
		fmt.Sprintf("ACL rule %d: %s: %s", ruleIndex, field, message),
		map[string]any{"rule_index": ruleIndex, "field": field}, nil)
}

// NewSchemaNotFoundError reports a missing schema file or unresolved JSON Pointer segment.
func NewSchemaNotFoundError(schemaID string) *Error {
	return newError(CodeSchemaNotFound, fmt.Sprintf("schema not found: %s", schemaID),
		map[string]any{"schema_id": schemaID}, nil)
}

// NewSchemaParseError reports a schema source that fails to parse, or uses an unsupported keyword.
func NewSchemaParseError(message string) *Error {
	return newError(CodeSchemaParseError, message, nil, nil)
}

// NewSchemaCircularRefError reports a $ref cycle or max_depth overflow.
func NewSchemaCircularRefError(refPath string) *Error {
	return newError(CodeSchemaCircularRef, fmt.Sprintf("circular $ref detected: %s", refPath),
		map[string]any{"ref_path": refPath}, nil)
}

// NewBindingError reports a failure resolving or constructing a YAML-declared binding (§4.9).
func NewBindingError(message string, details map[string]any) *Error {
	return newError(CodeBindingError, message, details, nil)
}
