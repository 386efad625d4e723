package observability

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/apcore/apcore-go/pkg/apcore"
	"github.com/apcore/apcore-go/pkg/middleware"
)

// LogLevel is one of ContextLogger's six severities.
type LogLevel string

const (
	LevelTrace LogLevel = "trace"
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
	LevelFatal LogLevel = "fatal"
)

var levelValues = map[LogLevel]int{
	LevelTrace: 0,
	LevelDebug: 10,
	LevelInfo:  20,
	LevelWarn:  30,
	LevelError: 40,
	LevelFatal: 50,
}

const redactedExtraValue = "***REDACTED***"

// LogFormat selects ContextLogger's wire format.
type LogFormat string

const (
	FormatJSON LogFormat = "json"
	FormatText LogFormat = "text"
)

// ContextLogger is a standalone structured logger that injects trace_id,
// module_id, and caller_id on every record, with `_secret_`-prefix
// redaction of extra fields. It is a spec-mandated wire format distinct
// from the ambient slog/zerolog process logger (see DESIGN.md).
type ContextLogger struct {
	name           string
	format         LogFormat
	level          LogLevel
	redactSecrets  bool
	out            io.Writer
	traceID        string
	moduleID       string
	callerID       string
}

// LoggerOption configures a ContextLogger's construction.
type LoggerOption func(*ContextLogger)

// WithFormat sets the wire format (json or text).
func WithFormat(f LogFormat) LoggerOption { return func(l *ContextLogger) { l.format = f } }

// WithLevel sets the minimum level that will be emitted.
func WithLevel(level LogLevel) LoggerOption { return func(l *ContextLogger) { l.level = level } }

// WithRedaction toggles `_secret_`-prefix redaction of extra fields.
func WithRedaction(enabled bool) LoggerOption {
	return func(l *ContextLogger) { l.redactSecrets = enabled }
}

// WithOutput overrides the writer (stderr by default).
func WithOutput(w io.Writer) LoggerOption { return func(l *ContextLogger) { l.out = w } }

// NewContextLogger constructs a ContextLogger named name, json format and
// info level by default with redaction enabled.
func NewContextLogger(name string, opts ...LoggerOption) *ContextLogger {
	l := &ContextLogger{
		name:          name,
		format:        FormatJSON,
		level:         LevelInfo,
		redactSecrets: true,
		out:           os.Stderr,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// FromContext builds a ContextLogger pre-populated with trace_id, the
// current module_id (call_chain's last entry), and caller_id from ctx.
func FromContext(ctx *apcore.Context, name string, opts ...LoggerOption) *ContextLogger {
	l := NewContextLogger(name, opts...)
	l.traceID = ctx.TraceID
	l.moduleID = ctx.CurrentModuleID()
	l.callerID = ctx.CallerID
	return l
}

func (l *ContextLogger) emit(level LogLevel, message string, extra map[string]any) {
	if levelValues[level] < levelValues[l.level] {
		return
	}

	redacted := extra
	if extra != nil && l.redactSecrets {
		redacted = make(map[string]any, len(extra))
		for k, v := range extra {
			if strings.HasPrefix(k, "_secret_") {
				redacted[k] = redactedExtraValue
			} else {
				redacted[k] = v
			}
		}
	}

	now := time.Now().UTC()
	if l.format == FormatText {
		l.emitText(now, level, message, redacted)
		return
	}
	l.emitJSON(now, level, message, redacted)
}

func (l *ContextLogger) emitJSON(now time.Time, level LogLevel, message string, extra map[string]any) {
	entry := map[string]any{
		"timestamp": now.Format(time.RFC3339Nano),
		"level":     string(level),
		"message":   message,
		"trace_id":  emptyToNil(l.traceID),
		"module_id": emptyToNil(l.moduleID),
		"caller_id": emptyToNil(l.callerID),
		"logger":    l.name,
		"extra":     extra,
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	l.out.Write(append(data, '\n'))
}

func (l *ContextLogger) emitText(now time.Time, level LogLevel, message string, extra map[string]any) {
	trace := l.traceID
	if trace == "" {
		trace = "none"
	}
	mod := l.moduleID
	if mod == "" {
		mod = "none"
	}
	var extrasStr string
	if len(extra) > 0 {
		keys := make([]string, 0, len(extra))
		for k := range extra {
			keys = append(keys, k)
		}
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = fmt.Sprintf("%s=%v", k, extra[k])
		}
		extrasStr = " " + strings.Join(parts, " ")
	}
	line := fmt.Sprintf("%s [%s] [trace=%s] [module=%s] %s%s\n",
		now.Format("2006-01-02 15:04:05"), strings.ToUpper(string(level)), trace, mod, message, extrasStr)
	io.WriteString(l.out, line)
}

func emptyToNil(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func (l *ContextLogger) Trace(message string, extra map[string]any) { l.emit(LevelTrace, message, extra) }
func (l *ContextLogger) Debug(message string, extra map[string]any) { l.emit(LevelDebug, message, extra) }
func (l *ContextLogger) Info(message string, extra map[string]any)  { l.emit(LevelInfo, message, extra) }
func (l *ContextLogger) Warn(message string, extra map[string]any)  { l.emit(LevelWarn, message, extra) }
func (l *ContextLogger) Error(message string, extra map[string]any) { l.emit(LevelError, message, extra) }
func (l *ContextLogger) Fatal(message string, extra map[string]any) { l.emit(LevelFatal, message, extra) }

const obsLoggingStartsKey = "_obs_logging_starts"

// ObsLoggingMiddleware emits structured start/completed/failed log lines
// around every module call using a ContextLogger, timed via a per-trace
// start-time stack.
type ObsLoggingMiddleware struct {
	middleware.BaseMiddleware
	logger     *ContextLogger
	logInputs  bool
	logOutputs bool
}

// ObsLoggingOption configures ObsLoggingMiddleware construction.
type ObsLoggingOption func(*ObsLoggingMiddleware)

// WithLogInputs toggles logging the (redacted) inputs on call start.
func WithLogInputs(enabled bool) ObsLoggingOption {
	return func(m *ObsLoggingMiddleware) { m.logInputs = enabled }
}

// WithLogOutputs toggles logging the output on call completion.
func WithLogOutputs(enabled bool) ObsLoggingOption {
	return func(m *ObsLoggingMiddleware) { m.logOutputs = enabled }
}

// NewObsLoggingMiddleware constructs an ObsLoggingMiddleware. logger
// defaults to NewContextLogger("apcore.obs_logging") when nil; both
// log_inputs and log_outputs default to true.
func NewObsLoggingMiddleware(logger *ContextLogger, opts ...ObsLoggingOption) *ObsLoggingMiddleware {
	if logger == nil {
		logger = NewContextLogger("apcore.obs_logging")
	}
	m := &ObsLoggingMiddleware{logger: logger, logInputs: true, logOutputs: true}
	for _, o := range opts {
		o(m)
	}
	return m
}

func (m *ObsLoggingMiddleware) Before(moduleID string, inputs map[string]any, ctx *apcore.Context) (map[string]any, error) {
	apcore.LoadStack(ctx, obsLoggingStartsKey).Push(time.Now())
	extra := map[string]any{
		"module_id": moduleID,
		"caller_id": ctx.CallerID,
	}
	if m.logInputs {
		if ctx.RedactedInputs != nil {
			extra["inputs"] = ctx.RedactedInputs
		} else {
			extra["inputs"] = inputs
		}
	}
	m.logger.Info("Module call started", extra)
	return nil, nil
}

func (m *ObsLoggingMiddleware) After(moduleID string, inputs, output map[string]any, ctx *apcore.Context) (map[string]any, error) {
	extra := map[string]any{
		"module_id": moduleID,
	}
	if durationMs, ok := popDurationMs(ctx); ok {
		extra["duration_ms"] = durationMs
	}
	if m.logOutputs {
		extra["output"] = output
	}
	m.logger.Info("Module call completed", extra)
	return nil, nil
}

func (m *ObsLoggingMiddleware) OnError(moduleID string, inputs map[string]any, err error, ctx *apcore.Context) (map[string]any, error) {
	extra := map[string]any{
		"module_id":     moduleID,
		"error_type":    fmt.Sprintf("%T", err),
		"error_message": err.Error(),
	}
	if durationMs, ok := popDurationMs(ctx); ok {
		extra["duration_ms"] = durationMs
	}
	m.logger.Error("Module call failed", extra)
	return nil, nil
}

// popDurationMs pops the matching Before timestamp off the per-trace stack.
// The before-chain recovery path re-enters the after chain for every
// registered middleware, including ones whose Before was never reached
// (§4.6 step 6), so a missing or mistyped entry is a no-op, not a bug.
func popDurationMs(ctx *apcore.Context) (float64, bool) {
	start, ok := apcore.LoadStack(ctx, obsLoggingStartsKey).Pop()
	if !ok {
		return 0, false
	}
	startTime, ok := start.(time.Time)
	if !ok {
		return 0, false
	}
	return float64(time.Since(startTime)) / float64(time.Millisecond), true
}
