// Package observability implements the three built-in observability
// middlewares (§4.8): tracing, metrics, and structured logging — each
// implementing pkg/middleware.Middleware and composable via
// pkg/executor.Executor.Use in the recommended outer-to-inner order
// tracing → metrics → logging.
package observability

import (
	crand "crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	mrand "math/rand"
	"os"
	"sync"
	"time"

	"github.com/apcore/apcore-go/pkg/apcore"
	"github.com/apcore/apcore-go/pkg/middleware"
)

const (
	spanStackKey    = "_tracing_spans"
	sampledKey      = "_tracing_sampled"
	tracingLogGroup = "apcore.observability.tracing"
)

// Span is one unit of work in the execution pipeline.
type Span struct {
	TraceID      string         `json:"trace_id"`
	SpanID       string         `json:"span_id"`
	ParentSpanID string         `json:"parent_span_id,omitempty"`
	Name         string         `json:"name"`
	StartTime    time.Time      `json:"start_time"`
	EndTime      time.Time      `json:"end_time,omitempty"`
	Status       string         `json:"status"`
	Attributes   map[string]any `json:"attributes"`
	Events       []SpanEvent    `json:"events,omitempty"`
}

// SpanEvent is a single point-in-time annotation recorded on a Span.
type SpanEvent struct {
	Name       string         `json:"name"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// SpanExporter is the export destination contract every exporter satisfies.
type SpanExporter interface {
	Export(span *Span)
}

// StdoutExporter writes one JSON object per line to an io.Writer (os.Stdout
// by default).
type StdoutExporter struct {
	w  io.Writer
	mu sync.Mutex
}

// NewStdoutExporter constructs a StdoutExporter writing to w (os.Stdout if nil).
func NewStdoutExporter(w io.Writer) *StdoutExporter {
	if w == nil {
		w = os.Stdout
	}
	return &StdoutExporter{w: w}
}

func (e *StdoutExporter) Export(span *Span) {
	e.mu.Lock()
	defer e.mu.Unlock()
	data, err := json.Marshal(span)
	if err != nil {
		return
	}
	e.w.Write(append(data, '\n'))
}

// InMemoryExporter collects spans in a bounded ring, useful for tests and
// for a process-local `/debug/spans` inspection endpoint.
type InMemoryExporter struct {
	mu       sync.Mutex
	spans    []*Span
	maxSpans int
}

// NewInMemoryExporter constructs a ring bounded to maxSpans (10000 if <= 0).
func NewInMemoryExporter(maxSpans int) *InMemoryExporter {
	if maxSpans <= 0 {
		maxSpans = 10_000
	}
	return &InMemoryExporter{maxSpans: maxSpans}
}

func (e *InMemoryExporter) Export(span *Span) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.spans = append(e.spans, span)
	if len(e.spans) > e.maxSpans {
		e.spans = e.spans[len(e.spans)-e.maxSpans:]
	}
}

// GetSpans returns a snapshot copy of every span currently held.
func (e *InMemoryExporter) GetSpans() []*Span {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*Span, len(e.spans))
	copy(out, e.spans)
	return out
}

// Clear empties the ring.
func (e *InMemoryExporter) Clear() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.spans = nil
}

func newSpanID() string {
	var b [8]byte
	_, _ = crand.Read(b[:])
	return hex.EncodeToString(b[:])
}

// SamplingStrategy selects how TracingMiddleware decides which traces to
// export.
type SamplingStrategy string

const (
	SamplingFull         SamplingStrategy = "full"
	SamplingOff          SamplingStrategy = "off"
	SamplingProportional SamplingStrategy = "proportional"
	SamplingErrorFirst   SamplingStrategy = "error_first"
)

func validSamplingStrategy(s SamplingStrategy) bool {
	switch s {
	case SamplingFull, SamplingOff, SamplingProportional, SamplingErrorFirst:
		return true
	default:
		return false
	}
}

// TracingMiddleware creates and manages a per-trace stack of spans,
// supporting nested module-to-module call chains via Context.Data.
type TracingMiddleware struct {
	middleware.BaseMiddleware

	exporter SpanExporter
	rate     float64
	strategy SamplingStrategy
	log      *slog.Logger
}

// NewTracingMiddleware constructs a TracingMiddleware. rate must be in
// [0,1]; strategy must be one of the SamplingXxx constants.
func NewTracingMiddleware(exporter SpanExporter, rate float64, strategy SamplingStrategy) (*TracingMiddleware, error) {
	if rate < 0.0 || rate > 1.0 {
		return nil, fmt.Errorf("sampling rate must be between 0.0 and 1.0, got %v", rate)
	}
	if !validSamplingStrategy(strategy) {
		return nil, fmt.Errorf("invalid sampling strategy %q", strategy)
	}
	return &TracingMiddleware{
		exporter: exporter,
		rate:     rate,
		strategy: strategy,
		log:      slog.Default().With("component", tracingLogGroup),
	}, nil
}

func (m *TracingMiddleware) shouldSample(ctx *apcore.Context) bool {
	if existing, ok := ctx.Data().Load(sampledKey); ok {
		if b, ok := existing.(bool); ok {
			return b
		}
	}
	var decision bool
	switch m.strategy {
	case SamplingFull:
		decision = true
	case SamplingOff:
		decision = false
	default: // proportional, error_first
		decision = randFloat() < m.rate
	}
	ctx.Data().Store(sampledKey, decision)
	return decision
}

func spanStack(ctx *apcore.Context) *apcore.Stack {
	return apcore.LoadStack(ctx, spanStackKey)
}

func (m *TracingMiddleware) Before(moduleID string, inputs map[string]any, ctx *apcore.Context) (map[string]any, error) {
	m.shouldSample(ctx)

	stack := spanStack(ctx)
	var parentSpanID string
	if top, ok := stack.Peek(); ok {
		parentSpanID = top.(*Span).SpanID
	}

	span := &Span{
		TraceID:      ctx.TraceID,
		SpanID:       newSpanID(),
		ParentSpanID: parentSpanID,
		Name:         "apcore.module.execute",
		StartTime:    time.Now(),
		Status:       "ok",
		Attributes: map[string]any{
			"module_id": moduleID,
			"method":    "execute",
			"caller_id": ctx.CallerID,
		},
	}
	stack.Push(span)
	return nil, nil
}

func (m *TracingMiddleware) After(moduleID string, inputs, output map[string]any, ctx *apcore.Context) (map[string]any, error) {
	stack := spanStack(ctx)
	top, ok := stack.Pop()
	if !ok {
		m.log.Warn("After called with empty span stack", "module_id", moduleID)
		return nil, nil
	}
	span := top.(*Span)
	span.EndTime = time.Now()
	span.Status = "ok"
	span.Attributes["duration_ms"] = float64(span.EndTime.Sub(span.StartTime)) / float64(time.Millisecond)
	span.Attributes["success"] = true

	if sampled, _ := ctx.Data().Load(sampledKey); sampled == true {
		m.exporter.Export(span)
	}
	return nil, nil
}

func (m *TracingMiddleware) OnError(moduleID string, inputs map[string]any, err error, ctx *apcore.Context) (map[string]any, error) {
	stack := spanStack(ctx)
	top, ok := stack.Pop()
	if !ok {
		m.log.Warn("OnError called with empty span stack", "module_id", moduleID)
		return nil, nil
	}
	span := top.(*Span)
	span.EndTime = time.Now()
	span.Status = "error"
	span.Attributes["duration_ms"] = float64(span.EndTime.Sub(span.StartTime)) / float64(time.Millisecond)
	span.Attributes["success"] = false
	span.Attributes["error_code"] = errorCode(err)
	span.Attributes["error_type"] = fmt.Sprintf("%T", err)

	sampled, _ := ctx.Data().Load(sampledKey)
	if m.strategy == SamplingErrorFirst || sampled == true {
		m.exporter.Export(span)
	}
	return nil, nil
}

func randFloat() float64 {
	return mrand.Float64()
}

func errorCode(err error) string {
	if aerr, ok := err.(*apcore.Error); ok {
		return string(aerr.Code)
	}
	return fmt.Sprintf("%T", err)
}
