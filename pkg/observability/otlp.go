package observability

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	otlptrace "go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// OTLPExporter bridges runtime Spans onto a real OpenTelemetry
// TracerProvider, exporting over OTLP/gRPC. Construction is lazy about the
// network: a bad endpoint only surfaces once spans are actually flushed,
// matching the original's "clean dial error, not a panic" behavior.
type OTLPExporter struct {
	provider *sdktrace.TracerProvider
	tracer   oteltrace.Tracer
}

// NewOTLPExporter constructs an OTLPExporter targeting endpoint (the OTel
// SDK's gRPC default when empty) under the given service.name resource
// attribute.
func NewOTLPExporter(ctx context.Context, endpoint, serviceName string) (*OTLPExporter, error) {
	if serviceName == "" {
		serviceName = "apcore"
	}

	var opts []otlptracegrpc.Option
	if endpoint != "" {
		opts = append(opts, otlptracegrpc.WithEndpoint(endpoint), otlptracegrpc.WithInsecure())
	}
	client := otlptracegrpc.NewClient(opts...)
	exp, err := otlptrace.New(ctx, client)
	if err != nil {
		return nil, fmt.Errorf("observability: constructing OTLP exporter: %w", err)
	}

	res, err := resource.New(ctx, resource.WithAttributes(attribute.String("service.name", serviceName)))
	if err != nil {
		return nil, fmt.Errorf("observability: building OTLP resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(res),
	)

	return &OTLPExporter{
		provider: provider,
		tracer:   provider.Tracer("apcore.tracing"),
	}, nil
}

// Export converts span to an OTel span with matching timestamps,
// attributes, and status, and hands it to the configured OTLP pipeline.
func (e *OTLPExporter) Export(span *Span) {
	_, otelSpan := e.tracer.Start(context.Background(), span.Name,
		oteltrace.WithTimestamp(span.StartTime))

	otelSpan.SetAttributes(
		attribute.String("apcore.trace_id", span.TraceID),
		attribute.String("apcore.span_id", span.SpanID),
	)
	if span.ParentSpanID != "" {
		otelSpan.SetAttributes(attribute.String("apcore.parent_span_id", span.ParentSpanID))
	}

	for key, value := range span.Attributes {
		if value == nil {
			continue
		}
		otelSpan.SetAttributes(toAttribute(key, value))
	}

	if span.Status == "error" {
		otelSpan.SetStatus(codes.Error, "")
	}

	for _, event := range span.Events {
		attrs := make([]attribute.KeyValue, 0, len(event.Attributes))
		for k, v := range event.Attributes {
			attrs = append(attrs, attribute.String(k, fmt.Sprintf("%v", v)))
		}
		otelSpan.AddEvent(event.Name, oteltrace.WithAttributes(attrs...))
	}

	endOpts := []oteltrace.SpanEndOption{}
	if !span.EndTime.IsZero() {
		endOpts = append(endOpts, oteltrace.WithTimestamp(span.EndTime))
	}
	otelSpan.End(endOpts...)
}

// Shutdown flushes pending spans and shuts down the underlying provider.
func (e *OTLPExporter) Shutdown(ctx context.Context) error {
	return e.provider.Shutdown(ctx)
}

func toAttribute(key string, value any) attribute.KeyValue {
	switch v := value.(type) {
	case string:
		return attribute.String(key, v)
	case bool:
		return attribute.Bool(key, v)
	case int:
		return attribute.Int(key, v)
	case int64:
		return attribute.Int64(key, v)
	case float64:
		return attribute.Float64(key, v)
	default:
		return attribute.String(key, fmt.Sprintf("%v", v))
	}
}
