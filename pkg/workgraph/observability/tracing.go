package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope of every workgraph span.
const tracerName = "workgraph"

// SpanManager opens the spans of a run. Node and fan-out spans are children
// of the run span carried in ctx.
type SpanManager interface {
	// StartRunSpan opens "workgraph.run" for one Runner operation (start,
	// resume, retry) on a thread.
	StartRunSpan(ctx context.Context, threadID, op string) (context.Context, trace.Span)
	// StartNodeSpan opens "workgraph.node.<id>".
	StartNodeSpan(ctx context.Context, nodeID string) (context.Context, trace.Span)
	// StartFanOutSpan opens "workgraph.fanout.<id>", covering every branch.
	StartFanOutSpan(ctx context.Context, fanOutID string, branches int) (context.Context, trace.Span)
	EndSpanWithError(span trace.Span, err error)
	AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue)
}

type otelSpanManager struct {
	tracer trace.Tracer
}

// NewSpanManager traces through the global provider set with
// otel.SetTracerProvider.
func NewSpanManager() SpanManager {
	return NewSpanManagerFromProvider(otel.GetTracerProvider())
}

// NewSpanManagerFromProvider traces through provider.
func NewSpanManagerFromProvider(provider trace.TracerProvider) SpanManager {
	return &otelSpanManager{tracer: provider.Tracer(tracerName)}
}

func (m *otelSpanManager) start(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return m.tracer.Start(ctx, name, trace.WithSpanKind(trace.SpanKindInternal), trace.WithAttributes(attrs...))
}

func (m *otelSpanManager) StartRunSpan(ctx context.Context, threadID, op string) (context.Context, trace.Span) {
	return m.start(ctx, "workgraph.run", attribute.String("thread.id", threadID), attribute.String("run.op", op))
}

func (m *otelSpanManager) StartNodeSpan(ctx context.Context, nodeID string) (context.Context, trace.Span) {
	return m.start(ctx, "workgraph.node."+nodeID, attribute.String("node.id", nodeID))
}

func (m *otelSpanManager) StartFanOutSpan(ctx context.Context, fanOutID string, branches int) (context.Context, trace.Span) {
	return m.start(ctx, "workgraph.fanout."+fanOutID,
		attribute.String("fanout.id", fanOutID),
		attribute.Int("fanout.branches", branches))
}

func (m *otelSpanManager) EndSpanWithError(span trace.Span, err error) { EndSpanWithError(span, err) }

func (m *otelSpanManager) AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	AddSpanEvent(ctx, name, attrs...)
}

// EndSpanWithError sets the span status from err and ends it. A nil span is
// ignored.
func EndSpanWithError(span trace.Span, err error) {
	if span == nil {
		return
	}
	defer span.End()
	if err == nil {
		span.SetStatus(codes.Ok, "")
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// AddSpanEvent records an event on the span in ctx if it is recording.
func AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		span.AddEvent(name, trace.WithAttributes(attrs...))
	}
}
