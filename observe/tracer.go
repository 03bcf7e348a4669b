package observe

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"

	"github.com/jonwraymond/rpclink/link"
)

// OperationMeta contains metadata about an operation for telemetry purposes.
type OperationMeta struct {
	ID   int64  // Operation ID (optional)
	Type string // query|mutation|subscription
	Path string // Procedure path (required)
}

// MetaFromOperation extracts telemetry metadata from op.
func MetaFromOperation(op link.Operation) OperationMeta {
	return OperationMeta{
		ID:   op.ID,
		Type: string(op.Type),
		Path: op.Path,
	}
}

// Validate reports whether the metadata can name a span.
func (m OperationMeta) Validate() error {
	if m.Path == "" {
		return ErrMissingPath
	}
	return nil
}

// SpanName returns the deterministic span name for this operation.
// Format: rpc.<type>.<path>
func (m OperationMeta) SpanName() string {
	typ := m.Type
	if typ == "" {
		typ = "call"
	}
	return "rpc." + typ + "." + m.Path
}

// Tracer wraps OpenTelemetry tracing with operation span management.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Context: StartSpan returns a context carrying the new span.
// - Errors: EndSpan must be best-effort and must not panic.
type Tracer interface {
	// StartSpan starts a new span for an operation.
	StartSpan(ctx context.Context, meta OperationMeta) (context.Context, trace.Span)

	// EndSpan ends the span, recording any error.
	EndSpan(span trace.Span, err error)
}

// tracerImpl is the concrete implementation of Tracer.
type tracerImpl struct {
	tracer trace.Tracer
}

// NewTracer creates a new Tracer wrapping the given OpenTelemetry tracer.
func NewTracer(t trace.Tracer) Tracer {
	return &tracerImpl{tracer: t}
}

// StartSpan starts a new client span with operation metadata as attributes.
func (t *tracerImpl) StartSpan(ctx context.Context, meta OperationMeta) (context.Context, trace.Span) {
	attrs := []attribute.KeyValue{
		attribute.String("rpc.path", meta.Path),
		attribute.String("rpc.type", meta.Type),
		attribute.Bool("rpc.error", false), // Will be updated in EndSpan if error
	}
	if meta.ID != 0 {
		attrs = append(attrs, attribute.Int64("rpc.id", meta.ID))
	}

	return t.tracer.Start(ctx, meta.SpanName(),
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindClient),
	)
}

// EndSpan ends the span and records the error status if present.
func (t *tracerImpl) EndSpan(span trace.Span, err error) {
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(
			attribute.Bool("rpc.error", true),
			attribute.String("rpc.error_code", errorCode(err)),
		)
		span.RecordError(err)
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// noopTracer is a tracer that does nothing.
type noopTracer struct {
	noop trace.Tracer
}

// NewNoopTracer creates a no-op tracer.
func NewNoopTracer() Tracer {
	return &noopTracer{
		noop: tracenoop.NewTracerProvider().Tracer("noop"),
	}
}

func (t *noopTracer) StartSpan(ctx context.Context, meta OperationMeta) (context.Context, trace.Span) {
	return t.noop.Start(ctx, meta.SpanName())
}

func (t *noopTracer) EndSpan(span trace.Span, err error) {
	span.End()
}
