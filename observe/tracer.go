package observe

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Tracer wraps OpenTelemetry tracing with fetch-specific span management.
//
// Contract:
// - Concurrency: implementations must be safe for concurrent use.
// - Errors: EndFetch must be best-effort and must not panic.
type Tracer interface {
	// StartFetch starts a span covering one fetch execution, retries included.
	StartFetch(ctx context.Context, meta QueryMeta) (context.Context, trace.Span)

	// EndFetch ends the span, recording the outcome.
	EndFetch(span trace.Span, err error, canceled bool)
}

type tracerImpl struct {
	tracer trace.Tracer
}

// NewTracer wraps an OpenTelemetry tracer for fetch spans.
func NewTracer(t trace.Tracer) Tracer {
	return &tracerImpl{tracer: t}
}

func (t *tracerImpl) StartFetch(ctx context.Context, meta QueryMeta) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, meta.SpanName(),
		trace.WithAttributes(
			attribute.String("query.hash", meta.Hash),
			attribute.String("query.group", meta.Group),
		),
	)
}

func (t *tracerImpl) EndFetch(span trace.Span, err error, canceled bool) {
	if span == nil {
		return
	}

	span.SetAttributes(attribute.Bool("query.canceled", canceled))
	if err != nil && !canceled {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

var _ Tracer = (*tracerImpl)(nil)
