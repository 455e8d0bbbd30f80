package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/eb-adutwum/Interius/stage"
)

// tracerName is the instrumentation scope name for interius tracing.
const tracerName = "github.com/eb-adutwum/Interius"

// Tracing returns middleware that wraps stage execution in an OpenTelemetry
// span. If no TracerProvider is configured globally, the default noop tracer
// is used and this middleware becomes a pass-through with zero overhead.
//
// Span attributes include: interius.run.id, interius.stage, and
// interius.attempt. On error, the span status is set to codes.Error with
// the error message.
func Tracing() Middleware {
	tracer := otel.Tracer(tracerName)
	return TracingWithTracer(tracer)
}

// TracingWithTracer returns tracing middleware using the provided tracer.
// This variant allows injecting a specific TracerProvider for testing or
// when multiple providers are in use.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, req *stage.Request, next Handler) (*stage.Artifact, error) {
		ctx, span := tracer.Start(ctx, "interius.stage.execute",
			trace.WithAttributes(
				attribute.String("interius.run.id", req.RunID),
				attribute.String("interius.stage", string(req.Stage)),
				attribute.Int("interius.attempt", req.Attempt),
			),
			trace.WithSpanKind(trace.SpanKindInternal),
		)
		defer span.End()

		artifact, err := next(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}

		return artifact, err
	}
}
