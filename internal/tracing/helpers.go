package tracing

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/onnwee/dbup/internal/health"
)

// TracerName is the instrumentation scope of every span this module starts.
const TracerName = "github.com/onnwee/dbup"

// Span names.
const (
	SpanCheckCycle = "health_check"
	SpanAttempt    = "health_check.attempt"
)

// Attribute keys set on check spans.
const (
	AttrCheckNumber    = attribute.Key("db_up.check_number")
	AttrAttempt        = attribute.Key("db_up.retry_attempt")
	AttrAttempts       = attribute.Key("db_up.attempts")
	AttrStatus         = attribute.Key("db_up.status")
	AttrResponseTimeMS = attribute.Key("db_up.response_time_ms")
	AttrErrorCode      = attribute.Key("db_up.error_code")
)

// StartCheckSpan starts the span covering one monitoring cycle, including
// its retries. The returned function ends it with the cycle's final result.
//
// Example usage:
//
//	ctx, end := tracing.StartCheckSpan(ctx, "app", n)
//	result := runCycle(ctx)
//	end(attempts, result)
func StartCheckSpan(ctx context.Context, database string, checkNumber int) (context.Context, func(int, health.Result)) {
	ctx, span := otel.Tracer(TracerName).Start(ctx, SpanCheckCycle,
		trace.WithAttributes(
			attribute.String("db.system", "postgresql"),
			attribute.String("db.name", database),
			AttrCheckNumber.Int(checkNumber),
		),
	)

	return ctx, func(attempts int, r health.Result) {
		span.SetAttributes(AttrAttempts.Int(attempts))
		endWithResult(span, r)
	}
}

// StartAttemptSpan starts a client span for a single probe of the database.
func StartAttemptSpan(ctx context.Context, attempt int) (context.Context, func(health.Result)) {
	ctx, span := otel.Tracer(TracerName).Start(ctx, SpanAttempt,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("db.system", "postgresql"),
			attribute.String("db.operation", "SELECT"),
			AttrAttempt.Int(attempt),
		),
	)

	return ctx, func(r health.Result) {
		endWithResult(span, r)
	}
}

func endWithResult(span trace.Span, r health.Result) {
	span.SetAttributes(
		AttrStatus.String(string(r.Status)),
		AttrResponseTimeMS.Float64(r.ResponseTimeMS),
	)
	if !r.IsSuccess() {
		span.SetAttributes(AttrErrorCode.String(string(r.ErrorCode)))
		span.SetStatus(codes.Error, r.String())
	}
	span.End()
}

// AddEvent adds an event to the current span.
func AddEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	span.AddEvent(name, trace.WithAttributes(attrs...))
}

// SetAttributes sets attributes on the current span.
func SetAttributes(ctx context.Context, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(attrs...)
}
