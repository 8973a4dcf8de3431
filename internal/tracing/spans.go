package tracing

import (
	"context"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// StartIngestSpan creates a child span covering one POST /ingest request's
// parse/authenticate/enqueue pipeline.
func StartIngestSpan(ctx context.Context, appID string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "ingest.handle",
		trace.WithAttributes(attribute.String("logsentry.app_id", appID)),
	)
}

// StartProcessorSpan creates a child span for one processor batch-handling
// cycle (classify, aggregate update, write-batch append).
func StartProcessorSpan(ctx context.Context, appID string, batchSize int) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "processor.handle_batch",
		trace.WithAttributes(
			attribute.String("logsentry.app_id", appID),
			attribute.Int("logsentry.batch_size", batchSize),
		),
	)
}

// StartClassifierSpan creates a child span for a single external classifier call.
func StartClassifierSpan(ctx context.Context, appID string) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "classify.call",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("logsentry.app_id", appID)),
	)
}

// StartStoreWriteSpan creates a child span for a batch insert into the
// persistent log store.
func StartStoreWriteSpan(ctx context.Context, appID string, batchSize int) (context.Context, trace.Span) {
	return Tracer().Start(ctx, "store.insert_logs_batch",
		trace.WithAttributes(
			attribute.String("logsentry.app_id", appID),
			attribute.Int("logsentry.batch_size", batchSize),
		),
	)
}

// InjectHeaders injects the current trace context (traceparent, tracestate)
// into the given HTTP request headers so a downstream call can continue the
// trace (e.g. the SDK flusher calling into the ingestion server).
func InjectHeaders(ctx context.Context, req *http.Request) {
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))
}

// SetIngestAttributes adds request-level attributes to the current span.
func SetIngestAttributes(ctx context.Context, appID string, recordCount int) {
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(
		attribute.String("logsentry.app_id", appID),
		attribute.Int("logsentry.record_count", recordCount),
	)
}

// SetIngestOutcome adds outcome attributes to the current span once a
// request has been fully handled.
func SetIngestOutcome(ctx context.Context, statusCode int, accepted bool) {
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(
		attribute.Int("http.response.status_code", statusCode),
		attribute.Bool("logsentry.accepted", accepted),
	)
}

// RecordError records an error on the current span.
func RecordError(ctx context.Context, err error) {
	if err != nil {
		trace.SpanFromContext(ctx).RecordError(err)
	}
}
