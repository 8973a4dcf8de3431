package tracing

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func setupTestTracerWithPropagator(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithSyncer(exporter),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	t.Cleanup(func() {
		tp.Shutdown(context.Background())
		otel.SetTracerProvider(trace.NewNoopTracerProvider())
		otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator())
	})
	return exporter
}

func withExporter(t *testing.T) *tracetest.InMemoryExporter {
	t.Helper()
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter), sdktrace.WithSampler(sdktrace.AlwaysSample()))
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		tp.Shutdown(context.Background())
		otel.SetTracerProvider(trace.NewNoopTracerProvider())
	})
	return exporter
}

func TestStartIngestSpan(t *testing.T) {
	exporter := withExporter(t)

	ctx, span := StartIngestSpan(context.Background(), "app-1")
	if !trace.SpanFromContext(ctx).SpanContext().IsValid() {
		t.Error("expected valid span in context")
	}
	span.End()

	spans := exporter.GetSpans()
	if len(spans) == 0 {
		t.Fatal("expected at least one span")
	}
	if spans[0].Name != "ingest.handle" {
		t.Errorf("expected span name 'ingest.handle', got %q", spans[0].Name)
	}
}

func TestStartProcessorSpan(t *testing.T) {
	exporter := withExporter(t)

	_, span := StartProcessorSpan(context.Background(), "app-1", 25)
	span.End()

	spans := exporter.GetSpans()
	if len(spans) == 0 {
		t.Fatal("expected at least one span")
	}
	if spans[0].Name != "processor.handle_batch" {
		t.Errorf("expected span name 'processor.handle_batch', got %q", spans[0].Name)
	}

	found := map[string]bool{}
	for _, attr := range spans[0].Attributes {
		found[string(attr.Key)] = true
	}
	if !found["logsentry.app_id"] {
		t.Error("expected logsentry.app_id attribute")
	}
	if !found["logsentry.batch_size"] {
		t.Error("expected logsentry.batch_size attribute")
	}
}

func TestStartClassifierSpan(t *testing.T) {
	exporter := withExporter(t)

	_, span := StartClassifierSpan(context.Background(), "app-1")
	span.End()

	spans := exporter.GetSpans()
	if len(spans) == 0 {
		t.Fatal("expected at least one span")
	}
	if spans[0].Name != "classify.call" {
		t.Errorf("expected span name 'classify.call', got %q", spans[0].Name)
	}
	if spans[0].SpanKind != trace.SpanKindClient {
		t.Errorf("expected SpanKindClient, got %v", spans[0].SpanKind)
	}
}

func TestStartStoreWriteSpan(t *testing.T) {
	exporter := withExporter(t)

	_, span := StartStoreWriteSpan(context.Background(), "app-1", 10)
	span.End()

	spans := exporter.GetSpans()
	if len(spans) == 0 {
		t.Fatal("expected at least one span")
	}
	if spans[0].Name != "store.insert_logs_batch" {
		t.Errorf("expected span name 'store.insert_logs_batch', got %q", spans[0].Name)
	}
}

func TestInjectHeaders(t *testing.T) {
	setupTestTracerWithPropagator(t)

	ctx, span := Tracer().Start(context.Background(), "test")
	defer span.End()

	req := httptest.NewRequest("POST", "/ingest", nil)
	InjectHeaders(ctx, req)

	if req.Header.Get("traceparent") == "" {
		t.Error("expected traceparent header to be injected")
	}
}

func TestSetIngestAttributes(t *testing.T) {
	exporter := withExporter(t)

	ctx, span := Tracer().Start(context.Background(), "test")
	SetIngestAttributes(ctx, "app-1", 3)
	span.End()

	spans := exporter.GetSpans()
	if len(spans) == 0 {
		t.Fatal("expected at least one span")
	}

	attrs := map[string]interface{}{}
	for _, attr := range spans[0].Attributes {
		attrs[string(attr.Key)] = attr.Value.AsInterface()
	}
	if attrs["logsentry.app_id"] != "app-1" {
		t.Errorf("expected logsentry.app_id 'app-1', got %v", attrs["logsentry.app_id"])
	}
	if attrs["logsentry.record_count"] != int64(3) {
		t.Errorf("expected logsentry.record_count 3, got %v", attrs["logsentry.record_count"])
	}
}

func TestSetIngestOutcome(t *testing.T) {
	exporter := withExporter(t)

	ctx, span := Tracer().Start(context.Background(), "test")
	SetIngestOutcome(ctx, 200, true)
	span.End()

	spans := exporter.GetSpans()
	if len(spans) == 0 {
		t.Fatal("expected at least one span")
	}

	attrs := map[string]interface{}{}
	for _, attr := range spans[0].Attributes {
		attrs[string(attr.Key)] = attr.Value.AsInterface()
	}
	if attrs["http.response.status_code"] != int64(200) {
		t.Errorf("expected status_code 200, got %v", attrs["http.response.status_code"])
	}
	if attrs["logsentry.accepted"] != true {
		t.Errorf("expected accepted true, got %v", attrs["logsentry.accepted"])
	}
}

func TestRecordError_NilDoesNotPanic(t *testing.T) {
	RecordError(context.Background(), nil)
}

func TestRecordError_RecordsOnSpan(t *testing.T) {
	exporter := withExporter(t)

	ctx, span := Tracer().Start(context.Background(), "test")
	RecordError(ctx, errors.New("test error"))
	span.End()

	spans := exporter.GetSpans()
	if len(spans) == 0 {
		t.Fatal("expected at least one span")
	}
	if len(spans[0].Events) == 0 {
		t.Error("expected error event on span")
	}
}

func TestInjectHeaders_WithHTTPRequest(t *testing.T) {
	setupTestTracerWithPropagator(t)

	ctx, span := Tracer().Start(context.Background(), "parent")
	defer span.End()

	req, _ := http.NewRequest("POST", "https://logsentry.example.com/ingest", nil)
	InjectHeaders(ctx, req)

	traceparent := req.Header.Get("traceparent")
	if traceparent == "" {
		t.Fatal("expected traceparent header")
	}

	parentTraceID := span.SpanContext().TraceID().String()
	if len(traceparent) < 55 {
		t.Fatalf("traceparent too short: %s", traceparent)
	}
	extractedTraceID := traceparent[3:35]
	if extractedTraceID != parentTraceID {
		t.Errorf("expected trace ID %s in traceparent, got %s", parentTraceID, extractedTraceID)
	}
}
