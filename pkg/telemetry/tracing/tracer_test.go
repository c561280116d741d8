package tracing

import (
	"context"
	"errors"
	"testing"

	"mercator-hq/callisto/pkg/config"

	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"
)

func TestNew_Disabled(t *testing.T) {
	tracer, err := New(&config.TracingConfig{Enabled: false})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if tracer.Enabled() {
		t.Error("disabled config should produce a disabled tracer")
	}

	ctx, span := tracer.Start(context.Background(), SpanDispatch)
	defer span.End()
	if TraceID(ctx) != "" {
		t.Error("noop span should carry no trace id")
	}
	if err := tracer.Shutdown(context.Background()); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
}

func TestNew_Errors(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Error("nil config should fail")
	}
	if _, err := New(&config.TracingConfig{Enabled: true, SampleRatio: 2}); err == nil {
		t.Error("out of range sample ratio should fail")
	}
}

func TestNewWithProvider_RecordsSpans(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	tracer := NewWithProvider(provider)
	defer tracer.Shutdown(context.Background())

	ctx, span := tracer.Start(context.Background(), SpanDispatch,
		trace.WithAttributes(DispatchAttributes(9, "s-1", "GET", "/index", "HTTP/1.1", 2, 0)...))
	if TraceID(ctx) == "" {
		t.Error("recorded span should carry a trace id")
	}
	SetDispatched(span, true)
	SetError(span, errors.New("boom"))
	span.End()

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("expected 1 span, got %d", len(spans))
	}
	got := spans[0]
	if got.Name() != SpanDispatch {
		t.Errorf("span name = %q", got.Name())
	}
	if got.Status().Code != codes.Error {
		t.Errorf("status = %v, want error", got.Status().Code)
	}

	attrs := map[string]bool{}
	for _, kv := range got.Attributes() {
		attrs[string(kv.Key)] = true
	}
	for _, key := range []string{AttrConnection, AttrSession, AttrHTTPMethod, AttrURLPath, AttrHTTPVersion, AttrDispatched} {
		if !attrs[key] {
			t.Errorf("missing attribute %s", key)
		}
	}
}

func TestNilTracer(t *testing.T) {
	var tracer *Tracer
	_, span := tracer.Start(context.Background(), SpanDispatch)
	span.End()
	if tracer.Enabled() {
		t.Error("nil tracer should report disabled")
	}
}
