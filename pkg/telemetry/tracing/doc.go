// Package tracing provides OpenTelemetry spans for request dispatch.
//
// Each request handed to the Dispatcher runs inside an http.dispatch span
// carrying the connection id, session uuid, method and path. When tracing is
// disabled the Tracer hands out noop spans.
//
// # Usage
//
//	tracer, err := tracing.New(&cfg.Telemetry.Tracing)
//	if err != nil {
//	    return err
//	}
//	defer tracer.Shutdown(context.Background())
//
//	ctx, span := tracer.Start(ctx, tracing.SpanDispatch,
//	    trace.WithAttributes(tracing.DispatchAttributes(id, session, "GET", "/", "HTTP/1.1", 3, 0)...))
//	defer span.End()
//
// # Export
//
// Spans are batched to an OTLP gRPC collector at telemetry.tracing.endpoint,
// sampled by trace ID ratio and respecting parent decisions.
package tracing
