package tracing

import (
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Span names.
const (
	SpanDispatch  = "http.dispatch"
	SpanHandshake = "tls.handshake"
)

// Attribute keys. Standard keys follow the OpenTelemetry HTTP conventions;
// pipeline-specific keys use the "callisto." namespace.
const (
	AttrHTTPMethod  = "http.request.method"
	AttrURLPath     = "url.path"
	AttrHTTPVersion = "network.protocol.version"
	AttrBodySize    = "http.request.body.size"

	AttrConnection = "callisto.connection"
	AttrSession    = "callisto.session"
	AttrDispatched = "callisto.dispatched"
	AttrHeaders    = "callisto.header_count"
)

// DispatchAttributes builds the attributes recorded on an http.dispatch span.
func DispatchAttributes(connection uint64, session, method, url, proto string, headers, bodySize int) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.Int64(AttrConnection, int64(connection)),
		attribute.String(AttrHTTPMethod, method),
		attribute.String(AttrURLPath, url),
		attribute.Int(AttrHeaders, headers),
		attribute.Int(AttrBodySize, bodySize),
	}
	if session != "" {
		attrs = append(attrs, attribute.String(AttrSession, session))
	}
	if proto != "" {
		attrs = append(attrs, attribute.String(AttrHTTPVersion, proto))
	}
	return attrs
}

// SetDispatched records whether a handler was found for the request.
func SetDispatched(span trace.Span, dispatched bool) {
	span.SetAttributes(attribute.Bool(AttrDispatched, dispatched))
}
