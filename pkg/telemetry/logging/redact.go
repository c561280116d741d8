package logging

import (
	"log/slog"
	"net/textproto"
	"sync/atomic"
)

// Redacted replaces sensitive header values in log output.
const Redacted = "[REDACTED]"

// DefaultRedactedHeaders are always masked.
var DefaultRedactedHeaders = []string{
	"Authorization",
	"Proxy-Authorization",
	"Cookie",
	"Set-Cookie",
}

// HeaderRedactor masks the values of sensitive HTTP headers before they are
// logged. Header names compare case-insensitively.
type HeaderRedactor struct {
	names map[string]struct{}
}

// NewHeaderRedactor creates a redactor for the default headers plus extra.
func NewHeaderRedactor(extra ...string) *HeaderRedactor {
	r := &HeaderRedactor{names: make(map[string]struct{}, len(DefaultRedactedHeaders)+len(extra))}
	for _, name := range DefaultRedactedHeaders {
		r.names[textproto.CanonicalMIMEHeaderKey(name)] = struct{}{}
	}
	for _, name := range extra {
		if name != "" {
			r.names[textproto.CanonicalMIMEHeaderKey(name)] = struct{}{}
		}
	}
	return r
}

// Sensitive reports whether values of the named header are redacted.
func (r *HeaderRedactor) Sensitive(name string) bool {
	if r == nil {
		return false
	}
	_, ok := r.names[textproto.CanonicalMIMEHeaderKey(name)]
	return ok
}

// Redact returns value, or Redacted when the header is sensitive.
func (r *HeaderRedactor) Redact(name, value string) string {
	if r.Sensitive(name) {
		return Redacted
	}
	return value
}

// Attr builds a log attribute for one header with its value redacted as
// needed.
func (r *HeaderRedactor) Attr(name, value string) slog.Attr {
	return slog.String(name, r.Redact(name, value))
}

var defaultRedactor atomic.Pointer[HeaderRedactor]

func init() {
	defaultRedactor.Store(NewHeaderRedactor())
}

// SetDefaultRedactor replaces the redactor used by RedactHeader.
func SetDefaultRedactor(r *HeaderRedactor) {
	if r != nil {
		defaultRedactor.Store(r)
	}
}

// RedactHeader redacts value with the process default redactor.
func RedactHeader(name, value string) string {
	return defaultRedactor.Load().Redact(name, value)
}
