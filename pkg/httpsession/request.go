package httpsession

import (
	"strings"
)

// Header is one header field as it arrived. Duplicates are kept as separate
// entries in arrival order.
type Header struct {
	Field string
	Value string
}

// Request is the message being framed on a connection. The layer reuses it
// for the next message on the same connection, so handlers that keep a
// request past their call must Clone it.
type Request struct {
	Method  string
	URL     string
	Proto   string
	Headers []Header
	Body    []byte

	// ContentLength is the declared body size, or -1 when the body is
	// chunked or absent.
	ContentLength int64
	Chunked       bool

	// Parsed is set when the message is complete.
	Parsed bool
}

func (r *Request) reset() {
	r.Method = ""
	r.URL = ""
	r.Proto = ""
	r.Headers = r.Headers[:0]
	r.Body = r.Body[:0]
	r.ContentLength = -1
	r.Chunked = false
	r.Parsed = false
}

// Header returns the first value of the named field, matched
// case-insensitively, or "" when absent.
func (r *Request) Header(name string) string {
	for _, h := range r.Headers {
		if strings.EqualFold(h.Field, name) {
			return h.Value
		}
	}
	return ""
}

// Values returns every value of the named field in arrival order.
func (r *Request) Values(name string) []string {
	var out []string
	for _, h := range r.Headers {
		if strings.EqualFold(h.Field, name) {
			out = append(out, h.Value)
		}
	}
	return out
}

// KeepAlive reports whether the peer expects the connection to stay open
// after the response.
func (r *Request) KeepAlive() bool {
	for _, v := range r.Values("Connection") {
		for _, tok := range strings.Split(v, ",") {
			tok = strings.TrimSpace(tok)
			if strings.EqualFold(tok, "close") {
				return false
			}
			if strings.EqualFold(tok, "keep-alive") {
				return true
			}
		}
	}
	return r.Proto != "HTTP/1.0"
}

// Clone returns a deep copy.
func (r *Request) Clone() *Request {
	c := *r
	c.Headers = append([]Header(nil), r.Headers...)
	c.Body = append([]byte(nil), r.Body...)
	return &c
}
