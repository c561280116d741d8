package httpsession

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"mercator-hq/callisto/pkg/config"
	"mercator-hq/callisto/pkg/stream"
	"mercator-hq/callisto/pkg/telemetry/logging"
	"mercator-hq/callisto/pkg/telemetry/metrics"
)

// Router receives every complete request, synchronously on the feeding
// goroutine and with no pipeline lock held. req is reused for the next
// message on the connection once Route returns.
type Router interface {
	Route(id stream.ID, req *Request)
}

// ParseErrorHandler decides what happens to a connection whose input cannot
// be framed. It may send a response. Returning true disconnects the
// connection; either way the parser is reset and the pending input dropped.
type ParseErrorHandler interface {
	OnParseError(id stream.ID, err *ParseError) (disconnect bool)
}

// Transport is the part of the connection registry the layer needs.
type Transport interface {
	Disconnect(id stream.ID) error
	IsConnected(id stream.ID) bool
}

// Config configures a Layer.
type Config struct {
	Limits Limits

	// Router receives complete requests. Required.
	Router Router

	// Errors handles parse errors. When nil, or when Router does not
	// implement ParseErrorHandler, the connection is disconnected.
	Errors ParseErrorHandler

	Transport Transport
	Metrics   *metrics.Collector
	Logger    *slog.Logger
}

// LimitsFromConfig converts the http section into parser limits.
func LimitsFromConfig(cfg config.HTTPConfig) Limits {
	return Limits{
		MaxHeaderBytes: cfg.MaxHeaderBytes,
		MaxBodyBytes:   int64(cfg.MaxBodyBytes),
	}
}

// Layer frames requests on every connection fed to it. It is a stream.Stage
// fed with plaintext, either straight from the registry or from a TLS layer.
type Layer struct {
	limits    Limits
	router    Router
	errors    ParseErrorHandler
	transport Transport
	metrics   *metrics.Collector
	logger    *slog.Logger

	mu    sync.Mutex
	conns map[stream.ID]*connState
}

// connState is the framing state of one connection. It implements Listener
// and builds the request the events describe.
type connState struct {
	layer  *Layer
	id     stream.ID
	parser *Parser
	req    Request

	valueOpen bool
}

// NewLayer creates an HTTP layer.
func NewLayer(cfg Config) (*Layer, error) {
	if cfg.Router == nil {
		return nil, errors.New("http layer requires a router")
	}
	l := &Layer{
		limits:    cfg.Limits,
		router:    cfg.Router,
		errors:    cfg.Errors,
		transport: cfg.Transport,
		metrics:   cfg.Metrics,
		logger:    cfg.Logger,
		conns:     make(map[stream.ID]*connState),
	}
	if l.errors == nil {
		if h, ok := cfg.Router.(ParseErrorHandler); ok {
			l.errors = h
		}
	}
	if l.logger == nil {
		l.logger = slog.Default().With("component", "httpsession.layer")
	}
	return l, nil
}

func (l *Layer) state(id stream.ID, create bool) *connState {
	l.mu.Lock()
	defer l.mu.Unlock()
	c := l.conns[id]
	if c == nil && create {
		c = &connState{layer: l, id: id}
		c.req.ContentLength = -1
		c.parser = NewParser(c, l.limits)
		l.conns[id] = c
	}
	return c
}

// Open implements stream.Opener.
func (l *Layer) Open(id stream.ID) {
	l.mu.Lock()
	delete(l.conns, id)
	l.mu.Unlock()
	l.state(id, true)
}

// Close implements stream.Closer and drops the connection's framing state.
func (l *Layer) Close(id stream.ID) {
	l.mu.Lock()
	delete(l.conns, id)
	l.mu.Unlock()
}

// Len returns the number of connections with framing state.
func (l *Layer) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.conns)
}

// InMessage reports whether id holds a partially framed request.
func (l *Layer) InMessage(id stream.ID) bool {
	c := l.state(id, false)
	return c != nil && c.parser.InMessage()
}

// Feed implements stream.Stage. Complete requests are routed one at a time;
// pipelined input after a request that disconnected the connection is left
// unconsumed.
func (l *Layer) Feed(id stream.ID, pending []byte) int {
	c := l.state(id, true)

	off := 0
	for off < len(pending) {
		n, err := c.parser.Parse(pending[off:])
		off += n
		if err != nil {
			var perr *ParseError
			if !errors.As(err, &perr) {
				perr = malformed("%v", err)
			}
			l.parseError(c, perr)
			return len(pending)
		}
		if n == 0 {
			break
		}
		if !c.parser.InMessage() && l.transport != nil && !l.transport.IsConnected(id) {
			break
		}
	}
	return off
}

// Abort implements stream.Aborter. The registry is already disconnecting,
// so the handler only gets the chance to respond.
func (l *Layer) Abort(id stream.ID, err error) {
	if !errors.Is(err, stream.ErrIncomingOverflow) || l.errors == nil {
		return
	}
	c := l.state(id, false)
	if c == nil {
		return
	}
	perr := tooLarge("unconsumed input exceeds the connection buffer")
	l.metrics.ParseError(perr.Kind.String())
	l.errors.OnParseError(id, perr)
	c.parser.Reset()
}

func (l *Layer) parseError(c *connState, perr *ParseError) {
	l.metrics.ParseError(perr.Kind.String())
	l.logger.Warn("http parse error",
		"connection", c.id,
		"kind", perr.Kind.String(),
		"reason", perr.Reason,
		"method", c.req.Method,
		"url", c.req.URL,
	)

	disconnect := true
	if l.errors != nil {
		disconnect = l.errors.OnParseError(c.id, perr)
	}
	c.parser.Reset()
	c.req.reset()
	c.valueOpen = false
	if disconnect && l.transport != nil {
		_ = l.transport.Disconnect(c.id)
	}
}

// OnMessageBegin implements Listener.
func (c *connState) OnMessageBegin() {
	if c.req.Parsed {
		c.req.reset()
	}
	c.req.Headers = c.req.Headers[:0]
	c.valueOpen = false
}

// OnURL implements Listener.
func (c *connState) OnURL(url string) {
	c.req.URL = url
}

// OnHeaderField implements Listener.
func (c *connState) OnHeaderField(field string) {
	c.req.Headers = append(c.req.Headers, Header{Field: field})
	c.valueOpen = false
}

// OnHeaderValue implements Listener.
func (c *connState) OnHeaderValue(value string) {
	n := len(c.req.Headers)
	if n == 0 {
		return
	}
	if c.valueOpen {
		c.req.Headers[n-1].Value += value
		return
	}
	c.req.Headers[n-1].Value = value
	c.valueOpen = true
}

// OnHeadersComplete implements Listener.
func (c *connState) OnHeadersComplete(head Head) {
	c.req.Method = head.Method
	c.req.Proto = head.Proto
	c.req.ContentLength = head.ContentLength
	c.req.Chunked = head.Chunked
	c.valueOpen = false
}

// OnBody implements Listener.
func (c *connState) OnBody(chunk []byte) {
	c.req.Body = append(c.req.Body, chunk...)
}

// OnMessageComplete implements Listener.
func (c *connState) OnMessageComplete() {
	c.req.Parsed = true
	l := c.layer
	l.metrics.RequestParsed(len(c.req.Body))
	if l.logger.Enabled(context.Background(), slog.LevelDebug) {
		attrs := make([]any, 0, len(c.req.Headers)+4)
		attrs = append(attrs, "connection", c.id, "method", c.req.Method, "url", c.req.URL)
		for _, h := range c.req.Headers {
			attrs = append(attrs, slog.String("header."+h.Field, logging.RedactHeader(h.Field, h.Value)))
		}
		l.logger.Debug("http request framed", attrs...)
	}
	l.router.Route(c.id, &c.req)
}
