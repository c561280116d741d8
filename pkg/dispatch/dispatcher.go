package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"mercator-hq/callisto/pkg/httpsession"
	"mercator-hq/callisto/pkg/journal"
	"mercator-hq/callisto/pkg/stream"
	"mercator-hq/callisto/pkg/telemetry/logging"
	"mercator-hq/callisto/pkg/telemetry/metrics"
	"mercator-hq/callisto/pkg/telemetry/tracing"
)

var (
	// ErrUnsupportedVerb is returned when registering a handler for a
	// method outside the dispatch set.
	ErrUnsupportedVerb = errors.New("method is not a dispatchable verb")

	// ErrNoHandler reports a request whose method has no handler. The
	// request was parsed successfully and is dropped.
	ErrNoHandler = errors.New("no handler for method")
)

// Verbs is the fixed dispatch set.
var Verbs = []string{"GET", "PUT", "POST", "COPY", "DELETE"}

var verbSet = func() map[string]struct{} {
	m := make(map[string]struct{}, len(Verbs))
	for _, v := range Verbs {
		m[v] = struct{}{}
	}
	return m
}()

// IsVerb reports whether method belongs to the dispatch set.
func IsVerb(method string) bool {
	_, ok := verbSet[method]
	return ok
}

// Handler serves one request. It runs synchronously on the feeding
// goroutine with no pipeline lock held, so it may Send to any connection.
// req is reused once the call returns; Clone it to keep it.
type Handler interface {
	Serve(ctx context.Context, id stream.ID, req *httpsession.Request) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, id stream.ID, req *httpsession.Request) error

// Serve implements Handler.
func (f HandlerFunc) Serve(ctx context.Context, id stream.ID, req *httpsession.Request) error {
	return f(ctx, id, req)
}

// Journal receives an entry for every routed request.
type Journal interface {
	Record(ctx context.Context, entry *journal.Entry) error
}

// Sessions resolves a connection to its record, for session ids.
type Sessions interface {
	Lookup(id stream.ID) (*stream.Connection, bool)
}

// Config configures a Dispatcher.
type Config struct {
	// Sender carries responses. The host installs the TLS layer or the
	// registry here; SetSender replaces it later.
	Sender stream.Sender

	// ParseErrors answers unframeable input. Defaults to RejectParseErrors.
	ParseErrors ParseErrorPolicy

	Sessions Sessions
	Journal  Journal
	Tracer   *tracing.Tracer
	Metrics  *metrics.Collector
	Logger   *slog.Logger

	// Now defaults to time.Now.
	Now func() time.Time
}

// Dispatcher routes complete requests to verb handlers by method. It
// implements httpsession.Router and httpsession.ParseErrorHandler.
type Dispatcher struct {
	mu       sync.RWMutex
	handlers map[string]Handler
	sender   stream.Sender

	policy   ParseErrorPolicy
	sessions Sessions
	journal  Journal
	tracer   *tracing.Tracer
	metrics  *metrics.Collector
	logger   *slog.Logger
	now      func() time.Time
}

// New creates a dispatcher with no handlers.
func New(cfg Config) *Dispatcher {
	d := &Dispatcher{
		handlers: make(map[string]Handler, len(Verbs)),
		sender:   cfg.Sender,
		policy:   cfg.ParseErrors,
		sessions: cfg.Sessions,
		journal:  cfg.Journal,
		tracer:   cfg.Tracer,
		metrics:  cfg.Metrics,
		logger:   cfg.Logger,
		now:      cfg.Now,
	}
	if d.policy == nil {
		d.policy = RejectParseErrors
	}
	if d.logger == nil {
		d.logger = slog.Default().With("component", "dispatch")
	}
	if d.now == nil {
		d.now = time.Now
	}
	return d
}

// Handle registers h for method, replacing any previous handler.
func (d *Dispatcher) Handle(method string, h Handler) error {
	if !IsVerb(method) {
		return fmt.Errorf("%w: %q", ErrUnsupportedVerb, method)
	}
	if h == nil {
		return fmt.Errorf("nil handler for %s", method)
	}
	d.mu.Lock()
	d.handlers[method] = h
	d.mu.Unlock()
	return nil
}

// HandleFunc registers f for method.
func (d *Dispatcher) HandleFunc(method string, f func(ctx context.Context, id stream.ID, req *httpsession.Request) error) error {
	return d.Handle(method, HandlerFunc(f))
}

// Remove unregisters the handler for method.
func (d *Dispatcher) Remove(method string) {
	d.mu.Lock()
	delete(d.handlers, method)
	d.mu.Unlock()
}

// Handler returns the handler registered for method.
func (d *Dispatcher) Handler(method string) (Handler, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	h, ok := d.handlers[method]
	return h, ok
}

// SetSender replaces the sender used for responses.
func (d *Dispatcher) SetSender(s stream.Sender) {
	d.mu.Lock()
	d.sender = s
	d.mu.Unlock()
}

// Send queues data through the configured sender. id may be
// stream.Broadcast.
func (d *Dispatcher) Send(id stream.ID, data []byte) error {
	d.mu.RLock()
	s := d.sender
	d.mu.RUnlock()
	if s == nil {
		return errors.New("dispatcher has no sender")
	}
	return s.Send(id, data)
}

// Route implements httpsession.Router.
func (d *Dispatcher) Route(id stream.ID, req *httpsession.Request) {
	_ = d.Dispatch(context.Background(), id, req)
}

// Dispatch runs the handler for req.Method and returns ErrNoHandler when
// there is none, or the handler's error. The handler's context carries the
// connection id, session and method (see logging.GetConnection).
func (d *Dispatcher) Dispatch(ctx context.Context, id stream.ID, req *httpsession.Request) error {
	session := d.session(id)
	ctx = logging.WithMethod(logging.WithConnection(ctx, uint64(id), session), req.Method)
	ctx, span := d.tracer.Start(ctx, tracing.SpanDispatch,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(tracing.DispatchAttributes(uint64(id), session, req.Method, req.URL, req.Proto, len(req.Headers), len(req.Body))...),
	)
	defer span.End()

	h, ok := d.Handler(req.Method)
	tracing.SetDispatched(span, ok)

	var entry *journal.Entry
	if d.journal != nil {
		entry = journal.NewEntry(uint64(id), session, req)
		entry.TraceID = tracing.TraceID(ctx)
	}

	if !ok {
		d.metrics.Dispatch(req.Method, "no_handler", 0)
		d.logger.Debug("no handler for request", logging.ContextAttrs(ctx, "url", req.URL)...)
		d.record(ctx, entry, ErrNoHandler, 0)
		return ErrNoHandler
	}

	start := d.now()
	err := h.Serve(ctx, id, req)
	elapsed := d.now().Sub(start)

	d.metrics.Dispatch(req.Method, "handled", elapsed)
	if err != nil {
		tracing.SetError(span, err)
		d.logger.Warn("handler failed", logging.ContextAttrs(ctx, "url", req.URL, "error", err)...)
	}
	if entry != nil {
		entry.Dispatched = true
	}
	d.record(ctx, entry, err, elapsed)
	return err
}

func (d *Dispatcher) record(ctx context.Context, entry *journal.Entry, err error, elapsed time.Duration) {
	if entry == nil {
		return
	}
	entry.Duration = elapsed
	if err != nil && !errors.Is(err, ErrNoHandler) {
		entry.Error = err.Error()
	}
	// Failures are logged and counted by the journal.
	_ = d.journal.Record(ctx, entry)
}

func (d *Dispatcher) session(id stream.ID) string {
	if d.sessions == nil {
		return ""
	}
	c, ok := d.sessions.Lookup(id)
	if !ok {
		return ""
	}
	return c.Session().String()
}

// OnParseError implements httpsession.ParseErrorHandler through the
// configured policy.
func (d *Dispatcher) OnParseError(id stream.ID, err *httpsession.ParseError) bool {
	return d.policy(d, id, err)
}

// VerbHandler mirrors one callback per dispatchable verb.
type VerbHandler interface {
	OnGET(ctx context.Context, id stream.ID, req *httpsession.Request) error
	OnPUT(ctx context.Context, id stream.ID, req *httpsession.Request) error
	OnPOST(ctx context.Context, id stream.ID, req *httpsession.Request) error
	OnCOPY(ctx context.Context, id stream.ID, req *httpsession.Request) error
	OnDELETE(ctx context.Context, id stream.ID, req *httpsession.Request) error
}

// HandleVerbs registers each of v's callbacks for its verb.
func (d *Dispatcher) HandleVerbs(v VerbHandler) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.handlers["GET"] = HandlerFunc(v.OnGET)
	d.handlers["PUT"] = HandlerFunc(v.OnPUT)
	d.handlers["POST"] = HandlerFunc(v.OnPOST)
	d.handlers["COPY"] = HandlerFunc(v.OnCOPY)
	d.handlers["DELETE"] = HandlerFunc(v.OnDELETE)
}
