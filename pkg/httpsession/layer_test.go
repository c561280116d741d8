package httpsession

import (
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"

	"mercator-hq/callisto/pkg/config"
	"mercator-hq/callisto/pkg/stream"
	"mercator-hq/callisto/pkg/telemetry/metrics"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
)

// recordingRouter keeps a copy of every routed request. onRoute runs after
// the copy is stored.
type recordingRouter struct {
	mu      sync.Mutex
	routed  []*Request
	onRoute func(id stream.ID, req *Request)
}

func (r *recordingRouter) Route(id stream.ID, req *Request) {
	r.mu.Lock()
	r.routed = append(r.routed, req.Clone())
	r.mu.Unlock()
	if r.onRoute != nil {
		r.onRoute(id, req)
	}
}

func (r *recordingRouter) requests() []*Request {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Request(nil), r.routed...)
}

type errorRecorder struct {
	disconnect bool
	errs       []*ParseError
}

func (e *errorRecorder) OnParseError(_ stream.ID, err *ParseError) bool {
	e.errs = append(e.errs, err)
	return e.disconnect
}

type fixture struct {
	reg    *stream.Registry
	layer  *Layer
	router *recordingRouter
	prom   *prometheus.Registry
}

func newFixture(t *testing.T, streamCfg stream.Config, cfg Config) *fixture {
	t.Helper()
	prom := prometheus.NewRegistry()
	m := metrics.NewCollector(&config.MetricsConfig{Enabled: true, Namespace: "test", Subsystem: "pipeline"}, prom)

	streamCfg.Metrics = m
	reg := stream.NewRegistry(streamCfg)

	router := &recordingRouter{}
	if cfg.Router == nil {
		cfg.Router = router
	}
	cfg.Transport = reg
	cfg.Metrics = m
	layer, err := NewLayer(cfg)
	if err != nil {
		t.Fatalf("NewLayer() error = %v", err)
	}
	reg.SetStage(layer)
	if err := reg.Connect(1, 80); err != nil {
		t.Fatal(err)
	}
	return &fixture{reg: reg, layer: layer, router: router, prom: prom}
}

func TestNewLayer_RequiresRouter(t *testing.T) {
	if _, err := NewLayer(Config{}); err == nil {
		t.Fatal("NewLayer() without a router succeeded")
	}
}

func TestLayer_PipelinedRequests(t *testing.T) {
	f := newFixture(t, stream.Config{}, Config{})

	input := "GET /first HTTP/1.1\r\n" +
		"Host: a.test\r\n" +
		"Cookie: a=1\r\n" +
		"Cookie: b=2\r\n" +
		"\r\n" +
		"POST /second HTTP/1.1\r\n" +
		"Content-Length: 4\r\n" +
		"\r\n" +
		"data"
	if !f.reg.AppendIncoming(1, []byte(input)) {
		t.Fatal("AppendIncoming() = false")
	}

	reqs := f.router.requests()
	if len(reqs) != 2 {
		t.Fatalf("routed %d requests, want 2", len(reqs))
	}

	first := reqs[0]
	if first.Method != "GET" || first.URL != "/first" || first.Proto != "HTTP/1.1" {
		t.Errorf("first = %s %s %s", first.Method, first.URL, first.Proto)
	}
	if got, want := first.Values("cookie"), []string{"a=1", "b=2"}; !reflect.DeepEqual(got, want) {
		t.Errorf("Cookie values = %q, want %q", got, want)
	}
	if first.ContentLength != -1 || len(first.Body) != 0 {
		t.Errorf("first body = %q, length %d", first.Body, first.ContentLength)
	}
	if !first.Parsed {
		t.Error("Parsed = false on a routed request")
	}

	second := reqs[1]
	if second.Method != "POST" || string(second.Body) != "data" || second.ContentLength != 4 {
		t.Errorf("second = %s body %q length %d", second.Method, second.Body, second.ContentLength)
	}
	if len(second.Headers) != 1 {
		t.Errorf("second carried %d headers, want 1", len(second.Headers))
	}

	stats, _ := f.reg.Stats(1)
	if stats.PendingIn != 0 {
		t.Errorf("PendingIn = %d, want 0", stats.PendingIn)
	}

	expected := `
		# HELP test_pipeline_http_requests_parsed_total Complete HTTP requests framed from connection input
		# TYPE test_pipeline_http_requests_parsed_total counter
		test_pipeline_http_requests_parsed_total 2
	`
	if err := promtest.GatherAndCompare(f.prom, strings.NewReader(expected), "test_pipeline_http_requests_parsed_total"); err != nil {
		t.Error(err)
	}
}

func TestLayer_RequestSplitAcrossAppends(t *testing.T) {
	f := newFixture(t, stream.Config{}, Config{})

	chunks := []string{
		"PUT /obj HTTP/1.1\r\nTransfer-",
		"Encoding: chunked\r\n\r\n4\r\nab",
		"cd\r\n0\r\n\r\n",
	}
	for i, chunk := range chunks {
		f.reg.AppendIncoming(1, []byte(chunk))
		if i < len(chunks)-1 {
			if n := len(f.router.requests()); n != 0 {
				t.Fatalf("routed %d requests after chunk %d", n, i)
			}
			if !f.layer.InMessage(1) {
				t.Errorf("InMessage() = false after chunk %d", i)
			}
		}
	}

	reqs := f.router.requests()
	if len(reqs) != 1 {
		t.Fatalf("routed %d requests, want 1", len(reqs))
	}
	if !reqs[0].Chunked || string(reqs[0].Body) != "abcd" {
		t.Errorf("request chunked=%t body=%q", reqs[0].Chunked, reqs[0].Body)
	}
	if f.layer.InMessage(1) {
		t.Error("InMessage() = true after the message completed")
	}
}

func TestLayer_StopsAfterDisconnectingRequest(t *testing.T) {
	var f *fixture
	router := &recordingRouter{}
	router.onRoute = func(id stream.ID, req *Request) {
		if !req.KeepAlive() {
			_ = f.reg.Disconnect(id)
		}
	}
	f = newFixture(t, stream.Config{}, Config{Router: router})

	input := "GET /a HTTP/1.1\r\nConnection: close\r\n\r\nGET /b HTTP/1.1\r\n\r\n"
	f.reg.AppendIncoming(1, []byte(input))

	reqs := router.requests()
	if len(reqs) != 1 || reqs[0].URL != "/a" {
		t.Fatalf("routed %d requests, want only /a", len(reqs))
	}
	if f.reg.IsConnected(1) {
		t.Error("connection still connected")
	}
	if f.layer.Len() != 0 {
		t.Errorf("Len() = %d after disconnect, want 0", f.layer.Len())
	}
}

func TestLayer_ParseErrorDisconnects(t *testing.T) {
	f := newFixture(t, stream.Config{}, Config{})

	f.reg.AppendIncoming(1, []byte("BROKEN\r\n"))

	if f.reg.IsConnected(1) {
		t.Error("connection still connected after a parse error")
	}
	if n := len(f.router.requests()); n != 0 {
		t.Errorf("routed %d requests", n)
	}

	expected := `
		# HELP test_pipeline_http_parse_errors_total Malformed HTTP input by error kind
		# TYPE test_pipeline_http_parse_errors_total counter
		test_pipeline_http_parse_errors_total{kind="malformed"} 1
	`
	if err := promtest.GatherAndCompare(f.prom, strings.NewReader(expected), "test_pipeline_http_parse_errors_total"); err != nil {
		t.Error(err)
	}
}

func TestLayer_ParseErrorHandler(t *testing.T) {
	tests := []struct {
		name       string
		disconnect bool
		input      string
		kind       ErrorKind
	}{
		{name: "keep connection", disconnect: false, input: "GET / HTTP/3.0\r\n", kind: Unsupported},
		{name: "disconnect", disconnect: true, input: "POST / HTTP/1.1\r\nContent-Length: x\r\n\r\n", kind: Malformed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := &errorRecorder{disconnect: tt.disconnect}
			f := newFixture(t, stream.Config{}, Config{Errors: handler})

			f.reg.AppendIncoming(1, []byte(tt.input))

			if len(handler.errs) != 1 {
				t.Fatalf("handler saw %d errors, want 1", len(handler.errs))
			}
			if handler.errs[0].Kind != tt.kind {
				t.Errorf("kind = %v, want %v", handler.errs[0].Kind, tt.kind)
			}
			if f.reg.IsConnected(1) == tt.disconnect {
				t.Errorf("IsConnected() = %t", f.reg.IsConnected(1))
			}

			stats, _ := f.reg.Stats(1)
			if stats.PendingIn != 0 {
				t.Errorf("PendingIn = %d, erroneous input kept", stats.PendingIn)
			}

			if !tt.disconnect {
				// The parser starts over on the next input.
				f.reg.AppendIncoming(1, []byte("GET /ok HTTP/1.1\r\n\r\n"))
				reqs := f.router.requests()
				if len(reqs) != 1 || reqs[0].URL != "/ok" {
					t.Errorf("routed %d requests after recovery", len(reqs))
				}
			}
		})
	}
}

func TestLayer_IncomingOverflowReportsTooLarge(t *testing.T) {
	handler := &errorRecorder{disconnect: true}
	f := newFixture(t, stream.Config{MaxIncoming: 32}, Config{Errors: handler})

	f.reg.AppendIncoming(1, []byte("GET / HTTP/1.1\r\nX-Slow: "))
	if ok := f.reg.AppendIncoming(1, []byte(strings.Repeat("v", 40))); ok {
		t.Fatal("AppendIncoming() past the bound succeeded")
	}

	if len(handler.errs) != 1 || !errors.Is(handler.errs[0], &ParseError{Kind: TooLarge}) {
		t.Fatalf("handler errors = %v, want one TooLarge", handler.errs)
	}
	if f.reg.IsConnected(1) {
		t.Error("connection still connected after overflow")
	}
}

func TestLayer_RouterAsErrorHandler(t *testing.T) {
	router := &handlingRouter{}
	f := newFixture(t, stream.Config{}, Config{Router: router})

	f.reg.AppendIncoming(1, []byte("\x00\x01\r\n"))

	if router.errors != 1 {
		t.Errorf("router saw %d parse errors, want 1", router.errors)
	}
	if !f.reg.IsConnected(1) {
		t.Error("connection disconnected although the handler kept it")
	}
}

type handlingRouter struct {
	errors int
}

func (h *handlingRouter) Route(stream.ID, *Request) {}

func (h *handlingRouter) OnParseError(stream.ID, *ParseError) bool {
	h.errors++
	return false
}

func TestLayer_ReconnectResetsFraming(t *testing.T) {
	f := newFixture(t, stream.Config{}, Config{})

	f.reg.AppendIncoming(1, []byte("GET /half HTTP/1.1\r\nHost: a"))
	if !f.layer.InMessage(1) {
		t.Fatal("InMessage() = false with a partial request")
	}

	if err := f.reg.Connect(1, 80); err != nil {
		t.Fatal(err)
	}
	if f.layer.InMessage(1) {
		t.Error("partial request survived a reconnect")
	}

	f.reg.AppendIncoming(1, []byte("GET /fresh HTTP/1.1\r\n\r\n"))
	reqs := f.router.requests()
	if len(reqs) != 1 || reqs[0].URL != "/fresh" {
		t.Errorf("routed %v", reqs)
	}
}

func TestRequest_KeepAlive(t *testing.T) {
	tests := []struct {
		name    string
		proto   string
		headers []Header
		want    bool
	}{
		{name: "1.1 default", proto: "HTTP/1.1", want: true},
		{name: "1.0 default", proto: "HTTP/1.0", want: false},
		{name: "1.1 close", proto: "HTTP/1.1", headers: []Header{{"Connection", "Close"}}, want: false},
		{name: "1.0 keep-alive", proto: "HTTP/1.0", headers: []Header{{"connection", "keep-alive"}}, want: true},
		{name: "token list", proto: "HTTP/1.1", headers: []Header{{"Connection", "upgrade, close"}}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &Request{Proto: tt.proto, Headers: tt.headers}
			if got := r.KeepAlive(); got != tt.want {
				t.Errorf("KeepAlive() = %t, want %t", got, tt.want)
			}
		})
	}
}

func TestRequest_CloneIsIndependent(t *testing.T) {
	r := &Request{Method: "PUT", Headers: []Header{{"A", "1"}}, Body: []byte("body")}
	c := r.Clone()

	r.Headers[0].Value = "changed"
	r.Body[0] = 'X'

	if c.Header("a") != "1" || string(c.Body) != "body" {
		t.Errorf("clone shares storage: header %q body %q", c.Header("a"), c.Body)
	}
	if r.Header("missing") != "" {
		t.Error("Header() of an absent field is not empty")
	}
}

func TestLimitsFromConfig(t *testing.T) {
	got := LimitsFromConfig(config.HTTPConfig{MaxHeaderBytes: 100, MaxBodyBytes: 200})
	if got.MaxHeaderBytes != 100 || got.MaxBodyBytes != 200 {
		t.Errorf("LimitsFromConfig() = %+v", got)
	}
}
