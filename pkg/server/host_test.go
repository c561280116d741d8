package server

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"mercator-hq/callisto/internal/testutil"
	"mercator-hq/callisto/pkg/config"
	"mercator-hq/callisto/pkg/dispatch"
	"mercator-hq/callisto/pkg/httpsession"
	"mercator-hq/callisto/pkg/stream"
	"mercator-hq/callisto/pkg/telemetry/metrics"
	"mercator-hq/callisto/pkg/telemetry/tracing"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.NewDefault()
	cfg.Server.Hostname = testutil.Hostname
	return cfg
}

func newTestHost(t *testing.T, cfg *config.Config, opts Options) (*Host, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	opts.Config = cfg
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewCollector(&config.MetricsConfig{Enabled: true, Namespace: "test", Subsystem: "pipeline"}, reg)
	}
	if opts.Tracer == nil {
		opts.Tracer = tracing.Noop()
	}
	h, err := NewHost(opts)
	if err != nil {
		t.Fatalf("NewHost() error = %v", err)
	}
	t.Cleanup(func() { _ = h.Stop(context.Background()) })
	return h, reg
}

// echoURL answers every GET with its URL.
func echoURL(h *Host) dispatch.Handler {
	return dispatch.HandlerFunc(func(_ context.Context, id stream.ID, req *httpsession.Request) error {
		return dispatch.Reply(h, id, 200, []byte(req.URL))
	})
}

func poll(h *Host, id stream.ID) string {
	var out strings.Builder
	buf := make([]byte, 7)
	for {
		n := h.OnOutboundPoll(id, buf)
		if n == 0 {
			return out.String()
		}
		out.Write(buf[:n])
	}
}

func TestHost_PlainHTTP(t *testing.T) {
	h, reg := newTestHost(t, testConfig(t), Options{})
	if err := h.Handle("GET", echoURL(h)); err != nil {
		t.Fatal(err)
	}
	if want := CapBase | CapStream | CapHTTP; h.Capabilities() != want {
		t.Errorf("Capabilities() = %v, want %v", h.Capabilities(), want)
	}

	if err := h.OnConnect(7, 80); err != nil {
		t.Fatal(err)
	}
	if !h.OnInboundBytes(7, []byte("GET /hello HTTP/1.1\r\nHost: callisto.test\r\n\r\n")) {
		t.Fatal("OnInboundBytes() = false")
	}

	want := "HTTP/1.1 200 OK\r\nContent-Length: 6\r\n\r\n/hello"
	if got := poll(h, 7); got != want {
		t.Errorf("output = %q, want %q", got, want)
	}

	h.OnDisconnect(7)
	if h.OnInboundBytes(7, []byte("GET / HTTP/1.1\r\n\r\n")) {
		t.Error("inbound bytes accepted after disconnect")
	}
	h.Retire(7)
	if h.Registry().Len() != 0 {
		t.Error("record kept after Retire")
	}

	expected := `
		# HELP test_pipeline_http_requests_parsed_total Complete HTTP requests framed from connection input
		# TYPE test_pipeline_http_requests_parsed_total counter
		test_pipeline_http_requests_parsed_total 1
	`
	if err := promtest.GatherAndCompare(reg, strings.NewReader(expected), "test_pipeline_http_requests_parsed_total"); err != nil {
		t.Error(err)
	}
}

func TestHost_NilBuffers(t *testing.T) {
	h, _ := newTestHost(t, testConfig(t), Options{})
	_ = h.OnConnect(1, 80)
	_ = h.Send(1, []byte("queued"))

	if h.OnInboundBytes(1, nil) {
		t.Error("OnInboundBytes(nil) = true")
	}
	if n := h.OnOutboundPoll(1, nil); n != 0 {
		t.Errorf("OnOutboundPoll(nil) = %d", n)
	}
	if got := poll(h, 1); got != "queued" {
		t.Errorf("output = %q after nil poll", got)
	}
	if n := h.OnOutboundPoll(99, make([]byte, 8)); n != 0 {
		t.Errorf("OnOutboundPoll(unknown) = %d", n)
	}
}

func TestHost_TLS(t *testing.T) {
	cfg := testConfig(t)
	cfg.TLS.Enabled = true
	id := testutil.Identity(t)

	h, _ := newTestHost(t, cfg, Options{Identity: id})
	if err := h.Handle("GET", echoURL(h)); err != nil {
		t.Fatal(err)
	}
	if !h.Capabilities().Has(CapTLS | CapHTTP) {
		t.Fatalf("Capabilities() = %v", h.Capabilities())
	}

	if err := h.OnConnect(1, 443); err != nil {
		t.Fatal(err)
	}
	peer := testutil.NewTLSPeer(t, h.Registry(), 1, testutil.ClientConfig(id))
	if err := peer.Handshake(); err != nil {
		t.Fatalf("handshake: %v", err)
	}
	peer.Write([]byte("GET /secure HTTP/1.1\r\nHost: callisto.test\r\n\r\n"))

	got := peer.ReadUntil([]byte("/secure"))
	if !strings.HasPrefix(string(got), "HTTP/1.1 200 OK\r\n") {
		t.Errorf("response = %q", got)
	}

	if days := h.CheckIdentity(); days < 364 {
		t.Errorf("CheckIdentity() = %d days", days)
	}
}

func TestHost_TLSWithoutIdentityServesPlaintext(t *testing.T) {
	cfg := testConfig(t)
	cfg.TLS.Enabled = true
	cfg.TLS.Mode = "file"
	cfg.TLS.CertFile = filepath.Join(t.TempDir(), "missing.crt")
	cfg.TLS.KeyFile = filepath.Join(t.TempDir(), "missing.key")

	h, _ := newTestHost(t, cfg, Options{})
	if h.Capabilities().Has(CapTLS) {
		t.Error("TLS capability set without an identity")
	}
	if h.TLS() != nil {
		t.Error("TLS layer built without an identity")
	}
	if h.CheckIdentity() != -1 {
		t.Error("CheckIdentity() without TLS")
	}
}

func TestHost_RawMode(t *testing.T) {
	cfg := testConfig(t)
	cfg.HTTP.Enabled = false

	if _, err := NewHost(Options{Config: cfg, Tracer: tracing.Noop()}); err == nil {
		t.Error("NewHost() without a raw stage succeeded")
	}

	rec := testutil.NewRecorder()
	h, _ := newTestHost(t, cfg, Options{Raw: rec})
	if h.Dispatcher() != nil {
		t.Error("dispatcher built in raw mode")
	}
	if err := h.Handle("GET", echoURL(h)); err == nil {
		t.Error("Handle() succeeded in raw mode")
	}

	_ = h.OnConnect(3, 9000)
	h.OnInboundBytes(3, []byte("not http"))
	if string(rec.Data(3)) != "not http" {
		t.Errorf("raw stage got %q", rec.Data(3))
	}
	if rec.Opens(3) != 1 {
		t.Errorf("raw stage opened %d times", rec.Opens(3))
	}
}

func TestHost_ConfigErrors(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{name: "parse error policy", mutate: func(c *config.Config) { c.HTTP.ParseErrorPolicy = "ignore" }},
		{name: "journal backend", mutate: func(c *config.Config) { c.Journal.Enabled = true; c.Journal.Backend = "redis" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			tt.mutate(cfg)
			if _, err := NewHost(Options{Config: cfg, Tracer: tracing.Noop()}); err == nil {
				t.Error("NewHost() succeeded")
			}
		})
	}
	if _, err := NewHost(Options{}); err == nil {
		t.Error("NewHost() without config succeeded")
	}
}

func TestHost_Journal(t *testing.T) {
	cfg := testConfig(t)
	cfg.Journal.Enabled = true
	cfg.Journal.Backend = "sqlite"
	cfg.Journal.SQLite.Path = filepath.Join(t.TempDir(), "journal.db")

	h, _ := newTestHost(t, cfg, Options{})
	_ = h.Handle("GET", echoURL(h))
	_ = h.OnConnect(1, 80)
	h.OnInboundBytes(1, []byte("GET /a HTTP/1.1\r\nAuthorization: Bearer x\r\n\r\nDELETE /b HTTP/1.1\r\n\r\n"))

	entries, err := h.Journal().Store().Query(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("journal has %d entries, want 2", len(entries))
	}
	if !entries[0].Dispatched || entries[1].Dispatched {
		t.Errorf("dispatched = %t, %t", entries[0].Dispatched, entries[1].Dispatched)
	}
	if entries[0].Headers[0].Value != "[REDACTED]" {
		t.Errorf("authorization journaled as %q", entries[0].Headers[0].Value)
	}
}

func TestHost_Health(t *testing.T) {
	plain, _ := newTestHost(t, testConfig(t), Options{})
	if plain.Health().Len() != 0 || !plain.Health().Check(context.Background()).Ready() {
		t.Error("plain host should be ready with no checks")
	}

	cfg := testConfig(t)
	cfg.TLS.Enabled = true
	cfg.Journal.Enabled = true
	cfg.Journal.Backend = "sqlite"
	cfg.Journal.SQLite.Path = filepath.Join(t.TempDir(), "journal.db")
	h, _ := newTestHost(t, cfg, Options{Identity: testutil.Identity(t)})

	report := h.Health().Check(context.Background())
	if !report.Ready() {
		t.Fatalf("report = %+v", report)
	}
	if got := strings.Join(report.Names(), ","); got != "journal,tls_identity" {
		t.Errorf("checks = %s", got)
	}

	if err := h.Stop(context.Background()); err != nil {
		t.Fatal(err)
	}
	report = h.Health().Check(context.Background())
	if report.Ready() || report.Checks["journal"].Status != "unhealthy" {
		t.Errorf("closed journal reported %+v", report.Checks["journal"])
	}
}

func TestHost_SweepStalled(t *testing.T) {
	cfg := testConfig(t)
	cfg.HTTP.StallTimeout = time.Millisecond

	h, reg := newTestHost(t, cfg, Options{})
	_ = h.OnConnect(1, 80)
	_ = h.OnConnect(2, 80)
	h.OnInboundBytes(1, []byte("GET /slow HT"))
	h.OnInboundBytes(2, []byte("GET / HTTP/1.1\r\n\r\n"))

	time.Sleep(10 * time.Millisecond)
	if n := h.SweepStalled(); n != 1 {
		t.Fatalf("SweepStalled() = %d, want 1", n)
	}
	if h.Registry().IsConnected(1) {
		t.Error("stalled connection still connected")
	}
	if !h.Registry().IsConnected(2) {
		t.Error("idle connection without partial input was swept")
	}

	expected := `
		# HELP test_pipeline_stalled_disconnects_total Connections disconnected for holding partial input too long
		# TYPE test_pipeline_stalled_disconnects_total counter
		test_pipeline_stalled_disconnects_total 1
	`
	if err := promtest.GatherAndCompare(reg, strings.NewReader(expected), "test_pipeline_stalled_disconnects_total"); err != nil {
		t.Error(err)
	}
}

func TestHost_StartStop(t *testing.T) {
	cfg := testConfig(t)
	cfg.HTTP.StallTimeout = time.Minute
	cfg.Journal.Enabled = true

	h, _ := newTestHost(t, cfg, Options{})
	ctx := context.Background()
	if err := h.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := h.Start(ctx); err == nil {
		t.Error("second Start() succeeded")
	}
	if err := h.Stop(ctx); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
	// Driver calls keep working after Stop.
	if err := h.OnConnect(1, 80); err != nil {
		t.Error(err)
	}
}

func TestHost_StartSchedulesSweep(t *testing.T) {
	tests := []struct {
		name      string
		stall     time.Duration
		handshake time.Duration
		tls       bool
		want      int
	}{
		{name: "no timeouts", tls: true, want: 0},
		{name: "stall timeout", stall: time.Minute, want: 1},
		{name: "handshake timeout only", handshake: time.Minute, tls: true, want: 1},
		{name: "handshake timeout without tls", handshake: time.Minute, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t)
			cfg.HTTP.StallTimeout = tt.stall
			cfg.TLS.HandshakeTimeout = tt.handshake
			cfg.TLS.ExpiryCheckSchedule = ""
			opts := Options{}
			if tt.tls {
				cfg.TLS.Enabled = true
				opts.Identity = testutil.Identity(t)
			}

			h, _ := newTestHost(t, cfg, opts)
			if err := h.Start(context.Background()); err != nil {
				t.Fatalf("Start() error = %v", err)
			}
			h.mu.Lock()
			got := len(h.cron.Entries())
			h.mu.Unlock()
			if got != tt.want {
				t.Errorf("cron entries = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestHost_StartRejectsBadSchedule(t *testing.T) {
	cfg := testConfig(t)
	cfg.HTTP.StallTimeout = time.Minute
	cfg.HTTP.StallSweepSchedule = "every so often"

	h, _ := newTestHost(t, cfg, Options{})
	if err := h.Start(context.Background()); err == nil {
		t.Error("Start() accepted an invalid schedule")
	}
}

func TestNew_SelectsByMode(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.Mode = "datagram"
	s, err := New(Options{Config: cfg})
	if err != nil {
		t.Fatal(err)
	}
	ps, ok := s.(PacketServer)
	if !ok {
		t.Fatalf("New() = %T, want a PacketServer", s)
	}
	if s.Capabilities() != CapBase|CapDatagram {
		t.Errorf("Capabilities() = %v", s.Capabilities())
	}
	if _, _, ok := ps.OnPacketRead(make([]byte, 4)); ok {
		t.Error("empty packet server returned a packet")
	}

	cfg = testConfig(t)
	s, err = New(Options{Config: cfg, Tracer: tracing.Noop()})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := s.(StreamServer); !ok {
		t.Errorf("New() = %T, want a StreamServer", s)
	}
}

func TestStaticFactory(t *testing.T) {
	h, _ := newTestHost(t, testConfig(t), Options{})
	f := StaticFactory{testutil.Hostname: h}

	s, err := f.Create(testutil.Hostname, 1)
	if err != nil || s != Server(h) {
		t.Errorf("Create(%q) = %v, %v", testutil.Hostname, s, err)
	}
	if _, err := f.Create("other.test", 1); !errors.Is(err, ErrNoHandler) {
		t.Errorf("Create(other) error = %v, want ErrNoHandler", err)
	}

	var asked string
	ff := FactoryFunc(func(hostname string, _ stream.ID) (Server, error) {
		asked = hostname
		return nil, ErrNoHandler
	})
	if _, err := ff.Create("x.test", 2); !errors.Is(err, ErrNoHandler) || asked != "x.test" {
		t.Errorf("FactoryFunc.Create() = %v, asked %q", err, asked)
	}
}

func TestCapability_String(t *testing.T) {
	tests := []struct {
		caps Capability
		want string
	}{
		{0, "none"},
		{CapBase | CapStream, "base|stream"},
		{CapBase | CapStream | CapTLS | CapHTTP, "base|stream|tls|http"},
		{CapBase | CapDatagram, "base|datagram"},
	}
	for _, tt := range tests {
		if got := tt.caps.String(); got != tt.want {
			t.Errorf("%d.String() = %q, want %q", uint32(tt.caps), got, tt.want)
		}
	}
}
