package tlssession

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"mercator-hq/callisto/internal/testutil"
	"mercator-hq/callisto/pkg/config"
	sectls "mercator-hq/callisto/pkg/security/tls"
	"mercator-hq/callisto/pkg/stream"
	"mercator-hq/callisto/pkg/telemetry/metrics"

	"github.com/prometheus/client_golang/prometheus"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
)

type fixture struct {
	reg   *stream.Registry
	layer *Layer
	rec   *testutil.Recorder
	prom  *prometheus.Registry
}

// newFixture wires registry -> layer -> recorder. The recorder echoes every
// chunk back through the layer prefixed with "echo:".
func newFixture(t *testing.T) *fixture {
	t.Helper()
	prom := prometheus.NewRegistry()
	m := metrics.NewCollector(&config.MetricsConfig{Enabled: true, Namespace: "test", Subsystem: "pipeline"}, prom)

	reg := stream.NewRegistry(stream.Config{MaxOutgoing: 1 << 20, Metrics: m})
	layer, err := NewLayer(Config{
		Identity:  testutil.Identity(t),
		Engine:    sectls.EngineConfig{NextProtos: []string{"http/1.1"}},
		Transport: reg,
		Metrics:   m,
	})
	if err != nil {
		t.Fatalf("NewLayer() error = %v", err)
	}

	rec := testutil.NewRecorder()
	rec.OnFeed = func(id stream.ID, data []byte) {
		_ = layer.Send(id, append([]byte("echo:"), data...))
	}
	layer.SetUpper(rec)
	reg.SetStage(layer)

	t.Cleanup(func() {
		for _, id := range reg.Connected() {
			_ = reg.Disconnect(id)
		}
	})
	return &fixture{reg: reg, layer: layer, rec: rec, prom: prom}
}

func (f *fixture) connect(t *testing.T, id stream.ID) *testutil.TLSPeer {
	t.Helper()
	if err := f.reg.Connect(id, 443); err != nil {
		t.Fatalf("Connect(%d) error = %v", id, err)
	}
	return testutil.NewTLSPeer(t, f.reg, id, testutil.ClientConfig(testutil.Identity(t)))
}

func TestNewLayer_RequiresIdentity(t *testing.T) {
	reg := stream.NewRegistry(stream.Config{})
	if _, err := NewLayer(Config{Transport: reg}); !errors.Is(err, ErrNoIdentity) {
		t.Errorf("error = %v, want ErrNoIdentity", err)
	}
	if _, err := NewLayer(Config{Identity: testutil.Identity(t)}); err == nil {
		t.Error("expected error without transport")
	}
	_, err := NewLayer(Config{
		Identity:  testutil.Identity(t),
		Engine:    sectls.EngineConfig{MinVersion: "1.1"},
		Transport: reg,
	})
	if err == nil {
		t.Error("expected error for TLS 1.1")
	}
}

func TestLayer_RoundTrip(t *testing.T) {
	f := newFixture(t)
	peer := f.connect(t, 1)

	s, ok := f.layer.Session(1)
	if !ok {
		t.Fatal("no session after connect")
	}
	if s.State() != StateHandshaking {
		t.Fatalf("state = %v, want handshaking", s.State())
	}

	if err := peer.Handshake(); err != nil {
		t.Fatalf("client handshake: %v", err)
	}
	if s.State() != StateEstablished {
		t.Fatalf("state = %v, want established", s.State())
	}
	if s.Handshakes() != 1 {
		t.Errorf("Handshakes() = %d, want 1", s.Handshakes())
	}
	if got := f.rec.Data(1); len(got) != 0 {
		t.Errorf("upper stage saw %q during handshake", got)
	}
	if cs, ok := s.ConnectionState(); !ok || cs.NegotiatedProtocol != "http/1.1" {
		t.Errorf("negotiated protocol = %q, ok = %v", cs.NegotiatedProtocol, ok)
	}

	peer.Write([]byte("hello"))
	if got := string(f.rec.Data(1)); got != "hello" {
		t.Errorf("plaintext upward = %q, want hello", got)
	}
	peer.ReadUntil([]byte("echo:hello"))

	peer.Write([]byte(" world"))
	if got := string(f.rec.Data(1)); got != "hello world" {
		t.Errorf("plaintext upward = %q, want %q", got, "hello world")
	}
	peer.ReadUntil([]byte("echo: world"))

	if s.Handshakes() != 1 {
		t.Errorf("Handshakes() after data = %d, want 1", s.Handshakes())
	}

	want := `
# HELP test_pipeline_tls_sessions_active Number of live TLS sessions
# TYPE test_pipeline_tls_sessions_active gauge
test_pipeline_tls_sessions_active 1
`
	if err := promtest.GatherAndCompare(f.prom, strings.NewReader(want), "test_pipeline_tls_sessions_active"); err != nil {
		t.Error(err)
	}
}

func TestLayer_SendBeforeEstablished(t *testing.T) {
	f := newFixture(t)
	f.connect(t, 7)

	err := f.layer.Send(7, []byte("too early"))
	if !errors.Is(err, ErrNotEstablished) {
		t.Errorf("Send() error = %v, want ErrNotEstablished", err)
	}
	if err := f.layer.Send(99, []byte("nobody")); !errors.Is(err, ErrNotEstablished) {
		t.Errorf("Send(unknown) error = %v, want ErrNotEstablished", err)
	}
	if _, ok := f.reg.DrainOutgoing(7, 1024); ok {
		t.Error("bytes queued for a handshaking session")
	}
}

func TestLayer_BroadcastSkipsHandshaking(t *testing.T) {
	f := newFixture(t)
	a := f.connect(t, 1)
	b := f.connect(t, 2)
	f.connect(t, 3) // never handshakes

	if err := a.Handshake(); err != nil {
		t.Fatalf("handshake a: %v", err)
	}
	if err := b.Handshake(); err != nil {
		t.Fatalf("handshake b: %v", err)
	}

	if err := f.layer.Send(stream.Broadcast, []byte("to all")); err != nil {
		t.Fatalf("broadcast error = %v", err)
	}
	a.ReadUntil([]byte("to all"))
	b.ReadUntil([]byte("to all"))
	if _, ok := f.reg.DrainOutgoing(3, 1024); ok {
		t.Error("broadcast reached a handshaking session")
	}
}

func TestLayer_ResetOnCloseNotify(t *testing.T) {
	f := newFixture(t)
	peer := f.connect(t, 4)
	if err := peer.Handshake(); err != nil {
		t.Fatalf("handshake: %v", err)
	}
	s, _ := f.layer.Session(4)

	peer.CloseWrite()

	if s.State() != StateHandshaking {
		t.Fatalf("state after close_notify = %v, want handshaking", s.State())
	}
	if s.Resets() != 1 {
		t.Errorf("Resets() = %d, want 1", s.Resets())
	}
	if st, _ := f.reg.Stats(4); st.State != stream.StateConnected {
		t.Errorf("connection state = %v, want connected", st.State)
	}
	if f.rec.Closes(4) != 1 || f.rec.Opens(4) != 2 {
		t.Errorf("upper closes/opens = %d/%d, want 1/2", f.rec.Closes(4), f.rec.Opens(4))
	}

	// Same connection, fresh handshake against the same identity.
	_ = testutil.DrainAll(f.reg, 4)
	again := testutil.NewTLSPeer(t, f.reg, 4, testutil.ClientConfig(testutil.Identity(t)))
	if err := again.Handshake(); err != nil {
		t.Fatalf("second handshake: %v", err)
	}
	if s.State() != StateEstablished || s.Handshakes() != 2 {
		t.Errorf("state = %v handshakes = %d, want established/2", s.State(), s.Handshakes())
	}
	again.Write([]byte("after reset"))
	again.ReadUntil([]byte("echo:after reset"))

	want := `
# HELP test_pipeline_tls_resets_total Sessions rebuilt after the peer sent close_notify
# TYPE test_pipeline_tls_resets_total counter
test_pipeline_tls_resets_total 1
`
	if err := promtest.GatherAndCompare(f.prom, strings.NewReader(want), "test_pipeline_tls_resets_total"); err != nil {
		t.Error(err)
	}
}

func TestLayer_HandshakeFailure(t *testing.T) {
	f := newFixture(t)
	if err := f.reg.Connect(5, 443); err != nil {
		t.Fatal(err)
	}

	if !f.reg.AppendIncoming(5, []byte("GET / HTTP/1.1\r\nHost: x\r\n\r\n")) {
		t.Fatal("AppendIncoming() = false")
	}
	s, _ := f.layer.Session(5)
	if s.State() != StateFailed {
		t.Fatalf("state = %v, want failed", s.State())
	}
	if !errors.Is(s.Err(), ErrHandshake) {
		t.Errorf("Err() = %v, want ErrHandshake", s.Err())
	}
	if got := f.rec.Data(5); len(got) != 0 {
		t.Errorf("upper stage saw %q", got)
	}

	// The next bytes start a fresh handshake.
	_ = testutil.DrainAll(f.reg, 5)
	peer := testutil.NewTLSPeer(t, f.reg, 5, testutil.ClientConfig(testutil.Identity(t)))
	if err := peer.Handshake(); err != nil {
		t.Fatalf("handshake after failure: %v", err)
	}
	if s.State() != StateEstablished {
		t.Errorf("state = %v, want established", s.State())
	}
}

func TestLayer_DisconnectClosesSession(t *testing.T) {
	f := newFixture(t)
	peer := f.connect(t, 6)
	if err := peer.Handshake(); err != nil {
		t.Fatal(err)
	}
	s, _ := f.layer.Session(6)

	if err := f.reg.Disconnect(6); err != nil {
		t.Fatal(err)
	}
	if s.State() != StateClosed {
		t.Errorf("state = %v, want closed", s.State())
	}
	if _, ok := f.layer.Session(6); ok {
		t.Error("session still registered after disconnect")
	}
	if f.rec.Closes(6) != 1 {
		t.Errorf("upper closes = %d, want 1", f.rec.Closes(6))
	}
	if f.layer.Len() != 0 {
		t.Errorf("Len() = %d, want 0", f.layer.Len())
	}
}

func TestLayer_OverflowAbortSendsCloseNotify(t *testing.T) {
	prom := prometheus.NewRegistry()
	m := metrics.NewCollector(&config.MetricsConfig{Enabled: true, Namespace: "test", Subsystem: "pipeline"}, prom)
	reg := stream.NewRegistry(stream.Config{Metrics: m})
	layer, err := NewLayer(Config{
		Identity:     testutil.Identity(t),
		Transport:    reg,
		MaxPlaintext: 8,
		Metrics:      m,
	})
	if err != nil {
		t.Fatal(err)
	}

	// Consumes nothing so plaintext piles up.
	hold := stream.StageFunc(func(stream.ID, []byte) int { return 0 })
	layer.SetUpper(hold)
	reg.SetStage(layer)

	if err := reg.Connect(1, 443); err != nil {
		t.Fatal(err)
	}
	peer := testutil.NewTLSPeer(t, reg, 1, testutil.ClientConfig(testutil.Identity(t)))
	if err := peer.Handshake(); err != nil {
		t.Fatal(err)
	}

	peer.Write([]byte("12345"))
	if st, _ := reg.Stats(1); st.State != stream.StateConnected {
		t.Fatalf("disconnected below the bound")
	}
	peer.Write([]byte("67890"))
	if st, _ := reg.Stats(1); st.State != stream.StateDisconnected {
		t.Errorf("state = %v, want disconnected after plaintext overflow", st.State)
	}
}

func TestLayer_StalledHandshakes(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	reg := stream.NewRegistry(stream.Config{})
	layer, err := NewLayer(Config{
		Identity:  testutil.Identity(t),
		Transport: reg,
		Now:       func() time.Time { return now },
	})
	if err != nil {
		t.Fatal(err)
	}
	reg.SetStage(layer)
	if err := reg.Connect(1, 443); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = reg.Disconnect(1) })

	if ids := layer.StalledHandshakes(time.Minute); len(ids) != 0 {
		t.Errorf("StalledHandshakes() = %v, want none", ids)
	}
	now = now.Add(2 * time.Minute)
	if ids := layer.StalledHandshakes(time.Minute); len(ids) != 1 || ids[0] != 1 {
		t.Errorf("StalledHandshakes() = %v, want [1]", ids)
	}
}

func TestLayer_SetIdentity(t *testing.T) {
	f := newFixture(t)
	next, err := sectls.GenerateSelfSigned(sectls.GenerateOptions{Hostname: testutil.Hostname, Organization: "Rotated"})
	if err != nil {
		t.Fatal(err)
	}

	if err := f.layer.SetIdentity(next); err != nil {
		t.Fatalf("SetIdentity() error = %v", err)
	}
	if f.layer.Identity() != next {
		t.Fatal("Identity() not updated")
	}

	if err := f.reg.Connect(1, 443); err != nil {
		t.Fatal(err)
	}
	peer := testutil.NewTLSPeer(t, f.reg, 1, testutil.ClientConfig(next))
	if err := peer.Handshake(); err != nil {
		t.Fatalf("handshake with rotated identity: %v", err)
	}
	cs := peer.Conn().ConnectionState()
	if len(cs.PeerCertificates) == 0 || !bytes.Equal(cs.PeerCertificates[0].Raw, next.Leaf().Raw) {
		t.Error("server did not present the rotated certificate")
	}
}
