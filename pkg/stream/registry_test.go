package stream

import (
	"bytes"
	"errors"
	"sync"
	"testing"
	"time"

	"mercator-hq/callisto/pkg/config"
	"mercator-hq/callisto/pkg/telemetry/metrics"

	"github.com/prometheus/client_golang/prometheus"
)

// recordingStage consumes complete newline-terminated lines and records them.
type recordingStage struct {
	mu      sync.Mutex
	lines   []string
	opened  []ID
	closed  []ID
	aborted []error
	onLine  func(id ID, line string)
}

func (s *recordingStage) Feed(id ID, pending []byte) int {
	consumed := 0
	for {
		i := bytes.IndexByte(pending[consumed:], '\n')
		if i < 0 {
			return consumed
		}
		line := string(pending[consumed : consumed+i])
		consumed += i + 1
		s.mu.Lock()
		s.lines = append(s.lines, line)
		s.mu.Unlock()
		if s.onLine != nil {
			s.onLine(id, line)
		}
	}
}

func (s *recordingStage) Open(id ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.opened = append(s.opened, id)
}

func (s *recordingStage) Close(id ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = append(s.closed, id)
}

func (s *recordingStage) Abort(_ ID, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.aborted = append(s.aborted, err)
}

func newTestRegistry(t *testing.T, cfg Config) (*Registry, *recordingStage) {
	t.Helper()
	r := NewRegistry(cfg)
	st := &recordingStage{}
	r.SetStage(st)
	return r, st
}

func mustConnect(t *testing.T, r *Registry, ids ...ID) {
	t.Helper()
	for _, id := range ids {
		if err := r.Connect(id, 443); err != nil {
			t.Fatalf("Connect(%d) error = %v", id, err)
		}
	}
}

func TestRegistry_Connect(t *testing.T) {
	r, st := newTestRegistry(t, Config{})

	if err := r.Connect(Broadcast, 80); !errors.Is(err, ErrReservedID) {
		t.Errorf("Connect(0) error = %v, want ErrReservedID", err)
	}

	mustConnect(t, r, 1)
	c, ok := r.Lookup(1)
	if !ok {
		t.Fatal("connection 1 not found")
	}
	if c.State() != StateConnected || c.Port() != 443 {
		t.Errorf("state=%v port=%d", c.State(), c.Port())
	}
	first := c.Session()

	// Reconnecting a live id rebuilds the record and releases stage state.
	r.AppendOutgoing(1, []byte("stale"))
	mustConnect(t, r, 1)
	c2, _ := r.Lookup(1)
	if c2.Session() == first {
		t.Error("reconnect should assign a new session")
	}
	if _, ok := r.DrainOutgoing(1, 10); ok {
		t.Error("reconnect should clear outgoing bytes")
	}
	if len(st.closed) != 1 || len(st.opened) != 2 {
		t.Errorf("opened=%v closed=%v", st.opened, st.closed)
	}
}

func TestRegistry_AppendIncoming_PartialConsumption(t *testing.T) {
	r, st := newTestRegistry(t, Config{})
	mustConnect(t, r, 7)

	chunks := []string{"hel", "lo\nwor", "ld\n", "tail"}
	for _, chunk := range chunks {
		if !r.AppendIncoming(7, []byte(chunk)) {
			t.Fatalf("AppendIncoming(%q) = false", chunk)
		}
	}

	if got := st.lines; len(got) != 2 || got[0] != "hello" || got[1] != "world" {
		t.Errorf("lines = %q", got)
	}
	stats, _ := r.Stats(7)
	if stats.PendingIn != len("tail") {
		t.Errorf("PendingIn = %d, want 4", stats.PendingIn)
	}
}

func TestRegistry_AppendIncoming_Rejects(t *testing.T) {
	r, _ := newTestRegistry(t, Config{})

	if r.AppendIncoming(9, []byte("x")) {
		t.Error("unknown connection should return false")
	}

	mustConnect(t, r, 9)
	if err := r.Disconnect(9); err != nil {
		t.Fatal(err)
	}
	if r.AppendIncoming(9, []byte("x")) {
		t.Error("disconnected connection should return false")
	}
}

func TestRegistry_ConsumedClamped(t *testing.T) {
	r := NewRegistry(Config{})
	calls := 0
	r.SetStage(StageFunc(func(_ ID, pending []byte) int {
		calls++
		if calls == 1 {
			return -5
		}
		return len(pending) + 100
	}))
	mustConnect(t, r, 1)

	r.AppendIncoming(1, []byte("abc"))
	if s, _ := r.Stats(1); s.PendingIn != 3 {
		t.Errorf("negative consumption should keep bytes, PendingIn=%d", s.PendingIn)
	}
	r.AppendIncoming(1, []byte("d"))
	if s, _ := r.Stats(1); s.PendingIn != 0 {
		t.Errorf("over-consumption should clamp to all bytes, PendingIn=%d", s.PendingIn)
	}
}

func TestRegistry_DrainOutgoing_NeverExceedsCapacity(t *testing.T) {
	r, _ := newTestRegistry(t, Config{})
	mustConnect(t, r, 3)

	payload := []byte("0123456789abcdefghij")
	if err := r.AppendOutgoing(3, payload); err != nil {
		t.Fatal(err)
	}

	var got []byte
	for _, k := range []int{3, 1, 7, 100} {
		chunk, ok := r.DrainOutgoing(3, k)
		if !ok {
			t.Fatalf("DrainOutgoing(%d) = false with bytes pending", k)
		}
		if len(chunk) > k {
			t.Fatalf("DrainOutgoing(%d) returned %d bytes", k, len(chunk))
		}
		got = append(got, chunk...)
	}
	if !bytes.Equal(got, payload) {
		t.Errorf("drained %q, want %q", got, payload)
	}
	if _, ok := r.DrainOutgoing(3, 10); ok {
		t.Error("empty buffer should return false")
	}
}

func TestRegistry_DrainInto(t *testing.T) {
	r, _ := newTestRegistry(t, Config{})
	mustConnect(t, r, 3)
	r.AppendOutgoing(3, []byte("abcdef"))

	buf := make([]byte, 4)
	n, ok := r.DrainInto(3, buf)
	if !ok || n != 4 || string(buf[:n]) != "abcd" {
		t.Fatalf("DrainInto = %d, %v, %q", n, ok, buf[:n])
	}
	n, ok = r.DrainInto(3, buf)
	if !ok || string(buf[:n]) != "ef" {
		t.Fatalf("DrainInto = %d, %v, %q", n, ok, buf[:n])
	}
	if _, ok := r.DrainInto(3, buf); ok {
		t.Error("empty buffer should return false")
	}
	if _, ok := r.DrainInto(99, buf); ok {
		t.Error("unknown connection should return false")
	}
}

func TestRegistry_Broadcast(t *testing.T) {
	r, _ := newTestRegistry(t, Config{})
	mustConnect(t, r, 1, 2, 3)
	r.Disconnect(2)

	if err := r.AppendOutgoing(Broadcast, []byte("hi")); err != nil {
		t.Fatalf("broadcast error = %v", err)
	}

	for _, tc := range []struct {
		id   ID
		want bool
	}{{1, true}, {2, false}, {3, true}} {
		data, ok := r.DrainOutgoing(tc.id, 10)
		if ok != tc.want {
			t.Errorf("connection %d received=%v, want %v", tc.id, ok, tc.want)
		}
		if ok && string(data) != "hi" {
			t.Errorf("connection %d got %q", tc.id, data)
		}
	}

	// Connections added later are not part of an earlier broadcast.
	mustConnect(t, r, 4)
	if _, ok := r.DrainOutgoing(4, 10); ok {
		t.Error("late connection received an earlier broadcast")
	}
}

func TestRegistry_OutgoingOverflow(t *testing.T) {
	r, _ := newTestRegistry(t, Config{MaxOutgoing: 8})
	mustConnect(t, r, 1, 2)

	if err := r.AppendOutgoing(1, []byte("12345")); err != nil {
		t.Fatal(err)
	}
	err := r.AppendOutgoing(1, []byte("6789"))
	if !errors.Is(err, ErrOutgoingOverflow) {
		t.Fatalf("error = %v, want ErrOutgoingOverflow", err)
	}
	var cerr *ConnectionError
	if !errors.As(err, &cerr) || cerr.ID != 1 {
		t.Errorf("expected ConnectionError for 1, got %v", err)
	}
	if s, _ := r.Stats(1); s.PendingOut != 5 {
		t.Errorf("overflowing append must append nothing, PendingOut=%d", s.PendingOut)
	}

	// Broadcast still reaches the connection with room.
	err = r.AppendOutgoing(Broadcast, []byte("abcd"))
	if !errors.Is(err, ErrOutgoingOverflow) {
		t.Errorf("broadcast error = %v, want overflow from connection 1", err)
	}
	if data, _ := r.DrainOutgoing(2, 10); string(data) != "abcd" {
		t.Errorf("connection 2 got %q", data)
	}

	if err := r.AppendOutgoing(42, []byte("x")); !errors.Is(err, ErrUnknownConnection) {
		t.Errorf("unknown id error = %v", err)
	}
}

func TestRegistry_IncomingOverflow(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewCollector(&config.MetricsConfig{Enabled: true}, reg)
	r, st := newTestRegistry(t, Config{MaxIncoming: 8, Metrics: m})
	mustConnect(t, r, 1)

	if !r.AppendIncoming(1, []byte("partial")) {
		t.Fatal("first chunk should be accepted")
	}
	if r.AppendIncoming(1, []byte("overflow")) {
		t.Fatal("overflowing chunk should be rejected")
	}

	c, _ := r.Lookup(1)
	if c.State() != StateDisconnected {
		t.Error("overflow should disconnect the connection")
	}
	if len(st.aborted) != 1 || !errors.Is(st.aborted[0], ErrIncomingOverflow) {
		t.Errorf("aborted = %v", st.aborted)
	}
	if len(st.closed) != 1 {
		t.Errorf("closed = %v", st.closed)
	}
}

func TestRegistry_DisconnectThenDrain(t *testing.T) {
	r, st := newTestRegistry(t, Config{})
	mustConnect(t, r, 5)
	r.AppendIncoming(5, []byte("unterminated"))
	r.AppendOutgoing(5, []byte("lingering response"))

	if err := r.Disconnect(5); err != nil {
		t.Fatal(err)
	}
	if err := r.Disconnect(5); err != nil {
		t.Errorf("second Disconnect error = %v", err)
	}
	if len(st.closed) != 1 {
		t.Errorf("Close should run once, got %v", st.closed)
	}

	if s, _ := r.Stats(5); s.PendingIn != 0 || s.State != StateDisconnected {
		t.Errorf("stats after disconnect = %+v", s)
	}
	if r.AppendIncoming(5, []byte("more")) {
		t.Error("inbound after disconnect should return false")
	}
	if err := r.AppendOutgoing(5, []byte("x")); !errors.Is(err, ErrDisconnected) {
		t.Errorf("append after disconnect error = %v", err)
	}

	var got []byte
	for {
		chunk, ok := r.DrainOutgoing(5, 4)
		if !ok {
			break
		}
		got = append(got, chunk...)
	}
	if string(got) != "lingering response" {
		t.Errorf("drained %q", got)
	}

	if !r.Retire(5) {
		t.Error("Retire should report an existing record")
	}
	if r.Len() != 0 || r.Retire(5) {
		t.Error("record should be gone after Retire")
	}
	if err := r.Disconnect(5); !errors.Is(err, ErrUnknownConnection) {
		t.Errorf("Disconnect after Retire error = %v", err)
	}
}

func TestRegistry_DisconnectDuringFeed(t *testing.T) {
	r := NewRegistry(Config{})
	st := &recordingStage{}
	st.onLine = func(id ID, line string) {
		if line == "quit" {
			r.Send(id, []byte("bye\n"))
			r.Disconnect(id)
			st.mu.Lock()
			closedDuringFeed := len(st.closed)
			st.mu.Unlock()
			if closedDuringFeed != 0 {
				t.Error("Close must not run while Feed is in progress")
			}
		}
	}
	r.SetStage(st)
	mustConnect(t, r, 1)

	if !r.AppendIncoming(1, []byte("quit\nignored after quit\n")) {
		t.Fatal("AppendIncoming = false")
	}
	if len(st.closed) != 1 {
		t.Errorf("Close should run after Feed returns, closed=%v", st.closed)
	}
	if data, ok := r.DrainOutgoing(1, 64); !ok || string(data) != "bye\n" {
		t.Errorf("drained %q, %v", data, ok)
	}
}

func TestRegistry_SendFromFeed(t *testing.T) {
	r := NewRegistry(Config{})
	st := &recordingStage{}
	st.onLine = func(id ID, line string) {
		// Echo to everyone, including the sender.
		if err := r.Send(Broadcast, []byte(line)); err != nil {
			t.Errorf("broadcast from feed: %v", err)
		}
	}
	r.SetStage(st)
	mustConnect(t, r, 1, 2)

	r.AppendIncoming(1, []byte("ping\n"))
	for _, id := range []ID{1, 2} {
		if data, _ := r.DrainOutgoing(id, 16); string(data) != "ping" {
			t.Errorf("connection %d got %q", id, data)
		}
	}
}

func TestRegistry_ConcurrentConnections(t *testing.T) {
	r := NewRegistry(Config{})
	r.SetStage(Discard)

	const conns = 16
	var wg sync.WaitGroup
	for i := 1; i <= conns; i++ {
		id := ID(i)
		mustConnect(t, r, id)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				r.AppendIncoming(id, []byte("data"))
				r.AppendOutgoing(id, []byte("x"))
				r.DrainOutgoing(id, 1)
			}
		}()
	}
	wg.Wait()

	if got := len(r.Connected()); got != conns {
		t.Errorf("Connected() = %d, want %d", got, conns)
	}
}

func TestRegistry_Stalled(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	r, _ := newTestRegistry(t, Config{Now: func() time.Time { return now }})
	mustConnect(t, r, 1, 2, 3)

	r.AppendIncoming(1, []byte("partial"))    // held, becomes stale
	r.AppendIncoming(2, []byte("complete\n")) // consumed
	now = now.Add(time.Minute)
	r.AppendIncoming(3, []byte("fresh"))

	stalled := r.Stalled(30 * time.Second)
	if len(stalled) != 1 || stalled[0] != 1 {
		t.Errorf("Stalled = %v, want [1]", stalled)
	}
}

func TestRegistry_ConnectedOrder(t *testing.T) {
	r, _ := newTestRegistry(t, Config{})
	mustConnect(t, r, 9, 3, 5)
	got := r.Connected()
	want := []ID{3, 5, 9}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Connected() = %v, want %v", got, want)
		}
	}
}

func TestState_String(t *testing.T) {
	if StateConnected.String() != "connected" || StateDisconnected.String() != "disconnected" || State(0).String() != "unknown" {
		t.Error("unexpected State strings")
	}
}
