package stream

import (
	"bytes"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"mercator-hq/callisto/pkg/config"
	"mercator-hq/callisto/pkg/telemetry/metrics"
)

// ErrReservedID is returned when a driver tries to connect with Broadcast.
var ErrReservedID = errors.New("connection id 0 is reserved for broadcast")

// Aborter is implemented by stages that want to know why the registry is
// about to disconnect a connection on its own initiative. Abort runs while
// the connection is still Connected, so the stage may queue a final response.
type Aborter interface {
	Abort(id ID, err error)
}

// Config configures a Registry.
type Config struct {
	// MaxIncoming bounds unconsumed inbound bytes per connection. Zero or
	// negative disables the bound.
	MaxIncoming int

	// MaxOutgoing bounds queued outbound bytes per connection. Zero or
	// negative disables the bound.
	MaxOutgoing int

	// Metrics receives connection and byte counts. May be nil.
	Metrics *metrics.Collector

	// Logger defaults to the "stream.registry" component logger.
	Logger *slog.Logger

	// Now defaults to time.Now.
	Now func() time.Time
}

// FromConfig converts the stream section into a registry Config.
func FromConfig(cfg config.StreamConfig, m *metrics.Collector) Config {
	return Config{
		MaxIncoming: cfg.MaxIncomingBytes,
		MaxOutgoing: cfg.MaxOutgoingBytes,
		Metrics:     m,
	}
}

// Registry tracks driver connections and their incoming and outgoing byte
// buffers. The map lock only guards membership; every buffer operation takes
// the owning connection's lock.
type Registry struct {
	mu    sync.RWMutex
	conns map[ID]*Connection
	stage Stage

	maxIncoming int
	maxOutgoing int
	metrics     *metrics.Collector
	logger      *slog.Logger
	now         func() time.Time
}

// NewRegistry creates an empty registry. The stage receiving inbound bytes
// is installed with SetStage once the pipeline above the registry exists.
func NewRegistry(cfg Config) *Registry {
	r := &Registry{
		conns:       make(map[ID]*Connection),
		maxIncoming: cfg.MaxIncoming,
		maxOutgoing: cfg.MaxOutgoing,
		metrics:     cfg.Metrics,
		logger:      cfg.Logger,
		now:         cfg.Now,
	}
	if r.logger == nil {
		r.logger = slog.Default().With("component", "stream.registry")
	}
	if r.now == nil {
		r.now = time.Now
	}
	return r
}

// SetStage installs the stage fed by AppendIncoming. Until a stage is set,
// inbound bytes accumulate unconsumed.
func (r *Registry) SetStage(s Stage) {
	r.mu.Lock()
	r.stage = s
	r.mu.Unlock()
}

func (r *Registry) currentStage() Stage {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stage
}

func (r *Registry) lookup(id ID) *Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.conns[id]
}

// Connect creates or reinitialises the record for id with empty buffers in
// the Connected state. A record that was still Connected is disconnected
// first so stage state from the previous socket is released. Connect must
// not be called from a Stage.
func (r *Registry) Connect(id ID, port uint16) error {
	if id == Broadcast {
		return ErrReservedID
	}

	r.mu.Lock()
	prev := r.conns[id]
	c := newConnection(id, port, r.now())
	r.conns[id] = c
	r.mu.Unlock()

	if prev != nil {
		// Wait out a feed on the old record so its deferred Close cannot
		// land after Open for the new one.
		prev.feedMu.Lock()
		r.disconnect(prev)
		prev.feedMu.Unlock()
	}

	r.metrics.ConnectionOpened()
	r.logger.Debug("connection opened", "connection", id, "port", port, "session", c.session.String())

	if o, ok := r.currentStage().(Opener); ok {
		o.Open(id)
	}
	return nil
}

// Disconnect marks id Disconnected and clears its incoming bytes. Queued
// outgoing bytes stay drainable. If a feed is running on the connection the
// stage Closer runs when that feed returns; otherwise it runs before
// Disconnect returns. Disconnecting twice is a no-op.
func (r *Registry) Disconnect(id ID) error {
	c := r.lookup(id)
	if c == nil {
		return connErr(id, ErrUnknownConnection)
	}
	r.disconnect(c)
	return nil
}

func (r *Registry) disconnect(c *Connection) {
	c.mu.Lock()
	if c.state != StateConnected {
		c.mu.Unlock()
		return
	}
	c.state = StateDisconnected
	// A fresh buffer leaves any in-flight Feed holding the old backing
	// array, which stays valid until that Feed returns.
	c.incoming = bytes.Buffer{}
	c.generation++
	deferClose := c.feeding
	if deferClose {
		c.closePending = true
	}
	c.mu.Unlock()

	r.metrics.ConnectionClosed()
	r.logger.Debug("connection disconnected", "connection", c.id, "session", c.session.String())

	if !deferClose {
		r.closeStage(c.id)
	}
}

func (r *Registry) closeStage(id ID) {
	if cl, ok := r.currentStage().(Closer); ok {
		cl.Close(id)
	}
}

// Retire removes the record for id entirely, disconnecting it first if
// needed. It reports whether a record existed.
func (r *Registry) Retire(id ID) bool {
	c := r.lookup(id)
	if c == nil {
		return false
	}
	r.disconnect(c)

	r.mu.Lock()
	// A reconnect may have replaced the record meanwhile.
	if r.conns[id] == c {
		delete(r.conns, id)
	}
	r.mu.Unlock()

	r.metrics.ConnectionRetired()
	return true
}

// AppendIncoming appends data to the connection's incoming bytes and feeds
// everything unconsumed to the stage. It returns false, dropping data, when
// the connection is unknown or Disconnected, or when data would push the
// unconsumed bytes past the incoming bound; in the last case the stage is
// told through Aborter and the connection is disconnected.
//
// Stage.Feed must not call AppendIncoming for the same connection.
func (r *Registry) AppendIncoming(id ID, data []byte) bool {
	c := r.lookup(id)
	if c == nil {
		return false
	}

	c.feedMu.Lock()
	defer c.feedMu.Unlock()

	c.mu.Lock()
	if c.state != StateConnected {
		c.mu.Unlock()
		return false
	}
	if r.maxIncoming > 0 && c.incoming.Len()+len(data) > r.maxIncoming {
		pending := c.incoming.Len()
		c.mu.Unlock()
		r.overflowIncoming(c, pending, len(data))
		return false
	}
	c.incoming.Write(data)
	c.lastInbound = r.now()
	pending := c.incoming.Bytes()
	gen := c.generation
	c.feeding = true
	c.mu.Unlock()

	r.metrics.BytesIn(len(data))

	consumed := 0
	if stage := r.currentStage(); stage != nil {
		consumed = stage.Feed(id, pending)
	}
	if consumed < 0 {
		consumed = 0
	}
	if consumed > len(pending) {
		consumed = len(pending)
	}

	c.mu.Lock()
	if c.state == StateConnected && c.generation == gen {
		c.incoming.Next(consumed)
	}
	c.feeding = false
	runClose := c.closePending
	c.closePending = false
	c.mu.Unlock()

	if runClose {
		r.closeStage(id)
	}
	return true
}

func (r *Registry) overflowIncoming(c *Connection, pending, n int) {
	r.metrics.Overflow("incoming")
	r.logger.Warn("incoming buffer overflow, disconnecting",
		"connection", c.id,
		"pending", pending,
		"chunk", n,
		"limit", r.maxIncoming,
	)
	if a, ok := r.currentStage().(Aborter); ok {
		a.Abort(c.id, connErr(c.id, ErrIncomingOverflow))
	}
	r.disconnect(c)
}

// AppendOutgoing queues data on one connection, or on every connection
// Connected at call time when id is Broadcast. Broadcast attempts every
// target and returns the first error met.
func (r *Registry) AppendOutgoing(id ID, data []byte) error {
	if id == Broadcast {
		var first error
		for _, c := range r.connectedSnapshot() {
			if err := r.appendOutgoing(c, data); err != nil && first == nil {
				first = err
			}
		}
		return first
	}

	c := r.lookup(id)
	if c == nil {
		return connErr(id, ErrUnknownConnection)
	}
	return r.appendOutgoing(c, data)
}

func (r *Registry) appendOutgoing(c *Connection, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateConnected {
		return connErr(c.id, ErrDisconnected)
	}
	if len(data) == 0 {
		return nil
	}
	if r.maxOutgoing > 0 && c.outgoing.Len()+len(data) > r.maxOutgoing {
		r.metrics.Overflow("outgoing")
		return connErr(c.id, ErrOutgoingOverflow)
	}
	c.outgoing.Write(data)
	return nil
}

// Send implements Sender on top of AppendOutgoing.
func (r *Registry) Send(id ID, data []byte) error {
	return r.AppendOutgoing(id, data)
}

// DrainOutgoing removes and returns up to capacity bytes from the front of
// the connection's outgoing bytes. It returns false only when nothing is
// queued, whatever the connection state.
func (r *Registry) DrainOutgoing(id ID, capacity int) ([]byte, bool) {
	c := r.lookup(id)
	if c == nil {
		return nil, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	n := c.outgoing.Len()
	if n == 0 {
		return nil, false
	}
	if capacity <= 0 {
		return nil, true
	}
	if n > capacity {
		n = capacity
	}
	out := make([]byte, n)
	copy(out, c.outgoing.Next(n))
	r.metrics.BytesOut(n)
	return out, true
}

// DrainInto moves queued outgoing bytes into buf and returns how many were
// copied. ok is false only when nothing is queued.
func (r *Registry) DrainInto(id ID, buf []byte) (n int, ok bool) {
	c := r.lookup(id)
	if c == nil {
		return 0, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.outgoing.Len() == 0 {
		return 0, false
	}
	n, _ = c.outgoing.Read(buf)
	r.metrics.BytesOut(n)
	return n, true
}

// Lookup returns the record for id.
func (r *Registry) Lookup(id ID) (*Connection, bool) {
	c := r.lookup(id)
	return c, c != nil
}

// IsConnected reports whether id has a record in the Connected state.
func (r *Registry) IsConnected(id ID) bool {
	c := r.lookup(id)
	return c != nil && c.State() == StateConnected
}

// Stats returns a snapshot of the record for id.
func (r *Registry) Stats(id ID) (Stats, bool) {
	c := r.lookup(id)
	if c == nil {
		return Stats{}, false
	}
	return c.stats(), true
}

// Connected returns the ids of all Connected records in ascending order.
func (r *Registry) Connected() []ID {
	conns := r.connectedSnapshot()
	ids := make([]ID, len(conns))
	for i, c := range conns {
		ids[i] = c.id
	}
	return ids
}

func (r *Registry) connectedSnapshot() []*Connection {
	r.mu.RLock()
	all := make([]*Connection, 0, len(r.conns))
	for _, c := range r.conns {
		all = append(all, c)
	}
	r.mu.RUnlock()

	connected := all[:0]
	for _, c := range all {
		if c.State() == StateConnected {
			connected = append(connected, c)
		}
	}
	sort.Slice(connected, func(i, j int) bool { return connected[i].id < connected[j].id })
	return connected
}

// Len returns the number of records, Connected or not.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Stalled returns Connected connections holding unconsumed inbound bytes
// that have received nothing for at least olderThan.
func (r *Registry) Stalled(olderThan time.Duration) []ID {
	cutoff := r.now().Add(-olderThan)
	var ids []ID
	for _, c := range r.connectedSnapshot() {
		c.mu.Lock()
		stalled := c.state == StateConnected && c.incoming.Len() > 0 && !c.lastInbound.After(cutoff)
		c.mu.Unlock()
		if stalled {
			ids = append(ids, c.id)
		}
	}
	return ids
}
