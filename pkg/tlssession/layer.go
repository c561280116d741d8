package tlssession

import (
	"context"
	"crypto/rand"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	sectls "mercator-hq/callisto/pkg/security/tls"
	"mercator-hq/callisto/pkg/stream"
	"mercator-hq/callisto/pkg/telemetry/metrics"
)

// Transport is the part of the connection registry the layer writes
// ciphertext to.
type Transport interface {
	AppendOutgoing(id stream.ID, data []byte) error
	Disconnect(id stream.ID) error
	Connected() []stream.ID
}

// Config configures a Layer.
type Config struct {
	Identity *sectls.Identity
	Engine   sectls.EngineConfig

	// Transport receives handshake records and encrypted application data.
	Transport Transport

	// Upper receives decrypted plaintext. It may also be set later with
	// SetUpper, which is needed when the upper stage sends through the
	// layer.
	Upper stream.Stage

	// MaxPlaintext bounds decrypted bytes the upper stage has not consumed.
	// Zero or negative disables the bound.
	MaxPlaintext int

	Metrics *metrics.Collector
	Logger  *slog.Logger
	Now     func() time.Time
}

// Layer terminates TLS for every connection of a registry. It is a
// stream.Stage below and a stream.Sender above.
type Layer struct {
	transport    Transport
	engineCfg    sectls.EngineConfig
	maxPlaintext int
	metrics      *metrics.Collector
	logger       *slog.Logger
	now          func() time.Time

	tlsConfig atomic.Pointer[tls.Config]
	identity  atomic.Pointer[sectls.Identity]
	ticketKey [32]byte

	mu       sync.RWMutex
	sessions map[stream.ID]*Session
	upper    stream.Stage
}

// NewLayer builds a layer presenting cfg.Identity. It returns ErrNoIdentity
// when no identity is given.
func NewLayer(cfg Config) (*Layer, error) {
	if cfg.Identity == nil {
		return nil, ErrNoIdentity
	}
	if cfg.Transport == nil {
		return nil, errors.New("tls layer requires a transport")
	}

	l := &Layer{
		transport:    cfg.Transport,
		engineCfg:    cfg.Engine,
		maxPlaintext: cfg.MaxPlaintext,
		metrics:      cfg.Metrics,
		logger:       cfg.Logger,
		now:          cfg.Now,
		sessions:     make(map[stream.ID]*Session),
		upper:        cfg.Upper,
	}
	if l.logger == nil {
		l.logger = slog.Default().With("component", "tlssession.layer")
	}
	if l.now == nil {
		l.now = time.Now
	}
	// One ticket key for the layer's lifetime so tickets issued before a
	// reset or identity swap still resume.
	if _, err := rand.Read(l.ticketKey[:]); err != nil {
		return nil, fmt.Errorf("failed to generate session ticket key: %w", err)
	}
	if err := l.SetIdentity(cfg.Identity); err != nil {
		return nil, err
	}
	return l, nil
}

// SetIdentity switches the identity presented by sessions opened from now
// on. Existing sessions keep the identity they started with.
func (l *Layer) SetIdentity(id *sectls.Identity) error {
	cfg, err := l.engineCfg.ServerConfig(id)
	if err != nil {
		return fmt.Errorf("failed to build tls config: %w", err)
	}
	cfg.SetSessionTicketKeys([][32]byte{l.ticketKey})
	l.tlsConfig.Store(cfg)
	l.identity.Store(id)
	return nil
}

// Identity returns the identity new sessions present.
func (l *Layer) Identity() *sectls.Identity {
	return l.identity.Load()
}

// SetUpper installs the stage fed with plaintext.
func (l *Layer) SetUpper(s stream.Stage) {
	l.mu.Lock()
	l.upper = s
	l.mu.Unlock()
}

func (l *Layer) upperStage() stream.Stage {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.upper
}

func (l *Layer) session(id stream.ID) *Session {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.sessions[id]
}

// Session returns the session for id.
func (l *Layer) Session(id stream.ID) (*Session, bool) {
	s := l.session(id)
	return s, s != nil
}

// Len returns the number of live sessions.
func (l *Layer) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.sessions)
}

// Open starts a handshaking session for a new connection.
func (l *Layer) Open(id stream.ID) {
	s := newSession(id, l.tlsConfig.Load(), l.engineCfg.HandshakeTimeout, l.now())

	l.mu.Lock()
	prev := l.sessions[id]
	l.sessions[id] = s
	n := len(l.sessions)
	l.mu.Unlock()

	if prev != nil {
		prev.close()
	}
	l.metrics.TLSSessionsActive(n)

	if o, ok := l.upperStage().(stream.Opener); ok {
		o.Open(id)
	}
}

// Close tears the session down. Nothing is sent: the connection is already
// Disconnected.
func (l *Layer) Close(id stream.ID) {
	l.mu.Lock()
	s := l.sessions[id]
	delete(l.sessions, id)
	n := len(l.sessions)
	l.mu.Unlock()

	if s == nil {
		return
	}
	s.close()
	l.metrics.TLSSessionsActive(n)

	if c, ok := l.upperStage().(stream.Closer); ok {
		c.Close(id)
	}
}

// Abort forwards a registry-initiated disconnect to the upper stage, then
// sends close_notify after whatever the upper stage queued.
func (l *Layer) Abort(id stream.ID, err error) {
	s := l.session(id)
	if s == nil {
		return
	}
	e, st := s.current()
	if st != StateEstablished || e == nil {
		return
	}
	if a, ok := l.upperStage().(stream.Aborter); ok {
		a.Abort(id, err)
	}
	e.closeNotify()
	_ = l.sync(s, e)
}

// Feed implements stream.Stage. All ciphertext is consumed: it moves into
// the session's bridge whatever the handshake state.
func (l *Layer) Feed(id stream.ID, pending []byte) int {
	s := l.session(id)
	if s == nil {
		// Connected before the layer was installed.
		l.Open(id)
		s = l.session(id)
	}

	e, st := s.current()
	if st == StateFailed || e == nil {
		s.restart(l.engineCfg.HandshakeTimeout, l.now())
		e, _ = s.current()
	}

	e.bridge.push(pending)
	e.bridge.waitIdle()
	_ = l.sync(s, e)

	handshaked, eof, err := e.status()
	if err != nil {
		l.failed(s, handshaked, err)
		return len(pending)
	}
	if handshaked && st != StateEstablished {
		d := s.established(l.now())
		l.metrics.Handshake("ok", d)
		l.logger.Debug("tls handshake complete", "connection", id, "duration_ms", d.Milliseconds())
	}

	if plain := e.bridge.takePlain(); len(plain) > 0 {
		l.deliver(s, plain)
	}

	if eof {
		l.resetSession(s)
	}
	return len(pending)
}

func (l *Layer) failed(s *Session, handshaked bool, err error) {
	d := s.fail(err, l.now())
	if !handshaked {
		result := "failed"
		if errors.Is(err, context.DeadlineExceeded) {
			result = "timeout"
		}
		l.metrics.Handshake(result, d)
	}
	l.logger.Warn("tls session failed", "connection", s.id, "handshaked", handshaked, "error", err)

	if c, ok := l.upperStage().(stream.Closer); ok && handshaked {
		c.Close(s.id)
		if o, ok := l.upperStage().(stream.Opener); ok {
			o.Open(s.id)
		}
	}
}

// deliver appends plaintext to the session's pending bytes and feeds them up.
func (l *Layer) deliver(s *Session, plain []byte) {
	upper := l.upperStage()
	if upper == nil {
		return
	}

	if l.maxPlaintext > 0 && s.pending.Len()+len(plain) > l.maxPlaintext {
		l.metrics.Overflow("plaintext")
		l.logger.Warn("plaintext buffer overflow, disconnecting",
			"connection", s.id,
			"pending", s.pending.Len(),
			"chunk", len(plain),
			"limit", l.maxPlaintext,
		)
		if a, ok := upper.(stream.Aborter); ok {
			a.Abort(s.id, &stream.ConnectionError{ID: s.id, Err: stream.ErrIncomingOverflow})
		}
		_ = l.transport.Disconnect(s.id)
		return
	}

	s.pending.Write(plain)
	consumed := upper.Feed(s.id, s.pending.Bytes())
	if consumed < 0 {
		consumed = 0
	}
	if consumed > s.pending.Len() {
		consumed = s.pending.Len()
	}
	s.pending.Next(consumed)
}

// resetSession rebuilds the session after the peer's close_notify: fresh
// bridge and engine on the same identity, pending plaintext dropped. The
// upper stage sees the reset as a close followed by an open.
func (l *Layer) resetSession(s *Session) {
	s.reset()
	l.metrics.TLSReset()
	l.logger.Debug("tls session reset by peer close_notify", "connection", s.id)

	upper := l.upperStage()
	if c, ok := upper.(stream.Closer); ok {
		c.Close(s.id)
	}
	s.restart(l.engineCfg.HandshakeTimeout, l.now())
	if o, ok := upper.(stream.Opener); ok {
		o.Open(s.id)
	}
}

// sync moves everything the engine has written to the connection's
// outgoing buffer. It is the only path ciphertext takes to the transport.
func (l *Layer) sync(s *Session, e *engine) error {
	s.syncMu.Lock()
	defer s.syncMu.Unlock()

	out := e.bridge.takeOut()
	if len(out) == 0 {
		return nil
	}
	err := l.transport.AppendOutgoing(s.id, out)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, stream.ErrOutgoingOverflow):
		// A dropped record corrupts the stream; nothing later can be sent.
		l.logger.Warn("outgoing overflow mid-record, disconnecting", "connection", s.id, "bytes", len(out))
		_ = l.transport.Disconnect(s.id)
	case errors.Is(err, stream.ErrDisconnected):
	default:
		l.logger.Debug("dropping ciphertext", "connection", s.id, "error", err)
	}
	return err
}

// Send encrypts data for one connection, or for every Connected connection
// with an established session when id is stream.Broadcast. Broadcast skips
// sessions still handshaking; a targeted send to one returns
// ErrNotEstablished.
func (l *Layer) Send(id stream.ID, data []byte) error {
	if id == stream.Broadcast {
		var first error
		for _, cid := range l.transport.Connected() {
			s := l.session(cid)
			if s == nil || s.State() != StateEstablished {
				continue
			}
			if err := l.sendTo(s, data); err != nil && first == nil {
				first = err
			}
		}
		return first
	}

	s := l.session(id)
	if s == nil {
		return &stream.ConnectionError{ID: id, Err: ErrNotEstablished}
	}
	return l.sendTo(s, data)
}

func (l *Layer) sendTo(s *Session, data []byte) error {
	e, st := s.current()
	if st != StateEstablished || e == nil {
		return &stream.ConnectionError{ID: s.id, Err: ErrNotEstablished}
	}
	if len(data) == 0 {
		return nil
	}
	if err := e.write(data); err != nil {
		return &stream.ConnectionError{ID: s.id, Err: fmt.Errorf("encrypt: %w", err)}
	}
	return l.sync(s, e)
}

// StalledHandshakes returns connections whose handshake has been running
// for at least olderThan.
func (l *Layer) StalledHandshakes(olderThan time.Duration) []stream.ID {
	cutoff := l.now().Add(-olderThan)

	l.mu.RLock()
	sessions := make([]*Session, 0, len(l.sessions))
	for _, s := range l.sessions {
		sessions = append(sessions, s)
	}
	l.mu.RUnlock()

	var ids []stream.ID
	for _, s := range sessions {
		s.mu.Lock()
		stalled := s.state == StateHandshaking && !s.startedAt.After(cutoff)
		s.mu.Unlock()
		if stalled {
			ids = append(ids, s.id)
		}
	}
	return ids
}
