package tlssession

import (
	"bytes"
	"crypto/tls"
	"errors"
	"fmt"
	"sync"
	"time"

	"mercator-hq/callisto/pkg/stream"
)

var (
	// ErrNotEstablished is returned when sending to a connection whose
	// session has not completed its handshake.
	ErrNotEstablished = errors.New("tls session not established")

	// ErrHandshake wraps the engine error of a failed handshake.
	ErrHandshake = errors.New("tls handshake failed")

	// ErrNoIdentity is returned by NewLayer without an identity.
	ErrNoIdentity = errors.New("tls layer requires an identity")
)

// State is the handshake state of a session.
type State int

const (
	StateHandshaking State = iota + 1
	StateEstablished
	// StateReset is held while a session is rebuilt after the peer sent
	// close_notify. It is never observed by a Feed.
	StateReset
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateHandshaking:
		return "handshaking"
	case StateEstablished:
		return "established"
	case StateReset:
		return "reset"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Session is the TLS state of one connection.
type Session struct {
	id  stream.ID
	cfg *tls.Config

	mu         sync.Mutex
	state      State
	engine     *engine
	startedAt  time.Time
	handshakes int
	resets     int
	lastErr    error

	// syncMu keeps ciphertext taken from the bridge in order on its way to
	// the outgoing buffer.
	syncMu sync.Mutex

	// pending is plaintext the upper stage has not consumed. Only touched
	// from Feed, which the registry serializes per connection.
	pending bytes.Buffer
}

func newSession(id stream.ID, cfg *tls.Config, timeout time.Duration, now time.Time) *Session {
	s := &Session{id: id, cfg: cfg}
	s.restart(timeout, now)
	return s
}

// restart replaces the engine with a fresh one on a fresh bridge. Callers
// hold no lock; the old engine, if any, must already be shut down.
func (s *Session) restart(timeout time.Duration, now time.Time) {
	e := startEngine(s.cfg, timeout)
	s.mu.Lock()
	s.engine = e
	s.state = StateHandshaking
	s.startedAt = now
	s.mu.Unlock()
	s.pending.Reset()
}

// ID returns the connection id.
func (s *Session) ID() stream.ID { return s.id }

// State returns the current handshake state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Handshakes returns how many handshakes completed on this connection.
func (s *Session) Handshakes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handshakes
}

// Resets returns how many times the session was rebuilt after close_notify.
func (s *Session) Resets() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resets
}

// Err returns the error that last failed the session.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// ConnectionState returns the negotiated parameters once established.
func (s *Session) ConnectionState() (tls.ConnectionState, bool) {
	s.mu.Lock()
	e, st := s.engine, s.state
	s.mu.Unlock()
	if e == nil || st != StateEstablished {
		return tls.ConnectionState{}, false
	}
	return e.conn.ConnectionState(), true
}

func (s *Session) current() (*engine, State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine, s.state
}

// established records a completed handshake and returns its duration.
func (s *Session) established(now time.Time) time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = StateEstablished
	s.handshakes++
	return now.Sub(s.startedAt)
}

// fail shuts the engine down and parks the session until the next Feed.
func (s *Session) fail(err error, now time.Time) time.Duration {
	s.mu.Lock()
	e := s.engine
	s.engine = nil
	s.state = StateFailed
	s.lastErr = fmt.Errorf("%w: %w", ErrHandshake, err)
	started := s.startedAt
	s.mu.Unlock()
	s.pending.Reset()
	if e != nil {
		e.shutdown()
	}
	return now.Sub(started)
}

// reset shuts the engine down ahead of a restart.
func (s *Session) reset() {
	s.mu.Lock()
	e := s.engine
	s.engine = nil
	s.state = StateReset
	s.resets++
	s.mu.Unlock()
	if e != nil {
		e.shutdown()
	}
}

func (s *Session) close() {
	s.mu.Lock()
	e := s.engine
	s.engine = nil
	s.state = StateClosed
	s.mu.Unlock()
	if e != nil {
		e.shutdown()
	}
}
