// Package testutil holds helpers shared by package tests: a TLS client that
// talks to the pipeline through driver calls, generated identities and
// recording stages.
package testutil

import (
	"bytes"
	"crypto/tls"
	"crypto/x509"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	sectls "mercator-hq/callisto/pkg/security/tls"
	"mercator-hq/callisto/pkg/stream"
)

// Hostname is the name test identities are issued for.
const Hostname = "callisto.test"

var (
	identityOnce sync.Once
	identity     *sectls.Identity
	identityErr  error
)

// Identity returns a self-signed identity for Hostname, generated once per
// test binary.
func Identity(t testing.TB) *sectls.Identity {
	t.Helper()
	identityOnce.Do(func() {
		identity, identityErr = sectls.GenerateSelfSigned(sectls.GenerateOptions{
			Hostname:     Hostname,
			Organization: "Callisto Test",
		})
	})
	if identityErr != nil {
		t.Fatalf("generate identity: %v", identityErr)
	}
	return identity
}

// ClientConfig returns a client configuration that trusts id.
func ClientConfig(id *sectls.Identity) *tls.Config {
	pool := x509.NewCertPool()
	pool.AddCert(id.Leaf())
	return &tls.Config{
		RootCAs:    pool,
		ServerName: Hostname,
		MinVersion: tls.VersionTLS12,
		NextProtos: []string{"http/1.1"},
	}
}

// Driver is the side of the pipeline a socket driver sees.
type Driver interface {
	AppendIncoming(id stream.ID, data []byte) bool
	DrainOutgoing(id stream.ID, capacity int) ([]byte, bool)
}

// TLSPeer is a crypto/tls client whose socket is a pair of driver calls.
// Pump moves ciphertext both ways; a reader goroutine collects plaintext.
type TLSPeer struct {
	t      testing.TB
	driver Driver
	id     stream.ID
	conn   *tls.Conn
	pipe   *peerPipe

	mu      sync.Mutex
	plain   bytes.Buffer
	readErr error
	reading bool
}

// NewTLSPeer creates a client for connection id. The connection must
// already be open on the driver.
func NewTLSPeer(t testing.TB, d Driver, id stream.ID, cfg *tls.Config) *TLSPeer {
	t.Helper()
	p := &peerPipe{}
	p.cond = sync.NewCond(&p.mu)
	peer := &TLSPeer{
		t:      t,
		driver: d,
		id:     id,
		pipe:   p,
		conn:   tls.Client(p, cfg),
	}
	t.Cleanup(func() { _ = p.Close() })
	return peer
}

// Conn returns the client connection.
func (p *TLSPeer) Conn() *tls.Conn { return p.conn }

// Pump moves pending client ciphertext into the pipeline and drains the
// pipeline's output back to the client. It reports whether anything moved.
func (p *TLSPeer) Pump() bool {
	moved := false
	if out := p.pipe.takeOut(); len(out) > 0 {
		p.driver.AppendIncoming(p.id, out)
		moved = true
	}
	for {
		chunk, ok := p.driver.DrainOutgoing(p.id, 4096)
		if !ok {
			break
		}
		p.pipe.pushIn(chunk)
		moved = true
	}
	return moved
}

// Handshake runs the client handshake, pumping until it finishes.
func (p *TLSPeer) Handshake() error {
	p.t.Helper()
	done := make(chan error, 1)
	go func() { done <- p.conn.Handshake() }()

	deadline := time.After(5 * time.Second)
	for {
		select {
		case err := <-done:
			// The client's Finished may still be queued.
			p.Pump()
			if err == nil {
				p.startReader()
				p.settle()
			}
			return err
		case <-deadline:
			p.t.Fatal("tls handshake did not finish")
			return nil
		default:
			if !p.Pump() {
				time.Sleep(time.Millisecond)
			}
		}
	}
}

// Write encrypts data and pumps it into the pipeline.
func (p *TLSPeer) Write(data []byte) {
	p.t.Helper()
	if _, err := p.conn.Write(data); err != nil {
		p.t.Fatalf("client write: %v", err)
	}
	p.settle()
}

// CloseWrite sends close_notify and pumps it into the pipeline.
func (p *TLSPeer) CloseWrite() {
	p.t.Helper()
	if err := p.conn.CloseWrite(); err != nil {
		p.t.Fatalf("client close_notify: %v", err)
	}
	p.settle()
}

// settle pumps until nothing moves for a few rounds.
func (p *TLSPeer) settle() {
	idle := 0
	for idle < 5 {
		if p.Pump() {
			idle = 0
			continue
		}
		idle++
		time.Sleep(time.Millisecond)
	}
}

// ReadUntil pumps until the decrypted plaintext received so far contains
// want, and returns everything received.
func (p *TLSPeer) ReadUntil(want []byte) []byte {
	p.t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		p.Pump()
		p.mu.Lock()
		got := append([]byte(nil), p.plain.Bytes()...)
		rerr := p.readErr
		p.mu.Unlock()
		if bytes.Contains(got, want) {
			return got
		}
		if rerr != nil && rerr != io.EOF {
			p.t.Fatalf("client read: %v (have %q)", rerr, got)
		}
		time.Sleep(time.Millisecond)
	}
	p.t.Fatalf("timed out waiting for %q", want)
	return nil
}

// Received returns the plaintext received so far.
func (p *TLSPeer) Received() []byte {
	p.settle()
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]byte(nil), p.plain.Bytes()...)
}

func (p *TLSPeer) startReader() {
	p.mu.Lock()
	if p.reading {
		p.mu.Unlock()
		return
	}
	p.reading = true
	p.mu.Unlock()

	go func() {
		buf := make([]byte, 4096)
		for {
			n, err := p.conn.Read(buf)
			p.mu.Lock()
			p.plain.Write(buf[:n])
			if err != nil {
				p.readErr = err
				p.mu.Unlock()
				return
			}
			p.mu.Unlock()
		}
	}()
}

// peerPipe is the client's net.Conn.
type peerPipe struct {
	mu     sync.Mutex
	cond   *sync.Cond
	in     bytes.Buffer
	out    bytes.Buffer
	closed bool
}

func (c *peerPipe) pushIn(b []byte) {
	c.mu.Lock()
	c.in.Write(b)
	c.mu.Unlock()
	c.cond.Broadcast()
}

func (c *peerPipe) takeOut() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.out.Len() == 0 {
		return nil
	}
	b := append([]byte(nil), c.out.Bytes()...)
	c.out.Reset()
	return b
}

func (c *peerPipe) Read(b []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.in.Len() == 0 && !c.closed {
		c.cond.Wait()
	}
	if c.in.Len() == 0 {
		return 0, io.EOF
	}
	return c.in.Read(b)
}

func (c *peerPipe) Write(b []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, net.ErrClosed
	}
	return c.out.Write(b)
}

func (c *peerPipe) Close() error {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
	c.cond.Broadcast()
	return nil
}

func (c *peerPipe) LocalAddr() net.Addr                { return peerAddr{} }
func (c *peerPipe) RemoteAddr() net.Addr               { return peerAddr{} }
func (c *peerPipe) SetDeadline(t time.Time) error      { return nil }
func (c *peerPipe) SetReadDeadline(t time.Time) error  { return nil }
func (c *peerPipe) SetWriteDeadline(t time.Time) error { return nil }

type peerAddr struct{}

func (peerAddr) Network() string { return "pipe" }
func (peerAddr) String() string  { return "pipe" }
