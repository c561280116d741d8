package tlssession

import (
	"bytes"
	"io"
	"net"
	"sync"
	"time"
)

// bridge is the in-memory transport a TLS engine runs over. Ciphertext
// pushed by the driver thread is what the engine reads; everything the
// engine writes collects in out until the driver thread takes it. Decrypted
// plaintext read by the engine is parked in plain for the driver thread.
//
// The engine is idle when it is blocked in Read with nothing left to read,
// or when it has stopped.
type bridge struct {
	mu   sync.Mutex
	cond *sync.Cond

	in    bytes.Buffer
	out   bytes.Buffer
	plain bytes.Buffer

	reading bool
	closed  bool
	stopped bool
}

func newBridge() *bridge {
	b := &bridge{}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// push hands ciphertext to the engine.
func (b *bridge) push(data []byte) {
	b.mu.Lock()
	b.in.Write(data)
	b.reading = false
	b.mu.Unlock()
	b.cond.Broadcast()
}

// waitIdle blocks until the engine has consumed everything pushed so far
// and is waiting for more, or has stopped.
func (b *bridge) waitIdle() {
	b.mu.Lock()
	for !b.stopped && !(b.reading && b.in.Len() == 0) {
		b.cond.Wait()
	}
	b.mu.Unlock()
}

func (b *bridge) waitStopped() {
	b.mu.Lock()
	for !b.stopped {
		b.cond.Wait()
	}
	b.mu.Unlock()
}

// takeOut removes and returns everything the engine has written.
func (b *bridge) takeOut() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.out.Len() == 0 {
		return nil
	}
	data := make([]byte, b.out.Len())
	copy(data, b.out.Bytes())
	b.out.Reset()
	return data
}

// deliver parks plaintext read by the engine.
func (b *bridge) deliver(p []byte) {
	b.mu.Lock()
	b.plain.Write(p)
	b.mu.Unlock()
}

// takePlain removes and returns parked plaintext.
func (b *bridge) takePlain() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.plain.Len() == 0 {
		return nil
	}
	data := make([]byte, b.plain.Len())
	copy(data, b.plain.Bytes())
	b.plain.Reset()
	return data
}

// stop marks the engine goroutine finished.
func (b *bridge) stop() {
	b.mu.Lock()
	b.stopped = true
	b.mu.Unlock()
	b.cond.Broadcast()
}

// Read implements net.Conn for the engine.
func (b *bridge) Read(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for b.in.Len() == 0 && !b.closed {
		if !b.reading {
			b.reading = true
			b.cond.Broadcast()
		}
		b.cond.Wait()
	}
	if b.in.Len() == 0 {
		return 0, io.EOF
	}
	n, _ := b.in.Read(p)
	return n, nil
}

// Write implements net.Conn for the engine.
func (b *bridge) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0, net.ErrClosed
	}
	return b.out.Write(p)
}

// Close unblocks a pending Read. Bytes already written stay in out.
func (b *bridge) Close() error {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
	b.cond.Broadcast()
	return nil
}

func (b *bridge) LocalAddr() net.Addr  { return bridgeAddr{} }
func (b *bridge) RemoteAddr() net.Addr { return bridgeAddr{} }

func (b *bridge) SetDeadline(time.Time) error      { return nil }
func (b *bridge) SetReadDeadline(time.Time) error  { return nil }
func (b *bridge) SetWriteDeadline(time.Time) error { return nil }

type bridgeAddr struct{}

func (bridgeAddr) Network() string { return "bridge" }
func (bridgeAddr) String() string  { return "bridge" }
