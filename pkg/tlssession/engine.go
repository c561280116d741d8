package tlssession

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"sync"
	"time"
)

// engineReadSize is the plaintext read chunk. Reads are sized to what the
// engine returns, so this only bounds a single copy.
const engineReadSize = 16 << 10

// engine runs one crypto/tls server over a bridge on its own goroutine. The
// goroutine reads and parks plaintext; it never calls into the pipeline.
type engine struct {
	bridge *bridge
	conn   *tls.Conn
	cancel context.CancelFunc

	// writeMu serializes application writes from Send callers.
	writeMu sync.Mutex

	mu          sync.Mutex
	handshaked  bool
	handshakeAt time.Time
	err         error
	eof         bool
}

func startEngine(cfg *tls.Config, timeout time.Duration) *engine {
	b := newBridge()
	ctx, cancel := context.Background(), context.CancelFunc(func() {})
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, timeout)
	}
	e := &engine{
		bridge: b,
		conn:   tls.Server(b, cfg),
		cancel: cancel,
	}
	go e.run(ctx)
	return e
}

func (e *engine) run(ctx context.Context) {
	defer e.bridge.stop()

	err := e.conn.HandshakeContext(ctx)
	e.cancel()
	if err != nil {
		e.mu.Lock()
		e.err = err
		e.mu.Unlock()
		return
	}

	e.mu.Lock()
	e.handshaked = true
	e.handshakeAt = time.Now()
	e.mu.Unlock()

	buf := make([]byte, engineReadSize)
	for {
		n, err := e.conn.Read(buf)
		if n > 0 {
			e.bridge.deliver(buf[:n])
		}
		if err != nil {
			e.mu.Lock()
			if errors.Is(err, io.EOF) {
				e.eof = true
			} else {
				e.err = err
			}
			e.mu.Unlock()
			return
		}
	}
}

// status reports where the engine is. Only meaningful after waitIdle.
func (e *engine) status() (handshaked, eof bool, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.handshaked, e.eof, e.err
}

func (e *engine) write(p []byte) error {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	_, err := e.conn.Write(p)
	return err
}

// close_notify is sent on a best-effort basis; the bridge keeps the alert
// in its out buffer for a final sync.
func (e *engine) closeNotify() {
	e.writeMu.Lock()
	_ = e.conn.CloseWrite()
	e.writeMu.Unlock()
}

// shutdown stops the goroutine and waits for it.
func (e *engine) shutdown() {
	e.cancel()
	_ = e.bridge.Close()
	e.bridge.waitStopped()
}
