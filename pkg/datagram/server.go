package datagram

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"mercator-hq/callisto/pkg/config"
	"mercator-hq/callisto/pkg/telemetry/metrics"
)

var (
	// ErrQueueFull is returned by Send when MaxPackets packets are already
	// queued.
	ErrQueueFull = errors.New("packet queue is full")

	// ErrAddressTooLong is returned for a peer host longer than
	// MaxHostLength.
	ErrAddressTooLong = errors.New("peer address too long")
)

// MaxHostLength bounds the textual host of an Address.
const MaxHostLength = 64

// Address identifies the peer of a packet.
type Address struct {
	Host string
	Port uint16
}

func (a Address) String() string {
	return fmt.Sprintf("%s:%d", a.Host, a.Port)
}

// Handler receives every packet the driver delivers.
type Handler interface {
	OnPacket(from Address, packet []byte)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(from Address, packet []byte)

// OnPacket implements Handler.
func (f HandlerFunc) OnPacket(from Address, packet []byte) { f(from, packet) }

// Config configures a Server.
type Config struct {
	// MaxPackets bounds the outgoing queue. Zero or negative disables the
	// bound.
	MaxPackets int

	Handler Handler
	Metrics *metrics.Collector
	Logger  *slog.Logger
}

// ConfigFromConfig builds a Config from the datagram section.
func ConfigFromConfig(cfg config.DatagramConfig, h Handler, m *metrics.Collector) Config {
	return Config{MaxPackets: cfg.MaxPackets, Handler: h, Metrics: m}
}

// Server is the connectionless counterpart of the stream registry: the
// driver writes packets in with OnPacketWrite and polls queued packets out
// with OnPacketRead, oldest first.
type Server struct {
	maxPackets int
	handler    Handler
	metrics    *metrics.Collector
	logger     *slog.Logger

	mu    sync.Mutex
	peer  Address
	queue [][]byte
}

// NewServer creates a packet server.
func NewServer(cfg Config) *Server {
	s := &Server{
		maxPackets: cfg.MaxPackets,
		handler:    cfg.Handler,
		metrics:    cfg.Metrics,
		logger:     cfg.Logger,
	}
	if s.logger == nil {
		s.logger = slog.Default().With("component", "datagram.server")
	}
	return s
}

// SetHandler replaces the packet handler.
func (s *Server) SetHandler(h Handler) {
	s.mu.Lock()
	s.handler = h
	s.mu.Unlock()
}

// OnPacketWrite records from as the current peer and hands the packet to
// the handler. The handler runs with no lock held and may call Send. It
// reports false when the address is invalid.
func (s *Server) OnPacketWrite(from Address, packet []byte) bool {
	if len(from.Host) > MaxHostLength {
		s.logger.Warn("dropping packet", "error", ErrAddressTooLong, "length", len(from.Host))
		return false
	}

	s.mu.Lock()
	s.peer = from
	h := s.handler
	s.mu.Unlock()

	s.metrics.BytesIn(len(packet))
	if h != nil {
		h.OnPacket(from, packet)
	}
	return true
}

// Send queues a copy of packet for the driver.
func (s *Server) Send(packet []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.maxPackets > 0 && len(s.queue) >= s.maxPackets {
		s.metrics.Overflow("outgoing")
		return fmt.Errorf("%w: %d packets queued", ErrQueueFull, len(s.queue))
	}
	s.queue = append(s.queue, append([]byte(nil), packet...))
	return nil
}

// OnPacketRead pops the oldest queued packet into buf and returns the
// current peer address. A packet larger than buf is truncated. ok is false
// when nothing is queued or buf is nil.
func (s *Server) OnPacketRead(buf []byte) (to Address, n int, ok bool) {
	if buf == nil {
		return Address{}, 0, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return Address{}, 0, false
	}
	packet := s.queue[0]
	s.queue[0] = nil
	s.queue = s.queue[1:]

	n = copy(buf, packet)
	if n < len(packet) {
		s.logger.Debug("packet truncated", "size", len(packet), "buffer", len(buf))
	}
	s.metrics.BytesOut(n)
	return s.peer, n, true
}

// Peer returns the address of the last packet written.
func (s *Server) Peer() Address {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peer
}

// Pending returns the number of queued packets.
func (s *Server) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}
