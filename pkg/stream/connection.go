package stream

import (
	"bytes"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ID identifies a driver connection. It is chosen by the driver and stays
// stable for the lifetime of the underlying socket.
type ID uint64

// Broadcast addresses every Connected connection. No real connection may use
// it.
const Broadcast ID = 0

func (id ID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// State is the lifecycle state of a connection record.
type State int

const (
	// StateConnected accepts inbound bytes and outbound appends.
	StateConnected State = iota + 1

	// StateDisconnected refuses new bytes in either direction. Outgoing
	// bytes queued before the disconnect remain drainable until Retire.
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Connection is one driver connection and its byte buffers.
//
// Two locks guard it. feedMu serializes upward feeds so inbound chunks reach
// the stage in arrival order. mu guards the buffers and state and is never
// held while a stage runs.
type Connection struct {
	id          ID
	port        uint16
	session     uuid.UUID
	connectedAt time.Time

	feedMu sync.Mutex

	mu           sync.Mutex
	state        State
	incoming     bytes.Buffer
	outgoing     bytes.Buffer
	lastInbound  time.Time
	generation   uint64
	feeding      bool
	closePending bool
}

func newConnection(id ID, port uint16, now time.Time) *Connection {
	return &Connection{
		id:          id,
		port:        port,
		session:     uuid.New(),
		connectedAt: now,
		lastInbound: now,
		state:       StateConnected,
	}
}

// ID returns the driver-assigned connection id.
func (c *Connection) ID() ID { return c.id }

// Port returns the local port the driver reported on connect.
func (c *Connection) Port() uint16 { return c.port }

// Session returns the uuid assigned when the record was created. A
// reconnect with the same id gets a new session.
func (c *Connection) Session() uuid.UUID { return c.session }

// ConnectedAt returns when the record was created.
func (c *Connection) ConnectedAt() time.Time { return c.connectedAt }

// State returns the current lifecycle state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Stats is a point-in-time snapshot of a connection.
type Stats struct {
	ID          ID
	Port        uint16
	Session     uuid.UUID
	State       State
	PendingIn   int
	PendingOut  int
	ConnectedAt time.Time
	LastInbound time.Time
}

func (c *Connection) stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		ID:          c.id,
		Port:        c.port,
		Session:     c.session,
		State:       c.state,
		PendingIn:   c.incoming.Len(),
		PendingOut:  c.outgoing.Len(),
		ConnectedAt: c.connectedAt,
		LastInbound: c.lastInbound,
	}
}
