package stream

// Stage consumes bytes pending on a connection. Feed is called with every
// byte not yet consumed, in arrival order, and returns how many leading bytes
// it consumed. Unconsumed bytes are offered again, followed by newly arrived
// ones, on the next Feed. Values outside [0, len(pending)] are clamped.
//
// Feed runs on the driver's goroutine with no registry lock held, so it may
// call Sender.Send, AppendOutgoing or Disconnect for any connection. The
// pending slice is only valid for the duration of the call.
type Stage interface {
	Feed(id ID, pending []byte) int
}

// StageFunc adapts a function to the Stage interface.
type StageFunc func(id ID, pending []byte) int

// Feed calls f(id, pending).
func (f StageFunc) Feed(id ID, pending []byte) int {
	return f(id, pending)
}

// Opener is implemented by stages that keep per-connection state and want to
// be told when a connection is established.
type Opener interface {
	Open(id ID)
}

// Closer is implemented by stages that keep per-connection state. Close is
// called once per Connected to Disconnected transition, never concurrently
// with a Feed on the same connection.
type Closer interface {
	Close(id ID)
}

// Sender queues bytes for transmission. An id of Broadcast addresses every
// connection that is Connected at call time.
type Sender interface {
	Send(id ID, data []byte) error
}

// SenderFunc adapts a function to the Sender interface.
type SenderFunc func(id ID, data []byte) error

// Send calls f(id, data).
func (f SenderFunc) Send(id ID, data []byte) error {
	return f(id, data)
}

// Discard is a Stage that consumes and drops everything.
var Discard Stage = StageFunc(func(_ ID, pending []byte) int { return len(pending) })
