// Package stream buffers bytes for externally driven connections.
//
// The pipeline performs no socket I/O. A driver owns the sockets and reports
// what happens on them: Connect when a socket opens, AppendIncoming when
// bytes arrive, Disconnect when the peer goes away, and it polls
// DrainOutgoing or DrainInto for bytes to write. Retire drops the record once
// the driver has flushed whatever was still queued.
//
// # Stages
//
// Inbound bytes are handed to a Stage, the next layer up (TLS termination,
// HTTP framing or a raw handler). A stage reports how many leading bytes it
// consumed and the registry drops exactly that prefix, so a stage that needs
// more input simply consumes nothing and sees the same bytes again, extended,
// on the next arrival.
//
//	reg := stream.NewRegistry(stream.Config{MaxOutgoing: 1 << 20})
//	reg.SetStage(stream.StageFunc(func(id stream.ID, pending []byte) int {
//	    line := bytes.IndexByte(pending, '\n')
//	    if line < 0 {
//	        return 0
//	    }
//	    _ = reg.Send(id, pending[:line+1])
//	    return line + 1
//	}))
//
// # Locking
//
// Feeds on one connection are serialized and run without any registry lock
// held, so a stage may send, broadcast or disconnect from inside Feed. A
// Disconnect during a Feed is deferred: the incoming buffer is replaced
// immediately but the stage's Closer runs only after the Feed returns.
package stream
