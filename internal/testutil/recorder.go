package testutil

import (
	"bytes"
	"sync"

	"mercator-hq/callisto/pkg/stream"
)

// Recorder is a stage that consumes everything fed to it and remembers it
// per connection, along with Open, Close and Abort calls. OnFeed, when set,
// runs after the bytes are recorded and may send.
type Recorder struct {
	OnFeed func(id stream.ID, data []byte)

	mu     sync.Mutex
	data   map[stream.ID]*bytes.Buffer
	opens  map[stream.ID]int
	closes map[stream.ID]int
	aborts map[stream.ID][]error
}

// NewRecorder returns an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{
		data:   make(map[stream.ID]*bytes.Buffer),
		opens:  make(map[stream.ID]int),
		closes: make(map[stream.ID]int),
		aborts: make(map[stream.ID][]error),
	}
}

// Feed implements stream.Stage.
func (r *Recorder) Feed(id stream.ID, pending []byte) int {
	r.mu.Lock()
	buf, ok := r.data[id]
	if !ok {
		buf = &bytes.Buffer{}
		r.data[id] = buf
	}
	buf.Write(pending)
	fn := r.OnFeed
	r.mu.Unlock()

	if fn != nil {
		fn(id, append([]byte(nil), pending...))
	}
	return len(pending)
}

// Open implements stream.Opener.
func (r *Recorder) Open(id stream.ID) {
	r.mu.Lock()
	r.opens[id]++
	r.mu.Unlock()
}

// Close implements stream.Closer.
func (r *Recorder) Close(id stream.ID) {
	r.mu.Lock()
	r.closes[id]++
	r.mu.Unlock()
}

// Abort implements stream.Aborter.
func (r *Recorder) Abort(id stream.ID, err error) {
	r.mu.Lock()
	r.aborts[id] = append(r.aborts[id], err)
	r.mu.Unlock()
}

// Data returns every byte fed for id.
func (r *Recorder) Data(id stream.ID) []byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	if buf, ok := r.data[id]; ok {
		return append([]byte(nil), buf.Bytes()...)
	}
	return nil
}

// Opens returns how many times id was opened.
func (r *Recorder) Opens(id stream.ID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.opens[id]
}

// Closes returns how many times id was closed.
func (r *Recorder) Closes(id stream.ID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closes[id]
}

// Aborts returns the errors passed to Abort for id.
func (r *Recorder) Aborts(id stream.ID) []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.aborts[id]...)
}

// DrainAll drains every queued outgoing byte for id.
func DrainAll(d Driver, id stream.ID) []byte {
	var out []byte
	for {
		chunk, ok := d.DrainOutgoing(id, 4096)
		if !ok {
			return out
		}
		out = append(out, chunk...)
	}
}
