package stream

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
)

// Encoder writes chunks to w. It is safe for concurrent use; each chunk is
// written with a single Write call and flushed when w supports it.
type Encoder struct {
	mu      sync.Mutex
	w       io.Writer
	framing Framing
	flusher http.Flusher
}

var _ Emitter = (*Encoder)(nil)

// NewEncoder returns an Encoder writing with the given framing.
func NewEncoder(w io.Writer, framing Framing) *Encoder {
	e := &Encoder{w: w, framing: framing}
	if f, ok := w.(http.Flusher); ok {
		e.flusher = f
	}
	return e
}

// Emit encodes and writes one chunk.
func (e *Encoder) Emit(c Chunk) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encoding chunk: %w", err)
	}
	if e.framing != FramingRaw {
		data = append(data, '\n')
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.w.Write(data); err != nil {
		return fmt.Errorf("writing chunk: %w", err)
	}
	if e.flusher != nil {
		e.flusher.Flush()
	}
	return nil
}
