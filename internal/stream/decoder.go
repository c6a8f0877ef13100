package stream

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
)

// Decoder reads chunks. Next returns io.EOF once the stream ended cleanly;
// any other error means the stream was cut off or corrupted.
type Decoder interface {
	Next() (Chunk, error)
}

// NewDecoder returns a Decoder for the given framing.
func NewDecoder(r io.Reader, framing Framing) Decoder {
	if framing == FramingRaw {
		return &rawDecoder{r: r, buf: make([]byte, 32*1024)}
	}
	return &lineDecoder{r: bufio.NewReader(r)}
}

type lineDecoder struct {
	r *bufio.Reader
}

func (d *lineDecoder) Next() (Chunk, error) {
	for {
		line, err := d.r.ReadBytes('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return Chunk{}, err
		}
		trimmed := bytes.TrimSpace(line)
		if len(trimmed) == 0 {
			if err != nil {
				return Chunk{}, io.EOF
			}
			continue
		}
		var c Chunk
		if jerr := json.Unmarshal(trimmed, &c); jerr != nil {
			return Chunk{}, fmt.Errorf("%w: %v", ErrCorruptStream, jerr)
		}
		return c, nil
	}
}

// rawDecoder appends every read to a buffer and tries to parse the whole
// buffer, clearing it only on success.
type rawDecoder struct {
	r       io.Reader
	buf     []byte
	pending []byte
	done    bool
}

func (d *rawDecoder) Next() (Chunk, error) {
	for !d.done {
		n, err := d.r.Read(d.buf)
		if n > 0 {
			d.pending = append(d.pending, d.buf[:n]...)
			var c Chunk
			if json.Unmarshal(d.pending, &c) == nil {
				d.pending = d.pending[:0]
				return c, nil
			}
		}
		if errors.Is(err, io.EOF) {
			d.done = true
			break
		}
		if err != nil {
			return Chunk{}, err
		}
	}
	if len(bytes.TrimSpace(d.pending)) > 0 {
		return Chunk{}, fmt.Errorf("%w: %d unparsed bytes at end of stream", ErrCorruptStream, len(d.pending))
	}
	return Chunk{}, io.EOF
}
