// Package stream carries extraction progress from the extraction process to
// the aggregating service as a sequence of JSON chunks.
package stream

import (
	"errors"
	"fmt"
	"strings"

	"github.com/cleared-dev/harvest/internal/model"
)

// ErrCorruptStream is returned by a Decoder when the bytes on the wire
// cannot be split into chunks.
var ErrCorruptStream = errors.New("corrupt extraction stream")

// Request asks the extraction process to extract one account.
type Request struct {
	Account   model.Account         `json:"account"`
	BankCreds model.BankCredentials `json:"bankCreds"`
}

// Chunk is one incremental progress message. Any subset of fields may be
// set.
type Chunk struct {
	Extraction   *model.ExtractionPatch `json:"extraction,omitempty"`
	Price        *model.Price           `json:"price,omitempty"`
	Transactions []model.Transaction    `json:"transactions,omitempty"`
	MFAOptions   []string               `json:"mfaOptions,omitempty"`
	NeedMFACode  bool                   `json:"needMfaCode,omitempty"`
	MFAUpdate    *model.MFAUpdate       `json:"mfaUpdate,omitempty"`
	MFAFinish    bool                   `json:"mfaFinish,omitempty"`
}

// Emitter receives chunks as they are produced.
type Emitter interface {
	Emit(Chunk) error
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(Chunk) error

func (f EmitterFunc) Emit(c Chunk) error { return f(c) }

// Discard drops every chunk.
var Discard Emitter = EmitterFunc(func(Chunk) error { return nil })

// Framing selects how chunks are delimited on the wire.
type Framing string

const (
	// FramingNDJSON writes one JSON object per line.
	FramingNDJSON Framing = "ndjson"
	// FramingRaw writes bare concatenated JSON objects, for peers that
	// buffer until a parse succeeds. Two chunks delivered in one read, or
	// one chunk split across reads at an unlucky point, corrupt it.
	FramingRaw Framing = "raw"
)

// ParseFraming accepts "ndjson", "raw", or "" (ndjson).
func ParseFraming(s string) (Framing, error) {
	switch Framing(strings.ToLower(strings.TrimSpace(s))) {
	case "", FramingNDJSON:
		return FramingNDJSON, nil
	case FramingRaw:
		return FramingRaw, nil
	default:
		return "", fmt.Errorf("unknown stream framing %q", s)
	}
}

// ContentType is the HTTP content type for a framing.
func (f Framing) ContentType() string {
	if f == FramingRaw {
		return "application/json"
	}
	return "application/x-ndjson"
}
