// Package compress implements the per-chunk zstd scheme. Each chunk is a
// complete zstd frame, so chunks remain independently decompressible and the
// receiver needs no stream state across chunk boundaries.
package compress

import (
	"fmt"

	"github.com/klauspost/compress/zstd"

	"github.com/kenneth/p2p-copy/internal/protocol"
)

// Mode selects the compression policy for a send session.
type Mode string

const (
	ModeOff  Mode = "off"
	ModeOn   Mode = "on"
	ModeAuto Mode = "auto"
)

// ParseMode validates a user-supplied mode string.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeOff, ModeOn, ModeAuto:
		return Mode(s), nil
	}
	return "", fmt.Errorf("unknown compression mode %q (want off, on or auto)", s)
}

// probeThreshold: auto mode enables compression when the first chunk shrinks
// below 95% of its original size.
const probeThreshold = 0.95

// Compressor carries the session's encoder and the per-file decision state.
// Decide resets the decision for each file.
type Compressor struct {
	mode Mode
	enc  *zstd.Encoder
	dec  *zstd.Decoder
	use  bool
	typ  string
}

// New builds a compressor for the given mode. The encoder is created eagerly
// for on/auto since both may compress; level 3 matches the wire peers.
func New(mode Mode) (*Compressor, error) {
	c := &Compressor{mode: mode, typ: protocol.CompressionNone}
	if mode != ModeOff {
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, fmt.Errorf("init zstd encoder: %w", err)
		}
		c.enc = enc
	}
	if mode == ModeOn {
		c.use = true
		c.typ = protocol.CompressionZstd
	}
	return c, nil
}

// Decide makes the per-file decision given the file's first chunk. In auto
// mode the chunk is compressed once as a probe; the caller sends that same
// chunk first, recompressed when compression wins or raw otherwise.
func (c *Compressor) Decide(firstChunk []byte) (use bool, typ string) {
	if c.mode != ModeAuto {
		return c.use, c.typ
	}
	c.use = false
	c.typ = protocol.CompressionNone
	if len(firstChunk) == 0 {
		return c.use, c.typ
	}
	probe := c.enc.EncodeAll(firstChunk, nil)
	if float64(len(probe))/float64(len(firstChunk)) < probeThreshold {
		c.use = true
		c.typ = protocol.CompressionZstd
	}
	return c.use, c.typ
}

// Compress returns the chunk compressed as an independent zstd frame, or
// unchanged when the current file's decision was "none".
func (c *Compressor) Compress(chunk []byte) []byte {
	if !c.use || c.enc == nil {
		return chunk
	}
	return c.enc.EncodeAll(chunk, nil)
}

// NewDecompressor builds the receive-side compressor. It only ever inflates;
// Arm selects the per-file mode from the file header.
func NewDecompressor() *Compressor {
	return &Compressor{mode: ModeOff, typ: protocol.CompressionNone}
}

// Arm configures the receive side from a file header's compression tag.
func (c *Compressor) Arm(compressionType string) error {
	switch compressionType {
	case protocol.CompressionNone:
		c.use = false
		return nil
	case protocol.CompressionZstd:
		if c.dec == nil {
			dec, err := zstd.NewReader(nil)
			if err != nil {
				return fmt.Errorf("init zstd decoder: %w", err)
			}
			c.dec = dec
		}
		c.use = true
		return nil
	}
	return fmt.Errorf("unknown compression type %q", compressionType)
}

// Decompress expands a received chunk according to the armed mode.
func (c *Compressor) Decompress(chunk []byte) ([]byte, error) {
	if !c.use {
		return chunk, nil
	}
	out, err := c.dec.DecodeAll(chunk, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress chunk: %w", err)
	}
	return out, nil
}
