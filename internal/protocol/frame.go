package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Binary chunk frame layout: 8-byte big-endian sequence number, 32-byte
// chained checksum, then the payload.
const (
	ChainSize       = 32
	ChunkHeaderSize = 8 + ChainSize
)

var ErrShortFrame = errors.New("chunk frame shorter than header")

// EncodeChunk assembles a binary chunk frame.
func EncodeChunk(seq uint64, chain []byte, payload []byte) ([]byte, error) {
	if len(chain) != ChainSize {
		return nil, fmt.Errorf("chain must be %d bytes, got %d", ChainSize, len(chain))
	}
	frame := make([]byte, ChunkHeaderSize+len(payload))
	binary.BigEndian.PutUint64(frame[0:8], seq)
	copy(frame[8:ChunkHeaderSize], chain)
	copy(frame[ChunkHeaderSize:], payload)
	return frame, nil
}

// DecodeChunk splits a binary chunk frame into its parts. The returned
// slices alias the input.
func DecodeChunk(frame []byte) (seq uint64, chain []byte, payload []byte, err error) {
	if len(frame) < ChunkHeaderSize {
		return 0, nil, nil, ErrShortFrame
	}
	seq = binary.BigEndian.Uint64(frame[0:8])
	return seq, frame[8:ChunkHeaderSize], frame[ChunkHeaderSize:], nil
}
