package protocol

import (
	"bytes"
	"testing"
)

func TestChunkFrameRoundTrip(t *testing.T) {
	chain := bytes.Repeat([]byte{0xab}, ChainSize)
	payload := []byte("chunk payload bytes")

	frame, err := EncodeChunk(7, chain, payload)
	if err != nil {
		t.Fatalf("EncodeChunk: %v", err)
	}
	if len(frame) != ChunkHeaderSize+len(payload) {
		t.Fatalf("frame length %d, want %d", len(frame), ChunkHeaderSize+len(payload))
	}

	seq, gotChain, gotPayload, err := DecodeChunk(frame)
	if err != nil {
		t.Fatalf("DecodeChunk: %v", err)
	}
	if seq != 7 {
		t.Errorf("seq = %d, want 7", seq)
	}
	if !bytes.Equal(gotChain, chain) {
		t.Error("chain mismatch after round trip")
	}
	if !bytes.Equal(gotPayload, payload) {
		t.Error("payload mismatch after round trip")
	}
}

func TestChunkFrameHeaderLayout(t *testing.T) {
	chain := make([]byte, ChainSize)
	chain[0] = 0x11
	frame, err := EncodeChunk(1, chain, nil)
	if err != nil {
		t.Fatalf("EncodeChunk: %v", err)
	}
	// Sequence is big-endian in the first 8 bytes.
	for i := 0; i < 7; i++ {
		if frame[i] != 0 {
			t.Fatalf("byte %d = %#x, want 0", i, frame[i])
		}
	}
	if frame[7] != 1 {
		t.Fatalf("byte 7 = %#x, want 1", frame[7])
	}
	if frame[8] != 0x11 {
		t.Fatalf("chain does not start at byte 8")
	}
}

func TestDecodeChunkShortFrame(t *testing.T) {
	if _, _, _, err := DecodeChunk(make([]byte, ChunkHeaderSize-1)); err != ErrShortFrame {
		t.Fatalf("err = %v, want ErrShortFrame", err)
	}
	// A header with no payload is a valid zero-length chunk frame.
	if _, _, payload, err := DecodeChunk(make([]byte, ChunkHeaderSize)); err != nil || len(payload) != 0 {
		t.Fatalf("header-only frame: payload=%v err=%v", payload, err)
	}
}

func TestEncodeChunkRejectsBadChain(t *testing.T) {
	if _, err := EncodeChunk(0, make([]byte, 16), nil); err == nil {
		t.Fatal("expected error for 16-byte chain")
	}
}
