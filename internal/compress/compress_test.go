package compress

import (
	"bytes"
	"crypto/rand"
	"testing"

	"github.com/kenneth/p2p-copy/internal/protocol"
)

func compressible(n int) []byte {
	return bytes.Repeat([]byte("AAAABBBBCCCCDDDDEEEE"), n/20+1)[:n]
}

func incompressible(t *testing.T, n int) []byte {
	t.Helper()
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		t.Fatalf("rand: %v", err)
	}
	return buf
}

func TestParseMode(t *testing.T) {
	for _, s := range []string{"off", "on", "auto"} {
		if _, err := ParseMode(s); err != nil {
			t.Errorf("ParseMode(%q): %v", s, err)
		}
	}
	if _, err := ParseMode("gzip"); err == nil {
		t.Error("expected error for unknown mode")
	}
}

func TestDecideAuto(t *testing.T) {
	c, err := New(ModeAuto)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	use, typ := c.Decide(compressible(1 << 16))
	if !use || typ != protocol.CompressionZstd {
		t.Fatalf("compressible probe: use=%v typ=%q", use, typ)
	}

	use, typ = c.Decide(incompressible(t, 1<<16))
	if use || typ != protocol.CompressionNone {
		t.Fatalf("incompressible probe: use=%v typ=%q", use, typ)
	}

	use, typ = c.Decide(nil)
	if use || typ != protocol.CompressionNone {
		t.Fatalf("empty probe: use=%v typ=%q", use, typ)
	}
}

func TestDecideFixedModes(t *testing.T) {
	on, err := New(ModeOn)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if use, typ := on.Decide(incompressible(t, 1024)); !use || typ != protocol.CompressionZstd {
		t.Fatal("mode on must always compress")
	}

	off, err := New(ModeOff)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if use, typ := off.Decide(compressible(1024)); use || typ != protocol.CompressionNone {
		t.Fatal("mode off must never compress")
	}
	if got := off.Compress([]byte("data")); !bytes.Equal(got, []byte("data")) {
		t.Fatal("mode off must pass chunks through")
	}
}

// Chunks must decompress independently of each other and of arrival order.
func TestChunksAreIndependentFrames(t *testing.T) {
	c, err := New(ModeOn)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	first := compressible(50_000)
	second := compressible(30_000)
	cf := c.Compress(first)
	cs := c.Compress(second)

	d := NewDecompressor()
	if err := d.Arm(protocol.CompressionZstd); err != nil {
		t.Fatalf("Arm: %v", err)
	}
	gotSecond, err := d.Decompress(cs)
	if err != nil {
		t.Fatalf("Decompress: %v", err)
	}
	gotFirst, err := d.Decompress(cf)
	if err != nil {
		t.Fatalf("Decompress: %v", err)
	}
	if !bytes.Equal(gotFirst, first) || !bytes.Equal(gotSecond, second) {
		t.Fatal("out-of-order decompression mismatch")
	}
}

func TestArm(t *testing.T) {
	d := NewDecompressor()
	if err := d.Arm(protocol.CompressionNone); err != nil {
		t.Fatalf("Arm none: %v", err)
	}
	got, err := d.Decompress([]byte("raw"))
	if err != nil || !bytes.Equal(got, []byte("raw")) {
		t.Fatal("none must pass through")
	}
	if err := d.Arm("lz4"); err == nil {
		t.Fatal("expected error for unknown compression type")
	}

	// Re-arming per file flips between modes.
	c, _ := New(ModeOn)
	packed := c.Compress([]byte("hello hello hello"))
	if err := d.Arm(protocol.CompressionZstd); err != nil {
		t.Fatalf("Arm zstd: %v", err)
	}
	got, err = d.Decompress(packed)
	if err != nil || !bytes.Equal(got, []byte("hello hello hello")) {
		t.Fatalf("zstd round trip: %q %v", got, err)
	}
	if err := d.Arm(protocol.CompressionNone); err != nil {
		t.Fatalf("re-arm none: %v", err)
	}
	if got, _ := d.Decompress([]byte("raw2")); !bytes.Equal(got, []byte("raw2")) {
		t.Fatal("re-armed none must pass through")
	}
}

func TestDecompressRejectsGarbage(t *testing.T) {
	d := NewDecompressor()
	if err := d.Arm(protocol.CompressionZstd); err != nil {
		t.Fatalf("Arm: %v", err)
	}
	if _, err := d.Decompress([]byte("definitely not zstd")); err == nil {
		t.Fatal("expected decompression failure")
	}
}
