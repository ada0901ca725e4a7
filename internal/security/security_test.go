package security

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"testing"

	"github.com/kenneth/p2p-copy/internal/protocol"
)

func TestPlainFingerprintIsSHA256(t *testing.T) {
	h, err := NewHandler("some code", false)
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}
	want := sha256.Sum256([]byte("some code"))
	if h.CodeHashHex() != hex.EncodeToString(want[:]) {
		t.Fatal("plaintext fingerprint must be SHA-256 of the code")
	}
	if h.Encrypting() {
		t.Fatal("handler must not encrypt")
	}
	// Seal/Open are pass-through without encryption.
	if got := h.Seal([]byte("x")); !bytes.Equal(got, []byte("x")) {
		t.Fatal("Seal changed data without encryption")
	}
}

func TestEncryptedFingerprintDiffersAndMatchesPeer(t *testing.T) {
	a, err := NewHandler("some code", true)
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}
	b, err := NewHandler("some code", true)
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}
	if a.CodeHashHex() != b.CodeHashHex() {
		t.Fatal("both endpoints must derive the same fingerprint")
	}
	plain := sha256.Sum256([]byte("some code"))
	if a.CodeHashHex() == hex.EncodeToString(plain[:]) {
		t.Fatal("argon2 fingerprint must differ from the plain hash")
	}
}

func TestManifestAndChunkLockstep(t *testing.T) {
	sender, err := NewHandler("lockstep", true)
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}
	receiver, err := NewHandler("lockstep", true)
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}

	manifest := []byte(`{"type":"manifest","resume":false,"entries":[]}`)
	enc, err := sender.BuildEncryptedManifest(manifest)
	if err != nil {
		t.Fatalf("BuildEncryptedManifest: %v", err)
	}
	if enc.Type != protocol.TypeEncManifest {
		t.Fatalf("type = %q", enc.Type)
	}
	got, err := receiver.OpenEncryptedManifest(enc)
	if err != nil {
		t.Fatalf("OpenEncryptedManifest: %v", err)
	}
	if !bytes.Equal(got, manifest) {
		t.Fatal("manifest round trip mismatch")
	}

	// Both chains were seeded and consumed one nonce for the manifest;
	// further operations stay in lockstep.
	for i := 0; i < 5; i++ {
		chunk := bytes.Repeat([]byte{byte(i)}, 100+i)
		plain, err := receiver.Open(sender.Seal(chunk))
		if err != nil {
			t.Fatalf("chunk %d: %v", i, err)
		}
		if !bytes.Equal(plain, chunk) {
			t.Fatalf("chunk %d round trip mismatch", i)
		}
	}
}

func TestOpenRejectsTamperedChunk(t *testing.T) {
	sender, _ := NewHandler("tamper", true)
	receiver, _ := NewHandler("tamper", true)
	enc, err := sender.BuildEncryptedManifest([]byte("{}"))
	if err != nil {
		t.Fatalf("BuildEncryptedManifest: %v", err)
	}
	if _, err := receiver.OpenEncryptedManifest(enc); err != nil {
		t.Fatalf("OpenEncryptedManifest: %v", err)
	}

	wire := sender.Seal([]byte("payload"))
	wire[len(wire)-1] ^= 0x01
	if _, err := receiver.Open(wire); err == nil {
		t.Fatal("expected authentication failure")
	}
}

func TestOpenEncryptedManifestBadNonce(t *testing.T) {
	h, _ := NewHandler("code", true)
	_, err := h.OpenEncryptedManifest(protocol.EncryptedManifest{Nonce: "zz", HiddenManifest: ""})
	if err == nil {
		t.Fatal("expected error for non-hex nonce")
	}
	_, err = h.OpenEncryptedManifest(protocol.EncryptedManifest{Nonce: "0011", HiddenManifest: ""})
	if err == nil {
		t.Fatal("expected error for short nonce")
	}
}

// The encrypted manifest parses as regular JSON on the wire.
func TestEncryptedManifestIsWireJSON(t *testing.T) {
	sender, _ := NewHandler("wire", true)
	enc, err := sender.BuildEncryptedManifest([]byte("{}"))
	if err != nil {
		t.Fatalf("BuildEncryptedManifest: %v", err)
	}
	data, err := json.Marshal(enc)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back protocol.EncryptedManifest
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(back.Nonce) != 2*StartNonceSize {
		t.Fatalf("nonce hex length %d, want %d", len(back.Nonce), 2*StartNonceSize)
	}
}
