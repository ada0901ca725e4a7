// Package security derives the pairing fingerprint and content key from the
// shared code and implements the authenticated-encryption overlay with its
// deterministic nonce chain.
package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/argon2"

	"github.com/kenneth/p2p-copy/internal/protocol"
)

// Domain-separator salts for the two argon2id derivations. They are fixed by
// the wire protocol; changing either breaks interop.
const (
	codeHashSalt = "code_hash used for hello-match"
	cipherSalt   = "cipher used for E2E-encryption"
)

// Argon2id parameters: time cost 3, 32 MiB, parallelism 8, 32-byte output.
const (
	argonTime    = 3
	argonMemory  = 32 * 1024
	argonThreads = 8
	keyLen       = 32
)

// StartNonceSize is the length of the random seed disclosed in the
// encrypted manifest.
const StartNonceSize = 32

// gcmNonceSize is the AEAD nonce length; each nonce is the leading 12 bytes
// of the current 32-byte nonce-chain value.
const gcmNonceSize = 12

func deriveKey(code string, salt string) []byte {
	return argon2.IDKey([]byte(code), []byte(salt), argonTime, argonMemory, argonThreads, keyLen)
}

// Handler holds the per-session security state of one endpoint: the code
// fingerprint used for relay pairing and, when encryption is enabled, the
// AES-256-GCM cipher plus the nonce chain.
//
// Every AEAD call consumes exactly one nonce, in the order the operations
// appear on the wire. Both endpoints must perform the same operations in the
// same order to stay in lockstep.
type Handler struct {
	encrypt  bool
	codeHash []byte
	aead     cipher.AEAD
	nonces   *ChainedChecksum
}

// NewHandler derives the session material from the shared code. Without
// encryption the fingerprint degrades to a plain SHA-256 of the code and no
// key is derived.
func NewHandler(code string, encrypt bool) (*Handler, error) {
	if !encrypt {
		sum := sha256.Sum256([]byte(code))
		return &Handler{codeHash: sum[:]}, nil
	}
	block, err := aes.NewCipher(deriveKey(code, cipherSalt))
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("init GCM: %w", err)
	}
	return &Handler{
		encrypt:  true,
		codeHash: deriveKey(code, codeHashSalt),
		aead:     aead,
		nonces:   NewChainedChecksum(),
	}, nil
}

// Encrypting reports whether the AEAD overlay is active.
func (h *Handler) Encrypting() bool { return h.encrypt }

// CodeHashHex returns the pairing fingerprint for the hello frame.
func (h *Handler) CodeHashHex() string { return hex.EncodeToString(h.codeHash) }

// AdvanceNonces feeds seed into the nonce chain without performing an AEAD
// operation. Used with the start nonce disclosed in the encrypted manifest.
func (h *Handler) AdvanceNonces(seed []byte) {
	h.nonces.Next(seed)
}

func (h *Handler) nextNonce() []byte {
	return h.nonces.Next(nil)[:gcmNonceSize]
}

// Seal encrypts chunk, consuming the next nonce. Without encryption the
// input is returned unchanged and no nonce is consumed.
func (h *Handler) Seal(chunk []byte) []byte {
	if !h.encrypt {
		return chunk
	}
	return h.aead.Seal(nil, h.nextNonce(), chunk, nil)
}

// Open decrypts chunk, consuming the next nonce. Without encryption the
// input is returned unchanged.
func (h *Handler) Open(chunk []byte) ([]byte, error) {
	if !h.encrypt {
		return chunk, nil
	}
	plain, err := h.aead.Open(nil, h.nextNonce(), chunk, nil)
	if err != nil {
		return nil, fmt.Errorf("authenticated decryption failed: %w", err)
	}
	return plain, nil
}

// BuildEncryptedManifest picks a random start nonce, seeds the nonce chain
// with it, and wraps the serialized manifest for the wire.
func (h *Handler) BuildEncryptedManifest(manifestJSON []byte) (protocol.EncryptedManifest, error) {
	start := make([]byte, StartNonceSize)
	if _, err := rand.Read(start); err != nil {
		return protocol.EncryptedManifest{}, fmt.Errorf("generate start nonce: %w", err)
	}
	h.AdvanceNonces(start)
	return protocol.EncryptedManifest{
		Type:           protocol.TypeEncManifest,
		Nonce:          hex.EncodeToString(start),
		HiddenManifest: hex.EncodeToString(h.Seal(manifestJSON)),
	}, nil
}

// OpenEncryptedManifest seeds the nonce chain from the disclosed start nonce
// and decrypts the wrapped manifest.
func (h *Handler) OpenEncryptedManifest(msg protocol.EncryptedManifest) ([]byte, error) {
	start, err := hex.DecodeString(msg.Nonce)
	if err != nil {
		return nil, fmt.Errorf("decode start nonce: %w", err)
	}
	if len(start) != StartNonceSize {
		return nil, fmt.Errorf("start nonce must be %d bytes, got %d", StartNonceSize, len(start))
	}
	ct, err := hex.DecodeString(msg.HiddenManifest)
	if err != nil {
		return nil, fmt.Errorf("decode hidden manifest: %w", err)
	}
	h.AdvanceNonces(start)
	return h.Open(ct)
}

// SealHex encrypts payload and returns it hex-encoded, as carried by the
// enc_file and enc_receiver_manifest frames.
func (h *Handler) SealHex(payload []byte) string {
	return hex.EncodeToString(h.Seal(payload))
}

// OpenHex decrypts a hex-encoded ciphertext.
func (h *Handler) OpenHex(encoded string) ([]byte, error) {
	ct, err := hex.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode ciphertext: %w", err)
	}
	return h.Open(ct)
}
