package security

import "crypto/sha256"

// ChainedChecksum is a running SHA-256 accumulator over a sequence of byte
// strings: next = SHA-256(prev ∥ payload). The zero seed is the empty string.
//
// Two independent instances back the protocol: a per-file chain over the
// (possibly compressed) chunk payloads, and a per-session nonce chain seeded
// by the start nonce from the encrypted manifest.
type ChainedChecksum struct {
	prev []byte
}

// NewChainedChecksum returns a checksum seeded empty.
func NewChainedChecksum() *ChainedChecksum {
	return &ChainedChecksum{}
}

// Next advances the chain over payload and returns the new 32-byte value.
// The returned slice is owned by the caller; the chain keeps its own copy.
func (c *ChainedChecksum) Next(payload []byte) []byte {
	h := sha256.New()
	h.Write(c.prev)
	h.Write(payload)
	c.prev = h.Sum(nil)
	out := make([]byte, len(c.prev))
	copy(out, c.prev)
	return out
}
