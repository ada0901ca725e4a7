// Package protocol defines the wire messages exchanged between the two
// endpoints through the relay: JSON text frames for control and a compact
// binary frame for file chunks.
package protocol

import (
	"encoding/json"
	"fmt"
)

// Version of the endpoint protocol carried in the hello frame.
const Version = 1

// Text frame type discriminators.
const (
	TypeHello               = "hello"
	TypeManifest            = "manifest"
	TypeEncManifest         = "enc_manifest"
	TypeReceiverManifest    = "receiver_manifest"
	TypeEncReceiverManifest = "enc_receiver_manifest"
	TypeFile                = "file"
	TypeEncFile             = "enc_file"
	TypeReady               = "ready"
	TypeFileEOF             = "file_eof"
	TypeEOF                 = "eof"
)

// Endpoint roles presented to the relay.
const (
	RoleSender   = "sender"
	RoleReceiver = "receiver"
)

// Compression type tags carried in file headers.
const (
	CompressionNone = "none"
	CompressionZstd = "zstd"
)

// Hello is the first frame either endpoint sends. The relay pairs
// connections by CodeHashHex and opposite roles.
type Hello struct {
	Type            string `json:"type"`
	CodeHashHex     string `json:"code_hash_hex"`
	Role            string `json:"role"`
	ProtocolVersion int    `json:"protocol_version"`
}

// NewHello builds a hello frame for the given fingerprint and role.
func NewHello(codeHashHex, role string) Hello {
	return Hello{Type: TypeHello, CodeHashHex: codeHashHex, Role: role, ProtocolVersion: Version}
}

// ManifestEntry names one file of the transfer. Paths are relative,
// POSIX-style, and always start with the top-level input name.
type ManifestEntry struct {
	Path string `json:"path"`
	Size int64  `json:"size"`
}

// Manifest is the sender's ordered file list; its order is the transfer
// order. Resume asks the receiver to disclose what it already has.
type Manifest struct {
	Type    string          `json:"type"`
	Resume  bool            `json:"resume"`
	Entries []ManifestEntry `json:"entries"`
}

// EncryptedManifest wraps a Manifest under AEAD. Nonce is the hex of the
// sender-chosen 32-byte start nonce that seeds the session nonce chain.
type EncryptedManifest struct {
	Type           string `json:"type"`
	Nonce          string `json:"nonce"`
	HiddenManifest string `json:"hidden_manifest"`
}

// ReceiverEntry reports bytes already present on the receiver's disk for a
// path, together with the chained checksum over exactly those bytes.
type ReceiverEntry struct {
	Path     string `json:"path"`
	Size     int64  `json:"size"`
	ChainHex string `json:"chain_hex"`
}

// ReceiverManifest is the receiver's resume disclosure.
type ReceiverManifest struct {
	Type    string          `json:"type"`
	Entries []ReceiverEntry `json:"entries"`
}

// EncryptedReceiverManifest wraps a ReceiverManifest under AEAD.
type EncryptedReceiverManifest struct {
	Type           string `json:"type"`
	HiddenManifest string `json:"hidden_manifest"`
}

// FileHeader announces the next file body. AppendFrom is the offset the
// sender will stream from; 0 means the full file.
type FileHeader struct {
	Type        string `json:"type"`
	Path        string `json:"path"`
	Size        int64  `json:"size"`
	Compression string `json:"compression"`
	AppendFrom  int64  `json:"append_from"`
}

// EncryptedFileHeader wraps a FileHeader under AEAD.
type EncryptedFileHeader struct {
	Type       string `json:"type"`
	HiddenFile string `json:"hidden_file"`
}

// Control is a bare typed frame (ready, file_eof, eof).
type Control struct {
	Type string `json:"type"`
}

// PeekType extracts the type discriminator of a JSON text frame without
// committing to a message shape.
func PeekType(raw []byte) (string, error) {
	var probe struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return "", fmt.Errorf("malformed text frame: %w", err)
	}
	if probe.Type == "" {
		return "", fmt.Errorf("text frame missing type")
	}
	return probe.Type, nil
}
