package protocol

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestPeekType(t *testing.T) {
	typ, err := PeekType([]byte(`{"type":"file_eof"}`))
	if err != nil || typ != TypeFileEOF {
		t.Fatalf("PeekType = %q, %v", typ, err)
	}
	if _, err := PeekType([]byte(`not json`)); err == nil {
		t.Fatal("expected error for malformed frame")
	}
	if _, err := PeekType([]byte(`{"path":"x"}`)); err == nil {
		t.Fatal("expected error for missing type")
	}
}

// The wire field names are fixed by the protocol; renaming a struct field
// must not silently change them.
func TestWireFieldNames(t *testing.T) {
	cases := []struct {
		msg  any
		want []string
	}{
		{NewHello("aa", RoleSender), []string{`"type":"hello"`, `"code_hash_hex"`, `"role":"sender"`, `"protocol_version":1`}},
		{FileHeader{Type: TypeFile, Path: "a/b", Size: 3, Compression: CompressionZstd, AppendFrom: 1}, []string{`"append_from":1`, `"compression":"zstd"`}},
		{ReceiverManifest{Type: TypeReceiverManifest, Entries: []ReceiverEntry{{Path: "p", Size: 1, ChainHex: "ff"}}}, []string{`"chain_hex":"ff"`}},
		{EncryptedManifest{Type: TypeEncManifest, Nonce: "00", HiddenManifest: "11"}, []string{`"nonce":"00"`, `"hidden_manifest":"11"`}},
		{EncryptedFileHeader{Type: TypeEncFile, HiddenFile: "22"}, []string{`"hidden_file":"22"`}},
		{Manifest{Type: TypeManifest, Resume: true, Entries: []ManifestEntry{{Path: "p", Size: 5}}}, []string{`"resume":true`, `"entries":[{"path":"p","size":5}]`}},
	}
	for _, tc := range cases {
		data, err := json.Marshal(tc.msg)
		if err != nil {
			t.Fatalf("marshal %T: %v", tc.msg, err)
		}
		for _, want := range tc.want {
			if !strings.Contains(string(data), want) {
				t.Errorf("%T: %s missing %s", tc.msg, data, want)
			}
		}
	}
}
