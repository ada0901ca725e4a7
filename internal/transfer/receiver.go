package transfer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/kenneth/p2p-copy/internal/compress"
	"github.com/kenneth/p2p-copy/internal/config"
	"github.com/kenneth/p2p-copy/internal/protocol"
	"github.com/kenneth/p2p-copy/internal/security"
)

// Receive runs one receive session against the relay. The returned error
// maps to the process exit code via ExitCode.
func Receive(ctx context.Context, log *logrus.Logger, opts config.Options) error {
	if log == nil {
		log = logrus.StandardLogger()
	}
	sec, err := security.NewHandler(opts.Code, opts.Encrypt)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrHandshake, err)
	}
	out := opts.Out
	if out == "" {
		out = "."
	}
	if err := os.MkdirAll(out, 0o755); err != nil {
		return fmt.Errorf("%w: create output directory: %v", ErrHandshake, err)
	}

	conn, err := dial(ctx, opts.Server)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrHandshake, err)
	}
	defer conn.Close()

	if err := sendJSON(conn, protocol.NewHello(sec.CodeHashHex(), protocol.RoleReceiver)); err != nil {
		return fmt.Errorf("%w: %v", ErrHandshake, err)
	}
	// The receiver signals readiness itself; the relay stays a blind
	// forwarder. The frame reaches the sender once pairing completes.
	if err := sendJSON(conn, protocol.Control{Type: protocol.TypeReady}); err != nil {
		return fmt.Errorf("%w: %v", ErrHandshake, err)
	}

	r := &receiver{
		conn: conn,
		sec:  sec,
		comp: compress.NewDecompressor(),
		log:  log,
		out:  out,
		pool: newBufPool(config.DefaultChunkSize),
	}
	defer r.abandon()
	return r.loop(ctx)
}

// receiver holds the dispatch-loop state. At most one file is open at a
// time; the chunk fields are reset by each file header.
type receiver struct {
	conn *websocket.Conn
	sec  *security.Handler
	comp *compress.Compressor
	log  *logrus.Logger
	out  string
	pool *bufPool

	started bool // a manifest or file frame has been processed

	file              *os.File
	filePath          string
	chain             *security.ChainedChecksum
	expectedSeq       uint64
	bytesWritten      int64
	expectedRemaining int64
}

// classify wraps mid-stream failures as protocol errors and pre-stream
// failures as handshake errors.
func (r *receiver) classify(format string, args ...any) error {
	class := ErrHandshake
	if r.started {
		class = ErrProtocol
	}
	return fmt.Errorf("%w: %s", class, fmt.Sprintf(format, args...))
}

// abandon closes a half-written file on abnormal exit. The partial bytes
// stay on disk; they are the substrate for a later resume.
func (r *receiver) abandon() {
	if r.file != nil {
		r.file.Close()
		r.file = nil
	}
}

func (r *receiver) loop(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return r.classify("%v", err)
		}
		kind, data, err := readFrame(r.conn, 0)
		if err != nil {
			return r.classify("read frame: %v", err)
		}
		switch kind {
		case websocket.TextMessage:
			done, err := r.dispatchText(data)
			if err != nil {
				return err
			}
			if done {
				return nil
			}
		case websocket.BinaryMessage:
			if err := r.handleChunk(data); err != nil {
				return err
			}
		default:
			return r.classify("unsupported frame kind %d", kind)
		}
	}
}

func (r *receiver) dispatchText(data []byte) (done bool, err error) {
	typ, err := protocol.PeekType(data)
	if err != nil {
		return false, r.classify("%v", err)
	}
	switch typ {
	case protocol.TypeHello:
		// A peer hello leaking through the relay carries no state.
		return false, nil

	case protocol.TypeEncManifest:
		if !r.sec.Encrypting() {
			return false, r.classify("encrypted manifest but encryption is not enabled")
		}
		if r.file != nil {
			return false, r.classify("manifest while a file is open")
		}
		var em protocol.EncryptedManifest
		if err := json.Unmarshal(data, &em); err != nil {
			return false, r.classify("parse enc_manifest: %v", err)
		}
		plain, err := r.sec.OpenEncryptedManifest(em)
		if err != nil {
			return false, r.classify("%v", err)
		}
		return false, r.handleManifest(plain)

	case protocol.TypeManifest:
		if r.file != nil {
			return false, r.classify("manifest while a file is open")
		}
		return false, r.handleManifest(data)

	case protocol.TypeEncFile:
		if !r.sec.Encrypting() {
			return false, r.classify("encrypted file header but encryption is not enabled")
		}
		if r.file != nil {
			return false, r.classify("file header while a file is open")
		}
		var ef protocol.EncryptedFileHeader
		if err := json.Unmarshal(data, &ef); err != nil {
			return false, r.classify("parse enc_file: %v", err)
		}
		plain, err := r.sec.OpenHex(ef.HiddenFile)
		if err != nil {
			return false, r.classify("%v", err)
		}
		var header protocol.FileHeader
		if err := json.Unmarshal(plain, &header); err != nil {
			return false, r.classify("parse file header: %v", err)
		}
		return false, r.openDestination(header)

	case protocol.TypeFile:
		if r.file != nil {
			return false, r.classify("file header while a file is open")
		}
		var header protocol.FileHeader
		if err := json.Unmarshal(data, &header); err != nil {
			return false, r.classify("parse file header: %v", err)
		}
		return false, r.openDestination(header)

	case protocol.TypeFileEOF:
		if r.file == nil {
			return false, r.classify("file_eof without an open file")
		}
		return false, r.closeFile()

	case protocol.TypeEOF:
		if r.file != nil {
			return false, r.classify("eof while a file is open")
		}
		r.log.Info("receive complete")
		return true, nil
	}
	return false, r.classify("unexpected %s frame", typ)
}

// handleManifest inventories local state for every announced path and, when
// the sender asked for resume, replies with the disclosure. Sealing the
// encrypted reply consumes one nonce, mirroring the sender's decrypt.
func (r *receiver) handleManifest(data []byte) error {
	var manifest protocol.Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return r.classify("parse manifest: %v", err)
	}
	r.started = true

	reply := protocol.ReceiverManifest{Type: protocol.TypeReceiverManifest, Entries: []protocol.ReceiverEntry{}}
	for _, entry := range manifest.Entries {
		dest, err := r.resolveDest(entry.Path)
		if err != nil {
			return r.classify("%v", err)
		}
		info, err := os.Stat(dest)
		if err != nil || !info.Mode().IsRegular() || info.Size() == 0 {
			continue
		}
		value, err := chainOverPrefix(dest, info.Size(), r.pool)
		if err != nil {
			return r.classify("%v", err)
		}
		reply.Entries = append(reply.Entries, protocol.ReceiverEntry{
			Path:     entry.Path,
			Size:     info.Size(),
			ChainHex: fmt.Sprintf("%x", value),
		})
	}

	if !manifest.Resume {
		return nil
	}
	if !r.sec.Encrypting() {
		if err := sendJSON(r.conn, reply); err != nil {
			return r.classify("send receiver manifest: %v", err)
		}
		return nil
	}
	plain, err := json.Marshal(reply)
	if err != nil {
		return r.classify("%v", err)
	}
	enc := protocol.EncryptedReceiverManifest{
		Type:           protocol.TypeEncReceiverManifest,
		HiddenManifest: r.sec.SealHex(plain),
	}
	if err := sendJSON(r.conn, enc); err != nil {
		return r.classify("send receiver manifest: %v", err)
	}
	return nil
}

// resolveDest maps a wire path beneath the output directory, refusing
// anything that would escape it.
func (r *receiver) resolveDest(wirePath string) (string, error) {
	if wirePath == "" {
		return "", fmt.Errorf("empty path in manifest")
	}
	clean := path.Clean(wirePath)
	if path.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("path %q escapes the output directory", wirePath)
	}
	return filepath.Join(r.out, filepath.FromSlash(clean)), nil
}

// openDestination applies the open rule from the file header: append only
// when the local file length equals append_from exactly, truncate otherwise.
func (r *receiver) openDestination(header protocol.FileHeader) error {
	if header.Size < 0 || header.AppendFrom < 0 || header.AppendFrom > header.Size {
		return r.classify("file header with impossible sizes: size=%d append_from=%d", header.Size, header.AppendFrom)
	}
	dest, err := r.resolveDest(header.Path)
	if err != nil {
		return r.classify("%v", err)
	}
	r.started = true
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return r.classify("create directories for %s: %v", header.Path, err)
	}

	appending := false
	if header.AppendFrom > 0 {
		if info, err := os.Stat(dest); err == nil && info.Mode().IsRegular() && info.Size() == header.AppendFrom {
			appending = true
		}
	}

	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	r.expectedRemaining = header.Size
	if appending {
		flags = os.O_WRONLY | os.O_APPEND
		r.expectedRemaining = header.Size - header.AppendFrom
	}
	f, err := os.OpenFile(dest, flags, 0o644)
	if err != nil {
		return r.classify("open %s: %v", dest, err)
	}

	if err := r.comp.Arm(header.Compression); err != nil {
		f.Close()
		return r.classify("%v", err)
	}
	r.file = f
	r.filePath = header.Path
	r.chain = security.NewChainedChecksum()
	r.expectedSeq = 0
	r.bytesWritten = 0
	r.log.WithFields(logrus.Fields{
		"path":        header.Path,
		"size":        header.Size,
		"append":      appending,
		"compression": header.Compression,
	}).Info("receiving file")
	return nil
}

// handleChunk validates sequence and chained checksum, then appends the
// decompressed payload to the open file.
func (r *receiver) handleChunk(data []byte) error {
	if r.file == nil {
		return r.classify("chunk frame without an open file")
	}
	seq, chainValue, wire, err := protocol.DecodeChunk(data)
	if err != nil {
		return r.classify("%v", err)
	}
	if seq != r.expectedSeq {
		return r.classify("chunk sequence %d, expected %d", seq, r.expectedSeq)
	}
	payload, err := r.sec.Open(wire)
	if err != nil {
		return r.classify("%v", err)
	}
	if !bytes.Equal(r.chain.Next(payload), chainValue) {
		return r.classify("chained checksum mismatch at chunk %d of %s", seq, r.filePath)
	}
	plain, err := r.comp.Decompress(payload)
	if err != nil {
		return r.classify("%v", err)
	}
	if _, err := r.file.Write(plain); err != nil {
		return r.classify("write %s: %v", r.filePath, err)
	}
	r.bytesWritten += int64(len(plain))
	r.expectedSeq++
	return nil
}

// closeFile finalizes the open file at file_eof and enforces the size
// invariant.
func (r *receiver) closeFile() error {
	f := r.file
	r.file = nil
	if err := f.Close(); err != nil {
		return r.classify("close %s: %v", r.filePath, err)
	}
	if r.bytesWritten != r.expectedRemaining {
		return r.classify("%s: wrote %d bytes, expected %d", r.filePath, r.bytesWritten, r.expectedRemaining)
	}
	r.log.WithFields(logrus.Fields{"path": r.filePath, "bytes": r.bytesWritten}).Info("file complete")
	return nil
}
