// Package transfer implements the two endpoint pipelines: the sender, which
// streams a manifest of files as chained-checksum chunk frames, and the
// receiver, which validates and writes them. Both meet at the relay and
// treat every failure after pairing as fatal for the session; recovery is a
// later session with resume enabled.
package transfer

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/kenneth/p2p-copy/internal/compress"
	"github.com/kenneth/p2p-copy/internal/config"
	"github.com/kenneth/p2p-copy/internal/protocol"
	"github.com/kenneth/p2p-copy/internal/security"
)

// Send runs one send session against the relay. The returned error maps to
// the process exit code via ExitCode.
func Send(ctx context.Context, log *logrus.Logger, opts config.Options) error {
	if log == nil {
		log = logrus.StandardLogger()
	}
	sec, err := security.NewHandler(opts.Code, opts.Encrypt)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrHandshake, err)
	}
	sources, err := collectSources(opts.Files)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrHandshake, err)
	}
	if len(sources) == 0 {
		return fmt.Errorf("%w: no files to send", ErrHandshake)
	}
	comp, err := compress.New(opts.Compress)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUsage, err)
	}

	conn, err := dial(ctx, opts.Server)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrHandshake, err)
	}
	defer conn.Close()

	if err := sendJSON(conn, protocol.NewHello(sec.CodeHashHex(), protocol.RoleSender)); err != nil {
		return fmt.Errorf("%w: %v", ErrHandshake, err)
	}
	if err := awaitReady(conn); err != nil {
		return err
	}

	manifest := protocol.Manifest{
		Type:    protocol.TypeManifest,
		Resume:  opts.Resume,
		Entries: manifestEntries(sources),
	}
	if err := sendManifest(conn, sec, manifest); err != nil {
		return err
	}

	var hints map[string]resumeHint
	if opts.Resume {
		hints, err = awaitReceiverManifest(conn, sec)
		if err != nil {
			return err
		}
	}

	s := &sender{
		conn:      conn,
		sec:       sec,
		comp:      comp,
		log:       log,
		chunkSize: opts.EffectiveChunkSize(),
	}
	s.pool = newBufPool(s.chunkSize)

	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrProtocol, err)
		}
		if err := s.sendFile(src, hints[src.wirePath]); err != nil {
			return err
		}
	}

	if err := sendJSON(conn, protocol.Control{Type: protocol.TypeEOF}); err != nil {
		return fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	log.WithField("files", len(sources)).Info("send complete")
	return nil
}

// awaitReady blocks until the receiver signals presence. Any non-hello text
// frame counts; binary traffic before readiness is a protocol violation.
func awaitReady(conn *websocket.Conn) error {
	for {
		kind, data, err := readFrame(conn, handshakeTimeout)
		if err != nil {
			return fmt.Errorf("%w: waiting for ready: %v", ErrHandshake, err)
		}
		if kind != websocket.TextMessage {
			return fmt.Errorf("%w: binary frame before ready", ErrHandshake)
		}
		typ, err := protocol.PeekType(data)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrHandshake, err)
		}
		if typ != protocol.TypeHello {
			return nil
		}
	}
}

func sendManifest(conn *websocket.Conn, sec *security.Handler, manifest protocol.Manifest) error {
	if !sec.Encrypting() {
		if err := sendJSON(conn, manifest); err != nil {
			return fmt.Errorf("%w: %v", ErrHandshake, err)
		}
		return nil
	}
	plain, err := json.Marshal(manifest)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrHandshake, err)
	}
	enc, err := sec.BuildEncryptedManifest(plain)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrHandshake, err)
	}
	if err := sendJSON(conn, enc); err != nil {
		return fmt.Errorf("%w: %v", ErrHandshake, err)
	}
	return nil
}

// awaitReceiverManifest collects the receiver's resume disclosure. Accepts
// the plaintext and, under encryption, the wrapped variant; decrypting the
// latter consumes one nonce.
func awaitReceiverManifest(conn *websocket.Conn, sec *security.Handler) (map[string]resumeHint, error) {
	for {
		kind, data, err := readFrame(conn, handshakeTimeout)
		if err != nil {
			return nil, fmt.Errorf("%w: waiting for receiver manifest: %v", ErrHandshake, err)
		}
		if kind != websocket.TextMessage {
			return nil, fmt.Errorf("%w: binary frame instead of receiver manifest", ErrHandshake)
		}
		typ, err := protocol.PeekType(data)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrHandshake, err)
		}
		switch typ {
		case protocol.TypeHello:
			continue
		case protocol.TypeReceiverManifest:
			var rm protocol.ReceiverManifest
			if err := json.Unmarshal(data, &rm); err != nil {
				return nil, fmt.Errorf("%w: parse receiver manifest: %v", ErrHandshake, err)
			}
			return hintsFromEntries(rm.Entries)
		case protocol.TypeEncReceiverManifest:
			if !sec.Encrypting() {
				return nil, fmt.Errorf("%w: encrypted receiver manifest without encryption enabled", ErrHandshake)
			}
			var em protocol.EncryptedReceiverManifest
			if err := json.Unmarshal(data, &em); err != nil {
				return nil, fmt.Errorf("%w: parse receiver manifest: %v", ErrHandshake, err)
			}
			plain, err := sec.OpenHex(em.HiddenManifest)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrHandshake, err)
			}
			var rm protocol.ReceiverManifest
			if err := json.Unmarshal(plain, &rm); err != nil {
				return nil, fmt.Errorf("%w: parse receiver manifest: %v", ErrHandshake, err)
			}
			return hintsFromEntries(rm.Entries)
		default:
			return nil, fmt.Errorf("%w: unexpected %s frame instead of receiver manifest", ErrHandshake, typ)
		}
	}
}

func hintsFromEntries(entries []protocol.ReceiverEntry) (map[string]resumeHint, error) {
	hints := make(map[string]resumeHint, len(entries))
	for _, e := range entries {
		chain, err := hex.DecodeString(e.ChainHex)
		if err != nil || len(chain) != protocol.ChainSize {
			return nil, fmt.Errorf("%w: bad chain in receiver manifest for %s", ErrHandshake, e.Path)
		}
		hints[e.Path] = resumeHint{size: e.Size, chain: chain}
	}
	return hints, nil
}

type sender struct {
	conn      *websocket.Conn
	sec       *security.Handler
	comp      *compress.Compressor
	log       *logrus.Logger
	pool      *bufPool
	chunkSize int
}

// sendFile runs the per-file transfer: resume decision, compression
// decision on the first chunk, header, then the chunk stream and file_eof.
func (s *sender) sendFile(src sourceFile, hint resumeHint) error {
	appendFrom, skip, err := s.resumeDecision(src, hint)
	if err != nil {
		return err
	}
	if skip {
		s.log.WithField("path", src.wirePath).Info("receiver already has file, skipping")
		return nil
	}

	f, err := os.Open(src.local)
	if err != nil {
		return fmt.Errorf("%w: open %s: %v", ErrProtocol, src.local, err)
	}
	defer f.Close()
	if appendFrom > 0 {
		if _, err := f.Seek(appendFrom, io.SeekStart); err != nil {
			return fmt.Errorf("%w: seek %s: %v", ErrProtocol, src.local, err)
		}
	}

	buf := s.pool.Get()
	defer s.pool.Put(buf)

	// The compression decision probes the first body chunk; that same chunk
	// is the first one sent.
	first, err := readChunk(f, buf)
	if err != nil {
		return fmt.Errorf("%w: read %s: %v", ErrProtocol, src.local, err)
	}
	use, ctype := s.comp.Decide(buf[:first])

	header := protocol.FileHeader{
		Type:        protocol.TypeFile,
		Path:        src.wirePath,
		Size:        src.size,
		Compression: ctype,
		AppendFrom:  appendFrom,
	}
	if err := s.sendHeader(header); err != nil {
		return err
	}
	s.log.WithFields(logrus.Fields{
		"path":        src.wirePath,
		"size":        src.size,
		"append_from": appendFrom,
		"compression": ctype,
	}).Info("sending file")

	chain := security.NewChainedChecksum()
	var seq uint64
	n := first
	for n > 0 {
		payload := buf[:n]
		if use {
			payload = s.comp.Compress(payload)
		}
		value := chain.Next(payload)
		wire := s.sec.Seal(payload)
		frame, err := protocol.EncodeChunk(seq, value, wire)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrProtocol, err)
		}
		if err := s.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
			return fmt.Errorf("%w: send chunk: %v", ErrProtocol, err)
		}
		seq++
		if n, err = readChunk(f, buf); err != nil {
			return fmt.Errorf("%w: read %s: %v", ErrProtocol, src.local, err)
		}
	}

	if err := sendJSON(s.conn, protocol.Control{Type: protocol.TypeFileEOF}); err != nil {
		return fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	return nil
}

// resumeDecision recomputes the chained checksum over the receiver-claimed
// prefix. A match trusts the receiver's bytes: skip when complete, append
// otherwise. Any mismatch falls back to a full overwrite.
func (s *sender) resumeDecision(src sourceFile, hint resumeHint) (appendFrom int64, skip bool, err error) {
	if hint.size <= 0 || hint.size > src.size {
		return 0, false, nil
	}
	local, err := chainOverPrefix(src.local, hint.size, s.pool)
	if err != nil {
		return 0, false, fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	if !bytes.Equal(local, hint.chain) {
		s.log.WithField("path", src.wirePath).Info("receiver prefix does not match, resending full file")
		return 0, false, nil
	}
	return hint.size, hint.size == src.size, nil
}

func (s *sender) sendHeader(header protocol.FileHeader) error {
	if !s.sec.Encrypting() {
		if err := sendJSON(s.conn, header); err != nil {
			return fmt.Errorf("%w: %v", ErrProtocol, err)
		}
		return nil
	}
	plain, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	enc := protocol.EncryptedFileHeader{
		Type:       protocol.TypeEncFile,
		HiddenFile: s.sec.SealHex(plain),
	}
	if err := sendJSON(s.conn, enc); err != nil {
		return fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	return nil
}

// readChunk fills buf from f and reports the number of bytes read; 0 means
// end of file.
func readChunk(f *os.File, buf []byte) (int, error) {
	n, err := io.ReadFull(f, buf)
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return n, nil
	}
	return n, err
}
