package transfer

import "errors"

// Failure classes. Everything after pairing is fatal for the session; the
// class only decides the process exit code.
var (
	// ErrUsage marks invalid invocations (reserved for the CLI surface).
	ErrUsage = errors.New("usage error")
	// ErrHandshake marks failures before streaming: dial, pairing, ready
	// wait, resume exchange, or an empty manifest.
	ErrHandshake = errors.New("handshake failed")
	// ErrProtocol marks mid-stream protocol or integrity failures: bad
	// sequence, chain mismatch, AEAD failure, decompression failure,
	// unknown control, size mismatch.
	ErrProtocol = errors.New("protocol error")
)

// Endpoint exit codes.
const (
	ExitOK        = 0
	ExitUsage     = 2
	ExitHandshake = 3
	ExitProtocol  = 4
)

// ExitCode maps an error from Send or Receive to the process exit code.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, ErrUsage):
		return ExitUsage
	case errors.Is(err, ErrHandshake):
		return ExitHandshake
	default:
		return ExitProtocol
	}
}
