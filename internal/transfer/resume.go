package transfer

import (
	"fmt"
	"io"
	"os"

	"github.com/kenneth/p2p-copy/internal/config"
	"github.com/kenneth/p2p-copy/internal/security"
)

// resumeHint is one receiver disclosure: bytes already on disk and the
// chained checksum over exactly those bytes.
type resumeHint struct {
	size  int64
	chain []byte
}

// Resume hashing always walks the file in the default chunk granularity so
// both endpoints compute identical chains regardless of a custom --chunk-size.
const resumeChunkSize = config.DefaultChunkSize

// chainOverPrefix computes the chained checksum over the first n bytes of
// the file, in resumeChunkSize steps. n must not exceed the file length.
func chainOverPrefix(path string, n int64, pool *bufPool) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var buf []byte
	if pool != nil && pool.size == resumeChunkSize {
		buf = pool.Get()
		defer pool.Put(buf)
	} else {
		buf = make([]byte, resumeChunkSize)
	}

	chain := security.NewChainedChecksum()
	var value []byte
	remaining := n
	for remaining > 0 {
		step := int64(len(buf))
		if remaining < step {
			step = remaining
		}
		if _, err := io.ReadFull(f, buf[:step]); err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		value = chain.Next(buf[:step])
		remaining -= step
	}
	return value, nil
}
