package transfer

import "sync"

// bufPool recycles chunk-sized read buffers between files of a session and
// between the resume hashing passes. Buffers for a different chunk size are
// handed to the GC rather than pooled.
type bufPool struct {
	size int
	pool sync.Pool
}

func newBufPool(size int) *bufPool {
	p := &bufPool{size: size}
	p.pool.New = func() any { return make([]byte, size) }
	return p
}

func (p *bufPool) Get() []byte {
	return p.pool.Get().([]byte)
}

func (p *bufPool) Put(buf []byte) {
	if cap(buf) != p.size {
		return
	}
	p.pool.Put(buf[:p.size])
}
