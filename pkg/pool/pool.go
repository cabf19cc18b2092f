// Package pool provides a fixed ring of fixed-size byte buffers.
//
// Buffers are never released. Acquire hands out buffer counter mod N, so a
// buffer is implicitly reused after N further acquisitions. Callers must be
// done with a buffer within that window; nothing enforces it.
package pool

import "sync/atomic"

// Pool is a fixed-horizon buffer ring. Acquire is safe for concurrent use.
type Pool struct {
	bufs    [][]byte
	size    int
	counter atomic.Uint64
}

// New allocates n buffers of size bytes each.
func New(n, size int) *Pool {
	if n <= 0 {
		n = 1
	}
	storage := make([]byte, n*size)
	bufs := make([][]byte, n)
	for i := range bufs {
		bufs[i] = storage[i*size : (i+1)*size : (i+1)*size]
	}
	return &Pool{bufs: bufs, size: size}
}

// Len returns the number of buffers in the ring.
func (p *Pool) Len() int {
	return len(p.bufs)
}

// BufferSize returns the capacity of each buffer.
func (p *Pool) BufferSize() int {
	return p.size
}

// Acquire returns the next buffer sliced to n bytes, or nil if n exceeds the
// buffer size.
func (p *Pool) Acquire(n int) []byte {
	if n < 0 || n > p.size {
		return nil
	}
	idx := (p.counter.Add(1) - 1) % uint64(len(p.bufs))
	return p.bufs[idx][:n]
}

// Acquired returns the number of successful acquisitions so far.
func (p *Pool) Acquired() uint64 {
	return p.counter.Load()
}
