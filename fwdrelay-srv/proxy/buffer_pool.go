package proxy

import (
	"sync"
)

const (
	// ForwardChunkSize is the size of one relay read (8KB). The first
	// response chunk inspected for the status line has the same bound.
	ForwardChunkSize = 8 * 1024
)

// bufferPool is a global pool of byte slices used for relaying data
// between connections. This reduces GC pressure by reusing buffers.
var bufferPool = sync.Pool{
	New: func() interface{} {
		buf := make([]byte, ForwardChunkSize)
		return &buf
	},
}

// getBuffer retrieves a buffer from the pool.
// The caller must return the buffer using putBuffer when done.
func getBuffer() *[]byte {
	return bufferPool.Get().(*[]byte)
}

// putBuffer returns a buffer to the pool for reuse.
func putBuffer(buf *[]byte) {
	if buf != nil {
		bufferPool.Put(buf)
	}
}
