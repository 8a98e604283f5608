package buffer

import "sync"

// ChunkSize is the unit of streaming I/O throughout the proxy. Media payloads
// are relayed and spooled in chunks of this size rather than buffered whole.
const ChunkSize = 8 * 1024

// Pool hands out fixed-size copy buffers for streaming I/O, avoiding a fresh
// allocation per chunk on the relay and download hot paths. Buffers are
// recycled through a sync.Pool, so the steady-state allocation rate is near
// zero regardless of how many concurrent transfers are in flight.
type Pool struct {
	pool sync.Pool
	size int
}

// NewPool creates a buffer pool handing out buffers of the given size.
// A non-positive size falls back to ChunkSize.
func NewPool(size int) *Pool {
	if size <= 0 {
		size = ChunkSize
	}
	return &Pool{
		pool: sync.Pool{
			New: func() interface{} {
				return make([]byte, size)
			},
		},
		size: size,
	}
}

// Get returns a buffer from the pool.
func (p *Pool) Get() []byte {
	return p.pool.Get().([]byte)
}

// Put returns a buffer to the pool. Buffers of the wrong size are dropped so
// a misbehaving caller cannot poison the pool.
func (p *Pool) Put(b []byte) {
	if len(b) != p.size {
		return
	}
	p.pool.Put(b)
}

// Size returns the size of buffers handed out by this pool.
func (p *Pool) Size() int {
	return p.size
}
