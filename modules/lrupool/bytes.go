package lrupool

// ByteBufferPool recycles byte slices keyed by length, bounded by total bytes.
type ByteBufferPool struct {
	pool *Pool[int, []byte]
}

// NewByteBufferPool creates a pool retaining at most maxBytes.
func NewByteBufferPool(maxBytes int) *ByteBufferPool {
	return &ByteBufferPool{pool: New(maxBytes, Config[int, []byte]{
		Create: func(n int) []byte { return make([]byte, n) },
		SizeOf: func(_ int, b []byte) int { return len(b) },
	})}
}

// Get returns a buffer of exactly n bytes. Contents are unspecified.
func (bp *ByteBufferPool) Get(n int) []byte {
	return bp.pool.Acquire(n)
}

// Put returns b to the pool. The caller must not use b afterwards.
func (bp *ByteBufferPool) Put(b []byte) {
	if len(b) == 0 {
		return
	}
	bp.pool.Add(len(b), b)
}

// Stats returns a snapshot of the counters.
func (bp *ByteBufferPool) Stats() Stats { return bp.pool.Stats() }
