// Package lrupool recycles expensive values (image payload buffers, codec
// state) keyed by their shape, evicting the least recently added value when
// the pool exceeds its size budget.
//
// A key may hold several values. Acquire returns the most recently added
// one; eviction removes the least recently added across all keys.
package lrupool

import (
	"fmt"
	"math"
	"sync"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// Config describes how values are created, sized and disposed of.
type Config[K comparable, V any] struct {
	// Create builds a value when the pool has none for the key. Required.
	Create func(key K) V
	// SizeOf reports the weight of a value. Default 1 per value.
	// Negative sizes panic.
	SizeOf func(key K, value V) int
	// OnEvicted runs for every value trimmed out of the pool.
	OnEvicted func(key K, value V)
}

// Stats is a snapshot of pool counters.
type Stats struct {
	Hits      uint64 `json:"hits"`
	Misses    uint64 `json:"misses"`
	Evictions uint64 `json:"evictions"`
	Entries   int    `json:"entries"`
	Size      int    `json:"size"`
	MaxSize   int    `json:"max_size"`
}

type entry[K comparable, V any] struct {
	key   K
	value V
	size  int
}

// Pool is a multi-value LRU pool.
//
// Ordering is kept by a simplelru list keyed by a monotonically increasing
// entry id (insertion order); byKey holds each key's ids as a stack.
//
// Thread-safety: all methods are safe for concurrent use. Create and
// OnEvicted run outside the pool lock.
type Pool[K comparable, V any] struct {
	cfg     Config[K, V]
	maxSize int

	mu     sync.Mutex
	order  *simplelru.LRU[uint64, entry[K, V]]
	byKey  map[K][]uint64
	nextID uint64
	size   int

	hits      uint64
	misses    uint64
	evictions uint64
}

// New creates a pool holding at most maxSize (as measured by SizeOf).
// Panics if maxSize <= 0 or cfg.Create is nil.
func New[K comparable, V any](maxSize int, cfg Config[K, V]) *Pool[K, V] {
	if maxSize <= 0 {
		panic(fmt.Sprintf("lrupool: maxSize must be > 0, got %d", maxSize))
	}
	if cfg.Create == nil {
		panic("lrupool: Config.Create is required")
	}
	if cfg.SizeOf == nil {
		cfg.SizeOf = func(K, V) int { return 1 }
	}

	// Capacity is enforced by size, never by entry count.
	order, err := simplelru.NewLRU[uint64, entry[K, V]](math.MaxInt, nil)
	if err != nil {
		panic(fmt.Sprintf("lrupool: %v", err))
	}

	return &Pool[K, V]{
		cfg:     cfg,
		maxSize: maxSize,
		order:   order,
		byKey:   make(map[K][]uint64),
	}
}

// Acquire removes and returns the most recently added value for key, or
// creates a new one.
func (p *Pool[K, V]) Acquire(key K) V {
	p.mu.Lock()
	if v, ok := p.popLocked(key); ok {
		p.hits++
		p.mu.Unlock()
		return v
	}
	p.misses++
	p.mu.Unlock()

	return p.cfg.Create(key)
}

func (p *Pool[K, V]) popLocked(key K) (V, bool) {
	ids := p.byKey[key]
	if len(ids) == 0 {
		var zero V
		return zero, false
	}

	id := ids[len(ids)-1]
	p.dropID(key, ids, len(ids)-1)

	e, ok := p.order.Peek(id)
	if !ok {
		panic("lrupool: key index references a missing entry")
	}
	p.order.Remove(id)
	p.size -= e.size
	p.checkLocked()
	return e.value, true
}

// Add returns value to the pool under key and trims to the size budget.
func (p *Pool[K, V]) Add(key K, value V) {
	size := p.cfg.SizeOf(key, value)
	if size < 0 {
		panic(fmt.Sprintf("lrupool: negative size %d for key %v", size, key))
	}

	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.order.Add(id, entry[K, V]{key: key, value: value, size: size})
	p.byKey[key] = append(p.byKey[key], id)
	p.size += size
	evicted := p.trimLocked(p.maxSize)
	p.mu.Unlock()

	p.evict(evicted)
}

// TrimToSize evicts least recently added values until the pool's size is at
// most maxSize.
func (p *Pool[K, V]) TrimToSize(maxSize int) {
	p.mu.Lock()
	evicted := p.trimLocked(maxSize)
	p.mu.Unlock()

	p.evict(evicted)
}

// Clear evicts every value.
func (p *Pool[K, V]) Clear() { p.TrimToSize(0) }

func (p *Pool[K, V]) trimLocked(maxSize int) []entry[K, V] {
	var evicted []entry[K, V]
	for p.size > maxSize {
		id, e, ok := p.order.RemoveOldest()
		if !ok {
			panic(fmt.Sprintf("lrupool: empty pool reports size %d", p.size))
		}

		ids := p.byKey[e.key]
		for i, candidate := range ids {
			if candidate == id {
				p.dropID(e.key, ids, i)
				break
			}
		}

		p.size -= e.size
		p.evictions++
		p.checkLocked()
		evicted = append(evicted, e)
	}
	return evicted
}

func (p *Pool[K, V]) dropID(key K, ids []uint64, i int) {
	ids = append(ids[:i], ids[i+1:]...)
	if len(ids) == 0 {
		delete(p.byKey, key)
		return
	}
	p.byKey[key] = ids
}

func (p *Pool[K, V]) checkLocked() {
	if p.size < 0 || (p.order.Len() == 0 && p.size != 0) {
		panic(fmt.Sprintf("lrupool: inconsistent size %d with %d entries", p.size, p.order.Len()))
	}
}

func (p *Pool[K, V]) evict(evicted []entry[K, V]) {
	if p.cfg.OnEvicted == nil {
		return
	}
	for _, e := range evicted {
		p.cfg.OnEvicted(e.key, e.value)
	}
}

// Size returns the total weight of pooled values.
func (p *Pool[K, V]) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.size
}

// MaxSize returns the configured budget.
func (p *Pool[K, V]) MaxSize() int { return p.maxSize }

// Stats returns a snapshot of the counters.
func (p *Pool[K, V]) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Hits:      p.hits,
		Misses:    p.misses,
		Evictions: p.evictions,
		Entries:   p.order.Len(),
		Size:      p.size,
		MaxSize:   p.maxSize,
	}
}
