package lrupool

import "sync/atomic"

// ResourcePool hands out values wrapped in a Resource that returns them to
// the pool on Close, after running a recycle hook.
type ResourcePool[K comparable, V any] struct {
	pool    *Pool[K, V]
	recycle func(key K, value V)
}

// NewResourcePool creates a resource pool. recycle may be nil.
func NewResourcePool[K comparable, V any](maxSize int, cfg Config[K, V], recycle func(key K, value V)) *ResourcePool[K, V] {
	return &ResourcePool[K, V]{pool: New(maxSize, cfg), recycle: recycle}
}

// Acquire returns a pooled or freshly created value for key.
func (rp *ResourcePool[K, V]) Acquire(key K) *Resource[K, V] {
	return &Resource[K, V]{key: key, value: rp.pool.Acquire(key), owner: rp}
}

// Pool exposes the underlying pool.
func (rp *ResourcePool[K, V]) Pool() *Pool[K, V] { return rp.pool }

// Resource is a value on loan from a ResourcePool.
type Resource[K comparable, V any] struct {
	key    K
	value  V
	owner  *ResourcePool[K, V]
	closed atomic.Bool
}

func (r *Resource[K, V]) Key() K   { return r.key }
func (r *Resource[K, V]) Value() V { return r.value }

// Close recycles the value and returns it to the pool. Only the first call
// has an effect.
func (r *Resource[K, V]) Close() {
	if !r.closed.CompareAndSwap(false, true) {
		return
	}
	if r.owner.recycle != nil {
		r.owner.recycle(r.key, r.value)
	}
	r.owner.pool.Add(r.key, r.value)
}
