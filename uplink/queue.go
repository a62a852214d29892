// Package uplink implements C5, the uplink phase: the deterministic
// round-robin sender schedule, per-node neighbor/predecessor bookkeeping,
// and -- on the master -- the live topology graph and SME map the
// schedule computation worker watches.
package uplink

import (
	"errors"
	"sync"

	channels "gopkg.in/eapache/channels.v1"
)

// ErrEmpty is returned by Dequeue/Top when the queue has no elements.
var ErrEmpty = errors.New("uplink: queue is empty")

// Queue is an updatable FIFO keyed by a unique key: enqueuing an existing
// key replaces its value in place without disturbing queue order, exactly
// original_source/network_module/updatable_queue.h's semantics (spec
// §4.5: "newer replaces older, order preserved"). Ordering is kept in a
// gopkg.in/eapache/channels.v1 InfiniteChannel so a consumer can drain it
// either by polling Dequeue or by ranging over Out().
type Queue[K comparable, V any] struct {
	mu      sync.Mutex
	data    map[K]V
	deleted map[K]bool
	order   channels.Channel
}

// NewQueue constructs an empty updatable queue.
func NewQueue[K comparable, V any]() *Queue[K, V] {
	return &Queue[K, V]{
		data:    make(map[K]V),
		deleted: make(map[K]bool),
		order:   channels.NewInfiniteChannel(),
	}
}

// Enqueue adds val under key if key is new, or updates val in place
// (preserving position) if key was already queued. Returns true if this
// was a fresh insertion.
func (q *Queue[K, V]) Enqueue(key K, val V) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, existed := q.data[key]
	q.data[key] = val
	delete(q.deleted, key)
	if existed {
		return false
	}
	q.order.In() <- key
	return true
}

// HasKey reports whether key currently has a value queued.
func (q *Queue[K, V]) HasKey(key K) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.data[key]
	return ok
}

// GetByKey returns the value currently associated with key.
func (q *Queue[K, V]) GetByKey(key K) (V, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	v, ok := q.data[key]
	return v, ok
}

// RemoveElement removes key's value. The key's position in the order
// channel is lazily skipped by Dequeue rather than compacted eagerly.
func (q *Queue[K, V]) RemoveElement(key K) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.data[key]; !ok {
		return false
	}
	delete(q.data, key)
	q.deleted[key] = true
	return true
}

// Dequeue removes and returns the oldest still-live (key, value) pair.
// It never blocks on an empty queue: liveness is decided against the
// map under q.mu, not against the order channel directly, since
// channels.InfiniteChannel forwards asynchronously through an internal
// goroutine and may lag an Enqueue by a scheduling quantum -- only once
// the map confirms something is pending do we block on Out(), and that
// receive is then guaranteed to complete.
func (q *Queue[K, V]) Dequeue() (K, V, error) {
	for {
		q.mu.Lock()
		if len(q.data) == 0 {
			q.mu.Unlock()
			var zk K
			var zv V
			return zk, zv, ErrEmpty
		}
		q.mu.Unlock()

		raw, ok := <-q.order.Out()
		if !ok {
			var zk K
			var zv V
			return zk, zv, ErrEmpty
		}
		key := raw.(K)
		q.mu.Lock()
		if q.deleted[key] {
			delete(q.deleted, key)
			q.mu.Unlock()
			continue
		}
		val, present := q.data[key]
		if !present {
			q.mu.Unlock()
			continue
		}
		delete(q.data, key)
		q.mu.Unlock()
		return key, val, nil
	}
}

// Size returns the number of live entries (excludes lazily-deleted keys
// still sitting in the order channel).
func (q *Queue[K, V]) Size() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.data)
}

// IsEmpty reports whether the queue has no live entries.
func (q *Queue[K, V]) IsEmpty() bool {
	return q.Size() == 0
}
