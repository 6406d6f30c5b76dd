// Package registry provides the concurrent keyed store behind the interface
// and class registries.
package registry

import (
	"cmp"
	"iter"
	"maps"
	"slices"
	"sync"
)

// Registry maps keys to values. Reads share a lock; every mutation is
// serialized. Iteration always walks a sorted snapshot.
type Registry[K cmp.Ordered, V any] struct {
	mu      sync.RWMutex
	entries map[K]V
}

// New creates an empty registry.
func New[K cmp.Ordered, V any]() *Registry[K, V] {
	return &Registry[K, V]{entries: make(map[K]V)}
}

// Register stores value under key, replacing any previous value.
func (r *Registry[K, V]) Register(key K, value V) {
	r.Swap(key, value)
}

// Swap stores value under key and returns the value it replaced.
func (r *Registry[K, V]) Swap(key K, value V) (old V, replaced bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	old, replaced = r.entries[key]
	r.entries[key] = value
	return old, replaced
}

// Get returns the value under key.
func (r *Registry[K, V]) Get(key K) (V, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.entries[key]
	return v, ok
}

// Has reports whether key is present.
func (r *Registry[K, V]) Has(key K) bool {
	_, ok := r.Get(key)
	return ok
}

// Delete removes key and reports whether it was present.
func (r *Registry[K, V]) Delete(key K) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.entries[key]
	delete(r.entries, key)
	return ok
}

// GetOrCreate returns the value under key, storing create() first if the
// key is absent. create runs at most once per key, under the write lock.
func (r *Registry[K, V]) GetOrCreate(key K, create func() V) V {
	if v, ok := r.Get(key); ok {
		return v
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if v, ok := r.entries[key]; ok {
		return v
	}
	v := create()
	r.entries[key] = v
	return v
}

// Len returns the number of entries.
func (r *Registry[K, V]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Keys returns every key in ascending order.
func (r *Registry[K, V]) Keys() []K {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.entries))
}

// All yields the entries in key order. It walks a snapshot taken when
// iteration starts, so the loop body may register or delete entries.
func (r *Registry[K, V]) All() iter.Seq2[K, V] {
	return func(yield func(K, V) bool) {
		r.mu.RLock()
		snapshot := maps.Clone(r.entries)
		r.mu.RUnlock()

		for _, k := range slices.Sorted(maps.Keys(snapshot)) {
			if !yield(k, snapshot[k]) {
				return
			}
		}
	}
}
