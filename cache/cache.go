// Package cache provides a bounded in-memory LRU cache of values keyed
// by content identity. Because keys are content-addressed, re-inserting
// a value under a key already present is always semantically identical
// content, so insertion never overwrites.
package cache

import (
	"fmt"
	"sync"

	"github.com/Mu-L/linera-protocol/metrics"
	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// DefaultCapacity is the cache capacity used when none is configured.
const DefaultCapacity = 10_000

// Entry is a key-value pair held by the cache.
type Entry[K comparable, V any] struct {
	Key   K
	Value V
}

// Cache is a bounded LRU cache from a comparable key to an owned
// value. The capacity is fixed at construction; each insertion beyond
// capacity evicts exactly the least-recently-used entry.
//
// One coarse mutex guards the whole cache. Operations are O(1)
// amortized, so contention is acceptable for many small independent
// lookups. Callers never observe partial mutation, but operations from
// different goroutines interleave at single-call granularity.
type Cache[K comparable, V any] struct {
	mu     sync.Mutex
	lru    *simplelru.LRU[K, V]
	hits   metrics.Counter
	misses metrics.Counter
}

// New returns a cache holding at most capacity entries. A capacity of
// zero or less means DefaultCapacity. Hit and miss counters, labeled
// by key and value type, are registered with sink; a nil sink means
// no instrumentation.
func New[K comparable, V any](capacity int, sink metrics.Sink) *Cache[K, V] {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	if sink == nil {
		sink = metrics.NewNopSink()
	}

	lru, err := simplelru.NewLRU[K, V](capacity, nil)

	if err != nil {
		// simplelru only rejects non-positive sizes, which the
		// capacity default above rules out.
		panic(err)
	}

	labels := []string{typeName[K](), typeName[V]()}

	return &Cache[K, V]{
		lru:    lru,
		hits:   sink.CounterVec("value_cache_hit", "Cache hits in the value cache", []string{"key_type", "value_type"}).With(labels...),
		misses: sink.CounterVec("value_cache_miss", "Cache misses in the value cache", []string{"key_type", "value_type"}).With(labels...),
	}
}

func typeName[T any]() string {
	var zero T

	return fmt.Sprintf("%T", zero)
}

// Get returns the value stored under key and promotes its recency,
// if present. When V is a reference type, such as a byte slice, the
// returned value aliases the cached one and must not be mutated.
func (cache *Cache[K, V]) Get(key K) (V, bool) {
	cache.mu.Lock()
	defer cache.mu.Unlock()

	value, ok := cache.lru.Get(key)
	cache.track(ok)

	return value, ok
}

// Contains reports whether key is cached without promoting it.
func (cache *Cache[K, V]) Contains(key K) bool {
	cache.mu.Lock()
	defer cache.mu.Unlock()

	return cache.lru.Contains(key)
}

// Insert adds the value under key if the key is absent and returns
// true. If the key is already present it promotes the entry's recency
// and returns false without overwriting the stored value: values are
// content-addressed, so the content is the same.
func (cache *Cache[K, V]) Insert(key K, value V) bool {
	cache.mu.Lock()
	defer cache.mu.Unlock()

	return cache.insert(key, value)
}

// InsertMany adds every entry whose key is absent, best effort.
// Already-present entries are skipped without promotion.
func (cache *Cache[K, V]) InsertMany(entries []Entry[K, V]) {
	cache.mu.Lock()
	defer cache.mu.Unlock()

	for _, entry := range entries {
		if !cache.lru.Contains(entry.Key) {
			cache.lru.Add(entry.Key, entry.Value)
		}
	}
}

func (cache *Cache[K, V]) insert(key K, value V) bool {
	if _, ok := cache.lru.Get(key); ok {
		// Get promotes the entry as if it was accessed again.
		return false
	}

	cache.lru.Add(key, value)

	return true
}

// Remove evicts the entry stored under key and returns its value, if
// present.
func (cache *Cache[K, V]) Remove(key K) (V, bool) {
	cache.mu.Lock()
	defer cache.mu.Unlock()

	value, ok := cache.lru.Peek(key)

	if ok {
		cache.lru.Remove(key)
	}

	cache.track(ok)

	return value, ok
}

// TryGetMany partitions keys in a single pass into the entries found
// in the cache and the keys that are absent. Found keys are promoted.
func (cache *Cache[K, V]) TryGetMany(keys []K) ([]Entry[K, V], []K) {
	cache.mu.Lock()
	defer cache.mu.Unlock()

	var found []Entry[K, V]
	var notFound []K

	for _, key := range keys {
		if value, ok := cache.lru.Get(key); ok {
			found = append(found, Entry[K, V]{Key: key, Value: value})
		} else {
			notFound = append(notFound, key)
		}
	}

	return found, notFound
}

// Keys returns a snapshot of the cached keys in least-recently-used
// order.
func (cache *Cache[K, V]) Keys() []K {
	cache.mu.Lock()
	defer cache.mu.Unlock()

	return cache.lru.Keys()
}

// Len returns the number of cached entries.
func (cache *Cache[K, V]) Len() int {
	cache.mu.Lock()
	defer cache.mu.Unlock()

	return cache.lru.Len()
}

func (cache *Cache[K, V]) track(hit bool) {
	if hit {
		cache.hits.Inc()
	} else {
		cache.misses.Inc()
	}
}

// SubtractCachedItems filters items down to those whose derived key is
// absent from the cache, without promoting any entry.
func SubtractCachedItems[K comparable, V, Item any](cache *Cache[K, V], items []Item, keyOf func(Item) K) []Item {
	cache.mu.Lock()
	defer cache.mu.Unlock()

	var remaining []Item

	for _, item := range items {
		if !cache.lru.Contains(keyOf(item)) {
			remaining = append(remaining, item)
		}
	}

	return remaining
}
