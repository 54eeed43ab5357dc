// Package lru decorates a store with a bounded read-through value
// cache. Single-key reads are served from the cache when possible and
// populate it when not; absent keys are cached too, so repeated misses
// cost one backend round-trip. Writes update the cache in place, which
// keeps it exact: within one store, a read after a write always
// observes the write. A failed write drops its keys from the cache
// instead, because a journaling layer underneath may still complete
// the batch during recovery. Prefix scans bypass the cache entirely.
//
// The cache belongs to one store and is not shared across root keys.
// Writers on other stores of the same namespace are invisible to it,
// the same way they are invisible to a concurrent reader.
package lru

import (
	"bytes"
	"context"
	"sync"

	"github.com/Mu-L/linera-protocol/metrics"
	"github.com/Mu-L/linera-protocol/storage/kv"
	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// DefaultCapacity is the number of cached entries when none is
// configured.
const DefaultCapacity = 1000

// entry records what the backend returned for a key: the value, or
// that the key was absent.
type entry struct {
	value []byte
	found bool
}

// Store decorates a store with a value cache.
type Store struct {
	inner kv.Store

	mu  sync.Mutex
	lru *simplelru.LRU[string, entry]

	hits   metrics.Counter
	misses metrics.Counter
}

var _ kv.Store = (*Store)(nil)

// New wraps inner with a cache of the given capacity. A capacity of
// zero or less means DefaultCapacity. A nil sink means no
// instrumentation.
func New(inner kv.Store, capacity int, sink metrics.Sink) *Store {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	if sink == nil {
		sink = metrics.NewNopSink()
	}

	// Capacity is positive, so construction cannot fail.
	lru, err := simplelru.NewLRU[string, entry](capacity, nil)

	if err != nil {
		panic(err)
	}

	requests := sink.CounterVec(
		"store_value_cache_requests_total",
		"Number of single-key reads, partitioned by cache outcome.",
		[]string{"outcome"},
	)

	return &Store{
		inner:  inner,
		lru:    lru,
		hits:   requests.With("hit"),
		misses: requests.With("miss"),
	}
}

func (s *Store) lookup(key []byte) (entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cached, ok := s.lru.Get(string(key))

	if ok {
		s.hits.Inc()
	} else {
		s.misses.Inc()
	}

	return cached, ok
}

func (s *Store) remember(key []byte, cached entry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lru.Add(string(key), cached)
}

func (s *Store) Limits() kv.Limits {
	return s.inner.Limits()
}

func (s *Store) ReadValue(ctx context.Context, key []byte) ([]byte, error) {
	if err := s.inner.Limits().CheckKey(key); err != nil {
		return nil, err
	}

	if cached, ok := s.lookup(key); ok {
		return bytes.Clone(cached.value), nil
	}

	value, err := s.inner.ReadValue(ctx, key)

	if err != nil {
		return nil, err
	}

	s.remember(key, entry{value: bytes.Clone(value), found: value != nil})

	return value, nil
}

func (s *Store) ContainsKey(ctx context.Context, key []byte) (bool, error) {
	if err := s.inner.Limits().CheckKey(key); err != nil {
		return false, err
	}

	if cached, ok := s.lookup(key); ok {
		return cached.found, nil
	}

	found, err := s.inner.ContainsKey(ctx, key)

	if err != nil {
		return false, err
	}

	// A negative probe is cacheable, but a positive one is not: the
	// value itself was never fetched.
	if !found {
		s.remember(key, entry{})
	}

	return found, nil
}

func (s *Store) ReadMultiValues(ctx context.Context, keys [][]byte) ([][]byte, error) {
	values := make([][]byte, len(keys))
	var missing [][]byte
	var missingAt []int

	for i, key := range keys {
		if err := s.inner.Limits().CheckKey(key); err != nil {
			return nil, err
		}

		if cached, ok := s.lookup(key); ok {
			values[i] = bytes.Clone(cached.value)
		} else {
			missing = append(missing, key)
			missingAt = append(missingAt, i)
		}
	}

	if len(missing) == 0 {
		return values, nil
	}

	fetched, err := s.inner.ReadMultiValues(ctx, missing)

	if err != nil {
		return nil, err
	}

	for j, value := range fetched {
		s.remember(missing[j], entry{value: bytes.Clone(value), found: value != nil})
		values[missingAt[j]] = value
	}

	return values, nil
}

func (s *Store) ContainsKeys(ctx context.Context, keys [][]byte) ([]bool, error) {
	found := make([]bool, len(keys))
	var missing [][]byte
	var missingAt []int

	for i, key := range keys {
		if err := s.inner.Limits().CheckKey(key); err != nil {
			return nil, err
		}

		if cached, ok := s.lookup(key); ok {
			found[i] = cached.found
		} else {
			missing = append(missing, key)
			missingAt = append(missingAt, i)
		}
	}

	if len(missing) == 0 {
		return found, nil
	}

	probed, err := s.inner.ContainsKeys(ctx, missing)

	if err != nil {
		return nil, err
	}

	for j, ok := range probed {
		if !ok {
			s.remember(missing[j], entry{})
		}

		found[missingAt[j]] = ok
	}

	return found, nil
}

func (s *Store) FindKeysByPrefix(ctx context.Context, prefix []byte) ([][]byte, error) {
	return s.inner.FindKeysByPrefix(ctx, prefix)
}

func (s *Store) FindKeyValuesByPrefix(ctx context.Context, prefix []byte) ([]kv.KeyValue, error) {
	return s.inner.FindKeyValuesByPrefix(ctx, prefix)
}

func (s *Store) WriteBatch(ctx context.Context, batch *kv.Batch) error {
	if err := s.inner.WriteBatch(ctx, batch); err != nil {
		// A failed write may still land: a journaling layer below
		// completes an interrupted batch on the next access. Dropping
		// the batch keys makes the next read fetch whatever state the
		// backend settled on.
		s.mu.Lock()
		defer s.mu.Unlock()

		for _, op := range batch.Ops {
			s.lru.Remove(string(op.Key))
		}

		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, op := range batch.Ops {
		switch op.Kind {
		case kv.OpPut:
			s.lru.Add(string(op.Key), entry{value: bytes.Clone(op.Value), found: true})
		case kv.OpDelete:
			s.lru.Add(string(op.Key), entry{})
		}
	}

	return nil
}

// Database decorates a database so that every store it opens carries
// its own value cache.
type Database struct {
	inner    kv.Database
	capacity int
	sink     metrics.Sink
}

var _ kv.Database = (*Database)(nil)

// NewDatabase wraps inner.
func NewDatabase(inner kv.Database, capacity int, sink metrics.Sink) *Database {
	return &Database{inner: inner, capacity: capacity, sink: sink}
}

func (db *Database) Open(rootKey []byte) (kv.Store, error) {
	store, err := db.inner.Open(rootKey)

	if err != nil {
		return nil, err
	}

	return New(store, db.capacity, db.sink), nil
}

func (db *Database) ListRootKeys(ctx context.Context) ([][]byte, error) {
	return db.inner.ListRootKeys(ctx)
}
