package kv

import (
	"context"
)

// KeyValue is a single key-value pair returned by prefix scans.
type KeyValue struct {
	Key   []byte
	Value []byte
}

// Limits is the capability table a backend adapter declares and every
// decorator layer adjusts for its own consumers. Shared layers consult
// the table instead of hard-coding backend constants so that new
// backends plug in without touching the splitting or journaling logic.
type Limits struct {
	// MaxKeySize is the maximum length in bytes of a key or key prefix.
	MaxKeySize int
	// MaxValueSize is the maximum length in bytes of a value accepted
	// by WriteBatch.
	MaxValueSize int
	// MaxInlineValueSize is the largest value guaranteed to occupy a
	// single physical record. For a raw adapter this equals
	// MaxValueSize. The splitting layer lowers it to its usable
	// single-record payload while raising MaxValueSize to "unbounded".
	MaxInlineValueSize int
	// MaxBatchItems is the maximum number of operations the store
	// applies in one native atomic transaction.
	MaxBatchItems int
	// MaxBatchBytes is the maximum total size in bytes (keys plus
	// values) of one native atomic transaction.
	MaxBatchBytes int
}

// Store is a key-value store for a single root key. All operations
// validate key and prefix sizes against Limits before any I/O.
//
// A missing value reads as nil. Byte slices returned by a Store are
// owned by the caller; byte slices passed to a Store must not be
// mutated until the call returns.
type Store interface {
	// Limits returns the capability table of this store as seen by
	// its consumers.
	Limits() Limits
	// ReadValue returns the value stored under key, or nil if the key
	// does not exist.
	ReadValue(ctx context.Context, key []byte) ([]byte, error)
	// ContainsKey reports whether key exists.
	ContainsKey(ctx context.Context, key []byte) (bool, error)
	// ReadMultiValues reads several keys, fanning out one backend call
	// per key and joining all of them. Result i corresponds to keys[i]
	// and is nil if the key does not exist.
	ReadMultiValues(ctx context.Context, keys [][]byte) ([][]byte, error)
	// ContainsKeys reports existence for several keys. Result i
	// corresponds to keys[i].
	ContainsKeys(ctx context.Context, keys [][]byte) ([]bool, error)
	// FindKeysByPrefix returns all keys starting with prefix in
	// ascending lexicographical order. Returned keys include the
	// prefix.
	FindKeysByPrefix(ctx context.Context, prefix []byte) ([][]byte, error)
	// FindKeyValuesByPrefix returns all key-value pairs whose key
	// starts with prefix in ascending lexicographical order.
	FindKeyValuesByPrefix(ctx context.Context, prefix []byte) ([]KeyValue, error)
	// WriteBatch applies a batch of insertions and deletions with
	// all-or-nothing visibility. A batch larger than the native
	// transaction limits is split into sub-transactions issued
	// sequentially; making that crash-consistent is the journal
	// layer's job.
	WriteBatch(ctx context.Context, batch *Batch) error
}

// Database is a connection to one namespace. It hands out stores
// scoped to a root key; writes under one root key are never visible
// when reading under another.
type Database interface {
	// Open returns a store scoped to rootKey. The root key is
	// registered durably on its first write so that ListRootKeys can
	// enumerate it later.
	Open(rootKey []byte) (Store, error)
	// ListRootKeys enumerates all root keys ever written to in this
	// namespace.
	ListRootKeys(ctx context.Context) ([][]byte, error)
}
