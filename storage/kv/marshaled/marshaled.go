// Package marshaled provides a typed map view over a store: values
// are marshaled with a codec on the way in and unmarshaled on the way
// out, so callers work with their own types instead of byte slices.
package marshaled

import (
	"context"
	"fmt"

	"github.com/Mu-L/linera-protocol/codec"
	"github.com/Mu-L/linera-protocol/storage/kv"
)

// Entry is a key together with its decoded value.
type Entry[V any] struct {
	Key   []byte
	Value V
}

// Map is a typed view over a store. Keys pass through unchanged;
// values are encoded with the codec.
type Map[V any] struct {
	store kv.Store
	codec codec.Codec
}

// NewMap returns a typed view over store using the given codec.
func NewMap[V any](store kv.Store, codec codec.Codec) *Map[V] {
	return &Map[V]{store: store, codec: codec}
}

// Put encodes value and stores it under key.
func (m *Map[V]) Put(ctx context.Context, key []byte, value V) error {
	encoded, err := m.codec.Marshal(value)

	if err != nil {
		return fmt.Errorf("could not marshal value for key %q: %s", key, err.Error())
	}

	return m.store.WriteBatch(ctx, kv.NewBatch().Put(key, encoded))
}

// Get reads and decodes the value under key. The second return is
// false when the key is absent.
func (m *Map[V]) Get(ctx context.Context, key []byte) (V, bool, error) {
	var value V

	encoded, err := m.store.ReadValue(ctx, key)

	if err != nil {
		return value, false, err
	}

	if encoded == nil {
		return value, false, nil
	}

	if err := m.codec.Unmarshal(encoded, &value); err != nil {
		return value, false, &kv.CorruptionError{Key: key, Reason: err.Error()}
	}

	return value, true, nil
}

// Contains reports whether key is present.
func (m *Map[V]) Contains(ctx context.Context, key []byte) (bool, error) {
	return m.store.ContainsKey(ctx, key)
}

// Delete removes key.
func (m *Map[V]) Delete(ctx context.Context, key []byte) error {
	return m.store.WriteBatch(ctx, kv.NewBatch().Delete(key))
}

// FindByPrefix returns the decoded entries whose keys carry the given
// prefix.
func (m *Map[V]) FindByPrefix(ctx context.Context, prefix []byte) ([]Entry[V], error) {
	pairs, err := m.store.FindKeyValuesByPrefix(ctx, prefix)

	if err != nil {
		return nil, err
	}

	entries := make([]Entry[V], len(pairs))

	for i, pair := range pairs {
		entries[i].Key = pair.Key

		if err := m.codec.Unmarshal(pair.Value, &entries[i].Value); err != nil {
			return nil, &kv.CorruptionError{Key: pair.Key, Reason: err.Error()}
		}
	}

	return entries, nil
}

// Batch accumulates typed puts and deletes for one atomic write.
type Batch[V any] struct {
	batch *kv.Batch
	codec codec.Codec
	err   error
}

// NewBatch returns an empty typed batch using the given codec.
func NewBatch[V any](codec codec.Codec) *Batch[V] {
	return &Batch[V]{batch: kv.NewBatch(), codec: codec}
}

// Put records an insertion. Encoding errors are deferred to Write.
func (b *Batch[V]) Put(key []byte, value V) *Batch[V] {
	if b.err != nil {
		return b
	}

	encoded, err := b.codec.Marshal(value)

	if err != nil {
		b.err = fmt.Errorf("could not marshal value for key %q: %s", key, err.Error())

		return b
	}

	b.batch.Put(key, encoded)

	return b
}

// Delete records a removal.
func (b *Batch[V]) Delete(key []byte) *Batch[V] {
	if b.err != nil {
		return b
	}

	b.batch.Delete(key)

	return b
}

// Write applies the accumulated operations to the typed map's store.
func (m *Map[V]) Write(ctx context.Context, batch *Batch[V]) error {
	if batch.err != nil {
		return batch.err
	}

	return m.store.WriteBatch(ctx, batch.batch)
}
