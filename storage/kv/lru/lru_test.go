package lru_test

import (
	"context"
	"testing"

	"github.com/Mu-L/linera-protocol/storage/kv"
	"github.com/Mu-L/linera-protocol/storage/kv/lru"
	"github.com/Mu-L/linera-protocol/storage/kv/memory"
	"github.com/google/go-cmp/cmp"
)

func openCached(t *testing.T, db *memory.Database, capacity int) kv.Store {
	t.Helper()

	store, err := lru.NewDatabase(db, capacity, nil).Open([]byte("root"))

	if err != nil {
		t.Fatalf("could not open store: %s", err.Error())
	}

	return store
}

func TestRepeatedReadsHitTheCache(t *testing.T) {
	db := memory.NewTempDatabase()
	store := openCached(t, db, 0)
	ctx := context.Background()

	if err := store.WriteBatch(ctx, kv.NewBatch().Put([]byte("k"), []byte("v"))); err != nil {
		t.Fatalf("could not write: %s", err.Error())
	}

	before := db.ReadCount()

	for i := 0; i < 5; i++ {
		value, err := store.ReadValue(ctx, []byte("k"))

		if err != nil {
			t.Fatalf("could not read: %s", err.Error())
		}

		if string(value) != "v" {
			t.Fatalf("expected %q, got %q", "v", value)
		}
	}

	// The write already populated the cache, so no read reaches the
	// backend at all.
	if db.ReadCount() != before {
		t.Fatalf("expected all reads to be served from the cache, backend served %d", db.ReadCount()-before)
	}
}

func TestAbsentKeysAreCached(t *testing.T) {
	db := memory.NewTempDatabase()
	store := openCached(t, db, 0)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		value, err := store.ReadValue(ctx, []byte("missing"))

		if err != nil {
			t.Fatalf("could not read: %s", err.Error())
		}

		if value != nil {
			t.Fatalf("expected a missing key to read as nil")
		}
	}

	if db.ReadCount() != 1 {
		t.Fatalf("expected one backend read for repeated misses, got %d", db.ReadCount())
	}

	found, err := store.ContainsKey(ctx, []byte("missing"))

	if err != nil {
		t.Fatalf("could not probe: %s", err.Error())
	}

	if found {
		t.Fatalf("expected the cached absence to answer the probe")
	}

	if db.ReadCount() != 1 {
		t.Fatalf("expected the probe to be served from the cache, got %d backend reads", db.ReadCount())
	}
}

func TestWritesUpdateTheCache(t *testing.T) {
	db := memory.NewTempDatabase()
	store := openCached(t, db, 0)
	ctx := context.Background()

	if err := store.WriteBatch(ctx, kv.NewBatch().Put([]byte("k"), []byte("old"))); err != nil {
		t.Fatalf("could not write: %s", err.Error())
	}

	if _, err := store.ReadValue(ctx, []byte("k")); err != nil {
		t.Fatalf("could not read: %s", err.Error())
	}

	if err := store.WriteBatch(ctx, kv.NewBatch().Put([]byte("k"), []byte("new"))); err != nil {
		t.Fatalf("could not write: %s", err.Error())
	}

	value, err := store.ReadValue(ctx, []byte("k"))

	if err != nil {
		t.Fatalf("could not read: %s", err.Error())
	}

	if string(value) != "new" {
		t.Fatalf("expected the read after the write to observe %q, got %q", "new", value)
	}

	if err := store.WriteBatch(ctx, kv.NewBatch().Delete([]byte("k"))); err != nil {
		t.Fatalf("could not delete: %s", err.Error())
	}

	found, err := store.ContainsKey(ctx, []byte("k"))

	if err != nil {
		t.Fatalf("could not probe: %s", err.Error())
	}

	if found {
		t.Fatalf("expected the delete to invalidate the cached value")
	}
}

func TestFailedWritesInvalidateTheCache(t *testing.T) {
	db := memory.NewTempDatabase()
	store := openCached(t, db, 0)
	ctx := context.Background()

	if err := store.WriteBatch(ctx, kv.NewBatch().Put([]byte("k"), []byte("old"))); err != nil {
		t.Fatalf("could not write: %s", err.Error())
	}

	db.FailAfterSubTransactions(0)

	if err := store.WriteBatch(ctx, kv.NewBatch().Put([]byte("k"), []byte("new"))); err == nil {
		t.Fatalf("expected the injected failure to surface")
	}

	db.FailAfterSubTransactions(-1)

	before := db.ReadCount()
	value, err := store.ReadValue(ctx, []byte("k"))

	if err != nil {
		t.Fatalf("could not read: %s", err.Error())
	}

	// The failed batch touched "k", so its cache entry is gone and the
	// read has to consult the backend.
	if db.ReadCount()-before != 1 {
		t.Fatalf("expected the read after a failed write to reach the backend, got %d backend reads", db.ReadCount()-before)
	}

	if string(value) != "old" {
		t.Fatalf("expected %q, got %q", "old", value)
	}
}

func TestReadMultiValuesFetchesOnlyMisses(t *testing.T) {
	db := memory.NewTempDatabase()
	store := openCached(t, db, 0)
	ctx := context.Background()

	batch := kv.NewBatch().
		Put([]byte("a"), []byte("1")).
		Put([]byte("b"), []byte("2"))

	if err := store.WriteBatch(ctx, batch); err != nil {
		t.Fatalf("could not write: %s", err.Error())
	}

	before := db.ReadCount()

	values, err := store.ReadMultiValues(ctx, [][]byte{
		[]byte("a"),
		[]byte("absent"),
		[]byte("b"),
	})

	if err != nil {
		t.Fatalf("could not read: %s", err.Error())
	}

	expected := [][]byte{[]byte("1"), nil, []byte("2")}

	if diff := cmp.Diff(expected, values); diff != "" {
		t.Fatalf(diff)
	}

	// Only the absent key missed the cache.
	if db.ReadCount()-before != 1 {
		t.Fatalf("expected one backend read, got %d", db.ReadCount()-before)
	}
}

func TestEvictionFallsBackToBackend(t *testing.T) {
	db := memory.NewTempDatabase()
	store := openCached(t, db, 2)
	ctx := context.Background()

	batch := kv.NewBatch().
		Put([]byte("a"), []byte("1")).
		Put([]byte("b"), []byte("2")).
		Put([]byte("c"), []byte("3"))

	// Three entries through a capacity-two cache: "a" is evicted.
	if err := store.WriteBatch(ctx, batch); err != nil {
		t.Fatalf("could not write: %s", err.Error())
	}

	before := db.ReadCount()

	value, err := store.ReadValue(ctx, []byte("a"))

	if err != nil {
		t.Fatalf("could not read: %s", err.Error())
	}

	if string(value) != "1" {
		t.Fatalf("expected the evicted key to be read from the backend, got %q", value)
	}

	if db.ReadCount()-before != 1 {
		t.Fatalf("expected the evicted key to cost one backend read, got %d", db.ReadCount()-before)
	}
}

func TestReturnedValueIsOwned(t *testing.T) {
	db := memory.NewTempDatabase()
	store := openCached(t, db, 0)
	ctx := context.Background()

	if err := store.WriteBatch(ctx, kv.NewBatch().Put([]byte("k"), []byte("abc"))); err != nil {
		t.Fatalf("could not write: %s", err.Error())
	}

	first, err := store.ReadValue(ctx, []byte("k"))

	if err != nil {
		t.Fatalf("could not read: %s", err.Error())
	}

	first[0] = 'X'

	second, err := store.ReadValue(ctx, []byte("k"))

	if err != nil {
		t.Fatalf("could not read: %s", err.Error())
	}

	if string(second) != "abc" {
		t.Fatalf("mutating a returned value corrupted the cache: got %q", second)
	}
}
