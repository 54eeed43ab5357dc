package memory_test

import (
	"context"
	"errors"
	"testing"

	"github.com/Mu-L/linera-protocol/storage/kv"
	"github.com/Mu-L/linera-protocol/storage/kv/memory"
	"github.com/google/go-cmp/cmp"
)

func openStore(t *testing.T, db *memory.Database, rootKey string) kv.Store {
	t.Helper()

	store, err := db.Open([]byte(rootKey))

	if err != nil {
		t.Fatalf("could not open store: %s", err.Error())
	}

	return store
}

func TestRoundTrip(t *testing.T) {
	db := memory.NewTempDatabase()
	store := openStore(t, db, "root")
	ctx := context.Background()

	batch := kv.NewBatch().
		Put([]byte("a"), []byte("1")).
		Put([]byte("b"), []byte("2")).
		Delete([]byte("missing"))

	if err := store.WriteBatch(ctx, batch); err != nil {
		t.Fatalf("could not write: %s", err.Error())
	}

	value, err := store.ReadValue(ctx, []byte("a"))

	if err != nil {
		t.Fatalf("could not read: %s", err.Error())
	}

	if string(value) != "1" {
		t.Fatalf("expected %q, got %q", "1", value)
	}

	missing, err := store.ReadValue(ctx, []byte("missing"))

	if err != nil {
		t.Fatalf("could not read: %s", err.Error())
	}

	if missing != nil {
		t.Fatalf("expected a missing key to read as nil, got %q", missing)
	}

	found, err := store.ContainsKeys(ctx, [][]byte{[]byte("a"), []byte("nope"), []byte("b")})

	if err != nil {
		t.Fatalf("could not probe: %s", err.Error())
	}

	if diff := cmp.Diff([]bool{true, false, true}, found); diff != "" {
		t.Fatalf(diff)
	}
}

func TestScansAreSortedAndPrefixBound(t *testing.T) {
	db := memory.NewTempDatabase()
	store := openStore(t, db, "root")
	ctx := context.Background()

	batch := kv.NewBatch().
		Put([]byte("b/2"), []byte("2")).
		Put([]byte("a/other"), []byte("x")).
		Put([]byte("b/1"), []byte("1")).
		Put([]byte("b/3"), []byte("3"))

	if err := store.WriteBatch(ctx, batch); err != nil {
		t.Fatalf("could not write: %s", err.Error())
	}

	pairs, err := store.FindKeyValuesByPrefix(ctx, []byte("b/"))

	if err != nil {
		t.Fatalf("could not scan: %s", err.Error())
	}

	expected := []kv.KeyValue{
		{Key: []byte("b/1"), Value: []byte("1")},
		{Key: []byte("b/2"), Value: []byte("2")},
		{Key: []byte("b/3"), Value: []byte("3")},
	}

	if diff := cmp.Diff(expected, pairs); diff != "" {
		t.Fatalf(diff)
	}
}

func TestPrefixScanStopsAtTheRangeBound(t *testing.T) {
	db := memory.NewTempDatabase()
	store := openStore(t, db, "root")
	ctx := context.Background()

	// The prefix ends in 0xff, so a carry-style upper bound of
	// {0x05, 0x00} would leak {0x05} into the scan.
	batch := kv.NewBatch().
		Put([]byte{0x04, 0xfe}, []byte("below")).
		Put([]byte{0x04, 0xff}, []byte("exact")).
		Put([]byte{0x04, 0xff, 0x01}, []byte("inside")).
		Put([]byte{0x05}, []byte("beyond"))

	if err := store.WriteBatch(ctx, batch); err != nil {
		t.Fatalf("could not write: %s", err.Error())
	}

	found, err := store.FindKeysByPrefix(ctx, []byte{0x04, 0xff})

	if err != nil {
		t.Fatalf("could not scan: %s", err.Error())
	}

	expected := [][]byte{
		{0x04, 0xff},
		{0x04, 0xff, 0x01},
	}

	if diff := cmp.Diff(expected, found); diff != "" {
		t.Fatalf(diff)
	}
}

func TestRootKeyIsolationAndListing(t *testing.T) {
	db := memory.NewTempDatabase()
	storeA := openStore(t, db, "a")
	storeB := openStore(t, db, "b")
	ctx := context.Background()

	if err := storeA.WriteBatch(ctx, kv.NewBatch().Put([]byte("k"), []byte("v"))); err != nil {
		t.Fatalf("could not write: %s", err.Error())
	}

	value, err := storeB.ReadValue(ctx, []byte("k"))

	if err != nil {
		t.Fatalf("could not read: %s", err.Error())
	}

	if value != nil {
		t.Fatalf("expected root keys to be isolated, read %q", value)
	}

	if err := storeB.WriteBatch(ctx, kv.NewBatch().Put([]byte("k"), []byte("w"))); err != nil {
		t.Fatalf("could not write: %s", err.Error())
	}

	rootKeys, err := db.ListRootKeys(ctx)

	if err != nil {
		t.Fatalf("could not list root keys: %s", err.Error())
	}

	if diff := cmp.Diff([][]byte{[]byte("a"), []byte("b")}, rootKeys); diff != "" {
		t.Fatalf(diff)
	}
}

func TestFailpointLeavesAPrefixApplied(t *testing.T) {
	limits := memory.DefaultLimits()
	limits.MaxBatchItems = 2

	db := memory.NewDatabase("failpoint-test", limits)
	store := openStore(t, db, "root")
	ctx := context.Background()

	batch := kv.NewBatch()

	for i := 0; i < 6; i++ {
		batch.Put([]byte{'k', byte(i)}, []byte{byte(i)})
	}

	db.FailAfterSubTransactions(2)

	err := store.WriteBatch(ctx, batch)

	var backend *kv.BackendError

	if !errors.As(err, &backend) {
		t.Fatalf("expected a backend error, got %v", err)
	}

	db.FailAfterSubTransactions(-1)

	keys, err := store.FindKeysByPrefix(ctx, []byte("k"))

	if err != nil {
		t.Fatalf("could not scan: %s", err.Error())
	}

	// Two sub-transactions of two items each were applied before the
	// failure.
	if len(keys) != 4 {
		t.Fatalf("expected 4 keys from the applied prefix, got %d", len(keys))
	}
}

func TestReturnedSlicesAreOwned(t *testing.T) {
	db := memory.NewTempDatabase()
	store := openStore(t, db, "root")
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
		t.Fatalf("mutating a returned value corrupted the store: got %q", second)
	}
}
