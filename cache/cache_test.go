package cache_test

import (
	"fmt"
	"testing"

	"github.com/Mu-L/linera-protocol/cache"
	"github.com/google/go-cmp/cmp"
)

func TestEvictionOrder(t *testing.T) {
	c := cache.New[string, int](2, nil)

	if !c.Insert("a", 1) {
		t.Fatalf("expected a to be inserted")
	}

	if !c.Insert("b", 2) {
		t.Fatalf("expected b to be inserted")
	}

	// Reading a protects it from the next eviction.
	if value, ok := c.Get("a"); !ok || value != 1 {
		t.Fatalf("expected to read a=1, got %d, %t", value, ok)
	}

	if !c.Insert("c", 3) {
		t.Fatalf("expected c to be inserted")
	}

	if !c.Contains("a") {
		t.Fatalf("expected a to survive eviction")
	}

	if c.Contains("b") {
		t.Fatalf("expected b to be evicted")
	}

	if !c.Contains("c") {
		t.Fatalf("expected c to be cached")
	}

	if c.Len() != 2 {
		t.Fatalf("expected cache to hold exactly 2 entries, got %d", c.Len())
	}
}

func TestCapacityNeverExceeded(t *testing.T) {
	const capacity = 16

	c := cache.New[int, int](capacity, nil)

	for i := 0; i < capacity+1; i++ {
		c.Insert(i, i)
	}

	if c.Len() != capacity {
		t.Fatalf("expected %d entries, got %d", capacity, c.Len())
	}

	// Exactly the least-recently-used entry was evicted.
	if c.Contains(0) {
		t.Fatalf("expected the oldest entry to be evicted")
	}

	for i := 1; i <= capacity; i++ {
		if !c.Contains(i) {
			t.Fatalf("expected %d to be cached", i)
		}
	}
}

func TestInsertIsIdempotent(t *testing.T) {
	c := cache.New[string, string](2, nil)

	if !c.Insert("a", "first") {
		t.Fatalf("expected a to be inserted")
	}

	if !c.Insert("b", "second") {
		t.Fatalf("expected b to be inserted")
	}

	// Re-insertion promotes a without overwriting its value or
	// growing the cache.
	if c.Insert("a", "other") {
		t.Fatalf("expected re-insertion of a to return false")
	}

	if c.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", c.Len())
	}

	if value, _ := c.Get("a"); value != "first" {
		t.Fatalf("expected stored value to be unchanged, got %q", value)
	}

	// The promotion means b, not a, is evicted next.
	c.Insert("c", "third")

	if c.Contains("b") {
		t.Fatalf("expected b to be evicted after a was promoted")
	}
}

func TestTryGetManyPartitions(t *testing.T) {
	c := cache.New[int, string](8, nil)

	for i := 0; i < 4; i++ {
		c.Insert(i, fmt.Sprintf("value-%d", i))
	}

	keys := []int{0, 5, 2, 7}
	found, notFound := c.TryGetMany(keys)

	expectedFound := []cache.Entry[int, string]{
		{Key: 0, Value: "value-0"},
		{Key: 2, Value: "value-2"},
	}

	if diff := cmp.Diff(expectedFound, found); diff != "" {
		t.Fatalf(diff)
	}

	if diff := cmp.Diff([]int{5, 7}, notFound); diff != "" {
		t.Fatalf(diff)
	}

	if len(found)+len(notFound) != len(keys) {
		t.Fatalf("expected the partition to cover all keys")
	}
}

func TestInsertMany(t *testing.T) {
	c := cache.New[string, int](8, nil)

	c.Insert("a", 1)

	c.InsertMany([]cache.Entry[string, int]{
		{Key: "a", Value: 100},
		{Key: "b", Value: 2},
		{Key: "c", Value: 3},
	})

	if value, _ := c.Get("a"); value != 1 {
		t.Fatalf("expected already-present key to be skipped, got %d", value)
	}

	for key, expected := range map[string]int{"b": 2, "c": 3} {
		if value, ok := c.Get(key); !ok || value != expected {
			t.Fatalf("expected %s=%d, got %d, %t", key, expected, value, ok)
		}
	}
}

func TestRemove(t *testing.T) {
	c := cache.New[string, int](8, nil)

	c.Insert("a", 1)

	if value, ok := c.Remove("a"); !ok || value != 1 {
		t.Fatalf("expected to remove a=1, got %d, %t", value, ok)
	}

	if _, ok := c.Remove("a"); ok {
		t.Fatalf("expected second removal to miss")
	}

	if c.Contains("a") {
		t.Fatalf("expected a to be gone")
	}
}

func TestSubtractCachedItems(t *testing.T) {
	c := cache.New[string, int](8, nil)

	c.Insert("a", 1)
	c.Insert("c", 3)

	items := []string{"a", "b", "c", "d"}
	remaining := cache.SubtractCachedItems(c, items, func(item string) string { return item })

	if diff := cmp.Diff([]string{"b", "d"}, remaining); diff != "" {
		t.Fatalf(diff)
	}
}

func TestKeysSnapshot(t *testing.T) {
	c := cache.New[int, int](8, nil)

	for i := 0; i < 3; i++ {
		c.Insert(i, i)
	}

	if diff := cmp.Diff([]int{0, 1, 2}, c.Keys()); diff != "" {
		t.Fatalf(diff)
	}
}
