// Package storage assembles the layered store stack. Callers pick a
// backend adapter and get back a database whose stores accept keys
// and values of arbitrary size, commit batches atomically and cache
// hot values:
//
//	cache -> metering -> journal -> splitting -> adapter
//
// The splitting layer hides the adapter's value size cap, the journal
// layer hides its transaction caps, metering observes the traffic the
// journal actually produces and the cache sits on top where it can
// absorb reads before they cost anything.
package storage

import (
	"context"

	"github.com/Mu-L/linera-protocol/metrics"
	"github.com/Mu-L/linera-protocol/storage/kv"
	"github.com/Mu-L/linera-protocol/storage/kv/dynamodb"
	"github.com/Mu-L/linera-protocol/storage/kv/journal"
	"github.com/Mu-L/linera-protocol/storage/kv/lru"
	"github.com/Mu-L/linera-protocol/storage/kv/memory"
	"github.com/Mu-L/linera-protocol/storage/kv/metered"
	"github.com/Mu-L/linera-protocol/storage/kv/splitting"
	"go.uber.org/zap"
)

// Options configures the layers of a stacked database.
type Options struct {
	// CacheCapacity is the number of values cached per store. Zero
	// means the default; negative disables the cache layer.
	CacheCapacity int

	// Sink receives the stack's metrics. Nil means no
	// instrumentation.
	Sink metrics.Sink

	// Logger receives journal recovery warnings. Nil means silent.
	Logger *zap.Logger
}

// NewStackedDatabase stacks the full layer set on top of a backend
// adapter. The name labels the adapter's metric series.
func NewStackedDatabase(adapter kv.Database, name string, options Options) kv.Database {
	var db kv.Database = splitting.NewDatabase(adapter)
	db = journal.NewDatabase(db, options.Logger)
	db = metered.NewDatabase(db, name, options.Sink)

	if options.CacheCapacity >= 0 {
		db = lru.NewDatabase(db, options.CacheCapacity, options.Sink)
	}

	return db
}

// NewMemoryDatabase returns a fully stacked database over the
// in-memory adapter, for tests and tooling.
func NewMemoryDatabase(namespace string, options Options) kv.Database {
	return NewStackedDatabase(memory.NewDatabase(namespace, kv.Limits{}), "memory", options)
}

// ConnectDynamoDB returns a fully stacked database over the DynamoDB
// adapter.
func ConnectDynamoDB(ctx context.Context, config dynamodb.Config, namespace string, options Options) (kv.Database, error) {
	adapter, err := dynamodb.Connect(ctx, config, namespace)

	if err != nil {
		return nil, err
	}

	return NewStackedDatabase(adapter, "dynamodb", options), nil
}
