// Package metered decorates a store with operation metrics: counts,
// errors, latencies and payload sizes per operation, labeled with the
// name of the decorated store. The decorator changes no returned
// values; stacks built with a no-op sink behave identically.
package metered

import (
	"context"
	"time"

	"github.com/Mu-L/linera-protocol/metrics"
	"github.com/Mu-L/linera-protocol/storage/kv"
)

// Operation label values.
const (
	opReadValue             = "read_value"
	opContainsKey           = "contains_key"
	opReadMultiValues       = "read_multi_values"
	opContainsKeys          = "contains_keys"
	opFindKeysByPrefix      = "find_keys_by_prefix"
	opFindKeyValuesByPrefix = "find_key_values_by_prefix"
	opWriteBatch            = "write_batch"
)

// Store decorates a store with metrics.
type Store struct {
	inner kv.Store
	name  string

	operations metrics.CounterVec
	errors     metrics.CounterVec
	duration   metrics.ObserverVec
	readBytes  metrics.CounterVec
	wroteBytes metrics.CounterVec
}

var _ kv.Store = (*Store)(nil)

// New decorates inner with metrics registered on sink, labeling every
// series with the given store name. A nil sink means no
// instrumentation.
func New(inner kv.Store, name string, sink metrics.Sink) *Store {
	if sink == nil {
		sink = metrics.NewNopSink()
	}

	labels := []string{"store", "op"}

	return &Store{
		inner: inner,
		name:  name,
		operations: sink.CounterVec(
			"store_operations_total",
			"Number of store operations started.",
			labels,
		),
		errors: sink.CounterVec(
			"store_operation_errors_total",
			"Number of store operations that returned an error.",
			labels,
		),
		duration: sink.ObserverVec(
			"store_operation_duration_seconds",
			"Store operation latency in seconds.",
			labels,
		),
		readBytes: sink.CounterVec(
			"store_read_bytes_total",
			"Number of value bytes read from the store.",
			labels,
		),
		wroteBytes: sink.CounterVec(
			"store_written_bytes_total",
			"Number of key and value bytes submitted in write batches.",
			labels,
		),
	}
}

// observe records one completed operation. It returns err unchanged so
// call sites can record and return in one line.
func (s *Store) observe(op string, started time.Time, err error) error {
	s.operations.With(s.name, op).Inc()
	s.duration.With(s.name, op).Observe(time.Since(started).Seconds())

	if err != nil {
		s.errors.With(s.name, op).Inc()
	}

	return err
}

func (s *Store) Limits() kv.Limits {
	return s.inner.Limits()
}

func (s *Store) ReadValue(ctx context.Context, key []byte) ([]byte, error) {
	started := time.Now()
	value, err := s.inner.ReadValue(ctx, key)

	if err == nil {
		s.readBytes.With(s.name, opReadValue).Add(float64(len(value)))
	}

	return value, s.observe(opReadValue, started, err)
}

func (s *Store) ContainsKey(ctx context.Context, key []byte) (bool, error) {
	started := time.Now()
	found, err := s.inner.ContainsKey(ctx, key)

	return found, s.observe(opContainsKey, started, err)
}

func (s *Store) ReadMultiValues(ctx context.Context, keys [][]byte) ([][]byte, error) {
	started := time.Now()
	values, err := s.inner.ReadMultiValues(ctx, keys)

	if err == nil {
		total := 0

		for _, value := range values {
			total += len(value)
		}

		s.readBytes.With(s.name, opReadMultiValues).Add(float64(total))
	}

	return values, s.observe(opReadMultiValues, started, err)
}

func (s *Store) ContainsKeys(ctx context.Context, keys [][]byte) ([]bool, error) {
	started := time.Now()
	found, err := s.inner.ContainsKeys(ctx, keys)

	return found, s.observe(opContainsKeys, started, err)
}

func (s *Store) FindKeysByPrefix(ctx context.Context, prefix []byte) ([][]byte, error) {
	started := time.Now()
	found, err := s.inner.FindKeysByPrefix(ctx, prefix)

	return found, s.observe(opFindKeysByPrefix, started, err)
}

func (s *Store) FindKeyValuesByPrefix(ctx context.Context, prefix []byte) ([]kv.KeyValue, error) {
	started := time.Now()
	pairs, err := s.inner.FindKeyValuesByPrefix(ctx, prefix)

	if err == nil {
		total := 0

		for _, pair := range pairs {
			total += len(pair.Value)
		}

		s.readBytes.With(s.name, opFindKeyValuesByPrefix).Add(float64(total))
	}

	return pairs, s.observe(opFindKeyValuesByPrefix, started, err)
}

func (s *Store) WriteBatch(ctx context.Context, batch *kv.Batch) error {
	started := time.Now()
	err := s.inner.WriteBatch(ctx, batch)

	if err == nil {
		s.wroteBytes.With(s.name, opWriteBatch).Add(float64(batch.SizeBytes()))
	}

	return s.observe(opWriteBatch, started, err)
}

// Database decorates a database so that every store it opens is
// metered.
type Database struct {
	inner kv.Database
	name  string
	sink  metrics.Sink
}

var _ kv.Database = (*Database)(nil)

// NewDatabase wraps inner.
func NewDatabase(inner kv.Database, name string, sink metrics.Sink) *Database {
	return &Database{inner: inner, name: name, sink: sink}
}

func (db *Database) Open(rootKey []byte) (kv.Store, error) {
	store, err := db.inner.Open(rootKey)

	if err != nil {
		return nil, err
	}

	return New(store, db.name, db.sink), nil
}

func (db *Database) ListRootKeys(ctx context.Context) ([][]byte, error) {
	return db.inner.ListRootKeys(ctx)
}
