// Package journal makes multi-key batches crash-consistent across the
// backend's transaction chunking. Before any physical write, the full
// batch is persisted as a journal record under a reserved key; the
// record is deleted once every chunk has been applied. A crash in
// between leaves the journal record in place and the next operation on
// the same root key replays it to completion before proceeding, so a
// batch is fully invisible, fully visible, or within a bounded
// recovery window in which the next access completes it.
//
// Replay is idempotent because insertions and deletions are pure
// overwrite and remove operations.
//
// The layer claims one byte of key space: data keys live under tag 0
// and the journal record under tag 1, so no caller key can collide
// with the record.
//
// The record itself can be large enough to be split and chunked by the
// layers below, so persisting it is not atomic by itself. Commit is
// therefore two-phase: the record body is written first and a small
// marker second, in one native transaction. Recovery keys off the
// marker: without it, any record remnant is garbage from an
// interrupted submit and is discarded instead of replayed.
package journal

import (
	"context"
	"fmt"
	"math"
	"sync"

	"github.com/Mu-L/linera-protocol/storage/kv"
	"github.com/Mu-L/linera-protocol/utils/log"
	"go.uber.org/zap"
)

const (
	tagData    = byte(0)
	tagJournal = byte(1)
)

var (
	recordKey = []byte{tagJournal, 0}
	markerKey = []byte{tagJournal, 1}
)

// Store decorates a store with journaled batch commit for one root
// key.
type Store struct {
	inner  kv.Store
	limits kv.Limits
	logger *zap.Logger

	// mu gates every operation behind journal recovery. Recovery for
	// a root key must complete before reads or writes on that root
	// key proceed; other root keys are unaffected.
	mu        sync.Mutex
	recovered bool
}

var _ kv.Store = (*Store)(nil)

// New wraps inner. The visible limits claim one byte of key space for
// the tag and lift the batch limits entirely, since lifting them is
// the point of this layer.
func New(inner kv.Store, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}

	innerLimits := inner.Limits()

	return &Store{
		inner:  inner,
		logger: logger,
		limits: kv.Limits{
			MaxKeySize:         innerLimits.MaxKeySize - 1,
			MaxValueSize:       innerLimits.MaxValueSize,
			MaxInlineValueSize: innerLimits.MaxInlineValueSize,
			MaxBatchItems:      math.MaxInt,
			MaxBatchBytes:      math.MaxInt,
		},
	}
}

func dataKey(key []byte) []byte {
	return append([]byte{tagData}, key...)
}

// ensureRecovered replays a pending journal record, if any. It must be
// called before any read or write proceeds.
func (s *Store) ensureRecovered(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.ensureRecoveredLocked(ctx)
}

func (s *Store) ensureRecoveredLocked(ctx context.Context) error {
	if s.recovered {
		return nil
	}

	committed, err := s.inner.ContainsKey(ctx, markerKey)

	if err != nil {
		return fmt.Errorf("%w: %s", kv.ErrJournalRecovery, err.Error())
	}

	if !committed {
		// No marker: either nothing is pending or a submit was
		// interrupted before commit. Discard any record remnant; the
		// batch was never observable.
		remnant, err := s.inner.ContainsKey(ctx, recordKey)

		if err != nil {
			return fmt.Errorf("%w: %s", kv.ErrJournalRecovery, err.Error())
		}

		if remnant {
			if err := s.inner.WriteBatch(ctx, kv.NewBatch().Delete(recordKey)); err != nil {
				return fmt.Errorf("%w: %s", kv.ErrJournalRecovery, err.Error())
			}
		}

		s.recovered = true

		return nil
	}

	record, err := s.inner.ReadValue(ctx, recordKey)

	if err != nil {
		return fmt.Errorf("%w: %s", kv.ErrJournalRecovery, err.Error())
	}

	if record == nil {
		return &kv.CorruptionError{Key: recordKey, Reason: "journal marker present without a record"}
	}

	batch, err := decodeRecord(record)

	if err != nil {
		return &kv.CorruptionError{Key: recordKey, Reason: err.Error()}
	}

	logger, ctx := log.LoggerFromContext(ctx, s.logger)
	logger.Warn("replaying journal record",
		zap.Int("operations", batch.Len()),
		zap.Int("bytes", batch.SizeBytes()),
	)

	if err := s.inner.WriteBatch(ctx, batch); err != nil {
		return fmt.Errorf("%w: %s", kv.ErrJournalRecovery, err.Error())
	}

	if err := s.inner.WriteBatch(ctx, kv.NewBatch().Delete(markerKey).Delete(recordKey)); err != nil {
		return fmt.Errorf("%w: %s", kv.ErrJournalRecovery, err.Error())
	}

	s.recovered = true

	return nil
}

func (s *Store) Limits() kv.Limits {
	return s.limits
}

func (s *Store) ReadValue(ctx context.Context, key []byte) ([]byte, error) {
	if err := s.limits.CheckKey(key); err != nil {
		return nil, err
	}

	if err := s.ensureRecovered(ctx); err != nil {
		return nil, err
	}

	return s.inner.ReadValue(ctx, dataKey(key))
}

func (s *Store) ContainsKey(ctx context.Context, key []byte) (bool, error) {
	if err := s.limits.CheckKey(key); err != nil {
		return false, err
	}

	if err := s.ensureRecovered(ctx); err != nil {
		return false, err
	}

	return s.inner.ContainsKey(ctx, dataKey(key))
}

func (s *Store) ReadMultiValues(ctx context.Context, readKeys [][]byte) ([][]byte, error) {
	mapped := make([][]byte, len(readKeys))

	for i, key := range readKeys {
		if err := s.limits.CheckKey(key); err != nil {
			return nil, err
		}

		mapped[i] = dataKey(key)
	}

	if err := s.ensureRecovered(ctx); err != nil {
		return nil, err
	}

	return s.inner.ReadMultiValues(ctx, mapped)
}

func (s *Store) ContainsKeys(ctx context.Context, readKeys [][]byte) ([]bool, error) {
	mapped := make([][]byte, len(readKeys))

	for i, key := range readKeys {
		if err := s.limits.CheckKey(key); err != nil {
			return nil, err
		}

		mapped[i] = dataKey(key)
	}

	if err := s.ensureRecovered(ctx); err != nil {
		return nil, err
	}

	return s.inner.ContainsKeys(ctx, mapped)
}

func (s *Store) FindKeysByPrefix(ctx context.Context, prefix []byte) ([][]byte, error) {
	if err := s.limits.CheckPrefix(prefix); err != nil {
		return nil, err
	}

	if err := s.ensureRecovered(ctx); err != nil {
		return nil, err
	}

	found, err := s.inner.FindKeysByPrefix(ctx, dataKey(prefix))

	if err != nil {
		return nil, err
	}

	for i, key := range found {
		// Strip the data tag.
		found[i] = key[1:]
	}

	return found, nil
}

func (s *Store) FindKeyValuesByPrefix(ctx context.Context, prefix []byte) ([]kv.KeyValue, error) {
	if err := s.limits.CheckPrefix(prefix); err != nil {
		return nil, err
	}

	if err := s.ensureRecovered(ctx); err != nil {
		return nil, err
	}

	found, err := s.inner.FindKeyValuesByPrefix(ctx, dataKey(prefix))

	if err != nil {
		return nil, err
	}

	for i := range found {
		found[i].Key = found[i].Key[1:]
	}

	return found, nil
}

func (s *Store) WriteBatch(ctx context.Context, batch *kv.Batch) error {
	mapped := kv.NewBatch()

	for _, op := range batch.Ops {
		if err := s.limits.CheckKey(op.Key); err != nil {
			return err
		}

		switch op.Kind {
		case kv.OpPut:
			mapped.Put(dataKey(op.Key), op.Value)
		case kv.OpDelete:
			mapped.Delete(dataKey(op.Key))
		}
	}

	// Writes on the same root key are serialized so that two
	// journaled batches can never race for the journal record.
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.ensureRecoveredLocked(ctx); err != nil {
		return err
	}

	if mapped.Len() == 0 {
		return nil
	}

	if s.fitsNativeTransaction(mapped) {
		// The batch is atomic at the backend's own granularity, no
		// journal record needed.
		return s.inner.WriteBatch(ctx, mapped)
	}

	if err := s.inner.WriteBatch(ctx, kv.NewBatch().Put(recordKey, encodeRecord(mapped))); err != nil {
		return err
	}

	if err := s.inner.WriteBatch(ctx, kv.NewBatch().Put(markerKey, []byte{recordVersion})); err != nil {
		return err
	}

	// From here on the batch is recoverable: if anything below fails
	// or the context is canceled mid-write, marker and record stay
	// behind and the next operation on this root key replays them.
	if err := s.inner.WriteBatch(ctx, mapped); err != nil {
		s.recovered = false

		return err
	}

	if err := s.inner.WriteBatch(ctx, kv.NewBatch().Delete(markerKey).Delete(recordKey)); err != nil {
		s.recovered = false

		return err
	}

	return nil
}

// fitsNativeTransaction reports whether the batch is guaranteed to be
// applied as one atomic sub-transaction by the layers below: few
// enough items, few enough bytes, and no value large enough to be
// split across several physical records.
func (s *Store) fitsNativeTransaction(batch *kv.Batch) bool {
	innerLimits := s.inner.Limits()

	if batch.Len() > innerLimits.MaxBatchItems || batch.SizeBytes() > innerLimits.MaxBatchBytes {
		return false
	}

	for _, op := range batch.Ops {
		if op.Kind == kv.OpPut && len(op.Value) > innerLimits.MaxInlineValueSize {
			return false
		}
	}

	return true
}

// Database decorates a database so that every store it opens journals
// its batches. Recovery granularity is the root key.
type Database struct {
	inner  kv.Database
	logger *zap.Logger
}

var _ kv.Database = (*Database)(nil)

// NewDatabase wraps inner.
func NewDatabase(inner kv.Database, logger *zap.Logger) *Database {
	return &Database{inner: inner, logger: logger}
}

func (db *Database) Open(rootKey []byte) (kv.Store, error) {
	store, err := db.inner.Open(rootKey)

	if err != nil {
		return nil, err
	}

	return New(store, db.logger), nil
}

func (db *Database) ListRootKeys(ctx context.Context) ([][]byte, error) {
	return db.inner.ListRootKeys(ctx)
}
