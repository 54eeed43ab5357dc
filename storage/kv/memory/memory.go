// Package memory provides an in-memory backend adapter. It mimics the
// physical layout and transaction chunking of the cloud adapters,
// which makes it the reference backend for tests: limits are
// configurable and a failpoint can abort a write after a chosen number
// of sub-transactions to simulate a mid-batch crash.
package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/Mu-L/linera-protocol/storage/kv"
	"github.com/Mu-L/linera-protocol/storage/kv/keys"
	"github.com/Mu-L/linera-protocol/utils/uuid"
	"github.com/emirpasic/gods/maps/treemap"
)

// Partition tag for data carrying root keys, and the reserved
// partition registering all root keys of the namespace.
var (
	dataPartitionTag = byte(0)
	rootKeyPartition = []byte{1}
)

var errFailpoint = errors.New("injected sub-transaction failure")

// DefaultLimits mirrors the constraint table of the DynamoDB adapter
// so that stacks tested in memory behave like production stacks.
func DefaultLimits() kv.Limits {
	return kv.Limits{
		MaxKeySize:         1024,
		MaxValueSize:       409600,
		MaxInlineValueSize: 409600,
		MaxBatchItems:      100,
		MaxBatchBytes:      4_000_000,
	}
}

// Database is an in-memory namespace holding one sorted map per
// partition.
type Database struct {
	mu         sync.Mutex
	namespace  string
	limits     kv.Limits
	partitions map[string]*treemap.Map

	// failAfter counts remaining data sub-transactions before the
	// failpoint triggers; negative means disabled.
	failAfter int
	reads     int64
	writes    int64
}

var _ kv.Database = (*Database)(nil)

// NewDatabase returns an empty in-memory namespace. Zero limits mean
// DefaultLimits.
func NewDatabase(namespace string, limits kv.Limits) *Database {
	if limits == (kv.Limits{}) {
		limits = DefaultLimits()
	}

	return &Database{
		namespace:  namespace,
		limits:     limits,
		partitions: map[string]*treemap.Map{},
		failAfter:  -1,
	}
}

// NewTempDatabase returns a namespace with a unique name and default
// limits, for tests that don't care how the database is initialized.
func NewTempDatabase() *Database {
	return NewDatabase(uuid.MustUUID(), kv.Limits{})
}

// Namespace returns the namespace name.
func (db *Database) Namespace() string {
	return db.namespace
}

// Limits returns the constraint table of this backend.
func (db *Database) Limits() kv.Limits {
	return db.limits
}

// Open implements kv.Database.Open.
func (db *Database) Open(rootKey []byte) (kv.Store, error) {
	partition := append([]byte{dataPartitionTag}, rootKey...)

	if len(partition) > db.limits.MaxKeySize {
		return nil, kv.ErrKeyTooLong
	}

	return &store{db: db, partition: partition, limits: db.limits}, nil
}

// ListRootKeys implements kv.Database.ListRootKeys.
func (db *Database) ListRootKeys(ctx context.Context) ([][]byte, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	tree, ok := db.partitions[string(rootKeyPartition)]

	if !ok {
		return nil, nil
	}

	var rootKeys [][]byte
	iter := tree.Iterator()

	for iter.Next() {
		registered := iter.Key().(keys.Key)
		// Registered keys carry the data partition tag in front.
		rootKeys = append(rootKeys, append([]byte(nil), registered[1:]...))
	}

	return rootKeys, nil
}

// FailAfterSubTransactions arms the failpoint: the next n data
// sub-transactions succeed and every one after that fails, simulating
// a crash in the middle of a chunked batch. A negative n disables the
// failpoint.
func (db *Database) FailAfterSubTransactions(n int) {
	db.mu.Lock()
	defer db.mu.Unlock()

	db.failAfter = n
}

// ReadCount returns the number of single-key reads served, for tests
// asserting that caching avoids backend round-trips.
func (db *Database) ReadCount() int64 {
	db.mu.Lock()
	defer db.mu.Unlock()

	return db.reads
}

// SubTransactionCount returns the number of data sub-transactions
// applied.
func (db *Database) SubTransactionCount() int64 {
	db.mu.Lock()
	defer db.mu.Unlock()

	return db.writes
}

func (db *Database) tree(partition []byte) *treemap.Map {
	tree, ok := db.partitions[string(partition)]

	if !ok {
		tree = treemap.NewWith(func(a, b interface{}) int {
			return keys.Compare(a.(keys.Key), b.(keys.Key))
		})
		db.partitions[string(partition)] = tree
	}

	return tree
}

type store struct {
	db        *Database
	partition []byte
	limits    kv.Limits

	mu         sync.Mutex
	registered bool
}

var _ kv.Store = (*store)(nil)

func (s *store) Limits() kv.Limits {
	return s.limits
}

func (s *store) ReadValue(ctx context.Context, key []byte) ([]byte, error) {
	if err := s.limits.CheckKey(key); err != nil {
		return nil, err
	}

	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	s.db.reads++

	value, ok := s.db.tree(s.partition).Get(keys.Key(key))

	if !ok {
		return nil, nil
	}

	return append([]byte(nil), value.([]byte)...), nil
}

func (s *store) ContainsKey(ctx context.Context, key []byte) (bool, error) {
	if err := s.limits.CheckKey(key); err != nil {
		return false, err
	}

	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	s.db.reads++

	_, ok := s.db.tree(s.partition).Get(keys.Key(key))

	return ok, nil
}

func (s *store) ReadMultiValues(ctx context.Context, readKeys [][]byte) ([][]byte, error) {
	values := make([][]byte, len(readKeys))

	for i, key := range readKeys {
		value, err := s.ReadValue(ctx, key)

		if err != nil {
			return nil, err
		}

		values[i] = value
	}

	return values, nil
}

func (s *store) ContainsKeys(ctx context.Context, readKeys [][]byte) ([]bool, error) {
	found := make([]bool, len(readKeys))

	for i, key := range readKeys {
		ok, err := s.ContainsKey(ctx, key)

		if err != nil {
			return nil, err
		}

		found[i] = ok
	}

	return found, nil
}

func (s *store) FindKeysByPrefix(ctx context.Context, prefix []byte) ([][]byte, error) {
	if err := s.limits.CheckPrefix(prefix); err != nil {
		return nil, err
	}

	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	var result [][]byte
	upper := keys.Inc(prefix)
	iter := s.db.tree(s.partition).Iterator()

	for iter.Next() {
		key := iter.Key().(keys.Key)

		if keys.Compare(key, prefix) < 0 {
			continue
		}

		// [prefix, Inc(prefix)) spans exactly the prefixed keys, and
		// the tree is sorted, so nothing past the bound matches.
		if upper != nil && keys.Compare(key, upper) >= 0 {
			break
		}

		result = append(result, append([]byte(nil), key...))
	}

	return result, nil
}

func (s *store) FindKeyValuesByPrefix(ctx context.Context, prefix []byte) ([]kv.KeyValue, error) {
	if err := s.limits.CheckPrefix(prefix); err != nil {
		return nil, err
	}

	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	var result []kv.KeyValue
	upper := keys.Inc(prefix)
	iter := s.db.tree(s.partition).Iterator()

	for iter.Next() {
		key := iter.Key().(keys.Key)

		if keys.Compare(key, prefix) < 0 {
			continue
		}

		if upper != nil && keys.Compare(key, upper) >= 0 {
			break
		}

		result = append(result, kv.KeyValue{
			Key:   append([]byte(nil), key...),
			Value: append([]byte(nil), iter.Value().([]byte)...),
		})
	}

	return result, nil
}

func (s *store) WriteBatch(ctx context.Context, batch *kv.Batch) error {
	chunks, err := batch.Chunks(s.limits)

	if err != nil {
		return err
	}

	if len(chunks) == 0 {
		return nil
	}

	if err := s.registerRootKey(); err != nil {
		return err
	}

	// Sub-transactions are issued sequentially, each durable before
	// the next. A failure leaves the earlier chunks applied, the same
	// state a mid-batch crash would leave.
	for _, chunk := range chunks {
		if err := s.db.applySubTransaction(s.partition, chunk); err != nil {
			return err
		}
	}

	return nil
}

// registerRootKey records this store's root key in the reserved
// partition on the first write, so that ListRootKeys can enumerate it.
func (s *store) registerRootKey() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.registered {
		return nil
	}

	s.db.mu.Lock()
	defer s.db.mu.Unlock()

	s.db.tree(rootKeyPartition).Put(keys.Key(append([]byte(nil), s.partition...)), []byte{})
	s.registered = true

	return nil
}

func (db *Database) applySubTransaction(partition []byte, chunk []kv.Op) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.failAfter == 0 {
		return &kv.BackendError{Op: "SubTransaction", Err: errFailpoint}
	}

	if db.failAfter > 0 {
		db.failAfter--
	}

	tree := db.tree(partition)

	for _, op := range chunk {
		switch op.Kind {
		case kv.OpPut:
			tree.Put(keys.Key(append([]byte(nil), op.Key...)), append([]byte(nil), op.Value...))
		case kv.OpDelete:
			tree.Remove(keys.Key(op.Key))
		}
	}

	db.writes++

	return nil
}
