// Package splitting hides the backend's raw value-size cap. Values
// that do not fit one physical record are chunked across several
// records whose concatenation reconstructs the original; the decision
// is purely size-driven and never visible above this layer.
//
// Every logical key k maps to the physical key k followed by a
// big-endian part index. The head record at index 0 starts with a
// one-byte marker: absence of the split marker means the value is
// stored verbatim after it, presence means the head carries an
// envelope (part count, total length) and the first segment, with the
// remaining segments stored at indexes 1..count-1.
package splitting

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/Mu-L/linera-protocol/storage/kv"
	"github.com/Mu-L/linera-protocol/storage/kv/keys"
)

const (
	markerInline = byte(0)
	markerSplit  = byte(1)

	suffixLen = 4
	// marker + part count + total length
	envelopeLen = 1 + 4 + 8
)

// Store decorates any adapter with transparent value splitting.
type Store struct {
	inner  kv.Store
	limits kv.Limits
}

var _ kv.Store = (*Store)(nil)

// New wraps inner. The visible limits trade four bytes of key space
// for the part suffix and lift the value cap entirely. The batch byte
// cap shrinks by the worst-case per-item overhead so that a batch of
// inline values within the visible caps always maps to one batch
// within the physical caps.
func New(inner kv.Store) *Store {
	innerLimits := inner.Limits()

	return &Store{
		inner: inner,
		limits: kv.Limits{
			MaxKeySize:         innerLimits.MaxKeySize - suffixLen,
			MaxValueSize:       math.MaxInt,
			MaxInlineValueSize: innerLimits.MaxInlineValueSize - envelopeLen,
			MaxBatchItems:      innerLimits.MaxBatchItems,
			MaxBatchBytes:      innerLimits.MaxBatchBytes - innerLimits.MaxBatchItems*(suffixLen+envelopeLen),
		},
	}
}

// partKey derives the physical key of segment index of key.
func partKey(key []byte, index uint32) []byte {
	physical := make([]byte, len(key)+suffixLen)
	copy(physical, key)
	binary.BigEndian.PutUint32(physical[len(key):], index)

	return physical
}

// splitPhysicalKey splits a physical key into its logical base and
// part index.
func splitPhysicalKey(physical []byte) (base []byte, index uint32) {
	split := len(physical) - suffixLen

	return physical[:split], binary.BigEndian.Uint32(physical[split:])
}

func (s *Store) Limits() kv.Limits {
	return s.limits
}

func (s *Store) ReadValue(ctx context.Context, key []byte) ([]byte, error) {
	if err := s.limits.CheckKey(key); err != nil {
		return nil, err
	}

	head, err := s.inner.ReadValue(ctx, partKey(key, 0))

	if err != nil {
		return nil, err
	}

	if head == nil {
		return nil, nil
	}

	return s.assemble(ctx, key, head)
}

// assemble reconstructs a logical value from its head record, fetching
// the remaining segments when the head carries a split envelope.
func (s *Store) assemble(ctx context.Context, key, head []byte) ([]byte, error) {
	count, total, segment, err := parseHead(key, head)

	if err != nil {
		return nil, err
	}

	if count == 1 {
		return segment, nil
	}

	partKeys := make([][]byte, 0, count-1)

	for index := uint32(1); index < count; index++ {
		partKeys = append(partKeys, partKey(key, index))
	}

	parts, err := s.inner.ReadMultiValues(ctx, partKeys)

	if err != nil {
		return nil, err
	}

	value := make([]byte, 0, total)
	value = append(value, segment...)

	for i, part := range parts {
		if part == nil {
			// A segment written by a larger batch is missing: a crash
			// in the middle of a multi-part write. The journal layer
			// is responsible for never letting this state be read.
			return nil, &kv.CorruptionError{
				Key:    partKeys[i],
				Reason: "split value segment is missing",
			}
		}

		value = append(value, part...)
	}

	if uint64(len(value)) != total {
		return nil, &kv.CorruptionError{
			Key:    key,
			Reason: fmt.Sprintf("split value has %d bytes, envelope declares %d", len(value), total),
		}
	}

	return value, nil
}

// parseHead validates the head record and returns the declared part
// count, the declared total length and the segment carried by the
// head.
func parseHead(key, head []byte) (count uint32, total uint64, segment []byte, err error) {
	if len(head) == 0 {
		return 0, 0, nil, &kv.CorruptionError{Key: key, Reason: "head record has no marker byte"}
	}

	switch head[0] {
	case markerInline:
		segment = head[1:]

		return 1, uint64(len(segment)), segment, nil
	case markerSplit:
		if len(head) < envelopeLen {
			return 0, 0, nil, &kv.CorruptionError{Key: key, Reason: "split envelope is truncated"}
		}

		count = binary.BigEndian.Uint32(head[1:5])
		total = binary.BigEndian.Uint64(head[5:13])

		if count < 2 {
			return 0, 0, nil, &kv.CorruptionError{Key: key, Reason: "split envelope declares fewer than two parts"}
		}

		return count, total, head[envelopeLen:], nil
	default:
		return 0, 0, nil, &kv.CorruptionError{Key: key, Reason: fmt.Sprintf("unknown value marker %d", head[0])}
	}
}

func (s *Store) ContainsKey(ctx context.Context, key []byte) (bool, error) {
	if err := s.limits.CheckKey(key); err != nil {
		return false, err
	}

	return s.inner.ContainsKey(ctx, partKey(key, 0))
}

func (s *Store) ReadMultiValues(ctx context.Context, readKeys [][]byte) ([][]byte, error) {
	headKeys := make([][]byte, len(readKeys))

	for i, key := range readKeys {
		if err := s.limits.CheckKey(key); err != nil {
			return nil, err
		}

		headKeys[i] = partKey(key, 0)
	}

	heads, err := s.inner.ReadMultiValues(ctx, headKeys)

	if err != nil {
		return nil, err
	}

	values := make([][]byte, len(readKeys))

	for i, head := range heads {
		if head == nil {
			continue
		}

		value, err := s.assemble(ctx, readKeys[i], head)

		if err != nil {
			return nil, err
		}

		values[i] = value
	}

	return values, nil
}

func (s *Store) ContainsKeys(ctx context.Context, readKeys [][]byte) ([]bool, error) {
	headKeys := make([][]byte, len(readKeys))

	for i, key := range readKeys {
		if err := s.limits.CheckKey(key); err != nil {
			return nil, err
		}

		headKeys[i] = partKey(key, 0)
	}

	return s.inner.ContainsKeys(ctx, headKeys)
}

func (s *Store) FindKeysByPrefix(ctx context.Context, prefix []byte) ([][]byte, error) {
	if err := s.limits.CheckPrefix(prefix); err != nil {
		return nil, err
	}

	physicalKeys, err := s.inner.FindKeysByPrefix(ctx, prefix)

	if err != nil {
		return nil, err
	}

	var result [][]byte

	for _, physical := range physicalKeys {
		base, index := splitPhysicalKey(physical)

		// Only head records represent logical keys. Higher indexes
		// are segments, possibly orphaned by a shrinking rewrite.
		if index == 0 {
			result = append(result, base)
		}
	}

	return result, nil
}

func (s *Store) FindKeyValuesByPrefix(ctx context.Context, prefix []byte) ([]kv.KeyValue, error) {
	if err := s.limits.CheckPrefix(prefix); err != nil {
		return nil, err
	}

	physical, err := s.inner.FindKeyValuesByPrefix(ctx, prefix)

	if err != nil {
		return nil, err
	}

	var result []kv.KeyValue

	for i := 0; i < len(physical); i++ {
		base, index := splitPhysicalKey(physical[i].Key)

		if index != 0 {
			// Orphan segment left behind by a shrinking rewrite.
			continue
		}

		count, total, segment, err := parseHead(base, physical[i].Value)

		if err != nil {
			return nil, err
		}

		value := make([]byte, 0, total)
		value = append(value, segment...)

		// Segments of a split value follow their head contiguously in
		// the sorted scan.
		for next := uint32(1); next < count; next++ {
			i++

			if i >= len(physical) {
				return nil, &kv.CorruptionError{Key: base, Reason: "split value segment is missing"}
			}

			segmentBase, segmentIndex := splitPhysicalKey(physical[i].Key)

			if keys.Compare(segmentBase, base) != 0 || segmentIndex != next {
				return nil, &kv.CorruptionError{Key: base, Reason: "split value segment is missing"}
			}

			value = append(value, physical[i].Value...)
		}

		if uint64(len(value)) != total {
			return nil, &kv.CorruptionError{
				Key:    base,
				Reason: fmt.Sprintf("split value has %d bytes, envelope declares %d", len(value), total),
			}
		}

		result = append(result, kv.KeyValue{Key: base, Value: value})
	}

	return result, nil
}

func (s *Store) WriteBatch(ctx context.Context, batch *kv.Batch) error {
	physical := kv.NewBatch()

	for _, op := range batch.Ops {
		if err := s.limits.CheckKey(op.Key); err != nil {
			return err
		}

		switch op.Kind {
		case kv.OpDelete:
			// Deleting the head is enough to make the logical key
			// unreadable; stale segments are skipped by reads and
			// scans.
			physical.Delete(partKey(op.Key, 0))
		case kv.OpPut:
			s.appendPut(physical, op.Key, op.Value)
		}
	}

	return s.inner.WriteBatch(ctx, physical)
}

// appendPut encodes one logical insertion into head and segment
// records.
func (s *Store) appendPut(physical *kv.Batch, key, value []byte) {
	if len(value) <= s.limits.MaxInlineValueSize {
		head := make([]byte, 0, 1+len(value))
		head = append(head, markerInline)
		head = append(head, value...)
		physical.Put(partKey(key, 0), head)

		return
	}

	headCapacity := s.limits.MaxInlineValueSize
	segmentSize := s.inner.Limits().MaxInlineValueSize
	remaining := len(value) - headCapacity
	count := uint32(1 + (remaining+segmentSize-1)/segmentSize)

	head := make([]byte, envelopeLen, envelopeLen+headCapacity)
	head[0] = markerSplit
	binary.BigEndian.PutUint32(head[1:5], count)
	binary.BigEndian.PutUint64(head[5:13], uint64(len(value)))
	head = append(head, value[:headCapacity]...)
	physical.Put(partKey(key, 0), head)

	offset := headCapacity

	for index := uint32(1); index < count; index++ {
		end := offset + segmentSize

		if end > len(value) {
			end = len(value)
		}

		physical.Put(partKey(key, index), value[offset:end])
		offset = end
	}
}

// Database decorates a database so that every store it opens splits
// values transparently.
type Database struct {
	inner kv.Database
}

var _ kv.Database = (*Database)(nil)

// NewDatabase wraps inner.
func NewDatabase(inner kv.Database) *Database {
	return &Database{inner: inner}
}

func (db *Database) Open(rootKey []byte) (kv.Store, error) {
	store, err := db.inner.Open(rootKey)

	if err != nil {
		return nil, err
	}

	return New(store), nil
}

func (db *Database) ListRootKeys(ctx context.Context) ([][]byte, error) {
	return db.inner.ListRootKeys(ctx)
}
