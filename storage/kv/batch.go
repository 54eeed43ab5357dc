package kv

// OpKind distinguishes batch operations.
type OpKind uint8

const (
	// OpPut inserts or overwrites a key.
	OpPut OpKind = iota
	// OpDelete removes a key. Deleting a missing key has no effect.
	OpDelete
)

// Op is a single batch operation.
type Op struct {
	Kind  OpKind
	Key   []byte
	Value []byte
}

// Batch is an ordered set of insertions and deletions applied with
// all-or-nothing visibility.
type Batch struct {
	Ops []Op
}

// NewBatch returns an empty batch.
func NewBatch() *Batch {
	return &Batch{}
}

// Put appends an insertion to the batch.
func (batch *Batch) Put(key, value []byte) *Batch {
	batch.Ops = append(batch.Ops, Op{Kind: OpPut, Key: key, Value: value})

	return batch
}

// Delete appends a deletion to the batch.
func (batch *Batch) Delete(key []byte) *Batch {
	batch.Ops = append(batch.Ops, Op{Kind: OpDelete, Key: key})

	return batch
}

// Len returns the number of operations in the batch.
func (batch *Batch) Len() int {
	return len(batch.Ops)
}

// SizeBytes returns the total size of all keys and values in the batch.
func (batch *Batch) SizeBytes() int {
	size := 0

	for _, op := range batch.Ops {
		size += len(op.Key) + len(op.Value)
	}

	return size
}

// Simplify collapses the batch to one operation per key, the last one
// winning. The result keeps the first-seen order of keys so that
// chunking and journal replay are deterministic. Backends whose native
// transactions forbid touching the same key twice rely on this.
func (batch *Batch) Simplify() *Batch {
	index := make(map[string]int, len(batch.Ops))
	simplified := &Batch{Ops: make([]Op, 0, len(batch.Ops))}

	for _, op := range batch.Ops {
		if i, ok := index[string(op.Key)]; ok {
			simplified.Ops[i] = op

			continue
		}

		index[string(op.Key)] = len(simplified.Ops)
		simplified.Ops = append(simplified.Ops, op)
	}

	return simplified
}

// Chunks validates every operation against limits and splits the
// simplified batch into sub-transactions of at most MaxBatchItems
// operations and MaxBatchBytes total bytes each, in deterministic
// order. Oversize keys and values are rejected before any chunk is
// produced.
func (batch *Batch) Chunks(limits Limits) ([][]Op, error) {
	simplified := batch.Simplify()

	for _, op := range simplified.Ops {
		if err := limits.CheckKey(op.Key); err != nil {
			return nil, err
		}

		if op.Kind == OpPut {
			if err := limits.CheckValue(op.Value); err != nil {
				return nil, err
			}
		}
	}

	var chunks [][]Op
	var chunk []Op
	chunkBytes := 0

	for _, op := range simplified.Ops {
		opBytes := len(op.Key) + len(op.Value)

		if len(chunk) > 0 && (len(chunk) >= limits.MaxBatchItems || chunkBytes+opBytes > limits.MaxBatchBytes) {
			chunks = append(chunks, chunk)
			chunk = nil
			chunkBytes = 0
		}

		chunk = append(chunk, op)
		chunkBytes += opBytes
	}

	if len(chunk) > 0 {
		chunks = append(chunks, chunk)
	}

	return chunks, nil
}
