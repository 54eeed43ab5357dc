package journal

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/Mu-L/linera-protocol/storage/kv"
)

// Journal records use a small deterministic binary format:
//
//	1 byte  record version
//	4 bytes operation count (big endian)
//
// followed by one entry per operation:
//
//	1 byte  operation kind
//	4 bytes key length, then the key
//	8 bytes value length, then the value (puts only)
const recordVersion = byte(1)

var errTruncatedRecord = errors.New("journal record is truncated")

func encodeRecord(batch *kv.Batch) []byte {
	size := 5

	for _, op := range batch.Ops {
		size += 5 + len(op.Key)

		if op.Kind == kv.OpPut {
			size += 8 + len(op.Value)
		}
	}

	record := make([]byte, 0, size)
	record = append(record, recordVersion)
	record = binary.BigEndian.AppendUint32(record, uint32(len(batch.Ops)))

	for _, op := range batch.Ops {
		record = append(record, byte(op.Kind))
		record = binary.BigEndian.AppendUint32(record, uint32(len(op.Key)))
		record = append(record, op.Key...)

		if op.Kind == kv.OpPut {
			record = binary.BigEndian.AppendUint64(record, uint64(len(op.Value)))
			record = append(record, op.Value...)
		}
	}

	return record
}

func decodeRecord(record []byte) (*kv.Batch, error) {
	if len(record) < 5 {
		return nil, errTruncatedRecord
	}

	if record[0] != recordVersion {
		return nil, fmt.Errorf("unsupported journal record version %d", record[0])
	}

	count := binary.BigEndian.Uint32(record[1:5])
	rest := record[5:]
	batch := &kv.Batch{Ops: make([]kv.Op, 0, count)}

	for i := uint32(0); i < count; i++ {
		if len(rest) < 5 {
			return nil, errTruncatedRecord
		}

		kind := kv.OpKind(rest[0])
		keyLen := int(binary.BigEndian.Uint32(rest[1:5]))
		rest = rest[5:]

		if kind != kv.OpPut && kind != kv.OpDelete {
			return nil, fmt.Errorf("unknown journal operation kind %d", kind)
		}

		if len(rest) < keyLen {
			return nil, errTruncatedRecord
		}

		key := rest[:keyLen]
		rest = rest[keyLen:]

		if kind == kv.OpDelete {
			batch.Delete(key)

			continue
		}

		if len(rest) < 8 {
			return nil, errTruncatedRecord
		}

		valueLen := int(binary.BigEndian.Uint64(rest[:8]))
		rest = rest[8:]

		if len(rest) < valueLen {
			return nil, errTruncatedRecord
		}

		batch.Put(key, rest[:valueLen])
		rest = rest[valueLen:]
	}

	if len(rest) != 0 {
		return nil, fmt.Errorf("journal record has %d trailing bytes", len(rest))
	}

	return batch, nil
}
