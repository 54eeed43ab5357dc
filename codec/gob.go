package codec

import (
	"bytes"
	"encoding/gob"
)

// NewGobCodec returns a codec using Go's binary gob format.
func NewGobCodec() Codec {
	return gobCodec{}
}

type gobCodec struct{}

func (gobCodec) Name() string {
	return "gob"
}

func (gobCodec) Marshal(value any) ([]byte, error) {
	var buf bytes.Buffer

	if err := gob.NewEncoder(&buf).Encode(value); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

func (gobCodec) Unmarshal(data []byte, out any) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(out)
}
