package codec

import (
	"encoding/json"
)

// NewJSONCodec returns a codec using the JSON format. It is mostly
// useful for debugging since the stored bytes stay human readable.
func NewJSONCodec() Codec {
	return jsonCodec{}
}

type jsonCodec struct{}

func (jsonCodec) Name() string {
	return "json"
}

func (jsonCodec) Marshal(value any) ([]byte, error) {
	return json.Marshal(value)
}

func (jsonCodec) Unmarshal(data []byte, out any) error {
	return json.Unmarshal(data, out)
}
