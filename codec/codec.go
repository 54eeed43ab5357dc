// Package codec defines the byte-serialization codec applied to
// application values before they enter the byte-oriented store.
package codec

// Codec serializes application values to bytes and back. An
// implementation must be deterministic: serializing the same value
// twice yields the same bytes.
type Codec interface {
	// Name returns the name of the codec
	Name() string
	// Marshal serializes a value into a byte array
	Marshal(value any) ([]byte, error)
	// Unmarshal deserializes a byte array into the value pointed to
	// by out
	Unmarshal(data []byte, out any) error
}
