// Package keys contains helpers for working with binary keys.
package keys

import (
	"bytes"
)

// Key is a single key
type Key []byte

// Compare compares two keys
// -1 means a < b
// 1 means a > b
// 0 means a = b
func Compare(a, b Key) int {
	return bytes.Compare(a, b)
}

// Inc returns the lowest key greater than every key starting with key,
// so the half-open range [key, Inc(key)) holds exactly the keys
// carrying that prefix. Trailing 0xff bytes are dropped rather than
// carried, otherwise the bound would let keys without the prefix slip
// into the range. Inc returns nil if every byte is 0xff, meaning the
// range extends to the end of the key space.
func Inc(key Key) Key {
	for i := len(key) - 1; i >= 0; i-- {
		if key[i] == 0xff {
			continue
		}

		after := make(Key, i+1)
		copy(after, key[:i+1])
		after[i]++

		return after
	}

	return nil
}
