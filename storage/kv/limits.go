package kv

// CheckKey validates a key against the limits. Violations are
// rejected before any I/O.
func (limits Limits) CheckKey(key []byte) error {
	if len(key) == 0 {
		return ErrZeroLengthKey
	}

	if len(key) > limits.MaxKeySize {
		return ErrKeyTooLong
	}

	return nil
}

// CheckPrefix validates a key prefix against the limits.
func (limits Limits) CheckPrefix(prefix []byte) error {
	if len(prefix) == 0 {
		return ErrZeroLengthPrefix
	}

	if len(prefix) > limits.MaxKeySize {
		return ErrPrefixTooLong
	}

	return nil
}

// CheckValue validates a value against the limits.
func (limits Limits) CheckValue(value []byte) error {
	if len(value) > limits.MaxValueSize {
		return ErrValueTooLarge
	}

	return nil
}
