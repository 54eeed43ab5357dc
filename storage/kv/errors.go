package kv

import (
	"errors"
	"fmt"
)

var (
	// ErrZeroLengthKey is returned when a key is empty. Rejected
	// before any I/O, never retried.
	ErrZeroLengthKey = errors.New("key must have strictly positive length")
	// ErrKeyTooLong is returned when a key exceeds MaxKeySize.
	ErrKeyTooLong = errors.New("key exceeds the maximum key size")
	// ErrZeroLengthPrefix is returned when a key prefix is empty.
	ErrZeroLengthPrefix = errors.New("key prefix must have strictly positive length")
	// ErrPrefixTooLong is returned when a key prefix exceeds MaxKeySize.
	ErrPrefixTooLong = errors.New("key prefix exceeds the maximum key size")
	// ErrValueTooLarge is returned when a value exceeds MaxValueSize.
	// Values are never silently clamped or truncated.
	ErrValueTooLarge = errors.New("value exceeds the maximum value size")
	// ErrInvalidNamespace is returned when a namespace name violates
	// the backend's naming rules.
	ErrInvalidNamespace = errors.New("invalid namespace name")
	// ErrJournalRecovery is returned when journal recovery could not
	// complete, typically because the backend was unreachable. The
	// operation is retryable at the caller's discretion; no partial
	// state has been exposed.
	ErrJournalRecovery = errors.New("journal recovery could not complete")
)

// BackendError wraps a connectivity, quota or missing-resource error
// reported by the backend driver. It is a distinct kind from
// CorruptionError: the stored data is presumed intact and the
// operation may succeed on retry.
type BackendError struct {
	// Op names the backend operation that failed.
	Op  string
	Err error
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("backend %s: %s", e.Op, e.Err)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// CorruptionError indicates that stored data did not have the expected
// shape: a missing attribute, an attribute of an unexpected type, a
// truncated split value or an unparseable journal record. It is
// unrecoverable and surfaced rather than silently ignored.
type CorruptionError struct {
	// Key is the physical key whose record was malformed, if known.
	Key    []byte
	Reason string
}

func (e *CorruptionError) Error() string {
	if e.Key == nil {
		return fmt.Sprintf("data corruption: %s", e.Reason)
	}

	return fmt.Sprintf("data corruption at key %x: %s", e.Key, e.Reason)
}

// IsValidation reports whether err is a pre-I/O validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrZeroLengthKey) ||
		errors.Is(err, ErrKeyTooLong) ||
		errors.Is(err, ErrZeroLengthPrefix) ||
		errors.Is(err, ErrPrefixTooLong) ||
		errors.Is(err, ErrValueTooLarge) ||
		errors.Is(err, ErrInvalidNamespace)
}
