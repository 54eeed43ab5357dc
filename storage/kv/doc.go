// Package kv defines the contract for a byte-oriented key-value store
// built as a stack of decorator layers over a size- and
// throughput-constrained backend.
//
// The leaf of the stack is a backend adapter (see the dynamodb and
// memory packages) that talks to the concrete storage service and
// declares its hard limits as a Limits capability table. Decorator
// layers compose over any Store to lift those limits one concern at a
// time:
//
//   - splitting hides the backend's raw value-size cap by chunking
//     oversized values across multiple physical records.
//   - journal makes multi-key batches crash-consistent even when the
//     backend's native atomic transaction is smaller than the batch.
//   - metered records operation counts and latencies.
//   - lru caches read results to avoid redundant backend round-trips.
//
// Writes flow cache -> metered -> journal -> splitting -> adapter and
// reads unwind the same stack. Each layer adjusts the Limits it
// advertises to its consumer so that upper layers and callers never
// need backend-specific knowledge.
package kv
