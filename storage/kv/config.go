package kv

// DefaultStreamBatchSize is the page size used for prefix scans when
// the configuration does not specify one.
const DefaultStreamBatchSize = 100

// Config carries the adapter tuning knobs shared by all backends.
type Config struct {
	// MaxConcurrentQueries bounds the number of simultaneous in-flight
	// backend calls through a counting admission gate. Excess requests
	// suspend until a slot frees. Zero means the adapter's default.
	MaxConcurrentQueries int
	// StreamBatchSize is the preferred page size for prefix scans.
	// Zero means DefaultStreamBatchSize.
	StreamBatchSize int
}

// EffectiveStreamBatchSize resolves the configured page size.
func (config Config) EffectiveStreamBatchSize() int {
	if config.StreamBatchSize <= 0 {
		return DefaultStreamBatchSize
	}

	return config.StreamBatchSize
}
