// Package metrics defines the metrics sink capability injected into
// the storage layers. Core logic behaves identically with the no-op
// sink; a sink only adds instrumentation, never changes returned
// values.
package metrics

// Counter is a monotonically increasing counter.
type Counter interface {
	Inc()
	Add(delta float64)
}

// CounterVec is a family of counters partitioned by label values.
type CounterVec interface {
	// With returns the counter for the given label values, in the
	// order the labels were declared.
	With(labelValues ...string) Counter
}

// Observer records sampled values such as latencies in seconds.
type Observer interface {
	Observe(value float64)
}

// ObserverVec is a family of observers partitioned by label values.
type ObserverVec interface {
	With(labelValues ...string) Observer
}

// Sink hands out metric vectors by name, help text and label names.
type Sink interface {
	CounterVec(name, help string, labels []string) CounterVec
	ObserverVec(name, help string, labels []string) ObserverVec
}

// NewNopSink returns a sink that discards every observation.
func NewNopSink() Sink {
	return nopSink{}
}

type nopSink struct{}

func (nopSink) CounterVec(name, help string, labels []string) CounterVec {
	return nopCounterVec{}
}

func (nopSink) ObserverVec(name, help string, labels []string) ObserverVec {
	return nopObserverVec{}
}

type nopCounterVec struct{}

func (nopCounterVec) With(labelValues ...string) Counter {
	return nopCounter{}
}

type nopCounter struct{}

func (nopCounter) Inc()              {}
func (nopCounter) Add(delta float64) {}

type nopObserverVec struct{}

func (nopObserverVec) With(labelValues ...string) Observer {
	return nopObserver{}
}

type nopObserver struct{}

func (nopObserver) Observe(value float64) {}
