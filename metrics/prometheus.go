package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusSink implements Sink on top of a prometheus registerer.
type PrometheusSink struct {
	registerer prometheus.Registerer
}

var _ Sink = (*PrometheusSink)(nil)

// NewPrometheusSink returns a sink registering its vectors with
// registerer. A nil registerer means prometheus.DefaultRegisterer.
func NewPrometheusSink(registerer prometheus.Registerer) *PrometheusSink {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &PrometheusSink{registerer: registerer}
}

// CounterVec registers a counter vector, reusing an existing one if a
// vector with the same name was registered before.
func (sink *PrometheusSink) CounterVec(name, help string, labels []string) CounterVec {
	vec := prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: help}, labels)

	if err := sink.registerer.Register(vec); err != nil {
		var already prometheus.AlreadyRegisteredError

		if !errors.As(err, &already) {
			panic(err)
		}

		vec = already.ExistingCollector.(*prometheus.CounterVec)
	}

	return promCounterVec{vec}
}

// ObserverVec registers a histogram vector, reusing an existing one if
// a vector with the same name was registered before.
func (sink *PrometheusSink) ObserverVec(name, help string, labels []string) ObserverVec {
	vec := prometheus.NewHistogramVec(prometheus.HistogramOpts{Name: name, Help: help}, labels)

	if err := sink.registerer.Register(vec); err != nil {
		var already prometheus.AlreadyRegisteredError

		if !errors.As(err, &already) {
			panic(err)
		}

		vec = already.ExistingCollector.(*prometheus.HistogramVec)
	}

	return promObserverVec{vec}
}

type promCounterVec struct {
	vec *prometheus.CounterVec
}

func (c promCounterVec) With(labelValues ...string) Counter {
	return c.vec.WithLabelValues(labelValues...)
}

type promObserverVec struct {
	vec *prometheus.HistogramVec
}

func (o promObserverVec) With(labelValues ...string) Observer {
	return o.vec.WithLabelValues(labelValues...)
}
