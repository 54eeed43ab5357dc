package metrics_test

import (
	"testing"

	"github.com/Mu-L/linera-protocol/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCountersReachTheRegistry(t *testing.T) {
	registry := prometheus.NewRegistry()
	sink := metrics.NewPrometheusSink(registry)

	counters := sink.CounterVec("test_events_total", "Test events.", []string{"kind"})
	counters.With("a").Inc()
	counters.With("a").Add(2)
	counters.With("b").Inc()

	if got := testutil.ToFloat64(counters.With("a").(prometheus.Counter)); got != 3 {
		t.Fatalf("expected 3 events of kind a, got %v", got)
	}

	if got := testutil.ToFloat64(counters.With("b").(prometheus.Counter)); got != 1 {
		t.Fatalf("expected 1 event of kind b, got %v", got)
	}
}

func TestReregistrationReusesTheVector(t *testing.T) {
	registry := prometheus.NewRegistry()
	sink := metrics.NewPrometheusSink(registry)

	first := sink.CounterVec("test_shared_total", "Shared counter.", []string{"kind"})
	second := sink.CounterVec("test_shared_total", "Shared counter.", []string{"kind"})

	first.With("x").Inc()
	second.With("x").Inc()

	if got := testutil.ToFloat64(first.With("x").(prometheus.Counter)); got != 2 {
		t.Fatalf("expected both handles to share one series, got %v", got)
	}
}

func TestObserversRecord(t *testing.T) {
	registry := prometheus.NewRegistry()
	sink := metrics.NewPrometheusSink(registry)

	observers := sink.ObserverVec("test_duration_seconds", "Test durations.", []string{"op"})
	observers.With("read").Observe(0.1)
	observers.With("read").Observe(0.2)

	count, err := testutil.GatherAndCount(registry, "test_duration_seconds")

	if err != nil {
		t.Fatalf("could not gather: %s", err.Error())
	}

	if count != 1 {
		t.Fatalf("expected one histogram series, got %d", count)
	}
}

func TestNopSinkIsSilent(t *testing.T) {
	sink := metrics.NewNopSink()

	// Must not panic or allocate registry state.
	sink.CounterVec("whatever", "", []string{"a"}).With("x").Inc()
	sink.ObserverVec("whatever", "", []string{"a"}).With("x").Observe(1)
}
