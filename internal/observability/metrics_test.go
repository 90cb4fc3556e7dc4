package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestKernelCollectorObserveEvent(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewKernelCollector(reg)
	if err != nil {
		t.Fatalf("NewKernelCollector: %v", err)
	}

	collector.ObserveEvent("Account.deposit", 5*time.Millisecond)
	collector.ObserveEvent("Account.deposit", 2*time.Millisecond)

	if got := testutil.ToFloat64(collector.EventsProcessed.WithLabelValues("Account.deposit")); got != 2 {
		t.Fatalf("primemover_events_processed_total = %v, want 2", got)
	}
}

func TestKernelCollectorGauges(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewKernelCollector(reg)
	if err != nil {
		t.Fatalf("NewKernelCollector: %v", err)
	}

	collector.SetQueueDepth(3)
	collector.IncBlockingCalls()
	collector.IncBlockingCalls()
	collector.SetParkedContinuations(1)
	collector.IncSimulationFailures()

	if got := testutil.ToFloat64(collector.QueueDepth); got != 3 {
		t.Fatalf("queue depth = %v, want 3", got)
	}
	if got := testutil.ToFloat64(collector.BlockingCallsTotal); got != 2 {
		t.Fatalf("blocking calls = %v, want 2", got)
	}
	if got := testutil.ToFloat64(collector.ParkedContinuations); got != 1 {
		t.Fatalf("parked continuations = %v, want 1", got)
	}
	if got := testutil.ToFloat64(collector.SimulationFailures); got != 1 {
		t.Fatalf("simulation failures = %v, want 1", got)
	}
}

func TestKernelCollectorNilSafe(t *testing.T) {
	var c *KernelCollector
	// Must not panic when the scheduler is constructed without metrics.
	c.ObserveEvent("x", time.Millisecond)
	c.SetQueueDepth(1)
	c.IncBlockingCalls()
	c.SetParkedContinuations(1)
	c.IncSimulationFailures()
}

func TestNewKernelCollectorDoubleRegister(t *testing.T) {
	reg := prometheus.NewRegistry()
	if _, err := NewKernelCollector(reg); err != nil {
		t.Fatalf("first NewKernelCollector: %v", err)
	}
	if _, err := NewKernelCollector(reg); err != nil {
		t.Fatalf("second NewKernelCollector (idempotent register) failed: %v", err)
	}
}
