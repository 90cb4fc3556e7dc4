package observability

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// KernelCollector bundles the Prometheus metrics exposed by a running
// Scheduler and provides a ready-to-use /metrics handler.
type KernelCollector struct {
	gatherer prometheus.Gatherer

	EventsProcessed     *prometheus.CounterVec
	EvaluationDurations prometheus.Histogram
	QueueDepth          prometheus.Gauge
	BlockingCallsTotal  prometheus.Counter
	ParkedContinuations prometheus.Gauge
	SimulationFailures  prometheus.Counter
}

// NewKernelCollector registers kernel Prometheus metrics against the
// provided registerer, defaulting to the global Prometheus registry when nil.
func NewKernelCollector(reg prometheus.Registerer) (*KernelCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "primemover_events_processed_total",
		Help: "Total number of events evaluated, labeled by target signature (the spectrum).",
	}, []string{"signature"})
	events, err := registerCounterVec(reg, events, "primemover_events_processed_total")
	if err != nil {
		return nil, err
	}

	durations := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "primemover_evaluation_duration_seconds",
		Help:    "Wall-clock duration of a single Scheduler.evaluate call.",
		Buckets: []float64{0.00001, 0.00005, 0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
	})
	durations, err = registerHistogram(reg, durations, "primemover_evaluation_duration_seconds")
	if err != nil {
		return nil, err
	}

	queueDepth, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "primemover_queue_depth",
		Help: "Current number of pending events in the TimeQueue.",
	}), "primemover_queue_depth")
	if err != nil {
		return nil, err
	}

	blocking, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "primemover_blocking_calls_total",
		Help: "Total number of postContinuingEvent calls issued by running event tasks.",
	}), "primemover_blocking_calls_total")
	if err != nil {
		return nil, err
	}

	parked, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "primemover_parked_continuations",
		Help: "Current number of continuations parked awaiting a blocking result.",
	}), "primemover_parked_continuations")
	if err != nil {
		return nil, err
	}

	failures, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "primemover_simulation_failures_total",
		Help: "Total number of uncaught domain errors that aborted the simulation.",
	}), "primemover_simulation_failures_total")
	if err != nil {
		return nil, err
	}

	return &KernelCollector{
		gatherer:            gatherer,
		EventsProcessed:     events,
		EvaluationDurations: durations,
		QueueDepth:          queueDepth,
		BlockingCallsTotal:  blocking,
		ParkedContinuations: parked,
		SimulationFailures:  failures,
	}, nil
}

// ObserveEvent records one processed event against the spectrum and the
// evaluation-duration histogram.
func (c *KernelCollector) ObserveEvent(signature string, d time.Duration) {
	if c == nil {
		return
	}
	if c.EventsProcessed != nil {
		c.EventsProcessed.WithLabelValues(signature).Inc()
	}
	if c.EvaluationDurations != nil {
		c.EvaluationDurations.Observe(d.Seconds())
	}
}

// SetQueueDepth updates the queue-depth gauge.
func (c *KernelCollector) SetQueueDepth(n int) {
	if c == nil || c.QueueDepth == nil {
		return
	}
	c.QueueDepth.Set(float64(n))
}

// IncBlockingCalls increments the blocking-call counter.
func (c *KernelCollector) IncBlockingCalls() {
	if c == nil || c.BlockingCallsTotal == nil {
		return
	}
	c.BlockingCallsTotal.Inc()
}

// SetParkedContinuations updates the parked-continuation gauge.
func (c *KernelCollector) SetParkedContinuations(n int) {
	if c == nil || c.ParkedContinuations == nil {
		return
	}
	c.ParkedContinuations.Set(float64(n))
}

// IncSimulationFailures increments the simulation-failure counter.
func (c *KernelCollector) IncSimulationFailures() {
	if c == nil || c.SimulationFailures == nil {
		return
	}
	c.SimulationFailures.Inc()
}

// Handler exposes a ready-to-use /metrics handler.
func (c *KernelCollector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogram(reg prometheus.Registerer, hist prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(hist); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return hist, nil
}

func registerCounter(reg prometheus.Registerer, counter prometheus.Counter, name string) (prometheus.Counter, error) {
	if err := reg.Register(counter); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Counter); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return counter, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}
