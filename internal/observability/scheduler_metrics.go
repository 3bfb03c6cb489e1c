package observability

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/signalsfoundry/custody-relay-sim/internal/sim/eventq"
)

// QueueCollector exposes event queue metrics. It satisfies eventq.Observer.
type QueueCollector struct {
	gatherer prometheus.Gatherer

	EventsDispatched *prometheus.CounterVec
	EventsSuperseded *prometheus.CounterVec
	PendingEvents    prometheus.Gauge
	StepDuration     prometheus.Histogram
}

var _ eventq.Observer = (*QueueCollector)(nil)

// NewQueueCollector registers queue metrics against the provided registerer.
func NewQueueCollector(reg prometheus.Registerer) (*QueueCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	dispatched := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sim_events_dispatched_total",
		Help: "Events handed to the engine, labeled by kind.",
	}, []string{"kind"})
	dispatched, err := registerCounterVec(reg, dispatched, "sim_events_dispatched_total")
	if err != nil {
		return nil, err
	}

	superseded := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sim_events_superseded_total",
		Help: "Superseded events skipped at dispatch, labeled by kind.",
	}, []string{"kind"})
	superseded, err = registerCounterVec(reg, superseded, "sim_events_superseded_total")
	if err != nil {
		return nil, err
	}

	pending := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sim_events_pending",
		Help: "Live events waiting in the queue.",
	})
	pending, err = registerGauge(reg, pending, "sim_events_pending")
	if err != nil {
		return nil, err
	}

	step := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "sim_step_duration_seconds",
		Help:    "Wall-clock duration of one step call.",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	})
	step, err = registerHistogram(reg, step, "sim_step_duration_seconds")
	if err != nil {
		return nil, err
	}

	return &QueueCollector{
		gatherer:         gatherer,
		EventsDispatched: dispatched,
		EventsSuperseded: superseded,
		PendingEvents:    pending,
		StepDuration:     step,
	}, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *QueueCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// EventDispatched implements eventq.Observer.
func (c *QueueCollector) EventDispatched(kind string) {
	if c == nil || c.EventsDispatched == nil {
		return
	}
	c.EventsDispatched.WithLabelValues(kind).Inc()
}

// EventSuperseded implements eventq.Observer.
func (c *QueueCollector) EventSuperseded(kind string) {
	if c == nil || c.EventsSuperseded == nil {
		return
	}
	c.EventsSuperseded.WithLabelValues(kind).Inc()
}

// QueueDepth implements eventq.Observer.
func (c *QueueCollector) QueueDepth(n int) {
	if c == nil || c.PendingEvents == nil {
		return
	}
	c.PendingEvents.Set(float64(n))
}

// ObserveStep records the wall-clock cost of one step.
func (c *QueueCollector) ObserveStep(d time.Duration) {
	if c == nil || c.StepDuration == nil {
		return
	}
	c.StepDuration.Observe(d.Seconds())
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
