package observability

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/signalsfoundry/custody-relay-sim/internal/sim/metrics"
	"github.com/signalsfoundry/custody-relay-sim/model"
)

// SimCollector bundles Prometheus metrics for bundle and contact outcomes.
// It satisfies metrics.Recorder so a run's Collector can mirror into it.
type SimCollector struct {
	gatherer prometheus.Gatherer

	BundlesInjected   prometheus.Counter
	BundleOutcomes    *prometheus.CounterVec
	DeliveryLatency   prometheus.Histogram
	DeliveryHops      prometheus.Histogram
	ContactsStarted   prometheus.Counter
	StrategyChoices   *prometheus.CounterVec
	TransferDecisions *prometheus.CounterVec
	SimulatedTime     prometheus.Gauge
}

var _ metrics.Recorder = (*SimCollector)(nil)

// NewSimCollector registers simulation metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewSimCollector(reg prometheus.Registerer) (*SimCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	injected, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sim_bundles_injected_total",
		Help: "Bundles created by injection events.",
	}), "sim_bundles_injected_total")
	if err != nil {
		return nil, err
	}

	outcomes, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sim_bundle_outcomes_total",
		Help: "Terminal bundle outcomes, labeled by outcome (delivered, expired, dropped_at_capacity).",
	}, []string{"outcome"}), "sim_bundle_outcomes_total")
	if err != nil {
		return nil, err
	}

	latency, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "sim_delivery_latency_seconds",
		Help:    "Simulated time from injection to delivery.",
		Buckets: []float64{1, 10, 30, 60, 300, 600, 1800, 3600, 7200, 21600, 86400},
	}), "sim_delivery_latency_seconds")
	if err != nil {
		return nil, err
	}

	hops, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "sim_delivery_hops",
		Help:    "Hop count of delivered bundles.",
		Buckets: []float64{1, 2, 3, 4, 5, 6, 8, 10, 15},
	}), "sim_delivery_hops")
	if err != nil {
		return nil, err
	}

	contacts, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sim_contacts_started_total",
		Help: "Contact windows opened.",
	}), "sim_contacts_started_total")
	if err != nil {
		return nil, err
	}

	strategies, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sim_strategy_choices_total",
		Help: "Strategies chosen per exchange round, labeled by strategy and resulting action.",
	}, []string{"strategy", "action"}), "sim_strategy_choices_total")
	if err != nil {
		return nil, err
	}

	transfers, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sim_transfer_decisions_total",
		Help: "Per-bundle transfer decisions, labeled by result.",
	}, []string{"result"}), "sim_transfer_decisions_total")
	if err != nil {
		return nil, err
	}

	simTime, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sim_time_seconds",
		Help: "Current simulated clock.",
	}), "sim_time_seconds")
	if err != nil {
		return nil, err
	}

	return &SimCollector{
		gatherer:          gatherer,
		BundlesInjected:   injected,
		BundleOutcomes:    outcomes,
		DeliveryLatency:   latency,
		DeliveryHops:      hops,
		ContactsStarted:   contacts,
		StrategyChoices:   strategies,
		TransferDecisions: transfers,
		SimulatedTime:     simTime,
	}, nil
}

// Handler exposes a ready-to-use /metrics handler.
func (c *SimCollector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// BundleInjected implements metrics.Recorder.
func (c *SimCollector) BundleInjected() {
	if c == nil || c.BundlesInjected == nil {
		return
	}
	c.BundlesInjected.Inc()
}

// BundleTerminal implements metrics.Recorder.
func (c *SimCollector) BundleTerminal(o metrics.Outcome) {
	if c == nil {
		return
	}
	if c.BundleOutcomes != nil {
		c.BundleOutcomes.WithLabelValues(o.Kind.String()).Inc()
	}
	if o.Kind != metrics.Delivered {
		return
	}
	if c.DeliveryLatency != nil {
		c.DeliveryLatency.Observe(o.Latency.Seconds())
	}
	if c.DeliveryHops != nil {
		c.DeliveryHops.Observe(float64(o.Hops))
	}
}

// ContactStarted implements metrics.Recorder.
func (c *SimCollector) ContactStarted() {
	if c == nil || c.ContactsStarted == nil {
		return
	}
	c.ContactsStarted.Inc()
}

// RoundResolved implements metrics.Recorder.
func (c *SimCollector) RoundResolved(o model.GameOutcome) {
	if c == nil {
		return
	}
	if c.StrategyChoices != nil {
		c.StrategyChoices.WithLabelValues(o.StrategyA.String(), o.ActionA.String()).Inc()
		c.StrategyChoices.WithLabelValues(o.StrategyB.String(), o.ActionB.String()).Inc()
	}
	if c.TransferDecisions != nil {
		for _, t := range o.Transfers {
			c.TransferDecisions.WithLabelValues(t.Result.String()).Inc()
		}
	}
}

// SetSimulatedTime updates the simulated clock gauge.
func (c *SimCollector) SetSimulatedTime(now time.Duration) {
	if c == nil || c.SimulatedTime == nil {
		return
	}
	c.SimulatedTime.Set(now.Seconds())
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
