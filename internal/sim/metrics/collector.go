// Package metrics accumulates run statistics from immutable outcome records.
package metrics

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/signalsfoundry/custody-relay-sim/model"
)

// ErrDuplicateOutcome is returned when a bundle is reported terminal twice.
var ErrDuplicateOutcome = errors.New("bundle already has a terminal outcome")

// Terminal is the final fate of a bundle.
type Terminal int

const (
	Delivered Terminal = iota
	ExpiredUndelivered
	DroppedAtCapacity
)

func (t Terminal) String() string {
	switch t {
	case Delivered:
		return "delivered"
	case ExpiredUndelivered:
		return "expired"
	case DroppedAtCapacity:
		return "dropped_at_capacity"
	default:
		return "unknown"
	}
}

// Outcome is the single terminal record of a bundle.
type Outcome struct {
	Bundle  model.BundleID
	Kind    Terminal
	At      time.Duration
	Latency time.Duration
	Hops    int
}

// Recorder mirrors ingested records to an external sink such as Prometheus.
// It receives the same values as the Collector and cannot influence the run.
type Recorder interface {
	BundleInjected()
	BundleTerminal(o Outcome)
	ContactStarted()
	RoundResolved(o model.GameOutcome)
}

// Summary is a read-only view of the aggregates.
type Summary struct {
	Injected          int            `json:"injected"`
	Delivered         int            `json:"delivered"`
	Expired           int            `json:"expired"`
	DroppedAtCapacity int            `json:"dropped_at_capacity"`
	Live              int            `json:"live"`
	DeliveryRatio     float64        `json:"delivery_ratio"`
	MeanLatency       time.Duration  `json:"mean_latency"`
	P50Latency        time.Duration  `json:"p50_latency"`
	P95Latency        time.Duration  `json:"p95_latency"`
	MeanHops          float64        `json:"mean_hops"`
	Contacts          int            `json:"contacts"`
	Rounds            int            `json:"rounds"`
	Transfers         map[string]int `json:"transfers"`
	Strategies        map[string]int `json:"strategies"`
	Actions           map[string]int `json:"actions"`
}

// Collector is a pure accumulator. It never calls back into the simulation.
type Collector struct {
	recorder Recorder

	injected  int
	terminal  map[model.BundleID]Terminal
	counts    [3]int
	latencies []time.Duration
	hops      int

	contacts   int
	rounds     int
	transfers  map[model.TransferResult]int
	strategies map[model.Strategy]int
	actions    map[model.Action]int
}

// Option customises a Collector.
type Option func(*Collector)

// WithRecorder mirrors every record to r.
func WithRecorder(r Recorder) Option {
	return func(c *Collector) { c.recorder = r }
}

// New returns an empty Collector.
func New(opts ...Option) *Collector {
	c := &Collector{
		terminal:   make(map[model.BundleID]Terminal),
		transfers:  make(map[model.TransferResult]int),
		strategies: make(map[model.Strategy]int),
		actions:    make(map[model.Action]int),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// Injected records a new bundle.
func (c *Collector) Injected() {
	c.injected++
	if c.recorder != nil {
		c.recorder.BundleInjected()
	}
}

// Terminal records a bundle's final outcome. Each bundle may be reported
// once.
func (c *Collector) Terminal(o Outcome) error {
	if prev, ok := c.terminal[o.Bundle]; ok {
		return fmt.Errorf("%w: bundle %d was %s, now %s", ErrDuplicateOutcome, o.Bundle, prev, o.Kind)
	}
	c.terminal[o.Bundle] = o.Kind
	c.counts[o.Kind]++
	if o.Kind == Delivered {
		c.latencies = append(c.latencies, o.Latency)
		c.hops += o.Hops
	}
	if c.recorder != nil {
		c.recorder.BundleTerminal(o)
	}
	return nil
}

// ContactStarted records a contact window opening.
func (c *Collector) ContactStarted() {
	c.contacts++
	if c.recorder != nil {
		c.recorder.ContactStarted()
	}
}

// Round records a resolved exchange round.
func (c *Collector) Round(o model.GameOutcome) {
	c.rounds++
	c.strategies[o.StrategyA]++
	c.strategies[o.StrategyB]++
	c.actions[o.ActionA]++
	c.actions[o.ActionB]++
	for _, t := range o.Transfers {
		c.transfers[t.Result]++
	}
	if c.recorder != nil {
		c.recorder.RoundResolved(o)
	}
}

// Count returns how many bundles ended with kind.
func (c *Collector) Count(kind Terminal) int { return c.counts[kind] }

// InjectedCount returns the number of bundles created so far.
func (c *Collector) InjectedCount() int { return c.injected }

// TransferCount returns how many transfer decisions ended with r.
func (c *Collector) TransferCount(r model.TransferResult) int { return c.transfers[r] }

// StrategyCount returns how many times s was chosen.
func (c *Collector) StrategyCount(s model.Strategy) int { return c.strategies[s] }

// DeliveryRatio is delivered over injected; zero before any injection.
func (c *Collector) DeliveryRatio() float64 {
	if c.injected == 0 {
		return 0
	}
	return float64(c.counts[Delivered]) / float64(c.injected)
}

// MeanLatency returns the mean delivery latency.
func (c *Collector) MeanLatency() time.Duration {
	if len(c.latencies) == 0 {
		return 0
	}
	var sum time.Duration
	for _, l := range c.latencies {
		sum += l
	}
	return sum / time.Duration(len(c.latencies))
}

// LatencyPercentile returns the nearest-rank percentile p in (0,100] of
// delivery latency.
func (c *Collector) LatencyPercentile(p float64) time.Duration {
	if len(c.latencies) == 0 || p <= 0 {
		return 0
	}
	if p > 100 {
		p = 100
	}
	sorted := append([]time.Duration(nil), c.latencies...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	rank := int(math.Ceil(p / 100 * float64(len(sorted))))
	if rank < 1 {
		rank = 1
	}
	return sorted[rank-1]
}

// MeanHops returns the mean hop count of delivered bundles.
func (c *Collector) MeanHops() float64 {
	if len(c.latencies) == 0 {
		return 0
	}
	return float64(c.hops) / float64(len(c.latencies))
}

// Summary returns a copy of every aggregate.
func (c *Collector) Summary() Summary {
	s := Summary{
		Injected:          c.injected,
		Delivered:         c.counts[Delivered],
		Expired:           c.counts[ExpiredUndelivered],
		DroppedAtCapacity: c.counts[DroppedAtCapacity],
		DeliveryRatio:     c.DeliveryRatio(),
		MeanLatency:       c.MeanLatency(),
		P50Latency:        c.LatencyPercentile(50),
		P95Latency:        c.LatencyPercentile(95),
		MeanHops:          c.MeanHops(),
		Contacts:          c.contacts,
		Rounds:            c.rounds,
		Transfers:         make(map[string]int, len(c.transfers)),
		Strategies:        make(map[string]int, len(c.strategies)),
		Actions:           make(map[string]int, len(c.actions)),
	}
	s.Live = s.Injected - s.Delivered - s.Expired - s.DroppedAtCapacity
	for k, v := range c.transfers {
		s.Transfers[k.String()] = v
	}
	for k, v := range c.strategies {
		s.Strategies[k.String()] = v
	}
	for k, v := range c.actions {
		s.Actions[k.String()] = v
	}
	return s
}
