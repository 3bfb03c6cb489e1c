// Package engine is the simulation aggregate: one logical clock, every node
// store and ledger, and the event queue, advanced by Step.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/signalsfoundry/custody-relay-sim/core"
	"github.com/signalsfoundry/custody-relay-sim/internal/config"
	"github.com/signalsfoundry/custody-relay-sim/internal/logging"
	"github.com/signalsfoundry/custody-relay-sim/internal/sim/contact"
	"github.com/signalsfoundry/custody-relay-sim/internal/sim/eventq"
	"github.com/signalsfoundry/custody-relay-sim/internal/sim/game"
	"github.com/signalsfoundry/custody-relay-sim/internal/sim/metrics"
	"github.com/signalsfoundry/custody-relay-sim/internal/sim/store"
	"github.com/signalsfoundry/custody-relay-sim/model"
)

type nodeState struct {
	node     model.Node
	store    *store.Store
	ledger   *game.Ledger
	selector game.Selector
	motion   core.PositionProvider

	energy   float64
	energyAt time.Duration
}

type activeContact struct {
	window          model.ContactWindow
	budget          *game.Budget
	exchangePending bool
}

// Simulation is not safe for concurrent use. Wrap it in a Runner when a
// render or control loop shares it.
type Simulation struct {
	log     logging.Logger
	baseLog logging.Logger
	opts    config.Options

	runID      string
	fixedRunID bool

	recorder       metrics.Recorder
	queueObserver  eventq.Observer
	stepObserver   StepObserver
	contactFactory func(seed uint64) (contact.Model, error)

	queue     *eventq.Queue
	contacts  contact.Model
	traffic   *contact.Traffic
	game      *game.Game
	collector *metrics.Collector

	nodes map[model.NodeID]*nodeState
	order []model.NodeID

	streams    map[model.NodeID]*contactStream
	active     map[model.Pair]*activeContact
	lastWindow map[model.Pair]model.ContactWindow
	anomalies  []model.Anomaly

	holders    map[model.BundleID]map[model.NodeID]struct{}
	expiries   map[model.BundleID]eventq.ID
	terminal   map[model.BundleID]metrics.Terminal
	nextBundle model.BundleID
	parkedInj  *contact.Injection

	outcomes []model.GameOutcome
	rounds   int

	swept     bool
	lastSweep time.Duration

	staged    *ParamUpdate
	violation error
	halted    error
	done      bool
	last      Snapshot
}

// New validates opts and builds a simulation positioned at time zero.
// Invalid options return a *config.ConfigError and no simulation.
func New(opts config.Options, log logging.Logger, options ...Option) (*Simulation, error) {
	if log == nil {
		log = logging.Noop()
	}
	s := &Simulation{baseLog: log}
	for _, opt := range options {
		if opt != nil {
			opt(s)
		}
	}
	s.fixedRunID = s.runID != ""
	if err := s.Configure(opts); err != nil {
		return nil, err
	}
	return s, nil
}

// Configure replaces the scenario. The current run is kept untouched when
// opts are invalid.
func (s *Simulation) Configure(opts config.Options) error {
	if err := opts.Validate(); err != nil {
		return err
	}
	return s.init(opts)
}

// Reset tears the run down and starts again from time zero with seed.
func (s *Simulation) Reset(seed uint64) error {
	opts := s.opts
	opts.Seed = seed
	return s.init(opts)
}

// RunID identifies the current run in logs and traces.
func (s *Simulation) RunID() string { return s.runID }

// Options returns the active scenario.
func (s *Simulation) Options() config.Options { return s.opts }

// Now returns the logical clock.
func (s *Simulation) Now() time.Duration { return s.queue.Now() }

// Done reports whether the clock reached the end time.
func (s *Simulation) Done() bool { return s.done }

// Halted returns the invariant violation that stopped the run, if any.
func (s *Simulation) Halted() error { return s.halted }

// Nodes returns the node definitions of the run in declaration order.
func (s *Simulation) Nodes() []model.Node {
	out := make([]model.Node, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.nodes[id].node)
	}
	return out
}

// Metrics exposes the run's collector for read-only queries.
func (s *Simulation) Metrics() *metrics.Collector { return s.collector }

// Outcomes returns the resolved rounds in the order they were played.
func (s *Simulation) Outcomes() []model.GameOutcome {
	return append([]model.GameOutcome(nil), s.outcomes...)
}

// Anomalies returns the contact windows dropped by the model and at
// ingestion.
func (s *Simulation) Anomalies() []model.Anomaly {
	var out []model.Anomaly
	if r, ok := s.contacts.(contact.AnomalyReporter); ok {
		out = append(out, r.Anomalies()...)
	}
	return append(out, s.anomalies...)
}

func (s *Simulation) init(opts config.Options) error {
	if !s.fixedRunID || s.runID == "" {
		s.runID = logging.NewRunID()
	}
	log := s.baseLog.With(logging.String("run_id", s.runID))

	nodes := opts.ResolvedNodes()
	ids := make([]model.NodeID, 0, len(nodes))
	for _, n := range nodes {
		ids = append(ids, n.ID)
	}

	policy, err := store.PolicyByName(opts.Storage.Eviction)
	if err != nil {
		return fmt.Errorf("eviction policy: %w", err)
	}
	gcfg := gameConfig(opts)

	states := make(map[model.NodeID]*nodeState, len(nodes))
	for _, n := range nodes {
		st, err := store.New(n.ID, store.Capacity{Bytes: n.CapacityBytes, Bundles: n.CapacityBundles}, store.WithEvictionPolicy(policy))
		if err != nil {
			return fmt.Errorf("node %s: %w", n.ID, err)
		}
		sel, err := game.NewSelector(n.Strategy)
		if err != nil {
			return fmt.Errorf("node %s: %w", n.ID, err)
		}
		states[n.ID] = &nodeState{
			node:     n,
			store:    st,
			ledger:   game.NewLedger(n.ID, gcfg.Reputation),
			selector: sel,
			motion:   core.NewPositionProvider(n.Orbit),
			energy:   n.InitialEnergy,
		}
	}

	var cm contact.Model
	if s.contactFactory != nil {
		cm, err = s.contactFactory(opts.Seed)
	} else {
		cm, err = buildContacts(opts, nodes, log)
	}
	if err != nil {
		return fmt.Errorf("contact model: %w", err)
	}

	traffic, err := contact.NewTraffic(ids, trafficConfig(opts))
	if err != nil {
		return fmt.Errorf("traffic: %w", err)
	}

	s.closeStreams()
	s.log = log
	s.opts = opts
	s.queue = eventq.New(eventq.WithObserver(s.queueObserver))
	s.contacts = cm
	s.traffic = traffic
	s.game = game.New(gcfg)
	s.collector = metrics.New(metrics.WithRecorder(s.recorder))
	s.nodes = states
	s.order = ids
	s.streams = make(map[model.NodeID]*contactStream, len(ids))
	s.active = make(map[model.Pair]*activeContact)
	s.lastWindow = make(map[model.Pair]model.ContactWindow)
	s.anomalies = nil
	s.holders = make(map[model.BundleID]map[model.NodeID]struct{})
	s.expiries = make(map[model.BundleID]eventq.ID)
	s.terminal = make(map[model.BundleID]metrics.Terminal)
	s.nextBundle = 0
	s.parkedInj = nil
	s.outcomes = nil
	s.rounds = 0
	s.swept = false
	s.lastSweep = 0
	s.staged = nil
	s.violation = nil
	s.halted = nil
	s.done = false

	for _, id := range ids {
		s.openStream(id)
	}
	s.scheduleNextInjection()
	if s.violation != nil {
		return s.violation
	}
	s.last = s.snapshot()

	log.Info(context.Background(), "simulation configured",
		logging.Int("nodes", len(ids)),
		logging.String("contacts", opts.Contacts.Model),
		logging.Uint64("seed", opts.Seed),
		logging.Duration("end_time", opts.EndTime),
	)
	return nil
}

func gameConfig(o config.Options) game.Config {
	return game.Config{
		Threshold: o.Strategy.Threshold,
		Payoff: game.Payoff{
			Benefit:           o.Payoff.Benefit,
			StorageCost:       o.Payoff.StorageCost,
			EnergyCost:        o.Payoff.EnergyCost,
			DefectBaseline:    o.Payoff.DefectBaseline,
			ReputationPenalty: o.Payoff.ReputationPenalty,
			PressureExponent:  o.Payoff.PressureExponent,
		},
		Reputation: game.ReputationConfig{
			Alpha:    o.Reputation.Alpha,
			Adaptive: o.Reputation.Mode == config.ReputationAdaptive,
			Initial:  o.Reputation.Initial,
		},
		Replicate:   o.Replication.Policy == config.ReplicationReplicate,
		MaxReplicas: o.Replication.MaxReplicas,
	}
}

func trafficConfig(o config.Options) contact.TrafficConfig {
	scripted := make([]contact.Injection, 0, len(o.Traffic.Scripted))
	for _, inj := range o.Traffic.Scripted {
		scripted = append(scripted, contact.Injection{
			At:          inj.At,
			Source:      model.NodeID(inj.Source),
			Destination: model.NodeID(inj.Destination),
			SizeBytes:   inj.SizeBytes,
			TTL:         inj.TTL,
		})
	}
	return contact.TrafficConfig{
		Rate:     o.Traffic.Rate,
		TTLMin:   o.Traffic.TTLMin,
		TTLMax:   o.Traffic.TTLMax,
		SizeMin:  o.Traffic.SizeMin,
		SizeMax:  o.Traffic.SizeMax,
		Seed:     o.Seed,
		Scripted: scripted,
	}
}

func buildContacts(o config.Options, nodes []model.Node, log logging.Logger) (contact.Model, error) {
	switch o.Contacts.Model {
	case config.ContactModelTable:
		return contact.NewTable(o.ContactWindows(), log), nil
	case config.ContactModelPoisson:
		ids := make([]model.NodeID, 0, len(nodes))
		for _, n := range nodes {
			ids = append(ids, n.ID)
		}
		p := o.Contacts.Poisson
		return contact.NewPoisson(ids, contact.PoissonConfig{
			MeanGap:      p.MeanGap,
			MeanDuration: p.MeanDuration,
			DataRateBps:  p.DataRateBps,
			Seed:         o.Seed,
		})
	case config.ContactModelOrbital:
		orb := o.Contacts.Orbital
		return contact.NewOrbital(nodes, contact.OrbitalConfig{
			Epoch:           o.Epoch,
			SampleInterval:  orb.SampleInterval,
			Horizon:         o.EndTime,
			DataRateBps:     orb.DataRateBps,
			MinElevationDeg: orb.MinElevationDeg,
			CacheSize:       orb.CacheSize,
		})
	default:
		return nil, fmt.Errorf("unknown contact model %q", o.Contacts.Model)
	}
}
