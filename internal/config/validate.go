package config

import (
	"errors"
	"fmt"
	"strings"

	"go.uber.org/multierr"

	"github.com/signalsfoundry/custody-relay-sim/internal/sim/game"
	"github.com/signalsfoundry/custody-relay-sim/internal/sim/store"
)

// ErrInvalidConfig is matched by every ConfigError.
var ErrInvalidConfig = errors.New("invalid scenario configuration")

// FieldError names one option outside its domain.
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string { return e.Field + ": " + e.Reason }

// ConfigError aggregates every invalid option found by Validate. No
// simulation state is created when it is returned.
type ConfigError struct {
	err error
}

func (e *ConfigError) Error() string {
	errs := multierr.Errors(e.err)
	parts := make([]string, 0, len(errs))
	for _, err := range errs {
		parts = append(parts, err.Error())
	}
	return fmt.Sprintf("%s: %s", ErrInvalidConfig, strings.Join(parts, "; "))
}

// Is makes errors.Is(err, ErrInvalidConfig) hold.
func (e *ConfigError) Is(target error) bool { return target == ErrInvalidConfig }

// Unwrap exposes the individual field errors.
func (e *ConfigError) Unwrap() []error { return multierr.Errors(e.err) }

// Fields returns the invalid field names in the order they were found.
func (e *ConfigError) Fields() []string {
	var out []string
	for _, err := range multierr.Errors(e.err) {
		var fe *FieldError
		if errors.As(err, &fe) {
			out = append(out, fe.Field)
		}
	}
	return out
}

type checker struct {
	err error
}

func (c *checker) failf(field, format string, args ...any) {
	c.err = multierr.Append(c.err, &FieldError{Field: field, Reason: fmt.Sprintf(format, args...)})
}

func (c *checker) unit(field string, v float64) {
	if v < 0 || v > 1 {
		c.failf(field, "must be in [0,1], got %v", v)
	}
}

func (c *checker) nonNegative(field string, v float64) {
	if v < 0 {
		c.failf(field, "must be >= 0, got %v", v)
	}
}

// Validate checks every option against its domain and returns a
// *ConfigError listing all violations, or nil.
func (o Options) Validate() error {
	c := &checker{}

	if o.EndTime <= 0 {
		c.failf("end_time", "must be > 0, got %s", o.EndTime)
	}

	known := make(map[string]bool)
	if len(o.Nodes) == 0 {
		if o.NodeCount < 2 {
			c.failf("node_count", "must be >= 2, got %d", o.NodeCount)
		}
	} else if len(o.Nodes) < 2 {
		c.failf("nodes", "need at least 2 nodes, got %d", len(o.Nodes))
	}
	for i, n := range o.Nodes {
		field := fmt.Sprintf("nodes[%d]", i)
		switch {
		case strings.TrimSpace(n.ID) == "":
			c.failf(field+".id", "must not be empty")
		case known[n.ID]:
			c.failf(field+".id", "duplicate node %q", n.ID)
		}
		known[n.ID] = true
		if n.CapacityBytes < 0 || n.CapacityBundles < 0 {
			c.failf(field+".capacity", "must be >= 0")
		}
		if n.Strategy != "" {
			if _, err := game.NewSelector(n.Strategy); err != nil {
				c.failf(field+".strategy", "%v", err)
			}
		}
		if n.Orbit.CommRangeKm < 0 || n.Orbit.RadiusKm < 0 {
			c.failf(field+".orbit", "radius and range must be >= 0")
		}
	}
	if len(o.Nodes) == 0 {
		for _, n := range o.ResolvedNodes() {
			known[string(n.ID)] = true
		}
	}

	s := o.Storage
	if s.CapacityBytes < 0 || s.CapacityBundles < 0 {
		c.failf("storage.capacity", "must be >= 0")
	}
	if s.CapacityBytes == 0 && s.CapacityBundles == 0 {
		for _, n := range o.ResolvedNodes() {
			if n.CapacityBytes == 0 && n.CapacityBundles == 0 {
				c.failf("storage.capacity", "node %s has no capacity: set capacity_bytes or capacity_bundles > 0", n.ID)
				break
			}
		}
	}
	if _, err := store.PolicyByName(s.Eviction); err != nil {
		c.failf("storage.eviction", "%v", err)
	}

	t := o.Traffic
	c.nonNegative("traffic.rate", t.Rate)
	if t.Rate > 0 {
		if t.TTLMin <= 0 {
			c.failf("traffic.ttl_min", "must be > 0, got %s", t.TTLMin)
		}
		if t.TTLMax < t.TTLMin {
			c.failf("traffic.ttl_max", "must be >= ttl_min")
		}
		if t.SizeMin <= 0 {
			c.failf("traffic.size_min", "must be > 0, got %d", t.SizeMin)
		}
		if t.SizeMax < t.SizeMin {
			c.failf("traffic.size_max", "must be >= size_min")
		}
	}
	for i, inj := range t.Scripted {
		field := fmt.Sprintf("traffic.scripted[%d]", i)
		if inj.At < 0 {
			c.failf(field+".at", "must be >= 0")
		}
		if inj.TTL <= 0 {
			c.failf(field+".ttl", "must be > 0, got %s", inj.TTL)
		}
		if inj.SizeBytes <= 0 {
			c.failf(field+".size_bytes", "must be > 0, got %d", inj.SizeBytes)
		}
		if !known[inj.Source] || !known[inj.Destination] {
			c.failf(field, "unknown endpoint %q -> %q", inj.Source, inj.Destination)
		} else if inj.Source == inj.Destination {
			c.failf(field, "source and destination must differ")
		}
	}

	if _, err := game.NewSelector(o.Strategy.Default); err != nil {
		c.failf("strategy.default", "%v", err)
	}
	c.unit("strategy.threshold", o.Strategy.Threshold)

	p := o.Payoff
	c.nonNegative("payoff.benefit", p.Benefit)
	c.nonNegative("payoff.storage_cost", p.StorageCost)
	c.nonNegative("payoff.energy_cost", p.EnergyCost)
	c.nonNegative("payoff.defect_baseline", p.DefectBaseline)
	c.nonNegative("payoff.reputation_penalty", p.ReputationPenalty)
	if p.PressureExponent <= 0 {
		c.failf("payoff.pressure_exponent", "must be > 0, got %v", p.PressureExponent)
	}

	r := o.Reputation
	c.unit("reputation.alpha", r.Alpha)
	c.unit("reputation.initial", r.Initial)
	if r.Mode != ReputationFixed && r.Mode != ReputationAdaptive {
		c.failf("reputation.mode", "must be %q or %q, got %q", ReputationFixed, ReputationAdaptive, r.Mode)
	}

	switch o.Replication.Policy {
	case ReplicationSingleCopy, ReplicationReplicate:
	default:
		c.failf("replication.policy", "must be %q or %q, got %q", ReplicationSingleCopy, ReplicationReplicate, o.Replication.Policy)
	}
	if o.Replication.MaxReplicas < 1 {
		c.failf("replication.max_replicas", "must be >= 1, got %d", o.Replication.MaxReplicas)
	}

	if e := o.Energy; e.Enabled {
		if e.MaxEnergy <= 0 {
			c.failf("energy.max_energy", "must be > 0 when enabled")
		}
		if e.Initial < 0 || e.Initial > e.MaxEnergy {
			c.failf("energy.initial", "must be in [0,max_energy]")
		}
		c.nonNegative("energy.comms_cost", e.CommsCost)
		c.nonNegative("energy.recharge_rate", e.RechargeRate)
	}

	switch o.Contacts.Model {
	case ContactModelTable:
		for i, w := range o.Contacts.Table {
			if !known[w.A] || !known[w.B] {
				c.failf(fmt.Sprintf("contacts.table[%d]", i), "unknown endpoint %q <-> %q", w.A, w.B)
			}
		}
	case ContactModelPoisson:
		if o.Contacts.Poisson.MeanGap <= 0 {
			c.failf("contacts.poisson.mean_gap", "must be > 0")
		}
		if o.Contacts.Poisson.MeanDuration <= 0 {
			c.failf("contacts.poisson.mean_duration", "must be > 0")
		}
		if o.Contacts.Poisson.DataRateBps < 0 {
			c.failf("contacts.poisson.data_rate_bps", "must be >= 0")
		}
	case ContactModelOrbital:
		if o.Contacts.Orbital.SampleInterval <= 0 {
			c.failf("contacts.orbital.sample_interval", "must be > 0")
		}
		if o.Contacts.Orbital.DataRateBps < 0 {
			c.failf("contacts.orbital.data_rate_bps", "must be >= 0")
		}
	default:
		c.failf("contacts.model", "unknown contact model %q", o.Contacts.Model)
	}

	if c.err != nil {
		return &ConfigError{err: c.err}
	}
	return nil
}
