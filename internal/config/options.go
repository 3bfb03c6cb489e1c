// Package config defines scenario options, their defaults, validation and
// loading from YAML or JSON files.
package config

import (
	"fmt"
	"time"

	"github.com/signalsfoundry/custody-relay-sim/model"
)

// Options is the full set of scenario parameters accepted by the engine.
type Options struct {
	Seed    uint64        `yaml:"seed" json:"seed"`
	EndTime time.Duration `yaml:"end_time" json:"end_time"`
	// Epoch anchors simulated time for TLE propagation.
	Epoch time.Time `yaml:"epoch,omitempty" json:"epoch,omitempty"`

	// NodeCount generates nodes n00..nNN when Nodes is empty.
	NodeCount int           `yaml:"node_count" json:"node_count"`
	Nodes     []NodeOptions `yaml:"nodes,omitempty" json:"nodes,omitempty"`

	Storage     StorageOptions     `yaml:"storage" json:"storage"`
	Traffic     TrafficOptions     `yaml:"traffic" json:"traffic"`
	Strategy    StrategyOptions    `yaml:"strategy" json:"strategy"`
	Payoff      PayoffOptions      `yaml:"payoff" json:"payoff"`
	Reputation  ReputationOptions  `yaml:"reputation" json:"reputation"`
	Replication ReplicationOptions `yaml:"replication" json:"replication"`
	Energy      EnergyOptions      `yaml:"energy" json:"energy"`
	Contacts    ContactOptions     `yaml:"contacts" json:"contacts"`
}

// NodeOptions declares one node. Zero capacity fields inherit Storage.
type NodeOptions struct {
	ID              string             `yaml:"id" json:"id"`
	Name            string             `yaml:"name,omitempty" json:"name,omitempty"`
	Kind            model.PlatformKind `yaml:"kind,omitempty" json:"kind,omitempty"`
	Strategy        string             `yaml:"strategy,omitempty" json:"strategy,omitempty"`
	CapacityBytes   int64              `yaml:"capacity_bytes,omitempty" json:"capacity_bytes,omitempty"`
	CapacityBundles int                `yaml:"capacity_bundles,omitempty" json:"capacity_bundles,omitempty"`
	Orbit           model.Orbit        `yaml:"orbit" json:"orbit"`
}

// StorageOptions sets the default store bounds and eviction policy.
type StorageOptions struct {
	CapacityBytes   int64  `yaml:"capacity_bytes" json:"capacity_bytes"`
	CapacityBundles int    `yaml:"capacity_bundles" json:"capacity_bundles"`
	Eviction        string `yaml:"eviction" json:"eviction"` // "soonest-expiry" | "drop-tail"
}

// TrafficOptions configures bundle injection.
type TrafficOptions struct {
	Rate     float64            `yaml:"rate" json:"rate"` // bundles per simulated second
	TTLMin   time.Duration      `yaml:"ttl_min" json:"ttl_min"`
	TTLMax   time.Duration      `yaml:"ttl_max" json:"ttl_max"`
	SizeMin  int64              `yaml:"size_min" json:"size_min"`
	SizeMax  int64              `yaml:"size_max" json:"size_max"`
	Scripted []InjectionOptions `yaml:"scripted,omitempty" json:"scripted,omitempty"`
}

// InjectionOptions is one scripted bundle.
type InjectionOptions struct {
	At          time.Duration `yaml:"at" json:"at"`
	Source      string        `yaml:"source" json:"source"`
	Destination string        `yaml:"destination" json:"destination"`
	SizeBytes   int64         `yaml:"size_bytes" json:"size_bytes"`
	TTL         time.Duration `yaml:"ttl" json:"ttl"`
}

// StrategyOptions declares how nodes play.
type StrategyOptions struct {
	// Default applies to nodes without their own strategy.
	Default string `yaml:"default" json:"default"`
	// Threshold is the reputation above which Conditional cooperates.
	Threshold float64 `yaml:"threshold" json:"threshold"`
}

// PayoffOptions holds the payoff coefficients.
type PayoffOptions struct {
	Benefit           float64 `yaml:"benefit" json:"benefit"`
	StorageCost       float64 `yaml:"storage_cost" json:"storage_cost"`
	EnergyCost        float64 `yaml:"energy_cost" json:"energy_cost"`
	DefectBaseline    float64 `yaml:"defect_baseline" json:"defect_baseline"`
	ReputationPenalty float64 `yaml:"reputation_penalty" json:"reputation_penalty"`
	PressureExponent  float64 `yaml:"pressure_exponent" json:"pressure_exponent"`
}

// ReputationOptions configures the reputation moving average.
type ReputationOptions struct {
	Alpha   float64 `yaml:"alpha" json:"alpha"`
	Mode    string  `yaml:"mode" json:"mode"` // "fixed" | "adaptive"
	Initial float64 `yaml:"initial" json:"initial"`
}

// ReplicationOptions selects single-copy or replicate custody.
type ReplicationOptions struct {
	Policy      string `yaml:"policy" json:"policy"` // "single-copy" | "replicate"
	MaxReplicas int    `yaml:"max_replicas" json:"max_replicas"`
}

// EnergyOptions enables the per-node energy budget.
type EnergyOptions struct {
	Enabled   bool    `yaml:"enabled" json:"enabled"`
	MaxEnergy float64 `yaml:"max_energy" json:"max_energy"`
	Initial   float64 `yaml:"initial" json:"initial"`
	// CommsCost is charged to both ends of each transfer.
	CommsCost float64 `yaml:"comms_cost" json:"comms_cost"`
	// RechargeRate is restored per simulated second, up to MaxEnergy.
	RechargeRate float64 `yaml:"recharge_rate" json:"recharge_rate"`
}

// ContactOptions selects and parameterises the contact model.
type ContactOptions struct {
	Model   string          `yaml:"model" json:"model"` // "table" | "poisson" | "orbital"
	Table   []WindowOptions `yaml:"table,omitempty" json:"table,omitempty"`
	Poisson PoissonOptions  `yaml:"poisson" json:"poisson"`
	Orbital OrbitalOptions  `yaml:"orbital" json:"orbital"`
}

// WindowOptions is one scripted contact window.
type WindowOptions struct {
	A             string        `yaml:"a" json:"a"`
	B             string        `yaml:"b" json:"b"`
	Start         time.Duration `yaml:"start" json:"start"`
	End           time.Duration `yaml:"end" json:"end"`
	CapacityBytes int64         `yaml:"capacity_bytes,omitempty" json:"capacity_bytes,omitempty"`
}

// PoissonOptions parameterises stochastic contacts.
type PoissonOptions struct {
	MeanGap      time.Duration `yaml:"mean_gap" json:"mean_gap"`
	MeanDuration time.Duration `yaml:"mean_duration" json:"mean_duration"`
	DataRateBps  int64         `yaml:"data_rate_bps" json:"data_rate_bps"`
}

// OrbitalOptions parameterises geometry-derived contacts.
type OrbitalOptions struct {
	SampleInterval  time.Duration `yaml:"sample_interval" json:"sample_interval"`
	DataRateBps     int64         `yaml:"data_rate_bps" json:"data_rate_bps"`
	MinElevationDeg float64       `yaml:"min_elevation_deg" json:"min_elevation_deg"`
	CacheSize       int           `yaml:"cache_size" json:"cache_size"`
}

const (
	ContactModelTable   = "table"
	ContactModelPoisson = "poisson"
	ContactModelOrbital = "orbital"

	ReplicationSingleCopy = "single-copy"
	ReplicationReplicate  = "replicate"

	ReputationFixed    = "fixed"
	ReputationAdaptive = "adaptive"
)

// Default returns options that describe a small, valid Poisson scenario.
func Default() Options {
	return Options{
		Seed:      1,
		EndTime:   time.Hour,
		Epoch:     time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		NodeCount: 4,
		Storage: StorageOptions{
			CapacityBundles: 16,
			Eviction:        "soonest-expiry",
		},
		Traffic: TrafficOptions{
			Rate:    0.01,
			TTLMin:  10 * time.Minute,
			TTLMax:  30 * time.Minute,
			SizeMin: 1024,
			SizeMax: 4096,
		},
		Strategy: StrategyOptions{Default: "cooperate", Threshold: 0.5},
		Payoff: PayoffOptions{
			Benefit:           1,
			StorageCost:       0.3,
			EnergyCost:        0.1,
			DefectBaseline:    0.05,
			ReputationPenalty: 0.2,
			PressureExponent:  1,
		},
		Reputation:  ReputationOptions{Alpha: 0.2, Mode: ReputationFixed, Initial: 0.5},
		Replication: ReplicationOptions{Policy: ReplicationSingleCopy, MaxReplicas: 1},
		Energy: EnergyOptions{
			MaxEnergy:    100,
			Initial:      100,
			CommsCost:    1,
			RechargeRate: 0.01,
		},
		Contacts: ContactOptions{
			Model: ContactModelPoisson,
			Poisson: PoissonOptions{
				MeanGap:      5 * time.Minute,
				MeanDuration: 30 * time.Second,
				DataRateBps:  1000,
			},
			Orbital: OrbitalOptions{SampleInterval: 30 * time.Second},
		},
	}
}

// ResolvedNodes returns the node definitions the run uses: the declared
// nodes, or NodeCount generated ones, with storage, strategy and energy
// defaults applied.
func (o Options) ResolvedNodes() []model.Node {
	decl := o.Nodes
	if len(decl) == 0 {
		decl = make([]NodeOptions, o.NodeCount)
		for i := range decl {
			decl[i] = NodeOptions{ID: fmt.Sprintf("n%02d", i)}
		}
	}
	out := make([]model.Node, 0, len(decl))
	for _, d := range decl {
		n := model.Node{
			ID:              model.NodeID(d.ID),
			Name:            d.Name,
			Kind:            d.Kind,
			Orbit:           d.Orbit,
			CapacityBytes:   d.CapacityBytes,
			CapacityBundles: d.CapacityBundles,
			Strategy:        d.Strategy,
		}
		if n.Name == "" {
			n.Name = d.ID
		}
		if n.Kind == "" {
			n.Kind = model.PlatformSatellite
		}
		if n.CapacityBytes == 0 && n.CapacityBundles == 0 {
			n.CapacityBytes = o.Storage.CapacityBytes
			n.CapacityBundles = o.Storage.CapacityBundles
		}
		if n.Strategy == "" {
			n.Strategy = o.Strategy.Default
		}
		if o.Energy.Enabled {
			n.MaxEnergy = o.Energy.MaxEnergy
			n.InitialEnergy = o.Energy.Initial
		}
		out = append(out, n)
	}
	return out
}

// ContactWindows converts the scripted table.
func (o Options) ContactWindows() []model.ContactWindow {
	out := make([]model.ContactWindow, 0, len(o.Contacts.Table))
	for _, w := range o.Contacts.Table {
		out = append(out, model.NewContactWindow(model.NodeID(w.A), model.NodeID(w.B), w.Start, w.End, w.CapacityBytes))
	}
	return out
}
