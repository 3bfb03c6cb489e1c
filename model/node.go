package model

import "strings"

// NodeID identifies a node (satellite, relay, or ground station).
type NodeID string

// Node is the static definition of a simulated node. Mutable per-run state
// (stored bundles, reputation, energy) lives in the engine.
type Node struct {
	ID   NodeID
	Name string
	Kind PlatformKind

	Orbit Orbit

	// Storage bounds. Zero means the axis is unbounded; at least one axis
	// must be bounded.
	CapacityBytes   int64
	CapacityBundles int

	// Strategy is the declared strategy name ("cooperate", "defect",
	// "conditional", "rational").
	Strategy string

	// Energy budget; MaxEnergy == 0 disables the energy model for this node.
	MaxEnergy     float64
	InitialEnergy float64
}

// Pair is an unordered pair of node identities, normalised so that A < B.
type Pair struct {
	A NodeID
	B NodeID
}

// MakePair normalises two node IDs into a Pair.
func MakePair(x, y NodeID) Pair {
	if strings.Compare(string(x), string(y)) > 0 {
		x, y = y, x
	}
	return Pair{A: x, B: y}
}

// Other returns the member of the pair that is not n.
func (p Pair) Other(n NodeID) NodeID {
	if p.A == n {
		return p.B
	}
	return p.A
}

// Has reports whether n is a member of the pair.
func (p Pair) Has(n NodeID) bool { return p.A == n || p.B == n }

func (p Pair) String() string { return string(p.A) + "<->" + string(p.B) }
