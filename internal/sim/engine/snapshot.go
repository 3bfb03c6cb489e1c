package engine

import (
	"sort"
	"time"

	"github.com/signalsfoundry/custody-relay-sim/core"
	"github.com/signalsfoundry/custody-relay-sim/internal/sim/contact"
	"github.com/signalsfoundry/custody-relay-sim/internal/sim/game"
	"github.com/signalsfoundry/custody-relay-sim/internal/sim/metrics"
	"github.com/signalsfoundry/custody-relay-sim/internal/sim/store"
	"github.com/signalsfoundry/custody-relay-sim/model"
)

// Snapshot is a read-only copy of the run state taken at a step boundary.
// Nothing in it aliases simulation state.
type Snapshot struct {
	RunID          string                `json:"run_id"`
	Time           time.Duration         `json:"time"`
	Done           bool                  `json:"done"`
	Halted         bool                  `json:"halted"`
	Nodes          []NodeSnapshot        `json:"nodes"`
	ActiveContacts []model.ContactWindow `json:"active_contacts"`
	Metrics        metrics.Summary       `json:"metrics"`
	PendingEvents  int                   `json:"pending_events"`
	Anomalies      int                   `json:"anomalies"`
	Rounds         int                   `json:"rounds"`
}

// NodeSnapshot is the published state of one node.
type NodeSnapshot struct {
	ID          model.NodeID       `json:"id"`
	Name        string             `json:"name"`
	Kind        model.PlatformKind `json:"kind"`
	Position    core.Vec3          `json:"position"`
	HasPosition bool               `json:"has_position"`
	Strategy    string             `json:"strategy"`
	Bundles     []model.BundleID   `json:"bundles"`
	UsedBytes   int64              `json:"used_bytes"`
	Capacity    store.Capacity     `json:"capacity"`
	Energy      float64            `json:"energy"`
	Reputations []game.PeerScore   `json:"reputations"`
}

// Snapshot returns the state after the last successful step. After a halt
// it is the last valid state.
func (s *Simulation) Snapshot() Snapshot { return s.last }

// LastSnapshot is an alias of Snapshot kept for render loops that poll.
func (s *Simulation) LastSnapshot() Snapshot { return s.last }

func (s *Simulation) snapshot() Snapshot {
	now := s.queue.Now()
	snap := Snapshot{
		RunID:         s.runID,
		Time:          now,
		Done:          s.done,
		Halted:        s.halted != nil,
		Nodes:         make([]NodeSnapshot, 0, len(s.order)),
		Metrics:       s.collector.Summary(),
		PendingEvents: s.queue.Pending(),
		Anomalies:     len(s.Anomalies()),
		Rounds:        s.rounds,
	}
	positioner, _ := s.contacts.(contact.Positioner)
	for _, id := range s.order {
		n := s.nodes[id]
		ns := NodeSnapshot{
			ID:          id,
			Name:        n.node.Name,
			Kind:        n.node.Kind,
			Strategy:    n.selector.Name(),
			UsedBytes:   n.store.UsedBytes(),
			Capacity:    n.store.Capacity(),
			Energy:      n.energy,
			Reputations: n.ledger.Reputations(),
		}
		if positioner != nil {
			ns.Position, ns.HasPosition = positioner.PositionAt(id, now)
		} else if n.motion != nil {
			ns.Position, ns.HasPosition = n.motion.PositionAt(s.opts.Epoch, now), true
		}
		for _, b := range n.store.Bundles() {
			ns.Bundles = append(ns.Bundles, b.ID)
		}
		snap.Nodes = append(snap.Nodes, ns)
	}
	for _, ac := range s.active {
		snap.ActiveContacts = append(snap.ActiveContacts, ac.window)
	}
	sort.Slice(snap.ActiveContacts, func(i, j int) bool {
		a, b := snap.ActiveContacts[i].Pair, snap.ActiveContacts[j].Pair
		if a.A != b.A {
			return a.A < b.A
		}
		return a.B < b.B
	})
	return snap
}
