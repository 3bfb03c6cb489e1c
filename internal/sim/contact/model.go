// Package contact produces contact windows between nodes and the bundle
// injections that feed the simulation.
package contact

import (
	"iter"
	"sort"
	"time"

	"github.com/signalsfoundry/custody-relay-sim/core"
	"github.com/signalsfoundry/custody-relay-sim/model"
)

// Model produces the contact windows a node takes part in.
//
// NextContacts yields windows involving node with Start >= from, ordered by
// start time and then by peer ID. The sequence is restartable: calling it
// again with the same arguments yields the same windows. A range with no
// contacts yields an empty sequence.
type Model interface {
	NextContacts(node model.NodeID, from time.Duration) iter.Seq[model.ContactWindow]
}

// Positioner is implemented by models that know where nodes are.
type Positioner interface {
	PositionAt(node model.NodeID, at time.Duration) (core.Vec3, bool)
}

// AnomalyReporter is implemented by models that drop malformed windows at
// construction.
type AnomalyReporter interface {
	Anomalies() []model.Anomaly
}

func windowLess(node model.NodeID) func(a, b model.ContactWindow) bool {
	return func(a, b model.ContactWindow) bool {
		if a.Start != b.Start {
			return a.Start < b.Start
		}
		return a.Pair.Other(node) < b.Pair.Other(node)
	}
}

// stream is a lazily advanced, start-ordered source of windows for one pair.
type stream interface {
	peek() (model.ContactWindow, bool)
	advance()
}

// merge yields windows from several pair streams in (start, peer) order.
func merge(node model.NodeID, streams []stream, yield func(model.ContactWindow) bool) {
	less := windowLess(node)
	for {
		best := -1
		var bestWin model.ContactWindow
		for i, s := range streams {
			w, ok := s.peek()
			if !ok {
				continue
			}
			if best < 0 || less(w, bestWin) {
				best, bestWin = i, w
			}
		}
		if best < 0 {
			return
		}
		streams[best].advance()
		if !yield(bestWin) {
			return
		}
	}
}

// sliceStream walks a pre-sorted slice.
type sliceStream struct {
	windows []model.ContactWindow
	pos     int
}

func (s *sliceStream) peek() (model.ContactWindow, bool) {
	if s.pos >= len(s.windows) {
		return model.ContactWindow{}, false
	}
	return s.windows[s.pos], true
}

func (s *sliceStream) advance() { s.pos++ }

// fromIndex returns the first index whose window starts at or after from.
func fromIndex(windows []model.ContactWindow, from time.Duration) int {
	return sort.Search(len(windows), func(i int) bool { return windows[i].Start >= from })
}

// pairs enumerates the unordered pairs of nodes in a deterministic order.
func pairs(nodes []model.NodeID) []model.Pair {
	sorted := append([]model.NodeID(nil), nodes...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	var out []model.Pair
	for i := range sorted {
		for j := i + 1; j < len(sorted); j++ {
			if sorted[i] == sorted[j] {
				continue
			}
			out = append(out, model.MakePair(sorted[i], sorted[j]))
		}
	}
	return out
}
