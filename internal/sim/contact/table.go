package contact

import (
	"context"
	"iter"
	"sort"
	"time"

	"github.com/signalsfoundry/custody-relay-sim/internal/logging"
	"github.com/signalsfoundry/custody-relay-sim/model"
)

// Table is a scripted contact plan.
type Table struct {
	byPair    map[model.Pair][]model.ContactWindow
	byNode    map[model.NodeID][]model.Pair
	anomalies []model.Anomaly
}

// NewTable validates and indexes windows. Malformed windows and windows that
// overlap an earlier window of the same pair are dropped, logged, and kept
// in Anomalies.
func NewTable(windows []model.ContactWindow, log logging.Logger) *Table {
	if log == nil {
		log = logging.Noop()
	}
	sorted := append([]model.ContactWindow(nil), windows...)
	for i := range sorted {
		sorted[i].Pair = model.MakePair(sorted[i].Pair.A, sorted[i].Pair.B)
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Pair != sorted[j].Pair {
			if sorted[i].Pair.A != sorted[j].Pair.A {
				return sorted[i].Pair.A < sorted[j].Pair.A
			}
			return sorted[i].Pair.B < sorted[j].Pair.B
		}
		return sorted[i].Start < sorted[j].Start
	})

	t := &Table{
		byPair: make(map[model.Pair][]model.ContactWindow),
		byNode: make(map[model.NodeID][]model.Pair),
	}
	for _, w := range sorted {
		if err := w.Validate(); err != nil {
			t.drop(log, w, err.Error())
			continue
		}
		existing := t.byPair[w.Pair]
		if n := len(existing); n > 0 && existing[n-1].Overlaps(w) {
			t.drop(log, w, "overlaps previous window of the pair")
			continue
		}
		if len(existing) == 0 {
			t.byNode[w.Pair.A] = append(t.byNode[w.Pair.A], w.Pair)
			t.byNode[w.Pair.B] = append(t.byNode[w.Pair.B], w.Pair)
		}
		t.byPair[w.Pair] = append(existing, w)
	}
	return t
}

func (t *Table) drop(log logging.Logger, w model.ContactWindow, reason string) {
	t.anomalies = append(t.anomalies, model.Anomaly{Window: w, Reason: reason})
	log.Warn(context.Background(), "dropping malformed contact window",
		logging.String("pair", w.Pair.String()),
		logging.Duration("start", w.Start),
		logging.Duration("end", w.End),
		logging.String("reason", reason),
	)
}

// Anomalies returns the windows dropped at construction.
func (t *Table) Anomalies() []model.Anomaly {
	return append([]model.Anomaly(nil), t.anomalies...)
}

// Windows returns every accepted window of the pair.
func (t *Table) Windows(p model.Pair) []model.ContactWindow {
	return append([]model.ContactWindow(nil), t.byPair[p]...)
}

// NextContacts implements Model.
func (t *Table) NextContacts(node model.NodeID, from time.Duration) iter.Seq[model.ContactWindow] {
	return func(yield func(model.ContactWindow) bool) {
		var streams []stream
		for _, p := range t.byNode[node] {
			ws := t.byPair[p]
			streams = append(streams, &sliceStream{windows: ws, pos: fromIndex(ws, from)})
		}
		merge(node, streams, yield)
	}
}
