package contact

import (
	"errors"
	"fmt"
	"iter"
	"math"
	"sort"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/signalsfoundry/custody-relay-sim/core"
	"github.com/signalsfoundry/custody-relay-sim/model"
)

const defaultWindowCacheSize = 256

// ErrInvalidOrbital reports unusable orbital sampling parameters.
var ErrInvalidOrbital = errors.New("invalid orbital contact parameters")

// OrbitalConfig controls how visibility is sampled.
type OrbitalConfig struct {
	Epoch          time.Time
	SampleInterval time.Duration
	Horizon        time.Duration
	DataRateBps    int64
	// MinElevationDeg applies when one end is a ground station.
	MinElevationDeg float64
	// CacheSize bounds the number of pairs whose windows are memoised.
	CacheSize int
}

type orbitalNode struct {
	provider core.PositionProvider
	rangeKm  float64
}

// Orbital derives contacts from node motion: a pair is in contact while the
// two are within communication range of each other and the Earth does not
// block the line of sight.
type Orbital struct {
	cfg    OrbitalConfig
	nodes  map[model.NodeID]orbitalNode
	byNode map[model.NodeID][]model.Pair
	cache  *lru.Cache[model.Pair, []model.ContactWindow]
}

// NewOrbital builds the model for nodes.
func NewOrbital(nodes []model.Node, cfg OrbitalConfig) (*Orbital, error) {
	if cfg.SampleInterval <= 0 || cfg.Horizon <= 0 {
		return nil, fmt.Errorf("%w: sample interval %s, horizon %s", ErrInvalidOrbital, cfg.SampleInterval, cfg.Horizon)
	}
	if cfg.Epoch.IsZero() {
		cfg.Epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	}
	size := cfg.CacheSize
	if size <= 0 {
		size = defaultWindowCacheSize
	}
	cache, err := lru.New[model.Pair, []model.ContactWindow](size)
	if err != nil {
		return nil, fmt.Errorf("window cache: %w", err)
	}

	o := &Orbital{
		cfg:    cfg,
		nodes:  make(map[model.NodeID]orbitalNode, len(nodes)),
		byNode: make(map[model.NodeID][]model.Pair),
		cache:  cache,
	}
	ids := make([]model.NodeID, 0, len(nodes))
	for _, n := range nodes {
		o.nodes[n.ID] = orbitalNode{provider: core.NewPositionProvider(n.Orbit), rangeKm: n.Orbit.CommRangeKm}
		ids = append(ids, n.ID)
	}
	for _, pair := range pairs(ids) {
		o.byNode[pair.A] = append(o.byNode[pair.A], pair)
		o.byNode[pair.B] = append(o.byNode[pair.B], pair)
	}
	return o, nil
}

// PositionAt implements Positioner.
func (o *Orbital) PositionAt(node model.NodeID, at time.Duration) (core.Vec3, bool) {
	n, ok := o.nodes[node]
	if !ok {
		return core.Vec3{}, false
	}
	return n.provider.PositionAt(o.cfg.Epoch, at), true
}

// NextContacts implements Model.
func (o *Orbital) NextContacts(node model.NodeID, from time.Duration) iter.Seq[model.ContactWindow] {
	return func(yield func(model.ContactWindow) bool) {
		var streams []stream
		for _, pair := range o.byNode[node] {
			ws := o.Windows(pair)
			streams = append(streams, &sliceStream{windows: ws, pos: fromIndex(ws, from)})
		}
		merge(node, streams, yield)
	}
}

// Windows returns the sampled windows of a pair up to the horizon.
func (o *Orbital) Windows(pair model.Pair) []model.ContactWindow {
	if ws, ok := o.cache.Get(pair); ok {
		return ws
	}
	ws := o.sample(pair)
	o.cache.Add(pair, ws)
	return ws
}

func pairRange(a, b float64) float64 {
	switch {
	case a <= 0:
		return b
	case b <= 0:
		return a
	default:
		return math.Min(a, b)
	}
}

func (o *Orbital) sample(pair model.Pair) []model.ContactWindow {
	a, okA := o.nodes[pair.A]
	b, okB := o.nodes[pair.B]
	if !okA || !okB {
		return nil
	}
	maxRange := pairRange(a.rangeKm, b.rangeKm)

	var windows []model.ContactWindow
	open := false
	var start time.Duration
	closeAt := func(end time.Duration) {
		if end <= start {
			return
		}
		w := model.ContactWindow{Pair: pair, Start: start, End: end}
		if o.cfg.DataRateBps > 0 {
			w.CapacityBytes = int64(float64(o.cfg.DataRateBps) * w.Duration().Seconds())
		}
		windows = append(windows, w)
	}

	for t := time.Duration(0); t <= o.cfg.Horizon; t += o.cfg.SampleInterval {
		visible := core.Visible(
			a.provider.PositionAt(o.cfg.Epoch, t),
			b.provider.PositionAt(o.cfg.Epoch, t),
			maxRange,
			o.cfg.MinElevationDeg,
		)
		switch {
		case visible && !open:
			open, start = true, t
		case !visible && open:
			open = false
			closeAt(t)
		}
	}
	if open {
		closeAt(o.cfg.Horizon)
	}
	sort.Slice(windows, func(i, j int) bool { return windows[i].Start < windows[j].Start })
	return windows
}
