package contact

import (
	"errors"
	"fmt"
	"iter"
	"math/rand/v2"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/signalsfoundry/custody-relay-sim/model"
)

// minContactDuration floors sampled durations so every window is well formed.
const minContactDuration = time.Millisecond

// ErrInvalidPoisson reports unusable Poisson parameters.
var ErrInvalidPoisson = errors.New("invalid poisson contact parameters")

// PoissonConfig parameterises stochastic contacts. Every unordered pair
// meets independently: gaps between contacts and contact durations are
// exponentially distributed.
type PoissonConfig struct {
	MeanGap      time.Duration
	MeanDuration time.Duration
	// DataRateBps sets window capacity as rate times duration. Zero leaves
	// windows unbounded.
	DataRateBps int64
	Seed        uint64
	// Horizon stops generation; zero generates without end.
	Horizon time.Duration
}

// Poisson generates contacts on demand. Each pair draws from its own
// generator seeded from the run seed and a hash of the pair, so results do
// not depend on the order in which nodes are queried.
type Poisson struct {
	cfg    PoissonConfig
	byNode map[model.NodeID][]model.Pair
}

// NewPoisson creates a generator for the given nodes.
func NewPoisson(nodes []model.NodeID, cfg PoissonConfig) (*Poisson, error) {
	if cfg.MeanGap <= 0 || cfg.MeanDuration <= 0 {
		return nil, fmt.Errorf("%w: mean gap %s, mean duration %s", ErrInvalidPoisson, cfg.MeanGap, cfg.MeanDuration)
	}
	if cfg.DataRateBps < 0 || cfg.Horizon < 0 {
		return nil, fmt.Errorf("%w: negative rate or horizon", ErrInvalidPoisson)
	}
	p := &Poisson{cfg: cfg, byNode: make(map[model.NodeID][]model.Pair)}
	for _, pair := range pairs(nodes) {
		p.byNode[pair.A] = append(p.byNode[pair.A], pair)
		p.byNode[pair.B] = append(p.byNode[pair.B], pair)
	}
	return p, nil
}

// NextContacts implements Model.
func (p *Poisson) NextContacts(node model.NodeID, from time.Duration) iter.Seq[model.ContactWindow] {
	return func(yield func(model.ContactWindow) bool) {
		streams := make([]stream, 0, len(p.byNode[node]))
		for _, pair := range p.byNode[node] {
			s := p.pairStream(pair)
			for w, ok := s.peek(); ok && w.Start < from; w, ok = s.peek() {
				s.advance()
			}
			streams = append(streams, s)
		}
		merge(node, streams, yield)
	}
}

func (p *Poisson) pairStream(pair model.Pair) *poissonStream {
	s := &poissonStream{
		cfg:  p.cfg,
		pair: pair,
		rng:  rand.New(rand.NewPCG(p.cfg.Seed, xxhash.Sum64String(pair.String()))),
	}
	s.advance()
	return s
}

type poissonStream struct {
	cfg  PoissonConfig
	pair model.Pair
	rng  *rand.Rand

	cursor time.Duration
	next   model.ContactWindow
	done   bool
}

func (s *poissonStream) peek() (model.ContactWindow, bool) {
	if s.done {
		return model.ContactWindow{}, false
	}
	return s.next, true
}

func (s *poissonStream) advance() {
	if s.done {
		return
	}
	gap := time.Duration(s.rng.ExpFloat64() * float64(s.cfg.MeanGap))
	dur := time.Duration(s.rng.ExpFloat64() * float64(s.cfg.MeanDuration))
	if dur < minContactDuration {
		dur = minContactDuration
	}
	start := s.cursor + gap
	if s.cfg.Horizon > 0 && start >= s.cfg.Horizon {
		s.done = true
		return
	}
	end := start + dur
	var capacity int64
	if s.cfg.DataRateBps > 0 {
		capacity = int64(float64(s.cfg.DataRateBps) * dur.Seconds())
		if capacity < 1 {
			capacity = 1
		}
	}
	s.next = model.ContactWindow{Pair: s.pair, Start: start, End: end, CapacityBytes: capacity}
	s.cursor = end
}
