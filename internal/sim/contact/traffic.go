package contact

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"sort"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/signalsfoundry/custody-relay-sim/model"
)

// ErrInvalidTraffic reports unusable traffic parameters.
var ErrInvalidTraffic = errors.New("invalid traffic parameters")

// Injection is one bundle creation request.
type Injection struct {
	At          time.Duration
	Source      model.NodeID
	Destination model.NodeID
	SizeBytes   int64
	TTL         time.Duration
	Scripted    bool
}

// TrafficConfig parameterises the injection stream.
type TrafficConfig struct {
	// Rate is the network-wide number of bundles created per simulated
	// second. Zero disables generated traffic.
	Rate    float64
	TTLMin  time.Duration
	TTLMax  time.Duration
	SizeMin int64
	SizeMax int64
	Seed    uint64
	// Horizon stops generated arrivals; scripted injections are unaffected.
	Horizon  time.Duration
	Scripted []Injection
}

// Traffic merges Poisson-generated injections with scripted ones in time
// order. Sources and destinations are drawn uniformly from distinct nodes;
// TTL and size are uniform over their ranges.
type Traffic struct {
	cfg      TrafficConfig
	nodes    []model.NodeID
	rng      *rand.Rand
	scripted []Injection
	pos      int

	next    Injection
	hasNext bool
	cursor  time.Duration
}

// NewTraffic creates a generator positioned at time zero.
func NewTraffic(nodes []model.NodeID, cfg TrafficConfig) (*Traffic, error) {
	if cfg.Rate < 0 {
		return nil, fmt.Errorf("%w: negative rate %v", ErrInvalidTraffic, cfg.Rate)
	}
	if cfg.Rate > 0 {
		if len(nodes) < 2 {
			return nil, fmt.Errorf("%w: need at least two nodes", ErrInvalidTraffic)
		}
		if cfg.TTLMin <= 0 || cfg.TTLMax < cfg.TTLMin {
			return nil, fmt.Errorf("%w: ttl range [%s,%s]", ErrInvalidTraffic, cfg.TTLMin, cfg.TTLMax)
		}
		if cfg.SizeMin <= 0 || cfg.SizeMax < cfg.SizeMin {
			return nil, fmt.Errorf("%w: size range [%d,%d]", ErrInvalidTraffic, cfg.SizeMin, cfg.SizeMax)
		}
	}
	sorted := append([]model.NodeID(nil), nodes...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	scripted := make([]Injection, len(cfg.Scripted))
	for i, inj := range cfg.Scripted {
		inj.Scripted = true
		scripted[i] = inj
	}
	sort.SliceStable(scripted, func(i, j int) bool { return scripted[i].At < scripted[j].At })

	t := &Traffic{
		cfg:      cfg,
		nodes:    sorted,
		rng:      rand.New(rand.NewPCG(cfg.Seed, xxhash.Sum64String("traffic"))),
		scripted: scripted,
	}
	t.generate()
	return t, nil
}

func (t *Traffic) generate() {
	t.hasNext = false
	if t.cfg.Rate <= 0 {
		return
	}
	gap := time.Duration(t.rng.ExpFloat64() / t.cfg.Rate * float64(time.Second))
	at := t.cursor + gap
	if t.cfg.Horizon > 0 && at >= t.cfg.Horizon {
		return
	}
	t.cursor = at

	src := t.rng.IntN(len(t.nodes))
	dst := t.rng.IntN(len(t.nodes) - 1)
	if dst >= src {
		dst++
	}
	ttl := t.cfg.TTLMin
	if span := t.cfg.TTLMax - t.cfg.TTLMin; span > 0 {
		ttl += time.Duration(t.rng.Int64N(int64(span) + 1))
	}
	size := t.cfg.SizeMin
	if span := t.cfg.SizeMax - t.cfg.SizeMin; span > 0 {
		size += t.rng.Int64N(span + 1)
	}
	t.next = Injection{
		At:          at,
		Source:      t.nodes[src],
		Destination: t.nodes[dst],
		SizeBytes:   size,
		TTL:         ttl,
	}
	t.hasNext = true
}

// Next returns the next injection in time order. Scripted injections win
// ties with generated ones.
func (t *Traffic) Next() (Injection, bool) {
	if t.pos < len(t.scripted) && (!t.hasNext || t.scripted[t.pos].At <= t.next.At) {
		inj := t.scripted[t.pos]
		t.pos++
		return inj, true
	}
	if !t.hasNext {
		return Injection{}, false
	}
	inj := t.next
	t.generate()
	return inj, true
}
