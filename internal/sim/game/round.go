package game

import (
	"sort"
	"time"

	"github.com/signalsfoundry/custody-relay-sim/internal/sim/store"
	"github.com/signalsfoundry/custody-relay-sim/model"
)

// Config holds the game parameters shared by every round of a run.
type Config struct {
	Threshold  float64
	Payoff     Payoff
	Reputation ReputationConfig

	Replicate   bool
	MaxReplicas int
}

// Player is one side of a round.
type Player struct {
	ID             model.NodeID
	Selector       Selector
	Ledger         *Ledger
	Store          *store.Store
	EnergyFraction float64
}

// Custody is implemented by the engine, which owns bundle placement and
// performs the atomic transfer of one bundle.
type Custody interface {
	Holds(node model.NodeID, id model.BundleID) bool
	Replicas(id model.BundleID) int
	Transfer(b *model.Bundle, from, to model.NodeID) model.TransferResult
}

// Budget tracks the transfer capacity left in a contact window. A zero limit
// means the window is unbounded.
type Budget struct {
	limit int64
	used  int64
}

// NewBudget creates a budget for a window with the given capacity.
func NewBudget(capacity int64) *Budget { return &Budget{limit: capacity} }

// Fits reports whether size bytes can still be sent.
func (b *Budget) Fits(size int64) bool {
	return b.limit == 0 || b.used+size <= b.limit
}

// Consume charges size bytes to the window.
func (b *Budget) Consume(size int64) { b.used += size }

// Used returns the bytes sent so far.
func (b *Budget) Used() int64 { return b.used }

// Round is one exchange between the two nodes of an active contact.
type Round struct {
	Number int
	At     time.Duration
	Pair   model.Pair
	A      Player
	B      Player
	Budget *Budget
}

type offer struct {
	bundle   *model.Bundle
	from, to *Player
	progress float64
}

// Game resolves rounds under a fixed Config.
type Game struct {
	cfg Config
}

// New creates a Game.
func New(cfg Config) *Game {
	if cfg.MaxReplicas < 1 {
		cfg.MaxReplicas = 1
	}
	return &Game{cfg: cfg}
}

// Config returns the active parameters.
func (g *Game) Config() Config { return g.cfg }

// Eligible reports whether the bundle held at from should be offered to to:
// to is the destination, or to's reputation-weighted delivery estimate beats
// from's. Bundles never return to a node already on their path.
func (g *Game) Eligible(b *model.Bundle, from, to *Player, c Custody) bool {
	if b.Visited(to.ID) {
		return false
	}
	if c.Holds(to.ID, b.ID) {
		return false
	}
	if b.Destination == to.ID {
		return true
	}
	if g.cfg.Replicate && c.Replicas(b.ID) >= g.cfg.MaxReplicas {
		return false
	}
	peerEstimate := from.Ledger.Reputation(to.ID) * to.Ledger.DeliveryEstimate(b.Destination)
	return peerEstimate > from.Ledger.DeliveryEstimate(b.Destination)
}

func progress(b *model.Bundle, from, to *Player) float64 {
	if b.Destination == to.ID {
		return 1
	}
	d := to.Ledger.DeliveryEstimate(b.Destination) - from.Ledger.DeliveryEstimate(b.Destination)
	return clamp01(d)
}

func (g *Game) offers(from, to *Player, c Custody) []offer {
	var out []offer
	for _, b := range from.Store.Bundles() {
		if g.Eligible(b, from, to, c) {
			out = append(out, offer{bundle: b, from: from, to: to, progress: progress(b, from, to)})
		}
	}
	return out
}

func (g *Game) view(self, peer *Player, incoming int64, meanProgress float64) View {
	last, hasLast := self.Ledger.LastAction(peer.ID)
	return View{
		Self:           self.ID,
		Peer:           peer.ID,
		PeerReputation: self.Ledger.Reputation(peer.ID),
		Standing:       peer.Ledger.Reputation(self.ID),
		PeerLast:       last,
		HasLast:        hasLast,
		Pressure:       self.Store.Pressure(incoming),
		Progress:       meanProgress,
		EnergyFraction: self.EnergyFraction,
		Threshold:      g.cfg.Threshold,
		Payoff:         g.cfg.Payoff,
	}
}

// Play resolves one round. It returns false when neither node holds a bundle
// eligible for the other, in which case nothing is decided or recorded.
//
// Both nodes choose simultaneously from the same information state. If both
// cooperate, eligible bundles are transferred in deadline order until the
// window budget runs out; larger bundles that no longer fit are skipped so
// smaller ones behind them can still go. Each node then updates its
// reputation of the other once.
func (g *Game) Play(r Round, c Custody) (model.GameOutcome, bool) {
	a, b := &r.A, &r.B
	offers := append(g.offers(a, b, c), g.offers(b, a, c)...)
	if len(offers) == 0 {
		return model.GameOutcome{}, false
	}
	sort.SliceStable(offers, func(i, j int) bool {
		if offers[i].bundle.ExpiresAt != offers[j].bundle.ExpiresAt || offers[i].bundle.ID != offers[j].bundle.ID {
			return model.DeadlineLess(offers[i].bundle, offers[j].bundle)
		}
		return offers[i].from.ID < offers[j].from.ID
	})

	var toA, toB int64
	var total float64
	for _, o := range offers {
		total += o.progress
		if o.to == a {
			toA += o.bundle.SizeBytes
		} else {
			toB += o.bundle.SizeBytes
		}
	}
	mean := total / float64(len(offers))

	viewA := g.view(a, b, toA, mean)
	viewB := g.view(b, a, toB, mean)
	stratA := a.Selector.Select(viewA)
	stratB := b.Selector.Select(viewB)
	actA := Resolve(stratA, viewA)
	actB := Resolve(stratB, viewB)

	out := model.GameOutcome{
		Round:     r.Number,
		At:        r.At,
		Pair:      r.Pair,
		StrategyA: stratA,
		StrategyB: stratB,
		ActionA:   actA,
		ActionB:   actB,
		Transfers: make([]model.TransferRecord, 0, len(offers)),
	}

	cooperate := actA == model.ActionCooperate && actB == model.ActionCooperate
	var sentAB, sentBA bool
	for _, o := range offers {
		if !c.Holds(o.from.ID, o.bundle.ID) {
			// Evicted or delivered earlier in this round.
			continue
		}
		rec := model.TransferRecord{Bundle: o.bundle.ID, From: o.from.ID, To: o.to.ID}
		switch {
		case !cooperate:
			rec.Result = model.TransferDeclined
		case !r.Budget.Fits(o.bundle.SizeBytes):
			rec.Result = model.TransferWindowExhausted
		default:
			size := o.bundle.SizeBytes
			rec.Result = c.Transfer(o.bundle, o.from.ID, o.to.ID)
			if rec.Result.Succeeded() {
				r.Budget.Consume(size)
				g.credit(&out, o)
				if o.from == a {
					sentAB = true
				} else {
					sentBA = true
				}
			}
		}
		out.Transfers = append(out.Transfers, rec)
	}

	if actA == model.ActionDefect {
		out.PayoffA = g.cfg.Payoff.Defector(viewA.Standing)
	}
	if actB == model.ActionDefect {
		out.PayoffB = g.cfg.Payoff.Defector(viewB.Standing)
	}

	switch {
	case sentAB && sentBA:
		out.Direction = model.DirectionBidirectional
	case sentAB:
		out.Direction = model.DirectionAToB
	case sentBA:
		out.Direction = model.DirectionBToA
	default:
		out.Direction = model.DirectionNone
	}

	a.Ledger.Observe(b.ID, actB)
	b.Ledger.Observe(a.ID, actA)
	return out, true
}

func (g *Game) credit(out *model.GameOutcome, o offer) {
	pay := g.cfg.Payoff
	send := pay.Sender(o.progress, o.from.EnergyFraction)
	recv := pay.Recipient(o.progress, o.to.Store.Pressure(0), o.to.EnergyFraction)
	if o.from.ID == out.Pair.A {
		out.PayoffA += send
		out.PayoffB += recv
	} else {
		out.PayoffB += send
		out.PayoffA += recv
	}
}
