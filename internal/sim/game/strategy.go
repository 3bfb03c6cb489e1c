// Package game resolves the forwarding game played at each contact.
package game

import (
	"fmt"
	"strings"

	"github.com/signalsfoundry/custody-relay-sim/model"
)

// View is what a node knows when choosing its move for a round.
type View struct {
	Self model.NodeID
	Peer model.NodeID

	// PeerReputation is the node's own score for the peer.
	PeerReputation float64
	// Standing is the peer's score for the node.
	Standing float64
	PeerLast model.Action
	HasLast  bool

	// Pressure is the node's store pressure if it accepted every bundle
	// offered to it this round.
	Pressure float64
	// Progress is the mean destination progress of the round's bundles.
	Progress float64
	// EnergyFraction is the share of the node's energy budget one transfer
	// consumes; zero when the energy model is off.
	EnergyFraction float64

	Threshold float64
	Payoff    Payoff
}

// Selector picks a node's strategy for a round. Selectors are fixed per node
// at configuration time.
type Selector interface {
	Name() string
	Select(v View) model.Strategy
}

// Fixed always plays the same strategy.
type Fixed model.Strategy

// Name implements Selector.
func (f Fixed) Name() string { return model.Strategy(f).String() }

// Select implements Selector.
func (f Fixed) Select(View) model.Strategy { return model.Strategy(f) }

// Rational picks the member of the strategy set with the highest expected
// payoff given the peer's reputation, local storage pressure and estimated
// benefit. Ties go to the earlier member of the set.
type Rational struct{}

// Name implements Selector.
func (Rational) Name() string { return "rational" }

// Select implements Selector.
func (Rational) Select(v View) model.Strategy {
	best := model.StrategyCooperate
	bestValue := ExpectedPayoff(v, best)
	for _, s := range []model.Strategy{model.StrategyDefect, model.StrategyConditional} {
		if val := ExpectedPayoff(v, s); val > bestValue {
			best, bestValue = s, val
		}
	}
	return best
}

// ExpectedPayoff estimates the payoff of playing s under v. The peer is
// assumed to cooperate with probability equal to its reputation.
func ExpectedPayoff(v View, s model.Strategy) float64 {
	if Resolve(s, v) == model.ActionDefect {
		return v.Payoff.Defector(v.Standing)
	}
	gain := v.Payoff.Benefit*v.Progress - v.Payoff.storage(v.Pressure) - v.Payoff.EnergyCost*v.EnergyFraction
	return v.PeerReputation * gain
}

// Resolve turns a strategy into the action actually taken against the peer.
func Resolve(s model.Strategy, v View) model.Action {
	switch s {
	case model.StrategyDefect:
		return model.ActionDefect
	case model.StrategyConditional:
		if v.PeerReputation > v.Threshold {
			return model.ActionCooperate
		}
		if v.HasLast {
			return v.PeerLast
		}
		return model.ActionCooperate
	default:
		return model.ActionCooperate
	}
}

// ParseStrategy resolves a declared strategy name.
func ParseStrategy(name string) (model.Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "cooperate", "cooperator":
		return model.StrategyCooperate, nil
	case "defect", "defector":
		return model.StrategyDefect, nil
	case "conditional", "tit-for-tat", "tft":
		return model.StrategyConditional, nil
	default:
		return 0, fmt.Errorf("unknown strategy %q", name)
	}
}

// NewSelector builds the selector for a declared strategy name.
func NewSelector(name string) (Selector, error) {
	if strings.EqualFold(strings.TrimSpace(name), "rational") {
		return Rational{}, nil
	}
	s, err := ParseStrategy(name)
	if err != nil {
		return nil, err
	}
	return Fixed(s), nil
}
