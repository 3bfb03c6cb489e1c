package game

import "math"

// Payoff holds the coefficients of the per-round payoff model.
type Payoff struct {
	// Benefit scales destination progress earned by a cooperating node.
	Benefit float64
	// StorageCost scales recipient storage pressure.
	StorageCost float64
	// EnergyCost scales the fraction of the energy budget a transfer uses.
	EnergyCost float64
	// DefectBaseline is what a defector earns before the reputation penalty.
	DefectBaseline float64
	// ReputationPenalty scales how much a defector loses for standing badly
	// with its peer.
	ReputationPenalty float64
	// PressureExponent shapes the storage cost: 1 is linear, above 1 makes
	// cost grow sharply as the store fills.
	PressureExponent float64
}

// DefaultPayoff returns the coefficients used when none are configured.
func DefaultPayoff() Payoff {
	return Payoff{
		Benefit:           1,
		StorageCost:       0.3,
		EnergyCost:        0.1,
		DefectBaseline:    0.05,
		ReputationPenalty: 0.2,
		PressureExponent:  1,
	}
}

func (p Payoff) storage(pressure float64) float64 {
	if pressure <= 0 {
		return 0
	}
	k := p.PressureExponent
	if k <= 0 {
		k = 1
	}
	return p.StorageCost * math.Pow(pressure, k)
}

// Recipient is the payoff of accepting custody of one bundle.
func (p Payoff) Recipient(progress, pressure, energyFraction float64) float64 {
	return p.Benefit*progress - p.storage(pressure) - p.EnergyCost*energyFraction
}

// Sender is the payoff of handing one bundle over.
func (p Payoff) Sender(progress, energyFraction float64) float64 {
	return p.Benefit*progress - p.EnergyCost*energyFraction
}

// Defector is the payoff of defecting against a peer whose reputation of
// the defector is standing.
func (p Payoff) Defector(standing float64) float64 {
	return p.DefectBaseline - p.ReputationPenalty*(1-clamp01(standing))
}
