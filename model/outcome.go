package model

import "time"

// Strategy is a member of the declared strategy set.
type Strategy int

const (
	StrategyCooperate Strategy = iota
	StrategyDefect
	StrategyConditional
)

func (s Strategy) String() string {
	switch s {
	case StrategyCooperate:
		return "cooperate"
	case StrategyDefect:
		return "defect"
	case StrategyConditional:
		return "conditional"
	default:
		return "unknown"
	}
}

// Action is what a node actually does in a round once its strategy is
// resolved against the peer's history.
type Action int

const (
	ActionCooperate Action = iota
	ActionDefect
)

func (a Action) String() string {
	if a == ActionDefect {
		return "defect"
	}
	return "cooperate"
}

// Direction summarises which way bundles moved in a round.
type Direction int

const (
	DirectionNone Direction = iota
	DirectionAToB
	DirectionBToA
	DirectionBidirectional
)

func (d Direction) String() string {
	switch d {
	case DirectionAToB:
		return "a->b"
	case DirectionBToA:
		return "b->a"
	case DirectionBidirectional:
		return "bidirectional"
	default:
		return "none"
	}
}

// TransferResult is the fate of one eligible bundle in a round.
type TransferResult int

const (
	TransferMoved TransferResult = iota
	TransferCopied
	TransferDelivered
	TransferDeclined
	TransferRejectedAtCapacity
	TransferWindowExhausted
	TransferEnergyExhausted
)

func (r TransferResult) String() string {
	switch r {
	case TransferMoved:
		return "moved"
	case TransferCopied:
		return "copied"
	case TransferDelivered:
		return "delivered"
	case TransferDeclined:
		return "declined"
	case TransferRejectedAtCapacity:
		return "rejected_at_capacity"
	case TransferWindowExhausted:
		return "window_exhausted"
	case TransferEnergyExhausted:
		return "energy_exhausted"
	default:
		return "unknown"
	}
}

// Succeeded reports whether the bundle reached the peer.
func (r TransferResult) Succeeded() bool {
	return r == TransferMoved || r == TransferCopied || r == TransferDelivered
}

// TransferRecord describes one bundle decision within a round.
type TransferRecord struct {
	Bundle BundleID
	From   NodeID
	To     NodeID
	Result TransferResult
}

// GameOutcome is the record of one resolved exchange round of a contact.
type GameOutcome struct {
	Round int
	At    time.Duration
	Pair  Pair

	StrategyA Strategy
	StrategyB Strategy
	ActionA   Action
	ActionB   Action
	PayoffA   float64
	PayoffB   float64

	Direction Direction
	Transfers []TransferRecord
}
