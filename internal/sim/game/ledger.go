package game

import (
	"sort"
	"time"

	"github.com/signalsfoundry/custody-relay-sim/model"
)

// ReputationConfig controls the exponential moving average applied to
// per-peer reputation after each resolved round.
type ReputationConfig struct {
	// Alpha is the EMA weight given to the newest observation.
	Alpha float64
	// Adaptive raises the weight to 1/(n+1) for the first observations of a
	// peer so early evidence is not drowned out by the initial score.
	Adaptive bool
	// Initial is the score assigned to a peer never interacted with.
	Initial float64
}

// DefaultReputation returns the reputation settings used when none are
// configured.
func DefaultReputation() ReputationConfig {
	return ReputationConfig{Alpha: 0.2, Initial: 0.5}
}

// PeerRecord is one node's view of a single peer.
type PeerRecord struct {
	Reputation   float64
	Interactions int
	Cooperations int
	Defections   int
	LastAction   model.Action
	HasLast      bool
	Encounters   int
	LastSeen     time.Duration
}

// Ledger is the per-node interaction history: reputation and last action
// per peer, and encounter counts used as a delivery-probability proxy.
type Ledger struct {
	owner           model.NodeID
	cfg             ReputationConfig
	peers           map[model.NodeID]*PeerRecord
	totalEncounters int
}

// NewLedger creates an empty ledger for owner.
func NewLedger(owner model.NodeID, cfg ReputationConfig) *Ledger {
	return &Ledger{
		owner: owner,
		cfg:   cfg,
		peers: make(map[model.NodeID]*PeerRecord),
	}
}

// Owner returns the node the ledger belongs to.
func (l *Ledger) Owner() model.NodeID { return l.owner }

// SetConfig replaces the reputation parameters; existing scores are kept.
func (l *Ledger) SetConfig(cfg ReputationConfig) { l.cfg = cfg }

func (l *Ledger) record(peer model.NodeID) *PeerRecord {
	rec, ok := l.peers[peer]
	if !ok {
		rec = &PeerRecord{Reputation: clamp01(l.cfg.Initial)}
		l.peers[peer] = rec
	}
	return rec
}

// Reputation returns the owner's score for peer.
func (l *Ledger) Reputation(peer model.NodeID) float64 {
	if rec, ok := l.peers[peer]; ok {
		return rec.Reputation
	}
	return clamp01(l.cfg.Initial)
}

// LastAction returns the last action observed from peer, if any.
func (l *Ledger) LastAction(peer model.NodeID) (model.Action, bool) {
	if rec, ok := l.peers[peer]; ok && rec.HasLast {
		return rec.LastAction, true
	}
	return model.ActionCooperate, false
}

// Peer returns a copy of the record for peer.
func (l *Ledger) Peer(peer model.NodeID) (PeerRecord, bool) {
	rec, ok := l.peers[peer]
	if !ok {
		return PeerRecord{}, false
	}
	return *rec, true
}

// Encounter records the start of a contact with peer.
func (l *Ledger) Encounter(peer model.NodeID, at time.Duration) {
	rec := l.record(peer)
	rec.Encounters++
	rec.LastSeen = at
	l.totalEncounters++
}

// DeliveryEstimate approximates how likely the owner is to bring a bundle to
// dest: the share of its encounters that were with dest.
func (l *Ledger) DeliveryEstimate(dest model.NodeID) float64 {
	if dest == l.owner {
		return 1
	}
	rec, ok := l.peers[dest]
	if !ok {
		return 0
	}
	return float64(rec.Encounters) / float64(l.totalEncounters+1)
}

// Observe applies the EMA update for one action taken by peer and returns
// the new score.
func (l *Ledger) Observe(peer model.NodeID, action model.Action) float64 {
	rec := l.record(peer)
	rec.Interactions++
	target := 1.0
	if action == model.ActionDefect {
		target = 0
		rec.Defections++
	} else {
		rec.Cooperations++
	}
	alpha := l.cfg.Alpha
	if l.cfg.Adaptive {
		if a := 1 / float64(rec.Interactions+1); a > alpha {
			alpha = a
		}
	}
	rec.Reputation = clamp01(rec.Reputation + alpha*(target-rec.Reputation))
	rec.LastAction = action
	rec.HasLast = true
	return rec.Reputation
}

// Reputations returns the owner's scores for every known peer, sorted by
// peer ID.
func (l *Ledger) Reputations() []PeerScore {
	out := make([]PeerScore, 0, len(l.peers))
	for id, rec := range l.peers {
		out = append(out, PeerScore{Peer: id, Score: rec.Reputation})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Peer < out[j].Peer })
	return out
}

// PeerScore is one entry of Reputations.
type PeerScore struct {
	Peer  model.NodeID
	Score float64
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
