package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/signalsfoundry/custody-relay-sim/internal/logging"
	"github.com/signalsfoundry/custody-relay-sim/internal/sim/metrics"
	"github.com/signalsfoundry/custody-relay-sim/model"
)

// Holds implements game.Custody.
func (s *Simulation) Holds(node model.NodeID, id model.BundleID) bool {
	n, ok := s.nodes[node]
	return ok && n.store.Has(id)
}

// Replicas implements game.Custody.
func (s *Simulation) Replicas(id model.BundleID) int { return len(s.holders[id]) }

// Holders returns the nodes storing bundle id, in node order.
func (s *Simulation) Holders(id model.BundleID) []model.NodeID {
	var out []model.NodeID
	for _, n := range s.order {
		if s.nodes[n].store.Has(id) {
			out = append(out, n)
		}
	}
	return out
}

// Terminal returns the final outcome of bundle id, if it has one.
func (s *Simulation) Terminal(id model.BundleID) (metrics.Terminal, bool) {
	t, ok := s.terminal[id]
	return t, ok
}

// Transfer implements game.Custody. It performs one custody transfer as a
// single state update: the recipient admits a copy with the new hop
// appended, then the sender relinquishes its copy under single-copy custody.
// A bundle reaching its destination is consumed without admission and every
// replica purged.
func (s *Simulation) Transfer(b *model.Bundle, from, to model.NodeID) model.TransferResult {
	now := s.queue.Now()
	src, dst := s.nodes[from], s.nodes[to]
	if src == nil || dst == nil {
		s.fail(nil, "transfer of bundle %d between unknown nodes %s -> %s", b.ID, from, to)
		return model.TransferDeclined
	}
	if !s.chargeEnergy(src, dst, now) {
		return model.TransferEnergyExhausted
	}

	cp := b.Clone()
	cp.HopCount++
	cp.Custodian = to
	cp.Path = append(cp.Path, model.Hop{From: from, To: to, At: now})

	// The destination consumes the bundle on arrival, so its store bounds
	// never apply.
	if to == cp.Destination {
		s.spendEnergy(src, dst)
		s.purge(cp.ID)
		s.finish(metrics.Outcome{
			Bundle:  cp.ID,
			Kind:    metrics.Delivered,
			At:      now,
			Latency: now - cp.CreatedAt,
			Hops:    cp.HopCount,
		})
		s.verifyCustody(cp.ID)
		return model.TransferDelivered
	}

	res := dst.store.Admit(cp)
	if !res.Accepted {
		return model.TransferRejectedAtCapacity
	}
	s.spendEnergy(src, dst)
	s.evicted(to, res.Evicted, now)
	defer func() {
		for _, v := range res.Evicted {
			s.verifyCustody(v.ID)
		}
	}()

	result := model.TransferCopied
	if s.game.Config().Replicate {
		s.holders[cp.ID][to] = struct{}{}
		n := len(s.holders[cp.ID])
		for holder := range s.holders[cp.ID] {
			if stored, ok := s.nodes[holder].store.Get(cp.ID); ok {
				stored.Replicas = n
			}
		}
	} else {
		if _, err := src.store.Remove(cp.ID); err != nil {
			s.fail(err, "relinquish bundle %d at %s", cp.ID, from)
			return model.TransferMoved
		}
		delete(s.holders[cp.ID], from)
		s.holders[cp.ID][to] = struct{}{}
		result = model.TransferMoved
	}
	s.verifyCustody(cp.ID)
	return result
}

// evicted releases the copies node gave up to admit another bundle. A
// bundle left with no holder is dropped at capacity.
func (s *Simulation) evicted(node model.NodeID, victims []*model.Bundle, now time.Duration) {
	for _, v := range victims {
		s.log.Debug(context.Background(), "bundle evicted",
			logging.Uint64("bundle", uint64(v.ID)),
			logging.String("node", string(node)),
		)
		s.release(v.ID, node, metrics.DroppedAtCapacity, now)
	}
}

func (s *Simulation) release(id model.BundleID, node model.NodeID, kind metrics.Terminal, now time.Duration) {
	hs, ok := s.holders[id]
	if !ok {
		s.fail(nil, "release of untracked bundle %d at %s", id, node)
		return
	}
	delete(hs, node)
	if len(hs) == 0 {
		s.finish(metrics.Outcome{Bundle: id, Kind: kind, At: now})
	}
}

func (s *Simulation) purge(id model.BundleID) {
	for _, n := range s.order {
		st := s.nodes[n].store
		if st.Has(id) {
			if _, err := st.Remove(id); err != nil {
				s.fail(err, "purge bundle %d at %s", id, n)
				return
			}
		}
	}
}

// finish records the single terminal outcome of a bundle.
func (s *Simulation) finish(o metrics.Outcome) {
	if err := s.collector.Terminal(o); err != nil {
		s.fail(err, "bundle %d", o.Bundle)
		return
	}
	s.terminal[o.Bundle] = o.Kind
	delete(s.holders, o.Bundle)
	if ev, ok := s.expiries[o.Bundle]; ok {
		s.queue.Supersede(ev)
		delete(s.expiries, o.Bundle)
	}
}

// sweep expires stored bundles once per distinct instant, before any other
// processing at that instant.
func (s *Simulation) sweep(now time.Duration) {
	if s.swept && now <= s.lastSweep {
		return
	}
	s.swept, s.lastSweep = true, now
	for _, id := range s.order {
		for _, b := range s.nodes[id].store.ExpireSweep(now) {
			s.release(b.ID, id, metrics.ExpiredUndelivered, now)
		}
	}
}

func (s *Simulation) replicaLimit() int {
	if cfg := s.game.Config(); cfg.Replicate {
		return cfg.MaxReplicas
	}
	return 1
}

// verifyCustody checks the holder count of one bundle after a transfer.
func (s *Simulation) verifyCustody(id model.BundleID) {
	if err := s.custodyError(id); err != nil {
		s.fail(err, "custody of bundle %d", id)
	}
}

var errCustody = errors.New("custody mismatch")

func (s *Simulation) custodyError(id model.BundleID) error {
	stored := len(s.Holders(id))
	if _, dead := s.terminal[id]; dead {
		if stored != 0 {
			return fmt.Errorf("%w: terminal bundle %d still stored at %d nodes", errCustody, id, stored)
		}
		return nil
	}
	tracked := len(s.holders[id])
	if stored != tracked {
		return fmt.Errorf("%w: bundle %d stored at %d nodes, tracked at %d", errCustody, id, stored, tracked)
	}
	if stored < 1 || stored > s.replicaLimit() {
		return fmt.Errorf("%w: bundle %d has %d custodians, allowed 1..%d", errCustody, id, stored, s.replicaLimit())
	}
	return nil
}

// CheckInvariants verifies custody, capacity and expiry across the whole
// run. It returns an *InvariantViolation on the first failure.
func (s *Simulation) CheckInvariants() error {
	now := s.queue.Now()
	for id := range s.holders {
		if err := s.custodyError(id); err != nil {
			return violation(now, err, "custody")
		}
	}
	for _, n := range s.order {
		st := s.nodes[n].store
		c := st.Capacity()
		if c.Bytes > 0 && st.UsedBytes() > c.Bytes {
			return violation(now, nil, "node %s stores %d bytes, capacity %d", n, st.UsedBytes(), c.Bytes)
		}
		if c.Bundles > 0 && st.Len() > c.Bundles {
			return violation(now, nil, "node %s stores %d bundles, capacity %d", n, st.Len(), c.Bundles)
		}
		for _, b := range st.Bundles() {
			if s.swept && b.ExpiresAt <= s.lastSweep {
				return violation(now, nil, "node %s stores bundle %d past expiry %s", n, b.ID, b.ExpiresAt)
			}
			if _, live := s.holders[b.ID]; !live {
				return violation(now, nil, "node %s stores bundle %d with no tracked custody", n, b.ID)
			}
		}
	}
	return nil
}

func (s *Simulation) recharge(n *nodeState, now time.Duration) {
	e := s.opts.Energy
	if now > n.energyAt {
		n.energy += e.RechargeRate * (now - n.energyAt).Seconds()
		if n.energy > e.MaxEnergy {
			n.energy = e.MaxEnergy
		}
	}
	n.energyAt = now
}

// energyFraction is the share of a node's energy budget one transfer
// consumes, or zero without an energy model.
func (s *Simulation) energyFraction() float64 {
	e := s.opts.Energy
	if !e.Enabled || e.MaxEnergy <= 0 {
		return 0
	}
	return e.CommsCost / e.MaxEnergy
}

// chargeEnergy reports whether both ends can afford one transfer.
func (s *Simulation) chargeEnergy(src, dst *nodeState, now time.Duration) bool {
	if !s.opts.Energy.Enabled {
		return true
	}
	s.recharge(src, now)
	s.recharge(dst, now)
	cost := s.opts.Energy.CommsCost
	return src.energy >= cost && dst.energy >= cost
}

func (s *Simulation) spendEnergy(src, dst *nodeState) {
	if !s.opts.Energy.Enabled {
		return
	}
	src.energy -= s.opts.Energy.CommsCost
	dst.energy -= s.opts.Energy.CommsCost
}
