package store

import (
	"fmt"
	"strings"

	"github.com/signalsfoundry/custody-relay-sim/model"
)

// EvictionPolicy chooses which stored bundles to give up so that incoming
// can be admitted. Returning nil rejects the incoming bundle. Policies make
// local decisions only.
type EvictionPolicy interface {
	Name() string
	Victims(s *Store, incoming *model.Bundle) []*model.Bundle
}

// SoonestExpiry evicts the stored bundles closest to their deadline, but only
// those that expire strictly before the incoming bundle: trading a shorter
// remaining lifetime for a longer one is the proxy for improving aggregate
// delivery.
type SoonestExpiry struct{}

// Name implements EvictionPolicy.
func (SoonestExpiry) Name() string { return "soonest-expiry" }

// Victims implements EvictionPolicy.
func (SoonestExpiry) Victims(s *Store, incoming *model.Bundle) []*model.Bundle {
	used, count := s.UsedBytes(), s.Len()
	var victims []*model.Bundle
	for _, b := range s.Bundles() {
		if s.fitsWith(used, count, incoming) {
			break
		}
		if b.ID == incoming.ID || b.ExpiresAt >= incoming.ExpiresAt {
			// Deadline order: nothing later can qualify either.
			return nil
		}
		victims = append(victims, b)
		used -= b.SizeBytes
		count--
	}
	if !s.fitsWith(used, count, incoming) {
		return nil
	}
	return victims
}

// DropTail never evicts; a full store rejects new arrivals.
type DropTail struct{}

// Name implements EvictionPolicy.
func (DropTail) Name() string { return "drop-tail" }

// Victims implements EvictionPolicy.
func (DropTail) Victims(*Store, *model.Bundle) []*model.Bundle { return nil }

// PolicyByName resolves a configured policy name.
func PolicyByName(name string) (EvictionPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "soonest-expiry", "soonest_expiry", "edf":
		return SoonestExpiry{}, nil
	case "drop-tail", "drop_tail", "none":
		return DropTail{}, nil
	default:
		return nil, fmt.Errorf("unknown eviction policy %q", name)
	}
}
