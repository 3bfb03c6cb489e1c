package model

import "time"

// BundleID identifies a bundle. IDs are assigned in injection order, which
// keeps them deterministic for a given seed.
type BundleID uint64

// Hop records one custody movement.
type Hop struct {
	From NodeID
	To   NodeID
	At   time.Duration
}

// Bundle is one stored instance of a message. Under the replicate policy
// several nodes hold instances with the same ID; each instance tracks its own
// custodian, hop count and path.
type Bundle struct {
	ID          BundleID
	Source      NodeID
	Destination NodeID

	// CreatedAt and ExpiresAt are offsets from the start of the run.
	// ExpiresAt is fixed at creation and never extended.
	CreatedAt time.Duration
	ExpiresAt time.Duration

	SizeBytes int64

	Custodian NodeID
	HopCount  int
	Replicas  int
	Path      []Hop
}

// Clone returns a deep copy of b.
func (b *Bundle) Clone() *Bundle {
	if b == nil {
		return nil
	}
	cp := *b
	cp.Path = append([]Hop(nil), b.Path...)
	return &cp
}

// Expired reports whether the bundle's time-to-live has elapsed at now.
func (b *Bundle) Expired(now time.Duration) bool {
	return b.ExpiresAt <= now
}

// Remaining returns the time left before expiry, never negative.
func (b *Bundle) Remaining(now time.Duration) time.Duration {
	if b.ExpiresAt <= now {
		return 0
	}
	return b.ExpiresAt - now
}

// Visited reports whether n already appears on the bundle's path.
func (b *Bundle) Visited(n NodeID) bool {
	if b.Source == n {
		return true
	}
	for _, h := range b.Path {
		if h.To == n {
			return true
		}
	}
	return false
}

// DeadlineLess orders bundles earliest-expiry first with the ID as a
// deterministic tie-break.
func DeadlineLess(a, b *Bundle) bool {
	if a.ExpiresAt != b.ExpiresAt {
		return a.ExpiresAt < b.ExpiresAt
	}
	return a.ID < b.ID
}
