// Package store implements the per-node bounded bundle store.
package store

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/signalsfoundry/custody-relay-sim/model"
)

var (
	// ErrInvalidCapacity indicates a store was declared with no bound.
	ErrInvalidCapacity = errors.New("store capacity must bound bytes or bundle count")
	// ErrBundleNotFound indicates a requested bundle is not stored here.
	ErrBundleNotFound = errors.New("bundle not found in store")
)

// Reason explains an admission decision.
type Reason int

const (
	ReasonStored Reason = iota
	ReasonStoredAfterEviction
	ReasonTooLarge
	ReasonNoVictim
	ReasonDuplicate
)

func (r Reason) String() string {
	switch r {
	case ReasonStored:
		return "stored"
	case ReasonStoredAfterEviction:
		return "stored_after_eviction"
	case ReasonTooLarge:
		return "too_large"
	case ReasonNoVictim:
		return "no_victim"
	case ReasonDuplicate:
		return "duplicate"
	default:
		return "unknown"
	}
}

// AdmitResult is the outcome of Admit. Rejection is an expected result,
// never an error.
type AdmitResult struct {
	Accepted bool
	Evicted  []*model.Bundle
	Reason   Reason
}

// Capacity bounds a store. A zero field leaves that axis unbounded.
type Capacity struct {
	Bytes   int64
	Bundles int
}

// Validate checks that at least one axis is bounded and none is negative.
func (c Capacity) Validate() error {
	if c.Bytes < 0 || c.Bundles < 0 {
		return fmt.Errorf("%w: negative bound %+v", ErrInvalidCapacity, c)
	}
	if c.Bytes == 0 && c.Bundles == 0 {
		return ErrInvalidCapacity
	}
	return nil
}

// Summary is what a node discloses about a held bundle to a contact peer:
// destination and age, but not the payload.
type Summary struct {
	ID          model.BundleID
	Destination model.NodeID
	Age         time.Duration
	ExpiresAt   time.Duration
	SizeBytes   int64
}

// Store holds the bundles in a node's custody.
type Store struct {
	owner    model.NodeID
	capacity Capacity
	policy   EvictionPolicy

	bundles   map[model.BundleID]*model.Bundle
	usedBytes int64
}

// Option customises a Store.
type Option func(*Store)

// WithEvictionPolicy overrides the default soonest-expiry policy.
func WithEvictionPolicy(p EvictionPolicy) Option {
	return func(s *Store) {
		if p != nil {
			s.policy = p
		}
	}
}

// New creates an empty store for owner.
func New(owner model.NodeID, capacity Capacity, opts ...Option) (*Store, error) {
	if err := capacity.Validate(); err != nil {
		return nil, fmt.Errorf("store %s: %w", owner, err)
	}
	s := &Store{
		owner:    owner,
		capacity: capacity,
		policy:   SoonestExpiry{},
		bundles:  make(map[model.BundleID]*model.Bundle),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// Owner returns the node the store belongs to.
func (s *Store) Owner() model.NodeID { return s.owner }

// Capacity returns the declared bounds.
func (s *Store) Capacity() Capacity { return s.capacity }

// Len returns the number of stored bundles.
func (s *Store) Len() int { return len(s.bundles) }

// UsedBytes returns the aggregate size of stored bundles.
func (s *Store) UsedBytes() int64 { return s.usedBytes }

// Has reports whether the bundle is stored here.
func (s *Store) Has(id model.BundleID) bool {
	_, ok := s.bundles[id]
	return ok
}

// Get returns the stored instance of a bundle.
func (s *Store) Get(id model.BundleID) (*model.Bundle, bool) {
	b, ok := s.bundles[id]
	return b, ok
}

// Fits reports whether b could be stored without eviction.
func (s *Store) Fits(b *model.Bundle) bool {
	return s.fitsWith(s.usedBytes, len(s.bundles), b)
}

// Pressure returns the fraction of the tighter capacity axis that would be
// used after storing extraBytes more (as one extra bundle when > 0).
func (s *Store) Pressure(extraBytes int64) float64 {
	count := len(s.bundles)
	if extraBytes > 0 {
		count++
	}
	var p float64
	if s.capacity.Bytes > 0 {
		p = float64(s.usedBytes+extraBytes) / float64(s.capacity.Bytes)
	}
	if s.capacity.Bundles > 0 {
		if c := float64(count) / float64(s.capacity.Bundles); c > p {
			p = c
		}
	}
	return p
}

// Admit stores b if there is room, otherwise consults the eviction policy.
// Eviction is all-or-nothing: either the chosen victims make room and are
// removed, or the store is left untouched and b is rejected.
func (s *Store) Admit(b *model.Bundle) AdmitResult {
	if _, dup := s.bundles[b.ID]; dup {
		return AdmitResult{Reason: ReasonDuplicate}
	}
	if !s.fitsWith(0, 0, b) {
		return AdmitResult{Reason: ReasonTooLarge}
	}
	if s.Fits(b) {
		s.put(b)
		return AdmitResult{Accepted: true, Reason: ReasonStored}
	}

	victims := s.policy.Victims(s, b)
	if len(victims) == 0 {
		return AdmitResult{Reason: ReasonNoVictim}
	}
	used, count := s.usedBytes, len(s.bundles)
	for _, v := range victims {
		if v.ID == b.ID || !s.Has(v.ID) {
			return AdmitResult{Reason: ReasonNoVictim}
		}
		used -= v.SizeBytes
		count--
	}
	if !s.fitsWith(used, count, b) {
		return AdmitResult{Reason: ReasonNoVictim}
	}

	evicted := make([]*model.Bundle, 0, len(victims))
	for _, v := range victims {
		removed, _ := s.Remove(v.ID)
		evicted = append(evicted, removed)
	}
	s.put(b)
	return AdmitResult{Accepted: true, Evicted: evicted, Reason: ReasonStoredAfterEviction}
}

// Remove deletes a bundle and returns the removed instance.
func (s *Store) Remove(id model.BundleID) (*model.Bundle, error) {
	b, ok := s.bundles[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d at %s", ErrBundleNotFound, id, s.owner)
	}
	delete(s.bundles, id)
	s.usedBytes -= b.SizeBytes
	return b, nil
}

// ExpireSweep removes and returns every bundle whose time-to-live is <= now,
// in deadline order.
func (s *Store) ExpireSweep(now time.Duration) []*model.Bundle {
	var expired []*model.Bundle
	for _, b := range s.bundles {
		if b.Expired(now) {
			expired = append(expired, b)
		}
	}
	sort.Slice(expired, func(i, j int) bool { return model.DeadlineLess(expired[i], expired[j]) })
	for _, b := range expired {
		delete(s.bundles, b.ID)
		s.usedBytes -= b.SizeBytes
	}
	return expired
}

// Bundles returns the stored bundles in deadline order. The pointers are
// owned by the store; callers must treat them as read-only.
func (s *Store) Bundles() []*model.Bundle {
	out := make([]*model.Bundle, 0, len(s.bundles))
	for _, b := range s.bundles {
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return model.DeadlineLess(out[i], out[j]) })
	return out
}

// ContentsVisibleTo returns what this node reveals to a peer about its
// holdings at now. Disclosure is currently full for destination and age and
// the same for every peer; the peer argument is reserved for per-peer
// disclosure policies.
func (s *Store) ContentsVisibleTo(_ model.NodeID, now time.Duration) []Summary {
	held := s.Bundles()
	out := make([]Summary, 0, len(held))
	for _, b := range held {
		out = append(out, Summary{
			ID:          b.ID,
			Destination: b.Destination,
			Age:         now - b.CreatedAt,
			ExpiresAt:   b.ExpiresAt,
			SizeBytes:   b.SizeBytes,
		})
	}
	return out
}

func (s *Store) put(b *model.Bundle) {
	s.bundles[b.ID] = b
	s.usedBytes += b.SizeBytes
}

func (s *Store) fitsWith(used int64, count int, b *model.Bundle) bool {
	if s.capacity.Bytes > 0 && used+b.SizeBytes > s.capacity.Bytes {
		return false
	}
	if s.capacity.Bundles > 0 && count+1 > s.capacity.Bundles {
		return false
	}
	return true
}
