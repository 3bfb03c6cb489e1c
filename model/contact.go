package model

import (
	"errors"
	"fmt"
	"time"
)

// ErrMalformedContact marks a contact window that cannot be ingested.
var ErrMalformedContact = errors.New("malformed contact window")

// ContactWindow is an interval during which two nodes can exchange data.
type ContactWindow struct {
	Pair  Pair
	Start time.Duration
	End   time.Duration

	// CapacityBytes is the transfer budget of the window. Zero means the
	// window does not limit transfers.
	CapacityBytes int64
}

// NewContactWindow builds a window with a normalised pair.
func NewContactWindow(a, b NodeID, start, end time.Duration, capacity int64) ContactWindow {
	return ContactWindow{Pair: MakePair(a, b), Start: start, End: end, CapacityBytes: capacity}
}

// Duration returns End - Start.
func (w ContactWindow) Duration() time.Duration { return w.End - w.Start }

// Validate checks the structural rules of a single window.
func (w ContactWindow) Validate() error {
	if w.Pair.A == "" || w.Pair.B == "" {
		return fmt.Errorf("%w: empty endpoint in %s", ErrMalformedContact, w.Pair)
	}
	if w.Pair.A == w.Pair.B {
		return fmt.Errorf("%w: self contact on %s", ErrMalformedContact, w.Pair.A)
	}
	if w.End <= w.Start {
		return fmt.Errorf("%w: non-positive duration [%s,%s] on %s", ErrMalformedContact, w.Start, w.End, w.Pair)
	}
	if w.Start < 0 {
		return fmt.Errorf("%w: negative start %s on %s", ErrMalformedContact, w.Start, w.Pair)
	}
	if w.CapacityBytes < 0 {
		return fmt.Errorf("%w: negative capacity on %s", ErrMalformedContact, w.Pair)
	}
	return nil
}

// Overlaps reports whether two windows of the same pair share any instant.
// Touching windows ([0,10] and [10,20]) do not overlap.
func (w ContactWindow) Overlaps(o ContactWindow) bool {
	if w.Pair != o.Pair {
		return false
	}
	return w.Start < o.End && o.Start < w.End
}

// Contains reports whether t falls within [Start, End).
func (w ContactWindow) Contains(t time.Duration) bool {
	return t >= w.Start && t < w.End
}

// Anomaly records a contact that was dropped at ingestion.
type Anomaly struct {
	Window ContactWindow
	Reason string
}
