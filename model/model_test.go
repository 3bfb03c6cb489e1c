package model

import (
	"errors"
	"testing"
	"time"
)

func TestMakePairNormalises(t *testing.T) {
	p := MakePair("sat-b", "sat-a")
	if p.A != "sat-a" || p.B != "sat-b" {
		t.Fatalf("MakePair = %+v, want sat-a/sat-b", p)
	}
	if p != MakePair("sat-a", "sat-b") {
		t.Fatalf("pair should be order independent")
	}
	if got := p.Other("sat-a"); got != "sat-b" {
		t.Fatalf("Other(sat-a) = %s", got)
	}
}

func TestContactWindowValidate(t *testing.T) {
	cases := []struct {
		name string
		w    ContactWindow
		ok   bool
	}{
		{"valid", NewContactWindow("a", "b", 0, 10*time.Second, 0), true},
		{"zero duration", NewContactWindow("a", "b", 5*time.Second, 5*time.Second, 0), false},
		{"negative duration", NewContactWindow("a", "b", 5*time.Second, time.Second, 0), false},
		{"self", NewContactWindow("a", "a", 0, time.Second, 0), false},
		{"negative capacity", NewContactWindow("a", "b", 0, time.Second, -1), false},
	}
	for _, tc := range cases {
		err := tc.w.Validate()
		if tc.ok && err != nil {
			t.Fatalf("%s: unexpected error %v", tc.name, err)
		}
		if !tc.ok && !errors.Is(err, ErrMalformedContact) {
			t.Fatalf("%s: expected ErrMalformedContact, got %v", tc.name, err)
		}
	}
}

func TestContactWindowOverlap(t *testing.T) {
	first := NewContactWindow("a", "b", 0, 10*time.Second, 0)
	touching := NewContactWindow("b", "a", 10*time.Second, 20*time.Second, 0)
	overlapping := NewContactWindow("a", "b", 9*time.Second, 12*time.Second, 0)
	otherPair := NewContactWindow("a", "c", 5*time.Second, 12*time.Second, 0)

	if first.Overlaps(touching) {
		t.Fatalf("touching windows must not overlap")
	}
	if !first.Overlaps(overlapping) {
		t.Fatalf("expected overlap")
	}
	if first.Overlaps(otherPair) {
		t.Fatalf("windows of different pairs never overlap")
	}
}

func TestBundleVisitedAndDeadlineOrder(t *testing.T) {
	b := &Bundle{ID: 2, Source: "a", Destination: "c", ExpiresAt: 20 * time.Second}
	b.Path = append(b.Path, Hop{From: "a", To: "b", At: time.Second})
	if !b.Visited("a") || !b.Visited("b") || b.Visited("c") {
		t.Fatalf("unexpected Visited results for path %+v", b.Path)
	}

	cp := b.Clone()
	cp.Path[0].To = "x"
	if b.Path[0].To != "b" {
		t.Fatalf("Clone must not share the path slice")
	}

	early := &Bundle{ID: 9, ExpiresAt: 10 * time.Second}
	tie := &Bundle{ID: 1, ExpiresAt: 20 * time.Second}
	if !DeadlineLess(early, b) {
		t.Fatalf("earlier expiry should sort first")
	}
	if !DeadlineLess(tie, b) {
		t.Fatalf("ties should break on bundle ID")
	}
	if got := b.Remaining(25 * time.Second); got != 0 {
		t.Fatalf("Remaining after expiry = %s, want 0", got)
	}
}

func TestOrbitResolveSource(t *testing.T) {
	if (Orbit{}).ResolveSource() != MotionSourceStatic {
		t.Fatalf("empty orbit should be static")
	}
	if (Orbit{RadiusKm: 7000}).ResolveSource() != MotionSourceCircular {
		t.Fatalf("radius should select circular motion")
	}
	if (Orbit{RadiusKm: 7000, TLE1: "1", TLE2: "2"}).ResolveSource() != MotionSourceTLE {
		t.Fatalf("TLE should win over radius")
	}
}
