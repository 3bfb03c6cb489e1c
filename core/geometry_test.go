package core

import (
	"math"
	"testing"
)

func TestLineOfSight_NoObstruction(t *testing.T) {
	// Two satellites high and on the same side of Earth, separated in Y.
	posA := Vec3{X: 8000, Y: 0, Z: 0}
	posB := Vec3{X: 8000, Y: 1000, Z: 0}

	if !LineOfSight(posA, posB) {
		t.Errorf("expected LoS between two high satellites on same side of Earth")
	}
}

func TestLineOfSight_Obstructed(t *testing.T) {
	posA := Vec3{X: 7000, Y: 0, Z: 0}
	posB := Vec3{X: -7000, Y: 0, Z: 0}

	if LineOfSight(posA, posB) {
		t.Errorf("expected LoS to be blocked by Earth")
	}
}

func TestElevationDegrees_Overhead(t *testing.T) {
	ground := Vec3{X: EarthRadiusKm, Y: 0, Z: 0}
	sat := Vec3{X: EarthRadiusKm + 500, Y: 0, Z: 0}

	if got := ElevationDegrees(ground, sat); math.Abs(got-90) > 1e-6 {
		t.Fatalf("ElevationDegrees overhead = %f, want 90", got)
	}
}

func TestVisible(t *testing.T) {
	ground := Vec3{X: EarthRadiusKm, Y: 0, Z: 0}
	overhead := Vec3{X: EarthRadiusKm + 800, Y: 0, Z: 0}
	belowHorizon := Vec3{X: 0, Y: EarthRadiusKm + 800, Z: 0}
	satA := Vec3{X: 8000, Y: 0, Z: 0}
	satB := Vec3{X: 8000, Y: 1000, Z: 0}

	if !Visible(ground, overhead, 0, 10) {
		t.Fatalf("overhead satellite should be visible from the ground")
	}
	if Visible(ground, belowHorizon, 0, 10) {
		t.Fatalf("satellite below the horizon must not be visible")
	}
	if !Visible(satA, satB, 1500, 0) {
		t.Fatalf("satellites 1000 km apart within 1500 km range should be visible")
	}
	if Visible(satA, satB, 500, 0) {
		t.Fatalf("range limit not applied")
	}
	if Visible(ground, ground, 0, 0) {
		t.Fatalf("ground-to-ground pairs are not contacts")
	}
}
