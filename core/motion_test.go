package core

import (
	"math"
	"testing"
	"time"

	"github.com/signalsfoundry/custody-relay-sim/model"
)

func TestStaticPositionNoChange(t *testing.T) {
	p := NewPositionProvider(model.Orbit{Position: model.Motion{X: 1, Y: 2, Z: 3}})
	epoch := time.Date(2025, time.January, 1, 0, 0, 0, 0, time.UTC)

	if got := p.PositionAt(epoch, 0); got != (Vec3{X: 1, Y: 2, Z: 3}) {
		t.Fatalf("static position = %#v", got)
	}
	if got := p.PositionAt(epoch, time.Hour); got != (Vec3{X: 1, Y: 2, Z: 3}) {
		t.Fatalf("static position moved after an hour: %#v", got)
	}
}

func TestCircularOrbitKeepsRadiusAndPeriod(t *testing.T) {
	orbit := CircularOrbit{RadiusKm: 7000, InclinationRad: 0.5}
	epoch := time.Time{}

	period := 2 * math.Pi / orbit.AngularVelocity()
	start := orbit.PositionAt(epoch, 0)
	quarter := orbit.PositionAt(epoch, time.Duration(period/4*float64(time.Second)))
	full := orbit.PositionAt(epoch, time.Duration(period*float64(time.Second)))

	if math.Abs(quarter.Norm()-7000) > 1e-6 {
		t.Fatalf("radius drifted: %f", quarter.Norm())
	}
	if start.DistanceTo(quarter) < 1000 {
		t.Fatalf("satellite did not move over a quarter period")
	}
	if start.DistanceTo(full) > 1 {
		t.Fatalf("satellite should return to its start after one period, off by %f km", start.DistanceTo(full))
	}
}

// We don't assert exact orbital values (those belong to go-satellite); only
// that the ISS-like TLE propagates to a plausible LEO radius.
func TestOrbitalSGP4PlausibleRadius(t *testing.T) {
	tle1 := "1 25544U 98067A   21275.59097222  .00000204  00000-0  10270-4 0  9990"
	tle2 := "2 25544  51.6459 115.9059 0001817  61.3028  35.9198 15.49370953257760"
	p := NewPositionProvider(model.Orbit{TLE1: tle1, TLE2: tle2})
	epoch := time.Date(2021, time.October, 2, 14, 0, 0, 0, time.UTC)

	r := p.PositionAt(epoch, 10*time.Minute).Norm()
	if r < EarthRadiusKm+200 || r > EarthRadiusKm+600 {
		t.Fatalf("SGP4 radius %f km outside LEO band", r)
	}
}
