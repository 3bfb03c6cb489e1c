package core

import (
	"math"
	"time"

	satellite "github.com/joshuaferrara/go-satellite"

	"github.com/signalsfoundry/custody-relay-sim/model"
)

// EarthMuKm3PerS2 is the standard gravitational parameter of the Earth.
const EarthMuKm3PerS2 = 398600.4418

// PositionProvider reports a node position for an offset from the scenario
// epoch.
type PositionProvider interface {
	PositionAt(epoch time.Time, offset time.Duration) Vec3
}

// StaticPosition never moves.
type StaticPosition struct {
	Pos Vec3
}

// PositionAt returns the fixed position.
func (s StaticPosition) PositionAt(time.Time, time.Duration) Vec3 { return s.Pos }

// CircularOrbit moves at constant angular velocity sqrt(mu/r^3) on a circle
// of RadiusKm, tilted about the X axis by InclinationRad.
type CircularOrbit struct {
	RadiusKm       float64
	PhaseRad       float64
	InclinationRad float64
}

// AngularVelocity returns the orbit's angular rate in radians per second.
func (c CircularOrbit) AngularVelocity() float64 {
	if c.RadiusKm <= 0 {
		return 0
	}
	return math.Sqrt(EarthMuKm3PerS2 / (c.RadiusKm * c.RadiusKm * c.RadiusKm))
}

// PositionAt propagates the orbit by offset.
func (c CircularOrbit) PositionAt(_ time.Time, offset time.Duration) Vec3 {
	theta := c.PhaseRad + c.AngularVelocity()*offset.Seconds()
	x := c.RadiusKm * math.Cos(theta)
	y := c.RadiusKm * math.Sin(theta)
	return Vec3{
		X: x,
		Y: y * math.Cos(c.InclinationRad),
		Z: y * math.Sin(c.InclinationRad),
	}
}

// OrbitalSGP4 uses a TLE and SGP4 to compute ECEF positions.
type OrbitalSGP4 struct {
	sat satellite.Satellite
}

// NewOrbitalSGP4 constructs an orbital provider from TLE lines.
func NewOrbitalSGP4(line1, line2 string) *OrbitalSGP4 {
	return &OrbitalSGP4{sat: satellite.TLEToSat(line1, line2, satellite.GravityWGS72)}
}

// PositionAt propagates the satellite to epoch+offset.
// go-satellite works in kilometres, which matches Vec3.
func (m *OrbitalSGP4) PositionAt(epoch time.Time, offset time.Duration) Vec3 {
	at := epoch.Add(offset).UTC()
	year, month, day := at.Date()
	hour, min, sec := at.Clock()

	posECI, _ := satellite.Propagate(m.sat, year, int(month), day, hour, min, sec)
	jd := satellite.JDay(year, int(month), day, hour, min, sec)
	gmst := satellite.ThetaG_JD(jd)
	posECEF := satellite.ECIToECEF(posECI, gmst)
	return Vec3{X: posECEF.X, Y: posECEF.Y, Z: posECEF.Z}
}

// NewPositionProvider chooses a provider from the node's orbit parameters.
func NewPositionProvider(o model.Orbit) PositionProvider {
	switch o.ResolveSource() {
	case model.MotionSourceTLE:
		return NewOrbitalSGP4(o.TLE1, o.TLE2)
	case model.MotionSourceCircular:
		return CircularOrbit{RadiusKm: o.RadiusKm, PhaseRad: o.PhaseRad, InclinationRad: o.InclinationRad}
	default:
		return StaticPosition{Pos: Vec3{X: o.Position.X, Y: o.Position.Y, Z: o.Position.Z}}
	}
}
