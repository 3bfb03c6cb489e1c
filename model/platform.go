package model

// PlatformKind classifies the physical asset a node runs on.
type PlatformKind string

const (
	PlatformSatellite     PlatformKind = "satellite"
	PlatformRelay         PlatformKind = "relay"
	PlatformGroundStation PlatformKind = "ground_station"
)

// MotionSource indicates how a platform's position is determined.
type MotionSource int

const (
	MotionSourceStatic   MotionSource = iota
	MotionSourceCircular              // circular orbit from radius and phase
	MotionSourceTLE                   // SGP4 propagation from a two-line element set
)

// Motion represents a position in ECEF kilometres.
type Motion struct {
	X float64 `yaml:"x" json:"x"`
	Y float64 `yaml:"y" json:"y"`
	Z float64 `yaml:"z" json:"z"`
}

// Orbit carries the position parameters the contact model needs. The core
// engine treats it as opaque.
type Orbit struct {
	// Static position, used for ground stations and fixed relays.
	Position Motion `yaml:"position" json:"position"`

	// Circular orbit in the equatorial plane.
	RadiusKm       float64 `yaml:"radius_km" json:"radius_km"`
	PhaseRad       float64 `yaml:"phase_rad" json:"phase_rad"`
	InclinationRad float64 `yaml:"inclination_rad" json:"inclination_rad"`

	// TLE lines for SGP4 propagation.
	TLE1 string `yaml:"tle1" json:"tle1"`
	TLE2 string `yaml:"tle2" json:"tle2"`

	// CommRangeKm bounds the distance at which this node can hold a contact.
	CommRangeKm float64 `yaml:"comm_range_km" json:"comm_range_km"`
}

// ResolveSource picks the motion source implied by the populated fields.
func (o Orbit) ResolveSource() MotionSource {
	switch {
	case o.TLE1 != "" && o.TLE2 != "":
		return MotionSourceTLE
	case o.RadiusKm > 0:
		return MotionSourceCircular
	default:
		return MotionSourceStatic
	}
}
