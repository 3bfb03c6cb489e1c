package core

import "math"

// EarthRadiusKm is the mean Earth radius used for all simple
// geometry calculations in the contact layer (kilometres).
const EarthRadiusKm = 6371.0

// groundShellKm is how far above the surface a node may sit and still be
// treated as a ground terminal for elevation purposes.
const groundShellKm = 100.0

// Vec3 is an ECEF-style vector in kilometres.
type Vec3 struct {
	X, Y, Z float64
}

// DistanceTo returns the straight-line distance between two points.
func (v Vec3) DistanceTo(other Vec3) float64 {
	dx := v.X - other.X
	dy := v.Y - other.Y
	dz := v.Z - other.Z
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

// Norm returns the Euclidean norm of the vector.
func (v Vec3) Norm() float64 {
	return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z)
}

// Sub returns v - other.
func (v Vec3) Sub(other Vec3) Vec3 {
	return Vec3{X: v.X - other.X, Y: v.Y - other.Y, Z: v.Z - other.Z}
}

// Dot returns the dot product of two vectors.
func (v Vec3) Dot(other Vec3) float64 {
	return v.X*other.X + v.Y*other.Y + v.Z*other.Z
}

// LineOfSight checks whether the straight segment between p1 and p2
// clears the Earth sphere.
//
// All positions are ECEF in kilometres.
func LineOfSight(p1, p2 Vec3) bool {
	v := p2.Sub(p1)
	a := v.Dot(v)
	if a == 0 {
		// Same point: visible only if it lies outside the Earth.
		return p1.Dot(p1) > EarthRadiusKm*EarthRadiusKm
	}

	// Closest point on the segment to the Earth's centre (origin).
	t := -p1.Dot(v) / a
	if t < 0 {
		t = 0
	} else if t > 1 {
		t = 1
	}

	closest := Vec3{
		X: p1.X + v.X*t,
		Y: p1.Y + v.Y*t,
		Z: p1.Z + v.Z*t,
	}
	return closest.Dot(closest) > EarthRadiusKm*EarthRadiusKm
}

// ElevationDegrees returns the elevation angle of the target as seen from
// the observer, in degrees. 0° = geometric horizon, 90° = overhead.
func ElevationDegrees(observer, target Vec3) float64 {
	v := target.Sub(observer)
	vNorm := v.Norm()
	if vNorm == 0 {
		return 90
	}

	r := observer.Norm()
	if r == 0 {
		return 90
	}
	zenith := Vec3{
		X: observer.X / r,
		Y: observer.Y / r,
		Z: observer.Z / r,
	}

	cosGamma := v.Dot(zenith) / vNorm
	if cosGamma > 1 {
		cosGamma = 1
	} else if cosGamma < -1 {
		cosGamma = -1
	}
	gammaDeg := math.Acos(cosGamma) * 180.0 / math.Pi
	return 90.0 - gammaDeg
}

// Visible reports whether two nodes can hold a contact: within maxRangeKm
// (ignored when <= 0), with a clear line of sight, and, when exactly one of
// them is a ground terminal, above minElevationDeg as seen from the ground.
func Visible(posA, posB Vec3, maxRangeKm, minElevationDeg float64) bool {
	if maxRangeKm > 0 && posA.DistanceTo(posB) > maxRangeKm {
		return false
	}
	groundA := posA.Norm() <= EarthRadiusKm+groundShellKm
	groundB := posB.Norm() <= EarthRadiusKm+groundShellKm
	switch {
	case groundA && groundB:
		// Terrestrial links are not modelled by the contact layer.
		return false
	case groundA:
		return ElevationDegrees(posA, posB) >= minElevationDeg
	case groundB:
		return ElevationDegrees(posB, posA) >= minElevationDeg
	default:
		return LineOfSight(posA, posB)
	}
}
