// Package geo implements the great-circle math used to gate and guide
// location-bound interactions. Everything here is pure and safe for
// concurrent use.
package geo

import "math"

// EarthRadiusMeters is the mean Earth radius used by the haversine formula.
const EarthRadiusMeters = 6371000.0

// Coordinate is a WGS-84 position in degrees.
type Coordinate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// DistanceMeters returns the haversine great-circle distance between a and b.
func DistanceMeters(a, b Coordinate) float64 {
	phi1 := radians(a.Latitude)
	phi2 := radians(b.Latitude)
	dPhi := radians(b.Latitude - a.Latitude)
	dLambda := radians(b.Longitude - a.Longitude)

	h := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*math.Sin(dLambda/2)*math.Sin(dLambda/2)
	// Rounding can push h a hair above 1 for antipodal points.
	h = math.Min(1, math.Max(0, h))
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return EarthRadiusMeters * c
}

// BearingDegrees returns the initial bearing from one point to another in
// [0, 360). Identical points yield 0.
func BearingDegrees(from, to Coordinate) float64 {
	if from == to {
		return 0
	}
	phi1 := radians(from.Latitude)
	phi2 := radians(to.Latitude)
	dLambda := radians(to.Longitude - from.Longitude)

	y := math.Sin(dLambda) * math.Cos(phi2)
	x := math.Cos(phi1)*math.Sin(phi2) - math.Sin(phi1)*math.Cos(phi2)*math.Cos(dLambda)

	return normalize(degrees(math.Atan2(y, x)))
}

// Within reports whether b lies no farther than radius meters from a.
func Within(a, b Coordinate, radius float64) bool {
	return DistanceMeters(a, b) <= radius
}

// HeadingFromField converts the horizontal components of a magnetometer
// reading into a compass heading in [0, 360).
func HeadingFromField(x, y float64) float64 {
	return normalize(degrees(math.Atan2(y, x)))
}

// RelativeBearing is the rotation a direction arrow needs when the device
// faces heading and the target lies at bearing.
func RelativeBearing(bearing, heading float64) float64 {
	return normalize(bearing - heading)
}

func normalize(deg float64) float64 {
	deg = math.Mod(deg, 360)
	if deg < 0 {
		deg += 360
	}
	// -0 and values that round up to 360 both collapse to 0.
	if deg >= 360 || deg == 0 {
		return 0
	}
	return deg
}

func radians(deg float64) float64 { return deg * math.Pi / 180 }

func degrees(rad float64) float64 { return rad * 180 / math.Pi }
