package raytrace

import (
	"math"
	"strings"
)

// MeanEarthRadius is the spherical Earth radius in km.
const MeanEarthRadius = 6371.0

const (
	wgs84A = 6378.137 // km
	wgs84F = 1 / 298.257223563
)

// EarthModel selects how the Earth radius along the path is chosen.
type EarthModel int

const (
	EarthSpherical EarthModel = iota
	EarthWGS84
)

func (m EarthModel) String() string {
	if m == EarthWGS84 {
		return "wgs84"
	}
	return "spherical"
}

// ParseEarthModel accepts "spherical" or "wgs84".
func ParseEarthModel(s string) (EarthModel, bool) {
	switch strings.ToLower(s) {
	case "spherical", "sphere":
		return EarthSpherical, true
	case "wgs84":
		return EarthWGS84, true
	}
	return EarthSpherical, false
}

// Geometry fixes the origin, bearing and Earth radius of a fan.
type Geometry struct {
	OriginLat float64 // deg
	OriginLon float64 // deg
	Bearing   float64 // deg from north
	Radius    float64 // km
}

// NewGeometry returns the geometry for a fan. With EarthWGS84 the radius is
// the ellipsoid's radius of curvature at the origin in the bearing
// direction.
func NewGeometry(lat, lon, bearing float64, model EarthModel) Geometry {
	g := Geometry{OriginLat: lat, OriginLon: lon, Bearing: bearing, Radius: MeanEarthRadius}
	if model == EarthWGS84 {
		g.Radius = localRadius(lat, bearing)
	}
	return g
}

// localRadius is Euler's radius of curvature along an azimuth.
func localRadius(latDeg, bearingDeg float64) float64 {
	e2 := wgs84F * (2 - wgs84F)
	sl := math.Sin(latDeg * math.Pi / 180)
	w := 1 - e2*sl*sl
	meridian := wgs84A * (1 - e2) / (w * math.Sqrt(w))
	normal := wgs84A / math.Sqrt(w)
	cb := math.Cos(bearingDeg * math.Pi / 180)
	sb := math.Sin(bearingDeg * math.Pi / 180)
	return 1 / (cb*cb/meridian + sb*sb/normal)
}

// Destination returns the point groundRange km from the origin along the
// bearing on a sphere of the geometry's radius.
func (g Geometry) Destination(groundRange float64) (lat, lon float64) {
	const rad = math.Pi / 180
	d := groundRange / g.Radius
	phi1 := g.OriginLat * rad
	lam1 := g.OriginLon * rad
	b := g.Bearing * rad

	sinPhi2 := math.Sin(phi1)*math.Cos(d) + math.Cos(phi1)*math.Sin(d)*math.Cos(b)
	phi2 := math.Asin(math.Max(-1, math.Min(1, sinPhi2)))
	lam2 := lam1 + math.Atan2(math.Sin(b)*math.Sin(d)*math.Cos(phi1), math.Cos(d)-math.Sin(phi1)*sinPhi2)

	lon = math.Mod(lam2/rad+540, 360) - 180
	return phi2 / rad, lon
}

// VirtualHeight is the height of the equivalent mirror reflector for a hop
// of the given group range launched at elevationDeg.
func VirtualHeight(radius, groupRange, elevationDeg float64) float64 {
	half := groupRange / 2
	s := math.Sin(elevationDeg * math.Pi / 180)
	return math.Sqrt(radius*radius+half*half+2*radius*half*s) - radius
}
