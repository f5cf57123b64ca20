package ionomodel

import (
	"math"

	"github.com/banshee-data/hfray/internal/iono"
	"github.com/banshee-data/hfray/internal/raytrace"
)

// Centred dipole approximation of the geomagnetic field.
const (
	dipolePoleLat = 80.65
	dipolePoleLon = -72.68
	dipoleB0      = 31000.0 // nT, equatorial surface field
)

// dipoleField evaluates the dipole at every node, resolved into the path's
// local up, along and cross directions.
func (p *Params) dipoleField() *iono.FieldSpec {
	geo := raytrace.NewGeometry(p.Lat, p.Lon, p.Bearing, raytrace.EarthSpherical)
	f := &iono.FieldSpec{
		Up:    make([][]float64, p.NumHeights),
		Along: make([][]float64, p.NumHeights),
		Cross: make([][]float64, p.NumHeights),
	}
	for ih := range f.Up {
		f.Up[ih] = make([]float64, p.NumRange)
		f.Along[ih] = make([]float64, p.NumRange)
		f.Cross[ih] = make([]float64, p.NumRange)
	}

	for ir := 0; ir < p.NumRange; ir++ {
		d := p.groundRange(ir)
		lat, lon := geo.Destination(d)
		nextLat, nextLon := geo.Destination(d + 1)
		heading := azimuth(lat, lon, nextLat, nextLon)
		alpha := (azimuth(lat, lon, dipolePoleLat, dipolePoleLon) - heading) * rad

		sinLm := math.Sin(lat*rad)*math.Sin(dipolePoleLat*rad) +
			math.Cos(lat*rad)*math.Cos(dipolePoleLat*rad)*math.Cos((lon-dipolePoleLon)*rad)
		cosLm := math.Sqrt(math.Max(0, 1-sinLm*sinLm))

		for ih := 0; ih < p.NumHeights; ih++ {
			scale := math.Pow(geo.Radius/(geo.Radius+p.height(ih)), 3)
			horizontal := dipoleB0 * cosLm * scale
			f.Up[ih][ir] = -2 * dipoleB0 * sinLm * scale
			f.Along[ih][ir] = horizontal * math.Cos(alpha)
			f.Cross[ih][ir] = -horizontal * math.Sin(alpha)
		}
	}
	return f
}

// azimuth is the initial great-circle bearing from one point to another,
// in degrees clockwise from north.
func azimuth(lat1, lon1, lat2, lon2 float64) float64 {
	phi1, phi2 := lat1*rad, lat2*rad
	dl := (lon2 - lon1) * rad
	y := math.Sin(dl) * math.Cos(phi2)
	x := math.Cos(phi1)*math.Sin(phi2) - math.Sin(phi1)*math.Cos(phi2)*math.Cos(dl)
	return math.Mod(math.Atan2(y, x)/rad+360, 360)
}
