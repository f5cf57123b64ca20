package ionomodel

import (
	"math"
	"time"

	"github.com/banshee-data/hfray/internal/iono"
)

const rad = math.Pi / 180

// profile is a vertical electron density model at one range node.
type profile struct {
	chapman bool

	foF2, hmF2, ymF2 float64
	foE, hmE, hE     float64
	nD               float64 // D region peak density, electrons/cm³
}

// Vertical structure of the E and D regions.
const (
	defaultHmE = 110.0
	scaleHE    = 10.0
	hmD        = 85.0
	scaleHD    = 6.0
)

// chapmanProfile is an E plus F2 Chapman-alpha ionosphere driven by solar
// zenith angle and sunspot number.
func chapmanProfile(cosChi, r12 float64, o ModelOptions) profile {
	c := math.Max(cosChi, 0)
	foE := 0.4
	if c > 0 {
		foE = math.Max(0.9*math.Pow((180+1.44*r12)*c, 0.25), foE)
	}
	return profile{
		chapman: true,
		foF2:    orDefault(o.FoF2, (5+0.05*r12)*(0.55+0.45*math.Sqrt(c))),
		hmF2:    orDefault(o.HmF2, 280+0.3*r12+40*(1-c)),
		ymF2:    orDefault(o.YmF2, 50),
		foE:     orDefault(o.FoE, foE),
		hmE:     orDefault(o.HmE, defaultHmE),
		hE:      scaleHE,
		nD:      1e3 * c,
	}
}

// parabolicProfile is a single parabolic layer whose critical frequency
// varies linearly with range.
func parabolicProfile(groundRange float64, o ModelOptions) profile {
	fo := orDefault(o.FoF2, 10) * (1 + orDefault(o.RangeGradient, 0)*groundRange/1000)
	return profile{
		foF2: math.Max(fo, 0),
		hmF2: orDefault(o.HmF2, 300),
		ymF2: orDefault(o.YmF2, 100),
	}
}

// density returns electron density in electrons/cm³ at height h km.
func (p profile) density(h float64) float64 {
	nmF2 := iono.DensityFromPlasmaFrequency(p.foF2)
	if !p.chapman {
		y := (h - p.hmF2) / p.ymF2
		if math.Abs(y) >= 1 {
			return 0
		}
		return nmF2 * (1 - y*y)
	}
	return chapmanLayer(nmF2, p.hmF2, p.ymF2, h) +
		chapmanLayer(iono.DensityFromPlasmaFrequency(p.foE), p.hmE, p.hE, h) +
		chapmanLayer(p.nD, hmD, scaleHD, h)
}

func chapmanLayer(nm, hm, scale, h float64) float64 {
	if nm <= 0 {
		return 0
	}
	z := (h - hm) / scale
	if z < -20 {
		return 0
	}
	return nm * math.Exp(0.5*(1-z-math.Exp(-z)))
}

// cosSolarZenith uses a low-precision solar declination and hour angle.
func cosSolarZenith(ut time.Time, latDeg, lonDeg float64) float64 {
	ut = ut.UTC()
	decl := -23.44 * rad * math.Cos(2*math.Pi*float64(ut.YearDay()+10)/365)
	hours := float64(ut.Hour()) + float64(ut.Minute())/60 + float64(ut.Second())/3600
	hourAngle := (hours + lonDeg/15 - 12) * 15 * rad
	lat := latDeg * rad
	return math.Sin(lat)*math.Sin(decl) + math.Cos(lat)*math.Cos(decl)*math.Cos(hourAngle)
}

// collisionFrequency is the electron-neutral collision frequency in Hz.
func collisionFrequency(h float64) float64 {
	return 1.816e11 * math.Exp(-0.15*h)
}

// electronTemperature in K; day is the clamped cosine of the solar zenith.
func electronTemperature(h, day float64) float64 {
	const neutral = 200.0
	if h <= 100 {
		return neutral
	}
	return neutral + (800+1200*day)*(1-math.Exp(-(h-100)/60))
}
