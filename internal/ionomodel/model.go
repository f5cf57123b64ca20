package ionomodel

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/banshee-data/hfray/internal/iono"
	"github.com/banshee-data/hfray/internal/monitoring"
	"github.com/banshee-data/hfray/internal/raytrace"
)

// Model names an analytic ionosphere.
type Model int

const (
	Chapman Model = iota
	Parabolic
	Vacuum
)

func (m Model) String() string {
	switch m {
	case Chapman:
		return "chapman"
	case Parabolic:
		return "parabolic"
	case Vacuum:
		return "vacuum"
	default:
		return fmt.Sprintf("Model(%d)", int(m))
	}
}

// ParseModel returns the model for a case-insensitive name.
func ParseModel(s string) (Model, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "chapman", "":
		return Chapman, nil
	case "parabolic":
		return Parabolic, nil
	case "vacuum":
		return Vacuum, nil
	}
	return 0, fmt.Errorf("unknown ionospheric model %q", s)
}

// DefaultDopplerInterval is the time offset of the second grid when
// Params.DopplerInterval is zero.
const DefaultDopplerInterval = 5 * time.Minute

// maxNodes bounds each grid dimension.
const maxNodes = 2000

// Params describes the grid to generate. RangeInc may be zero, in which
// case it is derived from MaxRange and NumRange. DopplerInterval may be
// zero for DefaultDopplerInterval.
type Params struct {
	Lat, Lon        float64 // origin, degrees
	R12             float64 // smoothed sunspot number
	UT              time.Time
	Bearing         float64 // degrees east of north
	MaxRange        float64 // km
	NumRange        int
	RangeInc        float64 // km
	StartHeight     float64 // km
	HeightInc       float64 // km
	NumHeights      int
	Kp              float64
	Doppler         bool
	DopplerInterval time.Duration // offset of the second grid
	Model           Model
	Options         ModelOptions
}

// Output holds the generated grids. Plasma frequency and temperature are
// indexed [height][range]; the collision profile is per height.
type Output struct {
	Grid  *iono.Grid
	Grid5 *iono.Grid // nil unless Params.Doppler

	PlasmaFrequency  [][]float64 // MHz
	PlasmaFrequency5 [][]float64
	Collision        []float64   // Hz
	Irregularities   []float64   // fractional strength per range node
	Temperature      [][]float64 // K
	Field            *iono.FieldSpec

	RangeInc        float64
	DopplerInterval time.Duration
}

func (p *Params) validate() error {
	if p.NumRange < 2 || p.NumRange >= maxNodes {
		return fmt.Errorf("num_range must be in [2, %d), got %d", maxNodes, p.NumRange)
	}
	if p.NumHeights < 2 || p.NumHeights >= maxNodes {
		return fmt.Errorf("num_heights must be in [2, %d), got %d", maxNodes, p.NumHeights)
	}
	if !(p.HeightInc > 0) {
		return fmt.Errorf("height_inc must be positive, got %g", p.HeightInc)
	}
	if p.StartHeight < 0 {
		return fmt.Errorf("start_height must be non-negative, got %g", p.StartHeight)
	}
	if p.Lat < -90 || p.Lat > 90 {
		return fmt.Errorf("lat must be within [-90, 90], got %g", p.Lat)
	}
	if p.R12 < 0 {
		return fmt.Errorf("R12 must be non-negative, got %g", p.R12)
	}
	if p.Kp < 0 || p.Kp > 9 {
		return fmt.Errorf("kp must be within [0, 9], got %g", p.Kp)
	}
	switch {
	case p.DopplerInterval < 0:
		return fmt.Errorf("doppler_interval must be positive, got %s", p.DopplerInterval)
	case p.DopplerInterval == 0:
		p.DopplerInterval = DefaultDopplerInterval
	}
	span := float64(p.NumRange - 1)
	switch {
	case p.RangeInc == 0 && p.MaxRange > 0:
		p.RangeInc = p.MaxRange / span
	case p.RangeInc <= 0:
		return fmt.Errorf("range_inc must be positive, got %g", p.RangeInc)
	case p.MaxRange > 0 && p.MaxRange > p.RangeInc*span+1e-6:
		return fmt.Errorf("max_range %g exceeds num_range*range_inc %g", p.MaxRange, p.RangeInc*span)
	}
	return p.Options.Validate(p.Model)
}

// GenerateGrid evaluates the model on the range/height lattice along the
// bearing from the origin.
func GenerateGrid(p Params) (*Output, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}

	out := &Output{RangeInc: p.RangeInc, DopplerInterval: p.DopplerInterval}
	out.PlasmaFrequency = p.plasmaFrequency(p.UT, 0)
	out.Collision = p.collisionProfile()
	out.Temperature = p.temperature()
	out.Irregularities = p.irregularities()
	if p.Options.MagneticField != nil && *p.Options.MagneticField {
		out.Field = p.dipoleField()
	}

	var err error
	out.Grid, err = p.grid(out, out.PlasmaFrequency)
	if err != nil {
		return nil, err
	}
	if p.Doppler {
		out.PlasmaFrequency5 = p.plasmaFrequency(p.UT.Add(p.DopplerInterval), p.DopplerInterval.Hours())
		out.Grid5, err = p.grid(out, out.PlasmaFrequency5)
		if err != nil {
			return nil, fmt.Errorf("doppler grid: %w", err)
		}
	}
	monitoring.Debugf("generated %s grid: %dx%d nodes, range_inc=%.1f km, doppler=%v",
		p.Model, p.NumHeights, p.NumRange, p.RangeInc, p.Doppler)
	return out, nil
}

func (p *Params) grid(out *Output, pf [][]float64) (*iono.Grid, error) {
	spec := iono.GridSpec{
		Values:           pf,
		Quantity:         iono.PlasmaFrequencyMHz,
		RangeInc:         p.RangeInc,
		StartHeight:      p.StartHeight,
		HeightInc:        p.HeightInc,
		CollisionProfile: out.Collision,
		Field:            out.Field,
	}
	if out.Irregularities != nil {
		spec.Irregularities = &iono.IrregularitySpec{
			Strength: out.Irregularities,
			ScaleKm:  orDefault(p.Options.IrregularityScaleKm, 10),
			Seed:     1,
		}
		if p.Options.IrregularitySeed != nil {
			spec.Irregularities.Seed = *p.Options.IrregularitySeed
		}
	}
	return iono.NewGrid(spec)
}

func (p *Params) height(ih int) float64 { return p.StartHeight + float64(ih)*p.HeightInc }

func (p *Params) groundRange(ir int) float64 { return float64(ir) * p.RangeInc }

// zenith returns cos(solar zenith angle) at each range node.
func (p *Params) zenith(ut time.Time) []float64 {
	geo := raytrace.NewGeometry(p.Lat, p.Lon, p.Bearing, raytrace.EarthSpherical)
	c := make([]float64, p.NumRange)
	for ir := range c {
		lat, lon := geo.Destination(p.groundRange(ir))
		c[ir] = cosSolarZenith(ut, lat, lon)
	}
	return c
}

// plasmaFrequency evaluates the model at ut. elapsed is the offset in hours
// from Params.UT and drives the foF2 rate option.
func (p *Params) plasmaFrequency(ut time.Time, elapsed float64) [][]float64 {
	pf := make([][]float64, p.NumHeights)
	for ih := range pf {
		pf[ih] = make([]float64, p.NumRange)
	}
	if p.Model == Vacuum {
		return pf
	}

	o := p.Options
	rate := orDefault(o.FoF2Rate, 0) * elapsed
	var cosChi []float64
	if p.Model == Chapman {
		cosChi = p.zenith(ut)
	}
	for ir := 0; ir < p.NumRange; ir++ {
		var prof profile
		switch p.Model {
		case Chapman:
			prof = chapmanProfile(cosChi[ir], p.R12, o)
		case Parabolic:
			prof = parabolicProfile(p.groundRange(ir), o)
		}
		prof.foF2 = math.Max(prof.foF2+rate, 0)
		for ih := 0; ih < p.NumHeights; ih++ {
			pf[ih][ir] = iono.PlasmaFrequency(prof.density(p.height(ih)))
		}
	}
	return pf
}

// collisionProfile is an exponential electron-neutral collision frequency.
func (p *Params) collisionProfile() []float64 {
	nu := make([]float64, p.NumHeights)
	if p.Model == Vacuum {
		return nu
	}
	for ih := range nu {
		nu[ih] = collisionFrequency(p.height(ih))
	}
	return nu
}

func (p *Params) temperature() [][]float64 {
	var cosChi []float64
	if p.Model == Chapman {
		cosChi = p.zenith(p.UT)
	}
	te := make([][]float64, p.NumHeights)
	for ih := range te {
		te[ih] = make([]float64, p.NumRange)
		for ir := range te[ih] {
			day := 1.0
			if cosChi != nil {
				day = math.Max(cosChi[ir], 0)
			}
			te[ih][ir] = electronTemperature(p.height(ih), day)
		}
	}
	return te
}

// irregularities returns nil when no irregularity strength applies.
func (p *Params) irregularities() []float64 {
	strength := 0.02 * p.Kp / 9
	if p.Options.IrregularityStrength != nil {
		strength = *p.Options.IrregularityStrength
	}
	if strength == 0 || p.Model == Vacuum {
		return nil
	}
	s := make([]float64, p.NumRange)
	for i := range s {
		s[i] = strength
	}
	return s
}
