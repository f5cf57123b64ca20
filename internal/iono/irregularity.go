package iono

import (
	"fmt"
	"math"
)

// irregularity perturbs density with smooth deterministic lattice noise so
// two traces with the same seed are bit-identical.
type irregularity struct {
	strength []float64
	scale    float64
	seed     uint64
}

func newIrregularity(spec IrregularitySpec, numRange int) (*irregularity, error) {
	if len(spec.Strength) != numRange {
		return nil, fmt.Errorf("irregularity strength has %d ranges, grid has %d", len(spec.Strength), numRange)
	}
	for i, s := range spec.Strength {
		if s < 0 || s > 1 || math.IsNaN(s) {
			return nil, fmt.Errorf("irregularity strength at range %d must be in [0, 1], got %v", i, s)
		}
	}
	scale := spec.ScaleKm
	if scale == 0 {
		scale = 10
	}
	if scale < 0 {
		return nil, fmt.Errorf("irregularity scale must be positive, got %v", spec.ScaleKm)
	}
	return &irregularity{
		strength: append([]float64(nil), spec.Strength...),
		scale:    scale,
		seed:     spec.Seed,
	}, nil
}

// splitmix64 finaliser.
func mix(x uint64) uint64 {
	x += 0x9e3779b97f4a7c15
	x = (x ^ (x >> 30)) * 0xbf58476d1ce4e5b9
	x = (x ^ (x >> 27)) * 0x94d049bb133111eb
	return x ^ (x >> 31)
}

// corner returns a lattice value in [-1, 1].
func (irr *irregularity) corner(ix, iy int64) float64 {
	h := mix(irr.seed ^ mix(uint64(ix)*0x632be59bd9b4e019^uint64(iy)*0x8cb92ba72f3d8dd7))
	return float64(h>>11)/float64(1<<52) - 1
}

// noise returns η and its derivatives per km.
func (irr *irregularity) noise(rangeKm, heightKm float64) (eta, dr, dh float64) {
	x := rangeKm / irr.scale
	y := heightKm / irr.scale
	fx0, fy0 := math.Floor(x), math.Floor(y)
	ix, iy := int64(fx0), int64(fy0)
	fx, fy := x-fx0, y-fy0

	c00 := irr.corner(ix, iy)
	c10 := irr.corner(ix+1, iy)
	c01 := irr.corner(ix, iy+1)
	c11 := irr.corner(ix+1, iy+1)

	sx := fx * fx * (3 - 2*fx)
	sy := fy * fy * (3 - 2*fy)
	dsx := 6 * fx * (1 - fx)
	dsy := 6 * fy * (1 - fy)
	cross := c00 - c10 - c01 + c11

	eta = c00 + (c10-c00)*sx + (c01-c00)*sy + cross*sx*sy
	dr = dsx * ((c10 - c00) + cross*sy) / irr.scale
	dh = dsy * ((c01 - c00) + cross*sx) / irr.scale
	return eta, dr, dh
}

func (irr *irregularity) strengthAt(rangeKm, startRange, rangeInc float64) (s, ds float64) {
	n := len(irr.strength)
	f := (rangeKm - startRange) / rangeInc
	i := int(math.Floor(f))
	if i < 0 {
		i = 0
	}
	if i > n-2 {
		i = n - 2
	}
	t := f - float64(i)
	s = irr.strength[i] + t*(irr.strength[i+1]-irr.strength[i])
	ds = (irr.strength[i+1] - irr.strength[i]) / rangeInc
	return s, ds
}

func (irr *irregularity) apply(s *Sample, rangeKm, heightKm, startRange, rangeInc float64) {
	str, dstr := irr.strengthAt(rangeKm, startRange, rangeInc)
	if str == 0 && dstr == 0 {
		return
	}
	eta, etaR, etaH := irr.noise(rangeKm, heightKm)
	factor := 1 + str*eta
	if factor <= 0 {
		s.Density, s.DDensityDRange, s.DDensityDHeight = 0, 0, 0
		return
	}
	n := s.Density
	s.DDensityDRange = s.DDensityDRange*factor + n*(dstr*eta+str*etaR)
	s.DDensityDHeight = s.DDensityDHeight*factor + n*str*etaH
	s.Density = n * factor
}
