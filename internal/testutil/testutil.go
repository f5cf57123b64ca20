// Package testutil provides shared test utilities and fixtures.
//
// This package centralises the ionosphere grids used across the tracing
// tests so every package traces against the same media.
package testutil

import (
	"math"
	"testing"

	"github.com/banshee-data/hfray/internal/iono"
)

// AssertNoError fails the test if err is not nil.
func AssertNoError(t testing.TB, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// AssertError fails the test if err is nil.
func AssertError(t testing.TB, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

// Layer is a range-independent parabolic electron density layer.
type Layer struct {
	CriticalFreq float64 // MHz
	PeakHeight   float64 // km
	HalfWidth    float64 // km
}

// Density returns the layer density (cm⁻³) at heightKm.
func (l Layer) Density(heightKm float64) float64 {
	z := (heightKm - l.PeakHeight) / l.HalfWidth
	if math.Abs(z) >= 1 {
		return 0
	}
	return iono.DensityFromPlasmaFrequency(l.CriticalFreq) * (1 - z*z)
}

// ReflectionHeight is the height at which a vertically incident wave of
// freqMHz reflects.
func (l Layer) ReflectionHeight(freqMHz float64) float64 {
	r := freqMHz / l.CriticalFreq
	return l.PeakHeight - l.HalfWidth*math.Sqrt(1-r*r)
}

// GridOptions sizes a fixture grid.
type GridOptions struct {
	MaxRange  float64 // km, default 3000
	RangeInc  float64 // km, default 50
	Top       float64 // km, default 400
	HeightInc float64 // km, default 1
	Field     [3]float64
	HasField  bool
}

func (o GridOptions) withDefaults() GridOptions {
	if o.MaxRange == 0 {
		o.MaxRange = 3000
	}
	if o.RangeInc == 0 {
		o.RangeInc = 50
	}
	if o.Top == 0 {
		o.Top = 400
	}
	if o.HeightInc == 0 {
		o.HeightInc = 1
	}
	return o
}

// LayerSpec returns the grid spec for layers (summed) on the given grid.
func LayerSpec(o GridOptions, layers ...Layer) iono.GridSpec {
	o = o.withDefaults()
	nr := int(math.Round(o.MaxRange/o.RangeInc)) + 1
	nh := int(math.Round(o.Top/o.HeightInc)) + 1
	vals := make([][]float64, nh)
	for h := range vals {
		vals[h] = make([]float64, nr)
		var n float64
		for _, l := range layers {
			n += l.Density(float64(h) * o.HeightInc)
		}
		for r := range vals[h] {
			vals[h][r] = n
		}
	}
	spec := iono.GridSpec{Values: vals, RangeInc: o.RangeInc, HeightInc: o.HeightInc}
	if o.HasField {
		spec.Field = &iono.FieldSpec{
			Up:    constant(nh, nr, o.Field[0]),
			Along: constant(nh, nr, o.Field[1]),
			Cross: constant(nh, nr, o.Field[2]),
		}
	}
	return spec
}

// LayerGrid builds a grid holding the given layers. No layers gives vacuum.
func LayerGrid(t testing.TB, o GridOptions, layers ...Layer) *iono.Grid {
	t.Helper()
	g, err := iono.NewGrid(LayerSpec(o, layers...))
	AssertNoError(t, err)
	return g
}

// VacuumGrid is a zero-density grid 0..maxRange km by 0..600 km on a
// 50 km × 10 km lattice.
func VacuumGrid(t testing.TB, maxRange float64) *iono.Grid {
	t.Helper()
	return LayerGrid(t, GridOptions{MaxRange: maxRange, Top: 600, HeightInc: 10})
}

func constant(nh, nr int, v float64) [][]float64 {
	out := make([][]float64, nh)
	for h := range out {
		out[h] = make([]float64, nr)
		for r := range out[h] {
			out[h][r] = v
		}
	}
	return out
}
