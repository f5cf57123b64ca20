package iono

import (
	"errors"
	"fmt"
	"math"
)

// PlasmaFrequencyConstant relates plasma frequency (MHz) to electron density
// (electrons/cm³): fp² = PlasmaFrequencyConstant · Ne.
const PlasmaFrequencyConstant = 80.6164e-6

// DensityFromPlasmaFrequency converts a plasma frequency in MHz to electron
// density in electrons/cm³.
func DensityFromPlasmaFrequency(fpMHz float64) float64 {
	return fpMHz * fpMHz / PlasmaFrequencyConstant
}

// PlasmaFrequency converts electron density (electrons/cm³) to plasma
// frequency in MHz.
func PlasmaFrequency(density float64) float64 {
	if density <= 0 {
		return 0
	}
	return math.Sqrt(PlasmaFrequencyConstant * density)
}

// Quantity identifies what the primary grid array holds.
type Quantity int

const (
	// ElectronDensity grids hold electrons/cm³.
	ElectronDensity Quantity = iota
	// PlasmaFrequencyMHz grids hold plasma frequency in MHz and are converted
	// to density on construction.
	PlasmaFrequencyMHz
)

// DomainKind classifies a query point against the grid domain.
type DomainKind int

const (
	Inside DomainKind = iota
	AboveTop
	BelowGround
	BeyondRange
)

func (k DomainKind) String() string {
	switch k {
	case Inside:
		return "inside"
	case AboveTop:
		return "above_top"
	case BelowGround:
		return "below_ground"
	case BeyondRange:
		return "beyond_range"
	default:
		return fmt.Sprintf("DomainKind(%d)", int(k))
	}
}

// ErrOutOfDomain is the sentinel wrapped by every *DomainError.
var ErrOutOfDomain = errors.New("iono: query outside grid domain")

// DomainError reports a query outside the grid.
type DomainError struct {
	Kind   DomainKind
	Range  float64
	Height float64
}

func (e *DomainError) Error() string {
	return fmt.Sprintf("iono: point (range=%.3f km, height=%.3f km) is %s", e.Range, e.Height, e.Kind)
}

func (e *DomainError) Unwrap() error { return ErrOutOfDomain }

// FieldSpec holds the geomagnetic field components in nT, indexed
// [height][range]. Up is radial, Along points down-range along the bearing,
// Cross completes the right-handed set.
type FieldSpec struct {
	Up    [][]float64
	Along [][]float64
	Cross [][]float64
}

// IrregularitySpec describes a field-aligned irregularity perturbation.
// Strength is the fractional density fluctuation per range node; ScaleKm is
// the lattice spacing of the deterministic noise and Seed selects it.
type IrregularitySpec struct {
	Strength []float64
	ScaleKm  float64
	Seed     uint64
}

// GridSpec is the externally supplied description of a grid.
type GridSpec struct {
	Values      [][]float64 // [height][range]
	Quantity    Quantity
	StartRange  float64 // km
	RangeInc    float64 // km
	StartHeight float64 // km
	HeightInc   float64 // km

	// Collision frequency in Hz, either a full [height][range] array or a
	// per-height profile. Both nil means collisionless.
	Collision        [][]float64
	CollisionProfile []float64

	Field          *FieldSpec
	Irregularities *IrregularitySpec
}

// Sample is the interpolated plasma state at a point. Gradients are per km.
type Sample struct {
	Density         float64
	DDensityDRange  float64
	DDensityDHeight float64

	Collision         float64
	DCollisionDRange  float64
	DCollisionDHeight float64

	HasField      bool
	Field         [3]float64 // nT, (up, along, cross)
	DFieldDRange  [3]float64
	DFieldDHeight [3]float64
}

// layer is one node array plus its node-centred gradients.
type layer struct {
	v, dr, dh []float64
}

// Grid is an immutable ionosphere grid.
type Grid struct {
	numRange    int
	numHeight   int
	startRange  float64
	rangeInc    float64
	startHeight float64
	heightInc   float64

	density   layer
	collision *layer
	field     *[3]layer
	irreg     *irregularity
}

// NewGrid validates spec and builds a Grid. Input slices are copied.
func NewGrid(spec GridSpec) (*Grid, error) {
	numHeight := len(spec.Values)
	if numHeight < 2 {
		return nil, fmt.Errorf("grid needs at least 2 heights, got %d", numHeight)
	}
	numRange := len(spec.Values[0])
	if numRange < 2 {
		return nil, fmt.Errorf("grid needs at least 2 ranges, got %d", numRange)
	}
	if !(spec.RangeInc > 0) || math.IsInf(spec.RangeInc, 0) {
		return nil, fmt.Errorf("range increment must be positive, got %v", spec.RangeInc)
	}
	if !(spec.HeightInc > 0) || math.IsInf(spec.HeightInc, 0) {
		return nil, fmt.Errorf("height increment must be positive, got %v", spec.HeightInc)
	}
	if spec.StartRange < 0 || spec.StartHeight < 0 {
		return nil, fmt.Errorf("grid origin must be non-negative, got range=%v height=%v", spec.StartRange, spec.StartHeight)
	}

	g := &Grid{
		numRange:    numRange,
		numHeight:   numHeight,
		startRange:  spec.StartRange,
		rangeInc:    spec.RangeInc,
		startHeight: spec.StartHeight,
		heightInc:   spec.HeightInc,
	}

	dens, err := g.flatten("density", spec.Values)
	if err != nil {
		return nil, err
	}
	for i, v := range dens {
		if spec.Quantity == PlasmaFrequencyMHz {
			v = DensityFromPlasmaFrequency(v)
			dens[i] = v
		}
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("density at node %d is invalid: %v", i, v)
		}
	}
	g.density = g.newLayer(dens)

	switch {
	case spec.Collision != nil:
		col, err := g.flatten("collision", spec.Collision)
		if err != nil {
			return nil, err
		}
		l := g.newLayer(col)
		g.collision = &l
	case spec.CollisionProfile != nil:
		if len(spec.CollisionProfile) != numHeight {
			return nil, fmt.Errorf("collision profile has %d heights, grid has %d", len(spec.CollisionProfile), numHeight)
		}
		col := make([]float64, numHeight*numRange)
		for h, v := range spec.CollisionProfile {
			for r := 0; r < numRange; r++ {
				col[h*numRange+r] = v
			}
		}
		l := g.newLayer(col)
		g.collision = &l
	}

	if spec.Field != nil {
		var f [3]layer
		for i, comp := range [][][]float64{spec.Field.Up, spec.Field.Along, spec.Field.Cross} {
			flat, err := g.flatten(fmt.Sprintf("field[%d]", i), comp)
			if err != nil {
				return nil, err
			}
			f[i] = g.newLayer(flat)
		}
		g.field = &f
	}

	if spec.Irregularities != nil {
		irr, err := newIrregularity(*spec.Irregularities, numRange)
		if err != nil {
			return nil, err
		}
		g.irreg = irr
	}

	return g, nil
}

func (g *Grid) flatten(name string, rows [][]float64) ([]float64, error) {
	if len(rows) != g.numHeight {
		return nil, fmt.Errorf("%s grid has %d heights, want %d", name, len(rows), g.numHeight)
	}
	out := make([]float64, 0, g.numHeight*g.numRange)
	for h, row := range rows {
		if len(row) != g.numRange {
			return nil, fmt.Errorf("%s grid row %d has %d ranges, want %d", name, h, len(row), g.numRange)
		}
		out = append(out, row...)
	}
	return out, nil
}

// newLayer precomputes node-centred gradients (one-sided at the edges) so
// interpolated gradients are continuous across cell boundaries.
func (g *Grid) newLayer(v []float64) layer {
	nr, nh := g.numRange, g.numHeight
	l := layer{v: v, dr: make([]float64, len(v)), dh: make([]float64, len(v))}
	for h := 0; h < nh; h++ {
		for r := 0; r < nr; r++ {
			i := h*nr + r
			switch {
			case r == 0:
				l.dr[i] = (v[i+1] - v[i]) / g.rangeInc
			case r == nr-1:
				l.dr[i] = (v[i] - v[i-1]) / g.rangeInc
			default:
				l.dr[i] = (v[i+1] - v[i-1]) / (2 * g.rangeInc)
			}
			switch {
			case h == 0:
				l.dh[i] = (v[i+nr] - v[i]) / g.heightInc
			case h == nh-1:
				l.dh[i] = (v[i] - v[i-nr]) / g.heightInc
			default:
				l.dh[i] = (v[i+nr] - v[i-nr]) / (2 * g.heightInc)
			}
		}
	}
	return l
}

// NumRange returns the number of range nodes.
func (g *Grid) NumRange() int { return g.numRange }

// NumHeight returns the number of height nodes.
func (g *Grid) NumHeight() int { return g.numHeight }

// StartRange returns the ground range of the first range node in km.
func (g *Grid) StartRange() float64 { return g.startRange }

// StartHeight returns the height of the first height node in km.
func (g *Grid) StartHeight() float64 { return g.startHeight }

// RangeInc returns the range cell size in km.
func (g *Grid) RangeInc() float64 { return g.rangeInc }

// HeightInc returns the height cell size in km.
func (g *Grid) HeightInc() float64 { return g.heightInc }

// MaxRange returns the ground range of the last range node in km.
func (g *Grid) MaxRange() float64 {
	return g.startRange + float64(g.numRange-1)*g.rangeInc
}

// Top returns the height of the last height node in km.
func (g *Grid) Top() float64 {
	return g.startHeight + float64(g.numHeight-1)*g.heightInc
}

// Bounds returns the range and height extent of the node lattice in km.
func (g *Grid) Bounds() (minRange, maxRange, minHeight, maxHeight float64) {
	return g.startRange, g.MaxRange(), g.startHeight, g.Top()
}

// HasField reports whether a geomagnetic field was supplied.
func (g *Grid) HasField() bool { return g.field != nil }

// HasIrregularities reports whether an irregularity profile was supplied.
func (g *Grid) HasIrregularities() bool { return g.irreg != nil }

// Classify places a point relative to the grid domain. Range misses take
// precedence because they cannot be treated as free space by callers.
func (g *Grid) Classify(rangeKm, heightKm float64) DomainKind {
	switch {
	case rangeKm < g.startRange || rangeKm > g.MaxRange() || math.IsNaN(rangeKm):
		return BeyondRange
	case heightKm > g.Top():
		return AboveTop
	case heightKm < g.startHeight || math.IsNaN(heightKm):
		return BelowGround
	}
	return Inside
}

// InDomain reports whether the point lies inside the grid.
func (g *Grid) InDomain(rangeKm, heightKm float64) bool {
	return g.Classify(rangeKm, heightKm) == Inside
}

// cell locates the lower-left node of the cell containing the point and the
// fractional offsets within it.
func (g *Grid) cell(rangeKm, heightKm float64) (ir, ih int, tr, th float64) {
	fr := (rangeKm - g.startRange) / g.rangeInc
	fh := (heightKm - g.startHeight) / g.heightInc
	ir = int(math.Floor(fr))
	ih = int(math.Floor(fh))
	if ir > g.numRange-2 {
		ir = g.numRange - 2
	}
	if ih > g.numHeight-2 {
		ih = g.numHeight - 2
	}
	if ir < 0 {
		ir = 0
	}
	if ih < 0 {
		ih = 0
	}
	return ir, ih, fr - float64(ir), fh - float64(ih)
}

func (g *Grid) bilinear(v []float64, ir, ih int, tr, th float64) float64 {
	i := ih*g.numRange + ir
	v00, v10 := v[i], v[i+1]
	v01, v11 := v[i+g.numRange], v[i+g.numRange+1]
	return (1-tr)*(1-th)*v00 + tr*(1-th)*v10 + (1-tr)*th*v01 + tr*th*v11
}

func (g *Grid) interp(l *layer, ir, ih int, tr, th float64) (v, dr, dh float64) {
	return g.bilinear(l.v, ir, ih, tr, th), g.bilinear(l.dr, ir, ih, tr, th), g.bilinear(l.dh, ir, ih, tr, th)
}

// Query returns the interpolated plasma state at the point. Points outside
// the grid return a *DomainError and a zero Sample.
func (g *Grid) Query(rangeKm, heightKm float64) (Sample, error) {
	if kind := g.Classify(rangeKm, heightKm); kind != Inside {
		return Sample{}, &DomainError{Kind: kind, Range: rangeKm, Height: heightKm}
	}
	ir, ih, tr, th := g.cell(rangeKm, heightKm)

	var s Sample
	s.Density, s.DDensityDRange, s.DDensityDHeight = g.interp(&g.density, ir, ih, tr, th)
	if s.Density < 0 {
		s.Density = 0
	}
	if g.collision != nil {
		s.Collision, s.DCollisionDRange, s.DCollisionDHeight = g.interp(g.collision, ir, ih, tr, th)
	}
	if g.field != nil {
		s.HasField = true
		for c := 0; c < 3; c++ {
			s.Field[c], s.DFieldDRange[c], s.DFieldDHeight[c] = g.interp(&g.field[c], ir, ih, tr, th)
		}
	}
	return s, nil
}

// Perturb applies the irregularity perturbation to a sample taken at the
// same point. It is a no-op on grids without irregularities.
func (g *Grid) Perturb(s *Sample, rangeKm, heightKm float64) {
	if g.irreg == nil {
		return
	}
	g.irreg.apply(s, rangeKm, heightKm, g.startRange, g.rangeInc)
}

// SubGrid returns plasma frequency (MHz) for the nodes whose
// range lies in [r0, r1] and height in [h0, h1], indexed [height][range],
// along with the range and height of the first returned node.
func (g *Grid) SubGrid(r0, r1, h0, h1 float64) (pf [][]float64, startRange, startHeight float64) {
	ir0 := clampIndex(int(math.Ceil((r0-g.startRange)/g.rangeInc-1e-9)), g.numRange)
	ir1 := clampIndex(int(math.Floor((r1-g.startRange)/g.rangeInc+1e-9)), g.numRange)
	ih0 := clampIndex(int(math.Ceil((h0-g.startHeight)/g.heightInc-1e-9)), g.numHeight)
	ih1 := clampIndex(int(math.Floor((h1-g.startHeight)/g.heightInc+1e-9)), g.numHeight)
	if ir1 < ir0 || ih1 < ih0 {
		return nil, 0, 0
	}
	pf = make([][]float64, 0, ih1-ih0+1)
	for h := ih0; h <= ih1; h++ {
		row := make([]float64, 0, ir1-ir0+1)
		for r := ir0; r <= ir1; r++ {
			row = append(row, PlasmaFrequency(g.density.v[h*g.numRange+r]))
		}
		pf = append(pf, row)
	}
	return pf, g.startRange + float64(ir0)*g.rangeInc, g.startHeight + float64(ih0)*g.heightInc
}

func clampIndex(i, n int) int {
	if i < 0 {
		return 0
	}
	if i > n-1 {
		return n - 1
	}
	return i
}
