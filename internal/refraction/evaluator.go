// Package refraction evaluates the magneto-ionic refractive index of the
// grid plasma and its derivatives for the ray equations.
package refraction

import (
	"errors"
	"math"
	"math/cmplx"

	"github.com/banshee-data/hfray/internal/iono"
)

// ErrEvanescent is returned when the wave cannot propagate at the query
// point (Re n² ≤ 0 or a resonance). The accompanying Index is still filled
// in so callers can treat the point as a turning point.
var ErrEvanescent = errors.New("refraction: wave is evanescent at query point")

// Index is the refractive state seen by a wave at one point. M is Re(n²);
// derivatives are per km, per radian (ψ) and f·∂/∂f.
type Index struct {
	M           float64
	DMDHeight   float64
	DMDRange    float64
	DMDPsi      float64
	FreqDMDFreq float64

	// Kappa is Im(n); KappaND is its non-deviative part XZ/(2(1+Z²)).
	Kappa   float64
	KappaND float64

	X, Y, Z    float64
	Density    float64 // electrons/cm³
	PlasmaFreq float64 // MHz

	// MLater is Re(n²) from the time-offset grid when one is configured.
	MLater   float64
	HasLater bool

	// FreeSpace is set above the grid top and below its base where the
	// medium is treated as vacuum.
	FreeSpace bool
}

// GroupFactor returns d(group path)/dτ for the normalised Hamiltonian,
// M + ½·f·∂M/∂f. It equals 1 in a cold collisionless unmagnetised plasma.
func (ix Index) GroupFactor() float64 {
	return ix.M + 0.5*ix.FreqDMDFreq
}

// Evaluator queries a grid (and optionally a time-offset grid) and applies
// the Appleton–Hartree dispersion relation. It holds no mutable state and
// is safe for concurrent use.
type Evaluator struct {
	grid      *iono.Grid
	later     *iono.Grid
	irregular bool
}

// NewEvaluator returns an evaluator over grid. later may be nil; when set
// it must describe the same plasma a fixed interval later and is used for
// Doppler estimates. irregular enables the grid's irregularity perturbation.
func NewEvaluator(grid, later *iono.Grid, irregular bool) *Evaluator {
	return &Evaluator{grid: grid, later: later, irregular: irregular && grid.HasIrregularities()}
}

// Grid returns the primary grid.
func (e *Evaluator) Grid() *iono.Grid { return e.grid }

// HasLater reports whether a time-offset grid is configured.
func (e *Evaluator) HasLater() bool { return e.later != nil }

// freeSpace is the vacuum index.
func freeSpace(hasLater bool) Index {
	return Index{M: 1, MLater: 1, HasLater: hasLater, FreeSpace: true}
}

// sample queries g, mapping vertical misses to ok=false (free space) and
// returning range misses as errors.
func (e *Evaluator) sample(g *iono.Grid, rangeKm, heightKm float64) (iono.Sample, bool, error) {
	s, err := g.Query(rangeKm, heightKm)
	if err != nil {
		var de *iono.DomainError
		if errors.As(err, &de) && de.Kind != iono.BeyondRange {
			return iono.Sample{}, false, nil
		}
		return iono.Sample{}, false, err
	}
	if e.irregular {
		g.Perturb(&s, rangeKm, heightKm)
	}
	return s, true, nil
}

func params(s iono.Sample, freqMHz float64, mode Mode) magnetoIonic {
	p := magnetoIonic{
		x: iono.PlasmaFrequencyConstant * s.Density / (freqMHz * freqMHz),
		z: s.Collision / (2 * math.Pi * freqMHz * 1e6),
	}
	if s.HasField && mode != NoField {
		for i := 0; i < 3; i++ {
			p.y[i] = GyroMHzPerNT * s.Field[i] / freqMHz
		}
	}
	return p
}

// Evaluate returns the refractive state at (rangeKm, heightKm) for a wave of
// frequency freqMHz whose wave normal makes angle psi (radians) with the
// local vertical, measured towards increasing range.
func (e *Evaluator) Evaluate(rangeKm, heightKm, freqMHz, psi float64, mode Mode) (Index, error) {
	s, inside, err := e.sample(e.grid, rangeKm, heightKm)
	if err != nil {
		return Index{}, err
	}
	if !e.grid.HasField() && mode != NoField {
		mode = NoField
	}
	if !inside {
		return freeSpace(e.later != nil), nil
	}

	p := params(s, freqMHz, mode)
	n2, ok := appletonHartree(p, psi, mode)
	ix := Index{
		M:          real(n2),
		X:          p.x,
		Z:          p.z,
		Density:    s.Density,
		PlasmaFreq: iono.PlasmaFrequency(s.Density),
	}
	ix.Y = math.Sqrt(p.y[0]*p.y[0] + p.y[1]*p.y[1] + p.y[2]*p.y[2])

	d := magnetoPartials(p, psi, mode)
	f2 := freqMHz * freqMHz
	dXdh := iono.PlasmaFrequencyConstant * s.DDensityDHeight / f2
	dXdr := iono.PlasmaFrequencyConstant * s.DDensityDRange / f2
	zScale := 1 / (2 * math.Pi * freqMHz * 1e6)
	ix.DMDHeight = d.x*dXdh + d.z*s.DCollisionDHeight*zScale
	ix.DMDRange = d.x*dXdr + d.z*s.DCollisionDRange*zScale
	if mode != NoField && s.HasField {
		for i := 0; i < 3; i++ {
			ix.DMDHeight += d.y[i] * GyroMHzPerNT * s.DFieldDHeight[i] / freqMHz
			ix.DMDRange += d.y[i] * GyroMHzPerNT * s.DFieldDRange[i] / freqMHz
		}
	}
	ix.DMDPsi = d.psi
	// X ∝ f⁻², Y ∝ f⁻¹, Z ∝ f⁻¹
	ix.FreqDMDFreq = -2*p.x*d.x - p.z*d.z - p.y[0]*d.y[0] - p.y[1]*d.y[1] - p.y[2]*d.y[2]

	ix.Kappa = math.Abs(imag(cmplx.Sqrt(n2)))
	ix.KappaND = p.x * p.z / (2 * (1 + p.z*p.z))

	if e.later != nil {
		ix.HasLater = true
		ix.MLater = 1
		ls, lInside, err := e.sample(e.later, rangeKm, heightKm)
		if err != nil {
			return Index{}, err
		}
		if lInside {
			if m, lok := mu2(params(ls, freqMHz, mode), psi, mode); lok {
				ix.MLater = m
			}
		}
	}

	if !ok || ix.M <= 0 {
		return ix, ErrEvanescent
	}
	return ix, nil
}

// AbsorptionPerKm converts an absorption index to dB/km at freqMHz.
func AbsorptionPerKm(kappa, freqMHz float64) float64 {
	k0 := 2 * math.Pi * freqMHz * 1e6 / SpeedOfLightKmS
	return NepersToDB * k0 * kappa
}
