package raytrace

import (
	"errors"
	"fmt"
	"math"

	"github.com/banshee-data/hfray/internal/refraction"
)

// Layout of the integration vector.
const (
	iR = iota
	iTheta
	iKR
	iKTheta
	iPhase
	iDevAbs
	iNonDevAbs
	iGeom
	iDoppler
	iTEC
	iGroup
	nVar
)

// errorComponents are the entries checked by the local error test. The rest
// are quadratures driven by them.
const errorComponents = iKTheta + 1

// system is the Hamiltonian H = ½(k² − M) in Earth-centred polar
// coordinates (r, θ) with k the wave vector normalised by the free-space
// wavenumber. Derivatives are taken with respect to group path.
type system struct {
	eval   *refraction.Evaluator
	freq   float64
	mode   refraction.Mode
	radius float64
}

func (s *system) height(y []float64) float64 { return y[iR] - s.radius }

func (s *system) groundRange(y []float64) float64 { return y[iTheta] * s.radius }

// index evaluates the medium at y. An evanescent point still yields its
// Index; callers decide what to do with M ≤ 0.
func (s *system) index(y []float64) (refraction.Index, error) {
	psi := math.Atan2(y[iKTheta], y[iKR])
	ix, err := s.eval.Evaluate(s.groundRange(y), s.height(y), s.freq, psi, s.mode)
	if err != nil && !errors.Is(err, refraction.ErrEvanescent) {
		return ix, err
	}
	return ix, nil
}

// derivs writes dy/dP' at y into dy and returns the medium at y.
func (s *system) derivs(y, dy []float64) (refraction.Index, error) {
	ix, err := s.index(y)
	if err != nil {
		return ix, err
	}

	g := ix.GroupFactor()
	if !(g > 1e-9) || math.IsInf(g, 0) {
		return ix, fmt.Errorf("%w: group factor %g", errSingular, g)
	}

	r := y[iR]
	kr, kt := y[iKR], y[iKTheta]
	k2 := kr*kr + kt*kt
	hkr, hkt := kr, kt
	if k2 > 0 {
		hkr += 0.5 * ix.DMDPsi * kt / k2
		hkt -= 0.5 * ix.DMDPsi * kr / k2
	}

	drdt := hkr
	dthdt := hkt / r
	ds := math.Hypot(hkr, hkt)

	dy[iR] = drdt / g
	dy[iTheta] = dthdt / g
	dy[iKR] = (0.5*ix.DMDHeight + kt*dthdt) / g
	dy[iKTheta] = (0.5*s.radius*ix.DMDRange - kt*drdt) / r / g
	dy[iPhase] = k2 / g
	dy[iGeom] = ds / g

	perKappa := refraction.AbsorptionPerKm(1, s.freq) * ds / g
	dev := ix.Kappa - ix.KappaND
	if dev < 0 {
		dev = 0
	}
	dy[iDevAbs] = perKappa * dev
	dy[iNonDevAbs] = perKappa * ix.KappaND

	dy[iDoppler] = 0
	if ix.HasLater {
		dy[iDoppler] = 0.5 * (ix.MLater - ix.M) / g
	}
	dy[iTEC] = ix.Density * 1e-7 * ds / g
	dy[iGroup] = 1

	for _, v := range dy {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return ix, fmt.Errorf("%w: non-finite derivative", errSingular)
		}
	}
	return ix, nil
}

// normalise rescales the wave vector so |k|² = M, keeping the state on the
// H = 0 surface. Points with M ≤ 0 are left alone.
func normalise(y []float64, m float64) {
	if !(m > 0) {
		return
	}
	k := math.Hypot(y[iKR], y[iKTheta])
	if k == 0 {
		return
	}
	f := math.Sqrt(m) / k
	y[iKR] *= f
	y[iKTheta] *= f
}
