package raytrace

import (
	"errors"
	"fmt"
	"math"

	"github.com/banshee-data/hfray/internal/iono"
	"github.com/banshee-data/hfray/internal/refraction"
	"gonum.org/v1/gonum/floats"
)

// DefaultTurningStep is the turning-point step cap used when none is set.
const DefaultTurningStep = 1.0

// Tolerance is the step control triple. Steps are km of group path.
type Tolerance struct {
	Relative float64
	MinStep  float64
	MaxStep  float64
}

// Validate checks the ordering and sign of the triple.
func (t Tolerance) Validate() error {
	switch {
	case !(t.Relative > 0) || t.Relative >= 1:
		return fmt.Errorf("relative tolerance must be in (0, 1), got %g", t.Relative)
	case !(t.MinStep > 0) || math.IsInf(t.MinStep, 0):
		return fmt.Errorf("minimum step must be positive, got %g", t.MinStep)
	case !(t.MaxStep >= t.MinStep) || math.IsInf(t.MaxStep, 0):
		return fmt.Errorf("maximum step %g must not be below minimum step %g", t.MaxStep, t.MinStep)
	}
	return nil
}

// Dormand–Prince 5(4) tableau. Row 6 holds the fifth-order weights, so the
// seventh stage is evaluated at the new state.
var dpA = [7][6]float64{
	{},
	{1.0 / 5},
	{3.0 / 40, 9.0 / 40},
	{44.0 / 45, -56.0 / 15, 32.0 / 9},
	{19372.0 / 6561, -25360.0 / 2187, 64448.0 / 6561, -212.0 / 729},
	{9017.0 / 3168, -355.0 / 33, 46732.0 / 5247, 49.0 / 176, -5103.0 / 18656},
	{35.0 / 384, 0, 500.0 / 1113, 125.0 / 192, -2187.0 / 6784, 11.0 / 84},
}

// dpE is the difference between the fifth- and fourth-order weights.
var dpE = [7]float64{71.0 / 57600, 0, -71.0 / 16695, 71.0 / 1920, -17253.0 / 339200, 22.0 / 525, -1.0 / 40}

// StepResult describes one call to Advance.
type StepResult struct {
	Event Status
	Taken float64 // group path advanced, km
	Next  float64 // suggested next step, km
	Index refraction.Index
	Err   error
}

// Integrator advances one ray. It keeps scratch buffers and must not be
// shared between rays.
type Integrator struct {
	sys         system
	tol         Tolerance
	turningStep float64
	top         float64

	k                 [7][]float64
	stage, next, errv []float64
}

// NewIntegrator returns an integrator for a ray at freqMHz on a sphere of
// the given radius. tol must already be valid.
func NewIntegrator(eval *refraction.Evaluator, freqMHz float64, mode refraction.Mode, radius float64, tol Tolerance, turningStep float64) *Integrator {
	if turningStep <= 0 {
		turningStep = DefaultTurningStep
	}
	it := &Integrator{
		sys:         system{eval: eval, freq: freqMHz, mode: mode, radius: radius},
		tol:         tol,
		turningStep: math.Max(turningStep, tol.MinStep),
		top:         eval.Grid().Top(),
		stage:       make([]float64, nVar),
		next:        make([]float64, nVar),
		errv:        make([]float64, nVar),
	}
	for i := range it.k {
		it.k[i] = make([]float64, nVar)
	}
	return it
}

// SetMode switches the magneto-ionic root used from the next step on.
func (it *Integrator) SetMode(m refraction.Mode) { it.sys.mode = m }

// Index evaluates the medium at y.
func (it *Integrator) Index(y []float64) (refraction.Index, error) { return it.sys.index(y) }

func (it *Integrator) clamp(h float64) float64 {
	return math.Min(math.Max(h, it.tol.MinStep), it.tol.MaxStep)
}

func (it *Integrator) halve(h float64) float64 {
	return math.Max(h/2, it.tol.MinStep)
}

func (it *Integrator) grow(h, errNorm float64) float64 {
	f := 5.0
	if errNorm > 0 {
		f = math.Min(5, math.Max(0.2, 0.9*math.Pow(errNorm, -0.2)))
	}
	return it.clamp(h * f)
}

// stages evaluates stages 2..7 from it.k[0] (the derivative at y) and
// writes the fifth-order solution for step h into out.
func (it *Integrator) stages(y []float64, h float64, out []float64) (refraction.Index, error) {
	var ix refraction.Index
	for s := 1; s < len(dpA); s++ {
		copy(it.stage, y)
		for j := 0; j < s; j++ {
			if a := dpA[s][j]; a != 0 {
				floats.AddScaled(it.stage, h*a, it.k[j])
			}
		}
		var err error
		if ix, err = it.sys.derivs(it.stage, it.k[s]); err != nil {
			return ix, err
		}
	}
	copy(out, it.stage)
	return ix, nil
}

// errorNorm is the largest component error relative to tolerance.
func (it *Integrator) errorNorm(y, out []float64, h float64) float64 {
	for i := range it.errv {
		it.errv[i] = 0
	}
	for j, e := range dpE {
		if e != 0 {
			floats.AddScaled(it.errv, h*e, it.k[j])
		}
	}
	norm := 0.0
	for i := 0; i < errorComponents; i++ {
		scale := math.Max(math.Max(math.Abs(y[i]), math.Abs(out[i])), 1)
		norm = math.Max(norm, math.Abs(it.errv[i])/(it.tol.Relative*scale))
	}
	return norm
}

// Advance takes one accepted step from y, updating y in place. h is the
// proposed step; the result carries the step actually taken and the event
// detected at the new state. On RANGE_EXCEEDED and DIVERGED y is unchanged.
func (it *Integrator) Advance(y []float64, h float64) StepResult {
	h = it.clamp(h)
	if _, err := it.sys.derivs(y, it.k[0]); err != nil {
		return it.stopped(y, h, err)
	}
	rising := it.k[0][iR] > 0

	for {
		ix, err := it.stages(y, h, it.next)
		if err != nil {
			if isRangeExit(err) || h <= it.tol.MinStep {
				return it.stopped(y, h, err)
			}
			h = it.halve(h)
			continue
		}

		if it.sys.height(y) <= it.top && it.sys.height(it.next) > it.top {
			if res, ok := it.exit(y, h); ok {
				return res
			}
			h = it.halve(h)
			continue
		}

		errNorm := it.errorNorm(y, it.next, h)
		if errNorm > 1 {
			if h <= it.tol.MinStep {
				return it.stopped(y, h, ErrStepTooSmall)
			}
			h = it.halve(h)
			continue
		}

		turned := (it.k[6][iR] > 0) != rising
		if turned && h > it.turningStep {
			h = it.halve(h)
			continue
		}

		evanescent := !ix.FreeSpace && ix.M <= 0
		if evanescent && h > it.tol.MinStep {
			h = it.halve(h)
			continue
		}

		res := StepResult{Event: Propagating, Taken: h, Next: it.grow(h, errNorm), Index: ix}
		if turned {
			res.Event = TurningPoint
		}
		switch {
		case evanescent:
			// reflect in place at the minimum step
			kr := math.Abs(it.next[iKR])
			if rising {
				kr = -kr
			}
			it.next[iKR] = kr
			res.Event = TurningPoint
		case it.sys.height(it.next) < 0:
			return it.landing(y, h, res)
		default:
			normalise(it.next, ix.M)
		}
		copy(y, it.next)

		if it.sys.height(y) > it.top && it.k[6][iR] > 0 {
			res.Event = Escaped
		}
		return res
	}
}

// exit refines a step that leaves the grid through the top by bisecting on
// the step fraction, so the accepted step ends on the top boundary and no
// stage straddles the switch to free space. It reports false when the
// refined step fails the error test and h is still above the minimum step.
func (it *Integrator) exit(y []float64, h float64) (StepResult, bool) {
	lo, hi := 0.0, 1.0
	for i := 0; i < 60 && (hi-lo)*h > 1e-9; i++ {
		mid := 0.5 * (lo + hi)
		if _, err := it.stages(y, mid*h, it.next); err != nil {
			return it.stopped(y, h, err), true
		}
		if it.sys.height(it.next) > it.top {
			hi = mid
		} else {
			lo = mid
		}
	}
	ix, err := it.stages(y, lo*h, it.next)
	if err != nil {
		return it.stopped(y, h, err), true
	}
	errNorm := it.errorNorm(y, it.next, lo*h)
	if errNorm > 1 && h > it.tol.MinStep {
		return StepResult{}, false
	}
	it.next[iR] = it.sys.radius + it.top
	normalise(it.next, ix.M)
	copy(y, it.next)

	res := StepResult{Event: Escaped, Taken: lo * h, Next: it.grow(h, errNorm), Index: ix}
	if it.k[6][iR] <= 0 {
		res.Event = TurningPoint
	}
	return res, true
}

// landing refines a step that ended below the ground by bisecting on the
// step fraction, then places the state exactly on the surface.
func (it *Integrator) landing(y []float64, h float64, res StepResult) StepResult {
	lo, hi := 0.0, 1.0
	for i := 0; i < 60 && (hi-lo)*h > 1e-9; i++ {
		mid := 0.5 * (lo + hi)
		if _, err := it.stages(y, mid*h, it.next); err != nil {
			return it.stopped(y, h, err)
		}
		if it.sys.height(it.next) > 0 {
			lo = mid
		} else {
			hi = mid
		}
	}
	if _, err := it.stages(y, hi*h, it.next); err != nil {
		return it.stopped(y, h, err)
	}
	it.next[iR] = it.sys.radius
	ix, err := it.sys.index(it.next)
	if err != nil {
		return it.stopped(y, h, err)
	}
	normalise(it.next, ix.M)
	copy(y, it.next)

	res.Event = GroundHit
	res.Taken = hi * h
	res.Index = ix
	return res
}

func (it *Integrator) stopped(y []float64, h float64, err error) StepResult {
	ev := Diverged
	if isRangeExit(err) {
		ev = RangeExceeded
	} else if !errors.Is(err, ErrStepTooSmall) {
		err = fmt.Errorf("%w: %w", ErrStepTooSmall, err)
	}
	return StepResult{
		Event: ev,
		Err: &IntegrationError{
			GroupPath:   y[iGroup],
			GroundRange: it.sys.groundRange(y),
			Height:      it.sys.height(y),
			Step:        h,
			Err:         err,
		},
	}
}

func isRangeExit(err error) bool {
	var de *iono.DomainError
	return errors.As(err, &de) && de.Kind == iono.BeyondRange
}
