package raytrace

import (
	"math"

	"github.com/banshee-data/hfray/internal/monitoring"
	"github.com/banshee-data/hfray/internal/refraction"
)

// HopManager traces single rays to a terminal status, reflecting them at
// the ground until the hop budget is spent. It is safe for concurrent use;
// each Trace call owns its integrator and record.
type HopManager struct {
	eval *refraction.Evaluator
	geo  Geometry
	opts Options
}

// NewHopManager returns a hop manager. opts.Tolerance must be valid and
// opts.NHops at least 1.
func NewHopManager(eval *refraction.Evaluator, geo Geometry, opts Options) *HopManager {
	if !eval.Grid().HasField() {
		opts.Mode = refraction.NoField
	}
	return &HopManager{eval: eval, geo: geo, opts: opts}
}

// Trace integrates one ray.
func (m *HopManager) Trace(l Launch) Outcome {
	mode := m.opts.Mode
	it := NewIntegrator(m.eval, l.Frequency, mode, m.geo.Radius, m.opts.Tolerance, m.opts.TurningStep)
	rec := NewRecorder(m.opts.MaxSteps)

	y := make([]float64, nVar)
	hop := 1
	if l.Resume != nil {
		mode = m.resumeMode(l.Resume.Mode)
		it.SetMode(mode)
		fromState(y, *l.Resume)
		if l.Resume.Height <= 0 && l.Resume.KR < 0 {
			mode = m.reflect(it, y, mode)
		}
	} else {
		m.launch(it, y, l.Elevation)
	}

	finish := func(status Status, err error) Outcome {
		data := rec.Reduce(status, l.Frequency, m.geo, m.dopplerInterval())
		return Outcome{Record: rec.Record(), Data: data, Final: rec.Last(), Err: err}
	}

	ix, err := it.Index(y)
	if err != nil {
		// launch point outside the grid's range span
		rec.Append(m.snapshot(y, hop, mode, ix, Propagating))
		return finish(RangeExceeded, err)
	}
	if !rec.Append(m.snapshot(y, hop, mode, ix, Propagating)) {
		return finish(StepLimitExceeded, nil)
	}

	h := math.Max(m.opts.Tolerance.MinStep, math.Min(1, m.opts.Tolerance.MaxStep))
	for {
		st := it.Advance(y, h)
		switch st.Event {
		case Diverged, RangeExceeded:
			monitoring.Debugf("ray %.2f° %.3f MHz stopped: %s: %v", l.Elevation, l.Frequency, st.Event, st.Err)
			return finish(st.Event, st.Err)
		}
		if !rec.Append(m.snapshot(y, hop, mode, st.Index, st.Event)) {
			return finish(StepLimitExceeded, nil)
		}
		h = st.Next

		switch st.Event {
		case Escaped:
			return finish(Escaped, nil)
		case GroundHit:
			if hop >= m.opts.NHops {
				return finish(Completed, nil)
			}
			hop++
			mode = m.reflect(it, y, mode)
			rix, err := it.Index(y)
			if err != nil {
				return finish(RangeExceeded, err)
			}
			if !rec.Append(m.snapshot(y, hop, mode, rix, Propagating)) {
				return finish(StepLimitExceeded, nil)
			}
		}
	}
}

func (m *HopManager) dopplerInterval() float64 {
	if !m.eval.HasLater() {
		return 0
	}
	return m.opts.DopplerInterval
}

func (m *HopManager) resumeMode(s refraction.Mode) refraction.Mode {
	if !m.eval.Grid().HasField() {
		return refraction.NoField
	}
	if s == refraction.NoField {
		return m.opts.Mode
	}
	return s
}

// launch fills y for a ray leaving the ground at elevationDeg.
func (m *HopManager) launch(it *Integrator, y []float64, elevationDeg float64) {
	el := elevationDeg * math.Pi / 180
	y[iR] = m.geo.Radius
	y[iKR] = math.Sin(el)
	y[iKTheta] = math.Cos(el)
	if ix, err := it.Index(y); err == nil {
		normalise(y, ix.M)
	}
}

// reflect applies specular reflection at the ground and the polarisation
// rule, returning the new mode.
func (m *HopManager) reflect(it *Integrator, y []float64, mode refraction.Mode) refraction.Mode {
	y[iKR] = math.Abs(y[iKR])
	next := m.opts.GroundPolarization.Apply(mode)
	it.SetMode(next)
	if ix, err := it.Index(y); err == nil {
		normalise(y, ix.M)
	}
	return next
}

func (m *HopManager) snapshot(y []float64, hop int, mode refraction.Mode, ix refraction.Index, ev Status) RayState {
	return RayState{
		GroundRange:            y[iTheta] * m.geo.Radius,
		Height:                 y[iR] - m.geo.Radius,
		Azimuth:                m.geo.Bearing,
		Elevation:              math.Atan2(y[iKR], y[iKTheta]) * 180 / math.Pi,
		GroupPath:              y[iGroup],
		PhasePath:              y[iPhase],
		GeometricPath:          y[iGeom],
		DeviativeAbsorption:    y[iDevAbs],
		NonDeviativeAbsorption: y[iNonDevAbs],
		Hop:                    hop,
		Mode:                   mode,
		DopplerPath:            y[iDoppler],
		TEC:                    y[iTEC],
		PlasmaFrequency:        ix.PlasmaFreq,
		Event:                  ev,
		Radius:                 y[iR],
		Theta:                  y[iTheta],
		KR:                     y[iKR],
		KTheta:                 y[iKTheta],
	}
}

// fromState loads a recorded state into the integration vector.
func fromState(y []float64, s RayState) {
	y[iR] = s.Radius
	y[iTheta] = s.Theta
	y[iKR] = s.KR
	y[iKTheta] = s.KTheta
	y[iPhase] = s.PhasePath
	y[iDevAbs] = s.DeviativeAbsorption
	y[iNonDevAbs] = s.NonDeviativeAbsorption
	y[iGeom] = s.GeometricPath
	y[iDoppler] = s.DopplerPath
	y[iTEC] = s.TEC
	y[iGroup] = s.GroupPath
}
