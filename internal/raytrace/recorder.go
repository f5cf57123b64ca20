package raytrace

import (
	"math"

	"github.com/banshee-data/hfray/internal/refraction"
)

// Recorder accumulates the states of one ray, bounded by a maximum count.
type Recorder struct {
	rec RayRecord
	max int
}

// NewRecorder returns a recorder holding at most maxSteps states. A
// non-positive maxSteps means unbounded.
func NewRecorder(maxSteps int) *Recorder {
	capacity := 256
	if maxSteps > 0 && maxSteps < capacity {
		capacity = maxSteps
	}
	return &Recorder{rec: make(RayRecord, 0, capacity), max: maxSteps}
}

// Append adds s. It returns false, without recording, once the record is
// full.
func (r *Recorder) Append(s RayState) bool {
	if r.max > 0 && len(r.rec) >= r.max {
		return false
	}
	r.rec = append(r.rec, s)
	return true
}

// Len returns the number of recorded states.
func (r *Recorder) Len() int { return len(r.rec) }

// Record returns the recorded path.
func (r *Recorder) Record() RayRecord { return r.rec }

// Last returns the most recent state.
func (r *Recorder) Last() RayState {
	if len(r.rec) == 0 {
		return RayState{}
	}
	return r.rec[len(r.rec)-1]
}

// Reduce summarises the record. dopplerInterval is the grid separation in
// seconds, zero when no second grid was traced.
func (r *Recorder) Reduce(status Status, freqMHz float64, geo Geometry, dopplerInterval float64) RayData {
	d := RayData{Status: status, Frequency: freqMHz}
	if len(r.rec) == 0 {
		return d
	}
	first, last := r.rec[0], r.rec[len(r.rec)-1]

	d.GroundRange = last.GroundRange
	d.GroupPath = last.GroupPath
	d.PhasePath = last.PhasePath
	d.GeometricPath = last.GeometricPath
	d.DeviativeAbsorption = last.DeviativeAbsorption
	d.NonDeviativeAbsorption = last.NonDeviativeAbsorption
	d.Absorption = d.DeviativeAbsorption + d.NonDeviativeAbsorption
	d.TEC = last.TEC
	d.FinalMode = last.Mode
	d.InitialElevation = first.Elevation
	d.FinalElevation = last.Elevation
	d.LandingLat, d.LandingLon = geo.Destination(last.GroundRange)

	shift := func(dp float64) float64 { return 0 }
	if dopplerInterval > 0 {
		d.HasDoppler = true
		shift = func(dp float64) float64 {
			return -freqMHz * 1e6 / refraction.SpeedOfLightKmS * dp / dopplerInterval
		}
		d.DopplerShift = shift(last.DopplerPath)
	}

	start := 0
	d.Apogee = math.Inf(-1)
	for i, s := range r.rec {
		d.Apogee = math.Max(d.Apogee, s.Height)
		if s.Event != GroundHit {
			continue
		}
		d.HopsCompleted++
		d.Hops = append(d.Hops, hopData(r.rec[start:i+1], geo.Radius, shift))
		start = i + 1
	}
	return d
}

// hopData summarises the states of one hop, ending with its ground hit.
func hopData(seg RayRecord, radius float64, shift func(float64) float64) HopData {
	first, last := seg[0], seg[len(seg)-1]
	h := HopData{
		GroundRange:            last.GroundRange - first.GroundRange,
		GroupRange:             last.GroupPath - first.GroupPath,
		PhasePath:              last.PhasePath - first.PhasePath,
		GeometricPath:          last.GeometricPath - first.GeometricPath,
		InitialElevation:       first.Elevation,
		FinalElevation:         last.Elevation,
		DeviativeAbsorption:    last.DeviativeAbsorption - first.DeviativeAbsorption,
		NonDeviativeAbsorption: last.NonDeviativeAbsorption - first.NonDeviativeAbsorption,
		TEC:                    last.TEC - first.TEC,
		DopplerShift:           shift(last.DopplerPath - first.DopplerPath),
	}
	h.Apogee = first.Height
	for _, s := range seg {
		if s.Height > h.Apogee {
			h.Apogee = s.Height
			h.RangeToApogee = s.GroundRange - first.GroundRange
			h.PlasmaFreqApogee = s.PlasmaFrequency
		}
	}
	h.VirtualHeight = VirtualHeight(radius, h.GroupRange, h.InitialElevation)
	return h
}
