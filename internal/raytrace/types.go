// Package raytrace integrates HF rays through an ionosphere grid. It owns
// the ray equations, the adaptive Dormand–Prince stepper, ground reflection
// and hop bookkeeping, and the per-ray path record and summary.
package raytrace

import (
	"fmt"

	"github.com/banshee-data/hfray/internal/refraction"
)

// Status is the state of a ray or the event attached to one step.
type Status int

const (
	Propagating Status = iota
	TurningPoint
	GroundHit
	Escaped
	RangeExceeded
	StepLimitExceeded
	Diverged
	Completed
)

var statusNames = [...]string{
	Propagating:       "PROPAGATING",
	TurningPoint:      "TURNING_POINT",
	GroundHit:         "GROUND_HIT",
	Escaped:           "ESCAPED",
	RangeExceeded:     "RANGE_EXCEEDED",
	StepLimitExceeded: "STEP_LIMIT_EXCEEDED",
	Diverged:          "DIVERGED",
	Completed:         "COMPLETED",
}

func (s Status) String() string {
	if s < 0 || int(s) >= len(statusNames) {
		return fmt.Sprintf("Status(%d)", int(s))
	}
	return statusNames[s]
}

// Terminal reports whether the status ends a ray.
func (s Status) Terminal() bool {
	switch s {
	case Escaped, RangeExceeded, StepLimitExceeded, Diverged, Completed:
		return true
	}
	return false
}

// RayState is one integration point. Radius, Theta, KR and KTheta are the
// internal integration vector; a terminal state can be handed back as a
// resume point.
type RayState struct {
	GroundRange float64 // km
	Height      float64 // km
	Azimuth     float64 // deg
	Elevation   float64 // deg, wave normal

	GroupPath     float64 // km
	PhasePath     float64 // km
	GeometricPath float64 // km

	DeviativeAbsorption    float64 // dB
	NonDeviativeAbsorption float64 // dB

	Hop  int
	Mode refraction.Mode

	// DopplerPath is the phase path change between the two grids (km).
	DopplerPath float64
	// TEC is the electron content integrated along the path (TECU).
	TEC float64

	PlasmaFrequency float64 // MHz at the point
	Event           Status

	Radius, Theta float64
	KR, KTheta    float64
}

// RayRecord is the ordered path of one ray. Index 0 is the launch state.
type RayRecord []RayState

// HopData summarises one completed hop.
type HopData struct {
	GroundRange      float64 // km
	GroupRange       float64 // km
	PhasePath        float64 // km
	GeometricPath    float64 // km
	InitialElevation float64 // deg
	FinalElevation   float64 // deg
	Apogee           float64 // km
	RangeToApogee    float64 // km
	PlasmaFreqApogee float64 // MHz
	VirtualHeight    float64 // km

	DeviativeAbsorption    float64 // dB
	NonDeviativeAbsorption float64 // dB
	TEC                    float64 // TECU
	DopplerShift           float64 // Hz
}

// RayData is the summary of one traced ray.
type RayData struct {
	Status    Status
	Frequency float64 // MHz

	GroundRange   float64 // km
	GroupPath     float64 // km
	PhasePath     float64 // km
	GeometricPath float64 // km

	Absorption             float64 // dB, deviative + non-deviative
	DeviativeAbsorption    float64
	NonDeviativeAbsorption float64

	HopsCompleted int
	FinalMode     refraction.Mode

	DopplerShift float64 // Hz
	HasDoppler   bool

	InitialElevation float64 // deg
	FinalElevation   float64 // deg
	Apogee           float64 // km
	TEC              float64 // TECU

	LandingLat float64 // deg
	LandingLon float64 // deg

	Hops []HopData
}

// Options controls a single ray.
type Options struct {
	Tolerance          Tolerance
	NHops              int
	MaxSteps           int // recorded states per ray, 0 for unbounded
	Mode               refraction.Mode
	GroundPolarization Polarization
	// TurningStep caps the step taken across a sign change of the vertical
	// group velocity (km of group path).
	TurningStep float64
	// DopplerInterval is the time between the two grids in seconds. It is
	// only used when the evaluator has a second grid.
	DopplerInterval float64
}

// Launch describes one ray of a fan.
type Launch struct {
	Elevation float64 // deg
	Frequency float64 // MHz
	// Resume continues a ray from a previous terminal state instead of
	// launching from the origin.
	Resume *RayState
}

// Outcome is everything produced for one ray.
type Outcome struct {
	Record RayRecord
	Data   RayData
	Final  RayState
	// Err carries integration diagnostics for DIVERGED and RANGE_EXCEEDED.
	Err error
}
