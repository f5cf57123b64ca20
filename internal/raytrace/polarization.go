package raytrace

import "github.com/banshee-data/hfray/internal/refraction"

// Polarization is the rule applied to the magneto-ionic mode when a ray
// reflects from the ground.
type Polarization int

const (
	PolarizationPreserve Polarization = iota
	PolarizationSwap
	PolarizationOrdinary
	PolarizationExtraordinary
)

func (p Polarization) String() string {
	switch p {
	case PolarizationSwap:
		return "swap"
	case PolarizationOrdinary:
		return "ordinary"
	case PolarizationExtraordinary:
		return "extraordinary"
	}
	return "preserve"
}

// ParsePolarization parses "preserve", "swap", "ordinary" or "extraordinary".
func ParsePolarization(s string) (Polarization, bool) {
	switch s {
	case "preserve":
		return PolarizationPreserve, true
	case "swap":
		return PolarizationSwap, true
	case "ordinary", "O":
		return PolarizationOrdinary, true
	case "extraordinary", "X":
		return PolarizationExtraordinary, true
	}
	return PolarizationPreserve, false
}

// Apply returns the mode after a ground reflection. Rays traced without a
// field stay in NoField.
func (p Polarization) Apply(m refraction.Mode) refraction.Mode {
	if m == refraction.NoField {
		return m
	}
	switch p {
	case PolarizationSwap:
		return m.Swap()
	case PolarizationOrdinary:
		return refraction.Ordinary
	case PolarizationExtraordinary:
		return refraction.Extraordinary
	}
	return m
}
