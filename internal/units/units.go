// Package units provides the distance units accepted for fan summaries.
package units

// Unit constants
const (
	KM  = "km"
	MI  = "mi"
	NMI = "nmi"
)

// ValidUnits contains all valid unit values
var ValidUnits = []string{KM, MI, NMI}

// IsValid checks if the given unit is in the list of valid units
func IsValid(unit string) bool {
	for _, validUnit := range ValidUnits {
		if unit == validUnit {
			return true
		}
	}
	return false
}

// GetValidUnitsString returns a comma-separated string of valid units for error messages
func GetValidUnitsString() string {
	return "km, mi, nmi"
}

// ConvertDistance converts a distance from kilometres to the target units.
// Ray paths are traced in km.
func ConvertDistance(km float64, targetUnits string) float64 {
	switch targetUnits {
	case MI:
		return km / 1.609344
	case NMI:
		return km / 1.852
	default:
		return km
	}
}
