// Package units provides shared constants and conversion for speed units.
package units

// Unit constants
const (
	MPS  = "mps"
	MPH  = "mph"
	KMPH = "kmph"
	KPH  = "kph"
)

// Conversion factors. Speeds are stored internally in mph; position sources
// report metres per second.
const (
	MpsToMph = 2.237    // m/s to mph
	MphToKph = 1.609344 // mph to km/h, exact by definition of the mile
)

// ValidUnits contains all valid unit values
var ValidUnits = []string{MPS, MPH, KMPH, KPH}

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
	return "mps, mph, kmph, kph"
}

// ConvertSpeed converts a speed from the internal mph representation to the
// target units. Conversion is a read-time presentation transform; stored
// state always holds mph.
func ConvertSpeed(speedMPH float64, targetUnits string) float64 {
	switch targetUnits {
	case MPH:
		return speedMPH // no conversion needed
	case KMPH, KPH:
		return speedMPH * MphToKph
	case MPS:
		return speedMPH / MpsToMph
	default:
		return speedMPH // default to mph if unknown unit
	}
}
