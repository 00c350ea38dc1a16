package units

import (
	"math"
	"testing"
)

func TestIsValid(t *testing.T) {
	tests := []struct {
		name     string
		unit     string
		expected bool
	}{
		{"valid mps", MPS, true},
		{"valid mph", MPH, true},
		{"valid kmph", KMPH, true},
		{"valid kph", KPH, true},
		{"invalid unit", "invalid", false},
		{"empty unit", "", false},
		{"uppercase MPH", "MPH", false}, // Case-sensitive
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := IsValid(tt.unit)
			if result != tt.expected {
				t.Errorf("IsValid(%s) = %v, want %v", tt.unit, result, tt.expected)
			}
		})
	}
}

func TestGetValidUnitsString(t *testing.T) {
	result := GetValidUnitsString()
	expected := "mps, mph, kmph, kph"
	if result != expected {
		t.Errorf("GetValidUnitsString() = %s, want %s", result, expected)
	}
}

func TestConvertSpeed(t *testing.T) {
	tests := []struct {
		name     string
		speedMPH float64
		unit     string
		expected float64
	}{
		// MPH (no conversion)
		{"0 mph to mph", 0.0, MPH, 0.0},
		{"1 mph to mph", 1.0, MPH, 1.0},
		{"60 mph to mph", 60.0, MPH, 60.0},

		// KM/H conversion (1 mph = 1.609344 km/h)
		{"0 mph to kmph", 0.0, KMPH, 0.0},
		{"1 mph to kmph", 1.0, KMPH, 1.609344},
		{"1 mph to kph", 1.0, KPH, 1.609344},
		{"60 mph to kmph", 60.0, KMPH, 96.56064},

		// M/S conversion (1 m/s = 2.237 mph)
		{"0 mph to mps", 0.0, MPS, 0.0},
		{"22.37 mph to mps", 22.37, MPS, 10.0},

		// Unknown unit falls back to mph
		{"unknown unit", 12.5, "furlongs", 12.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ConvertSpeed(tt.speedMPH, tt.unit)
			if math.Abs(result-tt.expected) > 1e-9 {
				t.Errorf("ConvertSpeed(%v, %s) = %v, want %v", tt.speedMPH, tt.unit, result, tt.expected)
			}
		})
	}
}

// Converting to km/h and back must reproduce the internal mph value within
// floating point tolerance.
func TestConvertSpeedRoundTrip(t *testing.T) {
	for _, mph := range []float64{0, 0.1, 1, 12.7, 31.4159, 88, 200} {
		kph := ConvertSpeed(mph, KPH)
		back := kph / MphToKph
		if math.Abs(back-mph) > 1e-12 {
			t.Errorf("round trip for %v mph drifted: got %v", mph, back)
		}
	}
}
