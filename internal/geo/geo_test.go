package geo

import (
	"math"
	"testing"
)

func fix(lat, lon float64, tsMs int64) Fix {
	return Fix{Lat: lat, Lon: lon, TimestampMs: tsMs}
}

func TestDistance(t *testing.T) {
	tests := []struct {
		name      string
		a, b      Fix
		expected  float64 // metres
		tolerance float64
	}{
		{"identical points", fix(51.5, -0.12, 0), fix(51.5, -0.12, 0), 0, 1e-9},
		{"equator 0.001 deg longitude", fix(0, 0, 0), fix(0, 0.001, 0), 111.19, 0.1},
		{"equator 1 deg longitude", fix(0, 0, 0), fix(0, 1, 0), 111194.9, 1.0},
		{"pole to pole", fix(90, 0, 0), fix(-90, 0, 0), math.Pi * EarthRadiusMeters, 1.0},
		{"london to paris", fix(51.5074, -0.1278, 0), fix(48.8566, 2.3522, 0), 343500, 1000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Distance(tt.a, tt.b)
			if math.Abs(got-tt.expected) > tt.tolerance {
				t.Errorf("Distance() = %v, want %v ± %v", got, tt.expected, tt.tolerance)
			}
			// Distance is symmetric.
			if rev := Distance(tt.b, tt.a); math.Abs(rev-got) > 1e-9 {
				t.Errorf("Distance not symmetric: %v vs %v", got, rev)
			}
		})
	}
}

func TestDistanceNonNegative(t *testing.T) {
	pairs := [][2]Fix{
		{fix(0, 0, 0), fix(0, 0, 0)},
		{fix(45, 45, 0), fix(-45, -135, 0)}, // antipodal
		{fix(89.9999, 0, 0), fix(-89.9999, 180, 0)},
		{fix(-33.86, 151.2, 0), fix(-33.86, 151.2, 0)},
	}
	for _, p := range pairs {
		if d := Distance(p[0], p[1]); d < 0 || math.IsNaN(d) {
			t.Errorf("Distance(%v, %v) = %v, want >= 0", p[0], p[1], d)
		}
	}
}

func TestSpeedBetweenZeroTimeDelta(t *testing.T) {
	a := fix(51.5, -0.12, 1000)
	b := fix(51.6, -0.13, 1000)
	if got := SpeedBetween(a, b); got != 0 {
		t.Errorf("SpeedBetween with identical timestamps = %v, want 0", got)
	}
}

func TestSpeedBetweenEquatorScenario(t *testing.T) {
	// 0.001 deg of longitude at the equator is ~111.2m; covered in one
	// second that is ~111.2 m/s, or roughly 249 mph after conversion.
	a := fix(0, 0, 0)
	b := fix(0, 0.001, 1000)
	got := SpeedBetween(a, b)
	if got <= 0 {
		t.Fatalf("SpeedBetween = %v, want > 0", got)
	}
	if got < 240 || got > 260 {
		t.Errorf("SpeedBetween = %v mph, want ~249", got)
	}
}

func TestSpeedBetweenDeterministic(t *testing.T) {
	a := fix(59.3293, 18.0686, 0)
	b := fix(59.3300, 18.0700, 2500)
	first := SpeedBetween(a, b)
	for i := 0; i < 10; i++ {
		if got := SpeedBetween(a, b); got != first {
			t.Fatalf("SpeedBetween not deterministic: %v vs %v", got, first)
		}
	}
}
