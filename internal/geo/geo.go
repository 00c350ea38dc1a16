// Package geo provides great-circle distance and derived speed between
// position fixes. All functions are pure and deterministic.
package geo

import (
	"math"

	"github.com/banshee-data/gps.report/internal/units"
)

// EarthRadiusMeters is the mean Earth radius used by the haversine formula.
const EarthRadiusMeters = 6371000

// Fix is one reported geographic position sample. It is immutable once
// created; consumers retain at most the most recent Fix.
type Fix struct {
	Lat         float64 `json:"lat"`
	Lon         float64 `json:"lon"`
	TimestampMs int64   `json:"timestamp_ms"`

	// Optional source-supplied readings. Nil means the source did not
	// report the value for this fix.
	SpeedMps   *float64 `json:"speed_mps,omitempty"`
	AccuracyM  *float64 `json:"accuracy_m,omitempty"`
	HeadingDeg *float64 `json:"heading_deg,omitempty"`
}

// Distance returns the haversine great-circle distance between two fixes in
// metres, assuming a spherical Earth.
func Distance(a, b Fix) float64 {
	phi1 := a.Lat * math.Pi / 180
	phi2 := b.Lat * math.Pi / 180
	dPhi := (b.Lat - a.Lat) * math.Pi / 180
	dLambda := (b.Lon - a.Lon) * math.Pi / 180

	sinPhi := math.Sin(dPhi / 2)
	sinLambda := math.Sin(dLambda / 2)
	h := sinPhi*sinPhi + math.Cos(phi1)*math.Cos(phi2)*sinLambda*sinLambda
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))

	return EarthRadiusMeters * c
}

// SpeedBetween returns the speed in mph implied by travelling from a to b in
// the time between their timestamps. A zero time delta returns 0: duplicate
// fixes are a legitimate degenerate input, not an error.
func SpeedBetween(a, b Fix) float64 {
	dtSeconds := float64(b.TimestampMs-a.TimestampMs) / 1000
	if dtSeconds == 0 {
		return 0
	}
	return Distance(a, b) / dtSeconds * units.MpsToMph
}
