package track

import (
	"github.com/banshee-data/gps.report/internal/geo"
	"github.com/banshee-data/gps.report/internal/units"
)

// Estimate produces one raw speed sample in mph for an incoming fix.
//
// A non-negative receiver-reported speed wins: receivers derive it from
// Doppler and multi-fix filtering, which is steadier than a two-point
// derivative. Otherwise the speed is derived from the previous fix, and with
// neither available (the first fix of a session) the sample is zero.
//
// The caller must update its last-fix reference to current after every call,
// whichever branch was taken.
func Estimate(current geo.Fix, last *geo.Fix) float64 {
	var mph float64
	switch {
	case current.SpeedMps != nil && *current.SpeedMps >= 0:
		mph = *current.SpeedMps * units.MpsToMph
	case last != nil:
		mph = geo.SpeedBetween(*last, current)
	}

	// Negative derived speeds cannot occur mathematically but could from
	// clock skew between fixes; floor them.
	if mph < 0 {
		return 0
	}
	return mph
}
