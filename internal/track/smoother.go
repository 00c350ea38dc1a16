package track

import "gonum.org/v1/gonum/stat"

// WindowSize is the number of raw samples the smoother retains.
const WindowSize = 5

// rampWeights holds the linear-ramp weights for a full window. The i-th
// window entry (oldest first) is weighted i+1, biasing towards the newest
// sample while damping single-fix spikes.
var rampWeights = [WindowSize]float64{1, 2, 3, 4, 5}

// Smoother maintains a bounded recency window of raw speed samples and
// produces a linearly weighted running estimate. Not safe for concurrent
// use; the owning session serializes access.
type Smoother struct {
	window []float64
}

// NewSmoother returns an empty smoother.
func NewSmoother() *Smoother {
	return &Smoother{window: make([]float64, 0, WindowSize)}
}

// Push adds a raw sample, evicting the oldest once the window is full, and
// returns the current weighted estimate.
func (s *Smoother) Push(raw float64) float64 {
	if len(s.window) == WindowSize {
		copy(s.window, s.window[1:])
		s.window[len(s.window)-1] = raw
	} else {
		s.window = append(s.window, raw)
	}
	return stat.Mean(s.window, rampWeights[:len(s.window)])
}

// Len returns the number of samples currently held.
func (s *Smoother) Len() int {
	return len(s.window)
}

// Reset clears the window. Called whenever tracking (re)starts so no
// smoothing happens across a stop/start boundary.
func (s *Smoother) Reset() {
	s.window = s.window[:0]
}
