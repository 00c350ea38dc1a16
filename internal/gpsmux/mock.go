package gpsmux

import (
	"fmt"
	"io"
	"math"
	"time"

	"github.com/banshee-data/gps.report/internal/timeutil"
)

// MockPort implements Porter over an in-process pipe.
type MockPort struct {
	io.Reader
	closer io.Closer
}

// Close closes the read side of the pipe, ending any Monitor loop.
func (m *MockPort) Close() error {
	return m.closer.Close()
}

// NewMockMux creates a Mux backed by a mock port that replays the given raw
// sentence bytes at the given interval.
func NewMockMux(data []byte, interval time.Duration) *Mux[*MockPort] {
	r, w := io.Pipe()

	go func() {
		defer w.Close()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for range ticker.C {
			if _, err := w.Write(data); err != nil {
				return
			}
		}
	}()

	return NewMux(&MockPort{Reader: r, closer: r})
}

// SyntheticGenerator produces NMEA sentences for a vehicle driving a circular
// track, stamped with the current clock time. Used in dev mode and demos
// where no receiver hardware is attached.
type SyntheticGenerator struct {
	clock timeutil.Clock
	start time.Time

	CenterLat float64 // degrees
	CenterLon float64 // degrees
	RadiusM   float64 // metres, circular path radius
	SpeedMps  float64 // metres per second along the path
	HDOP      float64
}

// NewSyntheticGenerator creates a generator with plausible defaults.
func NewSyntheticGenerator(clock timeutil.Clock) *SyntheticGenerator {
	return &SyntheticGenerator{
		clock:     clock,
		start:     clock.Now(),
		CenterLat: 51.5074,
		CenterLon: -0.1278,
		RadiusM:   200,
		SpeedMps:  8,
		HDOP:      0.9,
	}
}

// Sentences returns the RMC and GGA sentences for the current position.
func (g *SyntheticGenerator) Sentences() []string {
	now := g.clock.Now().UTC()
	elapsed := now.Sub(g.start).Seconds()

	// Angular position along the circle, anticlockwise.
	theta := g.SpeedMps / g.RadiusM * elapsed

	const metersPerDegree = 111194.9
	lat := g.CenterLat + g.RadiusM/metersPerDegree*math.Sin(theta)
	lon := g.CenterLon + g.RadiusM/metersPerDegree*math.Cos(theta)/math.Cos(g.CenterLat*math.Pi/180)

	course := math.Mod(math.Atan2(math.Cos(theta), -math.Sin(theta))*180/math.Pi+360, 360)
	knots := g.SpeedMps / knotsToMps

	clock := now.Format("150405.00")
	date := now.Format("020106")

	latVal, latHemi := formatCoordinate(lat, true)
	lonVal, lonHemi := formatCoordinate(lon, false)

	rmc := fmt.Sprintf("GPRMC,%s,A,%s,%s,%s,%s,%.2f,%.1f,%s,,,A",
		clock, latVal, latHemi, lonVal, lonHemi, knots, course, date)
	gga := fmt.Sprintf("GPGGA,%s,%s,%s,%s,%s,1,08,%.1f,10.0,M,47.0,M,,",
		clock, latVal, latHemi, lonVal, lonHemi, g.HDOP)

	return []string{withChecksum(rmc), withChecksum(gga)}
}

// NewSyntheticMux creates a Mux fed by a SyntheticGenerator at the given
// interval. The returned generator can be tuned before Monitor starts.
func NewSyntheticMux(clock timeutil.Clock, interval time.Duration) (*Mux[*MockPort], *SyntheticGenerator) {
	gen := NewSyntheticGenerator(clock)
	r, w := io.Pipe()

	go func() {
		defer w.Close()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for range ticker.C {
			for _, s := range gen.Sentences() {
				if _, err := io.WriteString(w, s+"\r\n"); err != nil {
					return
				}
			}
		}
	}()

	m := NewMux(&MockPort{Reader: r, closer: r})
	m.SetClock(clock)
	return m, gen
}

// formatCoordinate renders decimal degrees as NMEA ddmm.mmmm (latitude) or
// dddmm.mmmm (longitude) with the hemisphere letter.
func formatCoordinate(deg float64, isLat bool) (string, string) {
	hemi := "N"
	if isLat {
		if deg < 0 {
			hemi = "S"
			deg = -deg
		}
	} else {
		hemi = "E"
		if deg < 0 {
			hemi = "W"
			deg = -deg
		}
	}

	whole := math.Floor(deg)
	minutes := (deg - whole) * 60

	if isLat {
		return fmt.Sprintf("%02.0f%07.4f", whole, minutes), hemi
	}
	return fmt.Sprintf("%03.0f%07.4f", whole, minutes), hemi
}

// withChecksum wraps a sentence body with the leading $ and NMEA checksum.
func withChecksum(body string) string {
	var sum byte
	for i := 0; i < len(body); i++ {
		sum ^= body[i]
	}
	return fmt.Sprintf("$%s*%02X", body, sum)
}
