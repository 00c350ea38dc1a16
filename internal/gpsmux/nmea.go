package gpsmux

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/banshee-data/gps.report/internal/geo"
)

// SentenceKind identifies the NMEA sentence types the mux consumes.
type SentenceKind int

const (
	// SentenceRMC is the recommended minimum fix: position, speed, course,
	// date and time.
	SentenceRMC SentenceKind = iota
	// SentenceGGA carries fix quality and HDOP, used for accuracy.
	SentenceGGA
)

const (
	knotsToMps = 0.514444

	// hdopUEREMeters converts HDOP to an approximate horizontal accuracy
	// by scaling with a nominal user-equivalent range error.
	hdopUEREMeters = 5.0
)

// errIgnoredSentence marks sentence types the mux does not consume (GSV, GSA,
// VTG and friends). Not a failure.
var errIgnoredSentence = errors.New("ignored sentence type")

// Sentence is one parsed NMEA sentence.
type Sentence struct {
	Kind  SentenceKind
	Valid bool

	// Fix is populated for valid RMC sentences.
	Fix geo.Fix

	// AccuracyM is populated for GGA sentences carrying an HDOP.
	AccuracyM *float64
}

// ParseSentence parses a single NMEA 0183 sentence. Sentences with a bad
// checksum or malformed fields return an error; sentence types other than
// RMC and GGA return errIgnoredSentence.
func ParseSentence(line string) (*Sentence, error) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "$") {
		return nil, fmt.Errorf("not an NMEA sentence: %q", line)
	}

	body := line[1:]
	if star := strings.LastIndexByte(body, '*'); star >= 0 {
		want := body[star+1:]
		body = body[:star]
		var sum byte
		for i := 0; i < len(body); i++ {
			sum ^= body[i]
		}
		if got := fmt.Sprintf("%02X", sum); !strings.EqualFold(got, want) {
			return nil, fmt.Errorf("checksum mismatch: got %s, want %s", got, want)
		}
	}

	fields := strings.Split(body, ",")
	talker := fields[0]
	if len(talker) < 5 {
		return nil, fmt.Errorf("malformed sentence type: %q", talker)
	}

	switch talker[len(talker)-3:] {
	case "RMC":
		return parseRMC(fields)
	case "GGA":
		return parseGGA(fields)
	default:
		return nil, errIgnoredSentence
	}
}

// parseRMC parses $--RMC: time, status, lat, N/S, lon, E/W, speed (knots),
// course, date.
func parseRMC(fields []string) (*Sentence, error) {
	if len(fields) < 10 {
		return nil, fmt.Errorf("RMC sentence has %d fields, want at least 10", len(fields))
	}

	s := &Sentence{Kind: SentenceRMC}
	if fields[2] != "A" {
		// Void fix: receiver is alive but has no position.
		return s, nil
	}
	s.Valid = true

	lat, err := parseCoordinate(fields[3], fields[4])
	if err != nil {
		return nil, fmt.Errorf("RMC latitude: %w", err)
	}
	lon, err := parseCoordinate(fields[5], fields[6])
	if err != nil {
		return nil, fmt.Errorf("RMC longitude: %w", err)
	}
	ts, err := parseDateTime(fields[9], fields[1])
	if err != nil {
		return nil, fmt.Errorf("RMC timestamp: %w", err)
	}

	s.Fix = geo.Fix{Lat: lat, Lon: lon, TimestampMs: ts}

	if fields[7] != "" {
		knots, err := strconv.ParseFloat(fields[7], 64)
		if err != nil {
			return nil, fmt.Errorf("RMC speed: %w", err)
		}
		mps := knots * knotsToMps
		s.Fix.SpeedMps = &mps
	}
	if fields[8] != "" {
		course, err := strconv.ParseFloat(fields[8], 64)
		if err != nil {
			return nil, fmt.Errorf("RMC course: %w", err)
		}
		s.Fix.HeadingDeg = &course
	}

	return s, nil
}

// parseGGA parses $--GGA: time, lat, N/S, lon, E/W, quality, satellites,
// HDOP, altitude, ...
func parseGGA(fields []string) (*Sentence, error) {
	if len(fields) < 9 {
		return nil, fmt.Errorf("GGA sentence has %d fields, want at least 9", len(fields))
	}

	s := &Sentence{Kind: SentenceGGA}
	s.Valid = fields[6] != "" && fields[6] != "0"

	if fields[8] != "" {
		hdop, err := strconv.ParseFloat(fields[8], 64)
		if err != nil {
			return nil, fmt.Errorf("GGA HDOP: %w", err)
		}
		acc := hdop * hdopUEREMeters
		s.AccuracyM = &acc
	}

	return s, nil
}

// parseCoordinate converts NMEA ddmm.mmmm / dddmm.mmmm plus hemisphere into
// signed decimal degrees.
func parseCoordinate(value, hemisphere string) (float64, error) {
	if value == "" || hemisphere == "" {
		return 0, errors.New("empty coordinate")
	}

	dot := strings.IndexByte(value, '.')
	if dot < 3 {
		return 0, fmt.Errorf("coordinate too short: %q", value)
	}

	degrees, err := strconv.ParseFloat(value[:dot-2], 64)
	if err != nil {
		return 0, err
	}
	minutes, err := strconv.ParseFloat(value[dot-2:], 64)
	if err != nil {
		return 0, err
	}

	deg := degrees + minutes/60
	switch hemisphere {
	case "N", "E":
		return deg, nil
	case "S", "W":
		return -deg, nil
	default:
		return 0, fmt.Errorf("unknown hemisphere %q", hemisphere)
	}
}

// parseDateTime combines RMC ddmmyy and hhmmss.sss into Unix milliseconds.
func parseDateTime(date, clock string) (int64, error) {
	if len(date) != 6 || len(clock) < 6 {
		return 0, fmt.Errorf("malformed date %q / time %q", date, clock)
	}

	day, err := strconv.Atoi(date[0:2])
	if err != nil {
		return 0, err
	}
	month, err := strconv.Atoi(date[2:4])
	if err != nil {
		return 0, err
	}
	year, err := strconv.Atoi(date[4:6])
	if err != nil {
		return 0, err
	}

	hour, err := strconv.Atoi(clock[0:2])
	if err != nil {
		return 0, err
	}
	minute, err := strconv.Atoi(clock[2:4])
	if err != nil {
		return 0, err
	}
	seconds, err := strconv.ParseFloat(clock[4:], 64)
	if err != nil {
		return 0, err
	}

	whole := int(seconds)
	nanos := int((seconds - float64(whole)) * 1e9)
	t := time.Date(2000+year, time.Month(month), day, hour, minute, whole, nanos, time.UTC)
	return t.UnixMilli(), nil
}
