package track

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/gps.report/internal/geo"
	"github.com/banshee-data/gps.report/internal/gpsmux"
	"github.com/banshee-data/gps.report/internal/monitoring"
	"github.com/banshee-data/gps.report/internal/timeutil"
)

// State is the tracking session lifecycle state.
type State string

const (
	// StateIdle means no position subscription is active.
	StateIdle State = "idle"
	// StateTracking means fixes are being consumed.
	StateTracking State = "tracking"
)

// ErrUnsupportedPlatform is returned by Start when no position source
// capability exists.
var ErrUnsupportedPlatform = errors.New("no position source available")

// Status is a read-only snapshot of session state. Speeds are mph; unit
// conversion is applied by the presentation layer.
type Status struct {
	SessionID   string   `json:"session_id,omitempty"`
	State       State    `json:"state"`
	SpeedMph    float64  `json:"speed_mph"`
	MaxSpeedMph float64  `json:"max_speed_mph"`
	AccuracyM   *float64 `json:"accuracy_m,omitempty"`
	HeadingDeg  *float64 `json:"heading_deg,omitempty"`
	Connected   bool     `json:"connected"`
	LastError   string   `json:"last_error,omitempty"`
	StartedAt   int64    `json:"started_at_ms,omitempty"`
}

// Session owns the position subscription and every externally observable
// speed field. All fields are mutated only by the session's own handlers
// behind its mutex; everything else reads snapshots.
type Session struct {
	source gpsmux.Source
	clock  timeutil.Clock

	mu         sync.Mutex
	state      State
	sessionID  uuid.UUID
	subID      string
	generation uint64
	startedAt  time.Time

	lastFix  *geo.Fix
	smoother *Smoother

	speedMph    float64
	maxSpeedMph float64
	accuracyM   *float64
	headingDeg  *float64
	connected   bool
	lastError   string
}

// NewSession creates an idle session over the given position source. A nil
// source is permitted; Start will report ErrUnsupportedPlatform.
func NewSession(source gpsmux.Source) *Session {
	return &Session{
		source:   source,
		clock:    timeutil.RealClock{},
		state:    StateIdle,
		smoother: NewSmoother(),
	}
}

// SetClock replaces the session clock for tests.
func (s *Session) SetClock(c timeutil.Clock) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clock = c
}

// Start transitions Idle→Tracking and subscribes to the position source with
// high accuracy, a 10s timeout and a 1s staleness bound. The last fix,
// smoothing window and error field are cleared; max speed is not. No-op when
// already tracking.
func (s *Session) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateTracking {
		return nil
	}
	if s.source == nil {
		return ErrUnsupportedPlatform
	}

	s.generation++
	s.sessionID = uuid.New()
	s.startedAt = s.clock.Now()
	s.lastFix = nil
	s.smoother.Reset()
	s.lastError = ""
	s.speedMph = 0

	id, ch := s.source.Subscribe(gpsmux.Config{
		HighAccuracy: true,
		Timeout:      10 * time.Second,
		MaxFixAge:    time.Second,
	})
	s.subID = id
	s.state = StateTracking

	go s.consume(s.generation, ch)

	monitoring.Logf("track: session %s started", s.sessionID)
	return nil
}

// Stop unsubscribes from the source and transitions Tracking→Idle. Current
// speed resets to zero and connected drops; max speed, accuracy and heading
// are preserved. After Stop returns, no late delivery from the cancelled
// subscription can mutate state. No-op when idle.
func (s *Session) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateIdle {
		return
	}

	// Bumping the generation invalidates any update already in flight.
	s.generation++
	s.source.Unsubscribe(s.subID)
	s.subID = ""
	s.state = StateIdle
	s.connected = false
	s.speedMph = 0

	monitoring.Logf("track: session %s stopped", s.sessionID)
}

// ResetMaxSpeed zeroes the max speed. Valid in either state.
func (s *Session) ResetMaxSpeed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.maxSpeedMph = 0
}

// Snapshot returns a copy of the externally observable fields.
func (s *Session) Snapshot() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		State:       s.state,
		SpeedMph:    s.speedMph,
		MaxSpeedMph: s.maxSpeedMph,
		AccuracyM:   s.accuracyM,
		HeadingDeg:  s.headingDeg,
		Connected:   s.connected,
		LastError:   s.lastError,
	}
	if s.state == StateTracking {
		st.SessionID = s.sessionID.String()
		st.StartedAt = s.startedAt.UnixMilli()
	}
	return st
}

// consume drains one subscription's channel. The loop ends when the mux
// closes the channel on Unsubscribe.
func (s *Session) consume(gen uint64, ch <-chan gpsmux.Update) {
	for u := range ch {
		s.handleUpdate(gen, u)
	}
}

func (s *Session) handleUpdate(gen uint64, u gpsmux.Update) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Late delivery from a subscription cancelled after this update was
	// queued; drop it.
	if gen != s.generation || s.state != StateTracking {
		return
	}

	if u.Err != nil {
		s.connected = false
		s.lastError = describeSourceError(u.Err)
		monitoring.Logf("track: source failure: %v", u.Err)
		return
	}
	if u.Fix == nil {
		return
	}

	fix := *u.Fix
	s.connected = true
	s.lastError = ""
	s.accuracyM = fix.AccuracyM
	if fix.HeadingDeg != nil {
		// Heading is sticky: receivers omit it below walking pace and
		// the last known heading stays displayed.
		s.headingDeg = fix.HeadingDeg
	}

	raw := Estimate(fix, s.lastFix)
	s.speedMph = s.smoother.Push(raw)
	if s.speedMph > s.maxSpeedMph {
		s.maxSpeedMph = s.speedMph
	}
	s.lastFix = &fix
}

// describeSourceError renders the failure taxonomy as the human-readable
// current-error field.
func describeSourceError(serr *gpsmux.SourceError) string {
	switch serr.Code {
	case gpsmux.ErrPermissionDenied:
		return "position access denied"
	case gpsmux.ErrPositionUnavailable:
		return "position unavailable"
	case gpsmux.ErrTimeout:
		return "position request timed out"
	default:
		return fmt.Sprintf("position error: %s", serr.Message)
	}
}
