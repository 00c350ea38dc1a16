package api

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/banshee-data/gps.report/internal/capture"
	"github.com/banshee-data/gps.report/internal/httputil"
	"github.com/banshee-data/gps.report/internal/monitoring"
	"github.com/banshee-data/gps.report/internal/track"
	"github.com/banshee-data/gps.report/internal/units"
	"github.com/banshee-data/gps.report/internal/version"
)

// ANSI escape codes for cyan and reset
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

// Server exposes the tracking session and capture pipeline over HTTP.
// Speeds are held internally in mph and converted to the display unit at
// the API boundary.
type Server struct {
	session *track.Session
	capture *capture.Controller

	mu            sync.Mutex
	units         string
	eventInterval time.Duration
}

func NewServer(session *track.Session, controller *capture.Controller, displayUnits string) *Server {
	if !units.IsValid(displayUnits) {
		displayUnits = units.MPH
	}
	return &Server{
		session:       session,
		capture:       controller,
		units:         displayUnits,
		eventInterval: 500 * time.Millisecond,
	}
}

// SetEventInterval changes the status stream cadence, for tests.
func (s *Server) SetEventInterval(d time.Duration) {
	s.mu.Lock()
	s.eventInterval = d
	s.mu.Unlock()
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 400:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	default:
		return strconv.Itoa(statusCode)
	}
}

// LoggingMiddleware logs method, path, query, status, and duration
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", s.showStatus)
	mux.HandleFunc("/api/session/start", s.startSession)
	mux.HandleFunc("/api/session/stop", s.stopSession)
	mux.HandleFunc("/api/session/reset-max", s.resetMaxSpeed)
	mux.HandleFunc("/api/camera/start", s.startCamera)
	mux.HandleFunc("/api/camera/stop", s.stopCamera)
	mux.HandleFunc("/api/recording/start", s.startRecording)
	mux.HandleFunc("/api/recording/stop", s.stopRecording)
	mux.HandleFunc("/api/recording/export", s.exportRecording)
	mux.HandleFunc("/api/preview", s.showPreview)
	mux.HandleFunc("/api/events", s.streamEvents)
	mux.HandleFunc("/api/units", s.setUnits)
	mux.HandleFunc("/api/config", s.showConfig)
	return mux
}

// sessionStatus is the unit-converted view of a tracking session. The raw
// mph fields never cross the API boundary.
type sessionStatus struct {
	SessionID   string      `json:"session_id,omitempty"`
	State       track.State `json:"state"`
	Speed       float64     `json:"speed"`
	MaxSpeed    float64     `json:"max_speed"`
	AccuracyM   *float64    `json:"accuracy_m,omitempty"`
	HeadingDeg  *float64    `json:"heading_deg,omitempty"`
	Connected   bool        `json:"connected"`
	LastError   string      `json:"last_error,omitempty"`
	StartedAtMs int64       `json:"started_at_ms,omitempty"`
}

type statusResponse struct {
	Units   string         `json:"units"`
	Session sessionStatus  `json:"session"`
	Capture capture.Status `json:"capture"`
}

func (s *Server) displayUnits() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.units
}

func (s *Server) statusSnapshot() statusResponse {
	unit := s.displayUnits()
	st := s.session.Snapshot()
	return statusResponse{
		Units: unit,
		Session: sessionStatus{
			SessionID:   st.SessionID,
			State:       st.State,
			Speed:       units.ConvertSpeed(st.SpeedMph, unit),
			MaxSpeed:    units.ConvertSpeed(st.MaxSpeedMph, unit),
			AccuracyM:   st.AccuracyM,
			HeadingDeg:  st.HeadingDeg,
			Connected:   st.Connected,
			LastError:   st.LastError,
			StartedAtMs: st.StartedAt,
		},
		Capture: s.capture.Snapshot(),
	}
}

func (s *Server) showStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, s.statusSnapshot())
}

func (s *Server) startSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	if err := s.session.Start(); err != nil {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable,
			fmt.Sprintf("failed to start tracking: %v", err))
		return
	}
	httputil.WriteJSONOK(w, s.statusSnapshot())
}

func (s *Server) stopSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	s.session.Stop()
	httputil.WriteJSONOK(w, s.statusSnapshot())
}

func (s *Server) resetMaxSpeed(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	s.session.ResetMaxSpeed()
	httputil.WriteJSONOK(w, s.statusSnapshot())
}

func (s *Server) startCamera(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	if err := s.capture.StartCamera(); err != nil {
		httputil.WriteJSONError(w, http.StatusServiceUnavailable,
			fmt.Sprintf("failed to start camera: %v", err))
		return
	}
	httputil.WriteJSONOK(w, s.statusSnapshot())
}

func (s *Server) stopCamera(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	s.capture.StopCamera()
	httputil.WriteJSONOK(w, s.statusSnapshot())
}

func (s *Server) startRecording(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	if err := s.capture.StartRecording(); err != nil {
		httputil.Conflict(w, fmt.Sprintf("cannot start recording: %v", err))
		return
	}
	httputil.WriteJSONOK(w, s.statusSnapshot())
}

func (s *Server) stopRecording(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	if err := s.capture.StopRecording(); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to stop recording: %v", err))
		return
	}
	httputil.WriteJSONOK(w, s.statusSnapshot())
}

// exportRecording serves the finalized recording as a download and clears
// the export buffer. With nothing buffered it responds 204.
func (s *Server) exportRecording(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}

	name, blob, err := s.capture.ExportRecording()
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to export recording: %v", err))
		return
	}
	if blob == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	w.Header().Set("Content-Length", strconv.Itoa(len(blob)))
	if _, err := w.Write(blob); err != nil {
		monitoring.Logf("failed to write recording download: %v", err)
	}
}

func (s *Server) showPreview(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	data, err := s.capture.PreviewJPEG()
	if err != nil {
		httputil.NotFound(w, fmt.Sprintf("no preview available: %v", err))
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Write(data)
}

// streamEvents pushes status snapshots as server-sent events until the
// client disconnects.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		httputil.InternalServerError(w, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	s.mu.Lock()
	interval := s.eventInterval
	s.mu.Unlock()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := writeEvent(w, s.statusSnapshot()); err != nil {
			return
		}
		flusher.Flush()

		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}

func writeEvent(w io.Writer, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}

func (s *Server) setUnits(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}

	unit := r.FormValue("units")
	if !units.IsValid(unit) {
		httputil.BadRequest(w, fmt.Sprintf("invalid units %q (must be one of %s)",
			unit, units.GetValidUnitsString()))
		return
	}

	s.mu.Lock()
	s.units = unit
	s.mu.Unlock()
	if err := s.capture.SetUnit(unit); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to apply units: %v", err))
		return
	}

	httputil.WriteJSONOK(w, s.statusSnapshot())
}

func (s *Server) showConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	config := map[string]interface{}{
		"units":      s.displayUnits(),
		"version":    version.Version,
		"git_sha":    version.GitSHA,
		"build_time": version.BuildTime,
	}
	httputil.WriteJSONOK(w, config)
}
