package capture

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/gps.report/internal/fsutil"
	"github.com/banshee-data/gps.report/internal/monitoring"
	"github.com/banshee-data/gps.report/internal/overlay"
	"github.com/banshee-data/gps.report/internal/timeutil"
	"github.com/banshee-data/gps.report/internal/track"
	"github.com/banshee-data/gps.report/internal/units"
)

// State describes the camera pipeline.
type State string

const (
	StateCameraOff State = "camera_off"
	StateCameraOn  State = "camera_on"
	StateRecording State = "recording"
)

// RecordFrameRate is the composited frame rate while recording.
const RecordFrameRate = 30.0

var (
	ErrCameraOff   = errors.New("camera is not running")
	ErrNotTracking = errors.New("recording requires an active tracking session")
	ErrNoFrame     = errors.New("no composited frame available yet")
)

// StatusSource provides the tracking status composited onto each frame.
type StatusSource interface {
	Snapshot() track.Status
}

// Status is a point-in-time view of the capture pipeline.
type Status struct {
	State       State  `json:"state"`
	RecordingID string `json:"recording_id,omitempty"`
	FrameCount  uint64 `json:"frame_count"`
	HasExport   bool   `json:"has_export"`
	Unit        string `json:"unit"`
	LastError   string `json:"last_error,omitempty"`
}

// Controller owns the camera stream, the per-frame overlay compositing
// loop and the recording lifecycle. All state transitions are serialized
// behind one mutex; the capture loop carries a generation number so ticks
// that race a StopCamera cannot mutate a later generation's state.
type Controller struct {
	device   Device
	renderer *overlay.Renderer
	session  StatusSource
	clock    timeutil.Clock
	fs       fsutil.FileSystem

	mu          sync.Mutex
	state       State
	unit        string
	stream      *Stream
	recorder    *Recorder
	recordingID string
	generation  uint64
	stop        chan struct{}
	done        chan struct{}
	latest      *image.RGBA
	pendingBlob []byte
	lastError   string
}

// NewController wires a capture controller around a media device. The
// session source may not be nil; the controller composites its status onto
// every frame.
func NewController(device Device, renderer *overlay.Renderer, session StatusSource) *Controller {
	return &Controller{
		device:   device,
		renderer: renderer,
		session:  session,
		clock:    timeutil.RealClock{},
		fs:       fsutil.OSFileSystem{},
		state:    StateCameraOff,
		unit:     units.MPH,
	}
}

// SetClock replaces the wall clock, for tests.
func (c *Controller) SetClock(clock timeutil.Clock) {
	c.clock = clock
}

// SetFileSystem replaces the filesystem used for exports, for tests.
func (c *Controller) SetFileSystem(fs fsutil.FileSystem) {
	c.fs = fs
}

// SetUnit changes the display unit composited onto frames.
func (c *Controller) SetUnit(unit string) error {
	if !units.IsValid(unit) {
		return fmt.Errorf("invalid unit %q (must be one of %s)", unit, units.GetValidUnitsString())
	}
	c.mu.Lock()
	c.unit = unit
	c.mu.Unlock()
	return nil
}

// StartCamera acquires the media stream and starts the compositing loop.
// Acquisition failure leaves the controller in StateCameraOff with the
// error recorded.
func (c *Controller) StartCamera() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateCameraOff {
		return nil
	}

	stream, err := c.device.Acquire(DefaultConstraints())
	if err != nil {
		c.lastError = err.Error()
		return err
	}

	c.stream = stream
	c.state = StateCameraOn
	c.lastError = ""
	c.generation++
	c.stop = make(chan struct{})
	c.done = make(chan struct{})
	go c.run(c.generation, stream, c.stop, c.done)

	monitoring.Logf("capture: camera started")
	return nil
}

// StopCamera stops recording if one is in progress, releases the stream
// and shuts the compositing loop down synchronously.
func (c *Controller) StopCamera() {
	c.mu.Lock()
	if c.state == StateCameraOff {
		c.mu.Unlock()
		return
	}
	if c.state == StateRecording {
		c.finishRecordingLocked()
	}

	stream := c.stream
	stop := c.stop
	done := c.done
	c.stream = nil
	c.stop = nil
	c.done = nil
	c.latest = nil
	c.state = StateCameraOff
	c.generation++
	c.mu.Unlock()

	close(stop)
	<-done
	stream.Stop()
	monitoring.Logf("capture: camera stopped")
}

// StartRecording begins accumulating composited frames. The camera must be
// on and the tracking session active.
func (c *Controller) StartRecording() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case StateRecording:
		return nil
	case StateCameraOff:
		return ErrCameraOff
	}
	if c.session.Snapshot().State != track.StateTracking {
		return ErrNotTracking
	}

	cons := DefaultConstraints()
	c.recordingID = uuid.New().String()
	c.recorder = NewRecorder(c.recordingID, cons.Width, cons.Height, RecordFrameRate, c.clock.Now().UnixMilli())
	c.state = StateRecording

	monitoring.Logf("capture: recording %s started", c.recordingID)
	return nil
}

// StopRecording finalizes the in-progress recording into an in-memory
// export buffer and returns the camera to StateCameraOn.
func (c *Controller) StopRecording() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateRecording {
		return nil
	}
	c.finishRecordingLocked()
	c.state = StateCameraOn
	return nil
}

// finishRecordingLocked finalizes the current recorder into the pending
// export buffer. Caller holds c.mu.
func (c *Controller) finishRecordingLocked() {
	blob, err := c.recorder.Finalize()
	if err != nil {
		c.lastError = err.Error()
		monitoring.Logf("capture: failed to finalize recording %s: %v", c.recordingID, err)
	} else if blob != nil {
		c.pendingBlob = blob
		monitoring.Logf("capture: recording %s finalized (%d bytes)", c.recordingID, len(blob))
	}
	c.recorder = nil
	c.recordingID = ""
}

// ExportRecording writes the pending export buffer to the filesystem and
// clears it, returning the filename and blob. With nothing to export it
// returns empty values and no error.
func (c *Controller) ExportRecording() (string, []byte, error) {
	c.mu.Lock()
	blob := c.pendingBlob
	c.pendingBlob = nil
	now := c.clock.Now()
	c.mu.Unlock()

	if blob == nil {
		return "", nil, nil
	}

	name := fmt.Sprintf("speedometer-recording-%s%s",
		now.UTC().Truncate(time.Second).Format("2006-01-02T15-04-05Z"), FileExtension)
	if err := c.fs.WriteFile(name, blob, 0644); err != nil {
		c.mu.Lock()
		c.pendingBlob = blob
		c.mu.Unlock()
		return "", nil, fmt.Errorf("failed to write recording %s: %w", name, err)
	}

	monitoring.Logf("capture: exported %s (%d bytes)", name, len(blob))
	return name, blob, nil
}

// Snapshot returns the current capture status.
func (c *Controller) Snapshot() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := Status{
		State:       c.state,
		RecordingID: c.recordingID,
		HasExport:   c.pendingBlob != nil,
		Unit:        c.unit,
		LastError:   c.lastError,
	}
	if c.recorder != nil {
		st.FrameCount = c.recorder.FrameCount()
	}
	return st
}

// PreviewJPEG encodes the most recent composited frame.
func (c *Controller) PreviewJPEG() ([]byte, error) {
	c.mu.Lock()
	frame := c.latest
	c.mu.Unlock()

	if frame == nil {
		return nil, ErrNoFrame
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, frame, &jpeg.Options{Quality: 85}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// run is the compositing loop. It pulls a frame from the stream on every
// tick, composites the tracking overlay and, while recording, appends the
// encoded frame and matching audio to the recorder.
func (c *Controller) run(gen uint64, stream *Stream, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	interval := time.Second / time.Duration(RecordFrameRate)
	ticker := c.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case now := <-ticker.C():
			c.tick(gen, stream, now, interval)
		}
	}
}

func (c *Controller) tick(gen uint64, stream *Stream, now time.Time, interval time.Duration) {
	frame, err := stream.Video.Frame(now)
	if err != nil {
		c.mu.Lock()
		if gen == c.generation {
			c.lastError = err.Error()
		}
		c.mu.Unlock()
		return
	}

	st := c.session.Snapshot()

	c.mu.Lock()
	unit := c.unit
	c.mu.Unlock()

	composited := c.renderer.Render(frame, overlay.Status{
		SpeedMph:  st.SpeedMph,
		Unit:      unit,
		Connected: st.Connected,
	})

	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.generation {
		return
	}
	c.latest = composited
	if c.state != StateRecording {
		return
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, composited, &jpeg.Options{Quality: 85}); err != nil {
		c.lastError = err.Error()
		return
	}
	ts := now.UnixMilli()
	if err := c.recorder.AppendVideo(buf.Bytes(), ts); err != nil {
		c.lastError = err.Error()
		return
	}
	if stream.Audio != nil {
		if pcm, err := stream.Audio.Chunk(interval); err == nil && len(pcm) > 0 {
			if err := c.recorder.AppendAudio(pcm, ts); err != nil {
				c.lastError = err.Error()
			}
		}
	}
}
