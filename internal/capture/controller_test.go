package capture

import (
	"bytes"
	"errors"
	"image/jpeg"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/banshee-data/gps.report/internal/fsutil"
	"github.com/banshee-data/gps.report/internal/overlay"
	"github.com/banshee-data/gps.report/internal/timeutil"
	"github.com/banshee-data/gps.report/internal/track"
)

// fakeStatus is a scripted StatusSource.
type fakeStatus struct {
	mu sync.Mutex
	st track.Status
}

func (f *fakeStatus) Snapshot() track.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.st
}

func (f *fakeStatus) set(st track.Status) {
	f.mu.Lock()
	f.st = st
	f.mu.Unlock()
}

type captureHarness struct {
	controller *Controller
	clock      *timeutil.MockClock
	fs         *fsutil.MemoryFileSystem
	status     *fakeStatus
}

func newCaptureHarness(t *testing.T, device Device) *captureHarness {
	t.Helper()

	renderer, err := overlay.NewRenderer()
	if err != nil {
		t.Fatalf("NewRenderer: %v", err)
	}

	status := &fakeStatus{}
	clock := timeutil.NewMockClock(time.Date(2024, 3, 1, 12, 30, 45, 0, time.UTC))
	fs := fsutil.NewMemoryFileSystem()

	c := NewController(device, renderer, status)
	c.SetClock(clock)
	c.SetFileSystem(fs)

	t.Cleanup(c.StopCamera)
	return &captureHarness{controller: c, clock: clock, fs: fs, status: status}
}

func (h *captureHarness) startTracking() {
	h.status.set(track.Status{State: track.StateTracking, SpeedMph: 42.5, Connected: true})
}

// driveFrames advances the mock clock until the recorder has accumulated at
// least n frames.
func (h *captureHarness) driveFrames(t *testing.T, n uint64) {
	t.Helper()
	interval := time.Second / time.Duration(RecordFrameRate)
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		h.clock.Advance(interval)
		if h.controller.Snapshot().FrameCount >= n {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d recorded frames (have %d)", n, h.controller.Snapshot().FrameCount)
}

func TestStartCameraUnavailable(t *testing.T) {
	h := newCaptureHarness(t, &SyntheticDevice{Unavailable: true})

	err := h.controller.StartCamera()
	if !errors.Is(err, ErrCameraUnavailable) {
		t.Fatalf("StartCamera error = %v, want ErrCameraUnavailable", err)
	}

	st := h.controller.Snapshot()
	if st.State != StateCameraOff {
		t.Errorf("state = %q, want %q", st.State, StateCameraOff)
	}
	if st.LastError == "" {
		t.Error("expected last error to be recorded")
	}
}

func TestStartCamera(t *testing.T) {
	h := newCaptureHarness(t, &SyntheticDevice{})

	if err := h.controller.StartCamera(); err != nil {
		t.Fatalf("StartCamera: %v", err)
	}
	if st := h.controller.Snapshot(); st.State != StateCameraOn {
		t.Errorf("state = %q, want %q", st.State, StateCameraOn)
	}

	// Starting again is a no-op.
	if err := h.controller.StartCamera(); err != nil {
		t.Errorf("second StartCamera: %v", err)
	}
}

func TestStartRecordingRequiresCamera(t *testing.T) {
	h := newCaptureHarness(t, &SyntheticDevice{})
	h.startTracking()

	if err := h.controller.StartRecording(); !errors.Is(err, ErrCameraOff) {
		t.Fatalf("StartRecording error = %v, want ErrCameraOff", err)
	}
}

func TestStartRecordingRequiresTracking(t *testing.T) {
	h := newCaptureHarness(t, &SyntheticDevice{})

	if err := h.controller.StartCamera(); err != nil {
		t.Fatalf("StartCamera: %v", err)
	}
	if err := h.controller.StartRecording(); !errors.Is(err, ErrNotTracking) {
		t.Fatalf("StartRecording error = %v, want ErrNotTracking", err)
	}

	st := h.controller.Snapshot()
	if st.State != StateCameraOn {
		t.Errorf("state = %q, want %q", st.State, StateCameraOn)
	}
	if st.HasExport {
		t.Error("rejected recording should leave no export buffer")
	}
}

func TestRecordAndExport(t *testing.T) {
	h := newCaptureHarness(t, &SyntheticDevice{})
	h.startTracking()

	if err := h.controller.StartCamera(); err != nil {
		t.Fatalf("StartCamera: %v", err)
	}
	if err := h.controller.StartRecording(); err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	if st := h.controller.Snapshot(); st.State != StateRecording || st.RecordingID == "" {
		t.Fatalf("snapshot = %+v, want recording state with ID", st)
	}

	h.driveFrames(t, 3)

	if err := h.controller.StopRecording(); err != nil {
		t.Fatalf("StopRecording: %v", err)
	}
	st := h.controller.Snapshot()
	if st.State != StateCameraOn {
		t.Errorf("state = %q, want %q", st.State, StateCameraOn)
	}
	if !st.HasExport {
		t.Fatal("expected an export buffer after stopping the recording")
	}

	want := "speedometer-recording-" +
		h.clock.Now().UTC().Truncate(time.Second).Format("2006-01-02T15-04-05Z") + FileExtension
	name, blob, err := h.controller.ExportRecording()
	if err != nil {
		t.Fatalf("ExportRecording: %v", err)
	}
	if name != want {
		t.Errorf("export name = %q, want %q", name, want)
	}
	if !h.fs.Exists(name) {
		t.Errorf("export file %q not written", name)
	}

	header, chunks, err := ReadRecording(blob)
	if err != nil {
		t.Fatalf("ReadRecording: %v", err)
	}
	if header.FrameCount < 3 {
		t.Errorf("frame count = %d, want >= 3", header.FrameCount)
	}
	if header.AudioChunkCount == 0 {
		t.Error("expected audio chunks alongside video frames")
	}
	for _, ch := range chunks {
		if ch.Kind == KindVideo {
			if _, err := jpeg.DecodeConfig(bytes.NewReader(ch.Payload)); err != nil {
				t.Fatalf("video chunk is not a JPEG: %v", err)
			}
		}
	}

	// The buffer is cleared after exporting.
	name, blob, err = h.controller.ExportRecording()
	if err != nil || name != "" || blob != nil {
		t.Errorf("second export = (%q, %d bytes, %v), want empty no-op", name, len(blob), err)
	}
}

func TestStopCameraFinalizesRecording(t *testing.T) {
	h := newCaptureHarness(t, &SyntheticDevice{})
	h.startTracking()

	if err := h.controller.StartCamera(); err != nil {
		t.Fatalf("StartCamera: %v", err)
	}
	if err := h.controller.StartRecording(); err != nil {
		t.Fatalf("StartRecording: %v", err)
	}
	h.driveFrames(t, 1)

	h.controller.StopCamera()

	st := h.controller.Snapshot()
	if st.State != StateCameraOff {
		t.Errorf("state = %q, want %q", st.State, StateCameraOff)
	}
	if !st.HasExport {
		t.Error("stopping the camera mid-recording should finalize the export buffer")
	}

	// Stopping again is harmless.
	h.controller.StopCamera()
}

func TestExportWithoutRecording(t *testing.T) {
	h := newCaptureHarness(t, &SyntheticDevice{})

	name, blob, err := h.controller.ExportRecording()
	if err != nil || name != "" || blob != nil {
		t.Errorf("export = (%q, %d bytes, %v), want empty no-op", name, len(blob), err)
	}
	if files := h.fs.Files(); len(files) != 0 {
		t.Errorf("no-op export wrote files: %v", files)
	}
}

func TestPreviewJPEG(t *testing.T) {
	h := newCaptureHarness(t, &SyntheticDevice{})

	if _, err := h.controller.PreviewJPEG(); !errors.Is(err, ErrNoFrame) {
		t.Fatalf("PreviewJPEG error = %v, want ErrNoFrame", err)
	}

	if err := h.controller.StartCamera(); err != nil {
		t.Fatalf("StartCamera: %v", err)
	}

	// Wait for the loop to composite at least one frame.
	interval := time.Second / time.Duration(RecordFrameRate)
	deadline := time.Now().Add(5 * time.Second)
	var data []byte
	for time.Now().Before(deadline) {
		h.clock.Advance(interval)
		var err error
		if data, err = h.controller.PreviewJPEG(); err == nil {
			break
		}
		time.Sleep(time.Millisecond)
	}
	if data == nil {
		t.Fatal("timed out waiting for a composited preview frame")
	}

	cfg, err := jpeg.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("preview is not a JPEG: %v", err)
	}
	cons := DefaultConstraints()
	if cfg.Width != cons.Width || cfg.Height != cons.Height {
		t.Errorf("preview is %dx%d, want %dx%d", cfg.Width, cfg.Height, cons.Width, cons.Height)
	}
}

func TestSetUnit(t *testing.T) {
	h := newCaptureHarness(t, &SyntheticDevice{})

	if err := h.controller.SetUnit("kph"); err != nil {
		t.Fatalf("SetUnit: %v", err)
	}
	if st := h.controller.Snapshot(); st.Unit != "kph" {
		t.Errorf("unit = %q, want kph", st.Unit)
	}

	err := h.controller.SetUnit("furlongs")
	if err == nil {
		t.Fatal("expected error for invalid unit")
	}
	if !strings.Contains(err.Error(), "furlongs") {
		t.Errorf("error %q should name the rejected unit", err)
	}
}
