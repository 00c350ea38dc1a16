// Package capture owns the camera/microphone stream, drives the overlay
// renderer at frame rate, and muxes composited video with audio into an
// exportable recording.
package capture

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"
	"sync"
	"time"
)

// Facing selects which camera a device should acquire.
type Facing string

const (
	// FacingEnvironment is the rear, road-facing camera.
	FacingEnvironment Facing = "environment"
	// FacingUser is the selfie camera.
	FacingUser Facing = "user"
)

// Constraints is the resolution hint and track selection passed to a device
// on acquisition.
type Constraints struct {
	Facing Facing
	Audio  bool
	Width  int
	Height int
}

// DefaultConstraints matches the capture controller's acquisition request.
func DefaultConstraints() Constraints {
	return Constraints{Facing: FacingEnvironment, Audio: true, Width: 1280, Height: 720}
}

// ErrCameraUnavailable is returned by devices that cannot provide a stream.
var ErrCameraUnavailable = errors.New("camera unavailable")

// VideoTrack produces raw frames on demand. Tracks are individually
// stoppable; Frame fails after Stop.
type VideoTrack interface {
	Frame(at time.Time) (*image.RGBA, error)
	Stop()
}

// AudioTrack produces PCM chunks on demand for a given span of time.
type AudioTrack interface {
	Chunk(d time.Duration) ([]byte, error)
	Stop()
}

// Stream is an acquired media stream with independent video and audio
// tracks. Audio may be nil when constraints did not request it.
type Stream struct {
	Video VideoTrack
	Audio AudioTrack
}

// Stop stops each track.
func (s *Stream) Stop() {
	if s.Video != nil {
		s.Video.Stop()
	}
	if s.Audio != nil {
		s.Audio.Stop()
	}
}

// Device abstracts the platform media capture collaborator.
type Device interface {
	Acquire(c Constraints) (*Stream, error)
}

// Audio format constants for the synthetic track and the recording header.
const (
	AudioSampleRate = 44100
	AudioChannels   = 1
	audioBytesDepth = 2 // 16-bit little-endian PCM
)

// SyntheticDevice is a camera/microphone substitute producing a moving test
// pattern and silent PCM. Used in dev mode and tests, where the pipeline
// must run without camera hardware.
type SyntheticDevice struct {
	// Unavailable makes Acquire fail, simulating missing or busy hardware.
	Unavailable bool
}

// Acquire returns a synthetic stream honouring the resolution hint.
func (d *SyntheticDevice) Acquire(c Constraints) (*Stream, error) {
	if d.Unavailable {
		return nil, ErrCameraUnavailable
	}

	w, h := c.Width, c.Height
	if w <= 0 || h <= 0 {
		w, h = 1280, 720
	}

	s := &Stream{Video: newPatternTrack(w, h)}
	if c.Audio {
		s.Audio = &silentAudioTrack{}
	}
	return s, nil
}

// patternTrack renders a horizontally drifting gradient bar pattern keyed to
// the frame time, so successive frames differ and stills are obvious.
type patternTrack struct {
	mu      sync.Mutex
	w, h    int
	stopped bool
	start   time.Time
}

func newPatternTrack(w, h int) *patternTrack {
	return &patternTrack{w: w, h: h}
}

func (t *patternTrack) Frame(at time.Time) (*image.RGBA, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return nil, errors.New("video track stopped")
	}
	if t.start.IsZero() {
		t.start = at
	}

	img := image.NewRGBA(image.Rect(0, 0, t.w, t.h))
	phase := at.Sub(t.start).Seconds() * 40 // pixels per second of drift

	for x := 0; x < t.w; x++ {
		v := uint8(127 + 127*math.Sin((float64(x)+phase)*2*math.Pi/128))
		col := color.RGBA{R: v / 3, G: v / 2, B: v, A: 255}
		draw.Draw(img, image.Rect(x, 0, x+1, t.h), &image.Uniform{col}, image.Point{}, draw.Src)
	}
	return img, nil
}

func (t *patternTrack) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
}

// silentAudioTrack emits zeroed 16-bit mono PCM at 44.1kHz.
type silentAudioTrack struct {
	mu      sync.Mutex
	stopped bool
}

func (t *silentAudioTrack) Chunk(d time.Duration) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return nil, errors.New("audio track stopped")
	}
	samples := int(float64(AudioSampleRate) * d.Seconds())
	if samples < 0 {
		return nil, fmt.Errorf("negative audio span %v", d)
	}
	return make([]byte, samples*AudioChannels*audioBytesDepth), nil
}

func (t *silentAudioTrack) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stopped = true
}
