package capture

import (
	"bytes"
	"testing"
)

func TestRecorderRoundTrip(t *testing.T) {
	r := NewRecorder("rec-1", 1280, 720, 30, 999)

	if err := r.AppendVideo([]byte("frame-a"), 1000); err != nil {
		t.Fatalf("AppendVideo: %v", err)
	}
	if err := r.AppendAudio([]byte{0, 0, 0, 0}, 1000); err != nil {
		t.Fatalf("AppendAudio: %v", err)
	}
	if err := r.AppendVideo([]byte("frame-b"), 1033); err != nil {
		t.Fatalf("AppendVideo: %v", err)
	}

	blob, err := r.Finalize()
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if blob == nil {
		t.Fatal("expected non-empty blob")
	}

	header, chunks, err := ReadRecording(blob)
	if err != nil {
		t.Fatalf("ReadRecording: %v", err)
	}

	if header.Version != ContainerVersion {
		t.Errorf("version = %q, want %q", header.Version, ContainerVersion)
	}
	if header.RecordingID != "rec-1" {
		t.Errorf("recording ID = %q, want rec-1", header.RecordingID)
	}
	if header.Width != 1280 || header.Height != 720 {
		t.Errorf("dimensions = %dx%d, want 1280x720", header.Width, header.Height)
	}
	if header.FrameCount != 2 {
		t.Errorf("frame count = %d, want 2", header.FrameCount)
	}
	if header.AudioChunkCount != 1 {
		t.Errorf("audio chunk count = %d, want 1", header.AudioChunkCount)
	}
	if header.StartMs != 1000 || header.EndMs != 1033 {
		t.Errorf("span = [%d, %d], want [1000, 1033]", header.StartMs, header.EndMs)
	}

	if len(chunks) != 3 {
		t.Fatalf("got %d chunks, want 3", len(chunks))
	}
	if chunks[0].Kind != KindVideo || !bytes.Equal(chunks[0].Payload, []byte("frame-a")) {
		t.Errorf("chunk 0 = %c %q", chunks[0].Kind, chunks[0].Payload)
	}
	if chunks[1].Kind != KindAudio || chunks[1].TimestampMs != 1000 {
		t.Errorf("chunk 1 = %c at %d", chunks[1].Kind, chunks[1].TimestampMs)
	}
	if chunks[2].Kind != KindVideo || !bytes.Equal(chunks[2].Payload, []byte("frame-b")) {
		t.Errorf("chunk 2 = %c %q", chunks[2].Kind, chunks[2].Payload)
	}
}

func TestRecorderEmptyFinalize(t *testing.T) {
	r := NewRecorder("rec-2", 640, 480, 30, 0)

	blob, err := r.Finalize()
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}
	if blob != nil {
		t.Errorf("empty recording finalized to %d bytes, want nil", len(blob))
	}
}

func TestRecorderRejectsEmptyChunk(t *testing.T) {
	r := NewRecorder("rec-3", 640, 480, 30, 0)

	if err := r.AppendVideo(nil, 1000); err == nil {
		t.Error("expected error for empty video chunk")
	}
	if err := r.AppendAudio([]byte{}, 1000); err == nil {
		t.Error("expected error for empty audio chunk")
	}
}

func TestReadRecordingRejectsCorrupt(t *testing.T) {
	if _, _, err := ReadRecording([]byte("not a recording")); err == nil {
		t.Error("expected error for foreign data")
	}

	r := NewRecorder("rec-4", 640, 480, 30, 0)
	if err := r.AppendVideo([]byte("frame"), 1000); err != nil {
		t.Fatalf("AppendVideo: %v", err)
	}
	blob, err := r.Finalize()
	if err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	if _, _, err := ReadRecording(blob[:len(blob)-5]); err == nil {
		t.Error("expected error for truncated blob")
	}
}
