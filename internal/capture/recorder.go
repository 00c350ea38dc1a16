package capture

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync"
)

// FileExtension is the extension for speedometer recording containers.
const FileExtension = ".vrec"

// ContainerVersion identifies the container layout below.
const ContainerVersion = "1.0"

// containerMagic opens every finalized recording blob.
var containerMagic = [4]byte{'V', 'R', 'E', 'C'}

// Chunk kinds inside the container.
const (
	KindVideo byte = 'V' // one JPEG-encoded composited frame
	KindAudio byte = 'A' // 16-bit little-endian PCM
)

// Header describes a finalized recording.
type Header struct {
	Version         string  `json:"version"`
	RecordingID     string  `json:"recording_id"`
	CreatedMs       int64   `json:"created_ms"`
	Width           int     `json:"width"`
	Height          int     `json:"height"`
	FrameRate       float64 `json:"frame_rate"`
	AudioSampleRate int     `json:"audio_sample_rate"`
	AudioChannels   int     `json:"audio_channels"`
	FrameCount      uint64  `json:"frame_count"`
	AudioChunkCount uint64  `json:"audio_chunk_count"`
	StartMs         int64   `json:"start_ms"`
	EndMs           int64   `json:"end_ms"`
}

// IndexEntry locates one chunk inside the record section, for seeking
// without a linear scan.
type IndexEntry struct {
	Seq         uint64 `json:"seq"`
	Kind        string `json:"kind"`
	TimestampMs int64  `json:"timestamp_ms"`
	Offset      uint64 `json:"offset"`
	Length      uint32 `json:"length"`
}

// Chunk is one decoded record, as returned by ReadRecording.
type Chunk struct {
	Kind        byte
	TimestampMs int64
	Payload     []byte
}

// Recorder accumulates encoded chunks in memory while a recording is in
// progress and finalizes them into a single container blob.
//
// Container layout:
//
//	magic | uint32 header length | header JSON
//	records: (kind byte | int64 timestamp ms | uint32 length | payload)*
//	index JSON | uint64 index offset | magic
type Recorder struct {
	mu      sync.Mutex
	header  Header
	records bytes.Buffer
	index   []IndexEntry
	seq     uint64
}

// NewRecorder starts an empty recording.
func NewRecorder(recordingID string, width, height int, frameRate float64, createdMs int64) *Recorder {
	return &Recorder{
		header: Header{
			Version:         ContainerVersion,
			RecordingID:     recordingID,
			CreatedMs:       createdMs,
			Width:           width,
			Height:          height,
			FrameRate:       frameRate,
			AudioSampleRate: AudioSampleRate,
			AudioChannels:   AudioChannels,
		},
	}
}

// AppendVideo adds one encoded composited frame.
func (r *Recorder) AppendVideo(jpegData []byte, timestampMs int64) error {
	return r.append(KindVideo, jpegData, timestampMs)
}

// AppendAudio adds one PCM chunk.
func (r *Recorder) AppendAudio(pcm []byte, timestampMs int64) error {
	return r.append(KindAudio, pcm, timestampMs)
}

func (r *Recorder) append(kind byte, payload []byte, timestampMs int64) error {
	if len(payload) == 0 {
		return fmt.Errorf("empty %c chunk", kind)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	offset := uint64(r.records.Len())

	r.records.WriteByte(kind)
	if err := binary.Write(&r.records, binary.LittleEndian, timestampMs); err != nil {
		return err
	}
	if err := binary.Write(&r.records, binary.LittleEndian, uint32(len(payload))); err != nil {
		return err
	}
	r.records.Write(payload)

	r.index = append(r.index, IndexEntry{
		Seq:         r.seq,
		Kind:        string(kind),
		TimestampMs: timestampMs,
		Offset:      offset,
		Length:      uint32(len(payload)),
	})
	r.seq++

	switch kind {
	case KindVideo:
		r.header.FrameCount++
	case KindAudio:
		r.header.AudioChunkCount++
	}
	if r.header.StartMs == 0 || timestampMs < r.header.StartMs {
		r.header.StartMs = timestampMs
	}
	if timestampMs > r.header.EndMs {
		r.header.EndMs = timestampMs
	}
	return nil
}

// FrameCount returns the number of video frames appended so far.
func (r *Recorder) FrameCount() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.header.FrameCount
}

// Finalize serializes the accumulated chunks into one container blob. A
// recording with no chunks finalizes to nil.
func (r *Recorder) Finalize() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.seq == 0 {
		return nil, nil
	}

	headerJSON, err := json.Marshal(r.header)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal recording header: %w", err)
	}
	indexJSON, err := json.Marshal(r.index)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal recording index: %w", err)
	}

	var blob bytes.Buffer
	blob.Write(containerMagic[:])
	if err := binary.Write(&blob, binary.LittleEndian, uint32(len(headerJSON))); err != nil {
		return nil, err
	}
	blob.Write(headerJSON)

	indexOffset := uint64(blob.Len() + r.records.Len())
	blob.Write(r.records.Bytes())
	blob.Write(indexJSON)
	if err := binary.Write(&blob, binary.LittleEndian, indexOffset); err != nil {
		return nil, err
	}
	if err := binary.Write(&blob, binary.LittleEndian, uint32(len(indexJSON))); err != nil {
		return nil, err
	}
	blob.Write(containerMagic[:])

	return blob.Bytes(), nil
}

// ReadRecording decodes a finalized container blob.
func ReadRecording(blob []byte) (*Header, []Chunk, error) {
	if len(blob) < 8 || !bytes.Equal(blob[:4], containerMagic[:]) {
		return nil, nil, fmt.Errorf("not a recording container")
	}
	if !bytes.Equal(blob[len(blob)-4:], containerMagic[:]) {
		return nil, nil, fmt.Errorf("truncated recording container")
	}

	headerLen := binary.LittleEndian.Uint32(blob[4:8])
	headerEnd := 8 + int(headerLen)
	if headerEnd > len(blob) {
		return nil, nil, fmt.Errorf("corrupt header length %d", headerLen)
	}

	var header Header
	if err := json.Unmarshal(blob[8:headerEnd], &header); err != nil {
		return nil, nil, fmt.Errorf("failed to unmarshal recording header: %w", err)
	}

	trailer := len(blob) - 4 - 4 - 8
	if trailer < headerEnd {
		return nil, nil, fmt.Errorf("recording container too short")
	}
	indexOffset := binary.LittleEndian.Uint64(blob[trailer : trailer+8])
	if indexOffset > uint64(trailer) || indexOffset < uint64(headerEnd) {
		return nil, nil, fmt.Errorf("corrupt index offset %d", indexOffset)
	}

	var chunks []Chunk
	pos := headerEnd
	for uint64(pos) < indexOffset {
		if uint64(pos+13) > indexOffset {
			return nil, nil, fmt.Errorf("truncated chunk at offset %d", pos)
		}
		kind := blob[pos]
		ts := int64(binary.LittleEndian.Uint64(blob[pos+1 : pos+9]))
		n := binary.LittleEndian.Uint32(blob[pos+9 : pos+13])
		pos += 13
		if uint64(pos+int(n)) > indexOffset {
			return nil, nil, fmt.Errorf("chunk payload overruns index at offset %d", pos)
		}
		chunks = append(chunks, Chunk{Kind: kind, TimestampMs: ts, Payload: blob[pos : pos+int(n)]})
		pos += int(n)
	}

	return &header, chunks, nil
}
