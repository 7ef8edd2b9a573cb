// Package audio defines the raw PCM primitives shared by the capture, relay,
// and playback halves of a live conversation.
//
// All audio is signed 16-bit little-endian linear PCM. A [Chunk] is the unit
// moved from the microphone to the remote session; response audio is handled
// as plain byte slices because the remote side fixes its format.
package audio

import (
	"fmt"
	"time"
)

// Format describes a linear PCM stream.
type Format struct {
	// SampleRate in Hz (16000 for microphone capture, 24000 for model speech).
	SampleRate int

	// Channels is 1 for every stream in this module.
	Channels int

	// BitsPerSample is 16 for every stream in this module.
	BitsPerSample int
}

var (
	// CaptureFormat is the microphone format sent upstream.
	CaptureFormat = Format{SampleRate: 16000, Channels: 1, BitsPerSample: 16}

	// PlaybackFormat is the format of the model's synthesised speech.
	PlaybackFormat = Format{SampleRate: 24000, Channels: 1, BitsPerSample: 16}
)

const (
	// CaptureBufferDuration is the length of one hardware capture buffer.
	CaptureBufferDuration = 32 * time.Millisecond

	// PlaybackBufferDuration is the capacity of the playback ring.
	PlaybackBufferDuration = 30 * time.Second
)

// BytesPerFrame returns the size of one sample across all channels.
func (f Format) BytesPerFrame() int {
	return f.Channels * f.BitsPerSample / 8
}

// BytesFor returns the number of bytes holding d worth of audio in format f,
// rounded down to a whole frame.
func (f Format) BytesFor(d time.Duration) int {
	frames := int(int64(f.SampleRate) * int64(d) / int64(time.Second))
	return frames * f.BytesPerFrame()
}

// Duration returns how long n bytes of audio in format f play for.
func (f Format) Duration(n int) time.Duration {
	bpf := f.BytesPerFrame()
	if bpf == 0 || f.SampleRate == 0 {
		return 0
	}
	return time.Duration(n/bpf) * time.Second / time.Duration(f.SampleRate)
}

// MIMEType returns the media type the Live protocol expects for f, e.g.
// "audio/pcm;rate=16000".
func (f Format) MIMEType() string {
	return fmt.Sprintf("audio/pcm;rate=%d", f.SampleRate)
}

// Valid reports whether f describes a usable 16-bit PCM stream.
func (f Format) Valid() bool {
	return f.SampleRate > 0 && f.Channels > 0 && f.BitsPerSample == 16
}

// Chunk is one buffer of captured audio. A Chunk is never mutated after it
// is produced; ownership moves from the capture source through the relay
// queue to the uplink.
type Chunk struct {
	// Data holds the PCM samples. The slice is owned by the Chunk.
	Data []byte

	// Format describes Data.
	Format Format
}

// NewChunk copies data into a fresh Chunk so the caller may reuse its buffer.
func NewChunk(data []byte, f Format) Chunk {
	buf := make([]byte, len(data))
	copy(buf, data)
	return Chunk{Data: buf, Format: f}
}

// Empty reports whether the chunk carries no samples.
func (c Chunk) Empty() bool { return len(c.Data) == 0 }
