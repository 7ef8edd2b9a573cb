package audio

import (
	"testing"
	"time"
)

func TestFormat_BytesFor(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		f    Format
		d    time.Duration
		want int
	}{
		{"capture buffer", CaptureFormat, CaptureBufferDuration, 1024},
		{"playback ring", PlaybackFormat, PlaybackBufferDuration, 1_440_000},
		{"one second capture", CaptureFormat, time.Second, 32000},
		{"zero", CaptureFormat, 0, 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := tc.f.BytesFor(tc.d); got != tc.want {
				t.Errorf("BytesFor(%v) = %d, want %d", tc.d, got, tc.want)
			}
		})
	}
}

func TestFormat_Duration(t *testing.T) {
	t.Parallel()
	if got := PlaybackFormat.Duration(48000); got != time.Second {
		t.Errorf("Duration(48000) = %v, want 1s", got)
	}
	if got := (Format{}).Duration(100); got != 0 {
		t.Errorf("zero format Duration = %v, want 0", got)
	}
}

func TestFormat_MIMEType(t *testing.T) {
	t.Parallel()
	if got, want := CaptureFormat.MIMEType(), "audio/pcm;rate=16000"; got != want {
		t.Errorf("MIMEType() = %q, want %q", got, want)
	}
	if got, want := PlaybackFormat.MIMEType(), "audio/pcm;rate=24000"; got != want {
		t.Errorf("MIMEType() = %q, want %q", got, want)
	}
}

func TestNewChunk_CopiesInput(t *testing.T) {
	t.Parallel()
	src := []byte{1, 2, 3, 4}
	c := NewChunk(src, CaptureFormat)
	src[0] = 99
	if c.Data[0] != 1 {
		t.Errorf("chunk aliases caller buffer: Data[0] = %d", c.Data[0])
	}
	if c.Empty() {
		t.Error("Empty() = true for non-empty chunk")
	}
	if !(Chunk{}).Empty() {
		t.Error("Empty() = false for zero chunk")
	}
}
