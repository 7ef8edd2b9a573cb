package audio

import (
	"errors"
	"time"
)

// ErrDeviceNotFound is returned by a [Backend] when a device identifier does
// not match any device of the requested kind.
var ErrDeviceNotFound = errors.New("audio: device not found")

// CaptureFunc receives one hardware buffer. The slice is only valid for the
// duration of the call; implementations that retain it must copy.
type CaptureFunc func(data []byte)

// FillFunc fills out with playback samples. It must write len(out) bytes,
// padding with silence when nothing is buffered.
type FillFunc func(out []byte)

// Stream is an opened audio device.
type Stream interface {
	// Start begins delivering callbacks.
	Start() error

	// Stop halts callbacks. The stream may be started again.
	Stop() error

	// Close releases the device. Close is safe to call more than once.
	Close() error
}

// Backend opens capture and playback devices. An empty deviceID selects the
// system default; otherwise it is a zero-based index or a device name.
//
// Implementations must be safe for concurrent use.
type Backend interface {
	// OpenCapture opens an input device delivering audio in format f in
	// buffers of roughly period length.
	OpenCapture(deviceID string, f Format, period time.Duration, onData CaptureFunc) (Stream, error)

	// OpenPlayback opens an output device rendering audio in format f. The
	// device pulls samples through fill.
	OpenPlayback(deviceID string, f Format, fill FillFunc) (Stream, error)
}
