// Package mock provides an in-memory [audio.Backend] for unit tests.
//
// The backend never touches real hardware. Tests drive the capture side with
// [Backend.Emit] and pull rendered audio with [Backend.Pull], and they can
// inspect every open call and stream transition after the fact.
//
// Typical usage:
//
//	b := &mock.Backend{}
//	src := capture.New(b)
//	_ = src.Start(ctx, "", audio.CaptureFormat, onChunk)
//	b.Emit([]byte{1, 2, 3, 4})
package mock

import (
	"sync"
	"time"

	"github.com/MrWong99/livetalk/pkg/audio"
)

// OpenCall records one OpenCapture or OpenPlayback invocation.
type OpenCall struct {
	DeviceID string
	Format   audio.Format
	Period   time.Duration
}

// Stream is a mock [audio.Stream]. All methods are safe for concurrent use.
type Stream struct {
	mu sync.Mutex

	// StartErr, StopErr and CloseErr are returned by the matching methods.
	StartErr error
	StopErr  error
	CloseErr error

	started    bool
	closed     bool
	startCount int
	stopCount  int
	closeCount int
}

// Start marks the stream running.
func (s *Stream) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.startCount++
	if s.StartErr != nil {
		return s.StartErr
	}
	s.started = true
	return nil
}

// Stop marks the stream stopped.
func (s *Stream) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopCount++
	s.started = false
	return s.StopErr
}

// Close marks the stream released.
func (s *Stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeCount++
	s.started = false
	s.closed = true
	return s.CloseErr
}

// Running reports whether the stream is started and not closed.
func (s *Stream) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started && !s.closed
}

// Closed reports whether Close has been called.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Counts returns how often Start, Stop and Close were called.
func (s *Stream) Counts() (starts, stops, closes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.startCount, s.stopCount, s.closeCount
}

// Backend is a mock [audio.Backend]. The zero value is ready to use.
type Backend struct {
	mu sync.Mutex

	// CaptureErr and PlaybackErr, if non-nil, are returned by the open calls.
	CaptureErr  error
	PlaybackErr error

	// CaptureStream and PlaybackStream are returned by the open calls. Fresh
	// streams are created when nil.
	CaptureStream  *Stream
	PlaybackStream *Stream

	CaptureCalls  []OpenCall
	PlaybackCalls []OpenCall

	onData audio.CaptureFunc
	fill   audio.FillFunc
}

var _ audio.Backend = (*Backend)(nil)

// OpenCapture records the call and remembers onData for [Backend.Emit].
func (b *Backend) OpenCapture(deviceID string, f audio.Format, period time.Duration, onData audio.CaptureFunc) (audio.Stream, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.CaptureCalls = append(b.CaptureCalls, OpenCall{DeviceID: deviceID, Format: f, Period: period})
	if b.CaptureErr != nil {
		return nil, b.CaptureErr
	}
	if b.CaptureStream == nil {
		b.CaptureStream = &Stream{}
	}
	b.onData = onData
	return b.CaptureStream, nil
}

// OpenPlayback records the call and remembers fill for [Backend.Pull].
func (b *Backend) OpenPlayback(deviceID string, f audio.Format, fill audio.FillFunc) (audio.Stream, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.PlaybackCalls = append(b.PlaybackCalls, OpenCall{DeviceID: deviceID, Format: f})
	if b.PlaybackErr != nil {
		return nil, b.PlaybackErr
	}
	if b.PlaybackStream == nil {
		b.PlaybackStream = &Stream{}
	}
	b.fill = fill
	return b.PlaybackStream, nil
}

// Emit delivers data to the capture callback as if the device produced it.
// It reports false when no capture stream is running.
func (b *Backend) Emit(data []byte) bool {
	b.mu.Lock()
	onData, stream := b.onData, b.CaptureStream
	b.mu.Unlock()
	if onData == nil || stream == nil || !stream.Running() {
		return false
	}
	onData(data)
	return true
}

// Pull asks the playback callback for n bytes, as the device would.
// It returns nil when no playback stream is running.
func (b *Backend) Pull(n int) []byte {
	b.mu.Lock()
	fill, stream := b.fill, b.PlaybackStream
	b.mu.Unlock()
	if fill == nil || stream == nil || !stream.Running() {
		return nil
	}
	out := make([]byte, n)
	fill(out)
	return out
}
