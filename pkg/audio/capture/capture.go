// Package capture turns microphone callbacks into owned [audio.Chunk] values.
package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/livetalk/pkg/audio"
)

// ErrAlreadyStarted is returned when Start is called on a running Source.
var ErrAlreadyStarted = errors.New("capture: already started")

// Source owns one capture device for the lifetime of a session.
type Source struct {
	backend audio.Backend

	// OnStop, if set, runs exactly once after the device has been released.
	// The session uses it to close the relay queue.
	OnStop func()

	mu       sync.Mutex
	stream   audio.Stream
	started  bool
	stopped  bool
	unlink   func() bool
	stopOnce sync.Once
}

// New returns a Source that opens its device through backend.
func New(backend audio.Backend) *Source {
	return &Source{backend: backend}
}

// Start opens deviceID in format f and begins delivering one chunk per
// hardware buffer to onChunk. Each chunk owns a copy of the samples.
//
// When ctx is done the Source stops itself, so capture never outlives the
// session that started it. A Source cannot be restarted after Stop.
func (s *Source) Start(ctx context.Context, deviceID string, f audio.Format, onChunk func(audio.Chunk)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return fmt.Errorf("capture: start after stop")
	}
	if s.started {
		return ErrAlreadyStarted
	}

	stream, err := s.backend.OpenCapture(deviceID, f, audio.CaptureBufferDuration, func(data []byte) {
		if len(data) == 0 {
			return
		}
		onChunk(audio.NewChunk(data, f))
	})
	if err != nil {
		return fmt.Errorf("capture: open device %q: %w", deviceID, err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return fmt.Errorf("capture: start device %q: %w", deviceID, err)
	}

	s.stream = stream
	s.started = true
	s.unlink = context.AfterFunc(ctx, func() { _ = s.Stop() })
	return nil
}

// Stop halts and releases the device, then runs OnStop. It is safe to call
// more than once and before Start; only the first call has any effect.
func (s *Source) Stop() error {
	var err error
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.stopped = true
		stream := s.stream
		s.stream = nil
		unlink := s.unlink
		s.mu.Unlock()

		if unlink != nil {
			unlink()
		}
		if stream != nil {
			var errs []error
			if e := stream.Stop(); e != nil {
				errs = append(errs, fmt.Errorf("capture: stop device: %w", e))
			}
			if e := stream.Close(); e != nil {
				errs = append(errs, fmt.Errorf("capture: close device: %w", e))
			}
			err = errors.Join(errs...)
		}
		if s.OnStop != nil {
			s.OnStop()
		}
	})
	return err
}

// Running reports whether the device is currently capturing.
func (s *Source) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started && !s.stopped
}
