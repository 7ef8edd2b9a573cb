// Package device implements [audio.Backend] on top of miniaudio through
// github.com/gen2brain/malgo.
package device

import (
	"fmt"
	"log/slog"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gen2brain/malgo"

	"github.com/MrWong99/livetalk/pkg/audio"
)

// Kind selects capture or playback devices.
type Kind int

const (
	KindCapture Kind = iota
	KindPlayback
)

func (k Kind) String() string {
	if k == KindPlayback {
		return "playback"
	}
	return "capture"
}

func (k Kind) malgo() malgo.DeviceType {
	if k == KindPlayback {
		return malgo.Playback
	}
	return malgo.Capture
}

// Info describes one enumerated device.
type Info struct {
	Index     int
	Name      string
	IsDefault bool
}

// Backend owns a miniaudio context. Create it once per process with [New]
// and release it with [Backend.Close] after every stream is closed.
type Backend struct {
	mu   sync.Mutex
	actx *malgo.AllocatedContext
}

var _ audio.Backend = (*Backend)(nil)

// New initialises the miniaudio context. Driver log lines are forwarded to
// slog at debug level.
func New() (*Backend, error) {
	actx, err := malgo.InitContext(nil, malgo.ContextConfig{}, func(msg string) {
		slog.Debug("miniaudio", "msg", strings.TrimSpace(msg))
	})
	if err != nil {
		return nil, fmt.Errorf("device: init audio context: %w", err)
	}
	return &Backend{actx: actx}, nil
}

// Close releases the audio context.
func (b *Backend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.actx == nil {
		return nil
	}
	err := b.actx.Uninit()
	b.actx.Free()
	b.actx = nil
	if err != nil {
		return fmt.Errorf("device: uninit audio context: %w", err)
	}
	return nil
}

// Devices lists the devices of the given kind in driver order. The index is
// what a numeric device identifier refers to.
func (b *Backend) Devices(kind Kind) ([]Info, error) {
	infos, err := b.enumerate(kind)
	if err != nil {
		return nil, err
	}
	out := make([]Info, len(infos))
	for i := range infos {
		out[i] = Info{Index: i, Name: infos[i].Name(), IsDefault: infos[i].IsDefault != 0}
	}
	return out, nil
}

func (b *Backend) enumerate(kind Kind) ([]malgo.DeviceInfo, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.actx == nil {
		return nil, fmt.Errorf("device: backend closed")
	}
	infos, err := b.actx.Devices(kind.malgo())
	if err != nil {
		return nil, fmt.Errorf("device: enumerate %s devices: %w", kind, err)
	}
	return infos, nil
}

// resolve maps a device identifier onto an index into infos. An empty id
// selects the driver default (-1). Otherwise id is a zero-based index or a
// case-insensitive substring of the device name.
func resolve(infos []malgo.DeviceInfo, id string) (int, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return -1, nil
	}
	if n, err := strconv.Atoi(id); err == nil {
		if n < 0 || n >= len(infos) {
			return 0, fmt.Errorf("%w: index %d of %d", audio.ErrDeviceNotFound, n, len(infos))
		}
		return n, nil
	}
	names := make([]string, len(infos))
	for i := range infos {
		names[i] = infos[i].Name()
	}
	if i := matchName(names, id); i >= 0 {
		return i, nil
	}
	return 0, fmt.Errorf("%w: %q", audio.ErrDeviceNotFound, id)
}

// matchName returns the index of the first name equal to id, or failing
// that the first name containing it, ignoring case.
func matchName(names []string, id string) int {
	for i, n := range names {
		if strings.EqualFold(n, id) {
			return i
		}
	}
	lid := strings.ToLower(id)
	for i, n := range names {
		if strings.Contains(strings.ToLower(n), lid) {
			return i
		}
	}
	return -1
}

func sampleFormat(f audio.Format) (malgo.FormatType, error) {
	if f.BitsPerSample != 16 {
		return 0, fmt.Errorf("device: unsupported sample width %d", f.BitsPerSample)
	}
	return malgo.FormatS16, nil
}

// OpenCapture opens an input device. The device is not started.
func (b *Backend) OpenCapture(deviceID string, f audio.Format, period time.Duration, onData audio.CaptureFunc) (audio.Stream, error) {
	format, err := sampleFormat(f)
	if err != nil {
		return nil, err
	}
	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.SampleRate = uint32(f.SampleRate)
	cfg.Capture.Format = format
	cfg.Capture.Channels = uint32(f.Channels)
	cfg.PeriodSizeInMilliseconds = uint32(period.Milliseconds())
	cfg.Alsa.NoMMap = 1

	bytesPerFrame := f.BytesPerFrame()
	return b.open(KindCapture, deviceID, cfg, malgo.DeviceCallbacks{
		Data: func(_, in []byte, frames uint32) {
			n := int(frames) * bytesPerFrame
			if n == 0 || len(in) < n {
				return
			}
			onData(in[:n])
		},
	})
}

// OpenPlayback opens an output device. The device is not started.
func (b *Backend) OpenPlayback(deviceID string, f audio.Format, fill audio.FillFunc) (audio.Stream, error) {
	format, err := sampleFormat(f)
	if err != nil {
		return nil, err
	}
	cfg := malgo.DefaultDeviceConfig(malgo.Playback)
	cfg.SampleRate = uint32(f.SampleRate)
	cfg.Playback.Format = format
	cfg.Playback.Channels = uint32(f.Channels)
	cfg.Alsa.NoMMap = 1

	bytesPerFrame := f.BytesPerFrame()
	return b.open(KindPlayback, deviceID, cfg, malgo.DeviceCallbacks{
		Data: func(out, _ []byte, frames uint32) {
			n := min(int(frames)*bytesPerFrame, len(out))
			fill(out[:n])
		},
	})
}

func (b *Backend) open(kind Kind, deviceID string, cfg malgo.DeviceConfig, cb malgo.DeviceCallbacks) (audio.Stream, error) {
	infos, err := b.enumerate(kind)
	if err != nil {
		return nil, err
	}
	idx, err := resolve(infos, deviceID)
	if err != nil {
		return nil, fmt.Errorf("device: %s: %w", kind, err)
	}
	if idx >= 0 {
		id := infos[idx].ID.Pointer()
		if kind == KindPlayback {
			cfg.Playback.DeviceID = id
		} else {
			cfg.Capture.DeviceID = id
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.actx == nil {
		return nil, fmt.Errorf("device: backend closed")
	}
	dev, err := malgo.InitDevice(b.actx.Context, cfg, cb)
	runtime.KeepAlive(infos)
	if err != nil {
		return nil, fmt.Errorf("device: init %s device: %w", kind, err)
	}
	return &stream{dev: dev}, nil
}

// stream adapts a malgo device to [audio.Stream].
type stream struct {
	mu     sync.Mutex
	dev    *malgo.Device
	closed bool
}

func (s *stream) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("device: start on closed stream")
	}
	if s.dev.IsStarted() {
		return nil
	}
	return s.dev.Start()
}

func (s *stream) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || !s.dev.IsStarted() {
		return nil
	}
	return s.dev.Stop()
}

func (s *stream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	s.dev.Uninit()
	return nil
}
