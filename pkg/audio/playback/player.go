// Package playback renders model speech to the local output device.
//
// Response audio arrives in bursts that are much faster than real time. The
// [Player] absorbs them in a ring sized for [audio.PlaybackBufferDuration] and
// applies backpressure to the caller once the ring passes its high-water mark,
// so the device callback always finds samples (or silence) without the ring
// ever overflowing.
package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/livetalk/pkg/audio"
)

const (
	// DefaultHighWater is the fill fraction above which Admit waits.
	DefaultHighWater = 0.9

	// DefaultPollInterval is how often a waiting Admit re-checks the ring.
	DefaultPollInterval = 100 * time.Millisecond
)

// Option configures a [Player].
type Option func(*Player)

// WithFormat overrides the render format. Default: [audio.PlaybackFormat].
func WithFormat(f audio.Format) Option {
	return func(p *Player) { p.format = f }
}

// WithCapacity overrides the ring size in bytes. Default: 30 s of audio.
func WithCapacity(n int) Option {
	return func(p *Player) { p.capacity = n }
}

// WithHighWater sets the fill fraction that triggers backpressure.
func WithHighWater(f float64) Option {
	return func(p *Player) { p.highWater = f }
}

// WithPollInterval sets how often a waiting Admit re-checks free space.
func WithPollInterval(d time.Duration) Option {
	return func(p *Player) { p.pollInterval = d }
}

// WithLogger sets the logger used for dropped audio. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(p *Player) { p.logger = l }
}

// Player owns the render device and its ring buffer.
//
// Init and Teardown are idempotent and may be called from any goroutine.
// Admit is meant for a single producer; concurrent producers are safe but may
// interleave their chunks.
type Player struct {
	backend      audio.Backend
	format       audio.Format
	capacity     int
	highWater    float64
	pollInterval time.Duration
	logger       *slog.Logger

	ring *Ring

	mu     sync.Mutex
	stream audio.Stream
	open   bool

	admitted atomic.Int64
	dropped  atomic.Int64
}

// New returns a Player that opens its device through backend.
func New(backend audio.Backend, opts ...Option) *Player {
	p := &Player{
		backend:      backend,
		format:       audio.PlaybackFormat,
		highWater:    DefaultHighWater,
		pollInterval: DefaultPollInterval,
		logger:       slog.Default(),
	}
	for _, o := range opts {
		o(p)
	}
	if p.capacity <= 0 {
		p.capacity = p.format.BytesFor(audio.PlaybackBufferDuration)
	}
	p.ring = NewRing(p.capacity)
	return p
}

// Init opens and starts the render device. Calling Init on an open Player
// does nothing. A Player that was torn down may be initialised again.
func (p *Player) Init(deviceID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.open {
		return nil
	}

	stream, err := p.backend.OpenPlayback(deviceID, p.format, p.fill)
	if err != nil {
		return fmt.Errorf("playback: open device %q: %w", deviceID, err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return fmt.Errorf("playback: start device %q: %w", deviceID, err)
	}
	p.ring.Reset()
	p.stream = stream
	p.open = true
	return nil
}

// fill is the device callback.
func (p *Player) fill(out []byte) {
	p.ring.Read(out)
}

// Admit appends b to the ring, waiting while doing so would push the ring
// past its high-water mark. It reports whether b was queued for playback.
//
// Admit never returns an error: when ctx is done, when the Player is not
// open, or when b can never fit, the bytes are dropped.
func (p *Player) Admit(ctx context.Context, b []byte) bool {
	if len(b) == 0 {
		return false
	}
	limit := int(float64(p.ring.Capacity()) * p.highWater)
	if len(b) > limit {
		p.drop(len(b))
		p.logger.Warn("playback chunk larger than buffer high-water mark, dropping",
			"bytes", len(b), "limit", limit)
		return false
	}

	var ticker *time.Ticker
	for {
		if !p.isOpen() {
			p.drop(len(b))
			return false
		}
		if p.ring.Buffered()+len(b) <= limit {
			break
		}
		if ticker == nil {
			ticker = time.NewTicker(p.pollInterval)
			defer ticker.Stop()
		}
		select {
		case <-ctx.Done():
			p.drop(len(b))
			return false
		case <-ticker.C:
		}
	}

	if err := p.ring.Write(b); err != nil {
		p.drop(len(b))
		if errors.Is(err, ErrOverflow) {
			p.logger.Warn("playback buffer overflow, dropping audio", "bytes", len(b))
		}
		return false
	}
	p.admitted.Add(int64(len(b)))
	return true
}

// Teardown stops and releases the render device and discards buffered audio.
// It is safe to call more than once.
func (p *Player) Teardown() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.open {
		return nil
	}
	p.open = false
	stream := p.stream
	p.stream = nil
	p.ring.Reset()

	var errs []error
	if err := stream.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("playback: stop device: %w", err))
	}
	if err := stream.Close(); err != nil {
		errs = append(errs, fmt.Errorf("playback: close device: %w", err))
	}
	return errors.Join(errs...)
}

// Flush discards buffered audio without closing the device and returns the
// number of bytes discarded. Used when the model is interrupted mid-turn.
func (p *Player) Flush() int {
	n := p.ring.Buffered()
	p.ring.Reset()
	p.drop(n)
	return n
}

func (p *Player) isOpen() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.open
}

func (p *Player) drop(n int) {
	p.dropped.Add(int64(n))
}

// State returns the bytes currently buffered and the ring capacity.
func (p *Player) State() (buffered, capacity int) {
	return p.ring.Buffered(), p.ring.Capacity()
}

// Stats returns the total bytes admitted and dropped since creation.
func (p *Player) Stats() (admitted, dropped int64) {
	return p.admitted.Load(), p.dropped.Load()
}
