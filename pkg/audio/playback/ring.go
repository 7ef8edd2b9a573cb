package playback

import (
	"errors"
	"sync"
)

// ErrOverflow is returned by [Ring.Write] when the bytes do not fit in the
// free space. Nothing is written in that case.
var ErrOverflow = errors.New("playback: ring buffer overflow")

// Ring is a fixed-capacity byte FIFO shared by the admitting goroutine and
// the device callback. All methods are safe for concurrent use.
type Ring struct {
	mu   sync.Mutex
	buf  []byte
	head int // next byte to read
	n    int // bytes buffered
}

// NewRing returns an empty ring holding at most capacity bytes.
func NewRing(capacity int) *Ring {
	return &Ring{buf: make([]byte, capacity)}
}

// Write appends all of p or nothing.
func (r *Ring) Write(p []byte) error {
	if len(p) == 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(p) > len(r.buf)-r.n {
		return ErrOverflow
	}
	tail := (r.head + r.n) % len(r.buf)
	c := copy(r.buf[tail:], p)
	copy(r.buf, p[c:])
	r.n += len(p)
	return nil
}

// Read moves up to len(out) buffered bytes into out and zero-fills whatever
// remains, so out always holds a full period of samples. It returns the
// number of real bytes copied.
func (r *Ring) Read(out []byte) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	want := min(len(out), r.n)
	if want == 0 {
		clear(out)
		return 0
	}
	c := copy(out[:want], r.buf[r.head:])
	copy(out[c:want], r.buf)
	r.head = (r.head + want) % len(r.buf)
	r.n -= want
	if r.n == 0 {
		r.head = 0
	}
	clear(out[want:])
	return want
}

// Buffered returns the number of bytes waiting to be rendered.
func (r *Ring) Buffered() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.n
}

// Capacity returns the ring size in bytes.
func (r *Ring) Capacity() int { return len(r.buf) }

// Reset discards everything buffered.
func (r *Ring) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.head, r.n = 0, 0
}
