// Package relay provides the bounded hand-off between the capture callback
// and the uplink task.
//
// The producer side never blocks: the capture callback runs on the audio
// driver's thread and must return quickly. When the queue is full the newest
// chunk is discarded, so a stalled network shows up as dropped chunks rather
// than as a growing backlog.
package relay

import (
	"context"
	"errors"
	"iter"
	"sync"
	"sync/atomic"

	"github.com/MrWong99/livetalk/pkg/audio"
)

// DefaultCapacity holds roughly four seconds of 32 ms capture buffers.
const DefaultCapacity = 128

// ErrQueueClosed is returned by [Queue.Drain] when the queue has already been
// handed to a consumer. A queue supports exactly one drain.
var ErrQueueClosed = errors.New("relay: queue closed for draining")

// Queue is a bounded multi-producer, single-consumer FIFO of audio chunks.
// All methods are safe for concurrent use.
type Queue struct {
	ch chan audio.Chunk

	// mu guards closed. Push holds the read lock while sending so Close cannot
	// close ch underneath it.
	mu     sync.RWMutex
	closed bool

	drained  atomic.Bool
	pushed   atomic.Int64
	dropped  atomic.Int64
	rejected atomic.Int64
}

// New returns a Queue that holds at most capacity chunks. A non-positive
// capacity selects [DefaultCapacity].
func New(capacity int) *Queue {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Queue{ch: make(chan audio.Chunk, capacity)}
}

// Push enqueues c without blocking and reports whether it was accepted.
// Chunks pushed after [Queue.Close] are silently discarded; chunks that do
// not fit are dropped and counted.
func (q *Queue) Push(c audio.Chunk) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		q.rejected.Add(1)
		return false
	}
	select {
	case q.ch <- c:
		q.pushed.Add(1)
		return true
	default:
		q.dropped.Add(1)
		return false
	}
}

// Close marks the queue complete. Chunks already queued remain available to
// the consumer, which finishes once they are drained. Close is idempotent.
func (q *Queue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	close(q.ch)
}

// Closed reports whether [Queue.Close] has been called.
func (q *Queue) Closed() bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.closed
}

// Drain hands the queue to its single consumer. The returned sequence yields
// chunks in FIFO order, waiting while the queue is empty, and ends when the
// queue is closed and empty or when ctx is done. A second call returns
// [ErrQueueClosed].
func (q *Queue) Drain(ctx context.Context) (iter.Seq[audio.Chunk], error) {
	if !q.drained.CompareAndSwap(false, true) {
		return nil, ErrQueueClosed
	}
	return func(yield func(audio.Chunk) bool) {
		for {
			select {
			case <-ctx.Done():
				return
			case c, ok := <-q.ch:
				if !ok {
					return
				}
				if !yield(c) {
					return
				}
			}
		}
	}, nil
}

// Len returns the number of chunks currently queued.
func (q *Queue) Len() int { return len(q.ch) }

// Cap returns the queue capacity.
func (q *Queue) Cap() int { return cap(q.ch) }

// Stats is a snapshot of the queue counters.
type Stats struct {
	Pushed   int64
	Dropped  int64
	Rejected int64
}

// Stats returns the number of accepted chunks, chunks dropped because the
// queue was full, and chunks rejected because it was closed.
func (q *Queue) Stats() Stats {
	return Stats{
		Pushed:   q.pushed.Load(),
		Dropped:  q.dropped.Load(),
		Rejected: q.rejected.Load(),
	}
}
