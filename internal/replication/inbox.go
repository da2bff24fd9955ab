package replication

import (
	"sync"

	"github.com/roach88/braid/internal/transport"
)

// inbox is an unbounded FIFO of frames from one peer.
//
// The transport goroutine enqueues while the peer task dequeues. The signal
// channel (buffered, size 1) coalesces wakeups so the task can wait with
// select next to its context.
type inbox struct {
	mu     sync.Mutex
	frames []transport.Message
	closed bool
	signal chan struct{}
}

func newInbox() *inbox {
	return &inbox{
		frames: make([]transport.Message, 0, 16),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds a frame. Returns false once the inbox is closed.
func (q *inbox) Enqueue(m transport.Message) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}
	q.frames = append(q.frames, m)

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

// TryDequeue removes the front frame without blocking.
func (q *inbox) TryDequeue() (transport.Message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.frames) == 0 {
		return transport.Message{}, false
	}
	m := q.frames[0]

	// Release the payload for GC.
	q.frames[0] = transport.Message{}
	if len(q.frames) == 1 {
		q.frames = q.frames[:0]
	} else {
		q.frames = q.frames[1:]
	}
	return m, true
}

// Wait returns a channel that signals when frames may be available. It is
// closed by Close.
func (q *inbox) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the number of queued frames.
func (q *inbox) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.frames)
}

// Close stops accepting frames and wakes the waiting task.
func (q *inbox) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.closed = true
	close(q.signal)
}
