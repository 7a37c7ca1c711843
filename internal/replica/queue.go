package replica

import (
	"sync"

	"github.com/roach88/rowsync/internal/ir"
)

// HintReason says why a pull cycle was requested.
type HintReason string

const (
	HintTick         HintReason = "tick"
	HintDiscovery    HintReason = "discovery"
	HintNotification HintReason = "notification"
	HintManual       HintReason = "manual"
)

// Hint asks the Syncer to pull. A hint naming a peer (by key or site) pulls
// from that peer only; otherwise every known peer is pulled.
type Hint struct {
	Reason HintReason
	Key    string
	Site   ir.SiteID
}

func (h Hint) targetsAll() bool {
	return h.Key == "" && h.Site.IsZero()
}

// hintQueue is a thread-safe FIFO queue for hints.
//
// Enqueue is called from HTTP handlers, websocket readers and discovery
// while the Syncer's Run loop dequeues. The signal channel enables
// context-aware waiting in the Run loop.
type hintQueue struct {
	mu     sync.Mutex
	hints  []Hint
	closed bool
	signal chan struct{} // Signals hint availability (buffered, size 1)
}

func newHintQueue() *hintQueue {
	return &hintQueue{
		hints:  make([]Hint, 0, 16),
		signal: make(chan struct{}, 1),
	}
}

// Enqueue adds a hint to the back of the queue.
// Returns false if the queue is closed.
func (q *hintQueue) Enqueue(h Hint) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	q.hints = append(q.hints, h)

	// Non-blocking: buffer of 1 coalesces multiple signals
	select {
	case q.signal <- struct{}{}:
	default:
	}

	return true
}

// Drain removes and returns every queued hint.
func (q *hintQueue) Drain() []Hint {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.hints) == 0 {
		return nil
	}
	out := q.hints
	q.hints = make([]Hint, 0, cap(out))
	return out
}

// Wait returns a channel that signals when hints may be available.
// It is closed when the queue closes.
func (q *hintQueue) Wait() <-chan struct{} {
	return q.signal
}

// Len returns the current queue length.
func (q *hintQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.hints)
}

// isClosed reports whether Close has been called.
func (q *hintQueue) isClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Close signals that no more hints will be enqueued.
func (q *hintQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}

	q.closed = true
	close(q.signal) // Wakes all waiters
}
