package session

import (
	"sync"

	"github.com/omochice/voichai/internal/transport"
)

type eventKind int

const (
	evDialed eventKind = iota
	evDialFailed
	evMessage
	evReadFailed
	evWriteFailed
	evReconnect
	evCloseRequested
	evEncodeFailed
)

type event struct {
	kind eventKind
	gen  uint64
	conn transport.Conn
	data []byte
	err  error
}

// eventQueue is an unbounded FIFO feeding the event loop. push never blocks
// so producers (callers of Send and Close, socket goroutines, timer
// callbacks) never wait on hooks.
type eventQueue struct {
	mu     sync.Mutex
	items  []event
	closed bool
	signal chan struct{}
}

func newEventQueue() *eventQueue {
	return &eventQueue{signal: make(chan struct{}, 1)}
}

// push appends ev and reports whether the loop will see it.
func (q *eventQueue) push(ev event) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, ev)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
	return true
}

func (q *eventQueue) drain() []event {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items
}

// close rejects further pushes and returns whatever was still queued.
func (q *eventQueue) close() []event {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	items := q.items
	q.items = nil
	return items
}
