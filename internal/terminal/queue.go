package terminal

import (
	"context"
	"sync"
)

// eventQueue is an unbounded FIFO of events. Push never blocks, so stream
// readers and pollers can post while the loop waits on them.
type eventQueue struct {
	mu     sync.Mutex
	events []func()
	signal chan struct{}
}

func newEventQueue() *eventQueue {
	return &eventQueue{signal: make(chan struct{}, 1)}
}

func (q *eventQueue) push(fn func()) {
	q.mu.Lock()
	q.events = append(q.events, fn)
	q.mu.Unlock()

	select {
	case q.signal <- struct{}{}:
	default:
	}
}

// drain takes every queued event in posting order
func (q *eventQueue) drain() []func() {
	q.mu.Lock()
	defer q.mu.Unlock()
	events := q.events
	q.events = nil
	return events
}

func (q *eventQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.events)
}

// serve runs queued events in posting order until ctx is done, then runs
// whatever is still queued
func (q *eventQueue) serve(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			q.runPending()
			return
		case <-q.signal:
			q.runPending()
		}
	}
}

func (q *eventQueue) runPending() {
	for {
		events := q.drain()
		if len(events) == 0 {
			return
		}
		for _, fn := range events {
			fn()
		}
	}
}
