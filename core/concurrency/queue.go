// File: core/concurrency/queue.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// CommandQueue is the only synchronized hand-off between the I/O loop and the
// script consumer: a mutex-guarded FIFO log drained by swapping it for an
// empty one.

package concurrency

import (
	"sync"

	"github.com/eapache/queue"
)

// CommandQueue is a multi-producer, single-consumer FIFO of Events.
type CommandQueue struct {
	mu     sync.Mutex
	log    *queue.Queue
	notify chan struct{}
}

// NewCommandQueue creates an empty queue.
func NewCommandQueue() *CommandQueue {
	return &CommandQueue{
		log:    queue.New(),
		notify: make(chan struct{}, 1),
	}
}

// Enqueue appends ev. It never waits for the consumer.
func (q *CommandQueue) Enqueue(ev Event) {
	if ev == nil {
		return
	}
	q.mu.Lock()
	q.log.Add(ev)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// DrainAll swaps out the whole log and returns it in enqueue order.
// Returns nil when the queue is empty.
func (q *CommandQueue) DrainAll() []Event {
	q.mu.Lock()
	if q.log.Length() == 0 {
		q.mu.Unlock()
		return nil
	}
	taken := q.log
	q.log = queue.New()
	q.mu.Unlock()

	out := make([]Event, 0, taken.Length())
	for taken.Length() > 0 {
		out = append(out, taken.Remove().(Event))
	}
	return out
}

// Len returns the number of pending events.
func (q *CommandQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.log.Length()
}

// Notify is signalled (coalesced) after each Enqueue.
func (q *CommandQueue) Notify() <-chan struct{} {
	return q.notify
}
