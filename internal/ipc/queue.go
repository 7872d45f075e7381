package ipc

import (
	"github.com/hedzr/go-ringbuf/v2/mpmc"
)

// DefaultQueueCapacity is the number of messages an endpoint buffers before
// sends start failing with ErrNoMemory.
const DefaultQueueCapacity = 1024

// Queue is a bounded, lock-free inbound message queue with a readiness
// notification. Any number of goroutines may Put; one consumer drains it.
type Queue struct {
	ring  mpmc.RingBuffer[*Message]
	ready chan struct{}
}

// NewQueue creates a queue holding up to capacity messages.
func NewQueue(capacity uint32) *Queue {
	if capacity == 0 {
		capacity = DefaultQueueCapacity
	}

	return &Queue{
		ring:  mpmc.New[*Message](capacity),
		ready: make(chan struct{}, 1),
	}
}

// Put appends a message and signals readiness. It fails with ErrNoMemory
// when the queue is full.
func (q *Queue) Put(msg *Message) error {
	if err := q.ring.Enqueue(msg); err != nil {
		return ErrNoMemory
	}

	q.Notify()
	return nil
}

// Notify wakes the consumer without queueing anything.
func (q *Queue) Notify() {
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

// Take removes the oldest message, or returns false if the queue is empty.
func (q *Queue) Take() (*Message, bool) {
	if q.ring.IsEmpty() {
		return nil, false
	}

	msg, err := q.ring.Dequeue()
	if err != nil {
		return nil, false
	}
	return msg, true
}

// Ready is signalled after Put.
func (q *Queue) Ready() <-chan struct{} {
	return q.ready
}
