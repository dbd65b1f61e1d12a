package events

import (
	"context"
	"sync"
)

// MemoryQueue is an in-process Publisher and Consumer used when no broker is configured.
type MemoryQueue struct {
	ch   chan Signup
	done chan struct{}
	once sync.Once
}

// NewMemoryQueue returns a queue holding up to size undelivered events.
func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 64
	}
	return &MemoryQueue{ch: make(chan Signup, size), done: make(chan struct{})}
}

// PublishSignup enqueues ev, blocking while the queue is full.
func (q *MemoryQueue) PublishSignup(ctx context.Context, ev Signup) error {
	select {
	case <-q.done:
		return ErrClosed
	default:
	}
	select {
	case q.ch <- ev:
		return nil
	case <-q.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Fetch dequeues the next event.
func (q *MemoryQueue) Fetch(ctx context.Context) (Message, error) {
	select {
	case ev := <-q.ch:
		return Message{Signup: ev}, nil
	case <-q.done:
		return Message{}, ErrClosed
	case <-ctx.Done():
		return Message{}, ctx.Err()
	}
}

// Close stops publishing and wakes blocked consumers. Undelivered events are dropped.
func (q *MemoryQueue) Close() error {
	q.once.Do(func() { close(q.done) })
	return nil
}
