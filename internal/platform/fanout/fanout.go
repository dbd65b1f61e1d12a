// Package fanout delivers values to a dynamic set of listeners.
// Each listener has its own goroutine, so values reach a listener in publish order and a slow
// listener never runs on the publisher's stack.
package fanout

import "sync"

const bufferSize = 16

// Set is a set of listeners. The zero value is ready to use.
type Set[T any] struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]*sub[T]
	closed bool
}

type sub[T any] struct {
	fn   func(T)
	ch   chan T
	done chan struct{}
	once sync.Once
}

func (s *sub[T]) stop() { s.once.Do(func() { close(s.done) }) }

func (s *sub[T]) run() {
	for {
		select {
		case <-s.done:
			return
		case v := <-s.ch:
			select {
			case <-s.done:
				return
			default:
			}
			s.fn(v)
		}
	}
}

// Add registers fn and returns a func that removes it. Removing twice is a no-op.
// Adding to a closed Set returns a no-op remove and fn is never called.
func (s *Set[T]) Add(fn func(T)) (remove func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return func() {}
	}
	if s.subs == nil {
		s.subs = make(map[int]*sub[T])
	}
	id := s.nextID
	s.nextID++
	l := &sub[T]{fn: fn, ch: make(chan T, bufferSize), done: make(chan struct{})}
	s.subs[id] = l
	go l.run()
	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
		l.stop()
	}
}

// Publish queues v for every current listener. It blocks only while a listener's buffer is full.
func (s *Set[T]) Publish(v T) {
	s.mu.Lock()
	subs := make([]*sub[T], 0, len(s.subs))
	for _, l := range s.subs {
		subs = append(subs, l)
	}
	s.mu.Unlock()
	for _, l := range subs {
		select {
		case l.ch <- v:
		case <-l.done:
		}
	}
}

// Len returns the number of registered listeners.
func (s *Set[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// Close removes every listener and rejects future Adds.
func (s *Set[T]) Close() {
	s.mu.Lock()
	subs := s.subs
	s.subs = nil
	s.closed = true
	s.mu.Unlock()
	for _, l := range subs {
		l.stop()
	}
}
