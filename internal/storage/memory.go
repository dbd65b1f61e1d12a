package storage

import (
	"sync"

	"m-taji/platform/internal/platform/fanout"
)

// MemoryBackend is the shared state behind a group of MemoryStore endpoints.
type MemoryBackend struct {
	mu        sync.RWMutex
	data      map[string]string
	endpoints map[*MemoryStore]struct{}
}

// NewMemoryBackend returns an empty backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		data:      make(map[string]string),
		endpoints: make(map[*MemoryStore]struct{}),
	}
}

// Open returns a new endpoint on the backend.
func (b *MemoryBackend) Open() *MemoryStore {
	s := &MemoryStore{b: b}
	b.mu.Lock()
	b.endpoints[s] = struct{}{}
	b.mu.Unlock()
	return s
}

func (b *MemoryBackend) notify(from *MemoryStore, ev Event) {
	b.mu.RLock()
	targets := make([]*MemoryStore, 0, len(b.endpoints))
	for s := range b.endpoints {
		if s != from {
			targets = append(targets, s)
		}
	}
	b.mu.RUnlock()
	for _, s := range targets {
		s.watchers.Publish(ev)
	}
}

// MemoryStore is a Store endpoint backed by a MemoryBackend.
type MemoryStore struct {
	b        *MemoryBackend
	watchers fanout.Set[Event]
}

var _ Store = (*MemoryStore)(nil)

// Get returns the value for key.
func (s *MemoryStore) Get(key string) (string, bool, error) {
	s.b.mu.RLock()
	defer s.b.mu.RUnlock()
	v, ok := s.b.data[key]
	return v, ok, nil
}

// Set stores value under key and notifies the other endpoints.
func (s *MemoryStore) Set(key, value string) error {
	s.b.mu.Lock()
	s.b.data[key] = value
	s.b.mu.Unlock()
	s.b.notify(s, Event{Key: key, NewValue: value})
	return nil
}

// Remove deletes key and notifies the other endpoints when it existed.
func (s *MemoryStore) Remove(key string) error {
	s.b.mu.Lock()
	_, existed := s.b.data[key]
	delete(s.b.data, key)
	s.b.mu.Unlock()
	if existed {
		s.b.notify(s, Event{Key: key, Removed: true})
	}
	return nil
}

// Watch registers fn for changes made through other endpoints.
func (s *MemoryStore) Watch(fn func(Event)) (func(), error) {
	return s.watchers.Add(fn), nil
}

// Close detaches the endpoint from its backend and drops its watchers.
func (s *MemoryStore) Close() error {
	s.b.mu.Lock()
	delete(s.b.endpoints, s)
	s.b.mu.Unlock()
	s.watchers.Close()
	return nil
}
