package broadcast

import (
	"context"
	"sync"

	"m-taji/platform/internal/platform/fanout"
)

// Hub connects in-process endpoints by name.
type Hub[T any] struct {
	mu    sync.Mutex
	rooms map[string]map[*HubChannel[T]]struct{}
}

// NewHub returns an empty hub.
func NewHub[T any]() *Hub[T] {
	return &Hub[T]{rooms: make(map[string]map[*HubChannel[T]]struct{})}
}

// Open returns a new endpoint on the named channel.
func (h *Hub[T]) Open(name string) *HubChannel[T] {
	c := &HubChannel[T]{hub: h, name: name}
	h.mu.Lock()
	room := h.rooms[name]
	if room == nil {
		room = make(map[*HubChannel[T]]struct{})
		h.rooms[name] = room
	}
	room[c] = struct{}{}
	h.mu.Unlock()
	return c
}

func (h *Hub[T]) peers(c *HubChannel[T]) []*HubChannel[T] {
	h.mu.Lock()
	defer h.mu.Unlock()
	room := h.rooms[c.name]
	out := make([]*HubChannel[T], 0, len(room))
	for p := range room {
		if p != c {
			out = append(out, p)
		}
	}
	return out
}

func (h *Hub[T]) leave(c *HubChannel[T]) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room := h.rooms[c.name]
	delete(room, c)
	if len(room) == 0 {
		delete(h.rooms, c.name)
	}
}

// HubChannel is an endpoint of a Hub.
type HubChannel[T any] struct {
	hub       *Hub[T]
	name      string
	listeners fanout.Set[T]

	mu     sync.Mutex
	closed bool
}

var _ Channel[int] = (*HubChannel[int])(nil)

// Post delivers msg to the other endpoints with the same name.
func (c *HubChannel[T]) Post(ctx context.Context, msg T) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	if closed {
		return ErrClosed
	}
	for _, p := range c.hub.peers(c) {
		p.listeners.Publish(msg)
	}
	return nil
}

// Listen registers fn.
func (c *HubChannel[T]) Listen(fn func(T)) func() {
	return c.listeners.Add(fn)
}

// Close leaves the hub.
func (c *HubChannel[T]) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	c.hub.leave(c)
	c.listeners.Close()
	return nil
}
