package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"m-taji/platform/internal/platform/fanout"
)

// envelope tags each published message with the id of the posting endpoint.
type envelope[T any] struct {
	Origin string `json:"origin"`
	Data   T      `json:"data"`
}

// Redis is an endpoint backed by Redis pub/sub on the channel's name, for endpoints living in
// different processes or machines.
type Redis[T any] struct {
	client    redis.UniversalClient
	name      string
	id        string
	sub       *redis.PubSub
	log       zerolog.Logger
	listeners fanout.Set[T]

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

var _ Channel[int] = (*Redis[int])(nil)

// NewRedis subscribes to name and returns once the subscription is confirmed.
func NewRedis[T any](ctx context.Context, client redis.UniversalClient, name string, log zerolog.Logger) (*Redis[T], error) {
	sub := client.Subscribe(ctx, name)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, fmt.Errorf("broadcast: subscribe %s: %w", name, err)
	}
	r := &Redis[T]{
		client: client,
		name:   name,
		id:     uuid.NewString(),
		sub:    sub,
		log:    log,
	}
	r.wg.Add(1)
	go r.loop(sub.Channel())
	return r, nil
}

func (r *Redis[T]) loop(ch <-chan *redis.Message) {
	defer r.wg.Done()
	for m := range ch {
		var env envelope[T]
		if err := json.Unmarshal([]byte(m.Payload), &env); err != nil {
			r.log.Warn().Err(err).Str("channel", r.name).Msg("broadcast: dropping malformed message")
			continue
		}
		if env.Origin == r.id {
			continue
		}
		r.listeners.Publish(env.Data)
	}
}

// Post publishes msg.
func (r *Redis[T]) Post(ctx context.Context, msg T) error {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return ErrClosed
	}
	b, err := json.Marshal(envelope[T]{Origin: r.id, Data: msg})
	if err != nil {
		return err
	}
	if err := r.client.Publish(ctx, r.name, b).Err(); err != nil {
		return fmt.Errorf("broadcast: publish %s: %w", r.name, err)
	}
	return nil
}

// Listen registers fn.
func (r *Redis[T]) Listen(fn func(T)) func() {
	return r.listeners.Add(fn)
}

// Close unsubscribes. The Redis client itself is owned by the caller.
func (r *Redis[T]) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()
	r.listeners.Close()
	err := r.sub.Close()
	r.wg.Wait()
	return err
}
