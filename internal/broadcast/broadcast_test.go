package broadcast

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type note struct {
	Type  string `json:"type"`
	Event string `json:"event"`
}

func listen[T any](c Channel[T]) (<-chan T, func()) {
	ch := make(chan T, 8)
	stop := c.Listen(func(v T) { ch <- v })
	return ch, stop
}

func recv[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		var zero T
		return zero
	}
}

func silent[T any](t *testing.T, ch <-chan T) {
	t.Helper()
	select {
	case v := <-ch:
		t.Fatalf("unexpected message %+v", v)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestHub_NoSelfDelivery(t *testing.T) {
	hub := NewHub[note]()
	a, b, c := hub.Open("m-taji-auth"), hub.Open("m-taji-auth"), hub.Open("other")
	aCh, _ := listen[note](a)
	bCh, _ := listen[note](b)
	cCh, _ := listen[note](c)

	msg := note{Type: "AUTH_STATE_CHANGE", Event: "SIGNED_OUT"}
	require.NoError(t, a.Post(context.Background(), msg))
	assert.Equal(t, msg, recv(t, bCh))
	silent(t, aCh)
	silent(t, cCh)
}

func TestHub_CloseStopsDelivery(t *testing.T) {
	hub := NewHub[note]()
	a, b := hub.Open("x"), hub.Open("x")
	bCh, _ := listen[note](b)
	require.NoError(t, b.Close())
	require.NoError(t, b.Close())
	require.NoError(t, a.Post(context.Background(), note{Event: "SIGNED_IN"}))
	silent(t, bCh)
	assert.ErrorIs(t, b.Post(context.Background(), note{}), ErrClosed)
}

func TestHub_StopListener(t *testing.T) {
	hub := NewHub[note]()
	a, b := hub.Open("x"), hub.Open("x")
	bCh, stop := listen[note](b)
	stop()
	require.NoError(t, a.Post(context.Background(), note{Event: "SIGNED_IN"}))
	silent(t, bCh)
}

// TestRedis_NoSelfDelivery needs a live Redis; set TEST_REDIS_URL to run it.
func TestRedis_NoSelfDelivery(t *testing.T) {
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	opts, err := redis.ParseURL(url)
	require.NoError(t, err)
	client := redis.NewClient(opts)
	defer client.Close()

	ctx := context.Background()
	name := "m-taji-auth-test-" + t.Name()
	a, err := NewRedis[note](ctx, client, name, zerolog.Nop())
	require.NoError(t, err)
	defer a.Close()
	b, err := NewRedis[note](ctx, client, name, zerolog.Nop())
	require.NoError(t, err)
	defer b.Close()

	aCh, _ := listen[note](a)
	bCh, _ := listen[note](b)
	msg := note{Type: "AUTH_STATE_CHANGE", Event: "SIGNED_IN"}
	require.NoError(t, a.Post(ctx, msg))
	assert.Equal(t, msg, recv(t, bCh))
	silent(t, aCh)
}
