// Package broadcast provides named publish/subscribe channels between endpoints (tabs, windows,
// processes). A message posted on an endpoint reaches every other endpoint with the same name,
// never the poster itself.
package broadcast

import (
	"context"
	"errors"
)

// ErrClosed is returned when posting on a closed endpoint.
var ErrClosed = errors.New("broadcast: channel closed")

// Channel is one endpoint of a named channel carrying messages of type T.
type Channel[T any] interface {
	// Post sends msg to every other endpoint.
	Post(ctx context.Context, msg T) error
	// Listen registers fn for messages from other endpoints. stop unregisters it.
	Listen(fn func(T)) (stop func())
	// Close releases the endpoint; listeners receive nothing afterwards.
	Close() error
}
