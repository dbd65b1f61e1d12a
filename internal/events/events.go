// Package events carries sign-up events from the auth service to the profile materializer.
package events

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrClosed is returned by publishers and consumers after Close.
	ErrClosed = errors.New("events: closed")
	// ErrMalformed marks a message whose payload could not be decoded. The message should be acked and skipped.
	ErrMalformed = errors.New("events: malformed message")
)

// Signup is published once per accepted sign-up.
type Signup struct {
	UserID    string    `json:"user_id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// Publisher emits sign-up events.
type Publisher interface {
	PublishSignup(ctx context.Context, ev Signup) error
	Close() error
}

// Message is a received sign-up event. Ack marks it processed.
type Message struct {
	Signup Signup
	ack    func(context.Context) error
}

// Ack marks the message processed so it is not delivered again.
func (m Message) Ack(ctx context.Context) error {
	if m.ack == nil {
		return nil
	}
	return m.ack(ctx)
}

// Consumer receives sign-up events. Fetch blocks until a message arrives or ctx is done.
type Consumer interface {
	Fetch(ctx context.Context) (Message, error)
	Close() error
}
