// Package storage provides a durable string key-value store shared by several endpoints,
// with change notifications delivered to every endpoint other than the writer.
package storage

import "errors"

// ErrClosed is returned by operations on a closed store.
var ErrClosed = errors.New("storage: closed")

// Event describes a change made by another endpoint.
type Event struct {
	Key      string
	NewValue string
	// Removed is true when the key was deleted; NewValue is empty.
	Removed bool
}

// Store is one endpoint's view of the shared store.
type Store interface {
	// Get returns the value for key; ok is false when the key is absent.
	Get(key string) (value string, ok bool, err error)
	// Set stores value under key.
	Set(key, value string) error
	// Remove deletes key. Removing an absent key is not an error.
	Remove(key string) error
	// Watch registers fn for changes made by other endpoints. stop unregisters it.
	Watch(fn func(Event)) (stop func(), err error)
}
