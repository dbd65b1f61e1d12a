package session

import (
	"time"

	"github.com/rs/zerolog"

	"m-taji/platform/internal/broadcast"
	"m-taji/platform/internal/retry"
	"m-taji/platform/internal/storage"
)

const (
	// DefaultStorageKey is the durable slot holding the persisted session.
	DefaultStorageKey = "m-taji-auth-token"
	// DefaultChannelName is the cross-tab channel name.
	DefaultChannelName = "m-taji-auth"
	// DefaultValidateInterval is the period of background session validation.
	DefaultValidateInterval = 5 * time.Minute
	// DefaultProfileAttempts bounds the profile lookup loop after sign-in.
	DefaultProfileAttempts = 10
	// DefaultProfileDelay is both the first delay and the per-attempt increment.
	DefaultProfileDelay = 500 * time.Millisecond
)

// Option configures a Manager.
type Option func(*Manager)

// WithChannel enables cross-tab broadcast. The manager closes the channel on Close.
func WithChannel(ch broadcast.Channel[Message]) Option {
	return func(m *Manager) { m.channel = ch }
}

// WithStorage watches store for changes to key made by other endpoints.
func WithStorage(store storage.Store, key string) Option {
	return func(m *Manager) {
		m.store = store
		if key != "" {
			m.storageKey = key
		}
	}
}

// WithValidateInterval sets the background validation period; zero or negative disables it.
func WithValidateInterval(d time.Duration) Option {
	return func(m *Manager) { m.interval = d }
}

// WithProfileRetry sets the attempt bound and the linear schedule initial + (n-1)*step.
func WithProfileRetry(attempts int, initial, step time.Duration) Option {
	return func(m *Manager) {
		if attempts > 0 {
			m.attempts = attempts
		}
		m.initialDelay = initial
		m.step = step
	}
}

// WithSleeper replaces the clock used between profile attempts.
func WithSleeper(s retry.Sleeper) Option {
	return func(m *Manager) { m.sleep = s }
}

// WithClock replaces the clock used for session expiry.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(m *Manager) { m.log = l }
}
