// Package materializer creates the application profile for each accepted sign-up.
package materializer

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"

	"m-taji/platform/internal/events"
	"m-taji/platform/internal/profile/domain"
	"m-taji/platform/internal/profile/repository"
	"m-taji/platform/internal/retry"
)

// ProfileInserter is the minimal profile repository needed here.
type ProfileInserter interface {
	Insert(ctx context.Context, p *domain.Profile) error
}

// Materializer turns sign-up events into profile rows. The optional delay models the
// asynchronous gap clients must tolerate between sign-up and profile availability.
type Materializer struct {
	profiles ProfileInserter
	delay    time.Duration
	attempts int
	sleep    retry.Sleeper
	now      func() time.Time
	log      zerolog.Logger
}

// New returns a Materializer that inserts each profile no earlier than delay after its sign-up.
func New(profiles ProfileInserter, delay time.Duration, log zerolog.Logger) *Materializer {
	return &Materializer{
		profiles: profiles,
		delay:    delay,
		attempts: 5,
		sleep:    retry.Sleep,
		now:      func() time.Time { return time.Now().UTC() },
		log:      log.With().Str("component", "materializer").Logger(),
	}
}

var errInvalidEvent = errors.New("materializer: signup event without user id or email")

// Handle waits until the configured delay has passed since the sign-up, then creates the
// profile for ev. An existing profile counts as success.
func (m *Materializer) Handle(ctx context.Context, ev events.Signup) error {
	if err := m.wait(ctx, ev); err != nil {
		return err
	}
	return m.insert(ctx, ev)
}

// wait sleeps until ev.CreatedAt+delay, so a burst of sign-ups shares one delay instead of
// queueing one per event. Events without a timestamp wait the full delay.
func (m *Materializer) wait(ctx context.Context, ev events.Signup) error {
	if m.delay <= 0 {
		return nil
	}
	d := m.delay
	if !ev.CreatedAt.IsZero() {
		d = ev.CreatedAt.Add(m.delay).Sub(m.now())
	}
	if d <= 0 {
		return nil
	}
	if d > m.delay {
		d = m.delay // producer clock ahead of ours
	}
	return m.sleep(ctx, d)
}

func (m *Materializer) insert(ctx context.Context, ev events.Signup) error {
	if ev.UserID == "" || ev.Email == "" {
		return errInvalidEvent
	}
	now := m.now()
	p := &domain.Profile{
		ID:        ev.UserID,
		Email:     ev.Email,
		Name:      displayName(ev),
		Role:      domain.RoleUser,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err := m.profiles.Insert(ctx, p)
	if errors.Is(err, repository.ErrConflict) {
		m.log.Debug().Str("user_id", ev.UserID).Msg("profile already exists")
		return nil
	}
	if err != nil {
		return err
	}
	m.log.Info().Str("user_id", ev.UserID).Msg("profile created")
	return nil
}

// Run consumes events until ctx is done or the consumer closes. Each insert is retried with
// exponential backoff; events that still fail are logged and acknowledged.
func (m *Materializer) Run(ctx context.Context, c events.Consumer) error {
	for {
		msg, err := c.Fetch(ctx)
		switch {
		case err == nil:
		case ctx.Err() != nil, errors.Is(err, events.ErrClosed):
			return nil
		case errors.Is(err, events.ErrMalformed):
			m.log.Warn().Err(err).Msg("skipping malformed event")
			m.ack(ctx, msg)
			continue
		default:
			m.log.Error().Err(err).Msg("fetch")
			if err := m.sleep(ctx, time.Second); err != nil {
				return nil
			}
			continue
		}

		if err := m.wait(ctx, msg.Signup); err != nil {
			return nil
		}
		_, err = retry.Do(ctx, retry.Policy{
			MaxAttempts: m.attempts,
			BackOff:     newBackOff(),
			Sleep:       m.sleep,
			OnRetry: func(attempt int, err error, next time.Duration) {
				m.log.Warn().Err(err).Int("attempt", attempt).Dur("next", next).Str("user_id", msg.Signup.UserID).Msg("insert failed")
			},
		}, func(ctx context.Context, _ int) (struct{}, error) {
			err := m.insert(ctx, msg.Signup)
			if errors.Is(err, errInvalidEvent) {
				return struct{}{}, backoff.Permanent(err)
			}
			return struct{}{}, err
		})
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			m.log.Error().Err(err).Str("user_id", msg.Signup.UserID).Msg("giving up on signup event")
		}
		m.ack(ctx, msg)
	}
}

func (m *Materializer) ack(ctx context.Context, msg events.Message) {
	if err := msg.Ack(ctx); err != nil && ctx.Err() == nil {
		m.log.Error().Err(err).Msg("ack")
	}
}

func newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	return b
}

// displayName falls back to the local part of the email when sign-up carried no name.
func displayName(ev events.Signup) string {
	if name := strings.TrimSpace(ev.Name); name != "" {
		return name
	}
	local, _, _ := strings.Cut(ev.Email, "@")
	return local
}
