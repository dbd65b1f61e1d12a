// Package session keeps one endpoint's view of who is signed in, synchronized with the identity
// provider, the profile store and every other endpoint sharing the same durable storage or
// broadcast channel.
package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"

	"m-taji/platform/internal/broadcast"
	"m-taji/platform/internal/platform/fanout"
	"m-taji/platform/internal/retry"
	"m-taji/platform/internal/storage"
)

var (
	ErrAlreadyStarted     = errors.New("session: manager already started")
	ErrClosed             = errors.New("session: manager closed")
	ErrMissingCredentials = errors.New("session: email and password are required")
	ErrNotSignedIn        = errors.New("session: not signed in")
	ErrProfilesReadOnly   = errors.New("session: profile store cannot create profiles")
)

// broadcastTimeout bounds a single cross-tab post.
const broadcastTimeout = 5 * time.Second

// Manager owns the in-memory session and user. All triggers (provider events, broadcast
// messages, storage changes, focus, the validation ticker) may fire concurrently; the last
// write to state wins, except that a profile lookup started for one identity is never applied
// after the identity has changed.
type Manager struct {
	provider IdentityProvider
	profiles ProfileStore

	channel      broadcast.Channel[Message]
	store        storage.Store
	storageKey   string
	interval     time.Duration
	attempts     int
	initialDelay time.Duration
	step         time.Duration
	sleep        retry.Sleeper
	now          func() time.Time
	log          zerolog.Logger

	mu       sync.Mutex
	pubMu    sync.Mutex
	state    State
	epoch    uint64
	inflight map[uint64]chan struct{}
	started  bool
	closed   bool
	unsubs   []func()

	ready     chan struct{}
	readyOnce sync.Once

	subs   fanout.Set[State]
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager returns a manager in the INITIALIZING phase. Call Start to mount it.
func NewManager(provider IdentityProvider, profiles ProfileStore, opts ...Option) *Manager {
	m := &Manager{
		provider:     provider,
		profiles:     profiles,
		storageKey:   DefaultStorageKey,
		interval:     DefaultValidateInterval,
		attempts:     DefaultProfileAttempts,
		initialDelay: DefaultProfileDelay,
		step:         DefaultProfileDelay,
		sleep:        retry.Sleep,
		now:          time.Now,
		log:          zerolog.Nop(),
		inflight:     make(map[uint64]chan struct{}),
		ready:        make(chan struct{}),
		state:        State{Loading: true, Phase: PhaseInitializing},
	}
	for _, o := range opts {
		o(m)
	}
	m.ctx, m.cancel = context.WithCancel(context.Background())
	return m
}

// Start registers every listener, starts the validation ticker and begins restoring the
// persisted session in the background. Ready is closed once the restore settles.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.started {
		m.mu.Unlock()
		return ErrAlreadyStarted
	}
	m.started = true
	m.mu.Unlock()

	m.addUnsub(m.provider.OnAuthStateChange(m.onProviderEvent))
	if m.channel != nil {
		m.addUnsub(m.channel.Listen(m.onBroadcast))
		ch := m.channel
		m.addUnsub(func() {
			if err := ch.Close(); err != nil {
				m.log.Warn().Err(err).Msg("session: close broadcast channel")
			}
		})
	}
	if m.store != nil {
		stop, err := m.store.Watch(m.onStorage)
		if err != nil {
			_ = m.Close()
			return fmt.Errorf("session: watch storage: %w", err)
		}
		m.addUnsub(stop)
	}
	if m.interval > 0 {
		m.spawn(m.tick)
	}

	if err := ctx.Err(); err != nil {
		_ = m.Close()
		return err
	}
	if !m.spawn(m.bootstrap) {
		m.markReady()
		return ErrClosed
	}
	return nil
}

// Ready is closed when the initial restore has settled or the manager is closed.
func (m *Manager) Ready() <-chan struct{} { return m.ready }

// Close tears down every listener and the ticker, cancels in-flight work and waits for it.
// No state change is published after Close returns.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	unsubs := m.unsubs
	m.unsubs = nil
	m.mu.Unlock()

	for i := len(unsubs) - 1; i >= 0; i-- {
		unsubs[i]()
	}
	m.cancel()
	m.wg.Wait()
	m.markReady()
	m.subs.Close()
	return nil
}

// State returns the current snapshot.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// Subscribe registers fn for every state change. fn runs on its own goroutine, in order.
func (m *Manager) Subscribe(fn func(State)) (unsubscribe func()) {
	return m.subs.Add(fn)
}

// Login signs in with the identity provider. Provider errors are returned unchanged.
// A successful sign-in without a profile record yields false and no error.
func (m *Manager) Login(ctx context.Context, email, password string) (bool, error) {
	if email == "" || password == "" {
		return false, ErrMissingCredentials
	}
	resp, err := m.provider.SignInWithPassword(ctx, email, password)
	if err != nil {
		return false, err
	}
	if resp == nil || resp.Session == nil {
		return false, nil
	}
	epoch, ok := m.adoptSession(resp.Session)
	if !ok {
		return false, ErrClosed
	}
	u, err := m.lookupProfile(ctx, resp.Session.User.ID)
	if err != nil {
		m.log.Warn().Err(err).Str("user_id", resp.Session.User.ID).Msg("session: signed in without profile")
		return false, nil
	}
	m.applyProfile(epoch, u)
	return true, nil
}

// Register signs up with the identity provider, passing name as metadata. It returns true as
// soon as the provider accepts; the profile is resolved by the SIGNED_IN handler.
func (m *Manager) Register(ctx context.Context, name, email, password string) (bool, error) {
	if email == "" || password == "" {
		return false, ErrMissingCredentials
	}
	if _, err := m.provider.SignUp(ctx, email, password, map[string]string{"name": name}); err != nil {
		return false, err
	}
	return true, nil
}

// Logout signs out with the provider, then clears the session and user.
// Local state is cleared even when the provider call fails; the error is still returned.
func (m *Manager) Logout(ctx context.Context) error {
	err := m.provider.SignOut(ctx)
	if err != nil {
		m.log.Warn().Err(err).Msg("session: provider sign-out failed")
	}
	m.clear()
	return err
}

// ResendConfirmationEmail asks the provider to re-send the sign-up confirmation.
func (m *Manager) ResendConfirmationEmail(ctx context.Context, email string) (bool, error) {
	if err := m.provider.Resend(ctx, email); err != nil {
		return false, err
	}
	return true, nil
}

// RefreshSession re-reads the session and its profile. On any failure both are cleared.
func (m *Manager) RefreshSession(ctx context.Context) error {
	sess, err := m.provider.GetSession(ctx)
	if err != nil {
		m.clear()
		return fmt.Errorf("session: refresh: %w", err)
	}
	if sess == nil || sess.Expired(m.now()) {
		m.clear()
		return nil
	}
	u, err := m.lookupProfile(ctx, sess.User.ID)
	if err != nil {
		m.clear()
		return fmt.Errorf("session: refresh profile: %w", err)
	}
	epoch, ok := m.adoptSession(sess)
	if !ok {
		return ErrClosed
	}
	m.applyProfile(epoch, u)
	return nil
}

// EnsureProfile creates the signed-in user's profile when it never materialized and adopts it.
// A profile that appears concurrently is read back instead. It reports true once a profile is held.
func (m *Manager) EnsureProfile(ctx context.Context) (bool, error) {
	w, ok := m.profiles.(ProfileWriter)
	if !ok {
		return false, ErrProfilesReadOnly
	}
	m.mu.Lock()
	var sess Session
	held := m.state.Session != nil && !m.state.Session.Expired(m.now())
	if held {
		sess = *m.state.Session
	}
	hasUser := m.state.User != nil
	epoch := m.epoch
	m.mu.Unlock()
	if !held {
		return false, ErrNotSignedIn
	}
	if hasUser {
		return true, nil
	}

	local, _, _ := strings.Cut(sess.User.Email, "@")
	u, err := w.InsertProfile(ctx, User{ID: sess.User.ID, Email: sess.User.Email, Name: local, Role: RoleUser})
	if errors.Is(err, ErrProfileExists) {
		u, err = m.lookupProfile(ctx, sess.User.ID)
	}
	if err != nil {
		return false, err
	}
	m.applyProfile(epoch, u)
	return m.isCurrent(epoch), nil
}

// NotifyFocus re-validates in the background, as on window focus.
func (m *Manager) NotifyFocus() {
	m.spawn(func(ctx context.Context) { m.validate(ctx, "focus") })
}

func (m *Manager) bootstrap(ctx context.Context) {
	defer m.finishLoading()
	sess, err := m.provider.GetSession(ctx)
	if err != nil {
		m.log.Warn().Err(err).Msg("session: restore failed")
		m.clear()
		return
	}
	if sess == nil || sess.Expired(m.now()) {
		m.clear()
		return
	}
	m.resolve(ctx, sess)
}

// validate is the background re-check: provider errors leave state untouched unless the held
// session has already expired.
func (m *Manager) validate(ctx context.Context, reason string) {
	sess, err := m.provider.GetSession(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		m.log.Warn().Err(err).Str("trigger", reason).Msg("session: validation failed")
		if m.heldExpired() {
			m.clear()
		}
		return
	}
	if sess == nil || sess.Expired(m.now()) {
		m.clear()
		return
	}
	m.resolve(ctx, sess)
}

// resolve adopts sess and settles its profile. A profile already known for the same identity
// is refreshed with one lookup and kept when that lookup fails.
func (m *Manager) resolve(ctx context.Context, sess *Session) {
	epoch, ok := m.adoptSession(sess)
	if !ok {
		return
	}
	m.mu.Lock()
	known := m.state.User != nil && m.state.User.ID == sess.User.ID
	m.mu.Unlock()
	if known {
		u, err := m.lookupProfile(ctx, sess.User.ID)
		if err != nil {
			if ctx.Err() == nil {
				m.log.Warn().Err(err).Str("user_id", sess.User.ID).Msg("session: profile re-check failed; keeping cached profile")
			}
			return
		}
		m.applyProfile(epoch, u)
		return
	}
	m.resolveProfile(ctx, epoch, sess.User.ID)
}

// resolveProfile runs the bounded profile lookup loop for epoch, or waits for the one already
// running for it.
func (m *Manager) resolveProfile(ctx context.Context, epoch uint64, userID string) {
	m.mu.Lock()
	if done, ok := m.inflight[epoch]; ok {
		m.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
		}
		return
	}
	done := make(chan struct{})
	m.inflight[epoch] = done
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.inflight, epoch)
		m.mu.Unlock()
		close(done)
	}()

	policy := retry.Policy{
		MaxAttempts: m.attempts,
		BackOff:     &retry.Linear{Initial: m.initialDelay, Step: m.step},
		Sleep:       m.sleep,
		OnRetry: func(attempt int, err error, next time.Duration) {
			m.log.Debug().Err(err).Int("attempt", attempt).Dur("next", next).Str("user_id", userID).Msg("session: profile not ready")
		},
	}
	u, err := retry.Do(ctx, policy, func(ctx context.Context, _ int) (*User, error) {
		if !m.isCurrent(epoch) {
			return nil, backoff.Permanent(errStale)
		}
		return m.lookupProfile(ctx, userID)
	})
	if err != nil {
		if ctx.Err() == nil && !errors.Is(err, errStale) {
			m.log.Error().Err(err).Str("user_id", userID).Int("attempts", m.attempts).Msg("session: profile never materialized")
		}
		return
	}
	m.applyProfile(epoch, u)
}

// errStale stops a lookup loop whose identity has been replaced.
var errStale = errors.New("session: identity changed")

func (m *Manager) lookupProfile(ctx context.Context, id string) (*User, error) {
	u, err := m.profiles.GetProfileByID(ctx, id)
	if err != nil {
		if !errors.Is(err, ErrProfileNotFound) && ctx.Err() == nil {
			m.log.Warn().Err(err).Str("user_id", id).Msg("session: profile lookup failed")
		}
		return nil, err
	}
	if u == nil {
		return nil, ErrProfileNotFound
	}
	return u, nil
}

func (m *Manager) onProviderEvent(ev AuthEvent, sess *Session) {
	if m.isClosed() {
		return
	}
	m.post(ev, sess)
	switch ev {
	case EventSignedIn:
		if sess == nil {
			return
		}
		epoch, ok := m.adoptSession(sess)
		if !ok {
			return
		}
		userID := sess.User.ID
		m.spawn(func(ctx context.Context) { m.resolveProfile(ctx, epoch, userID) })
	case EventSignedOut:
		m.clear()
	case EventTokenRefreshed:
		if sess != nil {
			m.adoptSession(sess)
		}
	}
}

func (m *Manager) post(ev AuthEvent, sess *Session) {
	if m.channel == nil {
		return
	}
	msg := Message{Type: MessageTypeAuthStateChange, Event: ev, Session: sess.Projection()}
	m.spawn(func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, broadcastTimeout)
		defer cancel()
		if err := m.channel.Post(ctx, msg); err != nil && !errors.Is(err, broadcast.ErrClosed) {
			m.log.Warn().Err(err).Str("event", string(ev)).Msg("session: broadcast failed")
		}
	})
}

// onBroadcast trusts remote sign-outs and re-verifies remote sign-ins.
func (m *Manager) onBroadcast(msg Message) {
	if msg.Type != MessageTypeAuthStateChange || m.isClosed() {
		return
	}
	switch msg.Event {
	case EventSignedOut:
		m.clear()
	case EventSignedIn:
		m.spawn(func(ctx context.Context) { m.validate(ctx, "broadcast") })
	}
}

func (m *Manager) onStorage(ev storage.Event) {
	if ev.Key != m.storageKey {
		return
	}
	m.spawn(func(ctx context.Context) { m.validate(ctx, "storage") })
}

func (m *Manager) tick(ctx context.Context) {
	t := time.NewTicker(m.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			m.validate(ctx, "interval")
		}
	}
}

func (m *Manager) spawn(fn func(ctx context.Context)) bool {
	m.mu.Lock()
	if m.closed || !m.started {
		m.mu.Unlock()
		return false
	}
	m.wg.Add(1)
	m.mu.Unlock()
	go func() {
		defer m.wg.Done()
		fn(m.ctx)
	}()
	return true
}

func (m *Manager) addUnsub(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unsubs = append(m.unsubs, fn)
}

func (m *Manager) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *Manager) heldExpired() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.Session != nil && m.state.Session.Expired(m.now())
}

func (m *Manager) isCurrent(epoch uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.epoch == epoch && m.state.Session != nil
}

// adoptSession stores sess. A different identity starts a new epoch and drops the user.
func (m *Manager) adoptSession(sess *Session) (uint64, bool) {
	cp := *sess
	return m.mutate(func(st *State) {
		if st.Session == nil || st.Session.User.ID != cp.User.ID {
			m.epoch++
			st.User = nil
		}
		st.Session = &cp
	})
}

func (m *Manager) applyProfile(epoch uint64, u *User) {
	cp := *u
	m.mutate(func(st *State) {
		if m.epoch != epoch || st.Session == nil || st.Session.User.ID != cp.ID {
			return
		}
		st.User = &cp
	})
}

func (m *Manager) clear() {
	m.mutate(func(st *State) {
		if st.Session != nil || st.User != nil {
			m.epoch++
		}
		st.Session = nil
		st.User = nil
	})
}

func (m *Manager) finishLoading() {
	m.mutate(func(st *State) { st.Loading = false })
	m.markReady()
}

func (m *Manager) markReady() {
	m.readyOnce.Do(func() { close(m.ready) })
}

// mutate applies fn under the lock and publishes the resulting snapshot in order.
// It returns the epoch after fn and false when the manager is closed.
func (m *Manager) mutate(fn func(st *State)) (uint64, bool) {
	m.pubMu.Lock()
	defer m.pubMu.Unlock()
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return 0, false
	}
	fn(&m.state)
	epoch := m.epoch
	snap := m.snapshotLocked()
	m.mu.Unlock()
	m.subs.Publish(snap)
	return epoch, true
}

func (m *Manager) snapshotLocked() State {
	st := State{Loading: m.state.Loading}
	if m.state.Session != nil {
		s := *m.state.Session
		st.Session = &s
		st.IsAuthenticated = !s.Expired(m.now())
	}
	// An expired session keeps no profile in view until it is refreshed.
	if m.state.User != nil && st.IsAuthenticated {
		u := *m.state.User
		st.User = &u
	}
	switch {
	case st.Loading:
		st.Phase = PhaseInitializing
	case !st.IsAuthenticated:
		st.Phase = PhaseUnauthenticated
	case st.User == nil:
		st.Phase = PhaseProfilePending
	default:
		st.Phase = PhaseProfileReady
	}
	return st
}
