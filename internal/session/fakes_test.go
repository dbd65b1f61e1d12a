package session

import (
	"context"
	"sync"
	"time"
)

type fakeProvider struct {
	mu        sync.Mutex
	session   *Session
	signInErr error
	signUpErr error
	resendErr error
	getErr    error
	// signUpSession is adopted and announced with SIGNED_IN when sign-up succeeds.
	signUpSession *Session
	listeners     map[int]func(AuthEvent, *Session)
	nextID        int
	calls         map[string]int
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{listeners: map[int]func(AuthEvent, *Session){}, calls: map[string]int{}}
}

func (p *fakeProvider) count(name string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[name]
}

func (p *fakeProvider) listenerCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.listeners)
}

func (p *fakeProvider) setSession(s *Session) {
	p.mu.Lock()
	p.session = s
	p.mu.Unlock()
}

func (p *fakeProvider) emit(ev AuthEvent, s *Session) {
	p.mu.Lock()
	fns := make([]func(AuthEvent, *Session), 0, len(p.listeners))
	for _, fn := range p.listeners {
		fns = append(fns, fn)
	}
	p.mu.Unlock()
	for _, fn := range fns {
		fn(ev, s)
	}
}

func (p *fakeProvider) SignInWithPassword(ctx context.Context, email, password string) (*AuthResponse, error) {
	p.mu.Lock()
	p.calls["SignInWithPassword"]++
	if p.signInErr != nil {
		err := p.signInErr
		p.mu.Unlock()
		return nil, err
	}
	s := testSession("user-1", email, "access-"+email)
	p.session = s
	p.mu.Unlock()
	p.emit(EventSignedIn, s)
	return &AuthResponse{User: &s.User, Session: s}, nil
}

func (p *fakeProvider) SignUp(ctx context.Context, email, password string, metadata map[string]string) (*AuthResponse, error) {
	p.mu.Lock()
	p.calls["SignUp"]++
	if p.signUpErr != nil {
		err := p.signUpErr
		p.mu.Unlock()
		return nil, err
	}
	s := p.signUpSession
	p.session = s
	p.mu.Unlock()
	if s == nil {
		return &AuthResponse{User: &AuthUser{ID: "pending", Email: email}}, nil
	}
	p.emit(EventSignedIn, s)
	return &AuthResponse{User: &s.User, Session: s}, nil
}

func (p *fakeProvider) SignOut(ctx context.Context) error {
	p.mu.Lock()
	p.calls["SignOut"]++
	p.session = nil
	p.mu.Unlock()
	p.emit(EventSignedOut, nil)
	return nil
}

func (p *fakeProvider) GetSession(ctx context.Context) (*Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls["GetSession"]++
	if p.getErr != nil {
		return nil, p.getErr
	}
	if p.session == nil {
		return nil, nil
	}
	s := *p.session
	return &s, nil
}

func (p *fakeProvider) GetUser(ctx context.Context) (*AuthUser, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls["GetUser"]++
	if p.session == nil {
		return nil, nil
	}
	u := p.session.User
	return &u, nil
}

func (p *fakeProvider) Resend(ctx context.Context, email string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls["Resend"]++
	return p.resendErr
}

func (p *fakeProvider) OnAuthStateChange(fn func(AuthEvent, *Session)) func() {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextID
	p.nextID++
	p.listeners[id] = fn
	return func() {
		p.mu.Lock()
		delete(p.listeners, id)
		p.mu.Unlock()
	}
}

func (p *fakeProvider) networkCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, c := range p.calls {
		n += c
	}
	return n
}

type fakeProfiles struct {
	mu    sync.Mutex
	users map[string]User
	// missing makes the first n lookups of an id report not found.
	missing map[string]int
	err     error
	calls   map[string]int
}

func newFakeProfiles(users ...User) *fakeProfiles {
	f := &fakeProfiles{users: map[string]User{}, missing: map[string]int{}, calls: map[string]int{}}
	for _, u := range users {
		f.users[u.ID] = u
	}
	return f
}

func (f *fakeProfiles) GetProfileByID(ctx context.Context, id string) (*User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[id]++
	if f.err != nil {
		return nil, f.err
	}
	if f.calls[id] <= f.missing[id] {
		return nil, ErrProfileNotFound
	}
	u, ok := f.users[id]
	if !ok {
		return nil, ErrProfileNotFound
	}
	return &u, nil
}

func (f *fakeProfiles) InsertProfile(ctx context.Context, u User) (*User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["insert:"+u.ID]++
	if f.err != nil {
		return nil, f.err
	}
	if _, ok := f.users[u.ID]; ok {
		return nil, ErrProfileExists
	}
	f.users[u.ID] = u
	return &u, nil
}

func (f *fakeProfiles) count(id string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[id]
}

func (f *fakeProfiles) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

// virtualClock records requested delays and returns at once.
type virtualClock struct {
	mu     sync.Mutex
	slept  []time.Duration
	onWait func(n int)
}

func (c *virtualClock) sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	c.slept = append(c.slept, d)
	n := len(c.slept)
	hook := c.onWait
	c.mu.Unlock()
	if hook != nil {
		hook(n)
	}
	return ctx.Err()
}

func (c *virtualClock) delays() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.slept...)
}

func testSession(id, email, access string) *Session {
	return &Session{
		AccessToken:  access,
		RefreshToken: "refresh-" + id,
		ExpiresAt:    time.Now().Add(time.Hour),
		User:         AuthUser{ID: id, Email: email},
	}
}
