// Package authclient is the HTTP client for the M-taji auth backend. It implements the identity
// provider consumed by the session manager: password and refresh grants go through OAuth2, the
// session is persisted in a shared storage slot and refreshed shortly before it expires.
package authclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2"

	"m-taji/platform/internal/platform/fanout"
	"m-taji/platform/internal/session"
	"m-taji/platform/internal/storage"
)

// ClientID identifies this client to the token endpoint.
const ClientID = "mtaji-cli"

// DefaultRefreshMargin is how long before expiry the session is refreshed.
const DefaultRefreshMargin = time.Minute

// Options configures a Client.
type Options struct {
	// BaseURL is the backend root, e.g. http://localhost:8080.
	BaseURL string
	// Store persists the session; required.
	Store storage.Store
	// StorageKey defaults to session.DefaultStorageKey.
	StorageKey    string
	HTTPClient    *http.Client
	RefreshMargin time.Duration
	Logger        zerolog.Logger
	Now           func() time.Time
}

type change struct {
	event   session.AuthEvent
	session *session.Session
}

// Client talks to the auth and profile endpoints.
type Client struct {
	base   string
	store  storage.Store
	key    string
	http   *http.Client
	margin time.Duration
	log    zerolog.Logger
	now    func() time.Time
	oauth  *oauth2.Config

	listeners fanout.Set[change]

	refreshMu sync.Mutex
	mu        sync.Mutex
	timer     *time.Timer
	closed    bool
}

var _ session.IdentityProvider = (*Client)(nil)

// New returns a client. It does not contact the backend.
func New(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, errors.New("authclient: base URL is required")
	}
	if _, err := url.Parse(opts.BaseURL); err != nil {
		return nil, fmt.Errorf("authclient: base URL: %w", err)
	}
	if opts.Store == nil {
		return nil, errors.New("authclient: store is required")
	}
	c := &Client{
		base:   strings.TrimRight(opts.BaseURL, "/"),
		store:  opts.Store,
		key:    opts.StorageKey,
		http:   opts.HTTPClient,
		margin: opts.RefreshMargin,
		log:    opts.Logger,
		now:    opts.Now,
	}
	if c.key == "" {
		c.key = session.DefaultStorageKey
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: 15 * time.Second}
	}
	if c.margin <= 0 {
		c.margin = DefaultRefreshMargin
	}
	if c.now == nil {
		c.now = time.Now
	}
	c.oauth = &oauth2.Config{
		ClientID: ClientID,
		Endpoint: oauth2.Endpoint{
			TokenURL:  c.base + "/auth/v1/token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
	return c, nil
}

// Close stops the refresh timer and drops every listener.
func (c *Client) Close() {
	c.mu.Lock()
	c.closed = true
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.mu.Unlock()
	c.listeners.Close()
}

// OnAuthStateChange registers fn for sign-in, sign-out and token refresh events.
func (c *Client) OnAuthStateChange(fn func(session.AuthEvent, *session.Session)) func() {
	return c.listeners.Add(func(ch change) { fn(ch.event, ch.session) })
}

func (c *Client) emit(ev session.AuthEvent, s *session.Session) {
	c.listeners.Publish(change{event: ev, session: s.Projection()})
}

func (c *Client) oauthContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.http)
}

// SignInWithPassword performs the OAuth2 password grant and persists the session.
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*session.AuthResponse, error) {
	tok, err := c.oauth.PasswordCredentialsToken(c.oauthContext(ctx), email, password)
	if err != nil {
		return nil, fromRetrieveError(err)
	}
	s, err := sessionFromToken(tok)
	if err != nil {
		return nil, err
	}
	if err := c.persist(s); err != nil {
		return nil, err
	}
	c.emit(session.EventSignedIn, s)
	return &session.AuthResponse{User: &s.User, Session: s}, nil
}

type signUpRequest struct {
	Email    string            `json:"email"`
	Password string            `json:"password"`
	Data     map[string]string `json:"data,omitempty"`
}

type signUpResponse struct {
	User    wireUser       `json:"user"`
	Session *tokenResponse `json:"session"`
}

// SignUp registers a user. When the backend does not require email confirmation it returns a
// session, which is persisted and announced with SIGNED_IN.
func (c *Client) SignUp(ctx context.Context, email, password string, metadata map[string]string) (*session.AuthResponse, error) {
	var out signUpResponse
	if err := c.do(ctx, http.MethodPost, "/auth/v1/signup", "", signUpRequest{Email: email, Password: password, Data: metadata}, &out); err != nil {
		return nil, err
	}
	resp := &session.AuthResponse{User: &session.AuthUser{ID: out.User.ID, Email: out.User.Email}}
	if out.Session == nil {
		return resp, nil
	}
	s := out.Session.session(c.now())
	if err := c.persist(s); err != nil {
		return nil, err
	}
	resp.Session = s
	c.emit(session.EventSignedIn, s)
	return resp, nil
}

// SignOut revokes the session on the backend (best effort) and removes it locally.
func (c *Client) SignOut(ctx context.Context) error {
	s, err := c.load()
	if err != nil {
		c.log.Warn().Err(err).Msg("authclient: read session for sign-out")
	}
	if s != nil {
		if err := c.do(ctx, http.MethodPost, "/auth/v1/logout", s.AccessToken, nil, nil); err != nil {
			c.log.Warn().Err(err).Msg("authclient: backend sign-out failed; removing local session")
		}
	}
	c.stopTimer()
	if err := c.store.Remove(c.key); err != nil {
		return fmt.Errorf("authclient: remove session: %w", err)
	}
	c.emit(session.EventSignedOut, nil)
	return nil
}

// GetSession returns the persisted session, refreshing it when it is about to expire.
// A refresh the backend rejects signs the client out and returns nil.
func (c *Client) GetSession(ctx context.Context) (*session.Session, error) {
	s, err := c.load()
	if err != nil || s == nil {
		return nil, err
	}
	if s.ExpiresAt.After(c.now().Add(c.margin)) {
		c.schedule(s)
		return s, nil
	}
	return c.refresh(ctx, s)
}

// GetUser returns the backend's view of the signed-in user, or nil when signed out.
func (c *Client) GetUser(ctx context.Context) (*session.AuthUser, error) {
	s, err := c.GetSession(ctx)
	if err != nil || s == nil {
		return nil, err
	}
	var u wireUser
	if err := c.do(ctx, http.MethodGet, "/auth/v1/user", s.AccessToken, nil, &u); err != nil {
		return nil, err
	}
	return &session.AuthUser{ID: u.ID, Email: u.Email}, nil
}

type resendRequest struct {
	Type  string `json:"type"`
	Email string `json:"email"`
}

// Resend re-sends the sign-up confirmation email.
func (c *Client) Resend(ctx context.Context, email string) error {
	return c.do(ctx, http.MethodPost, "/auth/v1/resend", "", resendRequest{Type: "signup", Email: email}, nil)
}

// SignInWithLink adopts the session carried in a confirmation or magic link's fragment
// (access_token, refresh_token, expires_in) and announces SIGNED_IN.
func (c *Client) SignInWithLink(ctx context.Context, link string) (*session.Session, error) {
	u, err := url.Parse(link)
	if err != nil {
		return nil, fmt.Errorf("authclient: parse link: %w", err)
	}
	vals, err := url.ParseQuery(u.Fragment)
	if err != nil || vals.Get("access_token") == "" {
		vals = u.Query()
	}
	if vals.Get("access_token") == "" || vals.Get("refresh_token") == "" {
		return nil, errors.New("authclient: link carries no session")
	}
	tr := tokenResponse{
		AccessToken:  vals.Get("access_token"),
		RefreshToken: vals.Get("refresh_token"),
	}
	if v := vals.Get("expires_in"); v != "" {
		if _, err := fmt.Sscan(v, &tr.ExpiresIn); err != nil {
			return nil, fmt.Errorf("authclient: expires_in: %w", err)
		}
	}
	s := tr.session(c.now())
	var u2 wireUser
	if err := c.do(ctx, http.MethodGet, "/auth/v1/user", s.AccessToken, nil, &u2); err != nil {
		return nil, err
	}
	s.User = session.AuthUser{ID: u2.ID, Email: u2.Email}
	if err := c.persist(s); err != nil {
		return nil, err
	}
	c.emit(session.EventSignedIn, s)
	return s, nil
}

// refresh runs the refresh grant for s. Concurrent refreshes in this process are serialized; a
// refresh that finds a newer session already persisted, before or after the grant, returns it instead.
func (c *Client) refresh(ctx context.Context, s *session.Session) (*session.Session, error) {
	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	cur, err := c.load()
	if err != nil {
		return nil, err
	}
	if cur == nil {
		return nil, nil
	}
	if cur.RefreshToken != s.RefreshToken && cur.ExpiresAt.After(c.now().Add(c.margin)) {
		return cur, nil
	}

	src := c.oauth.TokenSource(c.oauthContext(ctx), &oauth2.Token{
		RefreshToken: cur.RefreshToken,
		Expiry:       c.now().Add(-time.Second),
	})
	tok, err := src.Token()
	if err != nil {
		err = fromRetrieveError(err)
		if rejected(err) {
			// Another process sharing the store may have rotated the token while ours was in flight.
			if latest, lerr := c.load(); lerr == nil && latest != nil && latest.RefreshToken != cur.RefreshToken {
				c.log.Debug().Msg("authclient: refresh lost to a newer stored session")
				c.schedule(latest)
				return latest, nil
			}
			c.log.Info().Err(err).Msg("authclient: refresh rejected; signing out")
			c.stopTimer()
			if rmErr := c.store.Remove(c.key); rmErr != nil {
				return nil, rmErr
			}
			c.emit(session.EventSignedOut, nil)
			return nil, nil
		}
		return nil, err
	}
	next, err := sessionFromToken(tok)
	if err != nil {
		return nil, err
	}
	if next.User.ID == "" {
		next.User = cur.User
	}
	if err := c.persist(next); err != nil {
		return nil, err
	}
	c.emit(session.EventTokenRefreshed, next)
	return next, nil
}

func (c *Client) load() (*session.Session, error) {
	raw, ok, err := c.store.Get(c.key)
	if err != nil {
		return nil, fmt.Errorf("authclient: read session: %w", err)
	}
	if !ok || raw == "" {
		return nil, nil
	}
	var s session.Session
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		c.log.Warn().Err(err).Msg("authclient: discarding unreadable session")
		_ = c.store.Remove(c.key)
		return nil, nil
	}
	if s.AccessToken == "" {
		return nil, nil
	}
	return &s, nil
}

func (c *Client) persist(s *session.Session) error {
	b, err := json.Marshal(s.Projection())
	if err != nil {
		return err
	}
	if err := c.store.Set(c.key, string(b)); err != nil {
		return fmt.Errorf("authclient: persist session: %w", err)
	}
	c.schedule(s)
	return nil
}

// schedule arms the auto-refresh timer for s, replacing any earlier one.
func (c *Client) schedule(s *session.Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if c.timer != nil {
		c.timer.Stop()
	}
	d := s.ExpiresAt.Sub(c.now()) - c.margin
	if d < 0 {
		d = 0
	}
	snapshot := *s
	c.timer = time.AfterFunc(d, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if _, err := c.refresh(ctx, &snapshot); err != nil {
			c.log.Warn().Err(err).Msg("authclient: auto-refresh failed")
		}
	})
}

func (c *Client) stopTimer() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

type errorBody struct {
	Code             string `json:"code"`
	Message          string `json:"message"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// do sends a JSON request and decodes a JSON response into out (when non-nil).
func (c *Client) do(ctx context.Context, method, path, bearer string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("authclient: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("authclient: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		var eb errorBody
		if json.Unmarshal(data, &eb) == nil {
			apiErr.Code, apiErr.Message = eb.Code, eb.Message
			if apiErr.Code == "" {
				apiErr.Code = eb.Error
			}
			if apiErr.Message == "" {
				apiErr.Message = eb.ErrorDescription
			}
		}
		return apiErr
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("authclient: decode %s: %w", path, err)
	}
	return nil
}
