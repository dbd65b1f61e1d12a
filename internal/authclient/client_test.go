package authclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"m-taji/platform/internal/session"
	"m-taji/platform/internal/storage"
)

// fakeBackend serves the subset of the auth API the client uses.
type fakeBackend struct {
	mu          sync.Mutex
	refreshOK   bool
	failStatus  int
	onRefresh   func()
	confirm     bool
	logouts     int
	refreshes   int
	profiles    map[string]session.User
	lastRefresh string
}

func (b *fakeBackend) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	writeJSON := func(w http.ResponseWriter, status int, v any) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(v)
	}
	token := func(access, refresh string) map[string]any {
		return map[string]any{
			"access_token":  access,
			"token_type":    "bearer",
			"expires_in":    3600,
			"refresh_token": refresh,
			"user":          map[string]any{"id": "user-1", "email": "jane@x.com"},
		}
	}
	mux.HandleFunc("/auth/v1/token", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		switch r.PostForm.Get("grant_type") {
		case "password":
			if r.PostForm.Get("username") != "jane@x.com" || r.PostForm.Get("password") != "Secret123" {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant", "error_description": "Invalid login credentials"})
				return
			}
			writeJSON(w, http.StatusOK, token("access-1", "refresh-1"))
		case "refresh_token":
			b.mu.Lock()
			b.refreshes++
			b.lastRefresh = r.PostForm.Get("refresh_token")
			ok, status, hook := b.refreshOK, b.failStatus, b.onRefresh
			b.mu.Unlock()
			if hook != nil {
				hook()
			}
			if status != 0 {
				writeJSON(w, status, map[string]string{"error": "server_error", "error_description": http.StatusText(status)})
				return
			}
			if !ok {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid_grant", "error_description": "Invalid Refresh Token"})
				return
			}
			writeJSON(w, http.StatusOK, token("access-2", "refresh-2"))
		}
	})
	mux.HandleFunc("/auth/v1/signup", func(w http.ResponseWriter, r *http.Request) {
		var req signUpRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "Jane Doe", req.Data["name"])
		out := map[string]any{"user": map[string]any{"id": "user-1", "email": req.Email}, "session": nil}
		if !b.confirm {
			out["session"] = token("access-1", "refresh-1")
		}
		writeJSON(w, http.StatusOK, out)
	})
	mux.HandleFunc("/auth/v1/logout", func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		b.logouts++
		b.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("/auth/v1/user", func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasPrefix(r.Header.Get("Authorization"), "Bearer ") {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"code": "unauthorized", "message": "missing bearer token"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"id": "user-1", "email": "jane@x.com"})
	})
	mux.HandleFunc("/auth/v1/resend", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusTooManyRequests, map[string]string{"code": "over_email_send_rate_limit", "message": "Email rate limit exceeded"})
	})
	mux.HandleFunc("/rest/v1/profiles/", func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimPrefix(r.URL.Path, "/rest/v1/profiles/")
		b.mu.Lock()
		u, ok := b.profiles[id]
		b.mu.Unlock()
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"code": "not_found", "message": "profile not found"})
			return
		}
		writeJSON(w, http.StatusOK, u)
	})
	mux.HandleFunc("/rest/v1/profiles", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusConflict, map[string]string{"code": "conflict", "message": "profile already exists"})
	})
	return mux
}

func (b *fakeBackend) stats() (refreshes, logouts int, lastRefresh string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.refreshes, b.logouts, b.lastRefresh
}

type events struct {
	mu  sync.Mutex
	got []session.AuthEvent
}

func (e *events) add(ev session.AuthEvent, _ *session.Session) {
	e.mu.Lock()
	e.got = append(e.got, ev)
	e.mu.Unlock()
}

func (e *events) list() []session.AuthEvent {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]session.AuthEvent(nil), e.got...)
}

func newTestClient(t *testing.T, b *fakeBackend) (*Client, storage.Store, *events) {
	t.Helper()
	srv := httptest.NewServer(b.handler(t))
	t.Cleanup(srv.Close)
	store := storage.NewMemoryBackend().Open()
	c, err := New(Options{BaseURL: srv.URL, Store: store, Logger: zerolog.Nop()})
	require.NoError(t, err)
	t.Cleanup(c.Close)
	ev := &events{}
	c.OnAuthStateChange(ev.add)
	return c, store, ev
}

func TestSignInWithPassword_PersistsAndAnnounces(t *testing.T) {
	c, store, ev := newTestClient(t, &fakeBackend{})

	resp, err := c.SignInWithPassword(context.Background(), "jane@x.com", "Secret123")
	require.NoError(t, err)
	require.NotNil(t, resp.Session)
	assert.Equal(t, "access-1", resp.Session.AccessToken)
	assert.Equal(t, "user-1", resp.Session.User.ID)
	assert.WithinDuration(t, time.Now().Add(time.Hour), resp.Session.ExpiresAt, time.Minute)

	raw, ok, err := store.Get(session.DefaultStorageKey)
	require.NoError(t, err)
	require.True(t, ok)
	var persisted session.Session
	require.NoError(t, json.Unmarshal([]byte(raw), &persisted))
	assert.Equal(t, "refresh-1", persisted.RefreshToken)

	require.Eventually(t, func() bool { return len(ev.list()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, session.EventSignedIn, ev.list()[0])
}

func TestSignInWithPassword_InvalidCredentials(t *testing.T) {
	c, store, _ := newTestClient(t, &fakeBackend{})

	_, err := c.SignInWithPassword(context.Background(), "bad@x.com", "wrong")
	require.Error(t, err)
	assert.Equal(t, "Invalid login credentials", err.Error())
	assert.True(t, IsStatus(err, http.StatusBadRequest))
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "invalid_grant", apiErr.Code)

	_, ok, _ := store.Get(session.DefaultStorageKey)
	assert.False(t, ok)
}

func TestGetSession_RefreshesExpiredSession(t *testing.T) {
	b := &fakeBackend{refreshOK: true}
	c, store, ev := newTestClient(t, b)
	expired := session.Session{AccessToken: "old", RefreshToken: "refresh-old", ExpiresAt: time.Now().Add(-time.Minute), User: session.AuthUser{ID: "user-1", Email: "jane@x.com"}}
	raw, _ := json.Marshal(expired)
	require.NoError(t, store.Set(session.DefaultStorageKey, string(raw)))

	s, err := c.GetSession(context.Background())
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, "access-2", s.AccessToken)
	_, _, last := b.stats()
	assert.Equal(t, "refresh-old", last)
	require.Eventually(t, func() bool { return len(ev.list()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, session.EventTokenRefreshed, ev.list()[0])

	s, err = c.GetSession(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "access-2", s.AccessToken)
	refreshes, _, _ := b.stats()
	assert.Equal(t, 1, refreshes)
}

func TestGetSession_RejectedRefreshSignsOut(t *testing.T) {
	c, store, ev := newTestClient(t, &fakeBackend{refreshOK: false})
	expired := session.Session{AccessToken: "old", RefreshToken: "revoked", ExpiresAt: time.Now().Add(-time.Minute)}
	raw, _ := json.Marshal(expired)
	require.NoError(t, store.Set(session.DefaultStorageKey, string(raw)))

	s, err := c.GetSession(context.Background())
	require.NoError(t, err)
	assert.Nil(t, s)
	_, ok, _ := store.Get(session.DefaultStorageKey)
	assert.False(t, ok)
	require.Eventually(t, func() bool { return len(ev.list()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, session.EventSignedOut, ev.list()[0])
}

func TestGetSession_RejectedRefreshKeepsNewerStoredSession(t *testing.T) {
	b := &fakeBackend{refreshOK: false}
	c, store, ev := newTestClient(t, b)
	put := func(s session.Session) {
		raw, _ := json.Marshal(s)
		require.NoError(t, store.Set(session.DefaultStorageKey, string(raw)))
	}
	put(session.Session{AccessToken: "old", RefreshToken: "refresh-old", ExpiresAt: time.Now().Add(-time.Minute)})
	// Another process rotates the token while this refresh is on the wire.
	b.onRefresh = func() {
		put(session.Session{AccessToken: "access-other", RefreshToken: "refresh-other", ExpiresAt: time.Now().Add(time.Hour)})
	}

	s, err := c.GetSession(context.Background())
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, "refresh-other", s.RefreshToken)
	_, ok, _ := store.Get(session.DefaultStorageKey)
	assert.True(t, ok)
	assert.Never(t, func() bool { return len(ev.list()) > 0 }, 50*time.Millisecond, 5*time.Millisecond)
}

func TestGetSession_TransientRefreshFailureKeepsSession(t *testing.T) {
	for _, status := range []int{http.StatusTooManyRequests, http.StatusInternalServerError, http.StatusUnauthorized} {
		t.Run(http.StatusText(status), func(t *testing.T) {
			c, store, ev := newTestClient(t, &fakeBackend{failStatus: status})
			expired := session.Session{AccessToken: "old", RefreshToken: "refresh-old", ExpiresAt: time.Now().Add(-time.Minute)}
			raw, _ := json.Marshal(expired)
			require.NoError(t, store.Set(session.DefaultStorageKey, string(raw)))

			s, err := c.GetSession(context.Background())
			require.Error(t, err)
			assert.Nil(t, s)
			assert.True(t, IsStatus(err, status))
			_, ok, _ := store.Get(session.DefaultStorageKey)
			assert.True(t, ok, "session must survive a transient failure")
			assert.Never(t, func() bool { return len(ev.list()) > 0 }, 50*time.Millisecond, 5*time.Millisecond)
		})
	}
}

func TestRejected(t *testing.T) {
	assert.True(t, rejected(&APIError{Status: http.StatusBadRequest, Code: "invalid_grant"}))
	assert.True(t, rejected(&APIError{Status: http.StatusUnauthorized, Code: "invalid_grant"}))
	assert.False(t, rejected(&APIError{Status: http.StatusBadRequest, Code: "invalid_request"}))
	assert.False(t, rejected(&APIError{Status: http.StatusTooManyRequests, Code: "invalid_grant"}))
	assert.False(t, rejected(&APIError{Status: http.StatusInternalServerError, Code: "server_error"}))
	assert.False(t, rejected(context.DeadlineExceeded))
}

func TestGetSession_UnreadableSlotIsDiscarded(t *testing.T) {
	c, store, _ := newTestClient(t, &fakeBackend{})
	require.NoError(t, store.Set(session.DefaultStorageKey, "{not json"))
	s, err := c.GetSession(context.Background())
	require.NoError(t, err)
	assert.Nil(t, s)
	_, ok, _ := store.Get(session.DefaultStorageKey)
	assert.False(t, ok)
}

func TestSignUp(t *testing.T) {
	t.Run("confirmation required", func(t *testing.T) {
		c, store, _ := newTestClient(t, &fakeBackend{confirm: true})
		resp, err := c.SignUp(context.Background(), "jane@x.com", "Secret123", map[string]string{"name": "Jane Doe"})
		require.NoError(t, err)
		assert.Nil(t, resp.Session)
		assert.Equal(t, "user-1", resp.User.ID)
		_, ok, _ := store.Get(session.DefaultStorageKey)
		assert.False(t, ok)
	})
	t.Run("immediate session", func(t *testing.T) {
		c, store, ev := newTestClient(t, &fakeBackend{})
		resp, err := c.SignUp(context.Background(), "jane@x.com", "Secret123", map[string]string{"name": "Jane Doe"})
		require.NoError(t, err)
		require.NotNil(t, resp.Session)
		_, ok, _ := store.Get(session.DefaultStorageKey)
		assert.True(t, ok)
		require.Eventually(t, func() bool { return len(ev.list()) == 1 }, time.Second, 5*time.Millisecond)
	})
}

func TestSignOut_RemovesSession(t *testing.T) {
	b := &fakeBackend{}
	c, store, ev := newTestClient(t, b)
	_, err := c.SignInWithPassword(context.Background(), "jane@x.com", "Secret123")
	require.NoError(t, err)

	require.NoError(t, c.SignOut(context.Background()))
	_, ok, _ := store.Get(session.DefaultStorageKey)
	assert.False(t, ok)
	_, logouts, _ := b.stats()
	assert.Equal(t, 1, logouts)
	require.Eventually(t, func() bool { return len(ev.list()) == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, []session.AuthEvent{session.EventSignedIn, session.EventSignedOut}, ev.list())
}

func TestResend_ReturnsBackendMessage(t *testing.T) {
	c, _, _ := newTestClient(t, &fakeBackend{})
	err := c.Resend(context.Background(), "jane@x.com")
	assert.EqualError(t, err, "Email rate limit exceeded")
	assert.True(t, IsStatus(err, http.StatusTooManyRequests))
}

func TestGetUser(t *testing.T) {
	c, _, _ := newTestClient(t, &fakeBackend{})
	u, err := c.GetUser(context.Background())
	require.NoError(t, err)
	assert.Nil(t, u)

	_, err = c.SignInWithPassword(context.Background(), "jane@x.com", "Secret123")
	require.NoError(t, err)
	u, err = c.GetUser(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &session.AuthUser{ID: "user-1", Email: "jane@x.com"}, u)
}

func TestProfiles(t *testing.T) {
	b := &fakeBackend{profiles: map[string]session.User{
		"user-1": {ID: "user-1", Email: "jane@x.com", Name: "Jane Doe", Role: session.RoleUser},
	}}
	c, _, _ := newTestClient(t, b)
	p := c.Profiles()

	_, err := p.GetProfileByID(context.Background(), "user-1")
	assert.ErrorIs(t, err, errSignedOut)

	_, err = c.SignInWithPassword(context.Background(), "jane@x.com", "Secret123")
	require.NoError(t, err)

	u, err := p.GetProfileByID(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Equal(t, "Jane Doe", u.Name)

	_, err = p.GetProfileByID(context.Background(), "user-2")
	assert.ErrorIs(t, err, session.ErrProfileNotFound)

	_, err = p.InsertProfile(context.Background(), session.User{ID: "user-1"})
	assert.ErrorIs(t, err, ErrProfileConflict)
}

func TestSignInWithLink(t *testing.T) {
	c, store, _ := newTestClient(t, &fakeBackend{})
	s, err := c.SignInWithLink(context.Background(), "mtaji://callback#access_token=a1&refresh_token=r1&expires_in=600&token_type=bearer")
	require.NoError(t, err)
	assert.Equal(t, "a1", s.AccessToken)
	assert.Equal(t, "user-1", s.User.ID)
	assert.WithinDuration(t, time.Now().Add(10*time.Minute), s.ExpiresAt, time.Minute)
	_, ok, _ := store.Get(session.DefaultStorageKey)
	assert.True(t, ok)

	_, err = c.SignInWithLink(context.Background(), "mtaji://callback")
	assert.Error(t, err)
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Options{Store: storage.NewMemoryBackend().Open()})
	assert.Error(t, err)
	_, err = New(Options{BaseURL: "http://localhost"})
	assert.Error(t, err)
}
