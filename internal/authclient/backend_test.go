package authclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	identityhandler "m-taji/platform/internal/identity/handler"
	"m-taji/platform/internal/identity/repository"
	"m-taji/platform/internal/identity/service"
	"m-taji/platform/internal/mailer"
	"m-taji/platform/internal/security"
	"m-taji/platform/internal/server/middleware"
	"m-taji/platform/internal/session"
	"m-taji/platform/internal/storage"
)

// newAuthServer runs the real auth handlers over in-memory repositories, delaying every
// request by latency so concurrent refreshes overlap on the wire.
func newAuthServer(t *testing.T, latency time.Duration, requireConfirmation bool) (*httptest.Server, *service.AuthService, *mailer.Outbox) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	tokens, err := security.NewTestTokenProvider()
	require.NoError(t, err)
	outbox := mailer.NewOutbox()
	svc := service.NewAuthService(
		repository.NewMemoryUserRepository(),
		repository.NewMemorySessionRepository(),
		security.NewHasher(bcrypt.MinCost), tokens,
		outbox, nil, nil,
		service.Config{RequireEmailConfirmation: requireConfirmation, SiteURL: "http://api.test"},
		zerolog.Nop(),
	)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		time.Sleep(latency)
		c.Next()
	})
	identityhandler.NewAuthHandler(svc, zerolog.Nop()).RegisterRoutes(r, middleware.RequireAuth(svc))
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, svc, outbox
}

func TestGetSession_TwoProcessesRefreshSameSession(t *testing.T) {
	srv, svc, _ := newAuthServer(t, 50*time.Millisecond, false)
	ctx := context.Background()
	backend := storage.NewMemoryBackend()

	clients := make([]*Client, 2)
	evs := make([]*events, 2)
	for i := range clients {
		c, err := New(Options{BaseURL: srv.URL, Store: backend.Open(), Logger: zerolog.Nop()})
		require.NoError(t, err)
		t.Cleanup(c.Close)
		evs[i] = &events{}
		c.OnAuthStateChange(evs[i].add)
		clients[i] = c
	}

	_, err := clients[0].SignUp(ctx, "jane@x.com", "Secret123", map[string]string{"name": "Jane"})
	require.NoError(t, err)

	// Age the shared session so both processes decide to refresh it.
	store := backend.Open()
	raw, ok, err := store.Get(session.DefaultStorageKey)
	require.NoError(t, err)
	require.True(t, ok)
	var s session.Session
	require.NoError(t, json.Unmarshal([]byte(raw), &s))
	s.ExpiresAt = time.Now().Add(-time.Minute)
	b, err := json.Marshal(s)
	require.NoError(t, err)
	require.NoError(t, store.Set(session.DefaultStorageKey, string(b)))

	results := make([]*session.Session, 2)
	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i, c := range clients {
		wg.Add(1)
		go func(i int, c *Client) {
			defer wg.Done()
			results[i], errs[i] = c.GetSession(ctx)
		}(i, c)
	}
	wg.Wait()

	for i := range clients {
		require.NoError(t, errs[i])
		require.NotNil(t, results[i], "client %d was signed out", i)
		_, err := svc.Authenticate(ctx, results[i].AccessToken)
		assert.NoError(t, err, "client %d holds a revoked session", i)
		assert.NotContains(t, evs[i].list(), session.EventSignedOut)
	}
	_, ok, err = store.Get(session.DefaultStorageKey)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestSignInWithLink_ConfirmationRedirect(t *testing.T) {
	srv, _, outbox := newAuthServer(t, 0, true)
	ctx := context.Background()
	store := storage.NewMemoryBackend().Open()
	c, err := New(Options{BaseURL: srv.URL, Store: store, Logger: zerolog.Nop()})
	require.NoError(t, err)
	t.Cleanup(c.Close)

	resp, err := c.SignUp(ctx, "jane@x.com", "Secret123", map[string]string{"name": "Jane"})
	require.NoError(t, err)
	assert.Nil(t, resp.Session)

	conf, ok := outbox.Last("jane@x.com")
	require.True(t, ok)
	link, err := url.Parse(conf.Link)
	require.NoError(t, err)
	q := url.Values{"token": {link.Query().Get("token")}, "redirect_to": {"mtaji://callback"}}

	noFollow := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }}
	res, err := noFollow.Get(srv.URL + "/auth/v1/verify?" + q.Encode())
	require.NoError(t, err)
	res.Body.Close()
	require.Equal(t, http.StatusSeeOther, res.StatusCode)

	s, err := c.SignInWithLink(ctx, res.Header.Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "jane@x.com", s.User.Email)
	got, err := c.GetSession(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, s.AccessToken, got.AccessToken)
}
