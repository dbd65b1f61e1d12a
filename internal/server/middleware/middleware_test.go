package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"m-taji/platform/internal/identity/service"
	"m-taji/platform/internal/platform/reqctx"
)

type fakeAuth struct {
	token string
}

func (f fakeAuth) Authenticate(_ context.Context, token string) (*service.Principal, error) {
	if token != f.token {
		return nil, errors.New("invalid")
	}
	return &service.Principal{UserID: "user-1", SessionID: "sess-1", Email: "a@example.com"}, nil
}

type event struct {
	userID, action, resource, metadata string
}

type recordingAudit struct {
	mu     sync.Mutex
	events []event
}

func (r *recordingAudit) LogEvent(_ context.Context, userID, action, resource, metadata string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event{userID, action, resource, metadata})
}

func init() { gin.SetMode(gin.TestMode) }

func TestExtractBearer(t *testing.T) {
	assert.Equal(t, "abc", ExtractBearer("Bearer abc"))
	assert.Equal(t, "abc", ExtractBearer("  bearer   abc "))
	assert.Equal(t, "", ExtractBearer("Basic abc"))
	assert.Equal(t, "", ExtractBearer("Bearer"))
	assert.Equal(t, "", ExtractBearer(""))
}

func TestRequireAuth(t *testing.T) {
	r := gin.New()
	r.GET("/me", RequireAuth(fakeAuth{token: "good"}), func(c *gin.Context) {
		uid, _ := reqctx.UserID(c.Request.Context())
		sid, _ := reqctx.SessionID(c.Request.Context())
		c.JSON(http.StatusOK, gin.H{"user_id": uid, "session_id": sid})
	})

	testCases := []struct {
		name   string
		header string
		want   int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic good", http.StatusUnauthorized},
		{"invalid token", "Bearer bad", http.StatusUnauthorized},
		{"valid token", "Bearer good", http.StatusOK},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tc.want, w.Code)
			if tc.want == http.StatusOK {
				assert.JSONEq(t, `{"user_id":"user-1","session_id":"sess-1"}`, w.Body.String())
			}
		})
	}
}

func TestClientIP(t *testing.T) {
	r := gin.New()
	r.Use(ClientIP())
	var got string
	r.GET("/", func(c *gin.Context) { got = reqctx.ClientIP(c.Request.Context()) })

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "203.0.113.7:5555"
	r.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, "203.0.113.7", got)
}

func TestAudit(t *testing.T) {
	rec := &recordingAudit{}
	r := gin.New()
	r.Use(Audit(rec, "/auth/v1"))
	protected := RequireAuth(fakeAuth{token: "good"})
	r.GET("/rest/v1/profiles/:id", protected, func(c *gin.Context) { c.Status(http.StatusNotFound) })
	r.POST("/auth/v1/logout", protected, func(c *gin.Context) { c.Status(http.StatusNoContent) })
	r.GET("/public", func(c *gin.Context) { c.Status(http.StatusOK) })

	do := func(method, path string) {
		req := httptest.NewRequest(method, path, nil)
		req.Header.Set("Authorization", "Bearer good")
		r.ServeHTTP(httptest.NewRecorder(), req)
	}
	do(http.MethodGet, "/rest/v1/profiles/abc")
	do(http.MethodPost, "/auth/v1/logout")
	do(http.MethodGet, "/public")

	require.Len(t, rec.events, 1)
	assert.Equal(t, event{"user-1", "get", "profile", `{"status":404}`}, rec.events[0])
}

func TestLogger_DoesNotAlterResponse(t *testing.T) {
	r := gin.New()
	r.Use(Logger(zerolog.Nop(), "/health"))
	r.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/boom", func(c *gin.Context) { c.Status(http.StatusInternalServerError) })

	for path, want := range map[string]int{"/health": http.StatusOK, "/boom": http.StatusInternalServerError} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, want, w.Code)
	}
}
