package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"m-taji/platform/internal/identity/domain"
)

func TestMemorySessionRepository_RotateRefresh(t *testing.T) {
	ctx := context.Background()
	r := NewMemorySessionRepository()
	now := time.Now().UTC()
	require.NoError(t, r.Create(ctx, &domain.Session{ID: "s1", UserID: "u1", ExpiresAt: now.Add(time.Hour), RefreshJti: "j1", CreatedAt: now}))

	ok, err := r.RotateRefresh(ctx, "s1", "j1", "j2", now)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = r.RotateRefresh(ctx, "s1", "j1", "j3", now)
	require.NoError(t, err)
	assert.False(t, ok, "a second rotation from the same jti loses")

	s, err := r.GetByID(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "j2", s.RefreshJti)
	assert.Equal(t, "j1", s.PreviousRefreshJti)
	require.NotNil(t, s.RefreshRotatedAt)
	assert.Equal(t, now, *s.RefreshRotatedAt)

	require.NoError(t, r.Revoke(ctx, "s1"))
	ok, err = r.RotateRefresh(ctx, "s1", "j2", "j4", now)
	require.NoError(t, err)
	assert.False(t, ok, "revoked sessions do not rotate")

	ok, err = r.RotateRefresh(ctx, "missing", "j1", "j2", now)
	require.NoError(t, err)
	assert.False(t, ok)
}
