package repository

import (
	"context"
	"errors"
	"time"

	"m-taji/platform/internal/identity/domain"
)

// ErrDuplicateEmail is returned by UserRepository.Create when the email is taken.
var ErrDuplicateEmail = errors.New("identity: email already exists")

// UserRepository defines persistence for auth users. Lookups return (nil, nil) for missing rows.
type UserRepository interface {
	GetByID(ctx context.Context, id string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	GetByConfirmationToken(ctx context.Context, tokenHash string) (*domain.User, error)
	Create(ctx context.Context, u *domain.User) error
	SetConfirmationToken(ctx context.Context, id, tokenHash string, sentAt time.Time) error
	Confirm(ctx context.Context, id string, at time.Time) error
}

// SessionRepository defines persistence for auth sessions. GetByID returns (nil, nil) for missing rows.
type SessionRepository interface {
	GetByID(ctx context.Context, id string) (*domain.Session, error)
	Create(ctx context.Context, s *domain.Session) error
	Revoke(ctx context.Context, id string) error
	RevokeAllByUser(ctx context.Context, userID string) error
	// RotateRefresh moves the session from refresh jti from to to, keeping from as the previous
	// jti. It reports false when the session's current jti is no longer from or it is revoked.
	RotateRefresh(ctx context.Context, sessionID, from, to string, at time.Time) (bool, error)
	UpdateLastSeen(ctx context.Context, id string, at time.Time) error
}
