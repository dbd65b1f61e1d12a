package repository

import (
	"context"
	"errors"

	"m-taji/platform/internal/profile/domain"
)

// ErrConflict is returned by Insert when a profile with the same id exists.
var ErrConflict = errors.New("profile: already exists")

// Repository defines persistence for profiles.
type Repository interface {
	// GetByID returns (nil, nil) when no profile exists for id.
	GetByID(ctx context.Context, id string) (*domain.Profile, error)
	Insert(ctx context.Context, p *domain.Profile) error
}
