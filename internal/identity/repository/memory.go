package repository

import (
	"context"
	"sync"
	"time"

	"m-taji/platform/internal/identity/domain"
)

// MemoryUserRepository is an in-process UserRepository for tests and the dev server.
type MemoryUserRepository struct {
	mu   sync.Mutex
	byID map[string]*domain.User
}

// NewMemoryUserRepository returns an empty MemoryUserRepository.
func NewMemoryUserRepository() *MemoryUserRepository {
	return &MemoryUserRepository{byID: make(map[string]*domain.User)}
}

func (r *MemoryUserRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return copyUser(r.byID[id]), nil
}

func (r *MemoryUserRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.byID {
		if u.Email == email {
			return copyUser(u), nil
		}
	}
	return nil, nil
}

func (r *MemoryUserRepository) GetByConfirmationToken(ctx context.Context, tokenHash string) (*domain.User, error) {
	if tokenHash == "" {
		return nil, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.byID {
		if u.ConfirmationToken == tokenHash {
			return copyUser(u), nil
		}
	}
	return nil, nil
}

func (r *MemoryUserRepository) Create(ctx context.Context, u *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.byID {
		if existing.Email == u.Email {
			return ErrDuplicateEmail
		}
	}
	r.byID[u.ID] = copyUser(u)
	return nil
}

func (r *MemoryUserRepository) SetConfirmationToken(ctx context.Context, id, tokenHash string, sentAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.byID[id]; ok {
		u.ConfirmationToken = tokenHash
		u.ConfirmationSentAt = &sentAt
		u.UpdatedAt = sentAt
	}
	return nil
}

func (r *MemoryUserRepository) Confirm(ctx context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.byID[id]; ok {
		u.EmailConfirmedAt = &at
		u.ConfirmationToken = ""
		u.UpdatedAt = at
	}
	return nil
}

func copyUser(u *domain.User) *domain.User {
	if u == nil {
		return nil
	}
	c := *u
	return &c
}

// MemorySessionRepository is an in-process SessionRepository for tests and the dev server.
type MemorySessionRepository struct {
	mu sync.Mutex
	m  map[string]*domain.Session
}

// NewMemorySessionRepository returns an empty MemorySessionRepository.
func NewMemorySessionRepository() *MemorySessionRepository {
	return &MemorySessionRepository{m: make(map[string]*domain.Session)}
}

func (r *MemorySessionRepository) GetByID(ctx context.Context, id string) (*domain.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.m[id]
	if !ok {
		return nil, nil
	}
	c := *s
	return &c, nil
}

func (r *MemorySessionRepository) Create(ctx context.Context, s *domain.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := *s
	r.m[s.ID] = &c
	return nil
}

func (r *MemorySessionRepository) Revoke(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.m[id]; ok && s.RevokedAt == nil {
		t := time.Now().UTC()
		s.RevokedAt = &t
	}
	return nil
}

func (r *MemorySessionRepository) RevokeAllByUser(ctx context.Context, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t := time.Now().UTC()
	for _, s := range r.m {
		if s.UserID == userID && s.RevokedAt == nil {
			s.RevokedAt = &t
		}
	}
	return nil
}

func (r *MemorySessionRepository) RotateRefresh(ctx context.Context, sessionID, from, to string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.m[sessionID]
	if !ok || s.RevokedAt != nil || s.RefreshJti != from {
		return false, nil
	}
	s.PreviousRefreshJti = from
	s.RefreshJti = to
	s.RefreshRotatedAt = &at
	return true, nil
}

func (r *MemorySessionRepository) UpdateLastSeen(ctx context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.m[id]; ok {
		s.LastSeenAt = &at
	}
	return nil
}
