package repository

import (
	"context"
	"sync"

	"m-taji/platform/internal/profile/domain"
)

// MemoryRepository is an in-process Repository.
type MemoryRepository struct {
	mu sync.Mutex
	m  map[string]domain.Profile
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{m: make(map[string]domain.Profile)}
}

func (r *MemoryRepository) GetByID(ctx context.Context, id string) (*domain.Profile, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.m[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (r *MemoryRepository) Insert(ctx context.Context, p *domain.Profile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.m[p.ID]; ok {
		return ErrConflict
	}
	r.m[p.ID] = *p
	return nil
}
