package repository

import (
	"context"
	"database/sql"
	"errors"

	"m-taji/platform/internal/profile/domain"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a profile repository that uses the given db for persistence.
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// GetByID returns the profile for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.Profile, error) {
	var p domain.Profile
	err := r.db.QueryRowContext(ctx,
		`SELECT id, email, name, role, created_at, updated_at FROM profiles WHERE id = $1`, id,
	).Scan(&p.ID, &p.Email, &p.Name, &p.Role, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

// Insert stores the profile if no row exists for its id; otherwise it returns ErrConflict.
func (r *PostgresRepository) Insert(ctx context.Context, p *domain.Profile) error {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO profiles (id, email, name, role, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (id) DO NOTHING`,
		p.ID, p.Email, p.Name, string(p.Role), p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrConflict
	}
	return nil
}
