package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"m-taji/platform/internal/identity/domain"
)

const uniqueViolation = "23505"

const userColumns = `id, email, password_hash, name, email_confirmed_at, confirmation_token, confirmation_sent_at, created_at, updated_at`

// PostgresUserRepository stores auth users in the auth_users table.
type PostgresUserRepository struct {
	db *sql.DB
}

// NewPostgresUserRepository returns a user repository that uses the given db for persistence.
func NewPostgresUserRepository(db *sql.DB) *PostgresUserRepository {
	return &PostgresUserRepository{db: db}
}

// GetByID returns the user for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresUserRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM auth_users WHERE id = $1`, id)
}

// GetByEmail returns the user for email, or nil if not found.
func (r *PostgresUserRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM auth_users WHERE email = $1`, email)
}

// GetByConfirmationToken returns the user holding the outstanding confirmation token hash, or nil.
func (r *PostgresUserRepository) GetByConfirmationToken(ctx context.Context, tokenHash string) (*domain.User, error) {
	if tokenHash == "" {
		return nil, nil
	}
	return r.getOne(ctx, `SELECT `+userColumns+` FROM auth_users WHERE confirmation_token = $1`, tokenHash)
}

func (r *PostgresUserRepository) getOne(ctx context.Context, query string, arg any) (*domain.User, error) {
	var (
		u           domain.User
		confirmedAt sql.NullTime
		token       sql.NullString
		sentAt      sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, query, arg).Scan(
		&u.ID, &u.Email, &u.PasswordHash, &u.Name, &confirmedAt, &token, &sentAt, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	u.EmailConfirmedAt = nullTimeToPtr(confirmedAt)
	u.ConfirmationToken = token.String
	u.ConfirmationSentAt = nullTimeToPtr(sentAt)
	return &u, nil
}

// Create persists the user. It returns ErrDuplicateEmail when the email is taken.
func (r *PostgresUserRepository) Create(ctx context.Context, u *domain.User) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO auth_users (`+userColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		u.ID, u.Email, u.PasswordHash, u.Name,
		timeToNullTime(u.EmailConfirmedAt),
		sql.NullString{String: u.ConfirmationToken, Valid: u.ConfirmationToken != ""},
		timeToNullTime(u.ConfirmationSentAt),
		u.CreatedAt, u.UpdatedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return ErrDuplicateEmail
	}
	return err
}

// SetConfirmationToken replaces the outstanding confirmation token hash and records when it was sent.
func (r *PostgresUserRepository) SetConfirmationToken(ctx context.Context, id, tokenHash string, sentAt time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE auth_users SET confirmation_token = $2, confirmation_sent_at = $3, updated_at = $3 WHERE id = $1`,
		id, sql.NullString{String: tokenHash, Valid: tokenHash != ""}, sentAt)
	return err
}

// Confirm marks the email confirmed and clears the confirmation token.
func (r *PostgresUserRepository) Confirm(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE auth_users SET email_confirmed_at = $2, confirmation_token = NULL, updated_at = $2 WHERE id = $1`,
		id, at)
	return err
}

// PostgresSessionRepository stores auth sessions in the auth_sessions table.
type PostgresSessionRepository struct {
	db *sql.DB
}

// NewPostgresSessionRepository returns a session repository that uses the given db for persistence.
func NewPostgresSessionRepository(db *sql.DB) *PostgresSessionRepository {
	return &PostgresSessionRepository{db: db}
}

// GetByID returns the session for id, or nil if not found.
func (r *PostgresSessionRepository) GetByID(ctx context.Context, id string) (*domain.Session, error) {
	var (
		s          domain.Session
		revokedAt  sql.NullTime
		lastSeenAt sql.NullTime
		rotatedAt  sql.NullTime
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT id, user_id, expires_at, revoked_at, last_seen_at, refresh_jti, previous_refresh_jti, refresh_rotated_at, created_at
		 FROM auth_sessions WHERE id = $1`, id,
	).Scan(&s.ID, &s.UserID, &s.ExpiresAt, &revokedAt, &lastSeenAt, &s.RefreshJti, &s.PreviousRefreshJti, &rotatedAt, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	s.RevokedAt = nullTimeToPtr(revokedAt)
	s.LastSeenAt = nullTimeToPtr(lastSeenAt)
	s.RefreshRotatedAt = nullTimeToPtr(rotatedAt)
	return &s, nil
}

// Create persists the session. The session must have ID set.
func (r *PostgresSessionRepository) Create(ctx context.Context, s *domain.Session) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO auth_sessions (id, user_id, expires_at, revoked_at, last_seen_at, refresh_jti, previous_refresh_jti, refresh_rotated_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		s.ID, s.UserID, s.ExpiresAt,
		timeToNullTime(s.RevokedAt), timeToNullTime(s.LastSeenAt),
		s.RefreshJti, s.PreviousRefreshJti, timeToNullTime(s.RefreshRotatedAt),
		s.CreatedAt,
	)
	return err
}

// Revoke marks the session revoked. Already revoked sessions keep their original timestamp.
func (r *PostgresSessionRepository) Revoke(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE auth_sessions SET revoked_at = $2 WHERE id = $1 AND revoked_at IS NULL`, id, time.Now().UTC())
	return err
}

// RevokeAllByUser revokes every live session of the user.
func (r *PostgresSessionRepository) RevokeAllByUser(ctx context.Context, userID string) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE auth_sessions SET revoked_at = $2 WHERE user_id = $1 AND revoked_at IS NULL`, userID, time.Now().UTC())
	return err
}

// RotateRefresh swaps the refresh jti only while it still equals from, so two concurrent
// refreshes of one token cannot both rotate.
func (r *PostgresSessionRepository) RotateRefresh(ctx context.Context, sessionID, from, to string, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE auth_sessions
		 SET previous_refresh_jti = refresh_jti, refresh_jti = $3, refresh_rotated_at = $4
		 WHERE id = $1 AND refresh_jti = $2 AND revoked_at IS NULL`,
		sessionID, from, to, at)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// UpdateLastSeen sets the session's last-seen timestamp.
func (r *PostgresSessionRepository) UpdateLastSeen(ctx context.Context, id string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `UPDATE auth_sessions SET last_seen_at = $2 WHERE id = $1`, id, at)
	return err
}

func timeToNullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullTimeToPtr(n sql.NullTime) *time.Time {
	if !n.Valid {
		return nil
	}
	return &n.Time
}
