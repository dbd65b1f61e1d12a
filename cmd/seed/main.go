// seed inserts development sample data for local testing.
// Idempotent: skips users whose email already exists and profiles that are already present.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"m-taji/platform/internal/config"
	"m-taji/platform/internal/db"
	identitydomain "m-taji/platform/internal/identity/domain"
	identityrepo "m-taji/platform/internal/identity/repository"
	"m-taji/platform/internal/logger"
	profiledomain "m-taji/platform/internal/profile/domain"
	profilerepo "m-taji/platform/internal/profile/repository"
	"m-taji/platform/internal/security"
)

const devPassword = "password123"

type seedUser struct {
	email string
	name  string
	role  profiledomain.Role
}

var seedUsers = []seedUser{
	{email: "admin@example.com", name: "Dev Admin", role: profiledomain.RoleAdmin},
	{email: "member@example.com", name: "Dev Member", role: profiledomain.RoleUser},
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.New("", "info", os.Stderr).Fatal().Err(err).Msg("config")
	}
	log := logger.Component(logger.New(cfg.Env, cfg.LogLevel, os.Stderr), "seed")
	if cfg.DatabaseURL == "" {
		log.Fatal().Msg("DATABASE_URL is not set; run migrations first (go run ./cmd/migrate)")
	}

	database, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("database")
	}
	defer database.Close()

	users := identityrepo.NewPostgresUserRepository(database)
	profiles := profilerepo.NewPostgresRepository(database)
	hasher := security.NewHasher(cfg.BcryptCost)
	ctx := context.Background()

	for _, su := range seedUsers {
		if err := seed(ctx, users, profiles, hasher, su, log); err != nil {
			log.Fatal().Err(err).Str("email", su.email).Msg("seed")
		}
	}

	log.Info().Msg("seed completed")
	for _, su := range seedUsers {
		fmt.Printf("%s login: %s / %s\n", su.role, su.email, devPassword)
	}
}

func seed(ctx context.Context, users *identityrepo.PostgresUserRepository, profiles *profilerepo.PostgresRepository, hasher *security.Hasher, su seedUser, log zerolog.Logger) error {
	u, err := users.GetByEmail(ctx, su.email)
	if err != nil {
		return err
	}
	if u == nil {
		hash, err := hasher.Hash([]byte(devPassword))
		if err != nil {
			return err
		}
		now := time.Now().UTC()
		u = &identitydomain.User{
			ID:               uuid.NewString(),
			Email:            su.email,
			PasswordHash:     hash,
			Name:             su.name,
			EmailConfirmedAt: &now,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		if err := users.Create(ctx, u); err != nil {
			return err
		}
		log.Info().Str("email", su.email).Msg("user created")
	}

	now := time.Now().UTC()
	err = profiles.Insert(ctx, &profiledomain.Profile{
		ID:        u.ID,
		Email:     u.Email,
		Name:      su.name,
		Role:      su.role,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if errors.Is(err, profilerepo.ErrConflict) {
		return nil
	}
	return err
}
