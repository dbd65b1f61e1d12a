package domain

import (
	"errors"
	"time"
)

// Role is the application role stored on a profile.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleUser
}

// Profile is the application-level user record keyed by the auth user id.
type Profile struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Validate checks the fields required to store a profile.
func (p *Profile) Validate() error {
	if p.ID == "" {
		return errors.New("profile id is required")
	}
	if p.Email == "" {
		return errors.New("profile email is required")
	}
	if !p.Role.Valid() {
		return errors.New("profile role must be admin or user")
	}
	return nil
}
