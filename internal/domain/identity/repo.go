package identity

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrUserNotFound = errors.New("User not found")
	ErrEmailTaken   = errors.New("Email already registered")
	ErrSSOIDTaken   = errors.New("NHS SSO identity already linked")
)

// UserRepository persists users. Lookups return ErrUserNotFound when no row
// matches.
type UserRepository interface {
	Create(ctx context.Context, u *User) error
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	GetByNHSSSOID(ctx context.Context, nhsSSOID string) (*User, error)
	UpdateProfile(ctx context.Context, u *User) error
	UpdatePasswordHash(ctx context.Context, id uuid.UUID, hash string) error
	SetLastLogin(ctx context.Context, id uuid.UUID, at time.Time) error
}
