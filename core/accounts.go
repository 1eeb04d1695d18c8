package core

import (
	"context"
	"strings"
	"time"
)

// User is a local account.
type User struct {
	ID            string
	Email         *string // nil when the provider did not share one
	Username      string
	EmailVerified bool
	IsActive      bool
	Biography     *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	LastLogin     *time.Time
}

// NewUser describes an account to create. PasswordHash is optional; social
// sign-ups have none.
type NewUser struct {
	Email         string
	Username      string
	EmailVerified bool
	Biography     *string
	PasswordHash  string
	PasswordAlgo  string
}

// ProviderLink binds an external identity (issuer, subject) to a local user.
type ProviderLink struct {
	UserID    string
	Issuer    string
	Provider  string
	Subject   string
	Email     *string
	CreatedAt time.Time
}

// AccountStore is the persistence surface for users, credentials and provider links.
//
// Lookups return an error wrapping ErrUserNotFound when nothing matches.
// CreateUser returns ErrUsernameTaken or ErrEmailTaken on unique violations.
type AccountStore interface {
	UserByID(ctx context.Context, id string) (*User, error)
	UserByEmail(ctx context.Context, email string) (*User, error)
	UserByUsername(ctx context.Context, username string) (*User, error)
	CreateUser(ctx context.Context, nu NewUser) (*User, error)
	SetEmailVerified(ctx context.Context, id string, v bool) error
	SetLastLogin(ctx context.Context, id string, t time.Time) error
	UpdateBiography(ctx context.Context, id string, bio *string) error

	PasswordHash(ctx context.Context, userID string) (hash, algo string, err error)
	UpsertPasswordHash(ctx context.Context, userID, hash, algo string) error

	ProviderLink(ctx context.Context, issuer, subject string) (userID string, err error)
	LinkProvider(ctx context.Context, link ProviderLink) error
	ListProviderLinks(ctx context.Context, userID string) ([]ProviderLink, error)

	ListRoleSlugs(ctx context.Context, userID string) ([]string, error)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NormalizeEmail lowercases and trims an email for storage and lookup.
func NormalizeEmail(email string) string { return normalizeEmail(email) }
