package core

import (
	"context"
	"errors"
	"strings"

	"github.com/open-rails/profilekit/password"
)

// Registration is a local sign-up request.
type Registration struct {
	Username  string
	Email     string
	Password  string
	Biography string
}

// Register creates a local account with a bcrypt password credential.
func (s *Service) Register(ctx context.Context, reg Registration) (*User, error) {
	store, err := s.store()
	if err != nil {
		return nil, err
	}
	if utf8Len(reg.Biography) > MaxBiographyLength {
		return nil, ErrBiographyTooLong
	}
	hash, algo, err := password.Hash(reg.Password)
	if err != nil {
		return nil, err
	}
	nu := NewUser{
		Email:        normalizeEmail(reg.Email),
		Username:     strings.TrimSpace(reg.Username),
		PasswordHash: hash,
		PasswordAlgo: algo,
	}
	if bio := strings.TrimSpace(reg.Biography); bio != "" {
		nu.Biography = &bio
	}
	u, err := store.CreateUser(ctx, nu)
	if err != nil {
		return nil, err
	}
	s.logEvent(ctx, AuthEvent{Type: EventUserRegistered, UserID: u.ID, Method: "password"})
	return u, nil
}

// PasswordLogin verifies identifier (email or username) and password.
// Unknown users, missing credentials and wrong passwords all return ErrInvalidCredentials.
func (s *Service) PasswordLogin(ctx context.Context, identifier, pass string) (*User, error) {
	store, err := s.store()
	if err != nil {
		return nil, err
	}
	identifier = strings.TrimSpace(identifier)
	var u *User
	if strings.Contains(identifier, "@") {
		u, err = store.UserByEmail(ctx, normalizeEmail(identifier))
	} else {
		u, err = store.UserByUsername(ctx, identifier)
	}
	if err != nil {
		return nil, s.loginFailed(ctx, "", err)
	}
	if !u.IsActive {
		return nil, s.loginFailed(ctx, u.ID, ErrUserInactive)
	}
	hash, algo, err := store.PasswordHash(ctx, u.ID)
	if err != nil {
		return nil, s.loginFailed(ctx, u.ID, err)
	}
	if algo != password.AlgoBcrypt && algo != "" {
		return nil, s.loginFailed(ctx, u.ID, ErrInvalidCredentials)
	}
	if !password.Verify(hash, pass) {
		return nil, s.loginFailed(ctx, u.ID, ErrInvalidCredentials)
	}
	return u, nil
}

func (s *Service) loginFailed(ctx context.Context, userID string, cause error) error {
	s.metrics.observeLogin("password", "failed")
	s.logEvent(ctx, AuthEvent{Type: EventLoginFailed, UserID: userID, Method: "password", Reason: cause.Error()})
	if errors.Is(cause, ErrUserNotFound) || errors.Is(cause, ErrInvalidCredentials) {
		return ErrInvalidCredentials
	}
	if errors.Is(cause, ErrUserInactive) {
		return ErrUserInactive
	}
	return cause
}
