package core

import "errors"

var (
	// ErrSignupClosed is returned when a social login would create a new account
	// but the caller declared a login intent.
	ErrSignupClosed       = errors.New("profilekit: account not found and signup closed for this flow")
	ErrInvalidCredentials = errors.New("profilekit: invalid credentials")
	ErrUserNotFound       = errors.New("profilekit: user not found")
	ErrUserInactive       = errors.New("profilekit: user inactive")
	ErrUsernameTaken      = errors.New("profilekit: username taken")
	ErrEmailTaken         = errors.New("profilekit: email taken")
	ErrProviderLinked     = errors.New("profilekit: provider identity linked to another user")
	ErrSessionNotFound    = errors.New("profilekit: session not found")
	ErrBiographyTooLong   = errors.New("profilekit: biography too long")
	ErrStoreUnavailable   = errors.New("profilekit: account store not configured")
)
