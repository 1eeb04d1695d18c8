package core

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"
)

// MaxBiographyLength is the biography limit in characters.
const MaxBiographyLength = 500

// Profile is the self-service view of an account.
type Profile struct {
	ID            string    `json:"id"`
	Username      string    `json:"username"`
	Email         *string   `json:"email"`
	EmailVerified bool      `json:"email_verified"`
	Biography     string    `json:"biography"`
	CreatedAt     time.Time `json:"created_at"`
	Roles         []string  `json:"roles"`
	Providers     []string  `json:"providers"`
}

// Profile loads the profile of userID. An account without a stored biography
// reads as an empty one.
func (s *Service) Profile(ctx context.Context, userID string) (*Profile, error) {
	store, err := s.store()
	if err != nil {
		return nil, err
	}
	u, err := store.UserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	p := &Profile{
		ID:            u.ID,
		Username:      u.Username,
		Email:         u.Email,
		EmailVerified: u.EmailVerified,
		CreatedAt:     u.CreatedAt,
		Roles:         []string{},
		Providers:     []string{},
	}
	if u.Biography != nil {
		p.Biography = *u.Biography
	}
	if roles, err := store.ListRoleSlugs(ctx, userID); err == nil && roles != nil {
		p.Roles = roles
	}
	if links, err := store.ListProviderLinks(ctx, userID); err == nil {
		for _, l := range links {
			p.Providers = append(p.Providers, l.Provider)
		}
	}
	return p, nil
}

// UpdateBiography stores bio (trimmed); an empty bio clears it.
func (s *Service) UpdateBiography(ctx context.Context, userID, bio string) error {
	store, err := s.store()
	if err != nil {
		return err
	}
	bio = strings.TrimSpace(bio)
	if utf8Len(bio) > MaxBiographyLength {
		return ErrBiographyTooLong
	}
	var v *string
	if bio != "" {
		v = &bio
	}
	return store.UpdateBiography(ctx, userID, v)
}

func utf8Len(s string) int { return utf8.RuneCountInString(s) }

// Roles returns the role slugs granted to userID.
func (s *Service) Roles(ctx context.Context, userID string) ([]string, error) {
	store, err := s.store()
	if err != nil {
		return nil, err
	}
	return store.ListRoleSlugs(ctx, userID)
}
