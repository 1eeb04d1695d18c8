package core

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strings"
)

const maxUsernameLen = 30

// deriveUsername makes a safe username from an email local part, a display name or a
// provider handle: lowercase [a-z0-9_], starting with a letter, at most 30 chars.
func deriveUsername(raw string) string {
	base := raw
	if i := strings.Index(raw, "@"); i > 0 {
		base = raw[:i]
	}
	base = strings.ToLower(base)
	clean := make([]rune, 0, len(base))
	for _, r := range base {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_':
			clean = append(clean, r)
		case r == ' ' || r == '.' || r == '-':
			clean = append(clean, '_')
		}
	}
	if len(clean) == 0 {
		return ""
	}
	if clean[0] < 'a' || clean[0] > 'z' {
		clean = append([]rune{'u'}, clean...)
	}
	if len(clean) > maxUsernameLen {
		clean = clean[:maxUsernameLen]
	}
	return string(clean)
}

// DeriveUsernameForOAuth picks a free username for a new social account, preferring the
// provider handle, then the email local part, then the display name.
func (s *Service) DeriveUsernameForOAuth(ctx context.Context, provider, preferred, email, displayName string) (string, error) {
	base := ""
	for _, cand := range []string{preferred, email, displayName} {
		if u := deriveUsername(cand); len(u) >= 3 {
			base = u
			break
		}
	}
	if base == "" {
		base = deriveUsername(provider + "_user")
	}
	store, err := s.store()
	if err != nil {
		return "", err
	}
	cand := base
	for i := 0; i < 8; i++ {
		_, err := store.UserByUsername(ctx, cand)
		if errors.Is(err, ErrUserNotFound) {
			return cand, nil
		}
		if err != nil {
			return "", err
		}
		suffix := fmt.Sprintf("%04d", rand.IntN(10000))
		trimmed := base
		if len(trimmed)+len(suffix) > maxUsernameLen {
			trimmed = trimmed[:maxUsernameLen-len(suffix)]
		}
		cand = trimmed + suffix
	}
	return "", fmt.Errorf("%w: no free username derived from %q", ErrUsernameTaken, base)
}
