package authhttp

import (
	"context"
	"errors"
	"slices"
	"strings"

	"github.com/open-rails/profilekit/roles"
)

var errUnauthenticated = errors.New("unauthenticated")

// Claims describes the caller once Required or Optional has authenticated the request.
type Claims struct {
	UserID    string
	Email     string
	Username  string
	SessionID string
	Roles     []string
}

// HasRole reports whether the caller holds role (case-insensitive).
func (c Claims) HasRole(role string) bool {
	return slices.ContainsFunc(c.Roles, func(r string) bool { return strings.EqualFold(r, role) })
}

func (c Claims) IsAdmin() bool { return c.HasRole(roles.Admin) }

type claimsCtxKey struct{}

func setClaims(ctx context.Context, cl Claims) context.Context {
	return context.WithValue(ctx, claimsCtxKey{}, cl)
}

// ClaimsFromContext returns the claims attached by the auth middleware.
func ClaimsFromContext(ctx context.Context) (Claims, bool) {
	cl, ok := ctx.Value(claimsCtxKey{}).(Claims)
	return cl, ok
}

func getClaims(ctx context.Context) (Claims, error) {
	cl, ok := ClaimsFromContext(ctx)
	if !ok || cl.UserID == "" {
		return Claims{}, errUnauthenticated
	}
	return cl, nil
}
