package core

import (
	"context"
	"fmt"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
)

// AccessClaims is the body of an access token.
type AccessClaims struct {
	jwt.RegisteredClaims
	SessionID string   `json:"sid"`
	Username  string   `json:"username,omitempty"`
	Email     string   `json:"email,omitempty"`
	Roles     []string `json:"roles,omitempty"`
}

// IssueAccessToken signs an HS256 access token for userID bound to session sid.
// Username, email and roles are snapshots taken at issue time.
func (s *Service) IssueAccessToken(ctx context.Context, userID, sid string) (string, time.Time, error) {
	now := time.Now()
	exp := now.Add(s.opts.AccessTokenDuration)
	claims := AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.opts.Issuer,
			Subject:   userID,
			Audience:  jwt.ClaimStrings{s.opts.Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		SessionID: sid,
	}
	if store, err := s.store(); err == nil {
		if u, err := store.UserByID(ctx, userID); err == nil {
			claims.Username = u.Username
			if u.Email != nil {
				claims.Email = *u.Email
			}
		}
		if roles, err := store.ListRoleSlugs(ctx, userID); err == nil {
			claims.Roles = roles
		}
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.signingKey)
	if err != nil {
		return "", time.Time{}, err
	}
	return tok, exp, nil
}

// Keyfunc returns the verification key for HS256 tokens issued by this service.
func (s *Service) Keyfunc() func(token *jwt.Token) (any, error) {
	return func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.signingKey, nil
	}
}

// ParseAccessToken verifies signature, issuer, audience and expiry.
func (s *Service) ParseAccessToken(raw string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	tok, err := jwt.ParseWithClaims(raw, claims, s.Keyfunc(),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.opts.Issuer),
		jwt.WithAudience(s.opts.Audience),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(time.Second),
	)
	if err != nil {
		return nil, err
	}
	if !tok.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return claims, nil
}
