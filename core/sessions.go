package core

import (
	"context"
	"errors"
	"time"
)

const keySession = "profilekit:session:"

type sessionData struct {
	UserID    string    `json:"user_id"`
	Method    string    `json:"method"`
	CreatedAt time.Time `json:"created_at"`
}

// Login is the result of a successful sign-in: a server-side session plus an
// access token bound to it.
type Login struct {
	UserID      string
	SessionID   string
	AccessToken string
	ExpiresAt   time.Time
	Created     bool
}

// StartSession creates a session for userID and issues an access token bound to it.
// method is recorded for the auth event log ("password", "register", "oidc:google").
func (s *Service) StartSession(ctx context.Context, userID, method string) (*Login, error) {
	sid := randB64(32)
	data := sessionData{UserID: userID, Method: method, CreatedAt: time.Now().UTC()}
	if err := ephemPut(ctx, s, keySession+sid, data, s.opts.SessionDuration); err != nil {
		return nil, err
	}
	tok, exp, err := s.IssueAccessToken(ctx, userID, sid)
	if err != nil {
		_ = s.ephemDel(ctx, keySession+sid)
		return nil, err
	}
	if store, err := s.store(); err == nil {
		if err := store.SetLastLogin(ctx, userID, time.Now()); err != nil {
			s.log.WithError(err).WithField("user_id", userID).Warn("set_last_login_failed")
		}
	}
	s.metrics.observeLogin(method, "ok")
	s.logEvent(ctx, AuthEvent{Type: EventSessionCreated, UserID: userID, SessionID: sid, Method: method})
	return &Login{UserID: userID, SessionID: sid, AccessToken: tok, ExpiresAt: exp}, nil
}

// SessionUser returns the user owning sid, or ErrSessionNotFound.
func (s *Service) SessionUser(ctx context.Context, sid string) (string, error) {
	if sid == "" {
		return "", ErrSessionNotFound
	}
	data, ok, err := ephemLoad[sessionData](ctx, s, keySession+sid)
	if err != nil {
		return "", err
	}
	if !ok || data.UserID == "" {
		return "", ErrSessionNotFound
	}
	return data.UserID, nil
}

// RevokeSession deletes sid. Revoking a missing session is not an error.
func (s *Service) RevokeSession(ctx context.Context, userID, sid string) error {
	owner, err := s.SessionUser(ctx, sid)
	if errors.Is(err, ErrSessionNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if owner != userID {
		return ErrSessionNotFound
	}
	if err := s.ephemDel(ctx, keySession+sid); err != nil {
		return err
	}
	s.logEvent(ctx, AuthEvent{Type: EventSessionRevoked, UserID: userID, SessionID: sid, Reason: "logout"})
	return nil
}
