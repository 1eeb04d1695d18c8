package core

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
)

// OIDCIdentity is what a provider asserted about the user at callback time.
type OIDCIdentity struct {
	Provider          string
	Issuer            string
	Subject           string
	Email             *string
	EmailVerified     *bool
	Name              *string
	PreferredUsername *string
}

// OIDCResolution describes how a callback mapped to a local account.
type OIDCResolution struct {
	UserID   string
	Created  bool
	Linked   bool // identity was newly linked to an existing account
	Decision SignupDecision
}

// ResolveOIDCUser maps an external identity to a local account.
//
// Resolution order: an explicit link flow (linkUserID), an existing provider link
// by (issuer, subject), then a verified email matching a local user. Any of these
// means the identity belongs to an existing account and the signup gate is not
// consulted. Otherwise DecideSignup decides; SignupDeny returns ErrSignupClosed and
// nothing is written.
func (s *Service) ResolveOIDCUser(ctx context.Context, id OIDCIdentity, intent AuthIntent, linkUserID string) (OIDCResolution, error) {
	store, err := s.store()
	if err != nil {
		return OIDCResolution{}, err
	}
	if strings.TrimSpace(id.Issuer) == "" || strings.TrimSpace(id.Subject) == "" {
		return OIDCResolution{}, fmt.Errorf("oidc identity requires issuer and subject")
	}
	log := s.log.WithField("provider", id.Provider)

	existingUID, err := store.ProviderLink(ctx, id.Issuer, id.Subject)
	if err != nil && !errors.Is(err, ErrUserNotFound) {
		return OIDCResolution{}, err
	}

	if linkUserID != "" {
		if existingUID != "" && existingUID != linkUserID {
			return OIDCResolution{}, ErrProviderLinked
		}
		if existingUID == "" {
			if err := s.linkIdentity(ctx, linkUserID, id); err != nil {
				return OIDCResolution{}, err
			}
		}
		return OIDCResolution{UserID: linkUserID, Linked: existingUID == "", Decision: SignupAllow}, nil
	}

	if existingUID != "" {
		return OIDCResolution{UserID: existingUID, Decision: SignupAllow}, nil
	}

	if email := derefString(id.Email); email != "" && emailTrusted(id.EmailVerified) {
		u, err := store.UserByEmail(ctx, normalizeEmail(email))
		switch {
		case err == nil:
			if err := s.linkIdentity(ctx, u.ID, id); err != nil {
				return OIDCResolution{}, err
			}
			if !u.EmailVerified {
				if err := store.SetEmailVerified(ctx, u.ID, true); err != nil {
					log.WithError(err).Warn("set_email_verified_failed")
				}
			}
			return OIDCResolution{UserID: u.ID, Linked: true, Decision: SignupAllow}, nil
		case !errors.Is(err, ErrUserNotFound):
			return OIDCResolution{}, err
		}
	}

	decision := DecideSignup(intent, true)
	s.metrics.observeDecision(intent, decision)
	if decision == SignupDeny {
		log.WithField("intent", intent.String()).Info("oidc_signup_denied")
		s.logEvent(ctx, AuthEvent{Type: EventSignupDenied, Provider: id.Provider, Method: "oidc:" + id.Provider, Reason: "login_intent"})
		return OIDCResolution{Decision: SignupDeny}, ErrSignupClosed
	}

	u, err := s.createOIDCUser(ctx, id)
	if err != nil {
		return OIDCResolution{}, err
	}
	if err := s.linkIdentity(ctx, u.ID, id); err != nil {
		return OIDCResolution{}, err
	}
	log.WithFields(logrus.Fields{"intent": intent.String(), "user_id": u.ID}).Info("oidc_user_created")
	s.logEvent(ctx, AuthEvent{Type: EventUserRegistered, UserID: u.ID, Method: "oidc:" + id.Provider, Provider: id.Provider})
	return OIDCResolution{UserID: u.ID, Created: true, Decision: SignupAllow}, nil
}

func (s *Service) createOIDCUser(ctx context.Context, id OIDCIdentity) (*User, error) {
	store, err := s.store()
	if err != nil {
		return nil, err
	}
	email := derefString(id.Email)
	verified := id.EmailVerified != nil && *id.EmailVerified
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		username, err := s.DeriveUsernameForOAuth(ctx, id.Provider, derefString(id.PreferredUsername), email, derefString(id.Name))
		if err != nil {
			return nil, err
		}
		u, err := store.CreateUser(ctx, NewUser{Email: email, Username: username, EmailVerified: verified && email != ""})
		if err == nil {
			return u, nil
		}
		if errors.Is(err, ErrEmailTaken) && !verified && email != "" {
			// An unverified address cannot claim one already on file.
			email = ""
			continue
		}
		if !errors.Is(err, ErrUsernameTaken) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}

func (s *Service) linkIdentity(ctx context.Context, userID string, id OIDCIdentity) error {
	store, err := s.store()
	if err != nil {
		return err
	}
	var email *string
	if e := derefString(id.Email); e != "" {
		n := normalizeEmail(e)
		email = &n
	}
	if err := store.LinkProvider(ctx, ProviderLink{UserID: userID, Issuer: id.Issuer, Provider: id.Provider, Subject: id.Subject, Email: email}); err != nil {
		return err
	}
	s.logEvent(ctx, AuthEvent{Type: EventProviderLinked, UserID: userID, Provider: id.Provider})
	return nil
}

// emailTrusted allows account matching by email only when the provider asserts
// email_verified. A missing claim counts as unverified.
func emailTrusted(verified *bool) bool {
	return verified != nil && *verified
}

func derefString(p *string) string {
	if p == nil {
		return ""
	}
	return strings.TrimSpace(*p)
}
