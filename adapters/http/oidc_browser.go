package authhttp

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"

	core "github.com/open-rails/profilekit/core"
	oidckit "github.com/open-rails/profilekit/oidc"
)

func (s *Service) handleOIDCLoginGET(w http.ResponseWriter, r *http.Request) {
	if !s.allow(r, RLOIDCStart) {
		tooMany(w)
		return
	}

	provider := strings.ToLower(r.PathValue("provider"))
	s.syncProvider(r.Context(), provider)
	if _, ok := s.oidc.IssuerFor(provider); !ok {
		notFound(w, "unknown_provider")
		return
	}

	linkUserID := ""
	if q := r.URL.Query().Get("link"); q == "1" || strings.EqualFold(q, "true") {
		cl, code := authenticate(r, s.svc)
		if code == "missing_token" {
			unauthorized(w, "auth_required_for_link")
			return
		}
		if code != "" {
			unauthorized(w, code)
			return
		}
		linkUserID = cl.UserID
	}

	state := randB64(32)
	nonce := randB64(16)
	verifier, challenge, err := oidckit.GeneratePKCE()
	if err != nil {
		serverErr(w, "pkce_generation_failed")
		return
	}
	redirectURI := callbackURL(r, provider)
	authURL, err := s.oidc.Begin(r.Context(), provider, state, nonce, challenge, redirectURI)
	if err != nil {
		s.log.WithError(err).WithField("provider", provider).Warn("oidc_begin_failed")
		badRequest(w, "oidc_begin_failed")
		return
	}

	intent := intentFromRequest(r)
	if err := s.states.Put(r.Context(), state, oidckit.StateData{
		Provider:    provider,
		Verifier:    verifier,
		Nonce:       nonce,
		RedirectURI: redirectURI,
		LinkUserID:  linkUserID,
		Intent:      string(intent),
		ReturnJSON:  strings.EqualFold(r.URL.Query().Get("format"), "json"),
	}); err != nil {
		s.log.WithError(err).Warn("oidc_state_store_failed")
		serverErr(w, "state_store_failed")
		return
	}
	// The intent now lives in the state record; a stale cookie must not steer a later flow.
	if _, err := r.Cookie(IntentCookieName); err == nil {
		s.clearCookie(w, IntentCookieName)
	}

	http.Redirect(w, r, authURL, http.StatusFound)
}

func (s *Service) handleOIDCCallbackGET(w http.ResponseWriter, r *http.Request) {
	if !s.allow(r, RLOIDCCallback) {
		tooMany(w)
		return
	}

	q := r.URL.Query()
	if qErr := q.Get("error"); qErr != "" {
		badRequest(w, qErr)
		return
	}

	provider := strings.ToLower(r.PathValue("provider"))
	state := q.Get("state")
	code := q.Get("code")
	if state == "" || code == "" {
		badRequest(w, "invalid_request")
		return
	}

	sd, ok, err := s.states.Get(r.Context(), state)
	_ = s.states.Del(r.Context(), state)
	if err != nil || !ok || sd.Provider != provider {
		badRequest(w, "invalid_state")
		return
	}
	s.syncProvider(r.Context(), provider)
	issuer, ok := s.oidc.IssuerFor(provider)
	if !ok {
		badRequest(w, "unknown_provider")
		return
	}

	log := s.log.WithField("provider", provider)
	claims, err := s.oidc.Exchange(r.Context(), provider, sd.RedirectURI, code, sd.Verifier, sd.Nonce)
	if err != nil {
		log.WithError(err).Warn("oidc_exchange_failed")
		unauthorized(w, "oidc_exchange_failed")
		return
	}

	id := core.OIDCIdentity{
		Provider:          provider,
		Issuer:            issuer,
		Subject:           claims.Subject,
		Email:             claims.Email,
		EmailVerified:     claims.EmailVerified,
		Name:              claims.Name,
		PreferredUsername: claims.PreferredUsername,
	}
	asJSON := sd.ReturnJSON || strings.Contains(r.Header.Get("Accept"), "application/json")
	res, err := s.svc.ResolveOIDCUser(r.Context(), id, core.ParseIntent(sd.Intent), sd.LinkUserID)
	switch {
	case errors.Is(err, core.ErrSignupClosed):
		s.oidcFail(w, r, asJSON, http.StatusUnauthorized, "account_not_found")
		return
	case errors.Is(err, core.ErrProviderLinked):
		s.oidcFail(w, r, asJSON, http.StatusConflict, "provider_already_linked")
		return
	case err != nil:
		log.WithError(err).WithField("intent", core.ParseIntent(sd.Intent).String()).Error("oidc_resolve_failed")
		serverErr(w, "user_resolution_failed")
		return
	}

	login, err := s.svc.StartSession(r.Context(), res.UserID, "oidc:"+provider)
	if err != nil {
		log.WithError(err).WithField("user_id", res.UserID).Error("session_issue_failed")
		serverErr(w, "session_issue_failed")
		return
	}
	login.Created = res.Created
	s.setSessionCookie(w, login)
	log.WithFields(logrus.Fields{"user_id": res.UserID, "created": res.Created, "linked": res.Linked}).Info("oidc_login")

	if asJSON {
		writeJSON(w, http.StatusOK, tokenResponse(login, map[string]any{"provider": provider, "linked": res.Linked}))
		return
	}
	http.Redirect(w, r, s.uiURL("/"), http.StatusFound)
}

// oidcFail answers JSON callers with an error body and sends browsers back to the UI login page.
func (s *Service) oidcFail(w http.ResponseWriter, r *http.Request, asJSON bool, status int, code string) {
	if asJSON {
		sendErr(w, status, code)
		return
	}
	http.Redirect(w, r, s.uiURL("/login")+"?error="+url.QueryEscape(code), http.StatusFound)
}

func (s *Service) uiURL(path string) string {
	base := strings.TrimRight(s.svc.Options().BaseURL, "/")
	if base == "" && path == "/" {
		return "/"
	}
	return base + path
}
