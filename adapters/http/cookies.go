package authhttp

import (
	"net/http"
	"time"

	core "github.com/open-rails/profilekit/core"
)

const (
	// SessionCookieName carries the opaque server-side session id.
	SessionCookieName = "profilekit_session"
	// IntentCookieName is read as a fallback when /login is called without ?intent=.
	IntentCookieName = "auth_action"
)

func sessionCookie(r *http.Request) string {
	c, err := r.Cookie(SessionCookieName)
	if err != nil {
		return ""
	}
	return c.Value
}

func (s *Service) setSessionCookie(w http.ResponseWriter, login *core.Login) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    login.SessionID,
		Path:     "/",
		Expires:  time.Now().Add(s.svc.Options().SessionDuration),
		MaxAge:   int(s.svc.Options().SessionDuration.Seconds()),
		HttpOnly: true,
		Secure:   s.secureCookies(),
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Service) clearCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.secureCookies(),
		SameSite: http.SameSiteLaxMode,
	})
}

// intentFromRequest reads ?intent= and falls back to the auth_action cookie.
func intentFromRequest(r *http.Request) core.AuthIntent {
	if v := r.URL.Query().Get("intent"); v != "" {
		return core.ParseIntent(v)
	}
	if c, err := r.Cookie(IntentCookieName); err == nil {
		return core.ParseIntent(c.Value)
	}
	return core.IntentUnset
}
