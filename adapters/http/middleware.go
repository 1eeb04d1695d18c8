package authhttp

import (
	"errors"
	"net/http"

	jwt "github.com/golang-jwt/jwt/v5"

	core "github.com/open-rails/profilekit/core"
)

// Required authenticates the request from a Bearer access token or, failing that,
// the session cookie, and stores claims in the request context. A token whose
// session was revoked is rejected even before it expires.
func Required(svc *core.Service) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cl, code := authenticate(r, svc)
			if code != "" {
				unauthorized(w, code)
				return
			}
			next.ServeHTTP(w, r.WithContext(setClaims(r.Context(), cl)))
		})
	}
}

// Optional validates when a token or session cookie is present; otherwise passes through.
func Optional(svc *core.Service) func(http.Handler) http.Handler {
	req := Required(svc)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if bearerToken(r.Header.Get("Authorization")) == "" && sessionCookie(r) == "" {
				next.ServeHTTP(w, r)
				return
			}
			req(next).ServeHTTP(w, r)
		})
	}
}

// RequireAdmin must run after Required.
func RequireAdmin() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cl, err := getClaims(r.Context())
			if err != nil || !cl.IsAdmin() {
				forbidden(w, "forbidden")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// authenticate returns the caller's claims or a non-empty error code.
func authenticate(r *http.Request, svc *core.Service) (Claims, string) {
	if tokenStr := bearerToken(r.Header.Get("Authorization")); tokenStr != "" {
		ac, err := svc.ParseAccessToken(tokenStr)
		switch {
		case errors.Is(err, jwt.ErrTokenExpired):
			return Claims{}, "token_expired"
		case errors.Is(err, jwt.ErrTokenInvalidIssuer):
			return Claims{}, "bad_issuer"
		case errors.Is(err, jwt.ErrTokenInvalidAudience):
			return Claims{}, "bad_audience"
		case err != nil:
			return Claims{}, "invalid_token"
		}
		uid, err := svc.SessionUser(r.Context(), ac.SessionID)
		if err != nil || uid != ac.Subject {
			return Claims{}, "session_revoked"
		}
		return Claims{
			UserID:    ac.Subject,
			Email:     ac.Email,
			Username:  ac.Username,
			SessionID: ac.SessionID,
			Roles:     ac.Roles,
		}, ""
	}

	sid := sessionCookie(r)
	if sid == "" {
		return Claims{}, "missing_token"
	}
	uid, err := svc.SessionUser(r.Context(), sid)
	if err != nil {
		return Claims{}, "invalid_session"
	}
	cl := Claims{UserID: uid, SessionID: sid}
	if rs, err := svc.Roles(r.Context(), uid); err == nil {
		cl.Roles = rs
	}
	return cl, ""
}
