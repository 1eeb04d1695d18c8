package authhttp

import (
	"net/http"
	"strings"
	"time"

	core "github.com/open-rails/profilekit/core"
)

// callbackURL is the redirect URI registered with the provider: the login URL of
// the current request with its last segment replaced by "callback". It honors
// X-Forwarded-Proto and X-Forwarded-Host so the handler can sit behind a proxy.
func callbackURL(r *http.Request, provider string) string {
	if r == nil {
		return ""
	}
	scheme := r.Header.Get("X-Forwarded-Proto")
	if scheme == "" {
		scheme = "http"
		if r.TLS != nil {
			scheme = "https"
		}
	}
	host := r.Header.Get("X-Forwarded-Host")
	if host == "" {
		host = r.Host
	}

	path := "/auth/oidc/" + provider + "/callback"
	if prefix, _, ok := strings.Cut(r.URL.Path, "/auth/oidc/"); ok {
		path = prefix + path
	}
	return scheme + "://" + host + path
}

// tokenResponse is the JSON body returned after a successful sign-in.
func tokenResponse(login *core.Login, extra map[string]any) map[string]any {
	out := map[string]any{
		"access_token": login.AccessToken,
		"token_type":   "Bearer",
		"expires_in":   int64(time.Until(login.ExpiresAt).Seconds()),
		"user":         map[string]any{"id": login.UserID, "created": login.Created},
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}
