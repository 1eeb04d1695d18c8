package authhttp

import "net/http"

// OIDCHandler returns a handler that serves browser redirect flows:
// - GET /auth/oidc/{provider}/login[?intent=login|register][&link=1][&format=json]
// - GET /auth/oidc/{provider}/callback
func (s *Service) OIDCHandler() http.Handler {
	if s == nil || s.svc == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { serverErr(w, "profilekit_not_initialized") })
	}

	mux := http.NewServeMux()
	mux.Handle("GET /auth/oidc/{provider}/login", http.HandlerFunc(s.handleOIDCLoginGET))
	mux.Handle("GET /auth/oidc/{provider}/callback", http.HandlerFunc(s.handleOIDCCallbackGET))
	return mux
}
