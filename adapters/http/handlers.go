package authhttp

import (
	"net/http"

	core "github.com/open-rails/profilekit/core"
)

// APIHandler returns a handler that serves the JSON API routes under /auth/*.
// It is intended to be mounted under the host's mux/router at any prefix.
func (s *Service) APIHandler() http.Handler {
	if s == nil || s.svc == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { serverErr(w, "profilekit_not_initialized") })
	}
	if !core.IsDevEnvironment() {
		if s.svc.EphemeralMode() != core.EphemeralRedis {
			panic("profilekit: redis-compatible ephemeral store is required in production")
		}
	}

	mux := http.NewServeMux()

	// Registration + login
	mux.Handle("POST /auth/register", http.HandlerFunc(s.handleRegisterPOST))
	mux.Handle("POST /auth/password/login", http.HandlerFunc(s.handlePasswordLoginPOST))

	required := Required(s.svc)
	mux.Handle("DELETE /auth/logout", required(http.HandlerFunc(s.handleLogoutDELETE)))
	mux.Handle("GET /auth/user/me", required(http.HandlerFunc(s.handleUserMeGET)))
	mux.Handle("PATCH /auth/user/biography", required(http.HandlerFunc(s.handleUserBiographyPATCH)))

	admin := func(h http.Handler) http.Handler { return required(RequireAdmin()(h)) }
	if s.reconciler != nil {
		mux.Handle("POST /auth/admin/reconcile", admin(http.HandlerFunc(s.handleAdminReconcilePOST)))
	}
	if s.creds != nil {
		mux.Handle("PUT /auth/admin/providers/{provider}/credentials", admin(http.HandlerFunc(s.handleAdminProviderCredentialsPUT)))
	}

	return mux
}
